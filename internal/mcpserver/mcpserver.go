// Package mcpserver exposes the tool catalogue over MCP stdio. stdout
// carries JSON-RPC frames only; all logging goes to stderr.
package mcpserver

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/genomebridge/genome-bridge/internal/dispatch"
	"github.com/genomebridge/genome-bridge/internal/errkind"
	"github.com/genomebridge/genome-bridge/internal/tool"
)

const serverVersion = "0.1.0"

// Server wraps the MCP stdio server around the dispatcher.
type Server struct {
	mcp  *server.MCPServer
	disp *dispatch.Dispatcher
}

// New registers every catalogue descriptor as an MCP tool. The input schema
// goes out verbatim from the descriptor, so MCP hosts and the HTTP surface
// see identical schemas.
func New(disp *dispatch.Dispatcher) *Server {
	s := &Server{
		mcp: server.NewMCPServer("genome-bridge", serverVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		disp: disp,
	}
	for _, d := range disp.Registry().List(tool.Filter{}) {
		t := mcp.NewToolWithRawSchema(d.Name, d.Description, d.SchemaJSON())
		s.mcp.AddTool(t, s.makeHandler(d.Name))
	}
	return s
}

// makeHandler adapts one tool to the MCP call shape. Success is the handler
// payload JSON-serialized into a single text content block; failures are
// reported as tool errors carrying the kind name so hosts can key retry
// behaviour off it.
func (s *Server) makeHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := s.disp.Dispatch(ctx, name, req.GetArguments())
		if err != nil {
			be := errkind.AsError(err)
			log.Debug().Err(err).Str("tool", name).Msg("tools/call failed")
			data, merr := sonic.Marshal(dispatch.Envelope(nil, err))
			if merr != nil {
				return mcp.NewToolResultError(be.Error()), nil
			}
			return mcp.NewToolResultError(string(data)), nil
		}

		data, err := sonic.Marshal(dispatch.Envelope(result, nil))
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, err, "serialize tool result")
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

// NotifyTaskEvent forwards task lifecycle events to connected MCP hosts as
// progress notifications. Wired as (part of) the task manager's event sink.
func (s *Server) NotifyTaskEvent(event string, payload map[string]any) {
	params := map[string]any{"event": event}
	for k, v := range payload {
		params[k] = v
	}
	s.mcp.SendNotificationToAllClients("notifications/progress", params)
}

// Serve blocks reading JSON-RPC frames from stdin until EOF or a fatal
// transport error.
func (s *Server) Serve() error {
	log.Info().Int("tools", s.disp.Registry().Len()).Msg("mcp stdio server ready")
	return server.ServeStdio(s.mcp)
}
