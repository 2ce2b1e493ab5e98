// Package gateway exposes the downstream surfaces for interactive clients:
// a small REST API for diagnostics and invocation, and the WebSocket
// endpoint that feeds the client bridge.
package gateway

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/fasthttp/router"
	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/genomebridge/genome-bridge/internal/bridge"
	"github.com/genomebridge/genome-bridge/internal/config"
	"github.com/genomebridge/genome-bridge/internal/dispatch"
	"github.com/genomebridge/genome-bridge/internal/errkind"
	"github.com/genomebridge/genome-bridge/internal/tool"
)

// Server runs the HTTP and WebSocket listeners. Both are optional surfaces;
// MCP over stdio works without either.
type Server struct {
	opts   *config.Options
	disp   *dispatch.Dispatcher
	bridge *bridge.Bridge

	httpSrv *fasthttp.Server
	wsSrv   *fasthttp.Server
}

func New(opts *config.Options, disp *dispatch.Dispatcher, b *bridge.Bridge) *Server {
	s := &Server{opts: opts, disp: disp, bridge: b}

	r := router.New()
	r.GET("/health", s.handleHealth)
	r.GET("/tools", s.handleTools)
	r.POST("/invoke", s.handleInvoke)
	s.httpSrv = &fasthttp.Server{
		Handler: r.Handler,
		Name:    "genome-bridge",
	}

	s.wsSrv = &fasthttp.Server{
		Handler: s.handleWS,
		Name:    "genome-bridge-ws",
	}
	return s
}

// Start brings up both listeners. Errors after a successful bind are sent on
// the returned channel.
func (s *Server) Start() <-chan error {
	errs := make(chan error, 2)
	go func() {
		addr := fmt.Sprintf(":%d", s.opts.HTTPPort)
		log.Info().Str("addr", addr).Msg("http listener up")
		if err := s.httpSrv.ListenAndServe(addr); err != nil {
			errs <- fmt.Errorf("gateway: http listener: %w", err)
		}
	}()
	go func() {
		addr := fmt.Sprintf(":%d", s.opts.WSPort)
		log.Info().Str("addr", addr).Msg("websocket listener up")
		if err := s.wsSrv.ListenAndServe(addr); err != nil {
			errs <- fmt.Errorf("gateway: ws listener: %w", err)
		}
	}()
	return errs
}

func (s *Server) Shutdown(ctx context.Context) {
	if err := s.httpSrv.ShutdownWithContext(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := s.wsSrv.ShutdownWithContext(ctx); err != nil {
		log.Warn().Err(err).Msg("ws shutdown")
	}
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"status":  "healthy",
		"clients": len(s.bridge.ClientIDs()),
	})
}

// handleTools returns the catalogue in MCP shape. With ?intent= the dynamic
// selector ranks and trims the list instead.
func (s *Server) handleTools(ctx *fasthttp.RequestCtx) {
	var descs []*tool.Descriptor
	if intent := string(ctx.QueryArgs().Peek("intent")); intent != "" {
		limit := ctx.QueryArgs().GetUintOrZero("limit")
		descs = s.disp.Suggester().Select(intent, nil, limit)
	} else {
		descs = s.disp.Registry().List(tool.Filter{
			Substring: string(ctx.QueryArgs().Peek("q")),
		})
	}

	tools := make([]map[string]any, 0, len(descs))
	for _, d := range descs {
		tools = append(tools, map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"inputSchema": d.SchemaJSON(),
		})
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"tools": tools})
}

type invokeRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	ClientID  string         `json:"clientId"`
}

// handleInvoke mirrors tools/call over plain HTTP.
func (s *Server) handleInvoke(ctx *fasthttp.RequestCtx) {
	var req invokeRequest
	if err := sonic.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, dispatch.Envelope(nil,
			errkind.E(errkind.InvalidArguments, "invalid request body")))
		return
	}
	if req.Name == "" {
		writeJSON(ctx, fasthttp.StatusBadRequest, dispatch.Envelope(nil,
			errkind.E(errkind.InvalidArguments, "name is required")))
		return
	}
	args := req.Arguments
	if req.ClientID != "" {
		if args == nil {
			args = map[string]any{}
		}
		args["clientId"] = req.ClientID
	}

	// RequestCtx.Done is only usable while fasthttp is actively serving the
	// request, so dispatch gets its own context; per-route deadlines are
	// applied inside the dispatcher.
	result, err := s.disp.Dispatch(context.Background(), req.Name, args)
	status := fasthttp.StatusOK
	if err != nil {
		status = httpStatusFor(errkind.KindOf(err))
		log.Debug().Err(err).Str("tool", req.Name).Msg("invoke failed")
	}
	writeJSON(ctx, status, dispatch.Envelope(result, err))
}

func (s *Server) handleWS(ctx *fasthttp.RequestCtx) {
	upgrader := websocket.FastHTTPUpgrader{
		CheckOrigin: func(*fasthttp.RequestCtx) bool { return true },
	}
	err := upgrader.Upgrade(ctx, func(ws *websocket.Conn) {
		s.bridge.HandleConn(ws)
	})
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
	}
}

func httpStatusFor(kind errkind.Kind) int {
	switch kind {
	case errkind.ToolNotFound:
		return fasthttp.StatusNotFound
	case errkind.InvalidArguments, errkind.EmptyClipboard, errkind.UndoNotSupported:
		return fasthttp.StatusBadRequest
	case errkind.NoClientAvailable, errkind.ClientDisconnected:
		return fasthttp.StatusServiceUnavailable
	case errkind.QueueFull:
		return fasthttp.StatusTooManyRequests
	case errkind.TimedOut, errkind.ClientTimeout:
		return fasthttp.StatusGatewayTimeout
	default:
		return fasthttp.StatusBadGateway
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetBody(data)
}
