package mcpserver

import (
	"context"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/genomebridge/genome-bridge/internal/bridge"
	"github.com/genomebridge/genome-bridge/internal/config"
	"github.com/genomebridge/genome-bridge/internal/dispatch"
	"github.com/genomebridge/genome-bridge/internal/handler"
	"github.com/genomebridge/genome-bridge/internal/selector"
	"github.com/genomebridge/genome-bridge/internal/task"
	"github.com/genomebridge/genome-bridge/internal/tool"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	opts := &config.Options{
		MaxConcurrentTasks: 3,
		MaxRetries:         2,
		DefaultTaskTimeout: 10 * time.Second,
		QueueSoftLimit:     256,
		ClientCallTimeout:  2 * time.Second,
		LocalCallTimeout:   2 * time.Second,
	}
	reg, err := tool.Load()
	if err != nil {
		t.Fatal(err)
	}
	disp := dispatch.New(opts, reg, handler.Table(), handler.NewClient(5*time.Second),
		bridge.New(), task.New(opts), selector.New(reg))
	return New(disp)
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := s.makeHandler(name)(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned transport error: %v", err)
	}
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty result content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	var decoded map[string]any
	if err := sonic.Unmarshal([]byte(tc.Text), &decoded); err != nil {
		t.Fatalf("result text is not JSON: %v (%s)", err, tc.Text)
	}
	return decoded
}

func TestCallToolSuccess(t *testing.T) {
	s := newTestServer(t)
	res := callTool(t, s, "compute_gc", map[string]any{"sequence": "ATCGATCG"})
	if res.IsError {
		t.Fatalf("unexpected tool error: %#v", res)
	}
	body := resultText(t, res)
	if body["success"] != true || body["gcContent"] != 50.0 {
		t.Errorf("body = %#v", body)
	}
}

func TestCallToolValidationFailure(t *testing.T) {
	s := newTestServer(t)
	res := callTool(t, s, "compute_gc", map[string]any{})
	if !res.IsError {
		t.Fatal("validation failure not reported as tool error")
	}
	body := resultText(t, res)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	errObj := body["error"].(map[string]any)
	if errObj["kind"] != "InvalidArguments" {
		t.Errorf("kind = %v, want InvalidArguments", errObj["kind"])
	}
}

func TestCallClientToolWithoutClient(t *testing.T) {
	s := newTestServer(t)
	res := callTool(t, s, "navigate_to_position",
		map[string]any{"chromosome": "chr1", "start": 1.0, "end": 100.0})
	if !res.IsError {
		t.Fatal("expected tool error with no connected client")
	}
	body := resultText(t, res)
	errObj := body["error"].(map[string]any)
	if errObj["kind"] != "NoClientAvailable" {
		t.Errorf("kind = %v, want NoClientAvailable", errObj["kind"])
	}
}

func TestLongRunningToolReturnsTerminalResult(t *testing.T) {
	s := newTestServer(t)
	res := callTool(t, s, "evo2_score_sequence", map[string]any{"sequence": "ATCGATCGATCG"})
	if res.IsError {
		t.Fatalf("unexpected tool error: %#v", res)
	}
	body := resultText(t, res)
	if body["simulated"] != true {
		t.Errorf("simulated = %v, want true (no endpoint in tests)", body["simulated"])
	}
	if _, ok := body["task_id"].(string); !ok {
		t.Errorf("missing task_id in %#v", body)
	}
}
