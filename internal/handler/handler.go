// Package handler implements the server-side tool handlers. Handlers are
// plain functions keyed by tool name in a dispatch table; they receive an
// explicit Ctx with the shared HTTP client, configuration, and the
// collaborating subsystems, never a back-reference to a server object.
package handler

import (
	"context"
	"time"

	"github.com/genomebridge/genome-bridge/internal/config"
	"github.com/genomebridge/genome-bridge/internal/errkind"
	"github.com/genomebridge/genome-bridge/internal/tool"
)

// ProgressFunc reports advisory progress for long-running handlers. pct is
// 0..100. It is also a cooperative cancellation observation point: handlers
// should check ctx after calling it.
type ProgressFunc func(pct int, message string)

// ClientBridge is the slice of the client bridge that handlers need: target
// resolution, forwarded calls, and per-client ledger access.
type ClientBridge interface {
	// ResolveTarget picks a client per the selection policy: explicit id if
	// given, else the only connected client, else NoClientAvailable.
	ResolveTarget(explicit string) (string, error)
	// Invoke forwards a tool call to a client and awaits the correlated reply.
	Invoke(ctx context.Context, clientID, toolName string, args map[string]any, timeout time.Duration) (map[string]any, error)
	ClientIDs() []string
	Capabilities(clientID string) []string
	LastState(clientID string) map[string]any
	Ledger(clientID string) Ledger
}

// Ledger is the per-client clipboard and staged-action surface used by the
// action handlers. Implemented by the bridge.
type Ledger interface {
	Copy(chromosome string, start, end int64, strand, sequence string) map[string]any
	Cut(chromosome string, start, end int64, strand, sequence string) (map[string]any, error)
	Paste(chromosome string, position int64) (map[string]any, error)
	Stage(kind, chromosome string, start, end, position int64, sequence, original string) (map[string]any, error)
	Clipboard() (map[string]any, bool)
	List(status string) []map[string]any
	PendingBatch() []map[string]any
	Commit(results map[string]bool) []map[string]any
	Clear(status string) int
	Undo() (map[string]any, error)
}

// TaskInspector is the slice of the task manager used by coordination
// handlers.
type TaskInspector interface {
	Status(taskID string) (map[string]any, bool)
	Cancel(taskID string) bool
	Counts() (queued, running, terminal int)
}

// Suggester ranks tools against an intent. Implemented by the selector.
type Suggester interface {
	Select(intent string, state map[string]any, limit int) []*tool.Descriptor
}

// Ctx carries everything a handler may need. Long-running handlers get a
// non-nil Progress; short handlers may ignore it.
type Ctx struct {
	Opts     *config.Options
	HTTP     *Client
	Bridge   ClientBridge
	Tasks    TaskInspector
	Suggest  Suggester
	Registry *tool.Registry
	Progress ProgressFunc
	// ClientID is the resolved origin client for the call, when one exists.
	ClientID string
	Started  time.Time
}

// ReportProgress is a nil-safe progress helper.
func (h *Ctx) ReportProgress(pct int, message string) {
	if h.Progress != nil {
		h.Progress(pct, message)
	}
}

// Func is a server-side tool handler. It returns the success payload; the
// dispatcher wraps it into the {success:true, ...} envelope. Failures are
// classified errors, never panics.
type Func func(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error)

// Table returns the full name→handler dispatch table. Every server-side
// descriptor in the catalogue has exactly one entry here; Verify checks that
// at startup.
func Table() map[string]Func {
	t := make(map[string]Func, 64)
	registerSequence(t)
	registerUniProt(t)
	registerInterPro(t)
	registerStructure(t)
	registerNCBI(t)
	registerKEGG(t)
	registerEVO2(t)
	registerExternal(t)
	registerActions(t)
	registerCoordination(t)
	return t
}

// Verify checks that every server-side descriptor has a handler and that no
// handler is registered for an unknown or client-side tool. Called at
// startup; a mismatch is a fatal configuration error.
func Verify(reg *tool.Registry, table map[string]Func) error {
	for _, d := range reg.List(tool.Filter{}) {
		_, ok := table[d.Name]
		if d.Side == tool.SideServer && !ok {
			return errkind.E(errkind.Internal, "server-side tool %q has no handler", d.Name)
		}
		if d.Side == tool.SideClient && ok {
			return errkind.E(errkind.Internal, "client-side tool %q must not have a server handler", d.Name)
		}
	}
	for name := range table {
		if _, ok := reg.Get(name); !ok {
			return errkind.E(errkind.Internal, "handler registered for unknown tool %q", name)
		}
	}
	return nil
}

// Argument extraction helpers. Arguments have passed schema validation, so
// these are lenient about representation (float64 from JSON, int from Go
// callers) but strict about presence when the caller says required.

func strArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func numArg(args map[string]any, key string, fallback float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

func intArg(args map[string]any, key string, fallback int) int {
	return int(numArg(args, key, float64(fallback)))
}

func boolArg(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

func arrArg(args map[string]any, key string) []any {
	if v, ok := args[key].([]any); ok {
		return v
	}
	return nil
}

func strsArg(args map[string]any, key string) []string {
	var out []string
	for _, v := range arrArg(args, key) {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
