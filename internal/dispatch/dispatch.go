// Package dispatch routes validated tool calls to server-side handlers,
// the task manager, or a connected client, and shapes the reply envelope.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/genomebridge/genome-bridge/internal/config"
	"github.com/genomebridge/genome-bridge/internal/errkind"
	"github.com/genomebridge/genome-bridge/internal/handler"
	"github.com/genomebridge/genome-bridge/internal/task"
	"github.com/genomebridge/genome-bridge/internal/tool"
)

// vizTools are server-side tools whose successful result is worth showing in
// the browser. After one of these succeeds the dispatcher fires a best-effort
// open_visualization side-call at the origin client.
var vizTools = map[string]bool{
	"analyze_interpro_domains": true,
	"get_protein_structure":    true,
	"get_alphafold_structure":  true,
}

// Dispatcher owns the call pipeline: registry lookup, schema validation,
// routing, response shaping. One instance per process, created at startup.
type Dispatcher struct {
	opts    *config.Options
	reg     *tool.Registry
	table   map[string]handler.Func
	http    *handler.Client
	bridge  handler.ClientBridge
	tasks   *task.Manager
	suggest handler.Suggester
	tracer  trace.Tracer
	started time.Time
}

func New(opts *config.Options, reg *tool.Registry, table map[string]handler.Func,
	httpClient *handler.Client, bridge handler.ClientBridge, tasks *task.Manager,
	suggest handler.Suggester) *Dispatcher {
	return &Dispatcher{
		opts:    opts,
		reg:     reg,
		table:   table,
		http:    httpClient,
		bridge:  bridge,
		tasks:   tasks,
		suggest: suggest,
		tracer:  otel.Tracer("genome-bridge/dispatch"),
		started: time.Now(),
	}
}

func (d *Dispatcher) Registry() *tool.Registry { return d.reg }

func (d *Dispatcher) Suggester() handler.Suggester { return d.suggest }

// Dispatch runs one tool call to its terminal result. Long-running tools go
// through the task manager and the reply is deferred until the task reaches
// a terminal state. The returned map is the success payload without the
// envelope; use Envelope to shape it for transports.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	ctx, span := d.tracer.Start(ctx, "tools/call",
		trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	result, err := d.dispatch(ctx, name, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errkind.KindOf(err).String())
	}
	return result, err
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	desc, ok := d.reg.Get(name)
	if !ok {
		return nil, errkind.E(errkind.ToolNotFound, "no tool named %q", name)
	}
	args, err := desc.ValidateArgs(args)
	if err != nil {
		return nil, err
	}

	if desc.Side == tool.SideClient {
		return d.dispatchClient(ctx, desc, args)
	}
	if desc.LongRunning {
		return d.dispatchTask(ctx, desc, args)
	}
	return d.dispatchLocal(ctx, desc, args)
}

// dispatchClient forwards the call to an interactive client.
func (d *Dispatcher) dispatchClient(ctx context.Context, desc *tool.Descriptor, args map[string]any) (map[string]any, error) {
	explicit, _ := args["clientId"].(string)
	clientID, err := d.bridge.ResolveTarget(explicit)
	if err != nil {
		return nil, err
	}
	return d.bridge.Invoke(ctx, clientID, desc.Name, args, d.opts.ClientCallTimeout)
}

// dispatchLocal runs a short server-side handler under a deadline: the tight
// local budget for pure computations, the client-call budget otherwise.
func (d *Dispatcher) dispatchLocal(ctx context.Context, desc *tool.Descriptor, args map[string]any) (map[string]any, error) {
	timeout := d.opts.ClientCallTimeout
	if desc.Category == tool.CategorySequence {
		timeout = d.opts.LocalCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fn, ok := d.table[desc.Name]
	if !ok {
		return nil, errkind.E(errkind.Internal, "no handler for server tool %q", desc.Name)
	}
	result, err := fn(ctx, d.handlerCtx(nil), args)
	if err != nil {
		return nil, err
	}
	d.sideCall(desc.Name, args, result)
	return result, nil
}

// dispatchTask enqueues the call and waits for the terminal state, so the
// caller's reply carries the final result even for deferred work.
func (d *Dispatcher) dispatchTask(ctx context.Context, desc *tool.Descriptor, args map[string]any) (map[string]any, error) {
	fn, ok := d.table[desc.Name]
	if !ok {
		return nil, errkind.E(errkind.Internal, "no handler for server tool %q", desc.Name)
	}
	t, err := d.tasks.Submit(desc.Name, args, desc.Priority, desc.Cacheable,
		func(taskCtx context.Context, progress func(int, string)) (map[string]any, error) {
			return fn(taskCtx, d.handlerCtx(progress), args)
		})
	if err != nil {
		return nil, err
	}

	select {
	case <-t.Done():
	case <-ctx.Done():
		// The caller went away; the task keeps running for its own deadline
		// and stays inspectable through get_task_status.
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errkind.E(errkind.TimedOut, "caller deadline elapsed, task %s still tracked", t.ID)
		}
		return nil, errkind.E(errkind.Cancelled, "caller cancelled, task %s still tracked", t.ID)
	}
	result, err := t.Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(result)+1)
	for k, v := range result {
		out[k] = v
	}
	out["task_id"] = t.ID
	d.sideCall(desc.Name, args, result)
	return out, nil
}

// Submit enqueues a long-running tool without waiting. Used by transports
// that acknowledge with a task id and stream the result later.
func (d *Dispatcher) Submit(name string, args map[string]any) (*task.Task, error) {
	desc, ok := d.reg.Get(name)
	if !ok {
		return nil, errkind.E(errkind.ToolNotFound, "no tool named %q", name)
	}
	if desc.Side != tool.SideServer || !desc.LongRunning {
		return nil, errkind.E(errkind.InvalidArguments, "%q is not a long-running server tool", name)
	}
	args, err := desc.ValidateArgs(args)
	if err != nil {
		return nil, err
	}
	fn := d.table[desc.Name]
	return d.tasks.Submit(desc.Name, args, desc.Priority, desc.Cacheable,
		func(taskCtx context.Context, progress func(int, string)) (map[string]any, error) {
			return fn(taskCtx, d.handlerCtx(progress), args)
		})
}

func (d *Dispatcher) handlerCtx(progress handler.ProgressFunc) *handler.Ctx {
	return &handler.Ctx{
		Opts:     d.opts,
		HTTP:     d.http,
		Bridge:   d.bridge,
		Tasks:    d.tasks,
		Suggest:  d.suggest,
		Registry: d.reg,
		Progress: progress,
		Started:  d.started,
	}
}

// sideCall fires the open_visualization hint at the resolved client. Best
// effort only: failures are logged and never alter the call outcome.
func (d *Dispatcher) sideCall(name string, args, result map[string]any) {
	if !d.opts.AutoOpenVisualization || !vizTools[name] {
		return
	}
	explicit, _ := args["clientId"].(string)
	clientID, err := d.bridge.ResolveTarget(explicit)
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.ClientCallTimeout)
		defer cancel()
		if _, err := d.bridge.Invoke(ctx, clientID, "open_visualization",
			map[string]any{"tool": name, "result": result}, d.opts.ClientCallTimeout); err != nil {
			log.Debug().Err(err).Str("tool", name).Msg("visualization side-call failed")
		}
	}()
}

// Envelope shapes a handler outcome into the wire envelope: the success
// payload merged with success:true, or {success:false, error:{kind,message}}.
func Envelope(result map[string]any, err error) map[string]any {
	if err != nil {
		be := errkind.AsError(err)
		return map[string]any{
			"success": false,
			"error": map[string]any{
				"kind":    be.Kind.String(),
				"message": be.Message,
			},
		}
	}
	out := make(map[string]any, len(result)+1)
	for k, v := range result {
		out[k] = v
	}
	out["success"] = true
	return out
}
