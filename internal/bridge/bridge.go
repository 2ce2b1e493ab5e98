// Package bridge owns the WebSocket connections to interactive clients and
// multiplexes tool calls over them. Requests and replies are correlated by a
// monotonically increasing call_id; one JSON object per text frame.
package bridge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/genomebridge/genome-bridge/internal/errkind"
	"github.com/genomebridge/genome-bridge/internal/handler"
)

// message is the downstream wire format, both directions.
type message struct {
	Type         string         `json:"type"`
	CallID       int64          `json:"call_id,omitempty"`
	Tool         string         `json:"tool,omitempty"`
	Args         map[string]any `json:"args,omitempty"`
	OK           bool           `json:"ok,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Error        map[string]any `json:"error,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Snapshot     map[string]any `json:"snapshot,omitempty"`
	ActionID     string         `json:"action_id,omitempty"`
	Status       string         `json:"status,omitempty"`
	Event        string         `json:"event,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

type callReply struct {
	ok   bool
	data map[string]any
	err  map[string]any
}

type client struct {
	id           string
	out          frameWriter
	capabilities []string
	lastState    map[string]any
	ledger       *Ledger
}

// Bridge tracks connected clients and in-flight calls. It implements
// handler.ClientBridge.
type Bridge struct {
	mu       sync.RWMutex
	clients  map[string]*client
	pending  map[int64]chan callReply
	owner    map[int64]string // call_id → client_id, for disconnect cleanup
	nextCall int64
}

func New() *Bridge {
	return &Bridge{
		clients: make(map[string]*client),
		pending: make(map[int64]chan callReply),
		owner:   make(map[int64]string),
	}
}

// HandleConn services one WebSocket connection until it closes. Called by the
// gateway after the upgrade; blocks for the connection's lifetime.
func (b *Bridge) HandleConn(ws *websocket.Conn) {
	c := newConn(ws)
	id := b.register(c)
	log.Info().Str("client", id).Msg("client connected")

	for {
		frame, err := c.readFrame()
		if err != nil {
			break
		}
		if err := b.onMessage(id, frame); err != nil {
			log.Warn().Err(err).Str("client", id).Msg("framing error, closing connection")
			c.closeWith(websocket.CloseUnsupportedData, "invalid frame")
			break
		}
	}
	b.unregister(id)
	log.Info().Str("client", id).Msg("client disconnected")
}

func (b *Bridge) register(out frameWriter) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.clients[id] = &client{id: id, out: out, ledger: newLedger()}
	b.mu.Unlock()
	return id
}

// unregister removes the client and fails every call still in flight on it.
func (b *Bridge) unregister(id string) {
	b.mu.Lock()
	delete(b.clients, id)
	var orphaned []chan callReply
	for callID, owner := range b.owner {
		if owner != id {
			continue
		}
		if ch, ok := b.pending[callID]; ok {
			orphaned = append(orphaned, ch)
		}
		delete(b.pending, callID)
		delete(b.owner, callID)
	}
	b.mu.Unlock()

	for _, ch := range orphaned {
		ch <- callReply{err: map[string]any{
			"kind":    errkind.ClientDisconnected.String(),
			"message": "client disconnected before replying",
		}}
	}
}

// onMessage handles one inbound frame. A parse failure or missing type is a
// framing error; unknown types are logged and dropped.
func (b *Bridge) onMessage(clientID string, frame []byte) error {
	var msg message
	if err := sonic.Unmarshal(frame, &msg); err != nil {
		return errkind.Wrap(errkind.Internal, err, "unparseable frame")
	}
	if msg.Type == "" {
		return errkind.E(errkind.Internal, "frame has no type")
	}

	switch msg.Type {
	case "hello":
		b.withClient(clientID, func(c *client) {
			c.capabilities = msg.Capabilities
		})
		log.Debug().Str("client", clientID).Strs("capabilities", msg.Capabilities).Msg("hello")
	case "state_update", "selection_changed":
		b.withClient(clientID, func(c *client) {
			c.lastState = msg.Snapshot
		})
	case "tool_result":
		b.resolve(msg)
	case "action_progress":
		b.withClient(clientID, func(c *client) {
			c.ledger.Progress(msg.ActionID, msg.Status)
		})
	default:
		log.Debug().Str("client", clientID).Str("type", msg.Type).Msg("ignoring unknown message type")
	}
	return nil
}

func (b *Bridge) withClient(id string, fn func(*client)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[id]; ok {
		fn(c)
	}
}

func (b *Bridge) resolve(msg message) {
	b.mu.Lock()
	ch, ok := b.pending[msg.CallID]
	delete(b.pending, msg.CallID)
	delete(b.owner, msg.CallID)
	b.mu.Unlock()
	if !ok {
		log.Debug().Int64("call_id", msg.CallID).Msg("reply for unknown or expired call")
		return
	}
	ch <- callReply{ok: msg.OK, data: msg.Data, err: msg.Error}
}

// ResolveTarget picks a client: the explicit id if given, else the only
// connected client, else NoClientAvailable with the roster in the message.
func (b *Bridge) ResolveTarget(explicit string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if explicit != "" {
		if _, ok := b.clients[explicit]; !ok {
			return "", errkind.E(errkind.NoClientAvailable, "no client %q connected", explicit)
		}
		return explicit, nil
	}
	if len(b.clients) == 1 {
		for id := range b.clients {
			return id, nil
		}
	}
	ids := make([]string, 0, len(b.clients))
	for id := range b.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return "", errkind.E(errkind.NoClientAvailable,
		"need an explicit clientId, %d clients connected: %v", len(ids), ids)
}

// Invoke sends a tool_call and awaits the correlated tool_result. On deadline
// it sends a best-effort cancel notification and fails ClientTimeout.
func (b *Bridge) Invoke(ctx context.Context, clientID, toolName string, args map[string]any, timeout time.Duration) (map[string]any, error) {
	b.mu.Lock()
	c, ok := b.clients[clientID]
	if !ok {
		b.mu.Unlock()
		return nil, errkind.E(errkind.NoClientAvailable, "no client %q connected", clientID)
	}
	b.nextCall++
	callID := b.nextCall
	ch := make(chan callReply, 1)
	b.pending[callID] = ch
	b.owner[callID] = clientID
	b.mu.Unlock()

	if err := c.out.send(message{Type: "tool_call", CallID: callID, Tool: toolName, Args: args}); err != nil {
		b.forget(callID)
		return nil, errkind.Wrap(errkind.ClientDisconnected, err, "send to client %q failed", clientID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		if reply.err != nil || !reply.ok {
			msgText, _ := reply.err["message"].(string)
			if msgText == "" {
				msgText = "client reported failure"
			}
			kind := errkind.Internal
			if k, _ := reply.err["kind"].(string); k == errkind.ClientDisconnected.String() {
				kind = errkind.ClientDisconnected
			}
			return nil, errkind.E(kind, "client tool %s: %s", toolName, msgText)
		}
		return reply.data, nil
	case <-timer.C:
		b.forget(callID)
		c.out.send(message{Type: "cancel", CallID: callID})
		return nil, errkind.E(errkind.ClientTimeout, "client %q did not reply to %s within %s", clientID, toolName, timeout)
	case <-ctx.Done():
		b.forget(callID)
		c.out.send(message{Type: "cancel", CallID: callID})
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errkind.E(errkind.TimedOut, "call to %s exceeded deadline", toolName)
		}
		return nil, errkind.E(errkind.Cancelled, "call to %s cancelled", toolName)
	}
}

func (b *Bridge) forget(callID int64) {
	b.mu.Lock()
	delete(b.pending, callID)
	delete(b.owner, callID)
	b.mu.Unlock()
}

// Broadcast sends a fire-and-forget event frame to every connected client.
func (b *Bridge) Broadcast(event string, payload map[string]any) {
	b.mu.RLock()
	outs := make([]frameWriter, 0, len(b.clients))
	for _, c := range b.clients {
		outs = append(outs, c.out)
	}
	b.mu.RUnlock()

	msg := message{Type: "event", Event: event, Payload: payload}
	for _, out := range outs {
		if err := out.send(msg); err != nil {
			log.Debug().Err(err).Str("event", event).Msg("broadcast send failed")
		}
	}
}

func (b *Bridge) ClientIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.clients))
	for id := range b.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (b *Bridge) Capabilities(clientID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if c, ok := b.clients[clientID]; ok {
		return append([]string(nil), c.capabilities...)
	}
	return nil
}

func (b *Bridge) LastState(clientID string) map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if c, ok := b.clients[clientID]; ok {
		return c.lastState
	}
	return nil
}

func (b *Bridge) Ledger(clientID string) handler.Ledger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if c, ok := b.clients[clientID]; ok {
		return c.ledger
	}
	// The caller resolved the target moments ago; a nil ledger here would
	// only mean the client raced a disconnect. Hand back a detached ledger so
	// the handler fails on the client call instead of panicking.
	return newLedger()
}
