package bridge

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fasthttp/websocket"
)

const (
	writeDeadline = 10 * time.Second
	maxFrameBytes = 1 << 20
)

// frameWriter is the outbound side of a client connection. Tests substitute a
// recording fake; production uses the websocket-backed conn.
type frameWriter interface {
	send(v any) error
	closeWith(code int, reason string) error
}

// conn wraps a websocket connection with a write lock. Gorilla-style
// websockets allow one concurrent writer; reads stay on the single read loop
// so they need no lock.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func newConn(ws *websocket.Conn) *conn {
	ws.SetReadLimit(maxFrameBytes)
	return &conn{ws: ws}
}

func (c *conn) send(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) closeWith(code int, reason string) error {
	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *conn) readFrame() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		// Binary framing is not negotiated; skip non-text control payloads.
		if kind != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}
