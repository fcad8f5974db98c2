package server

import (
	"sync"
	"time"

	"starmsg/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsConn wraps one websocket connection behind the Conn interface.
// Writes are serialized: gorilla allows only one concurrent writer.
type wsConn struct {
	id      string
	ws      *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
}

func newWSConn(ws *websocket.Conn, timeout time.Duration) *wsConn {
	return &wsConn{
		id:      uuid.NewString(),
		ws:      ws,
		timeout: timeout,
	}
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) Send(ev *protocol.Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// session is the per-connection state machine: a connection starts
// unbound, becomes bound by the first identify event, and is torn down
// on disconnect. The bound identity is an explicit field so cleanup
// does not depend on what any callback captured.
type session struct {
	conn     *wsConn
	identity string // пусто, пока не получен identify
}

func (s *session) bound() bool {
	return s.identity != ""
}
