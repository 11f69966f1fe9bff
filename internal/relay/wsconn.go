package relay

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WSConn adapts a gorilla websocket connection to the Conn interface. The
// mutex enforces the single-writer rule: concurrent broadcasts targeting the
// same connection are serialized so frames never interleave.
type WSConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

func (c *WSConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *WSConn) Close() {
	_ = c.conn.Close()
}

func (c *WSConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
