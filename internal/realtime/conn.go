package realtime

import "golang.org/x/net/websocket"

// Conn is a bidirectional JSON frame transport.
type Conn interface {
    Receive(msg *ClientMessage) error
    Send(msg ServerMessage) error
    Close() error
}

type wsConn struct{ ws *websocket.Conn }

// NewWSConn adapts a WebSocket connection using JSON text frames.
func NewWSConn(ws *websocket.Conn) Conn { return &wsConn{ws: ws} }

func (c *wsConn) Receive(msg *ClientMessage) error { return websocket.JSON.Receive(c.ws, msg) }
func (c *wsConn) Send(msg ServerMessage) error     { return websocket.JSON.Send(c.ws, msg) }
func (c *wsConn) Close() error                     { return c.ws.Close() }
