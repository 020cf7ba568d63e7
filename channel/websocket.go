// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// closeGrace bounds how long Close waits to deliver a close frame.
const closeGrace = time.Second

// WebSocket constructs a channel that exchanges messages over conn. Each
// message is carried as one binary WebSocket message, so no additional
// framing is needed. The channel takes ownership of conn.
func WebSocket(conn *websocket.Conn) WSChannel { return WSChannel{conn: conn} }

// A WSChannel sends and receives messages on a WebSocket connection.
type WSChannel struct {
	conn *websocket.Conn
}

// Send implements a method of the [trpc.Channel] interface.
func (c WSChannel) Send(msg []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, msg)
}

// Recv implements a method of the [trpc.Channel] interface. A normal closure
// by the remote peer is reported as [io.EOF].
func (c WSChannel) Recv() ([]byte, error) {
	mt, msg, err := c.conn.ReadMessage()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil, io.EOF
	} else if err != nil {
		return nil, err
	} else if mt != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected websocket message type %d", mt)
	}
	return msg, nil
}

// Close implements a method of the [trpc.Channel] interface. It makes a best
// effort to notify the peer with a close frame before closing the connection.
func (c WSChannel) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace))
	return c.conn.Close()
}
