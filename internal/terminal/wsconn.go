package terminal

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WSConn adapts a gorilla websocket connection to the Conn interface. A
// single read pump owns the underlying reads; writes are serialised because
// gorilla permits only one concurrent writer.
type WSConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	inbound chan Event
	done    chan struct{}
	once    sync.Once
}

const inboundBuffer = 16

// NewWSConn wraps an established websocket connection and starts its read
// pump.
func NewWSConn(conn *websocket.Conn) *WSConn {
	c := &WSConn{
		conn:    conn,
		inbound: make(chan Event, inboundBuffer),
		done:    make(chan struct{}),
	}
	go c.readPump()
	return c
}

func (c *WSConn) readPump() {
	defer func() {
		c.once.Do(func() { close(c.done) })
		close(c.inbound)
		_ = c.conn.Close()
	}()
	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			return
		}
		select {
		case c.inbound <- ev:
		case <-c.done:
			return
		}
	}
}

// ReadEvent returns the next inbound event or ErrConnClosed after
// disconnect.
func (c *WSConn) ReadEvent() (Event, error) {
	ev, ok := <-c.inbound
	if !ok {
		return Event{}, ErrConnClosed
	}
	return ev, nil
}

// WriteEvent sends an event frame.
func (c *WSConn) WriteEvent(ev Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(ev)
}

// Close terminates the connection.
func (c *WSConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.conn.Close()
}

// Done is closed once the connection's read pump has finished.
func (c *WSConn) Done() <-chan struct{} {
	return c.done
}
