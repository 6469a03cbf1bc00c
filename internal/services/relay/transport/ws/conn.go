package ws

import (
	"log"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

type conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func newConn(id string, ws *websocket.Conn, buffer int) *conn {
	return &conn{
		id:   id,
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// enqueue never blocks. A full queue drops msg.
func (c *conn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		log.Printf("ws: send queue full, dropping frame connection=%q", c.id)
		return false
	}
}

func (c *conn) writeLoop(timeout time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(timeout))
			if err := websocket.Message.Send(c.ws, string(msg)); err != nil {
				log.Printf("ws: write connection=%q: %v", c.id, err)
				c.close()
				return
			}
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
