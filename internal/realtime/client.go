package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 32
)

// client is one registered connection. readPump and writePump are its only
// goroutines; send is the only way frames reach writePump. send is never
// closed — shutdown is signalled on done so enqueues can race safely with
// removal from the registry.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	send     chan Envelope
	done     chan struct{}
	doneOnce sync.Once
}

func (c *client) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *client) enqueue(env Envelope) bool {
	select {
	case c.send <- env:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Printf("realtime: read error for %s: %v", c.id, err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.hub.logger.Printf("realtime: bad frame from %s: %v", c.id, err)
			continue
		}
		ack, wantAck := c.hub.dispatch(env)
		if !wantAck {
			continue
		}
		raw, err := json.Marshal(ack)
		if err != nil {
			continue
		}
		// The sender may already be gone; its outcome is then discarded.
		c.enqueue(Envelope{Event: EventAck, Seq: env.Seq, Data: raw})
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
