package gateway

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Client is one WebSocket connection.
type Client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

// ID returns the identifier used in the subscription registry.
func (c *Client) ID() string { return c.id }

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.pongWait()))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warnf("websocket read error: %v", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.pongWait()))
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.pingInterval())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg struct {
		Event string          `json:"event"`
		ID    string          `json:"id"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(Message{Event: EventError, Data: Ack{Error: "invalid JSON message"}})
		return
	}

	switch msg.Event {
	case EventSubscribe, EventUnsubscribe:
		carID := parseCarID(msg.Data)
		if carID == "" {
			c.reply(Message{Event: EventError, ID: msg.ID, Data: Ack{Error: "carId is required"}})
			return
		}
		if msg.Event == EventSubscribe {
			c.hub.subs.Subscribe(carID, c.id)
		} else {
			c.hub.subs.Unsubscribe(carID, c.id)
		}
		c.reply(Message{Event: msg.Event, ID: msg.ID, Data: Ack{Success: true, CarID: carID}})
	case EventPing:
		c.reply(Message{Event: EventPong, ID: msg.ID, Data: Ack{Success: true}})
	default:
		c.reply(Message{Event: EventError, ID: msg.ID, Data: Ack{Error: "unknown event: " + msg.Event}})
	}
}

// parseCarID accepts "car-1" or {"carId":"car-1"}.
func parseCarID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		CarID string `json:"carId"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.CarID)
	}
	return ""
}

func (c *Client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend never blocks: a full buffer drops the message and a send racing
// with close is absorbed.
func (c *Client) trySend(data []byte) {
	defer func() {
		_ = recover()
	}()
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}
