// Package gateway is the real-time fan-out gateway: a WebSocket hub through
// which clients subscribe to cars and receive their snapshots.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kilianp07/cariot/core/logger"
	"github.com/kilianp07/cariot/core/metrics"
	"github.com/kilianp07/cariot/core/model"
	"github.com/kilianp07/cariot/core/topic"
)

// Client to server events, and the server replies.
const (
	EventSubscribe   = "subscribeToCar"
	EventUnsubscribe = "unsubscribeFromCar"
	EventPing        = "ping"
	EventPong        = "pong"
	EventError       = "error"
	// EventCarStats is the legacy snapshot event carrying {...snapshot, carId}.
	EventCarStats = "carStats"

	sendBufferSize = 256
)

// Config holds connection keepalive settings.
type Config struct {
	PingIntervalSeconds int `json:"ping_interval_seconds"`
	PongTimeoutSeconds  int `json:"pong_timeout_seconds"`
	MaxMessageSize      int `json:"max_message_size"`
}

// SetDefaults applies the keepalive defaults.
func (c *Config) SetDefaults() {
	if c.PongTimeoutSeconds <= 0 {
		c.PongTimeoutSeconds = 60
	}
	if c.PingIntervalSeconds <= 0 {
		c.PingIntervalSeconds = c.PongTimeoutSeconds * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
}

func (c Config) pingInterval() time.Duration { return time.Duration(c.PingIntervalSeconds) * time.Second }
func (c Config) pongWait() time.Duration     { return time.Duration(c.PongTimeoutSeconds) * time.Second }

// Subscriptions is the registry side used by the hub.
type Subscriptions interface {
	Subscribe(carID, clientID string)
	Unsubscribe(carID, clientID string)
	RemoveClient(clientID string)
	Subscribers(carID string) []string
}

// Message is the JSON envelope exchanged in both directions.
type Message struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Ack answers a subscribe or unsubscribe request.
type Ack struct {
	Success bool   `json:"success"`
	CarID   string `json:"carId,omitempty"`
	Error   string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Hub tracks connected clients and delivers snapshots to them.
type Hub struct {
	cfg   Config
	codec *topic.Codec
	subs  Subscriptions
	log   logger.Logger
	rec   metrics.Recorder

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates a hub backed by the subscription registry.
func NewHub(cfg Config, codec *topic.Codec, subs Subscriptions, log logger.Logger, rec metrics.Recorder) *Hub {
	cfg.SetDefaults()
	if codec == nil {
		codec = topic.New("")
	}
	return &Hub{
		cfg:     cfg,
		codec:   codec,
		subs:    subs,
		log:     log,
		rec:     metrics.OrNop(rec),
		clients: make(map[string]*Client),
	}
}

// Run blocks until ctx is canceled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the request and starts the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	c := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	h.register(c)
	go c.writePump()
	go c.readPump()
}

// Emit sends the snapshot of carID to its subscribers, both as the
// namespaced stats event and as the legacy carStats event. When nobody is
// subscribed to the car it is sent to every connected client.
func (h *Hub) Emit(carID string, snap model.Snapshot) {
	stats, err := json.Marshal(Message{Event: h.codec.StatsEvent(carID), Data: snap})
	if err != nil {
		h.log.Errorf("marshal snapshot of %s: %v", carID, err)
		return
	}
	legacy, err := json.Marshal(Message{Event: EventCarStats, Data: snap.WithCarID(carID)})
	if err != nil {
		h.log.Errorf("marshal legacy snapshot of %s: %v", carID, err)
		return
	}

	ids := h.subs.Subscribers(carID)
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	if len(ids) == 0 {
		for _, c := range h.clients {
			targets = append(targets, c)
		}
	} else {
		for _, id := range ids {
			if c, ok := h.clients[id]; ok {
				targets = append(targets, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.trySend(stats)
		c.trySend(legacy)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.rec.GatewayClients(n)
	h.log.Debugw("websocket client connected", map[string]any{"client": c.id, "clients": n})
}

// unregister removes the client and its subscriptions. Only the call that
// removes the client from the map closes its send channel.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c.id]
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()
	if !existed {
		return
	}
	c.closeSend()
	h.subs.RemoveClient(c.id)
	h.rec.GatewayClients(n)
	h.log.Debugw("websocket client disconnected", map[string]any{"client": c.id, "clients": n})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, id)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.closeSend()
		h.subs.RemoveClient(c.id)
		_ = c.conn.Close()
	}
	h.rec.GatewayClients(0)
}
