// Package broker runs an embedded MQTT broker for development and tests.
package broker

import (
	"errors"
	"log/slog"
	"os"
	"sync/atomic"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/kilianp07/cariot/infra/logger"
)

// DefaultAddress is the listen address used when none is configured.
const DefaultAddress = ":1883"

// Config holds the embedded broker settings.
type Config struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// SetDefaults applies the default listen address.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
}

// Broker wraps a mochi server with a single TCP listener that accepts every
// client.
type Broker struct {
	server  *mqtt.Server
	address string
	traffic *trafficHook
}

// New configures a broker listening on cfg.Address. Nothing is opened until
// Start.
func New(cfg Config) (*Broker, error) {
	cfg.SetDefaults()
	server := mqtt.New(&mqtt.Options{InlineClient: true})
	server.Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	hook := &trafficHook{log: logger.New("broker")}
	if err := server.AddHook(hook, nil); err != nil {
		return nil, err
	}
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, err
	}
	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: cfg.Address})
	if err := server.AddListener(tcp); err != nil {
		return nil, err
	}
	return &Broker{server: server, address: cfg.Address, traffic: hook}, nil
}

// Start begins accepting connections. It returns once the listener is open.
func (b *Broker) Start() error {
	if b.server == nil {
		return errors.New("broker not configured")
	}
	if err := b.server.Serve(); err != nil {
		return err
	}
	b.traffic.log.Infof("embedded MQTT broker listening on %s", b.address)
	return nil
}

// URL returns the tcp:// URL clients should dial.
func (b *Broker) URL() string {
	addr := b.address
	if len(addr) > 0 && addr[0] == ':' {
		addr = "127.0.0.1" + addr
	}
	return "tcp://" + addr
}

// Publish injects a message as the broker's inline client.
func (b *Broker) Publish(topic string, payload []byte, retain bool, qos byte) error {
	return b.server.Publish(topic, payload, retain, qos)
}

// Published returns the number of messages routed since start.
func (b *Broker) Published() uint64 { return b.traffic.published.Load() }

// Clients returns the number of connected clients.
func (b *Broker) Clients() int64 { return b.traffic.clients.Load() }

// Close stops the listeners and disconnects every client.
func (b *Broker) Close() error { return b.server.Close() }

// trafficHook logs connections and counts routed messages.
type trafficHook struct {
	mqtt.HookBase
	log       logger.Logger
	published atomic.Uint64
	clients   atomic.Int64
}

func (h *trafficHook) ID() string { return "cariot-traffic" }

func (h *trafficHook) Provides(b byte) bool {
	return b == mqtt.OnConnect || b == mqtt.OnDisconnect || b == mqtt.OnPublished
}

func (h *trafficHook) OnConnect(cl *mqtt.Client, _ packets.Packet) error {
	h.clients.Add(1)
	h.log.Debugf("client %s connected", cl.ID)
	return nil
}

func (h *trafficHook) OnDisconnect(cl *mqtt.Client, err error, _ bool) {
	h.clients.Add(-1)
	if err != nil {
		h.log.Debugf("client %s disconnected: %v", cl.ID, err)
	}
}

func (h *trafficHook) OnPublished(_ *mqtt.Client, pk packets.Packet) {
	h.published.Add(1)
	h.log.Debugw("message routed", map[string]any{"topic": pk.TopicName, "bytes": len(pk.Payload)})
}
