package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/cariot/infra/logger"
)

const (
	defaultReconnect      = 5 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	disconnectQuiesce     = 250
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker           string      `json:"broker"`
	ClientID         string      `json:"client_id"`
	Username         string      `json:"username"`
	Password         string      `json:"password"`
	UseTLS           bool        `json:"use_tls"`
	ClientCert       string      `json:"client_cert"`
	ClientKey        string      `json:"client_key"`
	CABundle         string      `json:"ca_bundle"`
	QoS              byte        `json:"qos"`
	TopicNamespace   string      `json:"topic_namespace"`
	LocationTopic    string      `json:"location_topic"`
	ReconnectSeconds int         `json:"reconnect_seconds"`
	LWTTopic         string      `json:"lwt_topic"`
	LWTPayload       string      `json:"lwt_payload"`
	LWTQoS           byte        `json:"lwt_qos"`
	LWTRetain        bool        `json:"lwt_retain"`
	TLSConfig        *tls.Config `json:"-"`
}

// SetDefaults fills the broker URL and topic namespace.
func (c *Config) SetDefaults() {
	if c.Broker == "" {
		c.Broker = "tcp://localhost:1883"
	}
	if c.TopicNamespace == "" {
		c.TopicNamespace = "car"
	}
}

// Validate checks the settings that cannot be defaulted.
func (c Config) Validate() error {
	if c.QoS > 2 {
		return fmt.Errorf("mqtt: qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if c.LWTQoS > 2 {
		return fmt.Errorf("mqtt: lwt_qos must be 0, 1 or 2, got %d", c.LWTQoS)
	}
	if c.UseTLS && (c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "") {
		return fmt.Errorf("mqtt: use_tls requires client_cert, client_key and ca_bundle")
	}
	if c.LocationTopic != "" && strings.HasPrefix(c.LocationTopic, c.TopicNamespace+"/") {
		return fmt.Errorf("mqtt: location_topic %q must be outside the %q namespace", c.LocationTopic, c.TopicNamespace)
	}
	return nil
}

// ReconnectInterval returns the fixed delay between connection attempts.
func (c Config) ReconnectInterval() time.Duration {
	if c.ReconnectSeconds <= 0 {
		return defaultReconnect
	}
	return time.Duration(c.ReconnectSeconds) * time.Second
}

// pahoClient is the subset of paho.Client used here.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// MessageHandler receives inbound messages. It runs on paho's delivery
// goroutine and must not block.
type MessageHandler func(topic string, payload []byte)

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client wraps paho with connection tracking and subscriptions that survive
// reconnects: every topic passed to Subscribe is subscribed again whenever
// the connection is re-established.
type Client struct {
	cli    pahoClient
	cfg    Config
	logger logger.Logger

	subMu sync.RWMutex
	subs  map[string]subscription

	connected   atomic.Bool
	lastAttempt atomic.Int64 // unix nanos

	cbMu      sync.RWMutex
	onConnect func()
}

// NewClient prepares a client. Nothing is sent until Connect.
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "cariot-" + uuid.NewString()
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.New("mqtt_client")
	}
	c := &Client{cfg: cfg, logger: log, subs: map[string]subscription{}}

	opts.OnConnect = func(_ paho.Client) { c.handleConnect() }
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		c.connected.Store(false)
		c.logger.Errorf("%v: %v", ErrConnectionLost, err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		c.markAttempt()
		c.logger.Warnf("reconnecting to MQTT broker %s", cfg.Broker)
	}
	c.cli = newMQTTClient(opts)
	return c, nil
}

// NewClientOptions builds mqtt client options from Config. Reconnection uses
// a fixed interval, both for the first connection and after a loss.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.ReconnectInterval())
	opts.SetMaxReconnectInterval(cfg.ReconnectInterval())
	opts.SetConnectTimeout(defaultConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Connect starts connecting. If the broker does not answer within the
// connect timeout (or ctx ends first), Connect returns nil and paho keeps
// retrying in the background at the reconnect interval.
func (c *Client) Connect(ctx context.Context) error {
	c.markAttempt()
	token := c.cli.Connect()
	timer := time.NewTimer(defaultConnectTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	c.logger.Warnf("broker %s not reachable yet, retrying every %s", c.cfg.Broker, c.cfg.ReconnectInterval())
	return nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.logger.Infof("MQTT connected to %s", c.cfg.Broker)
	c.restoreSubscriptions()

	c.cbMu.RLock()
	cb := c.onConnect
	c.cbMu.RUnlock()
	if cb != nil {
		cb()
	}
}

// SetOnConnect registers a callback run after every (re)connection, once the
// subscriptions have been restored.
func (c *Client) SetOnConnect(fn func()) {
	c.cbMu.Lock()
	c.onConnect = fn
	c.cbMu.Unlock()
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subMu.RUnlock()
	for _, s := range subs {
		if err := c.subscribe(s); err != nil {
			c.logger.Errorf("resubscribe %s: %v", s.topic, err)
		}
	}
}

// Subscribe registers handler for topic. The subscription is tracked and is
// sent to the broker now if connected, and again after every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	s := subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Lock()
	c.subs[topic] = s
	c.subMu.Unlock()
	if !c.IsConnected() {
		c.logger.Debugf("subscription to %s deferred until connected", topic)
		return nil
	}
	return c.subscribe(s)
}

func (c *Client) subscribe(s subscription) error {
	token := c.cli.Subscribe(s.topic, s.qos, c.wrapHandler(s.handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	c.logger.Infof("subscribed to %s", s.topic)
	return nil
}

// wrapHandler shields paho's delivery goroutine from handler panics.
func (c *Client) wrapHandler(h MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Errorf("panic in handler for %s: %v", msg.Topic(), r)
			}
		}()
		h(msg.Topic(), msg.Payload())
	}
}

// Publish sends payload to topic with the configured QoS.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.cli.Publish(topic, c.cfg.QoS, false, payload)
	timer := time.NewTimer(defaultPublishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublishFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is currently up.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.cli.IsConnected()
}

// LastConnectAttempt returns when the client last tried to (re)connect.
func (c *Client) LastConnectAttempt() time.Time {
	ns := c.lastAttempt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subs)
}

func (c *Client) markAttempt() { c.lastAttempt.Store(time.Now().UnixNano()) }

// Disconnect gracefully closes the MQTT connection.
func (c *Client) Disconnect() {
	c.connected.Store(false)
	if c.cli != nil {
		c.cli.Disconnect(disconnectQuiesce)
	}
}
