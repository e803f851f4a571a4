package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cariot/core/model"
	"github.com/kilianp07/cariot/core/topic"
	"github.com/kilianp07/cariot/infra/logger"
)

type fakeSubs struct {
	mu      sync.Mutex
	subs    map[string]map[string]bool
	removed []string
}

func newFakeSubs() *fakeSubs { return &fakeSubs{subs: map[string]map[string]bool{}} }

func (f *fakeSubs) Subscribe(carID, clientID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[carID] == nil {
		f.subs[carID] = map[string]bool{}
	}
	f.subs[carID][clientID] = true
}

func (f *fakeSubs) Unsubscribe(carID, clientID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[carID], clientID)
}

func (f *fakeSubs) RemoveClient(clientID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.subs {
		delete(m, clientID)
	}
	f.removed = append(f.removed, clientID)
}

func (f *fakeSubs) Subscribers(carID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.subs[carID]))
	for id := range f.subs[carID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (f *fakeSubs) removedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.removed)
}

func startHub(t *testing.T) (*Hub, *fakeSubs, string) {
	t.Helper()
	subs := newFakeSubs()
	hub := NewHub(Config{}, topic.New("car"), subs, logger.NopLogger{}, nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, subs, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type inbound struct {
	Event string          `json:"event"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

func read(t *testing.T, conn *websocket.Conn) inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg inbound
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func send(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestSubscribeAckAndRegistry(t *testing.T) {
	hub, subs, url := startHub(t)
	conn := dial(t, url)

	send(t, conn, map[string]any{"event": EventSubscribe, "id": "1", "data": "car-1"})
	ack := read(t, conn)
	assert.Equal(t, EventSubscribe, ack.Event)
	assert.Equal(t, "1", ack.ID)
	assert.JSONEq(t, `{"success":true,"carId":"car-1"}`, string(ack.Data))

	send(t, conn, map[string]any{"event": EventSubscribe, "data": map[string]string{"carId": "car-2"}})
	ack = read(t, conn)
	assert.JSONEq(t, `{"success":true,"carId":"car-2"}`, string(ack.Data))

	require.Len(t, subs.Subscribers("car-1"), 1)
	assert.Equal(t, subs.Subscribers("car-1"), subs.Subscribers("car-2"))
	assert.Equal(t, 1, hub.ClientCount())

	send(t, conn, map[string]any{"event": EventUnsubscribe, "data": "car-1"})
	ack = read(t, conn)
	assert.Equal(t, EventUnsubscribe, ack.Event)
	assert.Empty(t, subs.Subscribers("car-1"))
}

func TestPingAndErrors(t *testing.T) {
	_, _, url := startHub(t)
	conn := dial(t, url)

	send(t, conn, map[string]any{"event": EventPing, "id": "p"})
	msg := read(t, conn)
	assert.Equal(t, EventPong, msg.Event)
	assert.Equal(t, "p", msg.ID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg = read(t, conn)
	assert.Equal(t, EventError, msg.Event)

	send(t, conn, map[string]any{"event": EventSubscribe, "data": map[string]string{"carId": ""}})
	msg = read(t, conn)
	assert.Equal(t, EventError, msg.Event)
	assert.Contains(t, string(msg.Data), "carId is required")

	send(t, conn, map[string]any{"event": "reboot"})
	msg = read(t, conn)
	assert.Equal(t, EventError, msg.Event)
}

func TestEmitTargetsSubscribers(t *testing.T) {
	hub, _, url := startHub(t)
	subscriber := dial(t, url)
	other := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	send(t, subscriber, map[string]any{"event": EventSubscribe, "data": "car-1"})
	read(t, subscriber)

	hub.Emit("car-1", model.Snapshot{Battery: 80, Range: 400, Temperature: 20})

	stats := read(t, subscriber)
	assert.Equal(t, "car/car-1/stats", stats.Event)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(stats.Data, &fields))
	assert.Equal(t, 80.0, fields["battery"])
	assert.NotContains(t, fields, "carId")

	legacy := read(t, subscriber)
	assert.Equal(t, EventCarStats, legacy.Event)
	require.NoError(t, json.Unmarshal(legacy.Data, &fields))
	assert.Equal(t, "car-1", fields["carId"])

	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "non-subscriber must not receive the snapshot")
}

func TestEmitWithoutSubscribersBroadcasts(t *testing.T) {
	hub, _, url := startHub(t)
	a := dial(t, url)
	b := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.Emit("car-9", model.Snapshot{Battery: 10, Range: 50})
	for _, conn := range []*websocket.Conn{a, b} {
		assert.Equal(t, "car/car-9/stats", read(t, conn).Event)
		assert.Equal(t, EventCarStats, read(t, conn).Event)
	}
}

func TestDisconnectRemovesClient(t *testing.T) {
	hub, subs, url := startHub(t)
	conn := dial(t, url)
	send(t, conn, map[string]any{"event": EventSubscribe, "data": "car-1"})
	read(t, conn)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return subs.removedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, subs.Subscribers("car-1"))
	assert.Equal(t, 0, hub.ClientCount())
}

func TestTrySendNeverBlocks(t *testing.T) {
	c := &Client{send: make(chan []byte, 1)}
	c.trySend([]byte("a"))
	c.trySend([]byte("b"))
	assert.Len(t, c.send, 1)

	c.closeSend()
	c.closeSend()
	assert.NotPanics(t, func() { c.trySend([]byte("c")) })
}

func TestParseCarID(t *testing.T) {
	assert.Equal(t, "car-1", parseCarID(json.RawMessage(`"car-1"`)))
	assert.Equal(t, "car-2", parseCarID(json.RawMessage(`{"carId":"car-2"}`)))
	assert.Equal(t, "", parseCarID(json.RawMessage(`42`)))
	assert.Equal(t, "", parseCarID(nil))
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, 60, c.PongTimeoutSeconds)
	assert.Equal(t, 54, c.PingIntervalSeconds)
	assert.Equal(t, 4096, c.MaxMessageSize)
}
