package app

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cariot/config"
	"github.com/kilianp07/cariot/internal/testutil"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	brokerAddr := freeAddr(t)
	cfg := &config.Config{}
	cfg.Broker.Enabled = true
	cfg.Broker.Address = brokerAddr
	cfg.MQTT.Broker = "tcp://" + brokerAddr
	cfg.MQTT.ClientID = "cariot-test"
	cfg.MQTT.LocationTopic = "world-drive/position"
	cfg.HTTP.Address = freeAddr(t)
	cfg.Emission.IntervalMillis = 50
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func externalClient(t *testing.T, broker string) paho.Client {
	t.Helper()
	cli := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("car-side"))
	tok := cli.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	t.Cleanup(func() { cli.Disconnect(100) })
	return cli
}

func TestServiceEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded broker")
	}
	cfg := testConfig(t)
	svc, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	require.Eventually(t, svc.Client.IsConnected, 5*time.Second, 20*time.Millisecond)

	car := externalClient(t, cfg.MQTT.Broker)

	// inbound full update
	tok := car.Publish("car/car-1/stats", 0, false, `{"battery":42,"lock":true}`)
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.Eventually(t, func() bool { return svc.Store.Count() == 1 }, 5*time.Second, 20*time.Millisecond)
	snap := svc.Store.Snapshot("car-1")
	assert.Equal(t, 42.0, snap.Battery)
	assert.True(t, snap.Lock)

	// location broadcast reaches known cars
	tok = car.Publish(cfg.MQTT.LocationTopic, 0, false, `{"latitude":48.1,"longitude":9.2}`)
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.Eventually(t, func() bool {
		s := svc.Store.Snapshot("car-1")
		return s.Latitude != nil && *s.Latitude == 48.1
	}, 5*time.Second, 20*time.Millisecond)

	// outbound command
	got := make(chan string, 1)
	tok = car.Subscribe("car/car-1/lights", 0, func(_ paho.Client, m paho.Message) {
		select {
		case got <- string(m.Payload()):
		default:
		}
	})
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/car/car-1/lights", strings.NewReader(`{"value":true}`))
	svc.Handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"success":true`)
	select {
	case p := <-got:
		assert.Equal(t, "true", p)
	case <-time.After(5 * time.Second):
		t.Fatal("command not delivered")
	}

	// the HTTP server is listening on the configured address
	waitCtx, stopWait := context.WithTimeout(ctx, 5*time.Second)
	defer stopWait()
	require.NoError(t, testutil.WaitForBody(waitCtx, "http://"+cfg.HTTP.Address+"/health", `"carCount":1`))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestServiceRejectsCommandsWhileDisconnected(t *testing.T) {
	cfg := &config.Config{}
	cfg.MQTT.Broker = "tcp://" + freeAddr(t)
	cfg.SetDefaults()
	svc, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/car/car-1/lock", strings.NewReader(`{"value":true}`))
	svc.Handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), `"success":false`)
}

func TestServiceRejectsBadLogLevel(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Logging.Level = "loud"
	_, err := New(cfg)
	assert.Error(t, err)
}
