package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/kilianp07/cariot/infra/logger"
	"github.com/kilianp07/cariot/internal/testutil"
)

// TestIntegration verifies publishing and subscribing using a real Mosquitto broker.
func TestIntegration(t *testing.T) {
	if !testutil.DockerAvailable() {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	broker, cleanup, err := testutil.StartMosquitto(ctx)
	if err != nil {
		t.Fatalf("failed to start mosquitto: %v", err)
	}
	defer cleanup()

	client, err := NewClient(Config{Broker: broker, ClientID: "pub", QoS: 1}, logger.NopLogger{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Disconnect()

	msgCh := make(chan string, 1)
	if err := client.Subscribe("car/+/lock", 1, func(topic string, payload []byte) {
		msgCh <- topic + "=" + string(payload)
	}); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !client.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("client never connected")
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := client.Publish(ctx, "car/car-1/lock", []byte("true")); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case got := <-msgCh:
		if got != "car/car-1/lock=true" {
			t.Fatalf("unexpected message %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}
