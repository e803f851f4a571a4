package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/cariot/config"
	"github.com/kilianp07/cariot/infra/logger"
	"github.com/kilianp07/cariot/infra/mqtt"
)

const connectWait = 10 * time.Second

// connectClient opens a short-lived MQTT connection with a unique client id
// so it never kicks the running service off the broker.
func connectClient(ctx context.Context, cfg *config.Config, prefix string) (*mqtt.Client, error) {
	mqttCfg := cfg.MQTT
	suffix := time.Now().UnixNano()
	if mqttCfg.ClientID != "" {
		mqttCfg.ClientID = fmt.Sprintf("%s-%s-%d", mqttCfg.ClientID, prefix, suffix)
	} else {
		mqttCfg.ClientID = fmt.Sprintf("%s-%d", prefix, suffix)
	}
	client, err := mqtt.NewClient(mqttCfg, logger.New(prefix))
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	deadline := time.NewTimer(connectWait)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for !client.IsConnected() {
		select {
		case <-ctx.Done():
			client.Disconnect()
			return nil, ctx.Err()
		case <-deadline.C:
			client.Disconnect()
			return nil, fmt.Errorf("%w: %s", mqtt.ErrConnectionFailed, mqttCfg.Broker)
		case <-tick.C:
		}
	}
	return client, nil
}
