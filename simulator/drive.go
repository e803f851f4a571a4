package simulator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kilianp07/cariot/core/logger"
	"github.com/kilianp07/cariot/core/model"
)

// Drive publishes the next coordinate of route to topic every interval until
// ctx is done. The payload is {"latitude":..,"longitude":..}.
func Drive(ctx context.Context, pub Publisher, route *Route, topic string, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := publishCoordinate(ctx, pub, topic, route.Next()); err != nil && log != nil {
				log.Warnf("drive: %v", err)
			}
		}
	}
}

func publishCoordinate(ctx context.Context, pub Publisher, topic string, c model.Coordinate) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return pub.Publish(ctx, topic, data)
}
