package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/kilianp07/cariot/core/carstate"
	"github.com/kilianp07/cariot/core/logger"
	"github.com/kilianp07/cariot/core/model"
	"github.com/kilianp07/cariot/core/topic"
)

// Publisher is the outbound transport used by the simulators.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// SimulatedCar is one car whose telemetry is published as full-state updates.
type SimulatedCar struct {
	ID          string
	Battery     *Battery
	Temperature float64
	Lock        bool
	Lights      bool
}

// GenerateFleet creates size cars with IDs car-0001..car-NNNN, each with a
// full battery of the given profile.
func GenerateFleet(size int, profile string) ([]*SimulatedCar, error) {
	if size <= 0 {
		return nil, nil
	}
	cars := make([]*SimulatedCar, size)
	for i := range cars {
		b, err := NewBattery(profile)
		if err != nil {
			return nil, err
		}
		cars[i] = &SimulatedCar{
			ID:          fmt.Sprintf("car-%04d", i+1),
			Battery:     b,
			Temperature: model.BaselineTemperature,
			Lock:        true,
		}
	}
	return cars, nil
}

// timeScale speeds up simulated driving so a charge cycle lasts minutes.
const timeScale = 120

// Step advances the car by dt: it drives at a random power and plugs in to
// recharge once the battery drops under 10%.
func (c *SimulatedCar) Step(dt time.Duration, rng *rand.Rand) {
	if c.Battery.Percent() < 10 {
		c.Battery.ApplyPower(-c.Battery.ChargeRateKW, dt*timeScale)
	} else {
		c.Battery.ApplyPower(c.Battery.DischargeRateKW*(0.5+rng.Float64()), dt*timeScale)
	}
	c.Temperature = math.Max(-10, math.Min(40, c.Temperature+(rng.Float64()-0.5)))
	if rng.Float64() < 0.05 {
		c.Lights = !c.Lights
	}
}

// Stats returns the full-state payload of the car.
func (c *SimulatedCar) Stats() map[string]any {
	battery := c.Battery.Percent()
	return map[string]any{
		model.FieldBattery:     math.Round(battery),
		model.FieldRange:       math.Round(battery * carstate.MaxRangeAtFullCharge / 100),
		model.FieldTemperature: math.Round(c.Temperature*10) / 10,
		model.FieldLock:        c.Lock,
		model.FieldLights:      c.Lights,
	}
}

// Fleet publishes the stats of its cars on <ns>/<id>/stats.
type Fleet struct {
	Cars     []*SimulatedCar
	Codec    *topic.Codec
	Interval time.Duration
	Rand     *rand.Rand
	Logger   logger.Logger
}

// PublishOnce steps every car by the fleet interval and publishes its stats.
func (f *Fleet) PublishOnce(ctx context.Context, pub Publisher) error {
	for _, c := range f.Cars {
		c.Step(f.Interval, f.Rand)
		data, err := json.Marshal(c.Stats())
		if err != nil {
			return err
		}
		if err := pub.Publish(ctx, f.Codec.StatsEvent(c.ID), data); err != nil {
			return fmt.Errorf("publish stats of %s: %w", c.ID, err)
		}
	}
	return nil
}

// Run publishes every Interval until ctx is done. Publish errors are logged
// and the next tick retries.
func (f *Fleet) Run(ctx context.Context, pub Publisher) {
	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.PublishOnce(ctx, pub); err != nil && f.Logger != nil {
				f.Logger.Warnf("fleet telemetry: %v", err)
			}
		}
	}
}
