package simulator

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Battery models a simple EV battery with charge/discharge limits.
type Battery struct {
	CapacityKWh     float64 // total capacity
	Soc             float64 // state of charge [0,1]
	ChargeRateKW    float64 // maximum charging power
	DischargeRateKW float64 // maximum discharging power
	mu              sync.Mutex
}

// NewBattery returns a full battery for a named profile: small, medium or large.
func NewBattery(profile string) (*Battery, error) {
	b := &Battery{Soc: 1}
	switch profile {
	case "small":
		b.CapacityKWh, b.ChargeRateKW, b.DischargeRateKW = 20, 3.6, 7
	case "medium", "":
		b.CapacityKWh, b.ChargeRateKW, b.DischargeRateKW = 40, 7, 10
	case "large":
		b.CapacityKWh, b.ChargeRateKW, b.DischargeRateKW = 80, 11, 20
	default:
		return nil, fmt.Errorf("unknown battery profile %s", profile)
	}
	return b, nil
}

// ApplyPower updates the SoC according to the requested power and duration.
// Positive power means discharge (driving), negative means charging.
// It returns the actual power applied after enforcing limits.
func (b *Battery) ApplyPower(powerKW float64, dt time.Duration) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	hours := dt.Hours()
	if hours <= 0 {
		return 0
	}

	actual := powerKW
	if powerKW > 0 {
		actual = math.Min(powerKW, b.DischargeRateKW)
		needed := math.Min(actual*hours, b.Soc*b.CapacityKWh)
		actual = needed / hours
		b.Soc -= needed / b.CapacityKWh
	} else if powerKW < 0 {
		p := math.Min(math.Abs(powerKW), b.ChargeRateKW)
		needed := math.Min(p*hours, (1-b.Soc)*b.CapacityKWh)
		p = needed / hours
		b.Soc += needed / b.CapacityKWh
		actual = -p
	}

	b.Soc = math.Max(0, math.Min(1, b.Soc))
	return actual
}

// Percent returns the state of charge in percent.
func (b *Battery) Percent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Soc * 100
}
