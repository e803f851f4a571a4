package carstate

import (
	"math/rand"

	"github.com/kilianp07/cariot/core/model"
)

const (
	// MaxRangeAtFullCharge is the simulated range in km at 100% battery.
	MaxRangeAtFullCharge = 500.0
	// RechargeBattery and RechargeRange are restored by a simulated recharge.
	RechargeBattery = 100.0
	RechargeRange   = 300.0

	minBattery = 5.0
	minRange   = 10.0
)

// Tick advances the synthetic drift of a car by one step: the battery drains
// by up to 1%, the range follows the battery, the car recharges when nearly
// empty, and the temperature jitters by at most half a degree.
func Tick(st *model.CarState, r *rand.Rand) {
	st.Battery -= r.Float64()
	st.Range = st.Battery * MaxRangeAtFullCharge / 100
	if st.Battery <= minBattery || st.Range <= minRange {
		st.Battery = RechargeBattery
		st.Range = RechargeRange
	}
	st.Temperature += r.Float64() - 0.5
}
