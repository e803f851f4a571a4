package carstate

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/cariot/core/model"
)

func TestTickBounds(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	st := model.NewCarState("c")
	for i := 0; i < 10000; i++ {
		prevBattery, prevTemp := st.Battery, st.Temperature
		Tick(st, r)
		if st.Battery < 0 || st.Battery > 100 {
			t.Fatalf("battery out of bounds at tick %d: %v", i, st.Battery)
		}
		if st.Battery != RechargeBattery {
			drop := prevBattery - st.Battery
			assert.True(t, drop >= 0 && drop < 1, "battery drop %v", drop)
			assert.InDelta(t, st.Battery*MaxRangeAtFullCharge/100, st.Range, 1e-9)
		}
		assert.InDelta(t, prevTemp, st.Temperature, 0.5)
	}
}

func TestTickRecharge(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	st := model.NewCarState("c")
	st.Battery = 5.5
	for st.Battery != RechargeBattery {
		Tick(st, r)
	}
	assert.Equal(t, RechargeBattery, st.Battery)
	assert.Equal(t, RechargeRange, st.Range)
}

func TestTickDeterministic(t *testing.T) {
	a, b := model.NewCarState("a"), model.NewCarState("b")
	ra, rb := rand.New(rand.NewSource(3)), rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		Tick(a, ra)
		Tick(b, rb)
	}
	assert.Equal(t, a.Battery, b.Battery)
	assert.Equal(t, a.Temperature, b.Temperature)
}
