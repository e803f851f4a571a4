package carstate

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cariot/core/model"
)

func TestGetOrCreateBaselineOncePerID(t *testing.T) {
	s := NewStore(nil)
	a := s.GetOrCreate("car-1")
	b := s.GetOrCreate("car-1")
	if a != b {
		t.Fatalf("expected the same state pointer for repeated calls")
	}
	assert.Equal(t, model.BaselineBattery, a.Battery)
	assert.Equal(t, model.BaselineRange, a.Range)
	assert.Equal(t, model.BaselineTemperature, a.Temperature)
	assert.Equal(t, 1, s.Count())

	s.GetOrCreate("car-2")
	assert.Equal(t, []string{"car-1", "car-2"}, s.IDs())
}

func TestApplyFullUpdateNilKeepsDriftFields(t *testing.T) {
	s := NewStore(nil)
	require.True(t, s.ApplyFullUpdate("c", map[string]any{"battery": 42.0}))
	changed := s.ApplyFullUpdate("c", map[string]any{"battery": nil, "range": nil, "temperature": nil})
	assert.False(t, changed)
	assert.Equal(t, 42.0, s.GetOrCreate("c").Battery)
}

func TestApplyFullUpdateSetsFlag(t *testing.T) {
	s := NewStore(nil)
	changed := s.ApplyFullUpdate("fresh", map[string]any{"lock": true})
	assert.True(t, changed)
	assert.True(t, s.GetOrCreate("fresh").Lock)

	assert.False(t, s.ApplyFullUpdate("fresh", map[string]any{"lock": true}), "same value must not report a change")
	assert.True(t, s.ApplyFullUpdate("fresh", map[string]any{"lock": nil}), "null clears a flag")
	assert.False(t, s.GetOrCreate("fresh").Lock)
}

func TestApplyFullUpdateConversionsAndExtras(t *testing.T) {
	s := NewStore(nil)
	changed := s.ApplyFullUpdate("c", map[string]any{
		"battery":     "55.5",
		"lights":      "true",
		"latitude":    48.1,
		"longitude":   9.2,
		"tyres":       map[string]any{"front": 2.3},
		"temperature": "warm",
	})
	require.True(t, changed)
	st := s.GetOrCreate("c")
	assert.Equal(t, 55.5, st.Battery)
	assert.True(t, st.Lights)
	assert.Equal(t, 20.0, st.Temperature, "unconvertible values are ignored")
	require.NotNil(t, st.Latitude)
	assert.Equal(t, 48.1, *st.Latitude)
	assert.Equal(t, map[string]any{"front": 2.3}, st.Extra["tyres"])

	assert.False(t, s.ApplyFullUpdate("c", map[string]any{"tyres": map[string]any{"front": 2.3}}))
	assert.True(t, s.ApplyFullUpdate("c", map[string]any{"latitude": nil}))
	assert.Nil(t, s.GetOrCreate("c").Latitude)
}

func TestApplySingleFieldAlwaysChanged(t *testing.T) {
	s := NewStore(nil)
	assert.True(t, s.ApplySingleField("c", "lock", true))
	assert.True(t, s.ApplySingleField("c", "lock", true))
	assert.True(t, s.GetOrCreate("c").Lock)

	assert.True(t, s.ApplySingleField("c", "doors/front", "open"))
	assert.Equal(t, "open", s.Snapshot("c").Extra["doors/front"])
}

func TestSetLocationAndSnapshot(t *testing.T) {
	s := NewStore(nil)
	assert.True(t, s.SetLocation("c", model.Coordinate{Latitude: 48.86, Longitude: 9.18}))
	snap := s.Snapshot("c")
	require.NotNil(t, snap.Latitude)
	require.NotNil(t, snap.Longitude)
	assert.Equal(t, 48.86, *snap.Latitude)
	assert.Equal(t, 9.18, *snap.Longitude)
}

func TestEvolveReturnsSnapshot(t *testing.T) {
	s := NewStore(nil)
	r := rand.New(rand.NewSource(1))
	snap := s.Evolve("c", r)
	st := s.GetOrCreate("c")
	assert.Less(t, st.Battery, 100.0)
	assert.Equal(t, st.Snapshot(), snap)
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(i)))
			id := fmt.Sprintf("car-%d", i%3)
			for j := 0; j < 200; j++ {
				s.ApplyFullUpdate(id, map[string]any{"lock": j%2 == 0})
				s.ApplySingleField(id, "lights", true)
				s.Evolve(id, r)
				_ = s.Snapshot(id)
				_ = s.IDs()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 3, s.Count())
}
