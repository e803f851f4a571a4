package fanout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cariot/core/model"
	"github.com/kilianp07/cariot/internal/eventbus"
)

type countingRecorder struct {
	emissions map[string]int
}

func (c *countingRecorder) IngressMessage(string)  {}
func (c *countingRecorder) IngressError(string)    {}
func (c *countingRecorder) Emission(s string)      { c.emissions[s]++ }
func (c *countingRecorder) ActiveEmitters(int)     {}
func (c *countingRecorder) Command(string, string) {}
func (c *countingRecorder) GatewayClients(int)     {}

func TestFanoutDeliversAndPublishes(t *testing.T) {
	bus := eventbus.NewTyped[model.StateEvent]()
	events := bus.Subscribe()
	rec := &countingRecorder{emissions: map[string]int{}}
	f := New(bus, rec)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return fixed }

	var got []string
	f.Attach(EmitterFunc(func(id string, _ model.Snapshot) { got = append(got, "a:"+id) }))
	f.Attach(EmitterFunc(func(id string, _ model.Snapshot) { got = append(got, "b:"+id) }))

	assert.True(t, f.LastEmit().IsZero())
	snap := model.NewCarState("car-1").Snapshot()
	f.Source(model.SourceTick).Emit("car-1", snap)

	assert.Equal(t, []string{"a:car-1", "b:car-1"}, got)
	assert.Equal(t, fixed, f.LastEmit())
	assert.Equal(t, 1, rec.emissions[model.SourceTick])

	select {
	case ev := <-events:
		require.Equal(t, "car-1", ev.CarID)
		assert.Equal(t, model.SourceTick, ev.Source)
		assert.Equal(t, snap, ev.Snapshot)
	default:
		t.Fatalf("expected a state event on the bus")
	}
}

func TestFanoutWithoutBus(t *testing.T) {
	f := New(nil, nil)
	called := false
	f.Attach(EmitterFunc(func(string, model.Snapshot) { called = true }))
	f.Source(model.SourceIngress).Emit("x", model.Snapshot{})
	assert.True(t, called)
}
