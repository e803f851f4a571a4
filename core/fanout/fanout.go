// Package fanout joins the producers of snapshots (ingress and the emission
// scheduler) to their consumers (the real-time gateway and the recorders).
package fanout

import (
	"sync"
	"time"

	"github.com/kilianp07/cariot/core/metrics"
	"github.com/kilianp07/cariot/core/model"
	"github.com/kilianp07/cariot/internal/eventbus"
)

// Emitter delivers a snapshot of a car to whoever is interested in it.
type Emitter interface {
	Emit(carID string, snap model.Snapshot)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(carID string, snap model.Snapshot)

// Emit calls f.
func (f EmitterFunc) Emit(carID string, snap model.Snapshot) { f(carID, snap) }

// Fanout forwards every emission to its targets and publishes a StateEvent on
// the bus. It remembers when the last emission happened.
type Fanout struct {
	bus *eventbus.TypedBus[model.StateEvent]
	rec metrics.Recorder
	now func() time.Time

	mu       sync.RWMutex
	targets  []Emitter
	lastEmit time.Time
}

// New returns a Fanout. bus and rec may be nil.
func New(bus *eventbus.TypedBus[model.StateEvent], rec metrics.Recorder) *Fanout {
	return &Fanout{bus: bus, rec: metrics.OrNop(rec), now: time.Now}
}

// Attach adds a delivery target, typically the gateway.
func (f *Fanout) Attach(e Emitter) {
	f.mu.Lock()
	f.targets = append(f.targets, e)
	f.mu.Unlock()
}

// Source returns an Emitter that tags its emissions with source.
func (f *Fanout) Source(source string) Emitter {
	return EmitterFunc(func(carID string, snap model.Snapshot) {
		f.emit(source, carID, snap)
	})
}

// LastEmit returns the time of the most recent emission, zero if none.
func (f *Fanout) LastEmit() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastEmit
}

func (f *Fanout) emit(source, carID string, snap model.Snapshot) {
	now := f.now()
	f.mu.Lock()
	f.lastEmit = now
	targets := make([]Emitter, len(f.targets))
	copy(targets, f.targets)
	f.mu.Unlock()

	for _, t := range targets {
		t.Emit(carID, snap)
	}
	f.rec.Emission(source)
	if f.bus != nil {
		f.bus.Publish(model.StateEvent{CarID: carID, Snapshot: snap, Source: source, Time: now})
	}
}
