// Package recorder persists bus events off the hot path: snapshots go to the
// history and the cache, coordinates go to the history.
package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/cariot/core/model"
	"github.com/kilianp07/cariot/infra/logger"
	"github.com/kilianp07/cariot/internal/eventbus"
)

const writeTimeout = 5 * time.Second

// History receives snapshot and coordinate points.
type History interface {
	RecordSnapshot(ctx context.Context, ev model.StateEvent) error
	RecordCoordinate(ctx context.Context, c model.Coordinate, at time.Time) error
}

// Cache keeps the last snapshot per car.
type Cache interface {
	Put(ctx context.Context, carID string, snap model.Snapshot) error
}

// Config lists the buses and sinks. Any of them may be nil.
type Config struct {
	States      *eventbus.TypedBus[model.StateEvent]
	Coordinates *eventbus.TypedBus[model.CoordinateEvent]
	History     History
	Cache       Cache
	Logger      logger.Logger
}

// Recorder drains the buses until its context ends.
type Recorder struct {
	wg sync.WaitGroup
}

// Start subscribes to the configured buses and records events until ctx is
// canceled. Write errors are logged and the event is dropped.
func Start(ctx context.Context, cfg Config) *Recorder {
	r := &Recorder{}
	log := cfg.Logger
	if log == nil {
		log = logger.New("recorder")
	}
	if cfg.States != nil && (cfg.History != nil || cfg.Cache != nil) {
		sub := cfg.States.Subscribe()
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer cfg.States.Unsubscribe(sub)
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-sub:
					if !ok {
						return
					}
					recordState(ctx, cfg, log, ev)
				}
			}
		}()
	}
	if cfg.Coordinates != nil && cfg.History != nil {
		sub := cfg.Coordinates.Subscribe()
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer cfg.Coordinates.Unsubscribe(sub)
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-sub:
					if !ok {
						return
					}
					wctx, cancel := context.WithTimeout(ctx, writeTimeout)
					if err := cfg.History.RecordCoordinate(wctx, ev.Coordinate, ev.Time); err != nil {
						log.Errorf("record coordinate: %v", err)
					}
					cancel()
				}
			}
		}()
	}
	return r
}

func recordState(ctx context.Context, cfg Config, log logger.Logger, ev model.StateEvent) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if cfg.History != nil {
		if err := cfg.History.RecordSnapshot(wctx, ev); err != nil {
			log.Errorf("record snapshot %s: %v", ev.CarID, err)
		}
	}
	if cfg.Cache != nil {
		if err := cfg.Cache.Put(wctx, ev.CarID, ev.Snapshot); err != nil {
			log.Errorf("cache snapshot %s: %v", ev.CarID, err)
		}
	}
}

// Wait blocks until every recorder goroutine has returned.
func (r *Recorder) Wait() { r.wg.Wait() }
