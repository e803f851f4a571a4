// Package ingress turns inbound transport messages into state changes.
package ingress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/cariot/core/carstate"
	"github.com/kilianp07/cariot/core/fanout"
	"github.com/kilianp07/cariot/core/logger"
	"github.com/kilianp07/cariot/core/metrics"
	"github.com/kilianp07/cariot/core/model"
	"github.com/kilianp07/cariot/core/topic"
	"github.com/kilianp07/cariot/internal/eventbus"
)

// ErrDecode is returned for payloads that cannot be applied.
var ErrDecode = errors.New("decode payload")

// Message kinds reported to the metrics recorder.
const (
	KindFull     = "full"
	KindField    = "field"
	KindLocation = "location"
)

// Adapter routes messages to the store and emits the resulting snapshots.
type Adapter struct {
	codec         *topic.Codec
	store         *carstate.Store
	emitter       fanout.Emitter
	locationEmit  fanout.Emitter
	locationTopic string
	coords        *eventbus.TypedBus[model.CoordinateEvent]
	log           logger.Logger
	rec           metrics.Recorder
	now           func() time.Time
}

// Config holds the Adapter collaborators. LocationEmitter defaults to Emitter.
// Every valid location is also published on Coordinates when set, whether or
// not any car is known.
type Config struct {
	Codec           *topic.Codec
	Store           *carstate.Store
	Emitter         fanout.Emitter
	LocationEmitter fanout.Emitter
	LocationTopic   string
	Coordinates     *eventbus.TypedBus[model.CoordinateEvent]
	Logger          logger.Logger
	Recorder        metrics.Recorder
}

// New creates an Adapter.
func New(cfg Config) *Adapter {
	a := &Adapter{
		codec:         cfg.Codec,
		store:         cfg.Store,
		emitter:       cfg.Emitter,
		locationEmit:  cfg.LocationEmitter,
		locationTopic: cfg.LocationTopic,
		coords:        cfg.Coordinates,
		log:           cfg.Logger,
		rec:           metrics.OrNop(cfg.Recorder),
		now:           time.Now,
	}
	if a.codec == nil {
		a.codec = topic.New("")
	}
	if a.locationEmit == nil {
		a.locationEmit = a.emitter
	}
	return a
}

// OnMessage handles one inbound message. Errors are logged and dropped so a
// bad message never stops ingestion.
func (a *Adapter) OnMessage(topicName string, payload []byte) {
	if err := a.Handle(topicName, payload); err != nil {
		reason := "decode"
		if errors.Is(err, topic.ErrTopicShape) {
			reason = "topic"
		}
		a.rec.IngressError(reason)
		if a.log != nil {
			a.log.Warnw("dropped inbound message", map[string]any{
				"topic": topicName, "bytes": len(payload), "error": err.Error(),
			})
		}
	}
}

// Handle applies one message and returns ErrDecode or topic.ErrTopicShape
// when it cannot.
func (a *Adapter) Handle(topicName string, payload []byte) error {
	if a.locationTopic != "" && topicName == a.locationTopic {
		return a.handleLocation(payload)
	}
	addr, err := a.codec.Parse(topicName)
	if err != nil {
		return err
	}
	value := DecodePayload(payload)
	if addr.FullUpdate() {
		fields, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: full update on %s is not an object", ErrDecode, topicName)
		}
		a.rec.IngressMessage(KindFull)
		if a.store.ApplyFullUpdate(addr.CarID, fields) {
			a.emitter.Emit(addr.CarID, a.store.Snapshot(addr.CarID))
		}
		return nil
	}
	a.rec.IngressMessage(KindField)
	if a.store.ApplySingleField(addr.CarID, addr.Subtopic, value) {
		a.emitter.Emit(addr.CarID, a.store.Snapshot(addr.CarID))
	}
	return nil
}

func (a *Adapter) handleLocation(payload []byte) error {
	coord, err := model.ParseCoordinate(payload)
	if err != nil {
		return fmt.Errorf("%w: location: %w", ErrDecode, err)
	}
	a.rec.IngressMessage(KindLocation)
	if a.coords != nil {
		a.coords.Publish(model.CoordinateEvent{Coordinate: coord, Time: a.now()})
	}
	ids := a.store.IDs()
	if len(ids) == 0 {
		if a.log != nil {
			a.log.Warnf("location update %.6f,%.6f ignored: no known cars", coord.Latitude, coord.Longitude)
		}
		return nil
	}
	for _, id := range ids {
		if a.store.SetLocation(id, coord) {
			a.locationEmit.Emit(id, a.store.Snapshot(id))
		}
	}
	return nil
}

// DecodePayload decodes JSON first, then the boolean literals, and falls back
// to the raw string.
func DecodePayload(payload []byte) any {
	var v any
	if err := json.Unmarshal(payload, &v); err == nil {
		return v
	}
	switch string(payload) {
	case "true":
		return true
	case "false":
		return false
	}
	return string(payload)
}
