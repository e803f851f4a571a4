package ingress

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cariot/core/carstate"
	"github.com/kilianp07/cariot/core/fanout"
	"github.com/kilianp07/cariot/core/model"
	"github.com/kilianp07/cariot/core/topic"
	"github.com/kilianp07/cariot/internal/eventbus"
)

type recordingEmitter struct {
	calls []string
	snaps map[string]model.Snapshot
}

func (r *recordingEmitter) Emit(id string, snap model.Snapshot) {
	if r.snaps == nil {
		r.snaps = map[string]model.Snapshot{}
	}
	r.calls = append(r.calls, id)
	r.snaps[id] = snap
}

type warnLogger struct {
	warnings int
}

func (l *warnLogger) Debugf(string, ...any)         {}
func (l *warnLogger) Debugw(string, map[string]any) {}
func (l *warnLogger) Infof(string, ...any)          {}
func (l *warnLogger) Warnf(string, ...any)          { l.warnings++ }
func (l *warnLogger) Warnw(string, map[string]any)  { l.warnings++ }
func (l *warnLogger) Errorf(string, ...any)         {}

func newAdapter(t *testing.T) (*Adapter, *carstate.Store, *recordingEmitter, *warnLogger) {
	t.Helper()
	store := carstate.NewStore(nil)
	em := &recordingEmitter{}
	log := &warnLogger{}
	a := New(Config{
		Codec:         topic.New("car"),
		Store:         store,
		Emitter:       em,
		LocationTopic: "world-drive/position",
		Logger:        log,
	})
	return a, store, em, log
}

func TestDecodePayload(t *testing.T) {
	assert.Equal(t, map[string]any{"lock": true}, DecodePayload([]byte(`{"lock":true}`)))
	assert.Equal(t, true, DecodePayload([]byte("true")))
	assert.Equal(t, false, DecodePayload([]byte("false")))
	assert.Equal(t, 42.0, DecodePayload([]byte("42")))
	assert.Equal(t, "open", DecodePayload([]byte("open")))
	assert.Equal(t, "", DecodePayload(nil))
}

func TestFullUpdateEmitsOnlyOnChange(t *testing.T) {
	a, store, em, _ := newAdapter(t)
	require.NoError(t, a.Handle("car/car-1", []byte(`{"battery":80,"lock":true}`)))
	assert.Equal(t, []string{"car-1"}, em.calls)
	assert.Equal(t, 80.0, em.snaps["car-1"].Battery)
	assert.True(t, store.GetOrCreate("car-1").Lock)

	require.NoError(t, a.Handle("car/car-1/stats", []byte(`{"battery":80,"lock":true}`)))
	assert.Len(t, em.calls, 1, "unchanged full update must not emit")

	require.NoError(t, a.Handle("car/car-1/stats", []byte(`{"battery":null,"lights":true}`)))
	assert.Len(t, em.calls, 2)
	assert.Equal(t, 80.0, store.GetOrCreate("car-1").Battery)
}

func TestSingleFieldAlwaysEmits(t *testing.T) {
	a, store, em, _ := newAdapter(t)
	require.NoError(t, a.Handle("car/car-1/lock", []byte("true")))
	require.NoError(t, a.Handle("car/car-1/lock", []byte("true")))
	assert.Len(t, em.calls, 2)
	assert.True(t, store.GetOrCreate("car-1").Lock)

	require.NoError(t, a.Handle("car/car-1/doors/rear", []byte("ajar")))
	assert.Equal(t, "ajar", store.GetOrCreate("car-1").Extra["doors/rear"])
}

func TestMalformedInputIsSwallowed(t *testing.T) {
	a, store, em, log := newAdapter(t)

	err := a.Handle("car", []byte("{}"))
	assert.True(t, errors.Is(err, topic.ErrTopicShape))
	err = a.Handle("car/car-1", []byte("not an object"))
	assert.True(t, errors.Is(err, ErrDecode))

	a.OnMessage("car", []byte("{}"))
	a.OnMessage("car/car-1/stats", []byte("[1,2]"))
	a.OnMessage("world-drive/position", []byte("{"))
	assert.Equal(t, 3, log.warnings)
	assert.Empty(t, em.calls)

	// ingestion keeps working after bad input
	a.OnMessage("car/car-1/heating", []byte("true"))
	assert.True(t, store.GetOrCreate("car-1").Heating)
}

func TestLocationWithoutCarsWarns(t *testing.T) {
	a, store, em, log := newAdapter(t)
	require.NoError(t, a.Handle("world-drive/position", []byte(`{"lat":48.86,"lng":9.18}`)))
	assert.Equal(t, 0, store.Count())
	assert.Empty(t, em.calls)
	assert.Equal(t, 1, log.warnings)
}

func TestLocationBroadcastsToAllCars(t *testing.T) {
	a, store, em, _ := newAdapter(t)
	store.GetOrCreate("car-1")
	store.GetOrCreate("car-2")
	require.NoError(t, a.Handle("world-drive/position", []byte(`{"lat":48.86,"lng":9.18}`)))

	assert.ElementsMatch(t, []string{"car-1", "car-2"}, em.calls)
	for _, id := range []string{"car-1", "car-2"} {
		snap := store.Snapshot(id)
		require.NotNil(t, snap.Latitude, id)
		assert.Equal(t, 48.86, *snap.Latitude)
		assert.Equal(t, 9.18, *snap.Longitude)
	}
}

func TestLocationEmitterOverride(t *testing.T) {
	store := carstate.NewStore(nil)
	store.GetOrCreate("car-1")
	main := &recordingEmitter{}
	var located []string
	a := New(Config{
		Store:           store,
		Emitter:         main,
		LocationEmitter: fanout.EmitterFunc(func(id string, _ model.Snapshot) { located = append(located, id) }),
		LocationTopic:   "pos",
	})
	require.NoError(t, a.Handle("pos", []byte(`{"latitude":1,"longitude":2}`)))
	assert.Empty(t, main.calls)
	assert.Equal(t, []string{"car-1"}, located)
}

func TestLocationPublishedEvenWithoutCars(t *testing.T) {
	bus := eventbus.NewTyped[model.CoordinateEvent]()
	sub := bus.Subscribe()
	a := New(Config{
		Store:         carstate.NewStore(nil),
		Emitter:       &recordingEmitter{},
		LocationTopic: "pos",
		Coordinates:   bus,
	})
	require.NoError(t, a.Handle("pos", []byte(`{"lat":48.86,"lng":9.18}`)))
	require.Error(t, a.Handle("pos", []byte(`{"lat":120,"lng":9.18}`)))

	ev := <-sub
	assert.Equal(t, model.Coordinate{Latitude: 48.86, Longitude: 9.18}, ev.Coordinate)
	assert.False(t, ev.Time.IsZero())
	select {
	case extra := <-sub:
		t.Fatalf("unexpected coordinate event %+v", extra)
	default:
	}
}
