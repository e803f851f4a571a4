// Package subscription tracks which real-time clients watch which cars and
// runs one periodic emission task per watched car.
package subscription

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/cariot/core/fanout"
	"github.com/kilianp07/cariot/core/logger"
	"github.com/kilianp07/cariot/core/metrics"
	"github.com/kilianp07/cariot/core/model"
)

// DefaultInterval is the emission period of an active car.
const DefaultInterval = time.Second

// Evolver advances a car's simulated state and returns its snapshot.
type Evolver interface {
	Evolve(carID string, r *rand.Rand) model.Snapshot
}

// Option configures a Registry.
type Option func(*Registry)

// WithInterval sets the emission period.
func WithInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithSource sets the factory for the random source handed to each task.
func WithSource(fn func() rand.Source) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newSource = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Registry) { r.rec = metrics.OrNop(rec) }
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns the subscriber sets and the decision to start or stop
// emitting for a car. A car is Active, with exactly one running task, iff it
// has at least one subscriber. All transitions happen under one lock.
type Registry struct {
	store     Evolver
	emitter   fanout.Emitter
	interval  time.Duration
	newSource func() rand.Source
	log       logger.Logger
	rec       metrics.Recorder

	mu      sync.Mutex
	subs    map[string]map[string]struct{} // car -> clients
	clients map[string]map[string]struct{} // client -> cars
	tasks   map[string]*task
	closed  bool
}

// New creates a Registry emitting snapshots produced by store to emitter.
func New(store Evolver, emitter fanout.Emitter, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		emitter:   emitter,
		interval:  DefaultInterval,
		newSource: func() rand.Source { return rand.NewSource(time.Now().UnixNano()) },
		rec:       metrics.NopRecorder{},
		subs:      map[string]map[string]struct{}{},
		clients:   map[string]map[string]struct{}{},
		tasks:     map[string]*task{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Subscribe adds clientID to the subscribers of carID and starts the
// emission task if the car was idle. Subscribing twice is a no-op.
func (r *Registry) Subscribe(carID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	set, ok := r.subs[carID]
	if !ok {
		set = map[string]struct{}{}
		r.subs[carID] = set
	}
	set[clientID] = struct{}{}
	cars, ok := r.clients[clientID]
	if !ok {
		cars = map[string]struct{}{}
		r.clients[clientID] = cars
	}
	cars[carID] = struct{}{}

	if _, running := r.tasks[carID]; !running {
		r.startLocked(carID)
	}
}

// Unsubscribe removes clientID from carID. When the last subscriber leaves
// the task is cancelled and Unsubscribe returns once it has exited.
func (r *Registry) Unsubscribe(carID, clientID string) {
	r.mu.Lock()
	t := r.removeLocked(carID, clientID)
	r.mu.Unlock()
	wait(t)
}

// RemoveClient drops every subscription held by clientID.
func (r *Registry) RemoveClient(clientID string) {
	r.mu.Lock()
	var stopped []*task
	for carID := range r.clients[clientID] {
		if t := r.removeLocked(carID, clientID); t != nil {
			stopped = append(stopped, t)
		}
	}
	r.mu.Unlock()
	wait(stopped...)
}

// Subscribers returns the client ids subscribed to carID, sorted.
func (r *Registry) Subscribers(carID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subs[carID]))
	for id := range r.subs[carID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Active reports whether carID has a running emission task.
func (r *Registry) Active(carID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[carID]
	return ok
}

// ActiveCount returns the number of cars with a running task.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Close stops every task and refuses further subscriptions.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	stopped := make([]*task, 0, len(r.tasks))
	for carID, t := range r.tasks {
		t.cancel()
		stopped = append(stopped, t)
		delete(r.tasks, carID)
	}
	r.subs = map[string]map[string]struct{}{}
	r.clients = map[string]map[string]struct{}{}
	r.rec.ActiveEmitters(0)
	r.mu.Unlock()
	wait(stopped...)
}

// removeLocked returns the cancelled task when carID became idle.
func (r *Registry) removeLocked(carID, clientID string) *task {
	if cars, ok := r.clients[clientID]; ok {
		delete(cars, carID)
		if len(cars) == 0 {
			delete(r.clients, clientID)
		}
	}
	set, ok := r.subs[carID]
	if !ok {
		return nil
	}
	delete(set, clientID)
	if len(set) > 0 {
		return nil
	}
	delete(r.subs, carID)
	t, ok := r.tasks[carID]
	if !ok {
		return nil
	}
	t.cancel()
	delete(r.tasks, carID)
	r.rec.ActiveEmitters(len(r.tasks))
	if r.log != nil {
		r.log.Infof("stopped emitting for car %s", carID)
	}
	return t
}

func (r *Registry) startLocked(carID string) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	r.tasks[carID] = t
	r.rec.ActiveEmitters(len(r.tasks))
	if r.log != nil {
		r.log.Infof("started emitting for car %s every %s", carID, r.interval)
	}
	go r.run(ctx, carID, t, rand.New(r.newSource()))
}

func (r *Registry) run(ctx context.Context, carID string, t *task, rng *rand.Rand) {
	defer close(t.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			snap := r.store.Evolve(carID, rng)
			r.emitter.Emit(carID, snap)
		}
	}
}

func wait(tasks ...*task) {
	for _, t := range tasks {
		if t != nil {
			<-t.done
		}
	}
}
