// Package app wires the configured components into one running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/cariot/api"
	"github.com/kilianp07/cariot/api/gateway"
	"github.com/kilianp07/cariot/config"
	"github.com/kilianp07/cariot/core/carstate"
	"github.com/kilianp07/cariot/core/command"
	"github.com/kilianp07/cariot/core/fanout"
	"github.com/kilianp07/cariot/core/ingress"
	coremetrics "github.com/kilianp07/cariot/core/metrics"
	"github.com/kilianp07/cariot/core/model"
	"github.com/kilianp07/cariot/core/subscription"
	"github.com/kilianp07/cariot/core/topic"
	"github.com/kilianp07/cariot/infra/broker"
	"github.com/kilianp07/cariot/infra/cache"
	"github.com/kilianp07/cariot/infra/history"
	"github.com/kilianp07/cariot/infra/journal"
	"github.com/kilianp07/cariot/infra/logger"
	"github.com/kilianp07/cariot/infra/metrics"
	"github.com/kilianp07/cariot/infra/mqtt"
	"github.com/kilianp07/cariot/infra/recorder"
	"github.com/kilianp07/cariot/internal/eventbus"
)

const (
	startupTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// emissionStats joins the fan-out clock and the registry count for /health.
type emissionStats struct {
	fan *fanout.Fanout
	reg *subscription.Registry
}

func (e emissionStats) LastEmit() time.Time { return e.fan.LastEmit() }
func (e emissionStats) ActiveCount() int    { return e.reg.ActiveCount() }

// Service owns every long-lived component.
type Service struct {
	cfg *config.Config
	log logger.Logger

	Store     *carstate.Store
	Fanout    *fanout.Fanout
	Registry  *subscription.Registry
	Hub       *gateway.Hub
	Ingress   *ingress.Adapter
	Client    *mqtt.Client
	Publisher *command.Publisher
	Broker    *broker.Broker
	Handler   http.Handler

	states *eventbus.TypedBus[model.StateEvent]
	coords *eventbus.TypedBus[model.CoordinateEvent]

	history history.History
	cache   *cache.SnapshotCache
	journal *journal.PGJournal
	rec     coremetrics.Recorder

	server *http.Server
	wg     sync.WaitGroup
}

// New creates a Service from the configuration. Optional backends that
// cannot be reached are logged and left out.
func New(cfg *config.Config) (*Service, error) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	log := logger.New("service")
	s := &Service{cfg: cfg, log: log, rec: coremetrics.NopRecorder{}}

	if cfg.Metrics.Enabled {
		rec, err := metrics.NewPromRecorder()
		if err != nil {
			return nil, fmt.Errorf("prom recorder: %w", err)
		}
		s.rec = rec
	}
	if cfg.Broker.Enabled {
		b, err := broker.New(cfg.Broker)
		if err != nil {
			return nil, fmt.Errorf("broker: %w", err)
		}
		s.Broker = b
	}

	codec := topic.New(cfg.MQTT.TopicNamespace)
	s.Store = carstate.NewStore(logger.New("store"))
	s.states = eventbus.NewTyped[model.StateEvent]()
	s.coords = eventbus.NewTyped[model.CoordinateEvent]()
	s.Fanout = fanout.New(s.states, s.rec)
	s.Registry = subscription.New(s.Store, s.Fanout.Source("tick"),
		subscription.WithInterval(cfg.Emission.Interval()),
		subscription.WithLogger(logger.New("registry")),
		subscription.WithRecorder(s.rec),
	)
	s.Hub = gateway.NewHub(cfg.WebSocket, codec, s.Registry, logger.New("gateway"), s.rec)
	s.Fanout.Attach(s.Hub)

	s.Ingress = ingress.New(ingress.Config{
		Codec:           codec,
		Store:           s.Store,
		Emitter:         s.Fanout.Source("ingress"),
		LocationEmitter: s.Fanout.Source("location"),
		LocationTopic:   cfg.MQTT.LocationTopic,
		Coordinates:     s.coords,
		Logger:          logger.New("ingress"),
		Recorder:        s.rec,
	})

	client, err := mqtt.NewClient(cfg.MQTT, logger.New("mqtt_client"))
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}
	s.Client = client

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	s.openBackends(ctx)

	opts := []command.Option{command.WithLogger(logger.New("command")), command.WithRecorder(s.rec)}
	if s.journal != nil {
		opts = append(opts, command.WithJournal(s.journal))
	}
	s.Publisher = command.NewPublisher(codec, s.Client, opts...)

	deps := api.Deps{
		Publisher:    s.Publisher,
		Store:        s.Store,
		Connection:   s.Client,
		Emissions:    emissionStats{fan: s.Fanout, reg: s.Registry},
		Gateway:      s.Hub,
		CommandToken: cfg.HTTP.CommandToken,
		Logger:       logger.New("http"),
	}
	if s.history != nil {
		deps.Trail = s.history
	}
	if s.journal != nil {
		deps.Journal = s.journal
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		deps.Metrics = promhttp.Handler()
	}
	s.Handler = api.NewRouter(deps)
	return s, nil
}

// openBackends connects the optional history, cache and journal.
func (s *Service) openBackends(ctx context.Context) {
	if s.cfg.History.Enabled {
		s.history = history.NewInfluxHistoryWithFallback(s.cfg.History)
	}
	if s.cfg.Cache.Enabled {
		c, err := cache.New(ctx, s.cfg.Cache)
		if err != nil {
			s.log.Warnf("snapshot cache disabled: %v", err)
		} else {
			s.cache = c
		}
	}
	if s.cfg.Journal.Enabled {
		j, err := journal.New(ctx, s.cfg.Journal)
		if err != nil {
			s.log.Warnf("command journal disabled: %v", err)
		} else {
			s.journal = j
		}
	}
}

// Run starts every component and blocks until ctx is canceled or the HTTP
// server fails.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.Broker != nil {
		if err := s.Broker.Start(); err != nil {
			return fmt.Errorf("broker: %w", err)
		}
		s.log.Infof("embedded broker listening on %s", s.Broker.URL())
	}
	if s.cache != nil {
		n, err := s.cache.Warm(ctx, s.Store)
		if err != nil {
			s.log.Warnf("cache warm-up: %v", err)
		}
		s.log.Infof("restored %d cars from cache", n)
	}

	rc := recorder.Config{States: s.states, Coordinates: s.coords, Logger: logger.New("recorder")}
	if s.history != nil {
		rc.History = s.history
	}
	if s.cache != nil {
		rc.Cache = s.cache
	}
	rec := recorder.Start(ctx, rc)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Hub.Run(ctx)
	}()

	if err := s.subscribe(); err != nil {
		return err
	}
	if err := s.Client.Connect(ctx); err != nil {
		s.log.Errorf("%v", err)
	}

	if s.cfg.Metrics.Enabled && s.cfg.Metrics.Address != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.Address); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	s.server = &http.Server{Addr: s.cfg.HTTP.Address, Handler: s.Handler, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP server listening on %s", s.cfg.HTTP.Address)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("http shutdown: %v", err)
	}
	s.Registry.Close()
	rec.Wait()
	return runErr
}

func (s *Service) subscribe() error {
	if err := s.Client.Subscribe(topic.New(s.cfg.MQTT.TopicNamespace).Wildcard(), s.cfg.MQTT.QoS, s.Ingress.OnMessage); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if s.cfg.MQTT.LocationTopic != "" {
		if err := s.Client.Subscribe(s.cfg.MQTT.LocationTopic, s.cfg.MQTT.QoS, s.Ingress.OnMessage); err != nil {
			return fmt.Errorf("subscribe location: %w", err)
		}
	}
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.Registry.Close()
	s.Client.Disconnect()
	s.wg.Wait()
	s.states.Close()
	s.coords.Close()
	if s.history != nil {
		s.history.Close()
	}
	if s.journal != nil {
		s.journal.Close()
	}
	var errs []error
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.Broker != nil {
		errs = append(errs, s.Broker.Close())
	}
	return errors.Join(errs...)
}
