// Package api exposes the HTTP surface: command publishing, car snapshots,
// health, coordinate trail, command journal and the WebSocket gateway.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kilianp07/cariot/core/command"
	"github.com/kilianp07/cariot/core/logger"
	"github.com/kilianp07/cariot/core/model"
	"github.com/kilianp07/cariot/infra/history"
)

// Publisher sends validated commands.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) command.Result
	CommandTopic(carID, action string) string
}

// CarStore is the read side of the state store.
type CarStore interface {
	Snapshot(id string) model.Snapshot
	IDs() []string
	Count() int
}

// Connection reports the pub/sub transport state.
type Connection interface {
	IsConnected() bool
	LastConnectAttempt() time.Time
}

// EmissionStats reports the fan-out activity.
type EmissionStats interface {
	LastEmit() time.Time
	ActiveCount() int
}

// JournalReader lists recorded command attempts.
type JournalReader interface {
	Recent(ctx context.Context, carID string, limit int) ([]command.Entry, error)
}

// Deps are the collaborators of the router. Trail, Journal, Gateway and
// Metrics are optional.
type Deps struct {
	Publisher    Publisher
	Store        CarStore
	Connection   Connection
	Emissions    EmissionStats
	Trail        history.TrailReader
	Journal      JournalReader
	Gateway      http.Handler
	Metrics      http.Handler
	CommandToken string
	Logger       logger.Logger
}

// NewRouter builds the HTTP handler with every route mounted.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Logger))

	r.Get("/health", NewHealthHandler(d.Connection, d.Emissions, d.Store).ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(d.CommandToken))
		r.Post("/car/{id}/{action}", NewActionHandler(d.Publisher).ServeHTTP)
		r.Post("/entity/{id}/{action}", NewActionHandler(d.Publisher).ServeHTTP)
		r.Post("/command/publish", NewPublishHandler(d.Publisher).ServeHTTP)
		r.Post("/mqtt/publish", NewPublishHandler(d.Publisher).ServeHTTP)
		r.Get("/commands", NewJournalHandler(d.Journal).ServeHTTP)
	})

	r.Get("/car/{id}/stats", NewStatsHandler(d.Store).ServeHTTP)
	r.Get("/coordinates/trail", NewTrailHandler(d.Trail).ServeHTTP)

	if d.Gateway != nil {
		r.Handle("/ws", d.Gateway)
	}
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
	return r
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if log == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debugw("http request", map[string]any{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			})
		})
	}
}

// bearerAuth requires "Authorization: Bearer <token>" when token is non-empty.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
