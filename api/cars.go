package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// NewStatsHandler returns the snapshot of a car, creating it with baseline
// values if it is not known yet.
func NewStatsHandler(store CarStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "car id is required")
			return
		}
		writeJSON(w, http.StatusOK, store.Snapshot(id))
	})
}

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Services  HealthServices `json:"services"`
}

// HealthServices groups the per-component health details.
type HealthServices struct {
	MQTT  MQTTHealth  `json:"mqtt"`
	Stats StatsHealth `json:"stats"`
}

// MQTTHealth describes the transport connection.
type MQTTHealth struct {
	Connected          bool       `json:"connected"`
	LastConnectAttempt *time.Time `json:"lastConnectAttempt"`
}

// StatsHealth describes the emission side.
type StatsHealth struct {
	Status       string     `json:"status"`
	LastEmitTime *time.Time `json:"lastEmitTime"`
	CarCount     int        `json:"carCount"`
	Cars         []string   `json:"cars"`
}

// NewHealthHandler reports liveness plus connection and emission details.
// The endpoint answers 200 even while the broker is unreachable.
func NewHealthHandler(conn Connection, em EmissionStats, store CarStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		rep := HealthReport{Status: "UP", Timestamp: time.Now().UTC()}
		if conn != nil {
			rep.Services.MQTT.Connected = conn.IsConnected()
			rep.Services.MQTT.LastConnectAttempt = timePtr(conn.LastConnectAttempt())
		}
		rep.Services.Stats.Status = "idle"
		if em != nil {
			if em.ActiveCount() > 0 {
				rep.Services.Stats.Status = "running"
			}
			rep.Services.Stats.LastEmitTime = timePtr(em.LastEmit())
		}
		rep.Services.Stats.Cars = []string{}
		if store != nil {
			rep.Services.Stats.Cars = store.IDs()
			rep.Services.Stats.CarCount = len(rep.Services.Stats.Cars)
		}
		writeJSON(w, http.StatusOK, rep)
	})
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

