// Package history persists emitted snapshots and received coordinates to
// InfluxDB and reads the coordinate trail back.
package history

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/cariot/core/model"
	"github.com/kilianp07/cariot/infra/logger"
)

// Measurement names.
const (
	MeasurementSnapshot   = "car_snapshot"
	MeasurementCoordinate = "coordinate"
)

// DefaultTrailLimit bounds trail queries without an explicit limit.
const DefaultTrailLimit = 100

// ErrDisabled is returned by a Nop history on reads.
var ErrDisabled = errors.New("history disabled")

// Config holds the InfluxDB connection settings.
type Config struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token"`
	Org     string `json:"org"`
	Bucket  string `json:"bucket"`
}

// Validate checks mandatory fields when history is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" || c.Org == "" || c.Bucket == "" {
		return errors.New("history: url, org and bucket are required")
	}
	return nil
}

// Writer persists telemetry points.
type Writer interface {
	RecordSnapshot(ctx context.Context, ev model.StateEvent) error
	RecordCoordinate(ctx context.Context, c model.Coordinate, at time.Time) error
}

// TrailReader returns the most recent coordinates, oldest first.
type TrailReader interface {
	Trail(ctx context.Context, limit int) ([]TrailPoint, error)
}

// History is the full read/write surface.
type History interface {
	Writer
	TrailReader
	Close()
}

// TrailPoint is one stored coordinate.
type TrailPoint struct {
	model.Coordinate
	Time time.Time `json:"time"`
}

// InfluxHistory writes to and queries an InfluxDB bucket using the official client.
type InfluxHistory struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	log      logger.Logger
}

// NewInfluxHistory creates a history configured for the given InfluxDB endpoint.
func NewInfluxHistory(cfg Config) *InfluxHistory {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxHistory{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		log:      logger.New("influx-history"),
	}
}

// NewInfluxHistoryWithFallback pings the InfluxDB instance and returns a Nop
// history if the health check fails.
func NewInfluxHistoryWithFallback(cfg Config) History {
	h := NewInfluxHistory(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := h.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			h.log.Errorf("influx health check error: %v", err)
		} else {
			h.log.Errorf("influx health status: %s", health.Status)
		}
		h.client.Close()
		return Nop{}
	}
	return h
}

// RecordSnapshot writes one emitted snapshot. Extra fields are not stored.
func (h *InfluxHistory) RecordSnapshot(ctx context.Context, ev model.StateEvent) error {
	s := ev.Snapshot
	p := write.NewPointWithMeasurement(MeasurementSnapshot).
		AddTag("car_id", ev.CarID).
		AddTag("source", ev.Source).
		AddField(model.FieldBattery, s.Battery).
		AddField(model.FieldRange, s.Range).
		AddField(model.FieldTemperature, s.Temperature).
		AddField(model.FieldLock, s.Lock).
		AddField(model.FieldLights, s.Lights).
		AddField(model.FieldClimate, s.Climate).
		AddField(model.FieldHeating, s.Heating).
		SetTime(ev.Time)
	if s.Latitude != nil && s.Longitude != nil {
		p.AddField(model.FieldLatitude, *s.Latitude).
			AddField(model.FieldLongitude, *s.Longitude)
	}
	return h.writeAPI.WritePoint(ctx, p)
}

// RecordCoordinate writes one received location.
func (h *InfluxHistory) RecordCoordinate(ctx context.Context, c model.Coordinate, at time.Time) error {
	p := write.NewPointWithMeasurement(MeasurementCoordinate).
		AddField(model.FieldLatitude, c.Latitude).
		AddField(model.FieldLongitude, c.Longitude).
		SetTime(at)
	return h.writeAPI.WritePoint(ctx, p)
}

// Trail returns up to limit of the latest coordinates in chronological order.
func (h *InfluxHistory) Trail(ctx context.Context, limit int) ([]TrailPoint, error) {
	if limit <= 0 {
		limit = DefaultTrailLimit
	}
	res, err := h.queryAPI.Query(ctx, trailQuery(h.bucket, limit))
	if err != nil {
		return nil, err
	}
	defer res.Close()

	var out []TrailPoint
	for res.Next() {
		rec := res.Record()
		lat, ok1 := rec.ValueByKey(model.FieldLatitude).(float64)
		lng, ok2 := rec.ValueByKey(model.FieldLongitude).(float64)
		if !ok1 || !ok2 {
			continue
		}
		out = append(out, TrailPoint{Coordinate: model.Coordinate{Latitude: lat, Longitude: lng}, Time: rec.Time()})
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func trailQuery(bucket string, limit int) string {
	var b strings.Builder
	b.WriteString(`from(bucket: "` + bucket + `")`)
	b.WriteString(` |> range(start: -30d)`)
	b.WriteString(` |> filter(fn: (r) => r._measurement == "` + MeasurementCoordinate + `")`)
	b.WriteString(` |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")`)
	b.WriteString(` |> sort(columns: ["_time"], desc: true)`)
	b.WriteString(` |> limit(n: ` + strconv.Itoa(limit) + `)`)
	b.WriteString(` |> sort(columns: ["_time"])`)
	return b.String()
}

// Close releases the underlying HTTP client.
func (h *InfluxHistory) Close() { h.client.Close() }

// Nop discards writes and reports ErrDisabled on reads.
type Nop struct{}

func (Nop) RecordSnapshot(context.Context, model.StateEvent) error              { return nil }
func (Nop) RecordCoordinate(context.Context, model.Coordinate, time.Time) error { return nil }
func (Nop) Trail(context.Context, int) ([]TrailPoint, error)                    { return nil, ErrDisabled }
func (Nop) Close()                                                              {}
