package config

import (
	"errors"
	"time"
)

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Address string `json:"address"`
	// CommandToken, when set, is required as a bearer token on command routes.
	CommandToken string `json:"command_token"`
}

// SetDefaults applies sane defaults.
func (c *HTTPConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":3000"
	}
}

// Validate checks mandatory fields.
func (c HTTPConfig) Validate() error {
	if c.Address == "" {
		return errors.New("address is required")
	}
	return nil
}

// EmissionConfig holds the periodic emission settings.
type EmissionConfig struct {
	IntervalMillis int `json:"interval_ms"`
}

// SetDefaults applies the one second tick.
func (c *EmissionConfig) SetDefaults() {
	if c.IntervalMillis == 0 {
		c.IntervalMillis = 1000
	}
}

// Validate checks the interval is usable.
func (c EmissionConfig) Validate() error {
	if c.IntervalMillis < 10 {
		return errors.New("interval_ms must be at least 10")
	}
	return nil
}

// Interval returns the tick period.
func (c EmissionConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMillis) * time.Millisecond
}

// MetricsConfig configures Prometheus exposure. Without a dedicated address
// the metrics are served on the API server under /metrics.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}
