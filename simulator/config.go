package simulator

import (
	"errors"
	"time"
)

// Default drive parameters: the route starts in Stuttgart and advances 10 km
// every 5 seconds.
const (
	DefaultStartLatitude  = 48.8603192
	DefaultStartLongitude = 9.1780495
	DefaultStepKm         = 10.0
	DefaultLocationTopic  = "world-drive/position"
)

// Config holds parameters for the simulator.
type Config struct {
	Cars                    int     `json:"cars"`
	IntervalSeconds         int     `json:"interval_seconds"`
	BatteryProfile          string  `json:"battery_profile"`
	LocationTopic           string  `json:"location_topic"`
	LocationIntervalSeconds int     `json:"location_interval_seconds"`
	StartLatitude           float64 `json:"start_latitude"`
	StartLongitude          float64 `json:"start_longitude"`
	StepKm                  float64 `json:"step_km"`
	Seed                    int64   `json:"seed"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Cars <= 0 {
		c.Cars = 1
	}
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = 2
	}
	if c.LocationTopic == "" {
		c.LocationTopic = DefaultLocationTopic
	}
	if c.LocationIntervalSeconds <= 0 {
		c.LocationIntervalSeconds = 5
	}
	if c.StartLatitude == 0 && c.StartLongitude == 0 {
		c.StartLatitude, c.StartLongitude = DefaultStartLatitude, DefaultStartLongitude
	}
	if c.StepKm <= 0 {
		c.StepKm = DefaultStepKm
	}
	if c.BatteryProfile == "" {
		c.BatteryProfile = "medium"
	}
}

// Validate checks the ranges that defaults cannot fix.
func (c Config) Validate() error {
	if c.StartLatitude < -90 || c.StartLatitude > 90 || c.StartLongitude < -180 || c.StartLongitude > 180 {
		return errors.New("simulator: start coordinate out of range")
	}
	if _, err := NewBattery(c.BatteryProfile); err != nil {
		return err
	}
	return nil
}

// Interval returns the telemetry publish period.
func (c Config) Interval() time.Duration { return time.Duration(c.IntervalSeconds) * time.Second }

// LocationInterval returns the route publish period.
func (c Config) LocationInterval() time.Duration {
	return time.Duration(c.LocationIntervalSeconds) * time.Second
}
