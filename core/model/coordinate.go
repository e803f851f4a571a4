package model

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidCoordinate is returned when a payload carries no usable latitude
// and longitude.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate is a WGS84 position.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ParseCoordinate decodes a coordinate from either {latitude, longitude} or
// the short {lat, lng} form used by the drive simulator.
func ParseCoordinate(data []byte) (Coordinate, error) {
	var raw struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Lat       *float64 `json:"lat"`
		Lng       *float64 `json:"lng"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Coordinate{}, err
	}
	lat, lng := raw.Latitude, raw.Longitude
	if lat == nil {
		lat = raw.Lat
	}
	if lng == nil {
		lng = raw.Lng
	}
	if lat == nil || lng == nil {
		return Coordinate{}, ErrInvalidCoordinate
	}
	if *lat < -90 || *lat > 90 || *lng < -180 || *lng > 180 {
		return Coordinate{}, ErrInvalidCoordinate
	}
	return Coordinate{Latitude: *lat, Longitude: *lng}, nil
}

// CoordinateEvent is published for every accepted location message.
type CoordinateEvent struct {
	Coordinate Coordinate
	Time       time.Time
}
