package simulator

import (
	"math"
	"math/rand"

	"github.com/kilianp07/cariot/core/model"
)

const earthRadiusKm = 6371.0088

// maxTurnDegrees is the largest heading change applied per step, either way.
const maxTurnDegrees = 36.0

// Route is a random walk over the globe: each step moves a fixed distance
// along the current heading, then turns by up to ±36°.
type Route struct {
	pos     model.Coordinate
	heading float64 // degrees in (-180, 180]
	stepKm  float64
	rng     *rand.Rand
}

// NewRoute starts a route at start with a random heading.
func NewRoute(start model.Coordinate, stepKm float64, rng *rand.Rand) *Route {
	return &Route{pos: start, heading: normalizeHeading(rng.Float64() * 360), stepKm: stepKm, rng: rng}
}

// Position returns the current coordinate.
func (r *Route) Position() model.Coordinate { return r.pos }

// Heading returns the current heading in degrees.
func (r *Route) Heading() float64 { return r.heading }

// Next advances the route by one step and returns the new coordinate.
func (r *Route) Next() model.Coordinate {
	r.pos = Destination(r.pos, r.stepKm, r.heading)
	r.heading = normalizeHeading(r.heading + (r.rng.Float64()-0.5)*2*maxTurnDegrees)
	return r.pos
}

// Destination returns the point reached travelling distanceKm from origin
// along the great circle with initial bearing bearingDeg.
func Destination(origin model.Coordinate, distanceKm, bearingDeg float64) model.Coordinate {
	lat1 := origin.Latitude * math.Pi / 180
	lng1 := origin.Longitude * math.Pi / 180
	brg := bearingDeg * math.Pi / 180
	d := distanceKm / earthRadiusKm

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brg))
	lng2 := lng1 + math.Atan2(math.Sin(brg)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))

	return model.Coordinate{
		Latitude:  lat2 * 180 / math.Pi,
		Longitude: normalizeHeading(lng2 * 180 / math.Pi),
	}
}

// Distance returns the haversine distance in km.
func Distance(a, b model.Coordinate) float64 {
	lat1, lat2 := a.Latitude*math.Pi/180, b.Latitude*math.Pi/180
	dLat := lat2 - lat1
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// normalizeHeading wraps degrees into (-180, 180].
func normalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg > 180 {
		deg -= 360
	} else if deg <= -180 {
		deg += 360
	}
	return deg
}
