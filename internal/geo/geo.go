package geo

import (
	"math"
	"time"
)

// Location represents a geographic coordinate.
type Location struct {
	Latitude  float64
	Longitude float64
}

const earthRadiusM = 6371000.0

// DistanceM returns the great-circle distance between two points in meters.
func DistanceM(a, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// SpeedMPS returns the implied speed between two timed positions.
// Returns 0 when the interval is not positive.
func SpeedMPS(a, b Location, from, to time.Time) float64 {
	dt := to.Sub(from).Seconds()
	if dt <= 0 {
		return 0
	}
	return DistanceM(a, b) / dt
}

// MovementClass buckets an estimated speed.
type MovementClass string

const (
	MoveStationary MovementClass = "stationary"
	MoveWalking    MovementClass = "walking"
	MoveVehicle    MovementClass = "vehicle"
	MoveImpossible MovementClass = "impossible"
)

// Speed bucket boundaries in m/s.
const (
	walkingMaxMPS    = 2.5
	vehicleMaxMPS    = 55.0  // ~200 km/h
	impossibleMinMPS = 139.0 // ~500 km/h, beyond ground travel
)

// ClassifyMovement buckets a speed estimate into movement classes.
func ClassifyMovement(speedMPS float64) MovementClass {
	switch {
	case speedMPS >= impossibleMinMPS:
		return MoveImpossible
	case speedMPS > vehicleMaxMPS:
		// Between vehicle and impossible: treat as vehicle, fast trains exist.
		return MoveVehicle
	case speedMPS > walkingMaxMPS:
		return MoveVehicle
	case speedMPS > 0.5:
		return MoveWalking
	default:
		return MoveStationary
	}
}

// DistinctLocations counts positions separated by at least minSepM meters,
// greedily anchoring the first point of each cluster. Shared by the
// stalking, following-network and correlation analyses so they cluster
// identically.
func DistinctLocations(points []Location, minSepM float64) int {
	var anchors []Location
	for _, p := range points {
		far := true
		for _, a := range anchors {
			if DistanceM(a, p) < minSepM {
				far = false
				break
			}
		}
		if far {
			anchors = append(anchors, p)
		}
	}
	return len(anchors)
}

// PathCorrelation returns the fraction of observer path points that have a
// sighting of the tracked identity within radiusM. 1.0 means the identity
// shadowed the whole path.
func PathCorrelation(path, sightings []Location, radiusM float64) float64 {
	if len(path) == 0 || len(sightings) == 0 {
		return 0
	}
	matched := 0
	for _, p := range path {
		for _, s := range sightings {
			if DistanceM(p, s) <= radiusM {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(path))
}

// Provider defines the interface for obtaining the current location.
type Provider interface {
	GetLocation() Location
}

// StaticProvider implements Provider with a fixed location.
type StaticProvider struct {
	Lat float64
	Lng float64
}

// NewStaticProvider creates a provider that always returns the same location.
func NewStaticProvider(lat, lng float64) *StaticProvider {
	return &StaticProvider{Lat: lat, Lng: lng}
}

// GetLocation returns the fixed location.
func (s *StaticProvider) GetLocation() Location {
	return Location{Latitude: s.Lat, Longitude: s.Lng}
}
