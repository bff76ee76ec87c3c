package domain

import "time"

// LocationSighting records where an identity was observed. Entries are
// append-only per identity and pruned by the retention window.
type LocationSighting struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	RSSI      int       `json:"rssi,omitempty"`
}

// DetectionMethod records which path produced a detection.
type DetectionMethod string

const (
	MethodSignature   DetectionMethod = "signature"
	MethodHeuristic   DetectionMethod = "heuristic"
	MethodCorrelation DetectionMethod = "correlation"
)

// Detection is the durable aggregate the engine maintains per
// (protocol, identity). It is created on first signature match or anomaly
// and updated on every subsequent matching event inside the debounce
// window. The engine never deletes detections; retention is owned by the
// persistence collaborator.
type Detection struct {
	ID         string          `json:"id"`
	Protocol   Protocol        `json:"protocol"`
	Identity   string          `json:"identity"`
	DeviceType DeviceType      `json:"device_type"`
	Category   Category        `json:"category"`
	Method     DetectionMethod `json:"method"`

	Score ThreatScore `json:"score"`
	Level ThreatLevel `json:"level"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	SeenCount int       `json:"seen_count"`
	Active    bool      `json:"active"`

	// CriticalConfirmed latches once the score crosses the CRITICAL
	// boundary inside the active window; it drives the no-silent-downgrade
	// floor in the scoring engine.
	CriticalConfirmed bool `json:"critical_confirmed"`

	Sightings []LocationSighting `json:"sightings,omitempty"`
	Anomalies []AnomalyRecord    `json:"anomalies,omitempty"`
}

// RecordSighting bumps the aggregate for a new matching event.
func (d *Detection) RecordSighting(ts time.Time, lat, lng float64, hasFix bool, rssi int) {
	if d.FirstSeen.IsZero() || ts.Before(d.FirstSeen) {
		d.FirstSeen = ts
	}
	if ts.After(d.LastSeen) {
		d.LastSeen = ts
	}
	d.SeenCount++
	d.Active = true
	if hasFix {
		d.Sightings = append(d.Sightings, LocationSighting{
			Latitude:  lat,
			Longitude: lng,
			Timestamp: ts,
			RSSI:      rssi,
		})
	}
}

// AppendAnomaly attaches a finding to the aggregate's evidence list.
func (d *Detection) AppendAnomaly(rec AnomalyRecord) {
	d.Anomalies = append(d.Anomalies, rec)
}

// ApplyScore installs a recomputed score and latches CRITICAL confirmation.
func (d *Detection) ApplyScore(s ThreatScore) {
	d.Score = s
	d.Level = LevelForScore(s.Value)
	if d.Level == LevelCritical {
		d.CriticalConfirmed = true
	}
}

// PruneSightings drops sightings older than the retention cutoff. The kept
// entries go into a fresh slice: shallow copies of the aggregate handed to
// collaborators keep reading the old backing array untouched.
func (d *Detection) PruneSightings(cutoff time.Time) int {
	removed := 0
	for _, s := range d.Sightings {
		if !s.Timestamp.After(cutoff) {
			removed++
		}
	}
	if removed == 0 {
		return 0
	}
	kept := make([]LocationSighting, 0, len(d.Sightings)-removed)
	for _, s := range d.Sightings {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	d.Sightings = kept
	return removed
}

// Duration returns how long the identity has been observed.
func (d *Detection) Duration() time.Duration {
	if d.FirstSeen.IsZero() {
		return 0
	}
	return d.LastSeen.Sub(d.FirstSeen)
}
