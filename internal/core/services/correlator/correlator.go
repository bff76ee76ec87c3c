// Package correlator maintains per-identity location history and derives
// the spatio-temporal context the scoring engine folds into detections:
// distinct-location counts, cross-protocol coincidence, environmental
// classification and anomaly debouncing.
package correlator

import (
	"fmt"
	"time"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/geo"
)

type identityHistory struct {
	sightings []domain.LocationSighting
	lastSeen  time.Time
}

type recentAnomaly struct {
	protocol domain.Protocol
	identity string
	at       time.Time
	loc      geo.Location
	hasFix   bool
}

// Correlator is owned and driven by the aggregation stage; it is not safe
// for concurrent use.
type Correlator struct {
	policy config.CorrelatorPolicy

	histories map[string]*identityHistory
	debounced map[string]time.Time
	recent    []recentAnomaly

	env        domain.Environment
	lastSpeed  float64
	lastFixLoc geo.Location
	lastFixAt  time.Time
	hasLastFix bool
}

// New creates a correlator.
func New(policy config.CorrelatorPolicy) *Correlator {
	return &Correlator{
		policy:    policy,
		histories: make(map[string]*identityHistory),
		debounced: make(map[string]time.Time),
		env:       domain.EnvUnknown,
	}
}

// Observe records an event's location against its identity and refreshes
// the environmental classification.
func (c *Correlator) Observe(event domain.ScanEvent) {
	if event.HasFix {
		c.recordSighting(event)
		c.updateSpeed(event)
	}
	if event.GNSS != nil {
		c.classifyEnvironment(event.GNSS)
	}
	c.pruneHistories(event.Timestamp)
}

func (c *Correlator) recordSighting(event domain.ScanEvent) {
	h, ok := c.histories[event.Identity]
	if !ok {
		h = &identityHistory{}
		c.histories[event.Identity] = h
	}
	h.lastSeen = event.Timestamp
	h.sightings = append(h.sightings, domain.LocationSighting{
		Latitude:  event.Latitude,
		Longitude: event.Longitude,
		Timestamp: event.Timestamp,
		RSSI:      event.RSSI,
	})
	if len(h.sightings) > c.policy.MaxSightings {
		h.sightings = h.sightings[len(h.sightings)-c.policy.MaxSightings:]
	}
}

func (c *Correlator) updateSpeed(event domain.ScanEvent) {
	loc := geo.Location{Latitude: event.Latitude, Longitude: event.Longitude}
	if c.hasLastFix && event.Timestamp.After(c.lastFixAt) {
		c.lastSpeed = geo.SpeedMPS(c.lastFixLoc, loc, c.lastFixAt, event.Timestamp)
	}
	c.lastFixLoc = loc
	c.lastFixAt = event.Timestamp
	c.hasLastFix = true
}

// classifyEnvironment buckets the observer's surroundings from satellite
// visibility and movement speed. Few visible satellites with no fix means
// the sky is blocked; sustained high speed over water or in the air
// changes which anomalies are plausible.
func (c *Correlator) classifyEnvironment(fix *domain.GNSSFix) {
	switch {
	case c.lastSpeed >= c.policy.AviationSpeedMPS:
		c.env = domain.EnvAviation
	case c.lastSpeed >= c.policy.MaritimeSpeedMPS && fix.VisibleCount >= c.policy.RuralSatCountMin:
		c.env = domain.EnvMaritime
	case fix.VisibleCount == 0 || (fix.VisibleCount <= 2 && len(fix.UsedSatellites()) == 0):
		c.env = domain.EnvIndoor
	case fix.VisibleCount <= c.policy.UrbanSatCountMax:
		c.env = domain.EnvUrban
	case fix.VisibleCount >= c.policy.RuralSatCountMin:
		c.env = domain.EnvRural
	default:
		c.env = domain.EnvUnknown
	}
}

// Environment returns the current classification.
func (c *Correlator) Environment() domain.Environment { return c.env }

// Debounce reports whether an anomaly of this kind for this identity fired
// inside the debounce interval, and records the occurrence otherwise.
// Event time drives the interval so replays stay deterministic.
func (c *Correlator) Debounce(rec domain.AnomalyRecord) bool {
	key := fmt.Sprintf("%s|%s|%s", rec.Protocol, rec.Identity, rec.Type)
	if last, ok := c.debounced[key]; ok && rec.EventTime.Sub(last) < c.policy.Debounce {
		return true
	}
	c.debounced[key] = rec.EventTime
	return false
}

// RecordAnomaly adds an anomaly to the cross-protocol coincidence window.
func (c *Correlator) RecordAnomaly(rec domain.AnomalyRecord, window time.Duration) {
	c.recent = append(c.recent, recentAnomaly{
		protocol: rec.Protocol,
		identity: rec.Identity,
		at:       rec.EventTime,
		loc:      geo.Location{Latitude: rec.Latitude, Longitude: rec.Longitude},
		hasFix:   rec.HasFix,
	})
	cutoff := rec.EventTime.Add(-window)
	i := 0
	for i < len(c.recent) && c.recent[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.recent = c.recent[i:]
	}
}

// CrossProtocolHit reports whether a different protocol raised an anomaly
// inside the window, at a plausible distance when both carry a fix.
func (c *Correlator) CrossProtocolHit(rec domain.AnomalyRecord, window time.Duration) bool {
	cutoff := rec.EventTime.Add(-window)
	loc := geo.Location{Latitude: rec.Latitude, Longitude: rec.Longitude}
	for i := len(c.recent) - 1; i >= 0; i-- {
		r := c.recent[i]
		if r.at.Before(cutoff) {
			break
		}
		if r.protocol == rec.Protocol {
			continue
		}
		if r.hasFix && rec.HasFix && geo.DistanceM(r.loc, loc) > c.policy.DistinctRadiusM*4 {
			continue
		}
		return true
	}
	return false
}

// DistinctLocations counts sightings of an identity separated by at least
// the distinct radius.
func (c *Correlator) DistinctLocations(identity string) int {
	h, ok := c.histories[identity]
	if !ok {
		return 0
	}
	points := make([]geo.Location, len(h.sightings))
	for i, s := range h.sightings {
		points[i] = geo.Location{Latitude: s.Latitude, Longitude: s.Longitude}
	}
	return geo.DistinctLocations(points, c.policy.DistinctRadiusM)
}

// Sightings returns the retained location history for an identity.
func (c *Correlator) Sightings(identity string) []domain.LocationSighting {
	h, ok := c.histories[identity]
	if !ok {
		return nil
	}
	out := make([]domain.LocationSighting, len(h.sightings))
	copy(out, h.sightings)
	return out
}

func (c *Correlator) pruneHistories(now time.Time) {
	cutoff := now.Add(-c.policy.Retention)
	for id, h := range c.histories {
		i := 0
		for i < len(h.sightings) && h.sightings[i].Timestamp.Before(cutoff) {
			i++
		}
		if i > 0 {
			h.sightings = h.sightings[i:]
		}
		if len(h.sightings) == 0 && h.lastSeen.Before(cutoff) {
			delete(c.histories, id)
		}
	}
}
