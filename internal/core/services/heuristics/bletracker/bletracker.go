// Package bletracker implements stalking analysis for BLE trackers
// (AirTag, Tile, SmartTag and the like) keyed by rotation-tolerant
// fingerprints.
package bletracker

import (
	"fmt"
	"time"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics"
	"github.com/MaxwellDPS/flocksense/internal/geo"
)

// ProximityPattern classifies how a tracker travels relative to the user.
type ProximityPattern string

const (
	// PatternPossession: strong signal, low variance — on the user's person.
	PatternPossession ProximityPattern = "possession"
	// PatternFollowing: strong signal, high variance — moving with the user.
	PatternFollowing ProximityPattern = "following"
	// PatternPassing: weak signal, high variance — ambient passers-by.
	PatternPassing ProximityPattern = "passing"
	PatternUnknown ProximityPattern = "unknown"
)

type distinctLocation struct {
	loc       geo.Location
	lastVisit time.Time
}

type trackerState struct {
	firstSeen time.Time
	lastSeen  time.Time
	duration  time.Duration

	locations []distinctLocation
	rssi      heuristics.Welford
}

// Analyzer owns per-fingerprint tracker state. Single writer.
type Analyzer struct {
	policy   config.BLETrackerPolicy
	trackers map[string]*trackerState
}

// New creates a BLE tracker analyzer.
func New(policy config.BLETrackerPolicy) *Analyzer {
	return &Analyzer{
		policy:   policy,
		trackers: make(map[string]*trackerState),
	}
}

// Protocol implements ports.Heuristic.
func (a *Analyzer) Protocol() domain.Protocol { return domain.ProtocolBLE }

// Flush implements ports.Heuristic. Stalking scores accumulate per
// sighting; there is no partial window to drain.
func (a *Analyzer) Flush() []domain.AnomalyRecord { return nil }

// Process consumes one BLE advertisement. Only advertisements with a
// stable fingerprint participate in stalking analysis.
func (a *Analyzer) Process(event domain.ScanEvent) []domain.AnomalyRecord {
	adv := event.BLE
	if adv == nil {
		return nil
	}
	fp := Fingerprint(adv)
	if fp == "" {
		return nil
	}

	st := a.track(fp, event)
	a.prune(event.Timestamp)

	score, pattern, factors := a.suspicion(st)
	if score < 20 {
		return nil
	}

	rec := heuristics.NewRecord(event, domain.AnomalyTrackerStalking,
		domain.DeviceUnknownTracker, confidenceFor(pattern), score)
	rec.Identity = fp
	for _, f := range factors {
		rec.Factors = append(rec.Factors, f)
	}
	return []domain.AnomalyRecord{rec}
}

// suspicion computes the weighted stalking score: distinct locations,
// time with the user, and proximity pattern, discounted when the
// passing-by pattern dominates.
func (a *Analyzer) suspicion(st *trackerState) (float64, ProximityPattern, []domain.Factor) {
	var factors []domain.Factor

	locCount := len(st.locations)
	locFraction := float64(locCount) / float64(a.policy.LocationCountFull)
	if locFraction > 1 {
		locFraction = 1
	}
	locScore := locFraction * a.policy.LocationWeight
	if locCount >= a.policy.LocationCountFull {
		factors = append(factors, domain.Factor{
			Name: "distinct_locations", Weight: locScore,
			Detail: fmt.Sprintf("seen at %d distinct locations", locCount)})
	} else if locCount > 1 {
		factors = append(factors, domain.Factor{
			Name: "distinct_locations_partial", Weight: locScore,
			Detail: fmt.Sprintf("seen at %d distinct locations", locCount)})
	}

	durFraction := st.duration.Seconds() / a.policy.DurationFull.Seconds()
	if durFraction > 1 {
		durFraction = 1
	}
	durScore := durFraction * a.policy.DurationWeight
	if durScore > 0 {
		factors = append(factors, domain.Factor{
			Name: "time_with_user", Weight: durScore,
			Detail: fmt.Sprintf("tracked alongside user for %s", st.duration.Round(time.Minute))})
	}

	pattern := a.classifyProximity(st)
	proxScore := 0.0
	switch pattern {
	case PatternFollowing:
		proxScore = a.policy.ProximityWeight
	case PatternPossession:
		proxScore = a.policy.ProximityWeight * 0.8
	}
	if proxScore > 0 {
		factors = append(factors, domain.Factor{
			Name: "proximity_" + string(pattern), Weight: proxScore,
			Detail: fmt.Sprintf("mean RSSI %.0f dBm, variance %.1f", st.rssi.Mean(), st.rssi.Variance())})
	}

	score := locScore + durScore + proxScore
	if pattern == PatternPassing {
		score *= a.policy.PassingDiscount
		factors = append(factors, domain.Factor{
			Name: "passing_discount", Weight: a.policy.PassingDiscount,
			Detail: "weak, highly variable signal dominates"})
	}

	return domain.ClampScore(score), pattern, factors
}

func (a *Analyzer) classifyProximity(st *trackerState) ProximityPattern {
	if st.rssi.Count() < a.policy.RSSISampleMin {
		return PatternUnknown
	}
	mean, variance := st.rssi.Mean(), st.rssi.Variance()
	switch {
	case mean >= a.policy.PossessionRSSIMin && variance <= a.policy.PossessionVarMax:
		return PatternPossession
	case mean >= a.policy.FollowingRSSIMin:
		return PatternFollowing
	default:
		return PatternPassing
	}
}

// track updates rolling state for one sighting. A new distinct location
// requires both the minimum separation radius and the minimum inter-visit
// time, so one dwell never counts as multiple sightings.
func (a *Analyzer) track(fp string, event domain.ScanEvent) *trackerState {
	st, ok := a.trackers[fp]
	if !ok {
		st = &trackerState{firstSeen: event.Timestamp}
		a.trackers[fp] = st
	}

	if !st.lastSeen.IsZero() {
		gap := event.Timestamp.Sub(st.lastSeen)
		if gap > 0 && gap < a.policy.MinRevisitInterval {
			st.duration += gap
		}
	}
	st.lastSeen = event.Timestamp
	st.rssi.Add(float64(event.RSSI))

	if event.HasFix {
		loc := geo.Location{Latitude: event.Latitude, Longitude: event.Longitude}
		matched := false
		for i := range st.locations {
			if geo.DistanceM(st.locations[i].loc, loc) < a.policy.MinSeparationM {
				st.locations[i].lastVisit = event.Timestamp
				matched = true
				break
			}
		}
		if !matched {
			if len(st.locations) == 0 ||
				event.Timestamp.Sub(lastVisit(st.locations)) >= a.policy.MinRevisitInterval {
				st.locations = append(st.locations, distinctLocation{loc: loc, lastVisit: event.Timestamp})
			}
		}
	}

	return st
}

func lastVisit(locs []distinctLocation) time.Time {
	var latest time.Time
	for _, l := range locs {
		if l.lastVisit.After(latest) {
			latest = l.lastVisit
		}
	}
	return latest
}

func (a *Analyzer) prune(now time.Time) {
	cutoff := now.Add(-a.policy.Retention)
	for fp, st := range a.trackers {
		if st.lastSeen.Before(cutoff) {
			delete(a.trackers, fp)
		}
	}
}

func confidenceFor(pattern ProximityPattern) float64 {
	switch pattern {
	case PatternFollowing:
		return 0.8
	case PatternPossession:
		return 0.7
	case PatternPassing:
		return 0.3
	default:
		return 0.5
	}
}
