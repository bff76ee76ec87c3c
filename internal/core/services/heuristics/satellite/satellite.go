// Package satellite validates non-terrestrial network links against orbital
// physics: round-trip times, provider frequency allocations, sky
// visibility and handoff cadence.
package satellite

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics"
)

const lightSpeedKMS = 299792.458

// Orbit altitude bounds in kilometers. The slant factor stretches the
// maximum range for links near the horizon.
var orbitAltitudesKM = map[domain.OrbitClass][2]float64{
	domain.OrbitLEO: {300, 2000},
	domain.OrbitMEO: {8000, 20200},
	domain.OrbitGEO: {35786, 35786},
}

const horizonSlantFactor = 2.5

// rttWindowMS returns the physically reachable round-trip window for the
// orbit class: twice the path length at the speed of light, widened by the
// configured processing margin. Minimum never drops below the global floor.
func (a *Analyzer) rttWindowMS(orbit domain.OrbitClass) (min, max float64, ok bool) {
	alt, ok := orbitAltitudesKM[orbit]
	if !ok {
		return 0, 0, false
	}
	min = 2 * alt[0] / lightSpeedKMS * 1000
	max = 2*alt[1]*horizonSlantFactor/lightSpeedKMS*1000 + a.policy.OrbitRTTMarginMS
	if min < a.policy.RTTFloorMS {
		min = a.policy.RTTFloorMS
	}
	return min, max, true
}

type linkState struct {
	handoffs   *heuristics.SlidingCounter
	lastSatID  string
	lastAlertH time.Time
}

// Analyzer owns per-provider link state. Single writer.
type Analyzer struct {
	policy config.SatellitePolicy

	links map[string]*linkState
	env   domain.Environment
}

// New creates a satellite link analyzer.
func New(policy config.SatellitePolicy) *Analyzer {
	return &Analyzer{
		policy: policy,
		links:  make(map[string]*linkState),
		env:    domain.EnvUnknown,
	}
}

// Protocol implements ports.Heuristic.
func (a *Analyzer) Protocol() domain.Protocol { return domain.ProtocolSatellite }

// Flush implements ports.Heuristic.
func (a *Analyzer) Flush() []domain.AnomalyRecord { return nil }

// SetEnvironment updates the observer context used by the sky-visibility
// check. Called from the aggregation stage, which owns the correlator.
func (a *Analyzer) SetEnvironment(env domain.Environment) { a.env = env }

// Process consumes one link event.
func (a *Analyzer) Process(event domain.ScanEvent) []domain.AnomalyRecord {
	link := event.Satellite
	if link == nil {
		return nil
	}

	var records []domain.AnomalyRecord
	if rec := a.checkRTT(event, link); rec != nil {
		records = append(records, *rec)
	}
	if rec := a.checkBand(event, link); rec != nil {
		records = append(records, *rec)
	}
	if rec := a.checkVisibility(event, link); rec != nil {
		records = append(records, *rec)
	}
	if rec := a.checkForcedDowngrade(event, link); rec != nil {
		records = append(records, *rec)
	}
	if rec := a.checkHandoffs(event, link); rec != nil {
		records = append(records, *rec)
	}
	return records
}

// checkRTT validates the round trip against orbital physics. Below the
// global floor the link is impossible for every orbit class, full stop.
func (a *Analyzer) checkRTT(event domain.ScanEvent, link *domain.SatelliteLink) *domain.AnomalyRecord {
	if link.RTTMillis < a.policy.RTTFloorMS {
		rec := heuristics.NewRecord(event, domain.AnomalyImpossibleRTT, domain.DeviceSatelliteAnomaly, 0.95, 90)
		rec.AddFactor("rtt_floor", 90,
			fmt.Sprintf("%.1f ms RTT is below the %.0f ms physical floor for any orbit",
				link.RTTMillis, a.policy.RTTFloorMS))
		return &rec
	}

	min, max, ok := a.rttWindowMS(link.Orbit)
	if !ok {
		return nil
	}
	if link.RTTMillis >= min && link.RTTMillis <= max {
		return nil
	}
	rec := heuristics.NewRecord(event, domain.AnomalyImpossibleRTT, domain.DeviceSatelliteAnomaly, 0.85, 75)
	rec.AddFactor("rtt_window", 75,
		fmt.Sprintf("%.1f ms RTT outside %s window [%.1f, %.1f] ms",
			link.RTTMillis, link.Orbit, min, max))
	return &rec
}

// checkBand validates the carrier against the provider's allocations.
// Unknown providers are skipped; an empty allocation list is not evidence.
func (a *Analyzer) checkBand(event domain.ScanEvent, link *domain.SatelliteLink) *domain.AnomalyRecord {
	if link.FrequencyGHz == 0 {
		return nil
	}
	bands, ok := a.policy.ProviderBandsGHz[strings.ToLower(link.Provider)]
	if !ok || len(bands) == 0 {
		return nil
	}
	for _, b := range bands {
		if math.Abs(link.FrequencyGHz-b) <= a.policy.BandToleranceGHz {
			return nil
		}
	}
	rec := heuristics.NewRecord(event, domain.AnomalyBandMismatch, domain.DeviceSatelliteAnomaly, 0.8, 70)
	rec.AddFactor("band_mismatch", 70,
		fmt.Sprintf("%.3f GHz not allocated to %s", link.FrequencyGHz, link.Provider))
	return &rec
}

// checkVisibility flags a satellite link from an enclosed space. Satellite
// signals do not reach indoors or underground.
func (a *Analyzer) checkVisibility(event domain.ScanEvent, link *domain.SatelliteLink) *domain.AnomalyRecord {
	if !a.env.Enclosed() {
		return nil
	}
	rec := heuristics.NewRecord(event, domain.AnomalyIndoorSatellite, domain.DeviceSatelliteAnomaly, 0.8, 80)
	rec.AddFactor("indoor_link", 80,
		fmt.Sprintf("link to %s while observer context is %s", link.SatelliteID, a.env))
	return &rec
}

// checkForcedDowngrade flags satellite fallback right after an abrupt loss
// of good terrestrial coverage. Jamming terrestrial service to push a
// target onto an attacker-observable satellite path looks exactly like
// this; a user choosing satellite mode does not.
func (a *Analyzer) checkForcedDowngrade(event domain.ScanEvent, link *domain.SatelliteLink) *domain.AnomalyRecord {
	if !link.TerrestrialLost || link.UserInitiated {
		return nil
	}
	rec := heuristics.NewRecord(event, domain.AnomalyForcedDowngrade, domain.DeviceSatelliteAnomaly, 0.7, 65)
	rec.AddFactor("forced_fallback", 65,
		"terrestrial signal lost immediately before non-user-initiated satellite fallback")
	return &rec
}

// checkHandoffs compares handoff cadence against orbital pass intervals.
// A LEO bird is overhead minutes at a time; GEO never moves. Switching
// faster than the constellation geometry allows means the "satellites" are
// not where they claim to be.
func (a *Analyzer) checkHandoffs(event domain.ScanEvent, link *domain.SatelliteLink) *domain.AnomalyRecord {
	key := strings.ToLower(link.Provider)
	st, ok := a.links[key]
	if !ok {
		st = &linkState{handoffs: heuristics.NewSlidingCounter(a.policy.HandoffWindow)}
		a.links[key] = st
	}
	if st.lastSatID == link.SatelliteID {
		return nil
	}
	first := st.lastSatID == ""
	st.lastSatID = link.SatelliteID
	if first {
		return nil
	}

	count := st.handoffs.Add(event.Timestamp)
	max := a.handoffMax(link.Orbit)
	if count <= max {
		return nil
	}
	if !st.lastAlertH.IsZero() && event.Timestamp.Sub(st.lastAlertH) < a.policy.HandoffWindow {
		return nil
	}
	st.lastAlertH = event.Timestamp

	rec := heuristics.NewRecord(event, domain.AnomalyAbnormalHandoff, domain.DeviceSatelliteAnomaly, 0.65, 55)
	rec.AddFactor("handoff_rate", 55,
		fmt.Sprintf("%d handoffs in %s exceeds %d expected for %s passes",
			count, a.policy.HandoffWindow, max, link.Orbit))
	return &rec
}

func (a *Analyzer) handoffMax(orbit domain.OrbitClass) int {
	switch orbit {
	case domain.OrbitLEO:
		return a.policy.HandoffMaxLEO
	case domain.OrbitMEO:
		return a.policy.HandoffMaxMEO
	default:
		return a.policy.HandoffMaxGEO
	}
}
