// Package gnss implements spoofing, jamming, and meaconing detection over
// satellite fix snapshots.
package gnss

import (
	"fmt"
	"math"
	"time"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics"
	"github.com/MaxwellDPS/flocksense/internal/geo"
)

type positionSample struct {
	loc geo.Location
	ts  time.Time
}

// DriftTrend classifies the rolling clock-bias behavior.
type DriftTrend string

const (
	DriftStable     DriftTrend = "stable"
	DriftIncreasing DriftTrend = "increasing"
	DriftDecreasing DriftTrend = "decreasing"
	DriftErratic    DriftTrend = "erratic"
)

// Analyzer owns the GNSS rolling state. Single writer.
type Analyzer struct {
	policy config.GNSSPolicy

	clockBias []float64
	positions []positionSample

	suppressUntil time.Time
}

// New creates a GNSS analyzer with the given policy.
func New(policy config.GNSSPolicy) *Analyzer {
	return &Analyzer{policy: policy}
}

// Protocol implements ports.Heuristic.
func (a *Analyzer) Protocol() domain.Protocol { return domain.ProtocolGNSS }

// Flush implements ports.Heuristic. GNSS evaluates per fix snapshot; a
// partial position window below the sample minimum emits nothing.
func (a *Analyzer) Flush() []domain.AnomalyRecord { return nil }

// Process consumes one fix snapshot.
func (a *Analyzer) Process(event domain.ScanEvent) []domain.AnomalyRecord {
	fix := event.GNSS
	if fix == nil || len(fix.Satellites) == 0 {
		return nil
	}

	a.recordClockBias(fix.ClockBiasNS)
	if event.HasFix {
		a.recordPosition(event)
	}
	a.updateSuppression(event.Timestamp, fix)

	var records []domain.AnomalyRecord
	if rec := a.analyzeSpoofing(event, fix); rec != nil {
		records = append(records, *rec)
	}
	if rec := a.analyzeJamming(event, fix); rec != nil {
		records = append(records, *rec)
	}
	if rec := a.analyzeAsymmetry(event, fix); rec != nil {
		records = append(records, *rec)
	}
	if rec := a.analyzeMeaconing(event); rec != nil {
		records = append(records, *rec)
	}
	return records
}

// analyzeSpoofing checks cross-satellite signal uniformity and hot
// low-elevation satellites. Genuine constellations show several dB of C/N0
// spread; simulators transmit every channel at near-identical power.
func (a *Analyzer) analyzeSpoofing(event domain.ScanEvent, fix *domain.GNSSFix) *domain.AnomalyRecord {
	used := fix.UsedSatellites()
	if len(used) < a.policy.MinFixSatellites {
		return nil
	}

	var w heuristics.Welford
	for _, s := range used {
		w.Add(s.CN0)
	}
	variance := w.Variance()

	score := 0.0
	rec := heuristics.NewRecord(event, domain.AnomalyGNSSSpoof, domain.DeviceGNSSSpoofer, 0.6, 0)

	if variance < a.policy.UniformityVarianceMax {
		base := a.policy.SpoofBaseScore
		// A large, consistent fix is strong evidence against spoofing:
		// dampen multiplicatively per satellite beyond the minimum.
		extra := len(used) - a.policy.MinFixSatellites
		damp := math.Pow(1-a.policy.FixSizeDampening, float64(extra))
		score += base * damp
		rec.AddFactor("signal_uniformity", base*damp,
			fmt.Sprintf("C/N0 variance %.2f over %d satellites", variance, len(used)))
	}

	lowElevHot := 0
	for _, s := range fix.Satellites {
		if s.Elevation <= a.policy.LowElevationMaxDeg && s.CN0 > a.policy.LowElevationCN0Ceiling {
			lowElevHot++
		}
	}
	if lowElevHot > a.policy.LowElevationCountMin {
		score += a.policy.LowElevationBonus
		rec.AddFactor("low_elevation_power", a.policy.LowElevationBonus,
			fmt.Sprintf("%d low-elevation satellites above %.0f dB-Hz", lowElevHot, a.policy.LowElevationCN0Ceiling))
	}

	if trend := a.clockTrend(); trend == DriftErratic {
		score += 10
		rec.AddFactor("clock_drift_erratic", 10, "receiver clock bias trend erratic")
	}

	if score == 0 {
		return nil
	}
	score = a.applySuppression(&rec, event.Timestamp, score)
	rec.RawScore = domain.ClampScore(score)
	return &rec
}

// analyzeJamming is hard-gated: a sky full of visible satellites, or a
// large fix with good average signal, is proof against jamming that no
// accumulated evidence can override.
func (a *Analyzer) analyzeJamming(event domain.ScanEvent, fix *domain.GNSSFix) *domain.AnomalyRecord {
	if fix.VisibleCount > a.policy.JamVisibleSatCeiling {
		return nil
	}
	used := fix.UsedSatellites()
	if len(used) >= a.policy.JamFixSatFloor && avgCN0(used) >= a.policy.JamGoodAvgCN0 {
		return nil
	}

	var w heuristics.Welford
	for _, s := range fix.Satellites {
		w.Add(s.CN0)
	}
	if w.Count() < 2 || w.Mean() >= a.policy.JamCN0Floor {
		return nil
	}

	score := a.policy.JamBaseScore + (a.policy.JamCN0Floor-w.Mean())*2
	rec := heuristics.NewRecord(event, domain.AnomalyGNSSJam, domain.DeviceGNSSJammer, 0.6, 0)
	rec.AddFactor("signal_floor", score,
		fmt.Sprintf("mean C/N0 %.1f dB-Hz across %d visible satellites", w.Mean(), fix.VisibleCount))
	score = a.applySuppression(&rec, event.Timestamp, score)
	rec.RawScore = domain.ClampScore(score)
	return &rec
}

// analyzeAsymmetry flags one constellation looking anomalous while another
// stays healthy, a distinct pattern from broadband interference.
func (a *Analyzer) analyzeAsymmetry(event domain.ScanEvent, fix *domain.GNSSFix) *domain.AnomalyRecord {
	byConst := make(map[string]*heuristics.Welford)
	for _, s := range fix.Satellites {
		w, ok := byConst[s.Constellation]
		if !ok {
			w = &heuristics.Welford{}
			byConst[s.Constellation] = w
		}
		w.Add(s.CN0)
	}
	if len(byConst) < 2 {
		return nil
	}

	var lowName, highName string
	low, high := math.MaxFloat64, -math.MaxFloat64
	for name, w := range byConst {
		if w.Count() < 2 {
			continue
		}
		if w.Mean() < low {
			low, lowName = w.Mean(), name
		}
		if w.Mean() > high {
			high, highName = w.Mean(), name
		}
	}
	if lowName == "" || highName == "" || lowName == highName {
		return nil
	}
	if high < a.policy.JamGoodAvgCN0 || low > a.policy.JamCN0Floor {
		return nil
	}

	rec := heuristics.NewRecord(event, domain.AnomalyGNSSAsymmetry, domain.DeviceGNSSJammer,
		0.65, a.policy.AsymmetryBonus+30)
	rec.AddFactor("constellation_asymmetry", rec.RawScore,
		fmt.Sprintf("%s mean %.1f dB-Hz vs %s mean %.1f dB-Hz", lowName, low, highName, high))
	return &rec
}

// analyzeMeaconing looks for a gradual lead-away: highly directional
// position drift at a steady rate over the history window.
func (a *Analyzer) analyzeMeaconing(event domain.ScanEvent) *domain.AnomalyRecord {
	if len(a.positions) < a.policy.PositionHistorySamples {
		return nil
	}

	consistency, driftRate := a.pathStats()
	if consistency < a.policy.DirectionalConsistencyMin || driftRate < a.policy.DriftRateMinMPS {
		return nil
	}

	score := a.policy.SpoofBaseScore*0.5 + a.policy.MeaconingBonus
	rec := heuristics.NewRecord(event, domain.AnomalyGNSSMeaconing, domain.DeviceGNSSSpoofer, 0.7, 0)
	rec.AddFactor("directional_drift", score,
		fmt.Sprintf("consistency %.2f, drift %.2f m/s over %d samples",
			consistency, driftRate, len(a.positions)))
	score = a.applySuppression(&rec, event.Timestamp, score)
	rec.RawScore = domain.ClampScore(score)
	return &rec
}

// pathStats returns the directional-consistency ratio (net displacement
// over path length) and the average drift rate across the window.
func (a *Analyzer) pathStats() (float64, float64) {
	first, last := a.positions[0], a.positions[len(a.positions)-1]

	pathLen := 0.0
	for i := 1; i < len(a.positions); i++ {
		pathLen += geo.DistanceM(a.positions[i-1].loc, a.positions[i].loc)
	}
	if pathLen == 0 {
		return 0, 0
	}

	net := geo.DistanceM(first.loc, last.loc)
	elapsed := last.ts.Sub(first.ts).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	return net / pathLen, net / elapsed
}

func (a *Analyzer) clockTrend() DriftTrend {
	if len(a.clockBias) < 4 {
		return DriftStable
	}

	inc, dec := 0, 0
	maxStep := 0.0
	for i := 1; i < len(a.clockBias); i++ {
		step := a.clockBias[i] - a.clockBias[i-1]
		if step > 0 {
			inc++
		} else if step < 0 {
			dec++
		}
		if math.Abs(step) > maxStep {
			maxStep = math.Abs(step)
		}
	}

	if maxStep > a.policy.ClockDriftErraticNS {
		return DriftErratic
	}
	total := len(a.clockBias) - 1
	switch {
	case inc > total*3/4:
		return DriftIncreasing
	case dec > total*3/4:
		return DriftDecreasing
	default:
		return DriftStable
	}
}

// updateSuppression arms the indoor/urban-canyon cooldown when the sky
// view degrades. Suppression is time-bounded and multiplicative, and every
// application is recorded as a factor so downgrades stay auditable.
func (a *Analyzer) updateSuppression(now time.Time, fix *domain.GNSSFix) {
	var w heuristics.Welford
	for _, s := range fix.Satellites {
		w.Add(s.CN0)
	}
	if fix.VisibleCount <= a.policy.IndoorSatCountMax && w.Count() > 0 && w.Mean() < a.policy.IndoorCN0Floor {
		a.suppressUntil = now.Add(a.policy.EnvSuppressionCooldown)
	}
}

func (a *Analyzer) applySuppression(rec *domain.AnomalyRecord, now time.Time, score float64) float64 {
	if now.After(a.suppressUntil) {
		return score
	}
	rec.AddFactor("environmental_suppression", a.policy.EnvSuppressionFactor,
		fmt.Sprintf("indoor/urban-canyon conditions until %s", a.suppressUntil.Format(time.RFC3339)))
	return score * a.policy.EnvSuppressionFactor
}

func (a *Analyzer) recordClockBias(biasNS float64) {
	a.clockBias = append(a.clockBias, biasNS)
	if len(a.clockBias) > a.policy.ClockDriftWindow {
		a.clockBias = a.clockBias[len(a.clockBias)-a.policy.ClockDriftWindow:]
	}
}

func (a *Analyzer) recordPosition(event domain.ScanEvent) {
	a.positions = append(a.positions, positionSample{
		loc: geo.Location{Latitude: event.Latitude, Longitude: event.Longitude},
		ts:  event.Timestamp,
	})
	if len(a.positions) > a.policy.PositionHistorySamples {
		a.positions = a.positions[len(a.positions)-a.policy.PositionHistorySamples:]
	}
}

func avgCN0(sats []domain.GNSSSatellite) float64 {
	if len(sats) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range sats {
		sum += s.CN0
	}
	return sum / float64(len(sats))
}
