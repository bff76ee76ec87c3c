// Package ultrasonic detects near-ultrasonic tracking beacons in audio
// chunks using per-frequency Goertzel filters.
package ultrasonic

import (
	"fmt"
	"math"
	"time"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics"
)

// AmplitudePattern classifies how a tone's power behaves over time.
type AmplitudePattern string

const (
	PatternSteady    AmplitudePattern = "steady"
	PatternPulsing   AmplitudePattern = "pulsing"
	PatternModulated AmplitudePattern = "modulated"
	PatternErratic   AmplitudePattern = "erratic"
)

type toneState struct {
	firstHit  time.Time
	lastHit   time.Time
	count     int
	freqs     []float64
	powers    []float64
	announced bool
}

// Analyzer owns per-target-frequency tone state. Single writer.
type Analyzer struct {
	policy config.UltrasonicPolicy
	tones  map[float64]*toneState
}

// New creates an ultrasonic beacon analyzer.
func New(policy config.UltrasonicPolicy) *Analyzer {
	return &Analyzer{
		policy: policy,
		tones:  make(map[float64]*toneState),
	}
}

// Protocol implements ports.Heuristic.
func (a *Analyzer) Protocol() domain.Protocol { return domain.ProtocolUltrasonic }

// Flush implements ports.Heuristic. A tone that has not yet met the
// persistence and repetition requirements is not a beacon; cancellation
// discards it rather than emitting a partial window.
func (a *Analyzer) Flush() []domain.AnomalyRecord { return nil }

// Process consumes one audio chunk.
func (a *Analyzer) Process(event domain.ScanEvent) []domain.AnomalyRecord {
	chunk := event.Audio
	if chunk == nil || len(chunk.Samples) == 0 || chunk.SampleRate <= 0 {
		return nil
	}

	nyquist := float64(chunk.SampleRate) / 2
	active := 0
	type hit struct {
		target  float64
		freq    float64
		snr     float64
		powerDB float64
	}
	var hits []hit

	for _, target := range a.policy.TargetFrequenciesHz {
		if target >= nyquist {
			continue
		}
		db := powerDB(goertzel(chunk.Samples, chunk.SampleRate, target))
		snr := db - chunk.NoiseFloor
		if snr < a.policy.SNRThresholdDB {
			continue
		}
		active++
		hits = append(hits, hit{
			target:  target,
			freq:    peakFrequency(chunk.Samples, chunk.SampleRate, target, a.policy.FreqStabilityHz),
			snr:     snr,
			powerDB: db,
		})
	}

	// Many simultaneous strong tones is broadband environmental noise
	// (HVAC, machinery), not a beacon. Drop the whole chunk and the
	// accumulated state so the noise cannot ratchet tones to threshold.
	if active > a.policy.MaxConcurrentFreqs {
		a.tones = make(map[float64]*toneState)
		return nil
	}

	var records []domain.AnomalyRecord
	for _, h := range hits {
		st, ok := a.tones[h.target]
		if ok && event.Timestamp.Sub(st.lastHit) > a.policy.DetectionTTL {
			ok = false
		}
		if !ok {
			st = &toneState{firstHit: event.Timestamp}
			a.tones[h.target] = st
		}
		st.lastHit = event.Timestamp
		st.count++
		st.freqs = append(st.freqs, h.freq)
		st.powers = append(st.powers, h.powerDB)

		if rec := a.evaluate(event, h.target, h.snr, st); rec != nil {
			records = append(records, *rec)
		}
	}
	return records
}

func (a *Analyzer) evaluate(event domain.ScanEvent, target, snr float64, st *toneState) *domain.AnomalyRecord {
	if st.announced {
		return nil
	}
	if st.count < a.policy.MinDetections {
		return nil
	}
	if st.lastHit.Sub(st.firstHit) < a.policy.MinPersistence {
		return nil
	}
	if spread(st.freqs) > a.policy.FreqStabilityHz {
		// A wandering peak is a sweep or a harmonic artifact, not a
		// synthesized carrier.
		return nil
	}
	st.announced = true

	pattern := classifyAmplitude(st.powers)
	score := 60.0
	conf := 0.7
	switch pattern {
	case PatternModulated:
		// Data-carrying modulation is the strongest beacon indicator.
		score = 75
		conf = 0.85
	case PatternPulsing:
		score = 65
		conf = 0.75
	case PatternErratic:
		score = 45
		conf = 0.5
	}

	rec := heuristics.NewRecord(event, domain.AnomalyUltrasonicBeacon, domain.DeviceUltrasonicBeacon, conf, score)
	rec.Identity = fmt.Sprintf("ultrasonic-%.0fhz", target)
	rec.AddFactor("tone", score,
		fmt.Sprintf("%.0f Hz tone, %.0f dB SNR, persisted %s over %d chunks, %s amplitude",
			target, snr, st.lastHit.Sub(st.firstHit).Round(time.Second), st.count, pattern))
	return &rec
}

func spread(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	min, max := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	return max - min
}

// classifyAmplitude buckets the tone's power trace. Steady carriers hold
// level, pulsing beacons alternate between two levels, modulated carriers
// vary smoothly and erratic traces jump without structure.
func classifyAmplitude(powers []float64) AmplitudePattern {
	if len(powers) < 3 {
		return PatternSteady
	}
	var w heuristics.Welford
	for _, p := range powers {
		w.Add(p)
	}
	sd := math.Sqrt(w.Variance())
	if sd < 2 {
		return PatternSteady
	}

	// Count sign flips of the first difference. Pulsing flips nearly
	// every step, modulation flips at the envelope rate, noise is in
	// between with large step sizes.
	flips := 0
	steps := 0
	var maxStep float64
	prevDelta := 0.0
	for i := 1; i < len(powers); i++ {
		delta := powers[i] - powers[i-1]
		if math.Abs(delta) > maxStep {
			maxStep = math.Abs(delta)
		}
		if prevDelta != 0 && delta != 0 && (delta > 0) != (prevDelta > 0) {
			flips++
		}
		if delta != 0 {
			prevDelta = delta
			steps++
		}
	}
	if steps == 0 {
		return PatternSteady
	}
	flipRate := float64(flips) / float64(steps)
	switch {
	case flipRate > 0.8:
		return PatternPulsing
	case maxStep > 3*sd:
		return PatternErratic
	default:
		return PatternModulated
	}
}
