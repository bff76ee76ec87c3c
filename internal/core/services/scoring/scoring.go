// Package scoring composes accumulated evidence into the threat score and
// level of a detection. Recomputation is a pure function of the evidence;
// replaying the same inputs yields the same score.
package scoring

import (
	"log/slog"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
)

// Input carries everything a recomputation may consider.
type Input struct {
	Detection   *domain.Detection
	Environment domain.Environment

	// CrossProtocol reports a coincident anomaly from another protocol
	// inside the correlation window.
	CrossProtocol bool

	// SignatureBase and SignatureConfidence come from the registry match
	// that created the detection, zero when heuristics created it.
	SignatureBase       float64
	SignatureConfidence float64
}

// Engine computes threat scores. Stateless apart from policy and logger.
type Engine struct {
	policy config.ScoringPolicy
	log    *slog.Logger
}

// New creates a scoring engine.
func New(policy config.ScoringPolicy, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{policy: policy, log: log}
}

// Compute derives the score: clamp(base likelihood x impact x confidence).
func (e *Engine) Compute(in Input) domain.ThreatScore {
	d := in.Detection

	base := in.SignatureBase
	for _, a := range d.Anomalies {
		if a.RawScore > base {
			base = a.RawScore
		}
	}

	conf := e.policy.MethodBaseConfidence[string(d.Method)]
	if in.SignatureConfidence > conf {
		conf = in.SignatureConfidence
	}

	score := domain.ThreatScore{
		BaseLikelihood: base,
		ImpactFactor:   domain.ImpactFactor(d.DeviceType),
	}

	adjust := func(reason string, delta float64) {
		conf += delta
		score.Adjustments = append(score.Adjustments, domain.ConfidenceAdjustment{Reason: reason, Delta: delta})
	}

	if in.CrossProtocol {
		adjust("cross_protocol", e.policy.CrossProtocolBonus)
	}
	if distinctTypes(d.Anomalies) >= 2 {
		adjust("multi_indicator", e.policy.MultiIndicatorBonus)
	}
	if d.Duration() >= e.policy.SustainedAfter {
		adjust("sustained", e.policy.SustainedBonus)
	}
	if e.weakIndicator(in) {
		adjust("weak_indicator", e.policy.WeakIndicatorPenalty)
	}
	if reason := e.falsePositivePattern(in); reason != "" {
		adjust(reason, e.policy.FalsePositivePenalty)
	}
	if d.DeviceType == domain.DeviceBenignConsumer {
		adjust("benign_consumer", e.policy.BenignConsumerPenalty)
	}

	score.Confidence = domain.Clamp01(conf)
	score.Value = domain.ClampScore(base * score.ImpactFactor * score.Confidence)

	// A detection that confirmed CRITICAL does not silently drift below
	// the HIGH boundary; only a named environmental rule may take it
	// there, and it says so out loud.
	if d.CriticalConfirmed && score.Value < domain.ScoreHigh {
		if rule := e.suppressionRule(in); rule != "" {
			score.SuppressionRule = rule
			e.log.Warn("environmental suppression lowered a confirmed-critical detection",
				"detection", d.ID,
				"identity", d.Identity,
				"rule", rule,
				"score", score.Value)
		} else {
			score.Value = domain.ScoreHigh
		}
	}
	return score
}

func distinctTypes(anomalies []domain.AnomalyRecord) int {
	seen := make(map[domain.AnomalyType]bool, len(anomalies))
	for _, a := range anomalies {
		seen[a.Type] = true
	}
	return len(seen)
}

// weakIndicator is a lone low-confidence finding with no signature backing.
func (e *Engine) weakIndicator(in Input) bool {
	d := in.Detection
	return in.SignatureBase == 0 && len(d.Anomalies) == 1 && d.Anomalies[0].Confidence < 0.5
}

// falsePositivePattern names evidence shapes known to be noise in their
// environment. The returned reason doubles as the adjustment label.
func (e *Engine) falsePositivePattern(in Input) string {
	d := in.Detection
	if distinctTypes(d.Anomalies) != 1 || len(d.Anomalies) == 0 {
		return ""
	}
	switch d.Anomalies[0].Type {
	case domain.AnomalyHiddenStrong:
		// Dense housing is full of hidden home networks at close range.
		if in.Environment == domain.EnvUrban {
			return "fp_hidden_ap_urban"
		}
	case domain.AnomalyWeakEncryption:
		// Legacy gear, not an attack, when nothing else is wrong.
		return "fp_legacy_encryption"
	case domain.AnomalyGNSSJam:
		if in.Environment.Enclosed() {
			return "fp_jam_indoor"
		}
	}
	return ""
}

func (e *Engine) suppressionRule(in Input) string {
	if in.Detection.Protocol == domain.ProtocolGNSS {
		if in.Environment.Enclosed() {
			return "gnss_indoor_attenuation"
		}
		if in.Environment == domain.EnvUrban {
			return "gnss_urban_canyon"
		}
	}
	return ""
}
