package domain

// ThreatScore is the composed 0-100 score with its factor breakdown,
// stored for auditability. Value = clamp(BaseLikelihood * ImpactFactor *
// Confidence, 0, 100).
type ThreatScore struct {
	Value          float64 `json:"value"`
	BaseLikelihood float64 `json:"base_likelihood"`
	ImpactFactor   float64 `json:"impact_factor"`
	Confidence     float64 `json:"confidence"`

	// Adjustments lists the confidence deltas that were applied, in order.
	Adjustments []ConfidenceAdjustment `json:"adjustments,omitempty"`

	// SuppressionRule names the environmental-suppression rule that allowed
	// a confirmed-CRITICAL score to fall below the HIGH floor, if any.
	SuppressionRule string `json:"suppression_rule,omitempty"`
}

// ConfidenceAdjustment is one additive confidence modifier.
type ConfidenceAdjustment struct {
	Reason string  `json:"reason"`
	Delta  float64 `json:"delta"`
}

// Clamp01 bounds a confidence value to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampScore bounds a score to [0, 100].
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
