package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	return New(config.DefaultPolicy().Scoring, nil)
}

func anomaly(typ domain.AnomalyType, raw, conf float64) domain.AnomalyRecord {
	return domain.AnomalyRecord{Type: typ, RawScore: raw, Confidence: conf, Timestamp: epoch}
}

func hasAdjustment(s domain.ThreatScore, reason string) bool {
	for _, a := range s.Adjustments {
		if a.Reason == reason {
			return true
		}
	}
	return false
}

func TestIMSICatcherReachesCritical(t *testing.T) {
	e := newEngine(t)

	d := &domain.Detection{
		Protocol:   domain.ProtocolCellular,
		Identity:   "001-01-40-333000",
		DeviceType: domain.DeviceIMSICatcher,
		Method:     domain.MethodHeuristic,
		FirstSeen:  epoch,
		LastSeen:   epoch.Add(time.Minute),
		Anomalies: []domain.AnomalyRecord{
			anomaly(domain.AnomalySuspiciousPLMN, 95, 0.9),
			anomaly(domain.AnomalyEncryptionDowngrade, 100, 0.8),
		},
	}
	score := e.Compute(Input{Detection: d})

	assert.Equal(t, 100.0, score.BaseLikelihood, "highest raw anomaly score wins")
	assert.Equal(t, 2.0, score.ImpactFactor)
	assert.True(t, hasAdjustment(score, "multi_indicator"))
	assert.InDelta(t, 0.7, score.Confidence, 0.001)
	assert.Equal(t, 100.0, score.Value)
	assert.Equal(t, domain.LevelCritical, domain.LevelForScore(score.Value))
}

func TestCrossProtocolBonus(t *testing.T) {
	e := newEngine(t)

	d := &domain.Detection{
		Protocol:   domain.ProtocolWiFi,
		DeviceType: domain.DeviceRogueAP,
		Method:     domain.MethodHeuristic,
		Anomalies:  []domain.AnomalyRecord{anomaly(domain.AnomalyEvilTwin, 60, 0.75)},
	}

	alone := e.Compute(Input{Detection: d})
	assert.InDelta(t, 60*1.7*0.5, alone.Value, 0.001)

	corroborated := e.Compute(Input{Detection: d, CrossProtocol: true})
	assert.True(t, hasAdjustment(corroborated, "cross_protocol"))
	assert.InDelta(t, 60*1.7*0.8, corroborated.Value, 0.001)
}

func TestSustainedBonus(t *testing.T) {
	e := newEngine(t)

	d := &domain.Detection{
		Protocol:   domain.ProtocolBLE,
		DeviceType: domain.DeviceAirTag,
		Method:     domain.MethodHeuristic,
		FirstSeen:  epoch,
		LastSeen:   epoch.Add(15 * time.Minute),
		Anomalies:  []domain.AnomalyRecord{anomaly(domain.AnomalyTrackerStalking, 70, 0.8)},
	}
	score := e.Compute(Input{Detection: d})
	assert.True(t, hasAdjustment(score, "sustained"))
	assert.InDelta(t, 0.7, score.Confidence, 0.001)
}

func TestCriticalConfirmedFloorsAtHigh(t *testing.T) {
	e := newEngine(t)

	// The evidence decayed but the CRITICAL latch holds the score at the
	// HIGH boundary; no environmental rule applies on cellular.
	d := &domain.Detection{
		Protocol:          domain.ProtocolCellular,
		DeviceType:        domain.DeviceIMSICatcher,
		Method:            domain.MethodHeuristic,
		CriticalConfirmed: true,
		Anomalies:         []domain.AnomalyRecord{anomaly(domain.AnomalyRapidHandoff, 40, 0.8)},
	}
	score := e.Compute(Input{Detection: d})
	assert.Equal(t, domain.ScoreHigh, score.Value)
	assert.Empty(t, score.SuppressionRule)
}

func TestGNSSIndoorSuppressionNamesItsRule(t *testing.T) {
	e := newEngine(t)

	d := &domain.Detection{
		Protocol:          domain.ProtocolGNSS,
		DeviceType:        domain.DeviceGNSSJammer,
		Method:            domain.MethodHeuristic,
		CriticalConfirmed: true,
		Anomalies:         []domain.AnomalyRecord{anomaly(domain.AnomalyGNSSJam, 60, 0.7)},
	}
	score := e.Compute(Input{Detection: d, Environment: domain.EnvIndoor})

	assert.Equal(t, "gnss_indoor_attenuation", score.SuppressionRule)
	assert.Less(t, score.Value, domain.ScoreHigh, "a named rule may take it below the floor")
	assert.True(t, hasAdjustment(score, "fp_jam_indoor"))
}

func TestGNSSUrbanCanyonSuppression(t *testing.T) {
	e := newEngine(t)

	d := &domain.Detection{
		Protocol:          domain.ProtocolGNSS,
		DeviceType:        domain.DeviceGNSSSpoofer,
		Method:            domain.MethodHeuristic,
		CriticalConfirmed: true,
		Anomalies:         []domain.AnomalyRecord{anomaly(domain.AnomalyGNSSSpoof, 50, 0.7)},
	}
	score := e.Compute(Input{Detection: d, Environment: domain.EnvUrban})

	assert.Equal(t, "gnss_urban_canyon", score.SuppressionRule)
	assert.InDelta(t, 50*1.8*0.5, score.Value, 0.001)
}

func TestWeakIndicatorPenalty(t *testing.T) {
	e := newEngine(t)

	d := &domain.Detection{
		Protocol:   domain.ProtocolCellular,
		DeviceType: domain.DeviceUnknown,
		Method:     domain.MethodHeuristic,
		Anomalies:  []domain.AnomalyRecord{anomaly(domain.AnomalyCellIDPattern, 35, 0.4)},
	}
	score := e.Compute(Input{Detection: d})
	assert.True(t, hasAdjustment(score, "weak_indicator"))
	assert.InDelta(t, 35*1.0*0.2, score.Value, 0.001)
}

func TestLegacyEncryptionIsNoise(t *testing.T) {
	e := newEngine(t)

	d := &domain.Detection{
		Protocol:   domain.ProtocolWiFi,
		DeviceType: domain.DeviceRogueAP,
		Method:     domain.MethodHeuristic,
		Anomalies:  []domain.AnomalyRecord{anomaly(domain.AnomalyWeakEncryption, 25, 0.5)},
	}
	score := e.Compute(Input{Detection: d})
	assert.True(t, hasAdjustment(score, "fp_legacy_encryption"))
	assert.Equal(t, 0.0, score.Confidence)
	assert.Equal(t, 0.0, score.Value)
}

func TestBenignConsumerPenalty(t *testing.T) {
	e := newEngine(t)

	d := &domain.Detection{
		Protocol:   domain.ProtocolBLE,
		DeviceType: domain.DeviceBenignConsumer,
		Method:     domain.MethodSignature,
	}
	score := e.Compute(Input{
		Detection:           d,
		SignatureBase:       40,
		SignatureConfidence: 0.95,
	})
	assert.True(t, hasAdjustment(score, "benign_consumer"))
	assert.InDelta(t, 40*0.5*0.75, score.Value, 0.001)
	assert.Equal(t, domain.LevelInfo, domain.LevelForScore(score.Value))
}

func TestSignatureBaseAndConfidenceUsed(t *testing.T) {
	e := newEngine(t)

	d := &domain.Detection{
		Protocol:   domain.ProtocolBLE,
		DeviceType: domain.DeviceBLESpammer,
		Method:     domain.MethodSignature,
	}
	score := e.Compute(Input{Detection: d, SignatureBase: 80, SignatureConfidence: 0.95})
	require.Equal(t, 80.0, score.BaseLikelihood)
	assert.InDelta(t, 80*0.8*0.95, score.Value, 0.001)
}
