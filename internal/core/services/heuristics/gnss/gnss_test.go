package gnss

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixEvent(ts time.Time, fix *domain.GNSSFix) domain.ScanEvent {
	return domain.ScanEvent{
		Protocol:  domain.ProtocolGNSS,
		Timestamp: ts,
		Identity:  "gnss-receiver",
		GNSS:      fix,
	}
}

func sats(n int, cn0 float64, used bool) []domain.GNSSSatellite {
	out := make([]domain.GNSSSatellite, n)
	for i := range out {
		out[i] = domain.GNSSSatellite{
			Constellation: "GPS",
			PRN:           i + 1,
			CN0:           cn0,
			Elevation:     45,
			UsedInFix:     used,
		}
	}
	return out
}

func findType(records []domain.AnomalyRecord, typ domain.AnomalyType) *domain.AnomalyRecord {
	for i := range records {
		if records[i].Type == typ {
			return &records[i]
		}
	}
	return nil
}

func TestJammingVisibleSatGate(t *testing.T) {
	a := New(config.DefaultPolicy().GNSS)

	// Weak signals across the board, but twenty satellites are visible:
	// jammers cannot leave the sky full. The gate overrides all evidence.
	weak := sats(5, 10, false)
	for i := range weak {
		weak[i].CN0 = 8 + float64(i) // some spread so spoofing stays quiet
	}
	records := a.Process(fixEvent(epoch, &domain.GNSSFix{
		Satellites:   weak,
		VisibleCount: 20,
	}))
	assert.Nil(t, findType(records, domain.AnomalyGNSSJam))
}

func TestJammingLowFloor(t *testing.T) {
	policy := config.DefaultPolicy().GNSS
	a := New(policy)

	// Six visible (above the indoor suppression count) but the mean C/N0
	// collapsed well below the jam floor.
	records := a.Process(fixEvent(epoch, &domain.GNSSFix{
		Satellites:   sats(6, 10, false),
		VisibleCount: 6,
	}))
	rec := findType(records, domain.AnomalyGNSSJam)
	require.NotNil(t, rec)
	assert.Equal(t, domain.DeviceGNSSJammer, rec.DeviceType)

	// base 60 + (20 - 10) * 2
	assert.InDelta(t, 80, rec.RawScore, 0.01)
}

func TestJammingHealthyFixOverrides(t *testing.T) {
	policy := config.DefaultPolicy().GNSS
	a := New(policy)

	// Low visible count but a big fix with strong average signal: the
	// second gate clears it.
	healthy := sats(policy.JamFixSatFloor, 42, true)
	records := a.Process(fixEvent(epoch, &domain.GNSSFix{
		Satellites:   healthy,
		VisibleCount: policy.JamVisibleSatCeiling,
	}))
	assert.Nil(t, findType(records, domain.AnomalyGNSSJam))
}

func TestSpoofingUniformSignals(t *testing.T) {
	policy := config.DefaultPolicy().GNSS
	a := New(policy)

	// Six satellites at an identical 45 dB-Hz: simulators transmit every
	// channel at the same power.
	records := a.Process(fixEvent(epoch, &domain.GNSSFix{
		Satellites:   sats(6, 45, true),
		VisibleCount: 6,
	}))
	rec := findType(records, domain.AnomalyGNSSSpoof)
	require.NotNil(t, rec)
	assert.Equal(t, domain.DeviceGNSSSpoofer, rec.DeviceType)

	// 65 dampened by (1-0.08)^2 for the two satellites beyond the minimum.
	assert.InDelta(t, 65*0.92*0.92, rec.RawScore, 0.1)
}

func TestSpoofingNaturalSpreadIsClean(t *testing.T) {
	a := New(config.DefaultPolicy().GNSS)

	varied := sats(8, 0, true)
	cn0s := []float64{34, 38, 41, 44, 46, 39, 36, 48}
	for i := range varied {
		varied[i].CN0 = cn0s[i]
	}
	records := a.Process(fixEvent(epoch, &domain.GNSSFix{
		Satellites:   varied,
		VisibleCount: 12,
	}))
	assert.Nil(t, findType(records, domain.AnomalyGNSSSpoof))
}

func TestSpoofingLowElevationPower(t *testing.T) {
	policy := config.DefaultPolicy().GNSS
	a := New(policy)

	varied := sats(8, 0, true)
	cn0s := []float64{34, 38, 41, 44, 46, 39, 36, 48}
	for i := range varied {
		varied[i].CN0 = cn0s[i]
	}
	// Three satellites on the horizon, all running hot. Real signals
	// grazing the atmosphere cannot arrive this strong.
	for i := 0; i < 3; i++ {
		varied[i].Elevation = 8
		varied[i].CN0 = 47
	}
	records := a.Process(fixEvent(epoch, &domain.GNSSFix{
		Satellites:   varied,
		VisibleCount: 12,
	}))
	rec := findType(records, domain.AnomalyGNSSSpoof)
	require.NotNil(t, rec)

	found := false
	for _, f := range rec.Factors {
		if f.Name == "low_elevation_power" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestConstellationAsymmetry(t *testing.T) {
	a := New(config.DefaultPolicy().GNSS)

	gps := sats(4, 12, false) // GPS flattened
	glo := sats(4, 42, true)
	for i := range glo {
		glo[i].Constellation = "GLONASS"
		glo[i].CN0 = 40 + float64(i)*2
	}
	records := a.Process(fixEvent(epoch, &domain.GNSSFix{
		Satellites:   append(gps, glo...),
		VisibleCount: 12,
	}))
	rec := findType(records, domain.AnomalyGNSSAsymmetry)
	require.NotNil(t, rec)
	assert.Equal(t, domain.DeviceGNSSJammer, rec.DeviceType)
}

func TestEnvironmentalSuppression(t *testing.T) {
	policy := config.DefaultPolicy().GNSS
	a := New(policy)

	// A degraded sky view arms the cooldown: few satellites, weak mean.
	records := a.Process(fixEvent(epoch, &domain.GNSSFix{
		Satellites:   sats(4, 10, false),
		VisibleCount: 4,
	}))
	rec := findType(records, domain.AnomalyGNSSJam)
	require.NotNil(t, rec)

	suppressed := false
	for _, f := range rec.Factors {
		if f.Name == "environmental_suppression" {
			suppressed = true
		}
	}
	assert.True(t, suppressed, "indoor conditions multiply the score down, with an audit factor")
	assert.InDelta(t, 80*policy.EnvSuppressionFactor, rec.RawScore, 0.01)
}

func TestMeaconingDirectionalDrift(t *testing.T) {
	policy := config.DefaultPolicy().GNSS
	a := New(policy)

	// A straight lead-away at ~1.1 m/s: each sample moves one arc-second
	// of latitude every 10 seconds.
	var rec *domain.AnomalyRecord
	for i := 0; i <= policy.PositionHistorySamples; i++ {
		ev := fixEvent(epoch.Add(time.Duration(i*10)*time.Second), &domain.GNSSFix{
			Satellites:   sats(8, 40, true),
			VisibleCount: 12,
		})
		ev.HasFix = true
		ev.Latitude = 40.0 + float64(i)*0.0001
		ev.Longitude = -3.0
		if r := findType(a.Process(ev), domain.AnomalyGNSSMeaconing); r != nil {
			rec = r
		}
	}
	require.NotNil(t, rec)
	assert.Equal(t, domain.DeviceGNSSSpoofer, rec.DeviceType)
}

func TestClockTrend(t *testing.T) {
	policy := config.DefaultPolicy().GNSS
	a := New(policy)

	for _, b := range []float64{100, 150, 90, 1200, 300} {
		a.recordClockBias(b)
	}
	assert.Equal(t, DriftErratic, a.clockTrend())

	a.clockBias = nil
	for _, b := range []float64{100, 120, 140, 160, 180} {
		a.recordClockBias(b)
	}
	assert.Equal(t, DriftIncreasing, a.clockTrend())
}
