package correlator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newCorrelator() *Correlator {
	return New(config.DefaultPolicy().Correlator)
}

func anomalyAt(proto domain.Protocol, identity string, typ domain.AnomalyType, at time.Time) domain.AnomalyRecord {
	return domain.AnomalyRecord{
		Protocol:  proto,
		Identity:  identity,
		Type:      typ,
		EventTime: at,
		Timestamp: at,
	}
}

func gnssObservation(ts time.Time, visible, used int) domain.ScanEvent {
	sats := make([]domain.GNSSSatellite, used)
	for i := range sats {
		sats[i] = domain.GNSSSatellite{Constellation: "GPS", PRN: i + 1, CN0: 40, UsedInFix: true}
	}
	return domain.ScanEvent{
		Protocol:  domain.ProtocolGNSS,
		Timestamp: ts,
		Identity:  "gnss",
		GNSS:      &domain.GNSSFix{Satellites: sats, VisibleCount: visible},
	}
}

func TestDebounce(t *testing.T) {
	c := newCorrelator()

	rec := anomalyAt(domain.ProtocolCellular, "cell-1", domain.AnomalyEncryptionDowngrade, epoch)
	assert.False(t, c.Debounce(rec), "first occurrence passes")

	rec.EventTime = epoch.Add(30 * time.Second)
	assert.True(t, c.Debounce(rec), "repeat inside the interval is swallowed")

	other := anomalyAt(domain.ProtocolCellular, "cell-1", domain.AnomalyRapidHandoff, epoch.Add(30*time.Second))
	assert.False(t, c.Debounce(other), "a different anomaly type is its own key")

	rec.EventTime = epoch.Add(80 * time.Second)
	assert.False(t, c.Debounce(rec), "the interval restarts from the last pass")
}

func TestClassifyEnvironment(t *testing.T) {
	cases := []struct {
		name    string
		visible int
		used    int
		want    domain.Environment
	}{
		{"no visible satellites means blocked sky", 0, 0, domain.EnvIndoor},
		{"two visible none used", 2, 0, domain.EnvIndoor},
		{"few visible is urban canyon", 5, 4, domain.EnvUrban},
		{"open sky is rural", 15, 10, domain.EnvRural},
		{"between bands stays unknown", 9, 7, domain.EnvUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newCorrelator()
			c.Observe(gnssObservation(epoch, tc.visible, tc.used))
			assert.Equal(t, tc.want, c.Environment())
		})
	}
}

func TestClassifyEnvironmentBySpeed(t *testing.T) {
	c := newCorrelator()

	// Two located events 1 km apart in ten seconds: 100 m/s is airborne.
	first := gnssObservation(epoch, 15, 10)
	first.HasFix = true
	first.Latitude, first.Longitude = 40.0, -3.0
	c.Observe(first)

	second := gnssObservation(epoch.Add(10*time.Second), 15, 10)
	second.HasFix = true
	second.Latitude, second.Longitude = 40.009, -3.0
	c.Observe(second)

	assert.Equal(t, domain.EnvAviation, c.Environment())
}

func TestCrossProtocolHit(t *testing.T) {
	c := newCorrelator()
	window := 2 * time.Minute

	ble := anomalyAt(domain.ProtocolBLE, "aa:bb", domain.AnomalyTrackerStalking, epoch)
	c.RecordAnomaly(ble, window)

	wifi := anomalyAt(domain.ProtocolWiFi, "cc:dd", domain.AnomalyEvilTwin, epoch.Add(30*time.Second))
	assert.True(t, c.CrossProtocolHit(wifi, window))

	ble2 := anomalyAt(domain.ProtocolBLE, "ee:ff", domain.AnomalyBLESpam, epoch.Add(30*time.Second))
	assert.False(t, c.CrossProtocolHit(ble2, window), "same protocol does not corroborate itself")

	late := anomalyAt(domain.ProtocolWiFi, "cc:dd", domain.AnomalyEvilTwin, epoch.Add(10*time.Minute))
	assert.False(t, c.CrossProtocolHit(late, window))
}

func TestCrossProtocolDistanceGate(t *testing.T) {
	c := newCorrelator()
	window := 2 * time.Minute

	ble := anomalyAt(domain.ProtocolBLE, "aa:bb", domain.AnomalyTrackerStalking, epoch)
	ble.HasFix = true
	ble.Latitude, ble.Longitude = 40.0, -3.0
	c.RecordAnomaly(ble, window)

	// A kilometer away: coincident in time but not in space.
	wifi := anomalyAt(domain.ProtocolWiFi, "cc:dd", domain.AnomalyEvilTwin, epoch.Add(30*time.Second))
	wifi.HasFix = true
	wifi.Latitude, wifi.Longitude = 40.009, -3.0
	assert.False(t, c.CrossProtocolHit(wifi, window))

	near := wifi
	near.Latitude = 40.0005
	assert.True(t, c.CrossProtocolHit(near, window))
}

func TestDistinctLocations(t *testing.T) {
	c := newCorrelator()

	for i, lat := range []float64{40.000, 40.001, 40.002, 40.0021} {
		ev := domain.ScanEvent{
			Protocol:  domain.ProtocolBLE,
			Timestamp: epoch.Add(time.Duration(i) * time.Minute),
			Identity:  "aa:bb",
			HasFix:    true,
			Latitude:  lat,
			Longitude: -3.0,
		}
		c.Observe(ev)
	}

	// 111 m hops separate, the 11 m jitter at the end does not.
	assert.Equal(t, 3, c.DistinctLocations("aa:bb"))
	assert.Equal(t, 0, c.DistinctLocations("unseen"))
	assert.Len(t, c.Sightings("aa:bb"), 4)
}

func TestHistoryRetention(t *testing.T) {
	c := newCorrelator()

	ev := domain.ScanEvent{
		Protocol:  domain.ProtocolBLE,
		Timestamp: epoch,
		Identity:  "aa:bb",
		HasFix:    true,
		Latitude:  40.0,
		Longitude: -3.0,
	}
	c.Observe(ev)

	day := domain.ScanEvent{
		Protocol:  domain.ProtocolBLE,
		Timestamp: epoch.Add(25 * time.Hour),
		Identity:  "other",
		HasFix:    true,
		Latitude:  41.0,
		Longitude: -3.0,
	}
	c.Observe(day)

	assert.Empty(t, c.Sightings("aa:bb"), "sightings past the retention window are dropped")
}
