package satellite

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func linkEvent(ts time.Time, link domain.SatelliteLink) domain.ScanEvent {
	return domain.ScanEvent{
		Protocol:  domain.ProtocolSatellite,
		Timestamp: ts,
		Identity:  link.SatelliteID,
		Satellite: &link,
	}
}

func findType(records []domain.AnomalyRecord, typ domain.AnomalyType) *domain.AnomalyRecord {
	for i := range records {
		if records[i].Type == typ {
			return &records[i]
		}
	}
	return nil
}

func TestRTTBelowFloorImpossibleForEveryOrbit(t *testing.T) {
	a := New(config.DefaultPolicy().Satellite)

	// 5 ms round trip means the far end is at most ~750 km of path away.
	// No orbit puts a satellite that close; the "satellite" is on the ground.
	for _, orbit := range []domain.OrbitClass{domain.OrbitLEO, domain.OrbitMEO, domain.OrbitGEO} {
		t.Run(string(orbit), func(t *testing.T) {
			records := a.Process(linkEvent(epoch, domain.SatelliteLink{
				SatelliteID: "sat-1",
				Provider:    "starlink",
				Orbit:       orbit,
				RTTMillis:   5,
			}))
			rec := findType(records, domain.AnomalyImpossibleRTT)
			require.NotNil(t, rec)
			assert.Equal(t, 90.0, rec.RawScore)
			assert.InDelta(t, 0.95, rec.Confidence, 0.001)
			assert.Equal(t, domain.DeviceSatelliteAnomaly, rec.DeviceType)
		})
	}
}

func TestRTTWindows(t *testing.T) {
	a := New(config.DefaultPolicy().Satellite)

	cases := []struct {
		name  string
		orbit domain.OrbitClass
		rttMS float64
		flag  bool
	}{
		{"LEO in window", domain.OrbitLEO, 25, false},
		{"LEO beyond slant range", domain.OrbitLEO, 90, true},
		{"GEO nominal", domain.OrbitGEO, 550, false},
		{"GEO too fast for 35786 km", domain.OrbitGEO, 120, true},
		{"MEO nominal", domain.OrbitMEO, 150, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records := a.Process(linkEvent(epoch, domain.SatelliteLink{
				SatelliteID: "sat-1",
				Provider:    "test",
				Orbit:       tc.orbit,
				RTTMillis:   tc.rttMS,
			}))
			rec := findType(records, domain.AnomalyImpossibleRTT)
			if !tc.flag {
				assert.Nil(t, rec)
				return
			}
			require.NotNil(t, rec)
			assert.Equal(t, 75.0, rec.RawScore)
		})
	}
}

func TestBandMismatch(t *testing.T) {
	a := New(config.DefaultPolicy().Satellite)

	records := a.Process(linkEvent(epoch, domain.SatelliteLink{
		SatelliteID:  "sat-9",
		Provider:     "Starlink",
		Orbit:        domain.OrbitLEO,
		RTTMillis:    25,
		FrequencyGHz: 11.9,
	}))
	rec := findType(records, domain.AnomalyBandMismatch)
	require.NotNil(t, rec, "11.9 GHz sits between Starlink's Ku allocations")
	assert.Equal(t, 70.0, rec.RawScore)

	// Within tolerance of an allocated band.
	records = a.Process(linkEvent(epoch, domain.SatelliteLink{
		SatelliteID:  "sat-9",
		Provider:     "starlink",
		Orbit:        domain.OrbitLEO,
		RTTMillis:    25,
		FrequencyGHz: 12.68,
	}))
	assert.Nil(t, findType(records, domain.AnomalyBandMismatch))

	// Unknown providers carry no allocation to check against.
	records = a.Process(linkEvent(epoch, domain.SatelliteLink{
		SatelliteID:  "sat-9",
		Provider:     "acme-orbital",
		Orbit:        domain.OrbitLEO,
		RTTMillis:    25,
		FrequencyGHz: 3.0,
	}))
	assert.Nil(t, findType(records, domain.AnomalyBandMismatch))
}

func TestIndoorLink(t *testing.T) {
	a := New(config.DefaultPolicy().Satellite)

	link := domain.SatelliteLink{SatelliteID: "sat-2", Provider: "iridium", Orbit: domain.OrbitLEO, RTTMillis: 25}
	assert.Nil(t, findType(a.Process(linkEvent(epoch, link)), domain.AnomalyIndoorSatellite))

	a.SetEnvironment(domain.EnvIndoor)
	rec := findType(a.Process(linkEvent(epoch.Add(time.Second), link)), domain.AnomalyIndoorSatellite)
	require.NotNil(t, rec)
	assert.Equal(t, 80.0, rec.RawScore)

	a.SetEnvironment(domain.EnvRural)
	assert.Nil(t, findType(a.Process(linkEvent(epoch.Add(2*time.Second), link)), domain.AnomalyIndoorSatellite))
}

func TestForcedDowngrade(t *testing.T) {
	a := New(config.DefaultPolicy().Satellite)

	forced := domain.SatelliteLink{
		SatelliteID: "sat-3", Provider: "skylo", Orbit: domain.OrbitGEO,
		RTTMillis: 550, TerrestrialLost: true,
	}
	rec := findType(a.Process(linkEvent(epoch, forced)), domain.AnomalyForcedDowngrade)
	require.NotNil(t, rec)
	assert.Equal(t, 65.0, rec.RawScore)

	chosen := forced
	chosen.UserInitiated = true
	assert.Nil(t, findType(a.Process(linkEvent(epoch.Add(time.Second), chosen)), domain.AnomalyForcedDowngrade))
}

func TestHandoffCadence(t *testing.T) {
	a := New(config.DefaultPolicy().Satellite)

	// Six distinct birds in five minutes: the first sighting seeds state,
	// the next four switches stay within LEO pass geometry, the fifth
	// switch is faster than the constellation can manage.
	var rec *domain.AnomalyRecord
	for i := 0; i < 6; i++ {
		records := a.Process(linkEvent(epoch.Add(time.Duration(i)*time.Minute), domain.SatelliteLink{
			SatelliteID: fmt.Sprintf("bird-%d", i),
			Provider:    "starlink",
			Orbit:       domain.OrbitLEO,
			RTTMillis:   25,
		}))
		if r := findType(records, domain.AnomalyAbnormalHandoff); r != nil {
			require.Nil(t, rec, "only the switch past the cap alerts")
			require.Equal(t, 5, i)
			rec = r
		}
	}
	require.NotNil(t, rec)
	assert.Equal(t, 55.0, rec.RawScore)
}

func TestHandoffSameSatelliteStable(t *testing.T) {
	a := New(config.DefaultPolicy().Satellite)

	for i := 0; i < 20; i++ {
		records := a.Process(linkEvent(epoch.Add(time.Duration(i)*30*time.Second), domain.SatelliteLink{
			SatelliteID: "GEO-1",
			Provider:    "skylo",
			Orbit:       domain.OrbitGEO,
			RTTMillis:   550,
		}))
		assert.Nil(t, findType(records, domain.AnomalyAbnormalHandoff))
	}
}

func TestHandoffGEOAnySwitchPairSuspicious(t *testing.T) {
	a := New(config.DefaultPolicy().Satellite)

	// Geostationary satellites do not hand off. Seed, one tolerated
	// switch, then alert.
	names := []string{"GEO-1", "GEO-2", "GEO-3"}
	var fired bool
	for i, name := range names {
		records := a.Process(linkEvent(epoch.Add(time.Duration(i)*time.Minute), domain.SatelliteLink{
			SatelliteID: name,
			Provider:    "skylo",
			Orbit:       domain.OrbitGEO,
			RTTMillis:   550,
		}))
		if findType(records, domain.AnomalyAbnormalHandoff) != nil {
			assert.Equal(t, 2, i)
			fired = true
		}
	}
	assert.True(t, fired)
}
