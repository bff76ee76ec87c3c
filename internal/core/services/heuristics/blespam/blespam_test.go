package blespam

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

func popupAdv(manufacturer uint16) *domain.BLEAdvertisement {
	return &domain.BLEAdvertisement{
		ManufacturerID:   manufacturer,
		ManufacturerData: []byte{0x0F, 0x05, 0xC0},
		AddressRandom:    true,
	}
}

func spamEvent(ts time.Time, mac string, adv *domain.BLEAdvertisement) domain.ScanEvent {
	return domain.ScanEvent{
		Protocol:  domain.ProtocolBLE,
		Timestamp: ts,
		Identity:  mac,
		RSSI:      -50,
		BLE:       adv,
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

// flood sends n popup advertisements half a second apart, each from a
// fresh random address the way spam firmware rotates them.
func flood(a *Analyzer, n int) *domain.AnomalyRecord {
	var hit *domain.AnomalyRecord
	for i := 0; i < n; i++ {
		mac := fmt.Sprintf("%02x:%02x:00:11:22:33", i>>8, i&0xFF)
		ev := spamEvent(epoch.Add(time.Duration(i)*500*time.Millisecond), mac, popupAdv(0x004C))
		if rec := findType(a.Process(ev), domain.AnomalyBLESpam); rec != nil {
			hit = rec
		}
	}
	return hit
}

func TestPopupSpam_ThresholdFires(t *testing.T) {
	a := New(config.DefaultPolicy().BLESpam)

	rec := flood(a, 15)
	require.NotNil(t, rec, "15 popup advertisements inside the window")
	assert.Equal(t, domain.DeviceBLESpammer, rec.DeviceType)
	assert.Equal(t, "ble-spam-004c", rec.Identity, "identity keys the manufacturer, not the rotating address")
	assert.Equal(t, 55.0, rec.RawScore)
}

func TestPopupSpam_BelowThresholdSilent(t *testing.T) {
	a := New(config.DefaultPolicy().BLESpam)
	assert.Nil(t, flood(a, 14), "one short of the threshold must stay silent")
}

func TestPopupSpam_WindowResetAfterAlert(t *testing.T) {
	a := New(config.DefaultPolicy().BLESpam)

	require.NotNil(t, flood(a, 15))

	// Two stragglers after the alert: the counter restarted from zero.
	for i := 0; i < 2; i++ {
		ev := spamEvent(epoch.Add(8*time.Second+time.Duration(i)*500*time.Millisecond),
			fmt.Sprintf("f%d:00:00:00:00:01", i), popupAdv(0x004C))
		assert.Nil(t, findType(a.Process(ev), domain.AnomalyBLESpam))
	}
}

func TestPopupSpam_UnlistedManufacturerIgnored(t *testing.T) {
	a := New(config.DefaultPolicy().BLESpam)

	for i := 0; i < 30; i++ {
		ev := spamEvent(epoch.Add(time.Duration(i)*200*time.Millisecond),
			fmt.Sprintf("%02x:00:00:00:00:02", i), popupAdv(0x1234))
		assert.Nil(t, findType(a.Process(ev), domain.AnomalyBLESpam))
	}
}

func TestNameFlipping(t *testing.T) {
	policy := config.DefaultPolicy().BLESpam
	a := New(policy)

	var rec *domain.AnomalyRecord
	for i := 0; i < policy.NameChangeThreshold+2; i++ {
		ev := spamEvent(epoch.Add(time.Duration(i)*time.Second), "aa:aa:aa:aa:aa:01",
			&domain.BLEAdvertisement{Name: fmt.Sprintf("Device-%d", i)})
		if r := findType(a.Process(ev), domain.AnomalyNameFlipping); r != nil {
			rec = r
		}
	}
	require.NotNil(t, rec)
	assert.Equal(t, domain.DeviceBLESpammer, rec.DeviceType)
}

func TestNameFlipping_StableNameSilent(t *testing.T) {
	a := New(config.DefaultPolicy().BLESpam)

	for i := 0; i < 20; i++ {
		ev := spamEvent(epoch.Add(time.Duration(i)*time.Second), "aa:aa:aa:aa:aa:02",
			&domain.BLEAdvertisement{Name: "AB3-1447"})
		assert.Nil(t, findType(a.Process(ev), domain.AnomalyNameFlipping))
	}
}

func TestActivationSpike(t *testing.T) {
	policy := config.DefaultPolicy().BLESpam
	a := New(policy)

	// One identity bursting far past the activation rate: rate_window
	// seconds times the threshold, delivered in a tight burst.
	need := int(policy.ActivatedRateHz*policy.RateWindow.Seconds()) + 1
	var rec *domain.AnomalyRecord
	for i := 0; i < need; i++ {
		ev := spamEvent(epoch.Add(time.Duration(i)*30*time.Millisecond), "bb:bb:bb:bb:bb:01",
			&domain.BLEAdvertisement{ManufacturerID: 0x0A12})
		if r := findType(a.Process(ev), domain.AnomalyActivationSpike); r != nil {
			rec = r
		}
	}
	require.NotNil(t, rec)
	assert.Equal(t, domain.DeviceBodyCamera, rec.DeviceType)
	assert.Equal(t, 60.0, rec.RawScore)
}

func TestActivationSpike_RepeatLocationDiscount(t *testing.T) {
	policy := config.DefaultPolicy().BLESpam
	a := New(policy)

	burst := func(start time.Time, identity string) *domain.AnomalyRecord {
		need := int(policy.ActivatedRateHz*policy.RateWindow.Seconds()) + 1
		var rec *domain.AnomalyRecord
		for i := 0; i < need; i++ {
			ev := spamEvent(start.Add(time.Duration(i)*30*time.Millisecond), identity,
				&domain.BLEAdvertisement{ManufacturerID: 0x0A12})
			ev.HasFix = true
			ev.Latitude, ev.Longitude = 40.0, -3.0
			if r := findType(a.Process(ev), domain.AnomalyActivationSpike); r != nil {
				rec = r
			}
		}
		return rec
	}

	first := burst(epoch, "cc:cc:cc:cc:cc:01")
	require.NotNil(t, first)
	assert.Equal(t, 60.0, first.RawScore)

	second := burst(epoch.Add(2*policy.RateWindow), "cc:cc:cc:cc:cc:02")
	require.NotNil(t, second)
	assert.Equal(t, 60.0*policy.RepeatActivationDiscount, second.RawScore,
		"repeated activations at one spot look like bench testing")
}
