// Package mock generates a deterministic synthetic event stream covering
// every protocol, for demos and end-to-end runs without sensors.
package mock

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/geo"
)

// Epoch anchors the synthetic timeline. Fixed so repeated runs replay the
// identical stream.
var Epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Source implements ports.EventSource with a scripted scenario.
type Source struct {
	events chan domain.ScanEvent
	rng    *rand.Rand
	base   geo.Location
}

// New creates a mock source anchored at the observer location. The seed
// fixes the stream; a zero base falls back to the default site.
func New(buffer int, seed int64, base geo.Location) *Source {
	if base == (geo.Location{}) {
		base = geo.Location{Latitude: 40.4168, Longitude: -3.7038}
	}
	return &Source{
		events: make(chan domain.ScanEvent, buffer),
		rng:    rand.New(rand.NewSource(seed)),
		base:   base,
	}
}

// Events returns the synthetic stream.
func (s *Source) Events() <-chan domain.ScanEvent { return s.events }

// Close is a no-op.
func (s *Source) Close() {}

// Start emits the scripted scenario and returns.
func (s *Source) Start(ctx context.Context) error {
	defer close(s.events)
	for _, ev := range s.scenario() {
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// scenario scripts one sweep through the protocols: ambient GNSS fixes, a
// tracker shadowing three stops, a cell downgrade, an ultrasonic beacon, a
// deauth burst, a 433 MHz beacon and an impossible satellite link, padded
// with benign traffic.
func (s *Source) scenario() []domain.ScanEvent {
	var out []domain.ScanEvent
	at := func(offset time.Duration) time.Time { return Epoch.Add(offset) }

	// Ambient GNSS, healthy sky.
	for i := 0; i < 20; i++ {
		out = append(out, s.gnssFix(at(time.Duration(i)*30*time.Second), 14, 42+float64(i%3)*2))
	}

	// An AirTag-shaped advertisement at three stops, minutes apart.
	stops := []struct{ lat, lng float64 }{
		{s.base.Latitude, s.base.Longitude},
		{s.base.Latitude + 0.0022, s.base.Longitude + 0.0088},
		{s.base.Latitude + 0.0087, s.base.Longitude + 0.0148},
	}
	for i, stop := range stops {
		base := time.Duration(i) * 7 * time.Minute
		for j := 0; j < 6; j++ {
			out = append(out, domain.ScanEvent{
				Protocol:  domain.ProtocolBLE,
				Timestamp: at(base + time.Duration(j)*20*time.Second),
				Identity:  s.randomMAC(),
				RSSI:      -58 - s.rng.Intn(14),
				Latitude:  stop.lat,
				Longitude: stop.lng,
				HasFix:    true,
				BLE: &domain.BLEAdvertisement{
					ManufacturerID:   0x004C,
					ManufacturerData: []byte{0x12, 0x19, 0x10, 0xAA, 0xBB, 0xCC},
					AddressRandom:    true,
				},
			})
		}
	}

	// Benign consumer audio gear.
	for i := 0; i < 4; i++ {
		out = append(out, domain.ScanEvent{
			Protocol:  domain.ProtocolBLE,
			Timestamp: at(2*time.Minute + time.Duration(i)*45*time.Second),
			Identity:  "c4:5d:83:11:22:33",
			RSSI:      -64,
			BLE: &domain.BLEAdvertisement{
				Name:             "WH-1000XM5",
				ManufacturerID:   0x012D,
				ManufacturerData: []byte{0x01, 0x02, 0x03, 0x04},
			},
		})
	}

	// Healthy serving cell, then a downgrade to 2G on a test PLMN.
	out = append(out, s.cell(at(1*time.Minute), "214", "07", 0x2F10, 118202, 4, -85))
	out = append(out, s.cell(at(16*time.Minute), "001", "01", 0x0001, 1111, 2, -60))

	// Ultrasonic beacon: stable 18 kHz tone across seven chunks.
	for i := 0; i < 7; i++ {
		out = append(out, domain.ScanEvent{
			Protocol:  domain.ProtocolUltrasonic,
			Timestamp: at(18*time.Minute + time.Duration(i)*time.Second),
			Identity:  "mic0",
			Audio:     toneChunk(18000, 48000, 4800, 0.5),
		})
	}

	// Deauth burst against the local AP.
	for i := 0; i < 12; i++ {
		out = append(out, domain.ScanEvent{
			Protocol:  domain.ProtocolWiFi,
			Timestamp: at(20*time.Minute + time.Duration(i)*3*time.Second),
			Identity:  "aa:bb:cc:dd:ee:ff",
			RSSI:      -50,
			Latitude:  s.base.Latitude,
			Longitude: s.base.Longitude,
			HasFix:    true,
			WiFi: &domain.WiFiObservation{
				Frame:      domain.WiFiFrameDeauth,
				BSSID:      "aa:bb:cc:dd:ee:ff",
				TargetMAC:  "ff:ff:ff:ff:ff:ff",
				ReasonCode: 7,
			},
		})
	}

	// Sub-GHz key-fob-style beacon on the 433 MHz ISM band. No heuristic
	// owns RF; the frequency signature tier carries it.
	for i := 0; i < 3; i++ {
		out = append(out, domain.ScanEvent{
			Protocol:  domain.ProtocolRF,
			Timestamp: at(21*time.Minute + time.Duration(i)*30*time.Second),
			Identity:  "433.920MHz",
			RSSI:      -62,
			Latitude:  s.base.Latitude,
			Longitude: s.base.Longitude,
			HasFix:    true,
			RF: &domain.RFSweep{
				FrequencyHz: 433.92e6,
				PowerDBM:    -62,
				Modulation:  "OOK",
			},
		})
	}

	// Satellite link claiming LEO with a terrestrial-grade RTT.
	out = append(out, domain.ScanEvent{
		Protocol:  domain.ProtocolSatellite,
		Timestamp: at(22 * time.Minute),
		Identity:  "starlink-4021",
		RSSI:      -95,
		Satellite: &domain.SatelliteLink{
			SatelliteID:  "starlink-4021",
			Provider:     "starlink",
			Orbit:        domain.OrbitLEO,
			RTTMillis:    4.2,
			FrequencyGHz: 11.9,
		},
	})

	// The engine drops events arriving behind the stream's high-water
	// mark, so the scripted blocks must interleave chronologically.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (s *Source) gnssFix(ts time.Time, visible int, avgCN0 float64) domain.ScanEvent {
	sats := make([]domain.GNSSSatellite, visible)
	for i := range sats {
		sats[i] = domain.GNSSSatellite{
			Constellation: "GPS",
			PRN:           i + 1,
			CN0:           avgCN0 + float64(s.rng.Intn(9)) - 4,
			Elevation:     10 + float64(s.rng.Intn(70)),
			UsedInFix:     i < 10,
		}
	}
	return domain.ScanEvent{
		Protocol:  domain.ProtocolGNSS,
		Timestamp: ts,
		Identity:  "gnss0",
		Latitude:  s.base.Latitude,
		Longitude: s.base.Longitude,
		HasFix:    true,
		GNSS: &domain.GNSSFix{
			Satellites:   sats,
			VisibleCount: visible,
			ClockBiasNS:  float64(s.rng.Intn(40)),
		},
	}
}

func (s *Source) cell(ts time.Time, mcc, mnc string, lac int, cellID int64, gen int, dbm int) domain.ScanEvent {
	return domain.ScanEvent{
		Protocol:  domain.ProtocolCellular,
		Timestamp: ts,
		Identity:  "modem0",
		RSSI:      dbm,
		Latitude:  s.base.Latitude,
		Longitude: s.base.Longitude,
		HasFix:    true,
		Cellular: &domain.CellularObservation{
			MCC:        mcc,
			MNC:        mnc,
			LAC:        lac,
			CellID:     cellID,
			Generation: gen,
			SignalDBM:  dbm,
		},
	}
}

func (s *Source) randomMAC() string {
	const hexdigits = "0123456789abcdef"
	b := make([]byte, 17)
	for i := 0; i < 17; i++ {
		if (i+1)%3 == 0 {
			b[i] = ':'
		} else {
			b[i] = hexdigits[s.rng.Intn(16)]
		}
	}
	return string(b)
}

// toneChunk synthesizes one second of a pure tone over a quiet floor.
func toneChunk(freqHz float64, sampleRate, samples int, amplitude float64) *domain.AudioChunk {
	data := make([]float64, samples)
	for i := range data {
		data[i] = amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate))
	}
	return &domain.AudioChunk{
		SampleRate: sampleRate,
		Samples:    data,
		NoiseFloor: -60,
	}
}
