package domain

import (
	"fmt"
	"time"
)

// Protocol identifies the sensor stream an event originated from.
type Protocol string

const (
	ProtocolCellular   Protocol = "cellular"
	ProtocolGNSS       Protocol = "gnss"
	ProtocolBLE        Protocol = "ble"
	ProtocolWiFi       Protocol = "wifi"
	ProtocolUltrasonic Protocol = "ultrasonic"
	ProtocolRF         Protocol = "rf"
	ProtocolSatellite  Protocol = "satellite"
)

// Protocols lists every supported sensor protocol.
var Protocols = []Protocol{
	ProtocolCellular, ProtocolGNSS, ProtocolBLE, ProtocolWiFi,
	ProtocolUltrasonic, ProtocolRF, ProtocolSatellite,
}

// ScanEvent is a single immutable sensor observation. Exactly one of the
// protocol payload pointers must be set, matching the Protocol tag.
type ScanEvent struct {
	Protocol  Protocol  `json:"protocol"`
	Timestamp time.Time `json:"timestamp"`

	// Identity is the raw device identity for this protocol: MAC, BSSID,
	// cell key, satellite ID. BLE identities are replaced by a
	// rotation-tolerant fingerprint before aggregation.
	Identity string `json:"identity"`

	// RSSI is the signal metric in dBm (C/N0 dB-Hz for GNSS satellites,
	// carried per-satellite in the fix payload instead).
	RSSI int `json:"rssi"`

	Latitude  float64 `json:"lat,omitempty"`
	Longitude float64 `json:"lng,omitempty"`
	HasFix    bool    `json:"has_fix,omitempty"`

	Cellular   *CellularObservation `json:"cellular,omitempty"`
	GNSS       *GNSSFix             `json:"gnss,omitempty"`
	BLE        *BLEAdvertisement    `json:"ble,omitempty"`
	WiFi       *WiFiObservation     `json:"wifi,omitempty"`
	Audio      *AudioChunk          `json:"audio,omitempty"`
	RF         *RFSweep             `json:"rf,omitempty"`
	Satellite  *SatelliteLink       `json:"satellite,omitempty"`
}

// CellularObservation describes the currently serving cell.
type CellularObservation struct {
	MCC        string `json:"mcc"`
	MNC        string `json:"mnc"`
	LAC        int    `json:"lac"` // LAC or TAC depending on generation
	CellID     int64  `json:"cell_id"`
	Generation int    `json:"generation"` // 2, 3, 4, 5
	SignalDBM  int    `json:"signal_dbm"`
}

// PLMN returns the operator code in "MCC-MNC" form.
func (c *CellularObservation) PLMN() string {
	return c.MCC + "-" + c.MNC
}

// CellKey returns the identity key for this cell.
func (c *CellularObservation) CellKey() string {
	return fmt.Sprintf("%s-%s/%d/%d", c.MCC, c.MNC, c.LAC, c.CellID)
}

// GNSSSatellite is one satellite contributing to a fix.
type GNSSSatellite struct {
	Constellation string  `json:"constellation"` // "GPS", "GLONASS", "Galileo", "BeiDou"
	PRN           int     `json:"prn"`
	CN0           float64 `json:"cn0"` // dB-Hz
	Elevation     float64 `json:"elevation_deg"`
	Azimuth       float64 `json:"azimuth_deg"`
	UsedInFix     bool    `json:"used_in_fix"`
}

// GNSSFix is a navigation solution snapshot with the satellites behind it.
type GNSSFix struct {
	Satellites   []GNSSSatellite `json:"satellites"`
	VisibleCount int             `json:"visible_count"`
	ClockBiasNS  float64         `json:"clock_bias_ns"`
	Accuracy     float64         `json:"accuracy_m"`
	Speed        float64         `json:"speed_mps"`
}

// UsedInFix returns the satellites participating in the solution.
func (f *GNSSFix) UsedSatellites() []GNSSSatellite {
	used := make([]GNSSSatellite, 0, len(f.Satellites))
	for _, s := range f.Satellites {
		if s.UsedInFix {
			used = append(used, s)
		}
	}
	return used
}

// BLEAdvertisement carries the parsed advertising payload.
type BLEAdvertisement struct {
	Name             string   `json:"name,omitempty"`
	ManufacturerID   uint16   `json:"manufacturer_id,omitempty"`
	ManufacturerData []byte   `json:"manufacturer_data,omitempty"`
	ServiceUUIDs     []string `json:"service_uuids,omitempty"`
	AddressRandom    bool     `json:"address_random"`
	Connectable      bool     `json:"connectable"`
}

// WiFiFrameKind distinguishes the management frames the engine cares about.
type WiFiFrameKind string

const (
	WiFiFrameBeacon    WiFiFrameKind = "beacon"
	WiFiFrameProbeResp WiFiFrameKind = "probe_resp"
	WiFiFrameDeauth    WiFiFrameKind = "deauth"
	WiFiFrameDisassoc  WiFiFrameKind = "disassoc"
)

// WiFiObservation describes a management frame from an access point.
type WiFiObservation struct {
	Frame      WiFiFrameKind `json:"frame"`
	SSID       string        `json:"ssid,omitempty"`
	BSSID      string        `json:"bssid"`
	Channel    int           `json:"channel,omitempty"`
	Security   string        `json:"security,omitempty"` // "OPEN", "WEP", "WPA2", "WPA3"
	Hidden     bool          `json:"hidden,omitempty"`
	TargetMAC  string        `json:"target_mac,omitempty"` // deauth victim, ff:.. for broadcast
	ReasonCode uint16        `json:"reason_code,omitempty"`
}

// AudioChunk is a block of microphone samples for ultrasonic analysis.
type AudioChunk struct {
	SampleRate int       `json:"sample_rate"`
	Samples    []float64 `json:"-"`
	NoiseFloor float64   `json:"noise_floor_db"`
}

// RFSweep is a coarse spectrum observation from an SDR or sub-GHz radio.
type RFSweep struct {
	FrequencyHz float64 `json:"frequency_hz"`
	PowerDBM    float64 `json:"power_dbm"`
	Modulation  string  `json:"modulation,omitempty"`
}

// OrbitClass is the claimed orbit of a satellite link.
type OrbitClass string

const (
	OrbitLEO OrbitClass = "LEO"
	OrbitMEO OrbitClass = "MEO"
	OrbitGEO OrbitClass = "GEO"
)

// SatelliteLink describes a non-terrestrial network connection event.
type SatelliteLink struct {
	SatelliteID     string     `json:"satellite_id"`
	Provider        string     `json:"provider"`
	Orbit           OrbitClass `json:"orbit"`
	RTTMillis       float64    `json:"rtt_ms"`
	FrequencyGHz    float64    `json:"frequency_ghz"`
	TerrestrialLost bool       `json:"terrestrial_lost"`  // terrestrial signal dropped right before
	UserInitiated   bool       `json:"user_initiated"`
}

// Validate checks the event is complete enough to process. Malformed events
// are skipped with a diagnostic log; the stream never halts.
func (e *ScanEvent) Validate() error {
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrMalformedEvent)
	}
	if e.Identity == "" {
		return fmt.Errorf("%w: empty identity", ErrMalformedEvent)
	}
	var ok bool
	switch e.Protocol {
	case ProtocolCellular:
		ok = e.Cellular != nil
	case ProtocolGNSS:
		ok = e.GNSS != nil
	case ProtocolBLE:
		ok = e.BLE != nil
	case ProtocolWiFi:
		ok = e.WiFi != nil && e.WiFi.BSSID != ""
	case ProtocolUltrasonic:
		ok = e.Audio != nil && e.Audio.SampleRate > 0
	case ProtocolRF:
		ok = e.RF != nil && e.RF.FrequencyHz > 0
	case ProtocolSatellite:
		ok = e.Satellite != nil
	default:
		return fmt.Errorf("%w: unknown protocol %q", ErrMalformedEvent, e.Protocol)
	}
	if !ok {
		return fmt.Errorf("%w: missing %s payload", ErrMalformedEvent, e.Protocol)
	}
	return nil
}
