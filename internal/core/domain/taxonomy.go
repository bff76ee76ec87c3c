package domain

// DeviceType classifies what a detection is believed to be.
type DeviceType string

const (
	DeviceIMSICatcher      DeviceType = "imsi_catcher"
	DeviceGNSSSpoofer      DeviceType = "gnss_spoofer"
	DeviceGNSSJammer       DeviceType = "gnss_jammer"
	DeviceAirTag           DeviceType = "airtag"
	DeviceFindMy           DeviceType = "findmy_device"
	DeviceTile             DeviceType = "tile"
	DeviceSmartTag         DeviceType = "smarttag"
	DeviceChipolo          DeviceType = "chipolo"
	DeviceUnknownTracker   DeviceType = "unknown_tracker"
	DeviceBLESpammer       DeviceType = "ble_spammer"
	DeviceBodyCamera       DeviceType = "body_camera"
	DeviceRogueAP          DeviceType = "rogue_ap"
	DeviceSurveillanceVan  DeviceType = "surveillance_vehicle"
	DeviceUltrasonicBeacon DeviceType = "ultrasonic_beacon"
	DeviceSatelliteAnomaly DeviceType = "satellite_anomaly"
	DeviceRFTransmitter    DeviceType = "rf_transmitter"
	DeviceBenignConsumer   DeviceType = "benign_consumer"
	DeviceUnknown          DeviceType = "unknown"
)

// Category groups device types for reporting.
type Category string

const (
	CategoryInterception Category = "interception"
	CategoryTracking     Category = "tracking"
	CategorySpoofing     Category = "spoofing"
	CategoryDenial       Category = "denial"
	CategorySurveillance Category = "surveillance"
	CategoryBenign       Category = "benign"
)

// impactFactors reflect the potential harm of each device type (0.5-2.0).
// Applied multiplicatively before clamping, per the scoring formula.
var impactFactors = map[DeviceType]float64{
	DeviceIMSICatcher:      2.0,
	DeviceGNSSSpoofer:      1.8,
	DeviceGNSSJammer:       1.6,
	DeviceAirTag:           1.5,
	DeviceFindMy:           1.4,
	DeviceTile:             1.4,
	DeviceSmartTag:         1.4,
	DeviceChipolo:          1.3,
	DeviceUnknownTracker:   1.6,
	DeviceBLESpammer:       0.8,
	DeviceBodyCamera:       1.2,
	DeviceRogueAP:          1.7,
	DeviceSurveillanceVan:  1.8,
	DeviceUltrasonicBeacon: 1.3,
	DeviceSatelliteAnomaly: 1.5,
	DeviceRFTransmitter:    1.0,
	DeviceBenignConsumer:   0.5,
	DeviceUnknown:          1.0,
}

// ImpactFactor returns the fixed per-device-type harm multiplier.
// Unknown types fall back to neutral 1.0.
func ImpactFactor(t DeviceType) float64 {
	if f, ok := impactFactors[t]; ok {
		return f
	}
	return 1.0
}

// CategoryFor maps a device type onto its reporting category. The switch
// is exhaustive so a new device type fails loudly here rather than
// drifting through scoring uncategorized.
func CategoryFor(t DeviceType) Category {
	switch t {
	case DeviceIMSICatcher:
		return CategoryInterception
	case DeviceAirTag, DeviceFindMy, DeviceTile, DeviceSmartTag, DeviceChipolo,
		DeviceUnknownTracker, DeviceUltrasonicBeacon:
		return CategoryTracking
	case DeviceGNSSSpoofer, DeviceSatelliteAnomaly:
		return CategorySpoofing
	case DeviceGNSSJammer, DeviceBLESpammer:
		return CategoryDenial
	case DeviceBodyCamera, DeviceRogueAP, DeviceSurveillanceVan, DeviceRFTransmitter:
		return CategorySurveillance
	case DeviceBenignConsumer:
		return CategoryBenign
	default:
		return CategorySurveillance
	}
}

// ThreatLevel is the five-step threat taxonomy.
type ThreatLevel string

const (
	LevelInfo     ThreatLevel = "INFO"
	LevelLow      ThreatLevel = "LOW"
	LevelMedium   ThreatLevel = "MEDIUM"
	LevelHigh     ThreatLevel = "HIGH"
	LevelCritical ThreatLevel = "CRITICAL"
)

// Fixed score boundaries, identical across all protocols.
const (
	ScoreLow      = 30.0
	ScoreMedium   = 50.0
	ScoreHigh     = 70.0
	ScoreCritical = 90.0
)

// LevelForScore maps a 0-100 score onto the threat taxonomy.
func LevelForScore(score float64) ThreatLevel {
	switch {
	case score >= ScoreCritical:
		return LevelCritical
	case score >= ScoreHigh:
		return LevelHigh
	case score >= ScoreMedium:
		return LevelMedium
	case score >= ScoreLow:
		return LevelLow
	default:
		return LevelInfo
	}
}

// Rank orders threat levels for sorting and transition checks.
func (l ThreatLevel) Rank() int {
	switch l {
	case LevelCritical:
		return 4
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	case LevelLow:
		return 1
	default:
		return 0
	}
}

// AnomalyType tags the protocol-specific finding a heuristic emitted.
type AnomalyType string

const (
	// Cellular
	AnomalyEncryptionDowngrade AnomalyType = "CELL_ENCRYPTION_DOWNGRADE"
	AnomalySuspiciousPLMN      AnomalyType = "CELL_SUSPICIOUS_PLMN"
	AnomalyLACRange            AnomalyType = "CELL_LAC_LOW_RANGE"
	AnomalyCellIDPattern       AnomalyType = "CELL_ID_PATTERN"
	AnomalyRapidHandoff        AnomalyType = "CELL_RAPID_HANDOFF"

	// GNSS
	AnomalyGNSSSpoof     AnomalyType = "GNSS_SPOOFING"
	AnomalyGNSSJam       AnomalyType = "GNSS_JAMMING"
	AnomalyGNSSMeaconing AnomalyType = "GNSS_MEACONING"
	AnomalyGNSSAsymmetry AnomalyType = "GNSS_CONSTELLATION_ASYMMETRY"

	// BLE
	AnomalyTrackerStalking  AnomalyType = "BLE_TRACKER_STALKING"
	AnomalyTrackerPresence  AnomalyType = "BLE_TRACKER_PRESENCE"
	AnomalyBLESpam          AnomalyType = "BLE_SPAM"
	AnomalyNameFlipping     AnomalyType = "BLE_NAME_FLIPPING"
	AnomalyActivationSpike  AnomalyType = "BLE_ACTIVATION_SPIKE"

	// WiFi
	AnomalyEvilTwin       AnomalyType = "WIFI_EVIL_TWIN"
	AnomalyDeauthFlood    AnomalyType = "WIFI_DEAUTH_FLOOD"
	AnomalyKarma          AnomalyType = "WIFI_KARMA"
	AnomalyFollowingAP    AnomalyType = "WIFI_FOLLOWING_NETWORK"
	AnomalyWeakEncryption AnomalyType = "WIFI_WEAK_ENCRYPTION"
	AnomalyHoneypotSSID   AnomalyType = "WIFI_HONEYPOT_SSID"
	AnomalyHiddenStrong   AnomalyType = "WIFI_HIDDEN_STRONG"

	// Ultrasonic
	AnomalyUltrasonicBeacon AnomalyType = "ULTRASONIC_BEACON"

	// Satellite
	AnomalyImpossibleRTT    AnomalyType = "SAT_IMPOSSIBLE_RTT"
	AnomalyBandMismatch     AnomalyType = "SAT_BAND_MISMATCH"
	AnomalyIndoorSatellite  AnomalyType = "SAT_INDOOR_CONNECTION"
	AnomalyForcedDowngrade  AnomalyType = "SAT_FORCED_DOWNGRADE"
	AnomalyAbnormalHandoff  AnomalyType = "SAT_ABNORMAL_HANDOFF"
)
