package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Policy carries every tunable detection constant. Values encode detection
// policy, not code structure, so they are loadable from YAML without
// recompilation. Defaults match the shipped tuning.
type Policy struct {
	Cellular   CellularPolicy   `mapstructure:"cellular"`
	GNSS       GNSSPolicy       `mapstructure:"gnss"`
	BLETracker BLETrackerPolicy `mapstructure:"ble_tracker"`
	BLESpam    BLESpamPolicy    `mapstructure:"ble_spam"`
	WiFi       WiFiPolicy       `mapstructure:"wifi"`
	Ultrasonic UltrasonicPolicy `mapstructure:"ultrasonic"`
	Satellite  SatellitePolicy  `mapstructure:"satellite"`
	Scoring    ScoringPolicy    `mapstructure:"scoring"`
	Correlator CorrelatorPolicy `mapstructure:"correlator"`
	Engine     EnginePolicy     `mapstructure:"engine"`
}

// CellularPolicy tunes the IMSI-catcher heuristic.
type CellularPolicy struct {
	DowngradeBaseScore    float64  `mapstructure:"downgrade_base_score"`
	SignalSpikeDBM        int      `mapstructure:"signal_spike_dbm"`
	SignalSpikeBonus      float64  `mapstructure:"signal_spike_bonus"`
	StationaryBonus       float64  `mapstructure:"stationary_bonus"`
	ImpossibleSpeedBonus  float64  `mapstructure:"impossible_speed_bonus"`
	SuspiciousPLMNs       []string `mapstructure:"suspicious_plmns"`
	SuspiciousPLMNScore   float64  `mapstructure:"suspicious_plmn_score"`
	LACLowMax             int      `mapstructure:"lac_low_max"`
	LACLowBonus           float64  `mapstructure:"lac_low_bonus"`
	CellIDPatternBonus    float64  `mapstructure:"cell_id_pattern_bonus"`
	TrustedSeenCount      int      `mapstructure:"trusted_seen_count"`
	TrustSuppression      float64  `mapstructure:"trust_suppression"`
	FirstSeenAmplifier    float64  `mapstructure:"first_seen_amplifier"`
	RapidSwitchWindow     time.Duration `mapstructure:"rapid_switch_window"`
	HandoffMaxStationary  int      `mapstructure:"handoff_max_stationary"`
	HandoffMaxWalking     int      `mapstructure:"handoff_max_walking"`
	HandoffMaxVehicle     int      `mapstructure:"handoff_max_vehicle"`
	RapidSwitchBonus      float64  `mapstructure:"rapid_switch_bonus"`
	HistoryRetention      time.Duration `mapstructure:"history_retention"`
}

// GNSSPolicy tunes spoof/jam detection.
type GNSSPolicy struct {
	UniformityVarianceMax    float64       `mapstructure:"uniformity_variance_max"` // dB-Hz^2
	SpoofBaseScore           float64       `mapstructure:"spoof_base_score"`
	FixSizeDampening         float64       `mapstructure:"fix_size_dampening"` // per satellite beyond min
	MinFixSatellites         int           `mapstructure:"min_fix_satellites"`
	LowElevationMaxDeg       float64       `mapstructure:"low_elevation_max_deg"`
	LowElevationCN0Ceiling   float64       `mapstructure:"low_elevation_cn0_ceiling"`
	LowElevationCountMin     int           `mapstructure:"low_elevation_count_min"`
	LowElevationBonus        float64       `mapstructure:"low_elevation_bonus"`
	JamVisibleSatCeiling     int           `mapstructure:"jam_visible_sat_ceiling"`
	JamFixSatFloor           int           `mapstructure:"jam_fix_sat_floor"`
	JamGoodAvgCN0            float64       `mapstructure:"jam_good_avg_cn0"`
	JamCN0Floor              float64       `mapstructure:"jam_cn0_floor"`
	JamBaseScore             float64       `mapstructure:"jam_base_score"`
	AsymmetryBonus           float64       `mapstructure:"asymmetry_bonus"`
	ClockDriftWindow         int           `mapstructure:"clock_drift_window"` // samples
	ClockDriftErraticNS      float64       `mapstructure:"clock_drift_erratic_ns"`
	PositionHistorySamples   int           `mapstructure:"position_history_samples"`
	DirectionalConsistencyMin float64      `mapstructure:"directional_consistency_min"`
	DriftRateMinMPS          float64       `mapstructure:"drift_rate_min_mps"`
	MeaconingBonus           float64       `mapstructure:"meaconing_bonus"`
	IndoorCN0Floor           float64       `mapstructure:"indoor_cn0_floor"`
	IndoorSatCountMax        int           `mapstructure:"indoor_sat_count_max"`
	EnvSuppressionFactor     float64       `mapstructure:"env_suppression_factor"`
	EnvSuppressionCooldown   time.Duration `mapstructure:"env_suppression_cooldown"`
}

// BLETrackerPolicy tunes stalking analysis.
type BLETrackerPolicy struct {
	MinSeparationM       float64       `mapstructure:"min_separation_m"`
	MinRevisitInterval   time.Duration `mapstructure:"min_revisit_interval"`
	LocationCountFull    int           `mapstructure:"location_count_full"`
	LocationWeight       float64       `mapstructure:"location_weight"`
	DurationFull         time.Duration `mapstructure:"duration_full"`
	DurationWeight       float64       `mapstructure:"duration_weight"`
	ProximityWeight      float64       `mapstructure:"proximity_weight"`
	PossessionRSSIMin    float64       `mapstructure:"possession_rssi_min"`
	PossessionVarMax     float64       `mapstructure:"possession_var_max"`
	FollowingRSSIMin     float64       `mapstructure:"following_rssi_min"`
	PassingDiscount      float64       `mapstructure:"passing_discount"`
	RSSISampleMin        int           `mapstructure:"rssi_sample_min"`
	Retention            time.Duration `mapstructure:"retention"`
}

// BLESpamPolicy tunes spam and activation-spike detection.
type BLESpamPolicy struct {
	Window              time.Duration `mapstructure:"window"`
	AdvCountThreshold   int           `mapstructure:"adv_count_threshold"`
	NameChangeThreshold int           `mapstructure:"name_change_threshold"`
	PopupManufacturers  []uint16      `mapstructure:"popup_manufacturers"`
	RateWindow          time.Duration `mapstructure:"rate_window"`
	BaselineRateHz      float64       `mapstructure:"baseline_rate_hz"`
	ActivatedRateHz     float64       `mapstructure:"activated_rate_hz"`
	SameLocationRadiusM float64       `mapstructure:"same_location_radius_m"`
	RepeatActivationDiscount float64  `mapstructure:"repeat_activation_discount"`
}

// WiFiPolicy tunes rogue access point detection.
type WiFiPolicy struct {
	EvilTwinRSSIVarMin   float64       `mapstructure:"evil_twin_rssi_var_min"`
	EvilTwinMinAPs       int           `mapstructure:"evil_twin_min_aps"`
	DeauthWindow         time.Duration `mapstructure:"deauth_window"`
	DeauthThreshold      int           `mapstructure:"deauth_threshold"`
	KarmaSSIDMin         int           `mapstructure:"karma_ssid_min"`
	FollowingMinDistanceM float64      `mapstructure:"following_min_distance_m"`
	FollowingMinRevisits int           `mapstructure:"following_min_revisits"`
	VehicleSpeedMPS      float64       `mapstructure:"vehicle_speed_mps"`
	HiddenStrongRSSI     int           `mapstructure:"hidden_strong_rssi"`
	HoneypotPatterns     []string      `mapstructure:"honeypot_patterns"`
	Retention            time.Duration `mapstructure:"retention"`
}

// UltrasonicPolicy tunes the Goertzel beacon detector.
type UltrasonicPolicy struct {
	TargetFrequenciesHz []float64     `mapstructure:"target_frequencies_hz"`
	SNRThresholdDB      float64       `mapstructure:"snr_threshold_db"`
	FreqStabilityHz     float64       `mapstructure:"freq_stability_hz"`
	MinPersistence      time.Duration `mapstructure:"min_persistence"`
	MinDetections       int           `mapstructure:"min_detections"`
	MaxConcurrentFreqs  int           `mapstructure:"max_concurrent_freqs"`
	DetectionTTL        time.Duration `mapstructure:"detection_ttl"`
}

// SatellitePolicy tunes NTN physics validation.
type SatellitePolicy struct {
	RTTFloorMS          float64            `mapstructure:"rtt_floor_ms"`
	OrbitRTTMarginMS    float64            `mapstructure:"orbit_rtt_margin_ms"`
	ProviderBandsGHz    map[string][]float64 `mapstructure:"provider_bands_ghz"`
	BandToleranceGHz    float64            `mapstructure:"band_tolerance_ghz"`
	HandoffWindow       time.Duration      `mapstructure:"handoff_window"`
	HandoffMaxLEO       int                `mapstructure:"handoff_max_leo"`
	HandoffMaxMEO       int                `mapstructure:"handoff_max_meo"`
	HandoffMaxGEO       int                `mapstructure:"handoff_max_geo"`
}

// ScoringPolicy tunes the confidence arithmetic of the scoring engine.
type ScoringPolicy struct {
	MethodBaseConfidence     map[string]float64 `mapstructure:"method_base_confidence"`
	CrossProtocolBonus       float64            `mapstructure:"cross_protocol_bonus"`
	MultiIndicatorBonus      float64            `mapstructure:"multi_indicator_bonus"`
	SustainedBonus           float64            `mapstructure:"sustained_bonus"`
	SustainedAfter           time.Duration      `mapstructure:"sustained_after"`
	WeakIndicatorPenalty     float64            `mapstructure:"weak_indicator_penalty"`
	FalsePositivePenalty     float64            `mapstructure:"false_positive_penalty"`
	BenignConsumerPenalty    float64            `mapstructure:"benign_consumer_penalty"`
	CorrelationWindow        time.Duration      `mapstructure:"correlation_window"`
}

// CorrelatorPolicy tunes spatio-temporal correlation.
type CorrelatorPolicy struct {
	Retention            time.Duration `mapstructure:"retention"`
	Debounce             time.Duration `mapstructure:"debounce"`
	ClockSkewTolerance   time.Duration `mapstructure:"clock_skew_tolerance"`
	DistinctRadiusM      float64       `mapstructure:"distinct_radius_m"`
	MaxSightings         int           `mapstructure:"max_sightings"`
	UrbanSatCountMax     int           `mapstructure:"urban_sat_count_max"`
	RuralSatCountMin     int           `mapstructure:"rural_sat_count_min"`
	MaritimeSpeedMPS     float64       `mapstructure:"maritime_speed_mps"`
	AviationSpeedMPS     float64       `mapstructure:"aviation_speed_mps"`
}

// EnginePolicy tunes the aggregation stage.
type EnginePolicy struct {
	ChannelBuffer       int           `mapstructure:"channel_buffer"`
	SnapshotBatchSize   int           `mapstructure:"snapshot_batch_size"`
	ReanalysisInterval  time.Duration `mapstructure:"reanalysis_interval"`
	InactiveAfter       time.Duration `mapstructure:"inactive_after"`
}

// DefaultPolicy returns the shipped tuning.
func DefaultPolicy() Policy {
	v := viper.New()
	setPolicyDefaults(v)
	var p Policy
	// Defaults are complete, so decoding cannot fail.
	_ = v.Unmarshal(&p)
	p.normalize()
	return p
}

// LoadPolicy reads a YAML policy file over the defaults. An unreadable or
// unparsable file is an error; callers treat it as fatal at startup.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	v := viper.New()
	setPolicyDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}

	var p Policy
	if err := v.Unmarshal(&p); err != nil {
		return Policy{}, fmt.Errorf("parse policy %s: %w", path, err)
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return p, nil
}

// normalize fills map fields viper cannot default cleanly.
func (p *Policy) normalize() {
	if len(p.Satellite.ProviderBandsGHz) == 0 {
		p.Satellite.ProviderBandsGHz = map[string][]float64{
			"starlink":  {10.7, 12.7, 14.0, 14.5},
			"iridium":   {1.616, 1.6265},
			"globalstar": {1.610, 1.6265, 2.4835, 2.500},
			"skylo":     {1.525, 1.559, 1.626, 1.6605},
		}
	}
	if len(p.Scoring.MethodBaseConfidence) == 0 {
		p.Scoring.MethodBaseConfidence = map[string]float64{
			"signature":   0.7,
			"heuristic":   0.5,
			"correlation": 0.6,
		}
	}
}

// Validate rejects values that would disable hard invariants.
func (p *Policy) Validate() error {
	if p.Satellite.RTTFloorMS <= 0 {
		return fmt.Errorf("satellite.rtt_floor_ms must be positive")
	}
	if p.GNSS.JamVisibleSatCeiling <= 0 {
		return fmt.Errorf("gnss.jam_visible_sat_ceiling must be positive")
	}
	if p.Ultrasonic.MinDetections < 1 {
		return fmt.Errorf("ultrasonic.min_detections must be at least 1")
	}
	if p.Correlator.Debounce <= 0 {
		return fmt.Errorf("correlator.debounce must be positive")
	}
	return nil
}

func setPolicyDefaults(v *viper.Viper) {
	defaults := map[string]interface{}{
		// Cellular
		"cellular.downgrade_base_score":   70.0,
		"cellular.signal_spike_dbm":       20,
		"cellular.signal_spike_bonus":     10.0,
		"cellular.stationary_bonus":       10.0,
		"cellular.impossible_speed_bonus": 15.0,
		"cellular.suspicious_plmns":       []string{"001-01", "001-001", "999-99"},
		"cellular.suspicious_plmn_score":  95.0,
		"cellular.lac_low_max":            100,
		"cellular.lac_low_bonus":          10.0,
		"cellular.cell_id_pattern_bonus":  5.0,
		"cellular.trusted_seen_count":     10,
		"cellular.trust_suppression":      0.5,
		"cellular.first_seen_amplifier":   1.3,
		"cellular.rapid_switch_window":    "1m",
		"cellular.handoff_max_stationary": 2,
		"cellular.handoff_max_walking":    4,
		"cellular.handoff_max_vehicle":    8,
		"cellular.rapid_switch_bonus":     15.0,
		"cellular.history_retention":      "24h",

		// GNSS
		"gnss.uniformity_variance_max":     2.0,
		"gnss.spoof_base_score":            65.0,
		"gnss.fix_size_dampening":          0.08,
		"gnss.min_fix_satellites":          4,
		"gnss.low_elevation_max_deg":       15.0,
		"gnss.low_elevation_cn0_ceiling":   42.0,
		"gnss.low_elevation_count_min":     2,
		"gnss.low_elevation_bonus":         15.0,
		"gnss.jam_visible_sat_ceiling":     8,
		"gnss.jam_fix_sat_floor":           10,
		"gnss.jam_good_avg_cn0":            35.0,
		"gnss.jam_cn0_floor":               20.0,
		"gnss.jam_base_score":              60.0,
		"gnss.asymmetry_bonus":             20.0,
		"gnss.clock_drift_window":          16,
		"gnss.clock_drift_erratic_ns":      500.0,
		"gnss.position_history_samples":    30,
		"gnss.directional_consistency_min": 0.85,
		"gnss.drift_rate_min_mps":          0.5,
		"gnss.meaconing_bonus":             25.0,
		"gnss.indoor_cn0_floor":            25.0,
		"gnss.indoor_sat_count_max":        5,
		"gnss.env_suppression_factor":      0.4,
		"gnss.env_suppression_cooldown":    "5m",

		// BLE tracker
		"ble_tracker.min_separation_m":    50.0,
		"ble_tracker.min_revisit_interval": "5m",
		"ble_tracker.location_count_full": 3,
		"ble_tracker.location_weight":     40.0,
		"ble_tracker.duration_full":       "30m",
		"ble_tracker.duration_weight":     30.0,
		"ble_tracker.proximity_weight":    30.0,
		"ble_tracker.possession_rssi_min": -55.0,
		"ble_tracker.possession_var_max":  16.0,
		"ble_tracker.following_rssi_min":  -70.0,
		"ble_tracker.passing_discount":    0.4,
		"ble_tracker.rssi_sample_min":     5,
		"ble_tracker.retention":           "24h",

		// BLE spam
		"ble_spam.window":                "10s",
		"ble_spam.adv_count_threshold":   15,
		"ble_spam.name_change_threshold": 5,
		"ble_spam.popup_manufacturers":   []uint16{0x004C, 0x00E0, 0x0006, 0x0075},
		"ble_spam.rate_window":           "30s",
		"ble_spam.baseline_rate_hz":      1.0,
		"ble_spam.activated_rate_hz":     20.0,
		"ble_spam.same_location_radius_m": 25.0,
		"ble_spam.repeat_activation_discount": 0.5,

		// WiFi
		"wifi.evil_twin_rssi_var_min":   64.0,
		"wifi.evil_twin_min_aps":        2,
		"wifi.deauth_window":            "60s",
		"wifi.deauth_threshold":         10,
		"wifi.karma_ssid_min":           3,
		"wifi.following_min_distance_m": 200.0,
		"wifi.following_min_revisits":   3,
		"wifi.vehicle_speed_mps":        8.0,
		"wifi.hidden_strong_rssi":       -40,
		"wifi.honeypot_patterns": []string{
			"free", "public", "guest", "wifi", "open", "hotspot",
			"starbucks", "mcdonald", "airport", "hotel",
		},
		"wifi.retention": "24h",

		// Ultrasonic
		"ultrasonic.target_frequencies_hz": []float64{17500, 18000, 18500, 19000, 19500, 20000},
		"ultrasonic.snr_threshold_db":      30.0,
		"ultrasonic.freq_stability_hz":     10.0,
		"ultrasonic.min_persistence":       "5s",
		"ultrasonic.min_detections":        5,
		"ultrasonic.max_concurrent_freqs":  3,
		"ultrasonic.detection_ttl":         "30s",

		// Satellite
		"satellite.rtt_floor_ms":       10.0,
		"satellite.orbit_rtt_margin_ms": 15.0,
		"satellite.band_tolerance_ghz": 0.05,
		"satellite.handoff_window":     "10m",
		"satellite.handoff_max_leo":    4,
		"satellite.handoff_max_meo":    2,
		"satellite.handoff_max_geo":    1,

		// Scoring
		"scoring.cross_protocol_bonus":    0.3,
		"scoring.multi_indicator_bonus":   0.2,
		"scoring.sustained_bonus":         0.2,
		"scoring.sustained_after":         "10m",
		"scoring.weak_indicator_penalty":  -0.3,
		"scoring.false_positive_penalty":  -0.5,
		"scoring.benign_consumer_penalty": -0.2,
		"scoring.correlation_window":      "2m",

		// Correlator
		"correlator.retention":            "24h",
		"correlator.debounce":             "45s",
		"correlator.clock_skew_tolerance": "2s",
		"correlator.distinct_radius_m":    50.0,
		"correlator.max_sightings":        500,
		"correlator.urban_sat_count_max":  6,
		"correlator.rural_sat_count_min":  12,
		"correlator.maritime_speed_mps":   10.0,
		"correlator.aviation_speed_mps":   80.0,

		// Engine
		"engine.channel_buffer":      256,
		"engine.snapshot_batch_size": 20,
		"engine.reanalysis_interval": "15m",
		"engine.inactive_after":      "10m",
	}

	for key, val := range defaults {
		v.SetDefault(key, val)
	}
}
