package domain

// MatchTier orders signature matching specificity. Higher tiers win.
type MatchTier int

const (
	TierFrequency MatchTier = iota + 1 // frequency band with tolerance
	TierNameRegex                      // name/SSID regex
	TierOUIPrefix                      // address prefix
	TierExact                          // service identifier / manufacturer ID
)

// SignaturePattern maps an observable pattern onto a device type and base
// score. The registry is static per build and read-only during matching.
type SignaturePattern struct {
	ID         string     `json:"id"`
	Protocol   Protocol   `json:"protocol"`
	DeviceType DeviceType `json:"device_type"`
	Category   Category   `json:"category"`

	// BaseScore is the signature's base likelihood (0-100).
	BaseScore float64 `json:"base_score"`

	// Exactly one of the pattern fields below is expected per entry.

	// ManufacturerID matches BLE manufacturer-specific data company IDs.
	ManufacturerID *uint16 `json:"manufacturer_id,omitempty"`
	// PayloadPrefix further narrows a manufacturer match (hex bytes).
	PayloadPrefix []byte `json:"payload_prefix,omitempty"`
	// ServiceUUID matches an advertised service identifier.
	ServiceUUID string `json:"service_uuid,omitempty"`
	// OUIPrefix matches the first three address octets ("AA:BB:CC").
	OUIPrefix string `json:"oui_prefix,omitempty"`
	// NameRegex matches device names or SSIDs.
	NameRegex string `json:"name_regex,omitempty"`
	// FrequencyHz with FrequencyTolHz matches RF band signatures.
	FrequencyHz    float64 `json:"frequency_hz,omitempty"`
	FrequencyTolHz float64 `json:"frequency_tol_hz,omitempty"`

	Description string `json:"description,omitempty"`
}

// Tier returns the specificity tier this pattern matches at.
func (p *SignaturePattern) Tier() MatchTier {
	switch {
	case p.ManufacturerID != nil || p.ServiceUUID != "":
		return TierExact
	case p.OUIPrefix != "":
		return TierOUIPrefix
	case p.NameRegex != "":
		return TierNameRegex
	default:
		return TierFrequency
	}
}

// SignatureMatch is the result of matching one event against the registry.
type SignatureMatch struct {
	Pattern    SignaturePattern `json:"pattern"`
	DeviceType DeviceType       `json:"device_type"`
	BaseScore  float64          `json:"base_score"`
	Confidence float64          `json:"confidence"`
	Tier       MatchTier        `json:"tier"`
}
