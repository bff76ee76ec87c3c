package signature

import (
	"bytes"
	"math"
	"strings"

	"github.com/MaxwellDPS/flocksense/internal/core/domain"
)

// Per-tier match confidence. Exact identifier matches are near certain,
// frequency-band matches only suggestive.
var tierConfidence = map[domain.MatchTier]float64{
	domain.TierExact:     0.95,
	domain.TierOUIPrefix: 0.8,
	domain.TierNameRegex: 0.7,
	domain.TierFrequency: 0.5,
}

// Match resolves an event against the registry. Specificity order: exact
// service/manufacturer match > OUI prefix > name/SSID regex > frequency
// band. Ties within a tier resolve to the higher base score. Returns nil
// when nothing matches; the event may still feed heuristics that need no
// signature hit.
func (r *Registry) Match(event domain.ScanEvent) *domain.SignatureMatch {
	var best *domain.SignatureMatch

	for i := range r.patterns {
		p := &r.patterns[i]
		if p.Protocol != event.Protocol {
			continue
		}
		if !r.patternMatches(p, event) {
			continue
		}

		tier := p.Tier()
		cand := &domain.SignatureMatch{
			Pattern:    *p,
			DeviceType: p.DeviceType,
			BaseScore:  p.BaseScore,
			Confidence: tierConfidence[tier],
			Tier:       tier,
		}
		if best == nil ||
			cand.Tier > best.Tier ||
			(cand.Tier == best.Tier && cand.BaseScore > best.BaseScore) {
			best = cand
		}
	}

	return best
}

func (r *Registry) patternMatches(p *domain.SignaturePattern, event domain.ScanEvent) bool {
	switch {
	case p.ManufacturerID != nil:
		adv := event.BLE
		if adv == nil || adv.ManufacturerID != *p.ManufacturerID {
			return false
		}
		if len(p.PayloadPrefix) > 0 {
			if len(adv.ManufacturerData) < len(p.PayloadPrefix) {
				return false
			}
			return bytes.Equal(adv.ManufacturerData[:len(p.PayloadPrefix)], p.PayloadPrefix)
		}
		return true

	case p.ServiceUUID != "":
		if event.BLE == nil {
			return false
		}
		for _, uuid := range event.BLE.ServiceUUIDs {
			if strings.EqualFold(normalizeUUID(uuid), p.ServiceUUID) {
				return true
			}
		}
		return false

	case p.OUIPrefix != "":
		return strings.HasPrefix(strings.ToUpper(eventAddress(event)), strings.ToUpper(p.OUIPrefix))

	case p.NameRegex != "":
		re, ok := r.regexes[p.ID]
		if !ok {
			return false
		}
		return re.MatchString(eventName(event))

	case p.FrequencyHz > 0:
		if event.RF == nil {
			return false
		}
		return math.Abs(event.RF.FrequencyHz-p.FrequencyHz) <= p.FrequencyTolHz

	default:
		return false
	}
}

// normalizeUUID strips the Bluetooth base-UUID suffix so 16-bit service
// identifiers compare in short form.
func normalizeUUID(uuid string) string {
	u := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	if len(u) == 32 && strings.HasSuffix(u, "00001000800000805f9b34fb") {
		return strings.TrimLeft(u[:8], "0")
	}
	return strings.TrimPrefix(u, "0x")
}

func eventAddress(event domain.ScanEvent) string {
	if event.WiFi != nil {
		return event.WiFi.BSSID
	}
	return event.Identity
}

func eventName(event domain.ScanEvent) string {
	switch {
	case event.BLE != nil:
		return event.BLE.Name
	case event.WiFi != nil:
		return event.WiFi.SSID
	default:
		return ""
	}
}
