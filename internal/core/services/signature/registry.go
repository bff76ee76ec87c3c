// Package signature holds the static registry of known surveillance device
// patterns and the match engine that resolves scan events against it.
package signature

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/MaxwellDPS/flocksense/internal/core/domain"
)

// Registry is the loaded, read-only signature table. Matching is pure and
// side-effect free.
type Registry struct {
	patterns []domain.SignaturePattern
	regexes  map[string]*regexp.Regexp // pattern ID -> compiled NameRegex
}

// Load reads a JSON signature file and merges it over the built-in seed
// patterns. A missing file is allowed (seed patterns only); an unparsable
// file is fatal to process initialization.
func Load(path string) (*Registry, error) {
	patterns := seedPatterns()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			var loaded []domain.SignaturePattern
			if err := json.Unmarshal(data, &loaded); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", domain.ErrRegistryCorrupt, path, err)
			}
			patterns = append(patterns, loaded...)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrRegistryCorrupt, path, err)
		}
	}

	return New(patterns)
}

// New builds a registry from explicit patterns, compiling regexes eagerly
// so malformed entries fail at startup rather than during matching.
func New(patterns []domain.SignaturePattern) (*Registry, error) {
	r := &Registry{
		patterns: patterns,
		regexes:  make(map[string]*regexp.Regexp),
	}
	for _, p := range patterns {
		if p.NameRegex == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p.NameRegex)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %s: %v", domain.ErrRegistryCorrupt, p.ID, err)
		}
		r.regexes[p.ID] = re
	}
	return r, nil
}

// Len returns the number of loaded patterns.
func (r *Registry) Len() int { return len(r.patterns) }

func u16(v uint16) *uint16 { return &v }

// seedPatterns returns the built-in signature table: known tracker
// manufacturer payloads, service identifiers, and frequency signatures.
func seedPatterns() []domain.SignaturePattern {
	return []domain.SignaturePattern{
		// Apple FindMy network. Payload type 0x12 is offline finding;
		// 25+ byte payloads are AirTags, shorter ones other FindMy devices.
		{ID: "ble-airtag", Protocol: domain.ProtocolBLE, DeviceType: domain.DeviceAirTag,
			Category: domain.CategoryTracking, BaseScore: 45,
			ManufacturerID: u16(0x004C), PayloadPrefix: []byte{0x12},
			Description: "Apple AirTag offline finding advertisement"},
		{ID: "ble-findmy", Protocol: domain.ProtocolBLE, DeviceType: domain.DeviceFindMy,
			Category: domain.CategoryTracking, BaseScore: 35,
			ManufacturerID: u16(0x004C), PayloadPrefix: []byte{0x07},
			Description: "Apple FindMy nearby advertisement"},
		{ID: "ble-smarttag", Protocol: domain.ProtocolBLE, DeviceType: domain.DeviceSmartTag,
			Category: domain.CategoryTracking, BaseScore: 45,
			ManufacturerID: u16(0x0075),
			Description: "Samsung SmartThings Find tag"},
		{ID: "ble-tile-feed", Protocol: domain.ProtocolBLE, DeviceType: domain.DeviceTile,
			Category: domain.CategoryTracking, BaseScore: 40,
			ServiceUUID: "feed", Description: "Tile tracker service"},
		{ID: "ble-tile-feec", Protocol: domain.ProtocolBLE, DeviceType: domain.DeviceTile,
			Category: domain.CategoryTracking, BaseScore: 40,
			ServiceUUID: "feec", Description: "Tile tracker service (alt)"},
		{ID: "ble-chipolo", Protocol: domain.ProtocolBLE, DeviceType: domain.DeviceChipolo,
			Category: domain.CategoryTracking, BaseScore: 35,
			ServiceUUID: "fe50", Description: "Chipolo tracker service"},

		// Body-worn cameras advertise vendor names.
		{ID: "ble-axon", Protocol: domain.ProtocolBLE, DeviceType: domain.DeviceBodyCamera,
			Category: domain.CategorySurveillance, BaseScore: 60,
			NameRegex: `^(axon|ab[34]|x2-)`, Description: "Axon body camera"},

		// Known surveillance OUI prefixes.
		{ID: "wifi-falcon", Protocol: domain.ProtocolWiFi, DeviceType: domain.DeviceSurveillanceVan,
			Category: domain.CategorySurveillance, BaseScore: 70,
			OUIPrefix: "00:40:96", Description: "Aironet surveillance platform"},

		// ALPR / mesh camera SSIDs.
		{ID: "wifi-flock", Protocol: domain.ProtocolWiFi, DeviceType: domain.DeviceSurveillanceVan,
			Category: domain.CategorySurveillance, BaseScore: 75,
			NameRegex: `^(flock|falcon[-_]|penguin[-_])`, Description: "ALPR camera network"},

		// RF band signatures.
		{ID: "rf-tracker-433", Protocol: domain.ProtocolRF, DeviceType: domain.DeviceRFTransmitter,
			Category: domain.CategoryTracking, BaseScore: 30,
			FrequencyHz: 433.92e6, FrequencyTolHz: 0.2e6,
			Description: "433 MHz beacon transmitter"},
		{ID: "rf-tracker-915", Protocol: domain.ProtocolRF, DeviceType: domain.DeviceRFTransmitter,
			Category: domain.CategoryTracking, BaseScore: 30,
			FrequencyHz: 915e6, FrequencyTolHz: 1e6,
			Description: "915 MHz ISM beacon transmitter"},

		// Benign consumer devices that would otherwise trip heuristics.
		{ID: "ble-benign-buds", Protocol: domain.ProtocolBLE, DeviceType: domain.DeviceBenignConsumer,
			Category: domain.CategoryBenign, BaseScore: 5,
			NameRegex: `(airpods|galaxy buds|wh-1000|jbl |soundcore)`,
			Description: "Consumer audio device"},
	}
}
