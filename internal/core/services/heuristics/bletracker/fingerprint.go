package bletracker

import (
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/MaxwellDPS/flocksense/internal/core/domain"
)

// Fingerprint derives a rotation-tolerant identity for a BLE advertiser.
// MAC addresses rotate every ~15 minutes, but manufacturer payloads and
// advertised services persist across rotations, so the identity is a
// blake2b-128 digest of both. Returns "" when the payload carries nothing
// stable to key on.
func Fingerprint(adv *domain.BLEAdvertisement) string {
	if adv == nil {
		return ""
	}
	if len(adv.ManufacturerData) == 0 && len(adv.ServiceUUIDs) == 0 {
		return ""
	}

	h, _ := blake2b.New(16, nil)

	var mid [2]byte
	mid[0] = byte(adv.ManufacturerID >> 8)
	mid[1] = byte(adv.ManufacturerID)
	h.Write(mid[:])

	// Tracker payloads embed rotating nonces in the tail; the leading type
	// bytes are stable.
	data := adv.ManufacturerData
	if len(data) > 4 {
		data = data[:4]
	}
	h.Write(data)

	uuids := append([]string(nil), adv.ServiceUUIDs...)
	sort.Strings(uuids)
	h.Write([]byte(strings.ToLower(strings.Join(uuids, ","))))

	return "ble-fp-" + hex.EncodeToString(h.Sum(nil))
}
