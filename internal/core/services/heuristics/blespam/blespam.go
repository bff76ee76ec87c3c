// Package blespam implements BLE advertisement spam and activation-spike
// detection.
package blespam

import (
	"fmt"
	"time"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics"
	"github.com/MaxwellDPS/flocksense/internal/geo"
)

type nameState struct {
	lastName string
	changes  *heuristics.SlidingCounter
}

type rateState struct {
	packets   *heuristics.SlidingCounter
	lastAlert time.Time
}

type activationSite struct {
	loc   geo.Location
	count int
}

// Analyzer owns the spam counters. Single writer.
type Analyzer struct {
	policy config.BLESpamPolicy

	popup map[uint16]bool

	// advCounts keys popup-triggering advertisements per manufacturer code,
	// not per source address: spam attacks rotate addresses per packet.
	advCounts map[uint16]*heuristics.SlidingCounter
	names     map[string]*nameState
	rates     map[string]*rateState

	activationSites []activationSite
}

// New creates a BLE spam analyzer.
func New(policy config.BLESpamPolicy) *Analyzer {
	popup := make(map[uint16]bool, len(policy.PopupManufacturers))
	for _, id := range policy.PopupManufacturers {
		popup[id] = true
	}
	return &Analyzer{
		policy:    policy,
		popup:     popup,
		advCounts: make(map[uint16]*heuristics.SlidingCounter),
		names:     make(map[string]*nameState),
		rates:     make(map[string]*rateState),
	}
}

// Protocol implements ports.Heuristic.
func (a *Analyzer) Protocol() domain.Protocol { return domain.ProtocolBLE }

// Flush implements ports.Heuristic. Counters below threshold at
// cancellation emit nothing.
func (a *Analyzer) Flush() []domain.AnomalyRecord { return nil }

// Process consumes one advertisement.
func (a *Analyzer) Process(event domain.ScanEvent) []domain.AnomalyRecord {
	adv := event.BLE
	if adv == nil {
		return nil
	}

	var records []domain.AnomalyRecord
	if rec := a.checkPopupSpam(event, adv); rec != nil {
		records = append(records, *rec)
	}
	if rec := a.checkNameFlipping(event, adv); rec != nil {
		records = append(records, *rec)
	}
	if rec := a.checkActivationSpike(event); rec != nil {
		records = append(records, *rec)
	}
	return records
}

// checkPopupSpam counts popup-triggering advertisements per manufacturer
// code inside the sliding window, tolerating per-packet address rotation.
func (a *Analyzer) checkPopupSpam(event domain.ScanEvent, adv *domain.BLEAdvertisement) *domain.AnomalyRecord {
	if !a.popup[adv.ManufacturerID] || len(adv.ManufacturerData) == 0 {
		return nil
	}

	counter, ok := a.advCounts[adv.ManufacturerID]
	if !ok {
		counter = heuristics.NewSlidingCounter(a.policy.Window)
		a.advCounts[adv.ManufacturerID] = counter
	}

	count := counter.Add(event.Timestamp)
	if count < a.policy.AdvCountThreshold {
		return nil
	}

	rec := heuristics.NewRecord(event, domain.AnomalyBLESpam, domain.DeviceBLESpammer, 0.75, 55)
	rec.Identity = fmt.Sprintf("ble-spam-%04x", adv.ManufacturerID)
	rec.AddFactor("popup_flood", 55,
		fmt.Sprintf("%d popup advertisements (manufacturer 0x%04X) in %s",
			count, adv.ManufacturerID, a.policy.Window))
	counter.Reset()
	return &rec
}

// checkNameFlipping counts rapid device-name changes per source identity.
func (a *Analyzer) checkNameFlipping(event domain.ScanEvent, adv *domain.BLEAdvertisement) *domain.AnomalyRecord {
	if adv.Name == "" {
		return nil
	}

	st, ok := a.names[event.Identity]
	if !ok {
		st = &nameState{changes: heuristics.NewSlidingCounter(a.policy.Window)}
		a.names[event.Identity] = st
	}

	if st.lastName != "" && st.lastName != adv.Name {
		if st.changes.Add(event.Timestamp) >= a.policy.NameChangeThreshold {
			rec := heuristics.NewRecord(event, domain.AnomalyNameFlipping, domain.DeviceBLESpammer, 0.7, 50)
			rec.AddFactor("name_flipping", 50,
				fmt.Sprintf("%d name changes in %s", st.changes.Count(event.Timestamp), a.policy.Window))
			st.changes.Reset()
			st.lastName = adv.Name
			return &rec
		}
	}
	st.lastName = adv.Name
	return nil
}

// checkActivationSpike compares the per-identity advertising rate against
// the idle baseline. Body cameras idle near 1 packet/s and jump to
// 20-50 packets/s on activation.
func (a *Analyzer) checkActivationSpike(event domain.ScanEvent) *domain.AnomalyRecord {
	st, ok := a.rates[event.Identity]
	if !ok {
		st = &rateState{packets: heuristics.NewSlidingCounter(a.policy.RateWindow)}
		a.rates[event.Identity] = st
	}

	count := st.packets.Add(event.Timestamp)
	rate := float64(count) / a.policy.RateWindow.Seconds()
	if rate < a.policy.ActivatedRateHz {
		return nil
	}
	// One alert per window per identity.
	if !st.lastAlert.IsZero() && event.Timestamp.Sub(st.lastAlert) < a.policy.RateWindow {
		return nil
	}
	st.lastAlert = event.Timestamp

	score := 60.0
	rec := heuristics.NewRecord(event, domain.AnomalyActivationSpike, domain.DeviceBodyCamera, 0.7, 0)
	rec.AddFactor("advertising_rate", score,
		fmt.Sprintf("%.0f packets/s vs %.0f packets/s baseline", rate, a.policy.BaselineRateHz))

	// Repeated activations at the same spot look like routine patrol or
	// bench testing, not an encounter.
	if event.HasFix && a.repeatedSite(event) {
		score *= a.policy.RepeatActivationDiscount
		rec.AddFactor("repeat_location_discount", a.policy.RepeatActivationDiscount,
			"repeated activations at the same location")
	}

	rec.RawScore = domain.ClampScore(score)
	return &rec
}

func (a *Analyzer) repeatedSite(event domain.ScanEvent) bool {
	loc := geo.Location{Latitude: event.Latitude, Longitude: event.Longitude}
	for i := range a.activationSites {
		if geo.DistanceM(a.activationSites[i].loc, loc) <= a.policy.SameLocationRadiusM {
			a.activationSites[i].count++
			return a.activationSites[i].count > 1
		}
	}
	a.activationSites = append(a.activationSites, activationSite{loc: loc, count: 1})
	return false
}
