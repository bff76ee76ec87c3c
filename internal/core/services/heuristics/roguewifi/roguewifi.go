// Package roguewifi implements rogue access point heuristics: evil twins,
// deauthentication floods, karma attacks, following networks and weak or
// deceptive configurations.
package roguewifi

import (
	"fmt"
	"strings"
	"time"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics"
	"github.com/MaxwellDPS/flocksense/internal/geo"
)

type apState struct {
	firstSeen time.Time
	lastSeen  time.Time
	rssi      *heuristics.Welford

	// ssids tracks distinct SSIDs this BSSID has advertised, for karma
	// attacks that respond to every probed network.
	ssids map[string]bool

	sightings []sighting

	weakFlagged     bool
	honeypotFlagged bool
	karmaFlagged    bool
	followFlagged   bool
}

type sighting struct {
	at  time.Time
	loc geo.Location
	fix bool
}

type ssidState struct {
	// bssids maps each BSSID broadcasting this SSID to its RSSI history.
	bssids map[string]*heuristics.Welford
	warned bool
}

// Analyzer owns per-AP and per-SSID state. Single writer.
type Analyzer struct {
	policy config.WiFiPolicy

	aps    map[string]*apState
	ssids  map[string]*ssidState
	deauth *heuristics.SlidingCounter

	// path is the observer's own movement trace, one point per located
	// frame, used to correlate AP sightings against the user's route.
	path []sighting

	lastDeauthAlert time.Time
}

// New creates a rogue AP analyzer.
func New(policy config.WiFiPolicy) *Analyzer {
	return &Analyzer{
		policy: policy,
		aps:    make(map[string]*apState),
		ssids:  make(map[string]*ssidState),
		deauth: heuristics.NewSlidingCounter(policy.DeauthWindow),
	}
}

// Protocol implements ports.Heuristic.
func (a *Analyzer) Protocol() domain.Protocol { return domain.ProtocolWiFi }

// Flush implements ports.Heuristic.
func (a *Analyzer) Flush() []domain.AnomalyRecord { return nil }

// Process consumes one management frame.
func (a *Analyzer) Process(event domain.ScanEvent) []domain.AnomalyRecord {
	obs := event.WiFi
	if obs == nil {
		return nil
	}

	if obs.Frame == domain.WiFiFrameDeauth || obs.Frame == domain.WiFiFrameDisassoc {
		if rec := a.checkDeauthFlood(event, obs); rec != nil {
			return []domain.AnomalyRecord{*rec}
		}
		return nil
	}

	if event.HasFix {
		a.path = append(a.path, sighting{
			at:  event.Timestamp,
			loc: geo.Location{Latitude: event.Latitude, Longitude: event.Longitude},
			fix: true,
		})
		cutoff := event.Timestamp.Add(-a.policy.Retention)
		i := 0
		for i < len(a.path) && a.path[i].at.Before(cutoff) {
			i++
		}
		if i > 0 {
			a.path = a.path[i:]
		}
	}

	ap := a.touchAP(event, obs)

	var records []domain.AnomalyRecord
	if rec := a.checkEvilTwin(event, obs); rec != nil {
		records = append(records, *rec)
	}
	if rec := a.checkKarma(event, obs, ap); rec != nil {
		records = append(records, *rec)
	}
	if rec := a.checkFollowing(event, obs, ap); rec != nil {
		records = append(records, *rec)
	}
	if rec := a.checkWeakEncryption(event, obs, ap); rec != nil {
		records = append(records, *rec)
	}
	if rec := a.checkHoneypot(event, obs, ap); rec != nil {
		records = append(records, *rec)
	}
	if rec := a.checkHiddenStrong(event, obs); rec != nil {
		records = append(records, *rec)
	}
	return records
}

func (a *Analyzer) touchAP(event domain.ScanEvent, obs *domain.WiFiObservation) *apState {
	ap, ok := a.aps[obs.BSSID]
	if !ok {
		ap = &apState{
			firstSeen: event.Timestamp,
			rssi:      &heuristics.Welford{},
			ssids:     make(map[string]bool),
		}
		a.aps[obs.BSSID] = ap
	}
	ap.lastSeen = event.Timestamp
	ap.rssi.Add(float64(event.RSSI))
	if obs.SSID != "" {
		ap.ssids[obs.SSID] = true
	}
	ap.sightings = append(ap.sightings, sighting{
		at:  event.Timestamp,
		loc: geo.Location{Latitude: event.Latitude, Longitude: event.Longitude},
		fix: event.HasFix,
	})
	a.pruneSightings(ap, event.Timestamp)
	return ap
}

func (a *Analyzer) pruneSightings(ap *apState, now time.Time) {
	cutoff := now.Add(-a.policy.Retention)
	i := 0
	for i < len(ap.sightings) && ap.sightings[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		ap.sightings = ap.sightings[i:]
	}
}

// checkEvilTwin flags an SSID served by several BSSIDs whose signal
// strengths diverge more than roaming infrastructure explains.
func (a *Analyzer) checkEvilTwin(event domain.ScanEvent, obs *domain.WiFiObservation) *domain.AnomalyRecord {
	if obs.SSID == "" {
		return nil
	}
	st, ok := a.ssids[obs.SSID]
	if !ok {
		st = &ssidState{bssids: make(map[string]*heuristics.Welford)}
		a.ssids[obs.SSID] = st
	}
	w, ok := st.bssids[obs.BSSID]
	if !ok {
		w = &heuristics.Welford{}
		st.bssids[obs.BSSID] = w
	}
	w.Add(float64(event.RSSI))

	if st.warned || len(st.bssids) < a.policy.EvilTwinMinAPs {
		return nil
	}

	// Spread of the per-BSSID mean RSSI. Legitimate meshes sit in a
	// narrow band; a parked twin is much louder than the real AP.
	min, max := 0.0, -1000.0
	samples := 0
	for _, bw := range st.bssids {
		if bw.Count() < 3 {
			return nil
		}
		m := bw.Mean()
		if samples == 0 || m < min {
			min = m
		}
		if m > max {
			max = m
		}
		samples++
	}
	spread := max - min
	if spread < a.policy.EvilTwinRSSIVarMin {
		return nil
	}
	st.warned = true

	rec := heuristics.NewRecord(event, domain.AnomalyEvilTwin, domain.DeviceRogueAP, 0.75, 65)
	rec.Identity = obs.SSID
	rec.AddFactor("evil_twin", 65,
		fmt.Sprintf("%d BSSIDs for %q with %.0f dB mean RSSI spread", len(st.bssids), obs.SSID, spread))
	return &rec
}

// checkDeauthFlood counts deauth and disassoc frames inside the window.
// Broadcast targets weigh double: kicking everyone off is the attack, a
// single station can be a legitimate eviction.
func (a *Analyzer) checkDeauthFlood(event domain.ScanEvent, obs *domain.WiFiObservation) *domain.AnomalyRecord {
	count := a.deauth.Add(event.Timestamp)
	if strings.HasPrefix(strings.ToLower(obs.TargetMAC), "ff:ff") {
		count = a.deauth.Add(event.Timestamp)
	}
	if count < a.policy.DeauthThreshold {
		return nil
	}
	if !a.lastDeauthAlert.IsZero() && event.Timestamp.Sub(a.lastDeauthAlert) < a.policy.DeauthWindow {
		return nil
	}
	a.lastDeauthAlert = event.Timestamp

	rec := heuristics.NewRecord(event, domain.AnomalyDeauthFlood, domain.DeviceRogueAP, 0.8, 70)
	rec.Identity = obs.BSSID
	rec.AddFactor("deauth_flood", 70,
		fmt.Sprintf("%d deauth/disassoc frames in %s", count, a.policy.DeauthWindow))
	return &rec
}

// checkKarma flags a single BSSID answering for many distinct SSIDs.
func (a *Analyzer) checkKarma(event domain.ScanEvent, obs *domain.WiFiObservation, ap *apState) *domain.AnomalyRecord {
	if ap.karmaFlagged || len(ap.ssids) < a.policy.KarmaSSIDMin {
		return nil
	}
	ap.karmaFlagged = true

	names := make([]string, 0, len(ap.ssids))
	for s := range ap.ssids {
		names = append(names, s)
	}
	rec := heuristics.NewRecord(event, domain.AnomalyKarma, domain.DeviceRogueAP, 0.85, 75)
	rec.AddFactor("karma", 75,
		fmt.Sprintf("%d SSIDs from one BSSID: %s", len(ap.ssids), strings.Join(names, ", ")))
	return &rec
}

// checkFollowing flags an AP observed at several distant locations. Access
// points do not move; one that reappears along a route is in a vehicle.
func (a *Analyzer) checkFollowing(event domain.ScanEvent, obs *domain.WiFiObservation, ap *apState) *domain.AnomalyRecord {
	if ap.followFlagged || !event.HasFix {
		return nil
	}

	distinct := distinctLocations(ap.sightings, a.policy.FollowingMinDistanceM)
	if distinct < a.policy.FollowingMinRevisits {
		return nil
	}

	// An AP measured while the observer moves at vehicle speed between
	// sightings is consistent with a tail, not with fixed infrastructure.
	vehicle := false
	for i := 1; i < len(ap.sightings); i++ {
		prev, cur := ap.sightings[i-1], ap.sightings[i]
		if !prev.fix || !cur.fix {
			continue
		}
		if geo.SpeedMPS(prev.loc, cur.loc, prev.at, cur.at) >= a.policy.VehicleSpeedMPS {
			vehicle = true
			break
		}
	}

	// Fraction of the observer's route shadowed by this AP.
	var apPoints, pathPoints []geo.Location
	for _, s := range ap.sightings {
		if s.fix {
			apPoints = append(apPoints, s.loc)
		}
	}
	for _, s := range a.path {
		pathPoints = append(pathPoints, s.loc)
	}
	followPct := geo.PathCorrelation(pathPoints, apPoints, a.policy.FollowingMinDistanceM) * 100

	ap.followFlagged = true
	score := 60.0
	conf := 0.7
	devType := domain.DeviceRogueAP
	if vehicle {
		score = 75
		conf = 0.8
		devType = domain.DeviceSurveillanceVan
	}
	rec := heuristics.NewRecord(event, domain.AnomalyFollowingAP, devType, conf, score)
	rec.Identity = obs.BSSID
	rec.AddFactor("mobile_ap", score,
		fmt.Sprintf("seen at %d locations >%.0fm apart, shadowing %.0f%% of route (vehicle pace: %t)",
			distinct, a.policy.FollowingMinDistanceM, followPct, vehicle))
	return &rec
}

func distinctLocations(sightings []sighting, minSepM float64) int {
	var points []geo.Location
	for _, s := range sightings {
		if s.fix {
			points = append(points, s.loc)
		}
	}
	return geo.DistinctLocations(points, minSepM)
}

func (a *Analyzer) checkWeakEncryption(event domain.ScanEvent, obs *domain.WiFiObservation, ap *apState) *domain.AnomalyRecord {
	if ap.weakFlagged || obs.Security != "WEP" {
		return nil
	}
	ap.weakFlagged = true
	rec := heuristics.NewRecord(event, domain.AnomalyWeakEncryption, domain.DeviceRogueAP, 0.5, 25)
	rec.Identity = obs.BSSID
	rec.AddFactor("wep", 25, "WEP-protected network")
	return &rec
}

func (a *Analyzer) checkHoneypot(event domain.ScanEvent, obs *domain.WiFiObservation, ap *apState) *domain.AnomalyRecord {
	if ap.honeypotFlagged || obs.Security != "OPEN" || obs.SSID == "" {
		return nil
	}
	ssid := strings.ToLower(obs.SSID)
	for _, pat := range a.policy.HoneypotPatterns {
		if strings.Contains(ssid, strings.ToLower(pat)) {
			ap.honeypotFlagged = true
			rec := heuristics.NewRecord(event, domain.AnomalyHoneypotSSID, domain.DeviceRogueAP, 0.6, 45)
			rec.Identity = obs.BSSID
			rec.AddFactor("honeypot_ssid", 45,
				fmt.Sprintf("open network %q matches bait pattern %q", obs.SSID, pat))
			return &rec
		}
	}
	return nil
}

// checkHiddenStrong flags hidden networks at very close range. Hiding the
// SSID while sitting on top of the observer suggests covert equipment.
func (a *Analyzer) checkHiddenStrong(event domain.ScanEvent, obs *domain.WiFiObservation) *domain.AnomalyRecord {
	if !obs.Hidden || event.RSSI < a.policy.HiddenStrongRSSI {
		return nil
	}
	rec := heuristics.NewRecord(event, domain.AnomalyHiddenStrong, domain.DeviceRogueAP, 0.55, 35)
	rec.Identity = obs.BSSID
	rec.AddFactor("hidden_strong", 35,
		fmt.Sprintf("hidden SSID at %d dBm", event.RSSI))
	return &rec
}
