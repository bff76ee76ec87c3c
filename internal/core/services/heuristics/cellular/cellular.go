// Package cellular implements IMSI-catcher detection over serving-cell
// change events.
package cellular

import (
	"fmt"
	"strconv"
	"time"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics"
	"github.com/MaxwellDPS/flocksense/internal/geo"
)

type cellHistory struct {
	seenCount int
	firstSeen time.Time
	lastSeen  time.Time
}

// Analyzer owns the cellular rolling state. Single writer; driven from
// the cellular protocol goroutine only.
type Analyzer struct {
	policy config.CellularPolicy

	cells      map[string]*cellHistory
	suspicious map[string]bool

	lastCellKey string
	lastGen     int
	lastSignal  int
	lastSeenAt  time.Time

	lastLoc    geo.Location
	lastLocAt  time.Time
	hasLastLoc bool

	handoffs *heuristics.SlidingCounter
}

// New creates a cellular analyzer with the given policy.
func New(policy config.CellularPolicy) *Analyzer {
	suspicious := make(map[string]bool, len(policy.SuspiciousPLMNs))
	for _, plmn := range policy.SuspiciousPLMNs {
		suspicious[plmn] = true
	}
	return &Analyzer{
		policy:     policy,
		cells:      make(map[string]*cellHistory),
		suspicious: suspicious,
		handoffs:   heuristics.NewSlidingCounter(policy.RapidSwitchWindow),
	}
}

// Protocol implements ports.Heuristic.
func (a *Analyzer) Protocol() domain.Protocol { return domain.ProtocolCellular }

// Flush implements ports.Heuristic. Cellular findings are emitted per cell
// change, so there is no partial window to drain.
func (a *Analyzer) Flush() []domain.AnomalyRecord { return nil }

// Process consumes one serving-cell observation.
func (a *Analyzer) Process(event domain.ScanEvent) []domain.AnomalyRecord {
	obs := event.Cellular
	if obs == nil {
		return nil
	}

	movement := a.classifyMovement(event)
	cellKey := obs.CellKey()
	changed := cellKey != a.lastCellKey && a.lastCellKey != ""

	var records []domain.AnomalyRecord

	// Suspicious operator codes score highest, independently of any other
	// factor and without waiting for a cell change.
	if a.suspicious[obs.PLMN()] {
		rec := heuristics.NewRecord(event, domain.AnomalySuspiciousPLMN,
			domain.DeviceIMSICatcher, 0.95, a.policy.SuspiciousPLMNScore)
		rec.AddFactor("suspicious_plmn", a.policy.SuspiciousPLMNScore,
			fmt.Sprintf("operator %s is a known test/reserved code", obs.PLMN()))
		records = append(records, rec)
	}

	if changed {
		if rec := a.analyzeCellChange(event, obs, movement); rec != nil {
			records = append(records, *rec)
		}
		if rec := a.analyzeRapidSwitching(event, movement); rec != nil {
			records = append(records, *rec)
		}
	}

	a.remember(event, obs, cellKey)
	return records
}

// analyzeCellChange scores a handoff. The encryption downgrade check
// contributes the dominant base score; modifiers layer cumulatively and
// the total clamps once at the end.
func (a *Analyzer) analyzeCellChange(event domain.ScanEvent, obs *domain.CellularObservation, movement geo.MovementClass) *domain.AnomalyRecord {
	downgrade := a.lastGen >= 3 && obs.Generation == 2

	score := 0.0
	rec := heuristics.NewRecord(event, domain.AnomalyEncryptionDowngrade,
		domain.DeviceIMSICatcher, 0.6, 0)

	if downgrade {
		score += a.policy.DowngradeBaseScore
		rec.AddFactor("encryption_downgrade", a.policy.DowngradeBaseScore,
			fmt.Sprintf("%dG to %dG", a.lastGen, obs.Generation))

		if a.lastSignal != 0 && obs.SignalDBM-a.lastSignal >= a.policy.SignalSpikeDBM {
			score += a.policy.SignalSpikeBonus
			rec.AddFactor("signal_spike", a.policy.SignalSpikeBonus,
				fmt.Sprintf("%+d dB over previous cell", obs.SignalDBM-a.lastSignal))
		}
		if movement == geo.MoveStationary {
			score += a.policy.StationaryBonus
			rec.AddFactor("stationary_change", a.policy.StationaryBonus,
				"serving cell changed while device stationary")
		}
		if movement == geo.MoveImpossible {
			score += a.policy.ImpossibleSpeedBonus
			rec.AddFactor("impossible_movement", a.policy.ImpossibleSpeedBonus,
				"implied movement speed physically impossible")
		}
	}

	if obs.LAC > 0 && obs.LAC <= a.policy.LACLowMax {
		score += a.policy.LACLowBonus
		rec.AddFactor("lac_low_range", a.policy.LACLowBonus,
			fmt.Sprintf("LAC/TAC %d in documented low-range band", obs.LAC))
	}

	if pattern := cellIDPattern(obs.CellID); pattern != "" {
		score += a.policy.CellIDPatternBonus
		rec.AddFactor("cell_id_pattern", a.policy.CellIDPatternBonus, pattern)
	}

	if score == 0 {
		return nil
	}

	// Cell trust: well-established cells suppress, first-seen cells amplify.
	hist := a.cells[obs.CellKey()]
	switch {
	case hist == nil || hist.seenCount == 0:
		score *= a.policy.FirstSeenAmplifier
		rec.AddFactor("first_seen_cell", a.policy.FirstSeenAmplifier, "cell never observed before")
	case hist.seenCount >= a.policy.TrustedSeenCount:
		score *= a.policy.TrustSuppression
		rec.AddFactor("trusted_cell", a.policy.TrustSuppression,
			fmt.Sprintf("cell observed %d times", hist.seenCount))
	}

	rec.RawScore = domain.ClampScore(score)
	if downgrade {
		rec.Confidence = 0.8
	}
	return &rec
}

// analyzeRapidSwitching compares per-window handoff counts against the
// movement-dependent threshold.
func (a *Analyzer) analyzeRapidSwitching(event domain.ScanEvent, movement geo.MovementClass) *domain.AnomalyRecord {
	count := a.handoffs.Add(event.Timestamp)

	max := a.policy.HandoffMaxVehicle
	switch movement {
	case geo.MoveStationary:
		max = a.policy.HandoffMaxStationary
	case geo.MoveWalking:
		max = a.policy.HandoffMaxWalking
	}

	if count <= max {
		return nil
	}

	rec := heuristics.NewRecord(event, domain.AnomalyRapidHandoff,
		domain.DeviceIMSICatcher, 0.6, a.policy.RapidSwitchBonus+float64(count-max)*2)
	rec.AddFactor("rapid_handoff", rec.RawScore,
		fmt.Sprintf("%d handoffs in %s while %s (max %d)", count, a.policy.RapidSwitchWindow, movement, max))
	a.handoffs.Reset()
	return &rec
}

func (a *Analyzer) classifyMovement(event domain.ScanEvent) geo.MovementClass {
	if !event.HasFix {
		return geo.MoveStationary
	}
	loc := geo.Location{Latitude: event.Latitude, Longitude: event.Longitude}
	defer func() {
		a.lastLoc = loc
		a.lastLocAt = event.Timestamp
		a.hasLastLoc = true
	}()
	if !a.hasLastLoc {
		return geo.MoveStationary
	}
	return geo.ClassifyMovement(geo.SpeedMPS(a.lastLoc, loc, a.lastLocAt, event.Timestamp))
}

func (a *Analyzer) remember(event domain.ScanEvent, obs *domain.CellularObservation, cellKey string) {
	hist, ok := a.cells[cellKey]
	if !ok {
		hist = &cellHistory{firstSeen: event.Timestamp}
		a.cells[cellKey] = hist
	}
	hist.seenCount++
	hist.lastSeen = event.Timestamp

	a.lastCellKey = cellKey
	a.lastGen = obs.Generation
	a.lastSignal = obs.SignalDBM
	a.lastSeenAt = event.Timestamp

	a.pruneHistory(event.Timestamp)
}

func (a *Analyzer) pruneHistory(now time.Time) {
	cutoff := now.Add(-a.policy.HistoryRetention)
	for key, hist := range a.cells {
		if hist.lastSeen.Before(cutoff) {
			delete(a.cells, key)
		}
	}
}

// cellIDPattern flags sequential, repeated, or conspicuously round cell
// IDs, which synthetic base stations tend to use.
func cellIDPattern(cellID int64) string {
	if cellID <= 0 {
		return ""
	}
	s := strconv.FormatInt(cellID, 10)
	if len(s) < 3 {
		return ""
	}

	if cellID%1000 == 0 {
		return fmt.Sprintf("round cell ID %d", cellID)
	}

	sequential, repeated := true, true
	for i := 1; i < len(s); i++ {
		if s[i] != s[i-1]+1 {
			sequential = false
		}
		if s[i] != s[0] {
			repeated = false
		}
	}
	if sequential {
		return fmt.Sprintf("sequential cell ID %d", cellID)
	}
	if repeated {
		return fmt.Sprintf("repeated-digit cell ID %d", cellID)
	}
	return ""
}
