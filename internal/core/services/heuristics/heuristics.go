// Package heuristics holds helpers shared by the protocol anomaly modules.
// Each protocol module owns its rolling state exclusively and is driven
// from a single goroutine; nothing here is safe for concurrent use.
package heuristics

import (
	"time"

	"github.com/google/uuid"

	"github.com/MaxwellDPS/flocksense/internal/core/domain"
)

// NewRecord builds an anomaly record for the triggering event. The record
// timestamp is the event's own timestamp so replays stay deterministic;
// EventTime ≤ Timestamp holds by construction.
func NewRecord(event domain.ScanEvent, typ domain.AnomalyType, devType domain.DeviceType, confidence, rawScore float64) domain.AnomalyRecord {
	return domain.AnomalyRecord{
		ID:         uuid.NewString(),
		Protocol:   event.Protocol,
		Type:       typ,
		Identity:   event.Identity,
		DeviceType: devType,
		Confidence: domain.Clamp01(confidence),
		RawScore:   domain.ClampScore(rawScore),
		EventTime:  event.Timestamp,
		Timestamp:  event.Timestamp,
		Latitude:   event.Latitude,
		Longitude:  event.Longitude,
		HasFix:     event.HasFix,
	}
}

// SlidingCounter counts timestamps inside a fixed event-time window.
type SlidingCounter struct {
	window time.Duration
	times  []time.Time
}

// NewSlidingCounter creates a counter over the given window.
func NewSlidingCounter(window time.Duration) *SlidingCounter {
	return &SlidingCounter{window: window}
}

// Add records an occurrence and returns the count inside the window ending
// at ts. Out-of-order timestamps within the window are accepted.
func (c *SlidingCounter) Add(ts time.Time) int {
	c.times = append(c.times, ts)
	c.prune(ts)
	return len(c.times)
}

// Count returns the current occurrence count relative to ts.
func (c *SlidingCounter) Count(ts time.Time) int {
	c.prune(ts)
	return len(c.times)
}

// Reset clears the window, used after an alert fires to avoid duplicates.
func (c *SlidingCounter) Reset() {
	c.times = c.times[:0]
}

func (c *SlidingCounter) prune(now time.Time) {
	cutoff := now.Add(-c.window)
	kept := c.times[:0]
	for _, t := range c.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.times = kept
}

// Welford keeps a running mean/variance without storing samples.
type Welford struct {
	n    int
	mean float64
	m2   float64
}

// Add incorporates one sample.
func (w *Welford) Add(x float64) {
	w.n++
	delta := x - w.mean
	w.mean += delta / float64(w.n)
	w.m2 += delta * (x - w.mean)
}

// Count returns the number of samples seen.
func (w *Welford) Count() int { return w.n }

// Mean returns the running mean.
func (w *Welford) Mean() float64 { return w.mean }

// Variance returns the population variance; 0 with fewer than 2 samples,
// matching the "insufficient history means no anomaly" rule.
func (w *Welford) Variance() float64 {
	if w.n < 2 {
		return 0
	}
	return w.m2 / float64(w.n)
}
