package domain

import "time"

// AnomalyRecord is an immutable finding emitted by exactly one heuristic
// module. EventTime references the triggering ScanEvent and is never after
// the record's own timestamp.
type AnomalyRecord struct {
	ID         string      `json:"id"`
	Protocol   Protocol    `json:"protocol"`
	Type       AnomalyType `json:"type"`
	Identity   string      `json:"identity"`
	DeviceType DeviceType  `json:"device_type"`

	// Confidence is the heuristic's own belief in the finding (0.0-1.0).
	Confidence float64 `json:"confidence"`

	// RawScore is the heuristic's pre-impact score contribution (0-100).
	RawScore float64 `json:"raw_score"`

	// Factors lists the contributing factors, for auditability.
	Factors []Factor `json:"factors"`

	EventTime time.Time `json:"event_time"`
	Timestamp time.Time `json:"timestamp"`

	Latitude  float64 `json:"lat,omitempty"`
	Longitude float64 `json:"lng,omitempty"`
	HasFix    bool    `json:"has_fix,omitempty"`
}

// Factor is one named contribution to an anomaly score.
type Factor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail,omitempty"`
}

// AddFactor appends a contribution and returns the record for chaining
// during construction. Records are never mutated after emission.
func (a *AnomalyRecord) AddFactor(name string, weight float64, detail string) {
	a.Factors = append(a.Factors, Factor{Name: name, Weight: weight, Detail: detail})
}
