package ports

import (
	"context"

	"github.com/MaxwellDPS/flocksense/internal/core/domain"
)

// EventSource supplies ScanEvents from a sensor-acquisition collaborator.
// Start blocks until the context is cancelled or the source is exhausted.
type EventSource interface {
	Start(ctx context.Context) error
	Events() <-chan domain.ScanEvent
	Close()
}

// Heuristic is one protocol anomaly module. Each instance is the sole
// writer of its rolling state and is driven from a single goroutine, so
// implementations need no internal locking on the hot path.
type Heuristic interface {
	Protocol() domain.Protocol
	// Process consumes one event and returns zero or more findings.
	Process(event domain.ScanEvent) []domain.AnomalyRecord
	// Flush drains in-flight windows on cancellation. Windows below their
	// minimum sample or duration requirements emit nothing.
	Flush() []domain.AnomalyRecord
}

// SignatureMatcher matches events against the static registry. Pure and
// side-effect free; returns nil when nothing matches.
type SignatureMatcher interface {
	Match(event domain.ScanEvent) *domain.SignatureMatch
}

// DetectionStore is the boundary object other modules read. The engine's
// aggregation stage is its only writer.
type DetectionStore interface {
	Get(ctx context.Context, protocol domain.Protocol, identity string) (*domain.Detection, error)
	// Snapshot returns active detections ordered by (level desc, last seen
	// desc), limited to max entries; max <= 0 means no limit.
	Snapshot(ctx context.Context, max int) []domain.Detection
	List(ctx context.Context, filter DetectionFilter) []domain.Detection
}

// DetectionFilter narrows List results.
type DetectionFilter struct {
	Protocol   domain.Protocol
	MinLevel   domain.ThreatLevel
	ActiveOnly bool
}

// Storage persists detections. Failures are isolated per detection and
// never gate the hot path.
type Storage interface {
	SaveDetection(ctx context.Context, d domain.Detection) error
	GetDetection(ctx context.Context, id string) (*domain.Detection, error)
	ListDetections(ctx context.Context, filter DetectionFilter) ([]domain.Detection, error)
	Close() error
}

// Notifier receives threat-level transitions. Called asynchronously after
// a detection is produced.
type Notifier interface {
	NotifyLevelChange(ctx context.Context, d domain.Detection, previous domain.ThreatLevel)
}

// RefinedResult is the outcome of an external re-analysis pass.
type RefinedResult struct {
	DetectionID     string
	RefinedScore    float64
	RefinedLevel    domain.ThreatLevel
	Explanation     string
	Failed          bool
	FailureReason   string
}

// Reanalyzer is the optional external re-analysis collaborator. The engine
// calls it asynchronously and never depends on it synchronously.
type Reanalyzer interface {
	Analyze(ctx context.Context, d domain.Detection, envContext string, allowLazyInit bool) (RefinedResult, error)
}
