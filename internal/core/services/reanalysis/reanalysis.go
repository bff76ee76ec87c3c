// Package reanalysis periodically hands the highest-priority active
// detections to the optional external re-analysis collaborator.
package reanalysis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/core/ports"
	"github.com/MaxwellDPS/flocksense/internal/telemetry"
)

// Scheduler drives batch re-analysis. The engine never depends on it
// synchronously; results arrive through the callback, failures are
// isolated per detection.
type Scheduler struct {
	policy   config.EnginePolicy
	store    ports.DetectionStore
	analyzer ports.Reanalyzer
	corr     interface{ Environment() domain.Environment }
	log      *slog.Logger

	// OnResult receives successful refinements. Optional.
	OnResult func(ports.RefinedResult)
}

// New creates a scheduler. analyzer may be nil, in which case Run returns
// immediately.
func New(policy config.EnginePolicy, store ports.DetectionStore, analyzer ports.Reanalyzer, env interface{ Environment() domain.Environment }, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		policy:   policy,
		store:    store,
		analyzer: analyzer,
		corr:     env,
		log:      log,
	}
}

// Run loops until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.analyzer == nil {
		return
	}
	ticker := time.NewTicker(s.policy.ReanalysisInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runBatch(ctx)
		}
	}
}

// runBatch snapshots by priority and fans the batch out. Lazy
// initialization of the external service is only allowed on the first
// item so a cold backend cannot stall the whole batch.
func (s *Scheduler) runBatch(ctx context.Context) {
	batch := s.store.Snapshot(ctx, s.policy.SnapshotBatchSize)
	if len(batch) == 0 {
		return
	}
	env := string(domain.EnvUnknown)
	if s.corr != nil {
		env = string(s.corr.Environment())
	}

	var wg sync.WaitGroup
	for i, d := range batch {
		wg.Add(1)
		go func(d domain.Detection, allowLazyInit bool) {
			defer wg.Done()
			res, err := s.analyzer.Analyze(ctx, d, env, allowLazyInit)
			if err != nil || res.Failed {
				telemetry.ReanalysisFailures.Inc()
				s.log.Warn("re-analysis failed",
					"detection", d.ID,
					"error", err,
					"reason", res.FailureReason)
				return
			}
			if s.OnResult != nil {
				s.OnResult(res)
			}
		}(d, i == 0)
	}
	wg.Wait()
}
