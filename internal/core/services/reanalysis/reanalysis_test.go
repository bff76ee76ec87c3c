package reanalysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/core/ports"
)

type fakeStore struct {
	detections []domain.Detection
}

func (f *fakeStore) Get(ctx context.Context, protocol domain.Protocol, identity string) (*domain.Detection, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeStore) Snapshot(ctx context.Context, max int) []domain.Detection {
	if max > 0 && len(f.detections) > max {
		return f.detections[:max]
	}
	return f.detections
}

func (f *fakeStore) List(ctx context.Context, filter ports.DetectionFilter) []domain.Detection {
	return f.detections
}

type call struct {
	detectionID   string
	env           string
	allowLazyInit bool
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]bool
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, d domain.Detection, envContext string, allowLazyInit bool) (ports.RefinedResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{detectionID: d.ID, env: envContext, allowLazyInit: allowLazyInit})
	f.mu.Unlock()
	if f.fail[d.ID] {
		return ports.RefinedResult{}, errors.New("backend unavailable")
	}
	return ports.RefinedResult{
		DetectionID:  d.ID,
		RefinedScore: d.Score.Value + 5,
		RefinedLevel: d.Level,
	}, nil
}

type fixedEnv struct{ env domain.Environment }

func (f fixedEnv) Environment() domain.Environment { return f.env }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func detections(n int) []domain.Detection {
	out := make([]domain.Detection, n)
	for i := range out {
		out[i] = domain.Detection{
			ID:       string(rune('a' + i)),
			Protocol: domain.ProtocolWiFi,
			Level:    domain.LevelHigh,
			Score:    domain.ThreatScore{Value: 70},
			Active:   true,
		}
	}
	return out
}

func TestBatchFansOutAndCollectsResults(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	store := &fakeStore{detections: detections(3)}

	var mu sync.Mutex
	var results []ports.RefinedResult
	s := New(config.DefaultPolicy().Engine, store, analyzer, fixedEnv{env: domain.EnvUrban}, quietLogger())
	s.OnResult = func(r ports.RefinedResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	s.runBatch(context.Background())

	require.Len(t, analyzer.calls, 3)
	assert.Len(t, results, 3)

	lazyInits := 0
	for _, c := range analyzer.calls {
		assert.Equal(t, "urban", c.env)
		if c.allowLazyInit {
			lazyInits++
		}
	}
	assert.Equal(t, 1, lazyInits, "only the first item may pay for cold start")
}

func TestFailuresAreIsolatedPerDetection(t *testing.T) {
	analyzer := &fakeAnalyzer{fail: map[string]bool{"b": true}}
	store := &fakeStore{detections: detections(3)}

	var mu sync.Mutex
	var results []ports.RefinedResult
	s := New(config.DefaultPolicy().Engine, store, analyzer, nil, quietLogger())
	s.OnResult = func(r ports.RefinedResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	s.runBatch(context.Background())

	require.Len(t, analyzer.calls, 3, "a failing item does not stop the batch")
	assert.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, "b", r.DetectionID)
	}
}

func TestEmptySnapshotIsANoOp(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	s := New(config.DefaultPolicy().Engine, &fakeStore{}, analyzer, nil, quietLogger())

	s.runBatch(context.Background())
	assert.Empty(t, analyzer.calls)
}

func TestRunWithoutAnalyzerReturns(t *testing.T) {
	s := New(config.DefaultPolicy().Engine, &fakeStore{}, nil, nil, quietLogger())

	// Must return immediately rather than ticking forever.
	s.Run(context.Background())
}
