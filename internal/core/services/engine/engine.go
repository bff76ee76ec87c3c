// Package engine runs the detection pipeline: per-protocol heuristic
// workers fan results into a single aggregation stage that owns the
// detection map, scoring and fan-out to persistence and notification.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/core/ports"
	"github.com/MaxwellDPS/flocksense/internal/core/services/correlator"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics/bletracker"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics/satellite"
	"github.com/MaxwellDPS/flocksense/internal/core/services/scoring"
	"github.com/MaxwellDPS/flocksense/internal/telemetry"
	"github.com/google/uuid"
)

// workItem is one event dispatched to a protocol worker. The sequence
// number lets the aggregation stage apply results in dispatch order, which
// keeps replays of the same event stream deterministic; env is stamped at
// dispatch for the same reason.
type workItem struct {
	seq   uint64
	event domain.ScanEvent
	env   domain.Environment
}

type workResult struct {
	seq     uint64
	event   domain.ScanEvent
	env     domain.Environment
	match   *domain.SignatureMatch
	records []domain.AnomalyRecord
}

// sigEvidence keeps the registry match that backs a detection so score
// recomputation stays a pure function of accumulated evidence.
type sigEvidence struct {
	base       float64
	confidence float64
}

// Engine owns the pipeline. It implements ports.DetectionStore for
// concurrent readers; the aggregation stage is the sole writer.
type Engine struct {
	policy   config.Policy
	matcher  ports.SignatureMatcher
	corr     *correlator.Correlator
	scorer   *scoring.Engine
	storage  ports.Storage
	notifier ports.Notifier
	log      *slog.Logger

	heuristics []ports.Heuristic
	inputs     map[domain.Protocol]chan workItem
	results    chan workResult
	workerWG   sync.WaitGroup

	mu         sync.RWMutex
	detections map[string]*domain.Detection
	signatures map[string]sigEvidence

	highWater time.Time
	lastSweep time.Time

	// env mirrors the correlator's classification for concurrent readers
	// (web layer, re-analysis scheduler).
	env atomic.Value

	asyncWG sync.WaitGroup
}

// Option tweaks engine construction.
type Option func(*Engine)

// WithStorage attaches a persistence collaborator.
func WithStorage(s ports.Storage) Option { return func(e *Engine) { e.storage = s } }

// WithNotifier attaches a notification collaborator.
func WithNotifier(n ports.Notifier) Option { return func(e *Engine) { e.notifier = n } }

// New assembles an engine around a signature matcher and the protocol
// heuristics.
func New(policy config.Policy, matcher ports.SignatureMatcher, heuristics []ports.Heuristic, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		policy:     policy,
		matcher:    matcher,
		corr:       correlator.New(policy.Correlator),
		scorer:     scoring.New(policy.Scoring, log),
		log:        log,
		heuristics: heuristics,
		inputs:     make(map[domain.Protocol]chan workItem),
		results:    make(chan workResult, policy.Engine.ChannelBuffer),
		detections: make(map[string]*domain.Detection),
		signatures: make(map[string]sigEvidence),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run consumes the source until it is exhausted or the context is
// cancelled, then flushes in-flight windows and waits for async fan-out.
func (e *Engine) Run(ctx context.Context, source ports.EventSource) error {
	e.startWorkers()

	srcErr := make(chan error, 1)
	go func() { srcErr <- source.Start(ctx) }()

	var dispatched, applied uint64
	pending := make(map[uint64]workResult)
	events := source.Events()

	collect := func(r workResult) {
		pending[r.seq] = r
		for {
			next, ok := pending[applied]
			if !ok {
				return
			}
			delete(pending, applied)
			e.apply(next)
			applied++
		}
	}

	done := ctx.Done()
	for events != nil || applied < dispatched {
		select {
		case <-done:
			events = nil
			done = nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			item, ok := e.admit(ev, dispatched)
			if !ok {
				continue
			}
			in, hasWorker := e.inputs[ev.Protocol]
			if !hasWorker {
				// No heuristic owns this protocol; signature matching
				// still applies (RF frequency-band patterns).
				dispatched++
				collect(workResult{
					seq:   item.seq,
					event: item.event,
					env:   item.env,
					match: e.matcher.Match(item.event),
				})
				continue
			}
			// Keep draining results while the worker channel is full so a
			// burst on one protocol cannot wedge the pipeline.
			for sent := false; !sent; {
				select {
				case in <- item:
					sent = true
				case r := <-e.results:
					collect(r)
				}
			}
			dispatched++
		case r := <-e.results:
			collect(r)
		}
	}

	for _, ch := range e.inputs {
		close(ch)
	}
	e.workerWG.Wait()
	close(e.results)
	for r := range e.results {
		e.apply(r)
	}
	e.flush()

	e.asyncWG.Wait()
	source.Close()
	if err := <-srcErr; err != nil && ctx.Err() == nil {
		return fmt.Errorf("event source: %w", err)
	}
	return ctx.Err()
}

// startWorkers launches one worker per protocol. A protocol may carry
// several heuristics (BLE runs tracker and spam analysis); they share the
// worker so each stays single-writer over its state.
func (e *Engine) startWorkers() {
	byProto := make(map[domain.Protocol][]ports.Heuristic)
	for _, h := range e.heuristics {
		byProto[h.Protocol()] = append(byProto[h.Protocol()], h)
	}
	for proto, group := range byProto {
		group := group
		in := make(chan workItem, e.policy.Engine.ChannelBuffer)
		e.inputs[proto] = in
		e.workerWG.Add(1)
		go func() {
			defer e.workerWG.Done()
			for item := range in {
				var records []domain.AnomalyRecord
				for _, h := range group {
					if sat, ok := h.(*satellite.Analyzer); ok {
						sat.SetEnvironment(item.env)
					}
					records = append(records, h.Process(item.event)...)
				}
				e.results <- workResult{
					seq:     item.seq,
					event:   item.event,
					env:     item.env,
					match:   e.matcher.Match(item.event),
					records: records,
				}
			}
		}()
	}
}

// admit validates an event, updates the correlator's observation state and
// stamps the work item. Malformed events and events arriving past the
// clock-skew tolerance behind the stream's high-water mark are dropped
// with a diagnostic; the stream never halts.
func (e *Engine) admit(ev domain.ScanEvent, seq uint64) (workItem, bool) {
	if err := ev.Validate(); err != nil {
		telemetry.EventsSkipped.WithLabelValues(string(ev.Protocol), "malformed").Inc()
		e.log.Debug("skipping event", "protocol", ev.Protocol, "error", err)
		return workItem{}, false
	}
	if ev.Timestamp.Before(e.highWater.Add(-e.policy.Correlator.ClockSkewTolerance)) {
		telemetry.EventsSkipped.WithLabelValues(string(ev.Protocol), "stale").Inc()
		e.log.Debug("skipping stale event",
			"protocol", ev.Protocol,
			"event_time", ev.Timestamp,
			"high_water", e.highWater)
		return workItem{}, false
	}
	if ev.Timestamp.After(e.highWater) {
		e.highWater = ev.Timestamp
	}
	telemetry.EventsProcessed.WithLabelValues(string(ev.Protocol)).Inc()

	e.corr.Observe(ev)
	e.env.Store(e.corr.Environment())
	e.sweepInactive()
	return workItem{seq: seq, event: ev, env: e.corr.Environment()}, true
}

// Environment returns the latest ambient classification. Safe for
// concurrent readers.
func (e *Engine) Environment() domain.Environment {
	if v, ok := e.env.Load().(domain.Environment); ok {
		return v
	}
	return domain.EnvUnknown
}

// apply folds one worker result into the detection map. Sole writer.
func (e *Engine) apply(r workResult) {
	identity := aggregateIdentity(r.event)

	if r.match != nil {
		e.applySignature(r, identity)
	}
	for _, rec := range r.records {
		rec.Protocol = r.event.Protocol
		if rec.Identity == "" {
			rec.Identity = identity
		}
		telemetry.AnomaliesEmitted.WithLabelValues(string(rec.Protocol), string(rec.Type)).Inc()
		if e.corr.Debounce(rec) {
			// Duplicate finding inside the cooldown: the sighting still
			// counts, the evidence does not repeat.
			if d := e.lookup(rec.Protocol, rec.Identity); d != nil {
				e.touch(d, r)
			}
			continue
		}
		e.applyAnomaly(r, rec)
	}
}

func (e *Engine) applySignature(r workResult, identity string) {
	m := r.match
	key := detectionKey(r.event.Protocol, identity)
	d := e.lookupOrCreate(key, r.event.Protocol, identity, m.DeviceType, domain.MethodSignature)
	if sig, ok := e.signatures[key]; !ok || m.BaseScore > sig.base {
		e.signatures[key] = sigEvidence{base: m.BaseScore, confidence: m.Confidence}
	}
	e.touch(d, r)
	e.rescore(d, r, false)
}

func (e *Engine) applyAnomaly(r workResult, rec domain.AnomalyRecord) {
	key := detectionKey(rec.Protocol, rec.Identity)
	d := e.lookupOrCreate(key, rec.Protocol, rec.Identity, rec.DeviceType, domain.MethodHeuristic)

	e.mu.Lock()
	// A heuristic naming a more specific device than the signature tier
	// did wins the identification.
	if d.DeviceType == domain.DeviceUnknown && rec.DeviceType != domain.DeviceUnknown {
		d.DeviceType = rec.DeviceType
		d.Category = domain.CategoryFor(rec.DeviceType)
	}
	d.AppendAnomaly(rec)
	e.mu.Unlock()

	e.corr.RecordAnomaly(rec, e.policy.Scoring.CorrelationWindow)
	cross := e.corr.CrossProtocolHit(rec, e.policy.Scoring.CorrelationWindow)
	if cross {
		e.mu.Lock()
		if d.Method != domain.MethodSignature {
			d.Method = domain.MethodCorrelation
		}
		e.mu.Unlock()
	}

	e.touch(d, r)
	e.rescore(d, r, cross)
}

func (e *Engine) touch(d *domain.Detection, r workResult) {
	e.mu.Lock()
	d.RecordSighting(r.event.Timestamp, r.event.Latitude, r.event.Longitude, r.event.HasFix, r.event.RSSI)
	d.PruneSightings(r.event.Timestamp.Add(-e.policy.Correlator.Retention))
	e.mu.Unlock()
}

func (e *Engine) rescore(d *domain.Detection, r workResult, cross bool) {
	sig := e.signatures[detectionKey(d.Protocol, d.Identity)]

	e.mu.Lock()
	previous := d.Level
	score := e.scorer.Compute(scoring.Input{
		Detection:           d,
		Environment:         r.env,
		CrossProtocol:       cross,
		SignatureBase:       sig.base,
		SignatureConfidence: sig.confidence,
	})
	d.ApplyScore(score)
	level := d.Level
	snapshot := *d
	e.mu.Unlock()

	if level != previous {
		telemetry.LevelTransitions.WithLabelValues(string(previous), string(level)).Inc()
		e.log.Info("threat level transition",
			"detection", snapshot.ID,
			"identity", snapshot.Identity,
			"device_type", snapshot.DeviceType,
			"from", previous,
			"to", level,
			"score", score.Value)
		if e.notifier != nil {
			e.asyncWG.Add(1)
			go func() {
				defer e.asyncWG.Done()
				e.notifier.NotifyLevelChange(context.Background(), snapshot, previous)
			}()
		}
	}
	e.persist(snapshot)
	e.refreshGauges()
}

// persist hands the detection to storage off the hot path. Failures are
// logged per detection and never propagate.
func (e *Engine) persist(d domain.Detection) {
	if e.storage == nil {
		return
	}
	e.asyncWG.Add(1)
	go func() {
		defer e.asyncWG.Done()
		if err := e.storage.SaveDetection(context.Background(), d); err != nil {
			e.log.Error("persisting detection", "detection", d.ID, "error", err)
		}
	}()
}

// flush drains in-flight windows after the workers have exited. The
// worker wait establishes exclusive access to each heuristic's state.
func (e *Engine) flush() {
	for _, h := range e.heuristics {
		for _, rec := range h.Flush() {
			rec.Protocol = h.Protocol()
			if rec.Identity == "" {
				continue
			}
			telemetry.AnomaliesEmitted.WithLabelValues(string(rec.Protocol), string(rec.Type)).Inc()
			if e.corr.Debounce(rec) {
				continue
			}
			e.applyAnomaly(workResult{
				event: domain.ScanEvent{
					Protocol:  rec.Protocol,
					Timestamp: rec.EventTime,
					Identity:  rec.Identity,
					Latitude:  rec.Latitude,
					Longitude: rec.Longitude,
					HasFix:    rec.HasFix,
				},
				env: e.corr.Environment(),
			}, rec)
		}
	}
}

// sweepInactive marks detections quiet for the configured interval as
// inactive. Event time drives the sweep; the engine never deletes.
func (e *Engine) sweepInactive() {
	if e.highWater.Sub(e.lastSweep) < time.Minute {
		return
	}
	e.lastSweep = e.highWater
	cutoff := e.highWater.Add(-e.policy.Engine.InactiveAfter)

	e.mu.Lock()
	for _, d := range e.detections {
		if d.Active && d.LastSeen.Before(cutoff) {
			d.Active = false
		}
	}
	e.mu.Unlock()
	e.refreshGauges()
}

func (e *Engine) refreshGauges() {
	counts := map[domain.ThreatLevel]int{}
	e.mu.RLock()
	for _, d := range e.detections {
		if d.Active {
			counts[d.Level]++
		}
	}
	e.mu.RUnlock()
	for _, lvl := range []domain.ThreatLevel{domain.LevelInfo, domain.LevelLow, domain.LevelMedium, domain.LevelHigh, domain.LevelCritical} {
		telemetry.ActiveDetections.WithLabelValues(string(lvl)).Set(float64(counts[lvl]))
	}
}

func (e *Engine) lookup(protocol domain.Protocol, identity string) *domain.Detection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.detections[detectionKey(protocol, identity)]
}

func (e *Engine) lookupOrCreate(key string, protocol domain.Protocol, identity string, devType domain.DeviceType, method domain.DetectionMethod) *domain.Detection {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.detections[key]; ok {
		return d
	}
	d := &domain.Detection{
		ID:         uuid.NewString(),
		Protocol:   protocol,
		Identity:   identity,
		DeviceType: devType,
		Category:   domain.CategoryFor(devType),
		Method:     method,
		Active:     true,
	}
	e.detections[key] = d
	return d
}

// aggregateIdentity normalizes the aggregation key. BLE identities become
// rotation-tolerant fingerprints so a tracker rotating its MAC stays one
// detection.
func aggregateIdentity(ev domain.ScanEvent) string {
	if ev.Protocol == domain.ProtocolBLE {
		if fp := bletracker.Fingerprint(ev.BLE); fp != "" {
			return fp
		}
	}
	return ev.Identity
}

func detectionKey(protocol domain.Protocol, identity string) string {
	return string(protocol) + "|" + identity
}

// Get implements ports.DetectionStore.
func (e *Engine) Get(ctx context.Context, protocol domain.Protocol, identity string) (*domain.Detection, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.detections[detectionKey(protocol, identity)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// Snapshot implements ports.DetectionStore: active detections ordered by
// level then recency, limited to max entries.
func (e *Engine) Snapshot(ctx context.Context, max int) []domain.Detection {
	e.mu.RLock()
	out := make([]domain.Detection, 0, len(e.detections))
	for _, d := range e.detections {
		if d.Active {
			out = append(out, *d)
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Level.Rank() != out[j].Level.Rank() {
			return out[i].Level.Rank() > out[j].Level.Rank()
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// List implements ports.DetectionStore.
func (e *Engine) List(ctx context.Context, filter ports.DetectionFilter) []domain.Detection {
	e.mu.RLock()
	out := make([]domain.Detection, 0, len(e.detections))
	for _, d := range e.detections {
		if filter.Protocol != "" && d.Protocol != filter.Protocol {
			continue
		}
		if d.Level.Rank() < filter.MinLevel.Rank() {
			continue
		}
		if filter.ActiveOnly && !d.Active {
			continue
		}
		out = append(out, *d)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Level.Rank() != out[j].Level.Rank() {
			return out[i].Level.Rank() > out[j].Level.Rank()
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}
