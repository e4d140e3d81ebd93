// Package pipeline is the ingestion entry point: events are validated,
// queued, embedded, matched against the project's recent window for
// relationship inference, persisted through the timeline service, and then
// announced to downstream sinks. Back-pressure is a bounded queue with a
// configurable overflow policy; transient store failures are retried with
// exponential backoff before the event lands in the failed-event log.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devlens/devlens/internal/config"
	"github.com/devlens/devlens/internal/graph"
	"github.com/devlens/devlens/internal/inference"
	"github.com/devlens/devlens/internal/models"
	"github.com/devlens/devlens/internal/oracle"
	"github.com/devlens/devlens/internal/scoring"
	"github.com/devlens/devlens/internal/timeline"
)

// backoffSchedule is the retry spacing for transient store errors.
var backoffSchedule = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}

// DomainEvent announces a processed event to downstream consumers (realtime
// hub, notification service).
type DomainEvent struct {
	Type      string                   `json:"type"` // "data_processed"
	ProjectID string                   `json:"project_id"`
	Event     *models.IntegrationEvent `json:"event"`
	Entry     *models.TimelineEntry    `json:"entry,omitempty"`
	Relations []models.EventRelation   `json:"relations,omitempty"`
}

// Sink consumes domain events. Sink failures are logged, never propagated.
type Sink interface {
	Publish(ctx context.Context, de DomainEvent)
}

// Pipeline ingests events with bounded concurrency.
type Pipeline struct {
	cfg      config.PipelineConfig
	timeline *timeline.Service
	graph    graph.Store
	embedder oracle.Embedder
	inferrer *inference.Inferencer
	failures FailureLog
	windows  *Windows
	project  *scoring.ProjectContext
	sinks    []Sink

	defaultProject string

	queue    chan *models.IntegrationEvent
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	// in-flight registry: (project_id, event.id) currently queued or being
	// processed; a duplicate Submit for the key is absorbed.
	mu       sync.Mutex
	inflight map[string]bool

	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithSinks attaches downstream consumers.
func WithSinks(sinks ...Sink) Option {
	return func(p *Pipeline) { p.sinks = append(p.sinks, sinks...) }
}

// WithProjectContext supplies author roles for importance scoring.
func WithProjectContext(pc *scoring.ProjectContext) Option {
	return func(p *Pipeline) { p.project = pc }
}

// WithClock pins the pipeline clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New assembles a pipeline. Call Start before submitting.
func New(cfg config.PipelineConfig, infCfg config.InferenceConfig, defaultProject string,
	ts *timeline.Service, gs graph.Store, embedder oracle.Embedder,
	inferrer *inference.Inferencer, failures FailureLog, opts ...Option) *Pipeline {

	if embedder == nil {
		embedder = oracle.Disabled{}
	}
	if failures == nil {
		failures = NewMemoryFailureLog()
	}
	p := &Pipeline{
		cfg:            cfg,
		timeline:       ts,
		graph:          gs,
		embedder:       embedder,
		inferrer:       inferrer,
		failures:       failures,
		windows:        NewWindows(infCfg.ContextWindowSize, time.Duration(infCfg.MaxTimeWindowDays)*24*time.Hour),
		defaultProject: defaultProject,
		queue:          make(chan *models.IntegrationEvent, cfg.QueueCapacity),
		stopCh:         make(chan struct{}),
		inflight:       make(map[string]bool),
		logger:         slog.Default().With("component", "pipeline"),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start spawns the worker goroutines. Extra calls are ignored.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		p.logger.Warn("pipeline already started, ignoring duplicate Start call")
		return
	}
	p.started = true
	p.mu.Unlock()
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("pipeline started",
		"workers", p.cfg.WorkerCount,
		"queue_capacity", p.cfg.QueueCapacity,
		"overflow_policy", p.cfg.OverflowPolicy)
}

// Stop rejects further submissions, waits for the workers, and processes
// every event still queued. An accepted event is never discarded by shutdown.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.drain(context.Background())
	p.logger.Info("pipeline stopped")
}

// Submit validates and enqueues one event. Submissions are idempotent per
// (project_id, event.id): a key already queued or in processing is absorbed.
// Under the reject overflow policy a full queue returns ErrQueueFull; under
// block the call waits for space or context cancellation.
func (p *Pipeline) Submit(ctx context.Context, event *models.IntegrationEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.ProjectID == "" {
		event.ProjectID = p.defaultProject
	}
	if event.ProjectID == "" {
		return models.ErrMissingProject
	}

	key := event.ProjectID + "/" + event.ID
	p.mu.Lock()
	if p.inflight[key] {
		p.mu.Unlock()
		return nil
	}
	p.inflight[key] = true
	p.mu.Unlock()

	release := func() {
		p.mu.Lock()
		delete(p.inflight, key)
		p.mu.Unlock()
	}

	if p.cfg.OverflowPolicy == "block" {
		select {
		case p.queue <- event:
			return nil
		case <-p.stopCh:
			release()
			return ErrStopped
		case <-ctx.Done():
			release()
			return ctx.Err()
		}
	}

	select {
	case p.queue <- event:
		return nil
	case <-p.stopCh:
		release()
		return ErrStopped
	default:
		release()
		return fmt.Errorf("event %s: %w", event.ID, ErrQueueFull)
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			p.drain(ctx)
			return
		case <-ctx.Done():
			return
		case event := <-p.queue:
			p.handle(ctx, event)
		}
	}
}

// drain empties the queue. Submit stops accepting once stopCh is closed, so
// the queue only shrinks here.
func (p *Pipeline) drain(ctx context.Context) {
	for {
		select {
		case event := <-p.queue:
			p.handle(ctx, event)
		default:
			return
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, event *models.IntegrationEvent) {
	p.process(ctx, event)
	p.mu.Lock()
	delete(p.inflight, event.ProjectID+"/"+event.ID)
	p.mu.Unlock()
}

// process runs the per-event flow. Oracle outages degrade, store failures
// retry, and a final failure is preserved in the failure log.
func (p *Pipeline) process(ctx context.Context, event *models.IntegrationEvent) {
	p.embed(ctx, event)

	window := p.windows.Recent(event.ProjectID, p.now())
	relations := p.inferrer.Infer(ctx, event, window)

	var entry *models.TimelineEntry
	if len(relations) > 0 || p.cfg.StoreAllEvents {
		entries, err := p.persist(ctx, event)
		if err != nil {
			p.logger.Error("event persist failed after retries",
				"project_id", event.ProjectID, "event_id", event.ID, "error", err)
			f := FailedEvent{
				ProjectID: event.ProjectID,
				EventID:   event.ID,
				Event:     *event,
				Reason:    err.Error(),
				FailedAt:  p.now(),
			}
			if logErr := p.failures.Record(ctx, f); logErr != nil {
				p.logger.Error("failed-event record lost", "event_id", event.ID, "error", logErr)
			}
			return
		}
		if len(entries) > 0 {
			entry = entries[0]
		}
		p.storeRelations(ctx, relations)
	}

	p.windows.Add(event)

	de := DomainEvent{
		Type:      "data_processed",
		ProjectID: event.ProjectID,
		Event:     event,
		Entry:     entry,
		Relations: relations,
	}
	for _, sink := range p.sinks {
		sink.Publish(ctx, de)
	}
}

// embed fills in a missing embedding. A disabled oracle is normal; any other
// failure tags the event for later re-inference.
func (p *Pipeline) embed(ctx context.Context, event *models.IntegrationEvent) {
	if len(event.Embedding) > 0 {
		return
	}
	vec, err := p.embedder.Embed(ctx, event.Text())
	if err != nil {
		if !oracle.IsDisabled(err) {
			p.logger.Warn("embedding failed, tagging for re-inference",
				"event_id", event.ID, "error", err)
			event.Metadata = event.Metadata.Clone()
			event.Metadata["oracle_degraded"] = true
		}
		return
	}
	event.Embedding = vec
}

// persist writes through the timeline service with the transient-error retry
// schedule. Validation and policy errors fail immediately.
func (p *Pipeline) persist(ctx context.Context, event *models.IntegrationEvent) ([]*models.TimelineEntry, error) {
	var entries []*models.TimelineEntry
	err := p.retry(ctx, func() error {
		var storeErr error
		entries, storeErr = p.timeline.Store(ctx, []*models.IntegrationEvent{event}, p.project)
		return storeErr
	})
	return entries, err
}

// storeRelations writes inferred relations to the graph. Failures here are
// logged, not fatal: the relation can be re-derived on a later event.
func (p *Pipeline) storeRelations(ctx context.Context, relations []models.EventRelation) {
	for _, rel := range relations {
		edge := graph.Relationship{
			SourceID:   rel.SourceEventID,
			TargetID:   rel.TargetEventID,
			ProjectID:  rel.ProjectID,
			Type:       rel.Type,
			Confidence: rel.Confidence,
			Metadata:   rel.Metadata,
		}
		err := p.retry(ctx, func() error {
			return p.graph.AddRelationship(ctx, edge)
		})
		if err != nil {
			p.logger.Warn("relation write failed",
				"src", rel.SourceEventID, "dst", rel.TargetEventID,
				"type", rel.Type, "error", err)
		}
	}
}

// retry runs fn, retrying transient failures per the backoff schedule.
func (p *Pipeline) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if Classify(err) != ClassTransient || attempt >= len(backoffSchedule) {
			return err
		}
		select {
		case <-time.After(backoffSchedule[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// QueueDepth reports how many events are waiting. Used by health reporting.
func (p *Pipeline) QueueDepth() int {
	return len(p.queue)
}
