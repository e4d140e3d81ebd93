package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/devlens/devlens/internal/config"
	"github.com/devlens/devlens/internal/graph"
	"github.com/devlens/devlens/internal/inference"
	"github.com/devlens/devlens/internal/models"
	"github.com/devlens/devlens/internal/scoring"
	"github.com/devlens/devlens/internal/timeline"
	"github.com/devlens/devlens/internal/vector"
)

type recordingSink struct {
	mu     sync.Mutex
	events []DomainEvent
}

func (s *recordingSink) Publish(ctx context.Context, de DomainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, de)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type pipelineFixture struct {
	pipeline *Pipeline
	repo     *timeline.MemoryRepo
	graph    *graph.Memory
	failures *MemoryFailureLog
	sink     *recordingSink
}

func newPipelineFixture(t *testing.T, cfg config.PipelineConfig) *pipelineFixture {
	t.Helper()
	repo := timeline.NewMemoryRepo()
	gs := graph.NewMemory()
	scorer := scoring.New(0.3)
	ts := timeline.NewService(repo, vector.NewMemory(), gs, scorer, config.TimelineConfig{
		DedupWindow:       24 * time.Hour,
		CleanupThreshold:  90 * 24 * time.Hour,
		RelatedSimilarity: 0.75,
	})
	infCfg := config.InferenceConfig{
		MinSimilarity:     0.75,
		MinConfidence:     0.7,
		ContextWindowSize: 10,
		MaxTimeWindowDays: 30,
	}
	failures := NewMemoryFailureLog()
	sink := &recordingSink{}
	p := New(cfg, infCfg, "default", ts, gs, nil, inference.New(infCfg, nil), failures, WithSinks(sink))
	return &pipelineFixture{pipeline: p, repo: repo, graph: gs, failures: failures, sink: sink}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSubmit_Validation(t *testing.T) {
	f := newPipelineFixture(t, config.PipelineConfig{
		QueueCapacity: 4, WorkerCount: 1, OverflowPolicy: "reject", StoreAllEvents: true,
	})

	bad := &models.IntegrationEvent{ID: "x", EventType: "nonsense", Timestamp: time.Now()}
	err := f.pipeline.Submit(context.Background(), bad)
	if !errors.Is(err, models.ErrUnknownEventType) {
		t.Errorf("err = %v, want ErrUnknownEventType", err)
	}

	missing := &models.IntegrationEvent{ID: "y", EventType: models.EventTypeIssue}
	if err := f.pipeline.Submit(context.Background(), missing); !errors.Is(err, models.ErrMissingTimestamp) {
		t.Errorf("err = %v, want ErrMissingTimestamp", err)
	}
}

func TestSubmit_DefaultProject(t *testing.T) {
	f := newPipelineFixture(t, config.PipelineConfig{
		QueueCapacity: 4, WorkerCount: 1, OverflowPolicy: "reject", StoreAllEvents: true,
	})
	event := &models.IntegrationEvent{
		ID: "ev-1", EventType: models.EventTypeIssue, Title: "t", Timestamp: time.Now(),
	}
	if err := f.pipeline.Submit(context.Background(), event); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if event.ProjectID != "default" {
		t.Errorf("project = %q, want default", event.ProjectID)
	}
}

func TestSubmit_IdempotentWhileInFlight(t *testing.T) {
	f := newPipelineFixture(t, config.PipelineConfig{
		QueueCapacity: 4, WorkerCount: 1, OverflowPolicy: "reject", StoreAllEvents: true,
	})
	event := &models.IntegrationEvent{
		ID: "ev-1", ProjectID: "p1", EventType: models.EventTypeIssue, Title: "t", Timestamp: time.Now(),
	}
	if err := f.pipeline.Submit(context.Background(), event); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := f.pipeline.Submit(context.Background(), event); err != nil {
		t.Fatalf("duplicate Submit: %v", err)
	}
	if depth := f.pipeline.QueueDepth(); depth != 1 {
		t.Errorf("queue depth = %d, want 1 (duplicate absorbed)", depth)
	}
}

func TestSubmit_RejectOnOverflow(t *testing.T) {
	f := newPipelineFixture(t, config.PipelineConfig{
		QueueCapacity: 1, WorkerCount: 1, OverflowPolicy: "reject", StoreAllEvents: true,
	})
	first := &models.IntegrationEvent{ID: "ev-1", ProjectID: "p1", EventType: models.EventTypeIssue, Title: "a", Timestamp: time.Now()}
	second := &models.IntegrationEvent{ID: "ev-2", ProjectID: "p1", EventType: models.EventTypeIssue, Title: "b", Timestamp: time.Now()}

	if err := f.pipeline.Submit(context.Background(), first); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	err := f.pipeline.Submit(context.Background(), second)
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}

	// a rejected event is not left stuck in the in-flight registry
	if err := f.pipeline.Submit(context.Background(), second); !errors.Is(err, ErrQueueFull) {
		t.Errorf("resubmit err = %v, want ErrQueueFull again", err)
	}
}

func TestPipeline_CommitResolvesIssue(t *testing.T) {
	f := newPipelineFixture(t, config.PipelineConfig{
		QueueCapacity: 16, WorkerCount: 2, OverflowPolicy: "reject", StoreAllEvents: true,
	})
	ctx := context.Background()
	f.pipeline.Start(ctx)
	defer f.pipeline.Stop()

	issue := &models.IntegrationEvent{
		ID:        "BUG-17",
		ProjectID: "p1",
		Source:    "jira",
		EventType: models.EventTypeIssue,
		Title:     "memory leak in session cache",
		Author:    "alice",
		Timestamp: time.Now().Add(-time.Hour),
		Metadata:  models.Metadata{models.MetaIssueNumber: 17},
	}
	if err := f.pipeline.Submit(ctx, issue); err != nil {
		t.Fatalf("submit issue: %v", err)
	}
	// the domain event publishes after the window update, so the commit is
	// guaranteed to see the issue in its context window
	waitFor(t, "issue processed", func() bool { return f.sink.count() == 1 })

	commit := &models.IntegrationEvent{
		ID:        "c0ffee123",
		ProjectID: "p1",
		Source:    "github",
		EventType: models.EventTypeCommit,
		Title:     "fix #17 memory leak",
		Author:    "bob",
		Timestamp: time.Now(),
	}
	if err := f.pipeline.Submit(ctx, commit); err != nil {
		t.Fatalf("submit commit: %v", err)
	}
	waitFor(t, "resolved relation", func() bool {
		rels, err := f.graph.GetRelationships(ctx, "p1", "BUG-17", models.RelationResolved)
		return err == nil && len(rels) > 0
	})

	rels, _ := f.graph.GetRelationships(ctx, "p1", "BUG-17", models.RelationResolved)
	if rels[0].SourceID != "c0ffee123" {
		t.Errorf("resolved source = %q, want the commit", rels[0].SourceID)
	}
	if rels[0].Confidence < 0.8 {
		t.Errorf("resolved confidence = %v, want >= 0.8", rels[0].Confidence)
	}

	waitFor(t, "domain events", func() bool { return f.sink.count() == 2 })
}

func TestPipeline_SkipsStoreWithoutRelations(t *testing.T) {
	f := newPipelineFixture(t, config.PipelineConfig{
		QueueCapacity: 16, WorkerCount: 1, OverflowPolicy: "reject", StoreAllEvents: false,
	})
	ctx := context.Background()
	f.pipeline.Start(ctx)
	defer f.pipeline.Stop()

	event := &models.IntegrationEvent{
		ID: "ev-1", ProjectID: "p1", EventType: models.EventTypeMessage,
		Title: "standalone note", Author: "alice", Timestamp: time.Now(),
	}
	if err := f.pipeline.Submit(ctx, event); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "domain event", func() bool { return f.sink.count() == 1 })

	if _, err := f.repo.Get(ctx, "p1", "ev-1"); err == nil {
		t.Error("relation-less event should not be persisted when store_all_events is off")
	}
}

func TestWindows_EvictsOldest(t *testing.T) {
	w := NewWindows(2, 30*24*time.Hour)
	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		w.Add(&models.IntegrationEvent{ID: id, ProjectID: "p1", Timestamp: now})
	}
	recent := w.Recent("p1", now)
	if len(recent) != 2 || recent[0].ID != "b" || recent[1].ID != "c" {
		var ids []string
		for _, e := range recent {
			ids = append(ids, e.ID)
		}
		t.Errorf("window = %v, want [b c]", ids)
	}
}

func TestWindows_FiltersStale(t *testing.T) {
	w := NewWindows(10, 30*24*time.Hour)
	now := time.Now()
	w.Add(&models.IntegrationEvent{ID: "old", ProjectID: "p1", Timestamp: now.Add(-40 * 24 * time.Hour)})
	w.Add(&models.IntegrationEvent{ID: "new", ProjectID: "p1", Timestamp: now.Add(-time.Hour)})

	recent := w.Recent("p1", now)
	if len(recent) != 1 || recent[0].ID != "new" {
		t.Errorf("recent = %v, want only the fresh event", recent)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{models.ErrInvalidID, ClassValidation},
		{models.ErrMissingTimestamp, ClassValidation},
		{graph.ErrMissingEndpoint, ClassValidation},
		{graph.ErrCrossProject, ClassPolicy},
		{ErrQueueFull, ClassPolicy},
		{context.DeadlineExceeded, ClassTransient},
		{errors.New("connection refused"), ClassTransient},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestStop_DrainsAcceptedEvents(t *testing.T) {
	f := newPipelineFixture(t, config.PipelineConfig{
		QueueCapacity: 100, WorkerCount: 1, OverflowPolicy: "reject", StoreAllEvents: true,
	})
	f.pipeline.Start(context.Background())

	const n = 100
	for i := 0; i < n; i++ {
		event := &models.IntegrationEvent{
			ID:        fmt.Sprintf("ev-%d", i),
			ProjectID: "p1",
			EventType: models.EventTypeIssue,
			Title:     fmt.Sprintf("issue %d", i),
			Timestamp: time.Now(),
		}
		if err := f.pipeline.Submit(context.Background(), event); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	f.pipeline.Stop()

	entries, err := f.repo.All(context.Background(), "p1")
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(entries) != n {
		t.Errorf("persisted %d entries after Stop, want %d", len(entries), n)
	}
}

func TestStart_ConcurrentCallsSpawnOneWorkerSet(t *testing.T) {
	f := newPipelineFixture(t, config.PipelineConfig{
		QueueCapacity: 4, WorkerCount: 2, OverflowPolicy: "reject", StoreAllEvents: true,
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.pipeline.Start(context.Background())
		}()
	}
	wg.Wait()

	event := &models.IntegrationEvent{
		ID: "ev-1", ProjectID: "p1", EventType: models.EventTypeIssue, Title: "t", Timestamp: time.Now(),
	}
	if err := f.pipeline.Submit(context.Background(), event); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.pipeline.Stop()

	entries, err := f.repo.All(context.Background(), "p1")
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("persisted %d entries, want 1", len(entries))
	}
}
