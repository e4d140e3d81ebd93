// Package timeline is the system of record for ingested events. Entries are
// organized chronologically per project, carry tier and retention assignments
// derived from importance, and are mirrored as projections into the vector
// index and the knowledge graph. Projections are rebuildable; the timeline
// row is authoritative.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/devlens/devlens/internal/config"
	"github.com/devlens/devlens/internal/graph"
	"github.com/devlens/devlens/internal/models"
	"github.com/devlens/devlens/internal/scoring"
	"github.com/devlens/devlens/internal/vector"
)

// ErrEntryNotFound is returned for lookups of unknown timeline entries.
var ErrEntryNotFound = errors.New("timeline entry not found")

// Query filters a project timeline read.
type Query struct {
	ProjectID     string                  `json:"project_id"`
	Category      models.TimelineCategory `json:"category,omitempty"`
	MinImportance float64                 `json:"min_importance"`
	IncludeFrozen bool                    `json:"include_frozen"`
	Limit         int                     `json:"limit"`
}

// Analytics summarizes a project timeline over a trailing window.
type Analytics struct {
	ProjectID      string         `json:"project_id"`
	Days           int            `json:"days"`
	TotalEntries   int            `json:"total_entries"`
	MeanImportance float64        `json:"mean_importance"`
	ByTier         map[string]int `json:"by_tier"`
	ByLevel        map[string]int `json:"by_level"`
	ByCategory     map[string]int `json:"by_category"`
}

// CleanupReport counts what a retention pass did.
type CleanupReport struct {
	Examined int `json:"examined"`
	Deleted  int `json:"deleted"`
	Demoted  int `json:"demoted"`
}

// Repo is the persistence capability the service needs. PostgresRepo is the
// production implementation; MemoryRepo backs tests.
type Repo interface {
	Insert(ctx context.Context, entry *models.TimelineEntry) error
	Update(ctx context.Context, entry *models.TimelineEntry) error
	Get(ctx context.Context, projectID, entryID string) (*models.TimelineEntry, error)

	// FindDuplicate returns the entry in the project with the same data type
	// and content hash created at or after `since`, if one exists.
	FindDuplicate(ctx context.Context, projectID, dataType, contentHash string, since time.Time) (*models.TimelineEntry, bool, error)

	// List returns entries matching q sorted by importance desc, created_at
	// desc, entry_id asc.
	List(ctx context.Context, q Query) ([]*models.TimelineEntry, error)

	// Touch bumps last_accessed and access_count for the given entries.
	Touch(ctx context.Context, projectID string, entryIDs []string, at time.Time) error

	// All streams every entry, optionally restricted to one project.
	All(ctx context.Context, projectID string) ([]*models.TimelineEntry, error)

	SetTier(ctx context.Context, projectID, entryID string, tier models.StorageTier) error
	Delete(ctx context.Context, projectID, entryID string) error

	// MarkProjected records that the entry's projections are current.
	MarkProjected(ctx context.Context, projectID, entryID string, at time.Time) error

	// Unprojected returns entries whose projections are missing or stale.
	Unprojected(ctx context.Context, limit int) ([]*models.TimelineEntry, error)

	Close()
}

// Service coordinates dedup, scoring, tier assignment, persistence, and
// projection mirroring for timeline entries.
type Service struct {
	repo   Repo
	index  vector.Index
	graph  graph.Store
	scorer *scoring.Scorer
	cfg    config.TimelineConfig
	logger *slog.Logger
	now    func() time.Time
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithClock pins the service clock, mainly for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires a timeline service over its three stores.
func NewService(repo Repo, idx vector.Index, gs graph.Store, scorer *scoring.Scorer, cfg config.TimelineConfig, opts ...ServiceOption) *Service {
	s := &Service{
		repo:   repo,
		index:  idx,
		graph:  gs,
		scorer: scorer,
		cfg:    cfg,
		logger: slog.Default().With("component", "timeline"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store scores, deduplicates, and persists the given events, mirroring each
// surviving entry into the vector index and the graph. Duplicate content
// within the dedup window collapses to the higher-importance entry; the
// survivor records the loser's id under duplicate_of. Returned entries are
// the surviving rows, in input order.
func (s *Service) Store(ctx context.Context, events []*models.IntegrationEvent, pc *scoring.ProjectContext) ([]*models.TimelineEntry, error) {
	out := make([]*models.TimelineEntry, 0, len(events))
	for _, event := range events {
		entry, err := s.storeOne(ctx, event, pc)
		if err != nil {
			return out, fmt.Errorf("store event %s: %w", event.ID, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Service) storeOne(ctx context.Context, event *models.IntegrationEvent, pc *scoring.ProjectContext) (*models.TimelineEntry, error) {
	if event.ProjectID == "" {
		return nil, models.ErrMissingProject
	}
	now := s.now()
	hash := models.ContentHash(event.Text())
	dataType := string(event.EventType)
	score := s.scorer.Score(ctx, event, pc)

	existing, found, err := s.repo.FindDuplicate(ctx, event.ProjectID, dataType, hash, now.Add(-s.cfg.DedupWindow))
	if err != nil {
		return nil, err
	}
	if found {
		return s.resolveDuplicate(ctx, existing, event, score)
	}

	entry := s.buildEntry(ctx, event, score, now)
	if err := s.repo.Insert(ctx, entry); err != nil {
		return nil, err
	}
	s.project(ctx, entry)
	return entry, nil
}

// resolveDuplicate keeps the higher-importance side of a content collision.
// The survivor's metadata gains duplicate_of pointing at the discarded id.
func (s *Service) resolveDuplicate(ctx context.Context, existing *models.TimelineEntry, event *models.IntegrationEvent, score models.ImportanceScore) (*models.TimelineEntry, error) {
	if score.Score <= existing.Importance {
		existing.Metadata = existing.Metadata.Clone()
		existing.Metadata[models.MetaDuplicateOf] = event.ID
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, err
		}
		s.logger.Debug("duplicate dropped",
			"project_id", event.ProjectID, "loser", event.ID, "kept", existing.EntryID)
		return existing, nil
	}

	// The incoming event outranks the stored one: replace it.
	if err := s.repo.Delete(ctx, existing.ProjectID, existing.EntryID); err != nil {
		return nil, err
	}
	s.unproject(ctx, existing)

	entry := s.buildEntry(ctx, event, score, s.now())
	entry.Metadata = entry.Metadata.Clone()
	entry.Metadata[models.MetaDuplicateOf] = existing.EntryID
	if err := s.repo.Insert(ctx, entry); err != nil {
		return nil, err
	}
	s.project(ctx, entry)
	s.logger.Debug("duplicate superseded",
		"project_id", event.ProjectID, "loser", existing.EntryID, "kept", entry.EntryID)
	return entry, nil
}

func (s *Service) buildEntry(ctx context.Context, event *models.IntegrationEvent, score models.ImportanceScore, now time.Time) *models.TimelineEntry {
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	category := models.CategoryForAge(event.Age(now))
	entry := &models.TimelineEntry{
		EntryID:         id,
		ProjectID:       event.ProjectID,
		DataType:        string(event.EventType),
		ContentHash:     models.ContentHash(event.Text()),
		Event:           *event,
		Importance:      score.Score,
		Level:           score.Level,
		Category:        category,
		Tier:            models.TierFor(score.Level, category),
		Retention:       models.RetentionFor(score.Level),
		CreatedAt:       now,
		LastAccessed:    now,
		Tags:            extractTags(event),
		RelatedEntryIDs: s.relatedEntries(ctx, event, id),
		Metadata:        event.Metadata,
	}
	return entry
}

// relatedEntries finds existing semantically-similar entries via the vector
// index. Failures are tolerated; relatedness is advisory.
func (s *Service) relatedEntries(ctx context.Context, event *models.IntegrationEvent, selfID string) []string {
	if len(event.Embedding) == 0 {
		return nil
	}
	matches, err := s.index.Query(ctx, event.Embedding, 6, map[string]string{"project_id": event.ProjectID})
	if err != nil {
		s.logger.Warn("related-entry lookup failed", "event_id", event.ID, "error", err)
		return nil
	}
	var related []string
	for _, m := range matches {
		if m.ID == selfID || m.Score < s.cfg.RelatedSimilarity {
			continue
		}
		related = append(related, m.ID)
		if len(related) == 5 {
			break
		}
	}
	return related
}

// project mirrors an entry into the vector index and the graph. Projection
// failures are logged, never returned; the reconciler repairs the gap later.
// MarkProjected is only recorded when both projections succeed.
func (s *Service) project(ctx context.Context, entry *models.TimelineEntry) {
	ok := true
	if len(entry.Event.Embedding) > 0 {
		doc := vector.Document{
			ID:     entry.EntryID,
			Vector: entry.Event.Embedding,
			Metadata: map[string]string{
				"project_id": entry.ProjectID,
				"data_type":  entry.DataType,
				"source":     entry.Event.Source,
			},
		}
		if err := s.index.Upsert(ctx, []vector.Document{doc}); err != nil {
			s.logger.Warn("vector projection failed", "entry_id", entry.EntryID, "error", err)
			ok = false
		}
	}
	if err := s.graph.UpsertEntity(ctx, entityFor(entry)); err != nil {
		s.logger.Warn("graph projection failed", "entry_id", entry.EntryID, "error", err)
		ok = false
	}
	if ok {
		if err := s.repo.MarkProjected(ctx, entry.ProjectID, entry.EntryID, s.now()); err != nil {
			s.logger.Warn("failed to mark entry projected", "entry_id", entry.EntryID, "error", err)
		}
	}
}

func (s *Service) unproject(ctx context.Context, entry *models.TimelineEntry) {
	if err := s.index.Delete(ctx, []string{entry.EntryID}); err != nil {
		s.logger.Warn("vector delete failed", "entry_id", entry.EntryID, "error", err)
	}
	if err := s.graph.DeleteEntity(ctx, entry.ProjectID, entry.EntryID); err != nil {
		s.logger.Warn("graph delete failed", "entry_id", entry.EntryID, "error", err)
	}
}

func entityFor(entry *models.TimelineEntry) graph.Entity {
	return graph.Entity{
		ID:        entry.EntryID,
		ProjectID: entry.ProjectID,
		Type:      "event",
		Properties: map[string]any{
			"title":      entry.Event.Title,
			"source":     entry.Event.Source,
			"event_type": entry.DataType,
			"author":     entry.Event.Author,
			"timestamp":  entry.Event.Timestamp.UTC().Format(time.RFC3339),
			"importance": entry.Importance,
			"level":      string(entry.Level),
		},
		Embedding: entry.Event.Embedding,
	}
}

// extractTags derives searchable tags from the event's structured fields.
func extractTags(event *models.IntegrationEvent) []string {
	seen := map[string]bool{}
	var tags []string
	add := func(t string) {
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		tags = append(tags, t)
	}
	add(string(event.EventType))
	add(event.Source)
	add(event.Component)
	for _, l := range event.Labels {
		add(l)
	}
	for _, c := range event.Metadata.GetStrings(models.MetaComponents) {
		add(c)
	}
	return tags
}

// Retrieve returns the filtered project timeline, most important and most
// recent first, and bumps access bookkeeping on the returned entries.
func (s *Service) Retrieve(ctx context.Context, q Query) ([]*models.TimelineEntry, error) {
	if q.ProjectID == "" {
		return nil, models.ErrMissingProject
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	entries, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("retrieve timeline for %s: %w", q.ProjectID, err)
	}
	if len(entries) > 0 {
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.EntryID
		}
		if err := s.repo.Touch(ctx, q.ProjectID, ids, s.now()); err != nil {
			s.logger.Warn("access bookkeeping failed", "project_id", q.ProjectID, "error", err)
		}
	}
	return entries, nil
}

// Cleanup applies retention: entries past their retention period are deleted
// from the timeline and both projections; aged non-frozen entries past the
// cold threshold are demoted to the frozen tier. An empty projectID walks
// every project.
func (s *Service) Cleanup(ctx context.Context, projectID string) (CleanupReport, error) {
	var report CleanupReport
	entries, err := s.repo.All(ctx, projectID)
	if err != nil {
		return report, fmt.Errorf("cleanup walk: %w", err)
	}
	now := s.now()
	for _, entry := range entries {
		report.Examined++
		age := now.Sub(entry.Event.Timestamp)
		if period, bounded := models.RetentionPeriod(entry.Retention); bounded && age > period {
			if err := s.repo.Delete(ctx, entry.ProjectID, entry.EntryID); err != nil {
				s.logger.Warn("retention delete failed", "entry_id", entry.EntryID, "error", err)
				continue
			}
			s.unproject(ctx, entry)
			report.Deleted++
			continue
		}
		if entry.Tier != models.TierFrozen && age > s.cfg.CleanupThreshold {
			if err := s.repo.SetTier(ctx, entry.ProjectID, entry.EntryID, models.TierFrozen); err != nil {
				s.logger.Warn("tier demotion failed", "entry_id", entry.EntryID, "error", err)
				continue
			}
			report.Demoted++
		}
	}
	s.logger.Info("cleanup complete",
		"project_id", projectID,
		"examined", report.Examined,
		"deleted", report.Deleted,
		"demoted", report.Demoted)
	return report, nil
}

// AnalyticsFor computes tier, level, and category distributions plus mean
// importance over the trailing window.
func (s *Service) AnalyticsFor(ctx context.Context, projectID string, days int) (Analytics, error) {
	a := Analytics{
		ProjectID:  projectID,
		Days:       days,
		ByTier:     map[string]int{},
		ByLevel:    map[string]int{},
		ByCategory: map[string]int{},
	}
	if projectID == "" {
		return a, models.ErrMissingProject
	}
	if days <= 0 {
		days = 30
		a.Days = days
	}
	entries, err := s.repo.All(ctx, projectID)
	if err != nil {
		return a, fmt.Errorf("analytics for %s: %w", projectID, err)
	}
	cutoff := s.now().AddDate(0, 0, -days)
	var sum float64
	for _, entry := range entries {
		if entry.CreatedAt.Before(cutoff) {
			continue
		}
		a.TotalEntries++
		sum += entry.Importance
		a.ByTier[string(entry.Tier)]++
		a.ByLevel[string(entry.Level)]++
		a.ByCategory[string(entry.Category)]++
	}
	if a.TotalEntries > 0 {
		a.MeanImportance = sum / float64(a.TotalEntries)
	}
	return a, nil
}
