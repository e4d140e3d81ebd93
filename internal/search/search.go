// Package search answers semantic queries over the ingested corpus. Three
// modes share a candidate machinery: code search narrows to code sources and
// re-ranks by intent, cross-source fans out to the vector index and the
// graph in parallel, and contextual search weights results by the caller's
// working context. Search never returns an error to the caller; failures
// yield an empty response with timing populated.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/devlens/devlens/internal/graph"
	"github.com/devlens/devlens/internal/models"
	"github.com/devlens/devlens/internal/oracle"
	"github.com/devlens/devlens/internal/timeline"
	"github.com/devlens/devlens/internal/vector"
)

// Mode names accepted in Request.Type.
const (
	ModeCode        = "code"
	ModeCrossSource = "cross_source"
	ModeContextual  = "contextual"
)

// codeSources are the origins whose events count as code for code search.
var codeSources = map[string]bool{"github": true, "gitlab": true, "bitbucket": true}

var codeDataTypes = map[string]bool{
	string(models.EventTypeCommit):      true,
	string(models.EventTypePullRequest): true,
	string(models.EventTypeCodeReview):  true,
}

// UserContext describes the caller's working state for contextual search.
type UserContext struct {
	Role           string   `json:"role,omitempty"`
	CurrentFile    string   `json:"current_file,omitempty"`
	RecentActivity []string `json:"recent_activity,omitempty"`
}

// Request is one search invocation.
type Request struct {
	ProjectID     string       `json:"project_id"`
	Query         string       `json:"query"`
	Type          string       `json:"type"`
	Limit         int          `json:"limit"`
	MinImportance float64      `json:"min_importance"`
	Context       *UserContext `json:"context,omitempty"`
}

// Result is one ranked hit.
type Result struct {
	EntryID    string                  `json:"entry_id"`
	Title      string                  `json:"title"`
	Snippet    string                  `json:"snippet,omitempty"`
	Source     string                  `json:"source"`
	DataType   string                  `json:"data_type"`
	Score      float64                 `json:"score"`
	Importance float64                 `json:"importance"`
	Level      models.ImportanceLevel  `json:"level"`
	Category   models.TimelineCategory `json:"category"`
	CreatedAt  time.Time               `json:"created_at"`
}

// Response is the uniform search reply shape across modes.
type Response struct {
	Query           string                    `json:"query"`
	Type            string                    `json:"type"`
	Results         []Result                  `json:"results"`
	Suggestions     []string                  `json:"suggestions,omitempty"`
	RelatedQueries  []string                  `json:"related_queries,omitempty"`
	Facets          map[string]map[string]int `json:"facets,omitempty"`
	ContextInsights map[string]any            `json:"context_insights,omitempty"`
	TimingMS        int64                     `json:"search_time_ms"`
	SearchID        string                    `json:"search_id"`
}

// Service executes searches over the three stores.
type Service struct {
	index    vector.Index
	graph    graph.Store
	repo     timeline.Repo
	embedder oracle.Embedder
	hist     *history
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock pins the service clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New wires a search service. Pass oracle.Disabled{} when embeddings are
// unavailable; term scoring still works.
func New(idx vector.Index, gs graph.Store, repo timeline.Repo, embedder oracle.Embedder, opts ...Option) *Service {
	if embedder == nil {
		embedder = oracle.Disabled{}
	}
	s := &Service{
		index:    idx,
		graph:    gs,
		repo:     repo,
		embedder: embedder,
		hist:     newHistory(),
		logger:   slog.Default().With("component", "search"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search dispatches by mode. The response always carries timing and a search
// id, even when the underlying stores failed.
func (s *Service) Search(ctx context.Context, req Request) Response {
	started := s.now()
	if req.Limit <= 0 {
		req.Limit = 20
	}
	resp := Response{
		Query:    req.Query,
		Type:     req.Type,
		SearchID: uuid.NewString(),
	}

	var err error
	switch req.Type {
	case ModeCrossSource:
		err = s.crossSource(ctx, req, &resp)
	case ModeContextual:
		err = s.contextual(ctx, req, &resp)
	default:
		resp.Type = ModeCode
		err = s.code(ctx, req, &resp)
	}
	if err != nil {
		s.logger.Warn("search failed, returning empty results",
			"project_id", req.ProjectID, "type", resp.Type, "error", err)
		resp.Results = nil
	}

	resp.TimingMS = time.Since(started).Milliseconds()
	s.hist.record(req.ProjectID, HistoryEntry{
		SearchID:    resp.SearchID,
		Query:       req.Query,
		Type:        resp.Type,
		ResultCount: len(resp.Results),
		At:          started,
	})
	return resp
}

// History returns the most recent searches for a project.
func (s *Service) History(projectID string, limit int) []HistoryEntry {
	return s.hist.recent(projectID, limit)
}

// code searches code sources only, re-ranking by the fixed formula:
// 0.4·vector + 0.3·term_overlap + 0.2·intent_match + importance and recency
// boosts.
func (s *Service) code(ctx context.Context, req Request, resp *Response) error {
	intents := detectIntents(req.Query)
	enhanced := enhanceQuery(req.Query, intents)

	candidates, err := s.candidates(ctx, req.ProjectID, enhanced)
	if err != nil {
		return err
	}

	var results []Result
	for _, c := range candidates {
		if !codeSources[c.entry.Event.Source] && !codeDataTypes[c.entry.DataType] {
			continue
		}
		if c.entry.Importance < req.MinImportance {
			continue
		}
		text := c.entry.Event.Text()
		score := 0.4*c.vectorScore +
			0.3*termOverlap(req.Query, text) +
			0.2*intentMatch(text, intents) +
			s.boosts(c.entry)
		results = append(results, s.toResult(c.entry, score))
	}
	resp.Results = topResults(results, req.Limit)
	resp.ContextInsights = map[string]any{"intents": intents, "enhanced_query": enhanced}
	resp.RelatedQueries = relatedQueries(req.Query, intents)
	return nil
}

// crossSource queries the vector index and the graph in parallel, expands
// top graph hits one hop along their relationships, and merges by entry id
// keeping the higher score.
func (s *Service) crossSource(ctx context.Context, req Request, resp *Response) error {
	intents := detectIntents(req.Query)
	enhanced := enhanceQuery(req.Query, intents)

	var (
		fromVector []candidate
		fromGraph  []graph.VectorMatch
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fromVector, err = s.candidates(gctx, req.ProjectID, enhanced)
		return err
	})
	g.Go(func() error {
		vec, err := s.embedder.Embed(gctx, enhanced)
		if err != nil {
			if oracle.IsDisabled(err) {
				return nil
			}
			return err
		}
		fromGraph, err = s.graph.SearchByVector(gctx, req.ProjectID, vec, 20)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	merged := make(map[string]Result)
	consider := func(r Result) {
		if existing, ok := merged[r.EntryID]; ok && existing.Score >= r.Score {
			return
		}
		merged[r.EntryID] = r
	}

	for _, c := range fromVector {
		if c.entry.Importance < req.MinImportance {
			continue
		}
		score := 0.5*c.vectorScore + 0.3*termOverlap(req.Query, c.entry.Event.Text()) + s.boosts(c.entry)
		consider(s.toResult(c.entry, score))
	}

	// one-hop relationship expansion from the strongest graph hits
	for i, match := range fromGraph {
		if entry, err := s.repo.Get(ctx, req.ProjectID, match.Entity.ID); err == nil && entry.Importance >= req.MinImportance {
			consider(s.toResult(entry, 0.5*match.Score+s.boosts(entry)))
		}
		if i >= 5 {
			continue
		}
		related, err := s.graph.FindRelated(ctx, req.ProjectID, match.Entity.ID, nil, 1, 0.5)
		if err != nil {
			continue
		}
		for _, rel := range related {
			entry, err := s.repo.Get(ctx, req.ProjectID, rel.Entity.ID)
			if err != nil || entry.Importance < req.MinImportance {
				continue
			}
			consider(s.toResult(entry, 0.3*match.Score*rel.PathStrength+s.boosts(entry)))
		}
	}

	var results []Result
	for _, r := range merged {
		results = append(results, r)
	}
	resp.Results = topResults(results, req.Limit)
	resp.Facets = facets(resp.Results)
	resp.RelatedQueries = relatedQueries(req.Query, intents)
	return nil
}

// contextual runs a cross-source search and re-weights by the caller's
// context, surfacing proactive suggestions from the current file's
// neighborhood.
func (s *Service) contextual(ctx context.Context, req Request, resp *Response) error {
	if err := s.crossSource(ctx, req, resp); err != nil {
		return err
	}
	uc := req.Context
	if uc == nil {
		return nil
	}

	component := fileComponent(uc.CurrentFile)
	activity := strings.Join(uc.RecentActivity, " ")

	for i := range resp.Results {
		r := &resp.Results[i]
		if component != "" && mentionsComponent(r, component) {
			r.Score += 0.15
		}
		if activity != "" {
			r.Score += 0.1 * termOverlap(activity, r.Title+" "+r.Snippet)
		}
	}
	sortResults(resp.Results)

	if component != "" {
		resp.Suggestions = s.neighborhoodSuggestions(ctx, req.ProjectID, component)
	}
	if resp.ContextInsights == nil {
		resp.ContextInsights = map[string]any{}
	}
	resp.ContextInsights["role"] = uc.Role
	resp.ContextInsights["current_file_component"] = component
	return nil
}

// candidate couples a timeline entry with its vector score.
type candidate struct {
	entry       *models.TimelineEntry
	vectorScore float64
}

// candidates gathers scored entries for a query: by embedding when the
// oracle is available, falling back to a timeline scan scored by term
// overlap alone.
func (s *Service) candidates(ctx context.Context, projectID, query string) ([]candidate, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err == nil {
		matches, qerr := s.index.Query(ctx, vec, 50, map[string]string{"project_id": projectID})
		if qerr != nil {
			return nil, fmt.Errorf("vector query: %w", qerr)
		}
		var out []candidate
		for _, m := range matches {
			entry, gerr := s.repo.Get(ctx, projectID, m.ID)
			if gerr != nil {
				continue
			}
			out = append(out, candidate{entry: entry, vectorScore: m.Score})
		}
		return out, nil
	}
	if !oracle.IsDisabled(err) {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	entries, err := s.repo.List(ctx, timeline.Query{ProjectID: projectID, Limit: 200, IncludeFrozen: false})
	if err != nil {
		return nil, fmt.Errorf("timeline scan: %w", err)
	}
	var out []candidate
	for _, entry := range entries {
		if termOverlap(query, entry.Event.Text()) == 0 {
			continue
		}
		out = append(out, candidate{entry: entry})
	}
	return out, nil
}

// boosts adds importance and recency bumps to a base score.
func (s *Service) boosts(entry *models.TimelineEntry) float64 {
	boost := 0.1 * entry.Importance
	age := s.now().Sub(entry.Event.Timestamp)
	switch {
	case age <= 7*24*time.Hour:
		boost += 0.05
	case age <= 30*24*time.Hour:
		boost += 0.02
	}
	return boost
}

func (s *Service) toResult(entry *models.TimelineEntry, score float64) Result {
	return Result{
		EntryID:    entry.EntryID,
		Title:      entry.Event.Title,
		Snippet:    snippet(entry.Event.Content, 200),
		Source:     entry.Event.Source,
		DataType:   entry.DataType,
		Score:      score,
		Importance: entry.Importance,
		Level:      entry.Level,
		Category:   entry.Category,
		CreatedAt:  entry.CreatedAt,
	}
}

// neighborhoodSuggestions proposes recent entries tagged with the same
// component as the file the user is editing.
func (s *Service) neighborhoodSuggestions(ctx context.Context, projectID, component string) []string {
	entries, err := s.repo.List(ctx, timeline.Query{ProjectID: projectID, Limit: 100})
	if err != nil {
		return nil
	}
	var suggestions []string
	for _, entry := range entries {
		for _, tag := range entry.Tags {
			if strings.EqualFold(tag, component) {
				suggestions = append(suggestions, fmt.Sprintf("Related %s: %s", entry.DataType, entry.Event.Title))
				break
			}
		}
		if len(suggestions) == 5 {
			break
		}
	}
	return suggestions
}

func mentionsComponent(r *Result, component string) bool {
	text := strings.ToLower(r.Title + " " + r.Snippet)
	return strings.Contains(text, strings.ToLower(component))
}

// fileComponent reduces a path to its first two segments.
func fileComponent(path string) string {
	if path == "" {
		return ""
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

func relatedQueries(query string, intents []string) []string {
	var out []string
	for _, intent := range intents {
		out = append(out, query+" "+strings.ReplaceAll(intent, "_", " "))
		if len(out) == 3 {
			break
		}
	}
	return out
}

func facets(results []Result) map[string]map[string]int {
	out := map[string]map[string]int{
		"content_type": {},
		"category":     {},
		"level":        {},
	}
	for _, r := range results {
		out["content_type"][r.DataType]++
		out["category"][string(r.Category)]++
		out["level"][string(r.Level)]++
	}
	return out
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].EntryID < results[j].EntryID
	})
}

func topResults(results []Result, limit int) []Result {
	sortResults(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func snippet(content string, n int) string {
	if len(content) <= n {
		return content
	}
	return content[:n] + "…"
}
