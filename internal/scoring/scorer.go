// Package scoring computes the multi-factor importance score that governs
// what the timeline keeps, where it lives, and for how long. Weights are
// process-wide and adjust online from user feedback.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devlens/devlens/internal/models"
)

// Weights is one immutable weight version. Readers grab a snapshot; feedback
// installs a replacement atomically (copy-on-write), so a score computed
// against one version never mixes weights from two.
type Weights struct {
	Version int
	Values  map[string]float64
}

// DefaultWeights returns the shipped weight set. The original design carried
// a sixth "context_similarity" factor that always returned a constant; it is
// dropped and the remaining five renormalized to sum to 1.
func DefaultWeights() Weights {
	return Weights{
		Version: 1,
		Values: map[string]float64{
			FactorContentQuality:    0.25 / 0.85,
			FactorTemporalRelevance: 0.20 / 0.85,
			FactorAuthorImportance:  0.15 / 0.85,
			FactorKeywordRelevance:  0.15 / 0.85,
			FactorEngagement:        0.10 / 0.85,
		},
	}
}

// Scorer computes ImportanceScores. Safe for concurrent use.
type Scorer struct {
	weights       atomic.Pointer[Weights]
	keepThreshold float64
	batchSize     int
	ledger        Ledger
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures a Scorer
type Option func(*Scorer)

// WithLedger attaches a feedback ledger; nil disables persistence of weight
// adjustments.
func WithLedger(l Ledger) Option {
	return func(s *Scorer) { s.ledger = l }
}

// WithClock overrides the time source (tests)
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// WithBatchSize overrides the parallel chunk size (default 50)
func WithBatchSize(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New creates a Scorer with default weights
func New(keepThreshold float64, opts ...Option) *Scorer {
	s := &Scorer{
		keepThreshold: keepThreshold,
		batchSize:     50,
		logger:        slog.Default().With("component", "scoring"),
		now:           time.Now,
	}
	w := DefaultWeights()
	s.weights.Store(&w)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Weights returns the current weight snapshot
func (s *Scorer) Weights() Weights {
	return *s.weights.Load()
}

// SetWeights replaces the weight set atomically (used on startup to restore
// the ledger's last state)
func (s *Scorer) SetWeights(w Weights) {
	s.weights.Store(&w)
}

// Score computes the importance of one event. Re-invocation with the same
// inputs and the same weight version yields the same result.
func (s *Scorer) Score(ctx context.Context, e *models.IntegrationEvent, pc *ProjectContext) models.ImportanceScore {
	weights := s.weights.Load()
	now := s.now()

	factors := map[string]float64{
		FactorContentQuality:    contentQuality(e),
		FactorTemporalRelevance: temporalRelevance(e, now),
		FactorAuthorImportance:  authorImportance(e, pc),
		FactorKeywordRelevance:  keywordRelevance(e),
		FactorEngagement:        engagement(e),
	}

	var score float64
	for name, value := range factors {
		score += value * weights.Values[name]
	}
	score = clamp01(score)

	return models.ImportanceScore{
		Score:      score,
		Level:      models.LevelForScore(score),
		Factors:    factors,
		Confidence: confidence(factors),
		Reasons:    reasons(factors),
		ShouldKeep: score >= s.keepThreshold,
	}
}

// Batch scores events in parallel chunks, preserving input order
func (s *Scorer) Batch(ctx context.Context, events []*models.IntegrationEvent, pc *ProjectContext) ([]models.ImportanceScore, error) {
	results := make([]models.ImportanceScore, len(events))
	g, gctx := errgroup.WithContext(ctx)

	for start := 0; start < len(events); start += s.batchSize {
		end := start + s.batchSize
		if end > len(events) {
			end = len(events)
		}
		start, end := start, end
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = s.Score(gctx, events[i], pc)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch scoring aborted: %w", err)
	}
	return results, nil
}

// LearnFromFeedback nudges the weight of the largest-contributing factor when
// the prediction missed by more than 0.2, then renormalizes. The adjustment
// is appended to the ledger so sibling processes converge on restart.
func (s *Scorer) LearnFromFeedback(ctx context.Context, e *models.IntegrationEvent, predicted models.ImportanceScore, actual float64) error {
	delta := predicted.Score - actual
	if math.Abs(delta) <= 0.2 {
		return nil
	}

	current := s.weights.Load()

	// largest contribution = factor value × weight
	var topFactor string
	var topContribution float64
	for name, value := range predicted.Factors {
		contribution := value * current.Values[name]
		if contribution > topContribution {
			topContribution = contribution
			topFactor = name
		}
	}
	if topFactor == "" {
		return nil
	}

	scale := 1.05 // under-predicted: boost the dominant factor
	if delta > 0 {
		scale = 0.95 // over-predicted: damp it
	}

	next := Weights{Version: current.Version + 1, Values: make(map[string]float64, len(current.Values))}
	var sum float64
	for name, w := range current.Values {
		if name == topFactor {
			w *= scale
		}
		next.Values[name] = w
		sum += w
	}
	for name := range next.Values {
		next.Values[name] /= sum
	}
	s.weights.Store(&next)

	s.logger.Info("importance weights adjusted",
		"factor", topFactor,
		"scale", scale,
		"predicted", predicted.Score,
		"actual", actual,
		"version", next.Version)

	if s.ledger != nil {
		entry := FeedbackEntry{
			EventID:   e.ID,
			ProjectID: e.ProjectID,
			Predicted: predicted.Score,
			Actual:    actual,
			Factor:    topFactor,
			Scale:     scale,
			Version:   next.Version,
			Weights:   next.Values,
			CreatedAt: s.now().UTC(),
		}
		if err := s.ledger.Append(ctx, entry); err != nil {
			return fmt.Errorf("weights adjusted but ledger append failed: %w", err)
		}
	}
	return nil
}

// confidence = 1 − stdev/mean of the factor values, clamped; 0.5 if mean 0
func confidence(factors map[string]float64) float64 {
	var sum float64
	for _, v := range factors {
		sum += v
	}
	mean := sum / float64(len(factors))
	if mean == 0 {
		return 0.5
	}
	var variance float64
	for _, v := range factors {
		variance += (v - mean) * (v - mean)
	}
	stdev := math.Sqrt(variance / float64(len(factors)))
	return clamp01(1 - stdev/mean)
}

// reasons names factor extremes: >0.7 is a positive signal, <0.3 a negative
func reasons(factors map[string]float64) []string {
	names := make([]string, 0, len(factors))
	for name := range factors {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		value := factors[name]
		switch {
		case value > 0.7:
			out = append(out, fmt.Sprintf("high %s (%.2f)", name, value))
		case value < 0.3:
			out = append(out, fmt.Sprintf("low %s (%.2f)", name, value))
		}
	}
	return out
}
