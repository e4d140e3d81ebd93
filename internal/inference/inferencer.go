// Package inference derives typed relationships between an incoming event and
// its context window of recent project events. Five emitters run per
// candidate pair; across all emitters only the highest-confidence relation
// per (src, dst, type) survives, and only relations at or above the
// configured confidence threshold are returned.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/devlens/devlens/internal/config"
	"github.com/devlens/devlens/internal/models"
	"github.com/devlens/devlens/internal/oracle"
	"github.com/devlens/devlens/internal/vector"
)

// Inferencer runs the relationship emitters over candidate pairs. The LLM
// completer is optional; without it the causal emitter falls back to the
// rule score alone.
type Inferencer struct {
	cfg       config.InferenceConfig
	completer oracle.Completer
	logger    *slog.Logger
}

// New builds an inferencer. Pass oracle.Disabled{} when no LLM is configured.
func New(cfg config.InferenceConfig, completer oracle.Completer) *Inferencer {
	if completer == nil {
		completer = oracle.Disabled{}
	}
	return &Inferencer{
		cfg:       cfg,
		completer: completer,
		logger:    slog.Default().With("component", "inference"),
	}
}

// Infer emits relations between event and each candidate in the window.
// Failures on individual candidates are logged and skipped; Infer itself
// never fails.
func (inf *Inferencer) Infer(ctx context.Context, event *models.IntegrationEvent, window []*models.IntegrationEvent) []models.EventRelation {
	best := make(map[string]models.EventRelation)
	keep := func(r models.EventRelation) {
		if r.Confidence > 1 {
			r.Confidence = 1
		}
		if existing, ok := best[r.Key()]; ok && existing.Confidence >= r.Confidence {
			return
		}
		best[r.Key()] = r
	}

	refs := extractRefs(event.Text())
	resolves := hasResolutionVerb(event.Text())
	components := componentSet(event)

	for _, candidate := range window {
		if candidate.ID == event.ID || candidate.ProjectID != event.ProjectID {
			continue
		}
		inf.semantic(event, candidate, keep)
		inf.reference(event, candidate, refs, resolves, keep)
		inf.component(event, candidate, components, keep)
		inf.author(event, candidate, keep)
		inf.causal(ctx, event, candidate, refs, resolves, keep)
	}

	var out []models.EventRelation
	for _, r := range best {
		if r.Confidence < inf.cfg.MinConfidence {
			continue
		}
		out = append(out, r)
	}
	return out
}

// semantic links embedding-similar events.
func (inf *Inferencer) semantic(event, candidate *models.IntegrationEvent, keep func(models.EventRelation)) {
	if len(event.Embedding) == 0 || len(candidate.Embedding) == 0 {
		return
	}
	similarity := vector.Cosine(event.Embedding, candidate.Embedding)
	if similarity < inf.cfg.MinSimilarity {
		return
	}
	keep(models.EventRelation{
		SourceEventID: event.ID,
		TargetEventID: candidate.ID,
		ProjectID:     event.ProjectID,
		Type:          models.RelationRelatedTo,
		Confidence:    similarity,
		Metadata:      models.Metadata{"emitter": "semantic", "similarity": similarity},
	})
}

// reference links events whose text mentions the candidate by identifier.
// A commit referencing an issue with a resolution verb upgrades to resolved.
func (inf *Inferencer) reference(event, candidate *models.IntegrationEvent, refs map[string]bool, resolves bool, keep func(models.EventRelation)) {
	matches := countMatches(refs, candidateKeys(candidate))
	if matches == 0 {
		return
	}
	confidence := 0.7 + 0.05*float64(matches)
	if confidence > 0.9 {
		confidence = 0.9
	}
	relType := models.RelationReferenced
	if event.EventType == models.EventTypeCommit && candidate.EventType == models.EventTypeIssue && resolves {
		relType = models.RelationResolved
		confidence += 0.1
		if confidence > 0.95 {
			confidence = 0.95
		}
	}
	keep(models.EventRelation{
		SourceEventID: event.ID,
		TargetEventID: candidate.ID,
		ProjectID:     event.ProjectID,
		Type:          relType,
		Confidence:    confidence,
		Metadata:      models.Metadata{"emitter": "reference", "matches": matches},
	})
}

// component links events touching the same part of the system.
func (inf *Inferencer) component(event, candidate *models.IntegrationEvent, components map[string]bool, keep func(models.EventRelation)) {
	candidateComponents := componentSet(candidate)
	if len(components) == 0 || len(candidateComponents) == 0 {
		return
	}
	overlap := 0
	for c := range components {
		if candidateComponents[c] {
			overlap++
		}
	}
	if overlap == 0 {
		return
	}
	larger := len(components)
	if len(candidateComponents) > larger {
		larger = len(candidateComponents)
	}
	keep(models.EventRelation{
		SourceEventID: event.ID,
		TargetEventID: candidate.ID,
		ProjectID:     event.ProjectID,
		Type:          models.RelationSameComponent,
		Confidence:    0.6 + 0.3*float64(overlap)/float64(larger),
		Metadata:      models.Metadata{"emitter": "component", "overlap": overlap},
	})
}

// author links events by the same person; a tight time gap strengthens it.
func (inf *Inferencer) author(event, candidate *models.IntegrationEvent, keep func(models.EventRelation)) {
	if event.Author == "" || !strings.EqualFold(event.Author, candidate.Author) {
		return
	}
	confidence := 0.8
	gap := event.Timestamp.Sub(candidate.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	if gap <= time.Hour {
		confidence += 0.15
	}
	keep(models.EventRelation{
		SourceEventID: event.ID,
		TargetEventID: candidate.ID,
		ProjectID:     event.ProjectID,
		Type:          models.RelationSameAuthor,
		Confidence:    confidence,
		Metadata:      models.Metadata{"emitter": "author"},
	})
}

// causal runs for commits, pull requests, and deployments. Code changes are
// scored against earlier issues by rule, with an LLM tiebreak in the
// uncertain band; deployments are matched to the commits they shipped.
func (inf *Inferencer) causal(ctx context.Context, event, candidate *models.IntegrationEvent, refs map[string]bool, resolves bool, keep func(models.EventRelation)) {
	switch event.EventType {
	case models.EventTypeCommit, models.EventTypePullRequest:
		if candidate.EventType != models.EventTypeIssue || candidate.Timestamp.After(event.Timestamp) {
			return
		}
		rule := 0.5
		if countMatches(refs, candidateKeys(candidate)) > 0 {
			rule += 0.3
		}
		if resolves {
			rule += 0.2
		}
		confidence := rule
		if rule < inf.cfg.MinConfidence {
			llm, err := inf.llmCausalScore(ctx, event, candidate)
			if err != nil {
				if !oracle.IsDisabled(err) {
					inf.logger.Warn("llm causal score failed",
						"event_id", event.ID, "candidate_id", candidate.ID, "error", err)
				}
				return
			}
			confidence = 0.4*rule + 0.6*llm
		}
		if confidence < inf.cfg.MinConfidence {
			return
		}
		keep(models.EventRelation{
			SourceEventID: event.ID,
			TargetEventID: candidate.ID,
			ProjectID:     event.ProjectID,
			Type:          models.RelationResolved,
			Confidence:    confidence,
			Metadata:      models.Metadata{"emitter": "causal", "rule_score": rule},
		})

	case models.EventTypeDeployment:
		if candidate.EventType != models.EventTypeCommit || candidate.Timestamp.After(event.Timestamp) {
			return
		}
		hash := strings.ToLower(candidate.Metadata.GetString(models.MetaCommitHash))
		if hash == "" {
			hash = strings.ToLower(candidate.ID)
		}
		for _, shipped := range event.Metadata.GetStrings(models.MetaCommitHashes) {
			if strings.EqualFold(shipped, hash) {
				keep(models.EventRelation{
					SourceEventID: event.ID,
					TargetEventID: candidate.ID,
					ProjectID:     event.ProjectID,
					Type:          models.RelationCaused,
					Confidence:    0.95,
					Metadata:      models.Metadata{"emitter": "causal", "commit_hash": hash},
				})
				return
			}
		}
	}
}

var numberPattern = regexp.MustCompile(`[01]?\.\d+|[01]\b`)

// llmCausalScore asks the completer for a 0-1 likelihood that the change
// addresses the issue, and parses the first number out of the reply.
func (inf *Inferencer) llmCausalScore(ctx context.Context, event, candidate *models.IntegrationEvent) (float64, error) {
	prompt := fmt.Sprintf(`Rate from 0.0 to 1.0 how likely this code change addresses this issue. Answer with only the number.

Code change (%s):
%s

Issue:
%s`, event.EventType, truncate(event.Text(), 1500), truncate(candidate.Text(), 1500))

	reply, err := inf.completer.Complete(ctx, prompt)
	if err != nil {
		return 0, err
	}
	match := numberPattern.FindString(reply)
	if match == "" {
		return 0, fmt.Errorf("no numeric score in llm reply %q", truncate(reply, 80))
	}
	score, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable llm score %q: %w", match, err)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
