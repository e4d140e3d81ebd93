package inference

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/devlens/devlens/internal/config"
	"github.com/devlens/devlens/internal/models"
)

var inferenceCfg = config.InferenceConfig{
	MinSimilarity:     0.75,
	MinConfidence:     0.7,
	ContextWindowSize: 10,
	MaxTimeWindowDays: 30,
}

var baseTime = time.Date(2026, 7, 15, 10, 0, 0, 0, time.UTC)

func testEvent(id string, eventType models.EventType, title string) *models.IntegrationEvent {
	return &models.IntegrationEvent{
		ID:        id,
		ProjectID: "p1",
		Source:    "github",
		EventType: eventType,
		Title:     title,
		Author:    "alice",
		Timestamp: baseTime,
	}
}

func findRelation(rels []models.EventRelation, target string, relType models.RelationType) (models.EventRelation, bool) {
	for _, r := range rels {
		if r.TargetEventID == target && r.Type == relType {
			return r, true
		}
	}
	return models.EventRelation{}, false
}

func TestInfer_Semantic(t *testing.T) {
	inf := New(inferenceCfg, nil)

	event := testEvent("ev-1", models.EventTypeIssue, "checkout broken")
	event.Embedding = []float32{1, 0}
	near := testEvent("ev-2", models.EventTypeIssue, "cart errors")
	near.Embedding = []float32{0.9, 0.1}
	near.Author = "bob"
	far := testEvent("ev-3", models.EventTypeIssue, "docs typo")
	far.Embedding = []float32{0, 1}
	far.Author = "carol"

	rels := inf.Infer(context.Background(), event, []*models.IntegrationEvent{near, far})

	r, ok := findRelation(rels, "ev-2", models.RelationRelatedTo)
	if !ok {
		t.Fatalf("expected related_to edge to ev-2, got %v", rels)
	}
	if r.Confidence < inferenceCfg.MinSimilarity {
		t.Errorf("confidence %v below similarity floor", r.Confidence)
	}
	if _, ok := findRelation(rels, "ev-3", models.RelationRelatedTo); ok {
		t.Error("orthogonal embedding should not emit related_to")
	}
}

func TestInfer_ReferenceAndCausal(t *testing.T) {
	inf := New(inferenceCfg, nil)

	commit := testEvent("abc1234def", models.EventTypeCommit, "cleanup, see #42")
	commit.Author = "bob"
	issue := testEvent("issue-42", models.EventTypeIssue, "crash on login")
	issue.Timestamp = baseTime.Add(-2 * 24 * time.Hour)
	issue.Metadata = models.Metadata{models.MetaIssueNumber: 42}

	rels := inf.Infer(context.Background(), commit, []*models.IntegrationEvent{issue})

	ref, ok := findRelation(rels, "issue-42", models.RelationReferenced)
	if !ok {
		t.Fatalf("expected referenced edge, got %v", rels)
	}
	if math.Abs(ref.Confidence-0.75) > 1e-9 {
		t.Errorf("referenced confidence = %v, want 0.75", ref.Confidence)
	}

	// causal rule: 0.5 base + 0.3 explicit reference = 0.8, no resolution verb
	causal, ok := findRelation(rels, "issue-42", models.RelationResolved)
	if !ok {
		t.Fatalf("expected resolved edge from causal rule, got %v", rels)
	}
	if math.Abs(causal.Confidence-0.8) > 1e-9 {
		t.Errorf("causal confidence = %v, want 0.8", causal.Confidence)
	}
}

func TestInfer_ResolutionVerbUpgradesReference(t *testing.T) {
	inf := New(inferenceCfg, nil)

	commit := testEvent("deadbeef1", models.EventTypeCommit, "fixes #7: null check in session handler")
	commit.Author = "bob"
	issue := testEvent("issue-7", models.EventTypeIssue, "session NPE")
	issue.Timestamp = baseTime.Add(-24 * time.Hour)
	issue.Metadata = models.Metadata{models.MetaIssueNumber: 7}

	rels := inf.Infer(context.Background(), commit, []*models.IntegrationEvent{issue})

	// reference upgrades to resolved at 0.85; causal reaches 1.0 for the same
	// triple; the dedup rule keeps the higher one
	r, ok := findRelation(rels, "issue-7", models.RelationResolved)
	if !ok {
		t.Fatalf("expected resolved edge, got %v", rels)
	}
	if math.Abs(r.Confidence-1.0) > 1e-9 {
		t.Errorf("resolved confidence = %v, want 1.0 (max across emitters)", r.Confidence)
	}
	if _, ok := findRelation(rels, "issue-7", models.RelationReferenced); ok {
		t.Error("referenced edge should not coexist once upgraded to resolved")
	}
}

func TestInfer_ComponentOverlap(t *testing.T) {
	inf := New(inferenceCfg, nil)

	event := testEvent("ev-1", models.EventTypeCommit, "refactor auth")
	event.Metadata = models.Metadata{models.MetaFiles: []string{"src/auth/login.go", "src/auth/token.go"}}
	strong := testEvent("ev-2", models.EventTypeCommit, "auth fixes")
	strong.Author = "bob"
	strong.Metadata = models.Metadata{models.MetaFiles: []string{"src/auth/session.go"}}
	weak := testEvent("ev-3", models.EventTypeIssue, "misc")
	weak.Author = "carol"
	weak.Component = "src/auth"
	weak.Metadata = models.Metadata{models.MetaComponents: []string{"billing", "payments", "apis"}}

	rels := inf.Infer(context.Background(), event, []*models.IntegrationEvent{strong, weak})

	r, ok := findRelation(rels, "ev-2", models.RelationSameComponent)
	if !ok {
		t.Fatalf("expected same_component edge, got %v", rels)
	}
	// both sets are {src/auth}: 0.6 + 0.3·1/1
	if math.Abs(r.Confidence-0.9) > 1e-9 {
		t.Errorf("same_component confidence = %v, want 0.9", r.Confidence)
	}

	// one shared component out of four: 0.6 + 0.3·1/4 = 0.675, below threshold
	if _, ok := findRelation(rels, "ev-3", models.RelationSameComponent); ok {
		t.Error("sub-threshold component overlap should be filtered")
	}
}

func TestInfer_SameAuthor(t *testing.T) {
	inf := New(inferenceCfg, nil)

	event := testEvent("ev-1", models.EventTypeCommit, "wip")
	close := testEvent("ev-2", models.EventTypeMessage, "pushed a fix")
	close.Author = "Alice"
	close.Timestamp = baseTime.Add(-30 * time.Minute)
	distant := testEvent("ev-3", models.EventTypeMessage, "older note")
	distant.Timestamp = baseTime.Add(-48 * time.Hour)

	rels := inf.Infer(context.Background(), event, []*models.IntegrationEvent{close, distant})

	r, ok := findRelation(rels, "ev-2", models.RelationSameAuthor)
	if !ok {
		t.Fatalf("expected same_author edge, got %v", rels)
	}
	if math.Abs(r.Confidence-0.95) > 1e-9 {
		t.Errorf("confidence = %v, want 0.95 within one hour", r.Confidence)
	}

	r, ok = findRelation(rels, "ev-3", models.RelationSameAuthor)
	if !ok {
		t.Fatalf("expected same_author edge to distant event, got %v", rels)
	}
	if math.Abs(r.Confidence-0.8) > 1e-9 {
		t.Errorf("confidence = %v, want 0.8 beyond one hour", r.Confidence)
	}
}

type fixedCompleter struct{ reply string }

func (f fixedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return f.reply, nil
}

func TestInfer_CausalLLMBlend(t *testing.T) {
	inf := New(inferenceCfg, fixedCompleter{reply: "0.9"})

	commit := testEvent("cafe01234", models.EventTypeCommit, "tune retry policy")
	commit.Author = "bob"
	issue := testEvent("issue-9", models.EventTypeIssue, "intermittent timeouts")
	issue.Timestamp = baseTime.Add(-24 * time.Hour)

	rels := inf.Infer(context.Background(), commit, []*models.IntegrationEvent{issue})

	// rule score 0.5 (no reference, no verb); blend 0.4·0.5 + 0.6·0.9 = 0.74
	r, ok := findRelation(rels, "issue-9", models.RelationResolved)
	if !ok {
		t.Fatalf("expected llm-blended resolved edge, got %v", rels)
	}
	if math.Abs(r.Confidence-0.74) > 1e-9 {
		t.Errorf("blended confidence = %v, want 0.74", r.Confidence)
	}
}

func TestInfer_CausalWithoutLLMStaysSilent(t *testing.T) {
	inf := New(inferenceCfg, nil)

	commit := testEvent("cafe01234", models.EventTypeCommit, "tune retry policy")
	commit.Author = "bob"
	issue := testEvent("issue-9", models.EventTypeIssue, "intermittent timeouts")
	issue.Timestamp = baseTime.Add(-24 * time.Hour)

	rels := inf.Infer(context.Background(), commit, []*models.IntegrationEvent{issue})
	if _, ok := findRelation(rels, "issue-9", models.RelationResolved); ok {
		t.Error("uncertain causal candidate should be dropped when no LLM is configured")
	}
}

func TestInfer_DeploymentCausesShippedCommit(t *testing.T) {
	inf := New(inferenceCfg, nil)

	deploy := testEvent("deploy-1", models.EventTypeDeployment, "release 2.3.0")
	deploy.Metadata = models.Metadata{models.MetaCommitHashes: []string{"abc1234def5678", "0011223344aabb"}}
	shipped := testEvent("commit-a", models.EventTypeCommit, "feature work")
	shipped.Author = "bob"
	shipped.Timestamp = baseTime.Add(-2 * time.Hour)
	shipped.Metadata = models.Metadata{models.MetaCommitHash: "abc1234def5678"}
	unshipped := testEvent("commit-b", models.EventTypeCommit, "other work")
	unshipped.Author = "carol"
	unshipped.Timestamp = baseTime.Add(-2 * time.Hour)
	unshipped.Metadata = models.Metadata{models.MetaCommitHash: "ffff000011112222"}

	rels := inf.Infer(context.Background(), deploy, []*models.IntegrationEvent{shipped, unshipped})

	r, ok := findRelation(rels, "commit-a", models.RelationCaused)
	if !ok {
		t.Fatalf("expected caused edge to shipped commit, got %v", rels)
	}
	if math.Abs(r.Confidence-0.95) > 1e-9 {
		t.Errorf("caused confidence = %v, want 0.95", r.Confidence)
	}
	if _, ok := findRelation(rels, "commit-b", models.RelationCaused); ok {
		t.Error("commit outside the deployment should not be caused")
	}
}

func TestInfer_SkipsSelfAndCrossProject(t *testing.T) {
	inf := New(inferenceCfg, nil)

	event := testEvent("ev-1", models.EventTypeIssue, "add #99 support")
	self := testEvent("ev-1", models.EventTypeIssue, "add #99 support")
	foreign := testEvent("ev-2", models.EventTypeIssue, "other tenant")
	foreign.ProjectID = "p2"
	foreign.Metadata = models.Metadata{models.MetaIssueNumber: 99}

	rels := inf.Infer(context.Background(), event, []*models.IntegrationEvent{self, foreign})
	if len(rels) != 0 {
		t.Errorf("expected no relations, got %v", rels)
	}
}

func TestExtractRefs(t *testing.T) {
	refs := extractRefs("Fixes #12 and PROJ-345, introduced by deadbeefcafe.")
	for _, want := range []string{"#12", "PROJ-345", "deadbeefcafe"} {
		if !refs[want] {
			t.Errorf("missing ref %q in %v", want, refs)
		}
	}
	if len(refs) != 3 {
		t.Errorf("refs = %v, want exactly 3", refs)
	}
}

func TestHasResolutionVerb(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"fixes the crash", true},
		{"Resolved by restart", true},
		{"closing stale issues", true},
		{"this addresses the race", true},
		{"prefix is not a fixture word", false},
		{"refactor only", false},
	}
	for _, tt := range tests {
		if got := hasResolutionVerb(tt.text); got != tt.want {
			t.Errorf("hasResolutionVerb(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
