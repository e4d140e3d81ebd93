package inference

import (
	"context"
	"testing"
	"time"

	"github.com/devlens/devlens/internal/graph"
	"github.com/devlens/devlens/internal/models"
)

func seedEntity(t *testing.T, gs *graph.Memory, id, eventType string, ts time.Time) {
	t.Helper()
	err := gs.UpsertEntity(context.Background(), graph.Entity{
		ID:        id,
		ProjectID: "p1",
		Type:      "event",
		Properties: map[string]any{
			"event_type": eventType,
			"timestamp":  ts.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		t.Fatalf("seed entity %s: %v", id, err)
	}
}

func seedEdge(t *testing.T, gs *graph.Memory, src, dst string, relType models.RelationType, confidence float64) {
	t.Helper()
	err := gs.AddRelationship(context.Background(), graph.Relationship{
		SourceID:   src,
		TargetID:   dst,
		ProjectID:  "p1",
		Type:       relType,
		Confidence: confidence,
	})
	if err != nil {
		t.Fatalf("seed edge %s->%s: %v", src, dst, err)
	}
}

func TestLifecycle_Open(t *testing.T) {
	gs := graph.NewMemory()
	seedEntity(t, gs, "issue-1", "issue", baseTime)

	view, err := Lifecycle(context.Background(), gs, "p1", "issue-1")
	if err != nil {
		t.Fatalf("Lifecycle: %v", err)
	}
	if view.State != BugOpen {
		t.Errorf("state = %q, want open", view.State)
	}
	if len(view.Fixes) != 0 {
		t.Errorf("fixes = %v, want none", view.Fixes)
	}
}

func TestLifecycle_Resolved(t *testing.T) {
	gs := graph.NewMemory()
	seedEntity(t, gs, "issue-1", "issue", baseTime)
	seedEntity(t, gs, "commit-1", "commit", baseTime.Add(24*time.Hour))
	seedEdge(t, gs, "commit-1", "issue-1", models.RelationResolved, 0.95)

	view, err := Lifecycle(context.Background(), gs, "p1", "issue-1")
	if err != nil {
		t.Fatalf("Lifecycle: %v", err)
	}
	if view.State != BugResolved {
		t.Errorf("state = %q, want resolved", view.State)
	}
	if len(view.Fixes) != 1 || view.Fixes[0] != "commit-1" {
		t.Errorf("fixes = %v, want [commit-1]", view.Fixes)
	}
	if len(view.CausedBugs) != 0 {
		t.Errorf("caused_bugs = %v, want none", view.CausedBugs)
	}
}

func TestLifecycle_Regression(t *testing.T) {
	gs := graph.NewMemory()
	fixTime := baseTime.Add(24 * time.Hour)
	seedEntity(t, gs, "issue-1", "issue", baseTime)
	seedEntity(t, gs, "commit-1", "commit", fixTime)
	seedEntity(t, gs, "issue-2", "issue", fixTime.Add(10*24*time.Hour))
	seedEdge(t, gs, "commit-1", "issue-1", models.RelationResolved, 0.95)
	seedEdge(t, gs, "issue-2", "commit-1", models.RelationReferenced, 0.8)

	view, err := Lifecycle(context.Background(), gs, "p1", "issue-1")
	if err != nil {
		t.Fatalf("Lifecycle: %v", err)
	}
	if view.State != BugRegression {
		t.Errorf("state = %q, want regression", view.State)
	}
	if len(view.CausedBugs) != 1 || view.CausedBugs[0] != "issue-2" {
		t.Errorf("caused_bugs = %v, want [issue-2]", view.CausedBugs)
	}
}

func TestLifecycle_LateReferenceIsNotRegression(t *testing.T) {
	gs := graph.NewMemory()
	fixTime := baseTime.Add(24 * time.Hour)
	seedEntity(t, gs, "issue-1", "issue", baseTime)
	seedEntity(t, gs, "commit-1", "commit", fixTime)
	seedEntity(t, gs, "issue-2", "issue", fixTime.Add(60*24*time.Hour))
	seedEdge(t, gs, "commit-1", "issue-1", models.RelationResolved, 0.95)
	seedEdge(t, gs, "issue-2", "commit-1", models.RelationReferenced, 0.8)

	view, err := Lifecycle(context.Background(), gs, "p1", "issue-1")
	if err != nil {
		t.Fatalf("Lifecycle: %v", err)
	}
	if view.State != BugResolved {
		t.Errorf("state = %q, want resolved (reference beyond window)", view.State)
	}
	if len(view.CausedBugs) != 1 {
		t.Errorf("caused_bugs = %v, want the late issue listed", view.CausedBugs)
	}
}
