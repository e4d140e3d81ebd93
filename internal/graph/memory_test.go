package graph

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/devlens/devlens/internal/models"
)

func seedEntities(t *testing.T, m *Memory, projectID string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := m.UpsertEntity(context.Background(), Entity{ID: id, ProjectID: projectID, Type: "event"}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}

func TestMemory_RelationshipEndpointValidation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedEntities(t, m, "p1", "a", "b")
	seedEntities(t, m, "p2", "c")

	tests := []struct {
		name    string
		rel     Relationship
		wantErr error
	}{
		{
			"valid edge",
			Relationship{SourceID: "a", TargetID: "b", ProjectID: "p1", Type: models.RelationRelatedTo, Confidence: 0.8},
			nil,
		},
		{
			"dangling target",
			Relationship{SourceID: "a", TargetID: "ghost", ProjectID: "p1", Type: models.RelationRelatedTo, Confidence: 0.8},
			ErrMissingEndpoint,
		},
		{
			"cross project edge",
			Relationship{SourceID: "a", TargetID: "c", ProjectID: "p1", Type: models.RelationRelatedTo, Confidence: 0.8},
			ErrCrossProject,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.AddRelationship(ctx, tt.rel)
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemory_DuplicateTripleKeepsHighestConfidence(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedEntities(t, m, "p1", "a", "b")

	base := Relationship{SourceID: "a", TargetID: "b", ProjectID: "p1", Type: models.RelationResolved}
	for _, confidence := range []float64{0.7, 0.9, 0.75} {
		r := base
		r.Confidence = confidence
		if err := m.AddRelationship(ctx, r); err != nil {
			t.Fatalf("add confidence %.2f: %v", confidence, err)
		}
	}

	rels, err := m.GetRelationships(ctx, "p1", "a", models.RelationResolved)
	if err != nil {
		t.Fatalf("GetRelationships: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("expected one relationship, got %d", len(rels))
	}
	if rels[0].Confidence != 0.9 {
		t.Errorf("confidence = %.2f, want 0.9 (the maximum)", rels[0].Confidence)
	}
}

func TestMemory_GetRelationships_TypeFilterAndDirection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedEntities(t, m, "p1", "a", "b", "c")

	rels := []Relationship{
		{SourceID: "a", TargetID: "b", ProjectID: "p1", Type: models.RelationResolved, Confidence: 0.9},
		{SourceID: "c", TargetID: "a", ProjectID: "p1", Type: models.RelationCaused, Confidence: 0.8},
		{SourceID: "b", TargetID: "c", ProjectID: "p1", Type: models.RelationRelatedTo, Confidence: 0.7},
	}
	if err := m.AddRelationships(ctx, rels); err != nil {
		t.Fatalf("AddRelationships: %v", err)
	}

	// both inbound and outbound edges of "a"
	got, _ := m.GetRelationships(ctx, "p1", "a")
	if len(got) != 2 {
		t.Errorf("edges touching a = %d, want 2", len(got))
	}

	// filtered by type
	got, _ = m.GetRelationships(ctx, "p1", "a", models.RelationCaused)
	if len(got) != 1 || got[0].SourceID != "c" {
		t.Errorf("caused filter: %+v", got)
	}
}

func TestMemory_FindRelated(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedEntities(t, m, "p1", "a", "b", "c", "d")

	// chain a -(0.9)- b -(0.7)- c, plus a cycle edge c -(0.8)- a
	rels := []Relationship{
		{SourceID: "a", TargetID: "b", ProjectID: "p1", Type: models.RelationRelatedTo, Confidence: 0.9},
		{SourceID: "b", TargetID: "c", ProjectID: "p1", Type: models.RelationRelatedTo, Confidence: 0.7},
		{SourceID: "c", TargetID: "a", ProjectID: "p1", Type: models.RelationRelatedTo, Confidence: 0.8},
	}
	if err := m.AddRelationships(ctx, rels); err != nil {
		t.Fatalf("AddRelationships: %v", err)
	}

	results, err := m.FindRelated(ctx, "p1", "a", nil, 2, 0)
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	// b and c reachable; d is not
	if len(results) != 2 {
		t.Fatalf("related count = %d, want 2: %+v", len(results), results)
	}
	for _, r := range results {
		switch r.Entity.ID {
		case "b":
			if r.PathLength != 1 || math.Abs(r.PathStrength-0.9) > 1e-9 {
				t.Errorf("b: length=%d strength=%.2f", r.PathLength, r.PathStrength)
			}
		case "c":
			// cycle edge makes c one hop away with strength 0.8
			if r.PathLength != 1 || math.Abs(r.PathStrength-0.8) > 1e-9 {
				t.Errorf("c: length=%d strength=%.2f", r.PathLength, r.PathStrength)
			}
		default:
			t.Errorf("unexpected entity %s", r.Entity.ID)
		}
	}

	// minStrength filters weak paths
	results, _ = m.FindRelated(ctx, "p1", "a", nil, 2, 0.85)
	if len(results) != 1 || results[0].Entity.ID != "b" {
		t.Errorf("minStrength filter: %+v", results)
	}

	// unknown start entity
	if _, err := m.FindRelated(ctx, "p1", "ghost", nil, 2, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown start error = %v, want ErrNotFound", err)
	}
}

func TestMemory_FindRelated_CycleTerminates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedEntities(t, m, "p1", "a", "b")

	rels := []Relationship{
		{SourceID: "a", TargetID: "b", ProjectID: "p1", Type: models.RelationRelatedTo, Confidence: 0.9},
		{SourceID: "b", TargetID: "a", ProjectID: "p1", Type: models.RelationRelatedTo, Confidence: 0.9},
	}
	if err := m.AddRelationships(ctx, rels); err != nil {
		t.Fatalf("AddRelationships: %v", err)
	}

	// a 2-cycle with a generous depth bound must terminate
	results, err := m.FindRelated(ctx, "p1", "a", nil, 10, 0)
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("cycle traversal returned %d results, want 1", len(results))
	}
}

func TestMemory_SearchByVector(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	entities := []Entity{
		{ID: "x", ProjectID: "p1", Type: "event", Embedding: []float32{1, 0}},
		{ID: "y", ProjectID: "p1", Type: "event", Embedding: []float32{0, 1}},
		{ID: "noembed", ProjectID: "p1", Type: "event"},
		{ID: "other", ProjectID: "p2", Type: "event", Embedding: []float32{1, 0}},
	}
	if err := m.UpsertEntities(ctx, entities); err != nil {
		t.Fatalf("UpsertEntities: %v", err)
	}

	matches, err := m.SearchByVector(ctx, "p1", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("SearchByVector: %v", err)
	}
	if len(matches) != 2 || matches[0].Entity.ID != "x" {
		t.Errorf("matches: %+v", matches)
	}
}

func TestMemory_DeleteProject(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedEntities(t, m, "p1", "a", "b")
	seedEntities(t, m, "p2", "c", "d")

	if err := m.AddRelationship(ctx, Relationship{
		SourceID: "a", TargetID: "b", ProjectID: "p1", Type: models.RelationRelatedTo, Confidence: 0.9,
	}); err != nil {
		t.Fatalf("AddRelationship: %v", err)
	}

	if err := m.DeleteProject(ctx, "p1"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}

	if _, err := m.GetEntity(ctx, "p1", "a"); !errors.Is(err, ErrNotFound) {
		t.Error("p1 entities should be gone")
	}
	rels, _ := m.GetRelationships(ctx, "p1", "a")
	if len(rels) != 0 {
		t.Errorf("p1 relationships should be gone: %+v", rels)
	}
	// other projects untouched
	if _, err := m.GetEntity(ctx, "p2", "c"); err != nil {
		t.Errorf("p2 should survive: %v", err)
	}
}
