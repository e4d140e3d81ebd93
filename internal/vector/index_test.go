package vector

import (
	"context"
	"math"
	"path/filepath"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector scores zero, not NaN", []float32{0, 0}, []float32{1, 1}, 0.0},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 0.0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0.0},
		{"empty", nil, nil, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.IsNaN(got) {
				t.Fatal("cosine returned NaN")
			}
			if math.Abs(got-tt.expected) > 1e-6 {
				t.Errorf("Cosine = %v, want %v", got, tt.expected)
			}
		})
	}
}

// indexContract runs the shared Index contract against any implementation.
func indexContract(t *testing.T, idx Index) {
	t.Helper()
	ctx := context.Background()

	docs := []Document{
		{ID: "a", Vector: []float32{1, 0, 0}, Metadata: map[string]string{"project_id": "p1", "source": "github"}},
		{ID: "b", Vector: []float32{0.9, 0.1, 0}, Metadata: map[string]string{"project_id": "p1", "source": "jira"}},
		{ID: "c", Vector: []float32{0, 1, 0}, Metadata: map[string]string{"project_id": "p1", "source": "github"}},
		{ID: "d", Vector: []float32{1, 0, 0}, Metadata: map[string]string{"project_id": "p2", "source": "github"}},
	}
	if err := idx.Upsert(ctx, docs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// rows without a project are rejected by every backend
	if err := idx.Upsert(ctx, []Document{{ID: "orphan", Vector: []float32{1}}}); err == nil {
		t.Error("upsert without project_id metadata should fail")
	}

	// project filter is mandatory
	if _, err := idx.Query(ctx, []float32{1, 0, 0}, 10, map[string]string{"source": "github"}); err == nil {
		t.Error("query without project_id should fail")
	}

	// top-k ordering: a (1.0) before b (~0.99), c near 0; d filtered out by project
	matches, err := idx.Query(ctx, []float32{1, 0, 0}, 2, map[string]string{"project_id": "p1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 || matches[0].ID != "a" || matches[1].ID != "b" {
		t.Errorf("unexpected ranking: %+v", matches)
	}

	// conjunctive metadata filter
	matches, err = idx.Query(ctx, []float32{1, 0, 0}, 10, map[string]string{"project_id": "p1", "source": "github"})
	if err != nil {
		t.Fatalf("Query filtered: %v", err)
	}
	for _, m := range matches {
		if m.Metadata["source"] != "github" {
			t.Errorf("filter leak: %+v", m)
		}
	}

	// ties break by id ascending
	if err := idx.Upsert(ctx, []Document{
		{ID: "z", Vector: []float32{1, 0, 0}, Metadata: map[string]string{"project_id": "p1"}},
	}); err != nil {
		t.Fatalf("Upsert tie: %v", err)
	}
	matches, err = idx.Query(ctx, []float32{1, 0, 0}, 2, map[string]string{"project_id": "p1"})
	if err != nil {
		t.Fatalf("Query ties: %v", err)
	}
	if matches[0].ID != "a" || matches[1].ID != "z" {
		t.Errorf("tie break should be by id asc: %+v", matches)
	}

	// overwrite on upsert
	if err := idx.Upsert(ctx, []Document{
		{ID: "a", Vector: []float32{0, 0, 1}, Metadata: map[string]string{"project_id": "p1"}},
	}); err != nil {
		t.Fatalf("Upsert overwrite: %v", err)
	}
	matches, _ = idx.Query(ctx, []float32{0, 0, 1}, 1, map[string]string{"project_id": "p1"})
	if len(matches) != 1 || matches[0].ID != "a" {
		t.Errorf("overwritten vector should win the new direction: %+v", matches)
	}

	// delete
	if err := idx.Delete(ctx, []string{"a", "z"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	matches, _ = idx.Query(ctx, []float32{1, 0, 0}, 10, map[string]string{"project_id": "p1"})
	for _, m := range matches {
		if m.ID == "a" || m.ID == "z" {
			t.Errorf("deleted id still present: %s", m.ID)
		}
	}

	// delete project removes everything scoped to it
	if err := idx.DeleteProject(ctx, "p2"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	matches, _ = idx.Query(ctx, []float32{1, 0, 0}, 10, map[string]string{"project_id": "p2"})
	if len(matches) != 0 {
		t.Errorf("project p2 should be empty, got %+v", matches)
	}
}

func TestMemoryIndex(t *testing.T) {
	indexContract(t, NewMemory())
}

func TestBoltIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.db")
	idx, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	defer idx.Close()

	indexContract(t, idx)
}

func TestBoltIndex_RequiresProjectOnUpsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.db")
	idx, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	defer idx.Close()

	err = idx.Upsert(context.Background(), []Document{{ID: "x", Vector: []float32{1}}})
	if err == nil {
		t.Error("upsert without project_id metadata should fail")
	}
}
