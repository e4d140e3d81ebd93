// Package vector implements the similarity index over event embeddings.
// Rows here are projections of timeline entries and are rebuildable; the
// timeline store remains the system of record.
package vector

import (
	"context"
	"errors"
	"math"
	"sort"
)

// ErrProjectRequired is returned when a query filter omits project_id.
// Cross-project reads are rejected at every store boundary.
var ErrProjectRequired = errors.New("vector query filter must include project_id")

// Document is one indexed row
type Document struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Metadata map[string]string `json:"metadata"`
}

// Match is a query result, scored by cosine similarity
type Match struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

// Index stores (id, vector, metadata) rows and answers top-k cosine queries
// with conjunctive exact-match metadata filters.
type Index interface {
	Upsert(ctx context.Context, docs []Document) error
	Query(ctx context.Context, vec []float32, topK int, filter map[string]string) ([]Match, error)
	Delete(ctx context.Context, ids []string) error
	DeleteProject(ctx context.Context, projectID string) error
	Close() error
}

// Cosine returns dot(a,b)/(‖a‖·‖b‖ + 1e-9). The epsilon keeps a degenerate
// zero vector at score 0 instead of NaN. Mismatched lengths score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(normA)*math.Sqrt(normB) + 1e-9)
}

// matchesFilter checks every filter predicate against the row metadata
func matchesFilter(meta map[string]string, filter map[string]string) bool {
	for k, want := range filter {
		if meta[k] != want {
			return false
		}
	}
	return true
}

// rank sorts matches by score desc then id asc (stable contract) and trims
// to topK.
func rank(matches []Match, topK int) []Match {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}
