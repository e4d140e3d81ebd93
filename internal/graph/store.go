// Package graph persists the typed knowledge graph of events and inferred
// relationships. Entities here are projections of timeline entries and are
// rebuildable; relationships are the durable product of inference.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/devlens/devlens/internal/models"
)

var (
	// ErrMissingEndpoint is returned when a relationship references an
	// entity that does not exist in the store.
	ErrMissingEndpoint = errors.New("relationship endpoint does not exist")

	// ErrCrossProject is returned when a relationship's endpoints live in
	// different projects. Cross-project edges are rejected at insertion.
	ErrCrossProject = errors.New("relationship endpoints span projects")

	// ErrNotFound is returned for lookups of unknown entities.
	ErrNotFound = errors.New("entity not found")
)

// Entity is a node in the knowledge graph, scoped by project
type Entity struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id"`
	Type       string         `json:"type"` // "event", "user", "component", ...
	Properties map[string]any `json:"properties,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
}

// Relationship is a directed, typed edge between two entities
type Relationship struct {
	SourceID   string              `json:"source_id"`
	TargetID   string              `json:"target_id"`
	ProjectID  string              `json:"project_id"`
	Type       models.RelationType `json:"type"`
	Confidence float64             `json:"confidence"`
	Metadata   models.Metadata     `json:"metadata,omitempty"`
}

// key identifies the (src, dst, type) triple for the dedup rule
func (r *Relationship) key() string {
	return fmt.Sprintf("%s→%s:%s", r.SourceID, r.TargetID, r.Type)
}

// Related is a traversal result: an entity reached within maxDepth hops,
// with the aggregate strength of the path that reached it.
type Related struct {
	Entity       Entity  `json:"entity"`
	PathLength   int     `json:"path_length"`
	PathStrength float64 `json:"path_strength"` // mean of edge confidences along the path
}

// VectorMatch scores an entity against a query vector
type VectorMatch struct {
	Entity Entity  `json:"entity"`
	Score  float64 `json:"score"`
}

// Store is the typed property-graph capability set. Implementations must be
// internally thread-safe; all operations are project-scoped.
type Store interface {
	UpsertEntity(ctx context.Context, e Entity) error
	UpsertEntities(ctx context.Context, es []Entity) error

	// AddRelationship rejects dangling or cross-project edges; duplicate
	// (src,dst,type) triples keep the highest-confidence copy.
	AddRelationship(ctx context.Context, r Relationship) error
	AddRelationships(ctx context.Context, rs []Relationship) error

	GetEntity(ctx context.Context, projectID, id string) (Entity, error)

	// GetRelationships returns edges touching the entity, optionally
	// filtered by type. Both inbound and outbound edges are returned.
	GetRelationships(ctx context.Context, projectID, entityID string, types ...models.RelationType) ([]Relationship, error)

	// FindRelated walks the graph breadth-first from entityID up to
	// maxDepth hops, following only edges of the given types (all types if
	// empty), and keeps results whose path strength is ≥ minStrength.
	FindRelated(ctx context.Context, projectID, entityID string, types []models.RelationType, maxDepth int, minStrength float64) ([]Related, error)

	// SearchByVector scores stored entity embeddings against vec with the
	// cosine contract and returns the topK matches.
	SearchByVector(ctx context.Context, projectID string, vec []float32, topK int) ([]VectorMatch, error)

	// DeleteEntity removes an entity and every edge touching it.
	DeleteEntity(ctx context.Context, projectID, id string) error

	// DeleteProject removes relationships first, then entities, so no
	// dangling edge survives an interrupted delete.
	DeleteProject(ctx context.Context, projectID string) error

	Close(ctx context.Context) error
}
