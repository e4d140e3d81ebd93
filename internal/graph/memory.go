package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/devlens/devlens/internal/models"
	"github.com/devlens/devlens/internal/vector"
)

// Memory is an in-process Store used by tests and embedded deployments.
type Memory struct {
	mu sync.RWMutex
	// project → entity id → entity
	entities map[string]map[string]Entity
	// project → (src,dst,type) key → relationship
	relations map[string]map[string]Relationship
}

// NewMemory creates an empty in-memory graph store
func NewMemory() *Memory {
	return &Memory{
		entities:  make(map[string]map[string]Entity),
		relations: make(map[string]map[string]Relationship),
	}
}

// UpsertEntity merges by (project_id, id); properties replace prior values
func (m *Memory) UpsertEntity(ctx context.Context, e Entity) error {
	return m.UpsertEntities(ctx, []Entity{e})
}

// UpsertEntities merges a batch
func (m *Memory) UpsertEntities(ctx context.Context, es []Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range es {
		if e.ProjectID == "" {
			return models.ErrMissingProject
		}
		if e.ID == "" {
			return fmt.Errorf("entity id is required")
		}
		if m.entities[e.ProjectID] == nil {
			m.entities[e.ProjectID] = make(map[string]Entity)
		}
		m.entities[e.ProjectID][e.ID] = e
	}
	return nil
}

// AddRelationship validates endpoints and applies the max-confidence rule
func (m *Memory) AddRelationship(ctx context.Context, r Relationship) error {
	return m.AddRelationships(ctx, []Relationship{r})
}

// AddRelationships adds a batch; the first invalid edge aborts the batch
func (m *Memory) AddRelationships(ctx context.Context, rs []Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rs {
		if err := m.validateLocked(r); err != nil {
			return err
		}
	}
	for _, r := range rs {
		bucket := m.relations[r.ProjectID]
		if bucket == nil {
			bucket = make(map[string]Relationship)
			m.relations[r.ProjectID] = bucket
		}
		existing, exists := bucket[r.key()]
		if exists && existing.Confidence >= r.Confidence {
			continue
		}
		bucket[r.key()] = r
	}
	return nil
}

// validateLocked checks that both endpoints exist within r.ProjectID.
// An endpoint found in a different project is a cross-project edge.
func (m *Memory) validateLocked(r Relationship) error {
	if r.ProjectID == "" {
		return models.ErrMissingProject
	}
	project := m.entities[r.ProjectID]
	_, srcOK := project[r.SourceID]
	_, dstOK := project[r.TargetID]
	if srcOK && dstOK {
		return nil
	}
	for projectID, bucket := range m.entities {
		if projectID == r.ProjectID {
			continue
		}
		_, srcElsewhere := bucket[r.SourceID]
		_, dstElsewhere := bucket[r.TargetID]
		if (!srcOK && srcElsewhere) || (!dstOK && dstElsewhere) {
			return fmt.Errorf("%s→%s: %w", r.SourceID, r.TargetID, ErrCrossProject)
		}
	}
	return fmt.Errorf("%s→%s: %w", r.SourceID, r.TargetID, ErrMissingEndpoint)
}

// GetEntity looks up one entity
func (m *Memory) GetEntity(ctx context.Context, projectID, id string) (Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[projectID][id]
	if !ok {
		return Entity{}, fmt.Errorf("%s/%s: %w", projectID, id, ErrNotFound)
	}
	return e, nil
}

// GetRelationships returns edges touching entityID, inbound and outbound
func (m *Memory) GetRelationships(ctx context.Context, projectID, entityID string, types ...models.RelationType) ([]Relationship, error) {
	typeSet := make(map[models.RelationType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Relationship
	for _, r := range m.relations[projectID] {
		if r.SourceID != entityID && r.TargetID != entityID {
			continue
		}
		if len(typeSet) > 0 && !typeSet[r.Type] {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].key() < out[j].key()
	})
	return out, nil
}

// FindRelated walks breadth-first with a visited set — relationships may form
// cycles and traversal must never recurse unbounded.
func (m *Memory) FindRelated(ctx context.Context, projectID, entityID string, types []models.RelationType, maxDepth int, minStrength float64) ([]Related, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	typeSet := make(map[models.RelationType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.entities[projectID][entityID]; !ok {
		return nil, fmt.Errorf("%s/%s: %w", projectID, entityID, ErrNotFound)
	}

	type frontier struct {
		id       string
		depth    int
		strength float64 // sum of edge confidences along the path
	}

	visited := map[string]bool{entityID: true}
	queue := []frontier{{id: entityID}}
	var results []Related

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxDepth {
			continue
		}

		for _, r := range m.relations[projectID] {
			if len(typeSet) > 0 && !typeSet[r.Type] {
				continue
			}
			var next string
			switch current.id {
			case r.SourceID:
				next = r.TargetID
			case r.TargetID:
				next = r.SourceID
			default:
				continue
			}
			if visited[next] {
				continue
			}
			visited[next] = true

			depth := current.depth + 1
			strengthSum := current.strength + r.Confidence
			pathStrength := strengthSum / float64(depth)

			queue = append(queue, frontier{id: next, depth: depth, strength: strengthSum})
			if pathStrength < minStrength {
				continue
			}
			if entity, ok := m.entities[projectID][next]; ok {
				results = append(results, Related{
					Entity:       entity,
					PathLength:   depth,
					PathStrength: pathStrength,
				})
			}
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].PathStrength != results[j].PathStrength {
			return results[i].PathStrength > results[j].PathStrength
		}
		return results[i].Entity.ID < results[j].Entity.ID
	})
	return results, nil
}

// SearchByVector scores entity embeddings with the same cosine contract the
// vector index uses
func (m *Memory) SearchByVector(ctx context.Context, projectID string, vec []float32, topK int) ([]VectorMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []VectorMatch
	for _, e := range m.entities[projectID] {
		if len(e.Embedding) == 0 {
			continue
		}
		matches = append(matches, VectorMatch{Entity: e, Score: vector.Cosine(vec, e.Embedding)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entity.ID < matches[j].Entity.ID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteEntity removes the entity and every edge touching it
func (m *Memory) DeleteEntity(ctx context.Context, projectID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, r := range m.relations[projectID] {
		if r.SourceID == id || r.TargetID == id {
			delete(m.relations[projectID], key)
		}
	}
	delete(m.entities[projectID], id)
	return nil
}

// DeleteProject removes relationships first, then entities
func (m *Memory) DeleteProject(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.relations, projectID)
	delete(m.entities, projectID)
	return nil
}

// Close is a no-op for the in-memory store
func (m *Memory) Close(ctx context.Context) error { return nil }
