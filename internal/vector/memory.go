package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Index used by tests and embedded deployments.
// It honors the same contract as the persistent backend.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemory creates an empty in-memory index
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

// Upsert inserts or overwrites documents, assigning ids when absent.
// Rows must carry project_id metadata, same as the persistent backend.
func (m *Memory) Upsert(ctx context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.New().String()
		}
		if doc.Metadata == nil {
			doc.Metadata = map[string]string{}
		}
		if doc.Metadata["project_id"] == "" {
			return fmt.Errorf("document %s: %w", doc.ID, ErrProjectRequired)
		}
		m.docs[doc.ID] = doc
	}
	return nil
}

// Query returns up to topK matches sorted by cosine score desc, id asc
func (m *Memory) Query(ctx context.Context, vec []float32, topK int, filter map[string]string) ([]Match, error) {
	if filter["project_id"] == "" {
		return nil, ErrProjectRequired
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Match
	for _, doc := range m.docs {
		if !matchesFilter(doc.Metadata, filter) {
			continue
		}
		matches = append(matches, Match{
			ID:       doc.ID,
			Score:    Cosine(vec, doc.Vector),
			Metadata: doc.Metadata,
		})
	}
	return rank(matches, topK), nil
}

// Delete removes the given ids; unknown ids are ignored
func (m *Memory) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.docs, id)
	}
	return nil
}

// DeleteProject removes every row scoped to the project
func (m *Memory) DeleteProject(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, doc := range m.docs {
		if doc.Metadata["project_id"] == projectID {
			delete(m.docs, id)
		}
	}
	return nil
}

// Close is a no-op for the in-memory index
func (m *Memory) Close() error { return nil }

// Len reports the row count (used by tests)
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
