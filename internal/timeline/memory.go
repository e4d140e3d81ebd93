package timeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devlens/devlens/internal/models"
)

// MemoryRepo is an in-process Repo used by tests and embedded deployments.
type MemoryRepo struct {
	mu sync.RWMutex
	// project → entry id → entry
	entries map[string]map[string]*models.TimelineEntry
	// project → entry id → projection timestamp
	projected map[string]map[string]time.Time
}

// NewMemoryRepo creates an empty in-memory timeline repo
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		entries:   make(map[string]map[string]*models.TimelineEntry),
		projected: make(map[string]map[string]time.Time),
	}
}

func (m *MemoryRepo) Insert(ctx context.Context, entry *models.TimelineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[entry.ProjectID] == nil {
		m.entries[entry.ProjectID] = make(map[string]*models.TimelineEntry)
	}
	clone := *entry
	m.entries[entry.ProjectID][entry.EntryID] = &clone
	delete(m.projected[entry.ProjectID], entry.EntryID)
	return nil
}

func (m *MemoryRepo) Update(ctx context.Context, entry *models.TimelineEntry) error {
	return m.Insert(ctx, entry)
}

func (m *MemoryRepo) Get(ctx context.Context, projectID, entryID string) (*models.TimelineEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[projectID][entryID]
	if !ok {
		return nil, fmt.Errorf("entry %s/%s: %w", projectID, entryID, ErrEntryNotFound)
	}
	clone := *entry
	return &clone, nil
}

func (m *MemoryRepo) FindDuplicate(ctx context.Context, projectID, dataType, contentHash string, since time.Time) (*models.TimelineEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *models.TimelineEntry
	for _, entry := range m.entries[projectID] {
		if entry.DataType != dataType || entry.ContentHash != contentHash {
			continue
		}
		if entry.CreatedAt.Before(since) {
			continue
		}
		if best == nil || entry.Importance > best.Importance {
			best = entry
		}
	}
	if best == nil {
		return nil, false, nil
	}
	clone := *best
	return &clone, true, nil
}

func (m *MemoryRepo) List(ctx context.Context, q Query) ([]*models.TimelineEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.TimelineEntry
	for _, entry := range m.entries[q.ProjectID] {
		if entry.Importance < q.MinImportance {
			continue
		}
		if q.Category != "" && entry.Category != q.Category {
			continue
		}
		if !q.IncludeFrozen && entry.Tier == models.TierFrozen {
			continue
		}
		clone := *entry
		out = append(out, &clone)
	}
	sortEntries(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryRepo) Touch(ctx context.Context, projectID string, entryIDs []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range entryIDs {
		if entry, ok := m.entries[projectID][id]; ok {
			entry.LastAccessed = at
			entry.AccessCount++
		}
	}
	return nil
}

func (m *MemoryRepo) All(ctx context.Context, projectID string) ([]*models.TimelineEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.TimelineEntry
	for pid, bucket := range m.entries {
		if projectID != "" && pid != projectID {
			continue
		}
		for _, entry := range bucket {
			clone := *entry
			out = append(out, &clone)
		}
	}
	sortEntries(out)
	return out, nil
}

func (m *MemoryRepo) SetTier(ctx context.Context, projectID, entryID string, tier models.StorageTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[projectID][entryID]
	if !ok {
		return fmt.Errorf("entry %s/%s: %w", projectID, entryID, ErrEntryNotFound)
	}
	entry.Tier = tier
	return nil
}

func (m *MemoryRepo) Delete(ctx context.Context, projectID, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries[projectID], entryID)
	delete(m.projected[projectID], entryID)
	return nil
}

func (m *MemoryRepo) MarkProjected(ctx context.Context, projectID, entryID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.projected[projectID] == nil {
		m.projected[projectID] = make(map[string]time.Time)
	}
	m.projected[projectID][entryID] = at
	return nil
}

func (m *MemoryRepo) Unprojected(ctx context.Context, limit int) ([]*models.TimelineEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.TimelineEntry
	for pid, bucket := range m.entries {
		for id, entry := range bucket {
			if _, ok := m.projected[pid][id]; ok {
				continue
			}
			clone := *entry
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].EntryID < out[j].EntryID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepo) Close() {}

// sortEntries applies the retrieval ordering contract: importance desc,
// created_at desc, entry_id asc.
func sortEntries(entries []*models.TimelineEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Importance != entries[j].Importance {
			return entries[i].Importance > entries[j].Importance
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].EntryID < entries[j].EntryID
	})
}
