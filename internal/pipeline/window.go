package pipeline

import (
	"sync"
	"time"

	"github.com/devlens/devlens/internal/models"
)

// Windows caches the most recent events per project for relationship
// inference. Each project keeps a bounded ring; the oldest entry is evicted
// on overflow. Reads additionally apply the clock window so stale cache
// content never reaches the inferencer.
type Windows struct {
	mu     sync.Mutex
	size   int
	maxAge time.Duration
	// project → events, oldest first
	perProject map[string][]*models.IntegrationEvent
}

// NewWindows creates a window cache holding up to size events per project,
// no older than maxAge at read time.
func NewWindows(size int, maxAge time.Duration) *Windows {
	if size <= 0 {
		size = 10
	}
	return &Windows{
		size:       size,
		maxAge:     maxAge,
		perProject: make(map[string][]*models.IntegrationEvent),
	}
}

// Add records an event in its project's ring, evicting the oldest entry when
// the ring is full. An event already present by id is replaced in place.
func (w *Windows) Add(event *models.IntegrationEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ring := w.perProject[event.ProjectID]
	for i, existing := range ring {
		if existing.ID == event.ID {
			ring[i] = event
			return
		}
	}
	ring = append(ring, event)
	if len(ring) > w.size {
		ring = ring[len(ring)-w.size:]
	}
	w.perProject[event.ProjectID] = ring
}

// Recent returns the project's cached events that are still inside the clock
// window, oldest first.
func (w *Windows) Recent(projectID string, now time.Time) []*models.IntegrationEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*models.IntegrationEvent
	for _, event := range w.perProject[projectID] {
		if w.maxAge > 0 && now.Sub(event.Timestamp) > w.maxAge {
			continue
		}
		out = append(out, event)
	}
	return out
}
