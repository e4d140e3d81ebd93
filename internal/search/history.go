package search

import (
	"sync"
	"time"
)

// historySize bounds the per-project search ring.
const historySize = 100

// HistoryEntry records one executed search for future learning.
type HistoryEntry struct {
	SearchID    string    `json:"search_id"`
	Query       string    `json:"query"`
	Type        string    `json:"type"`
	ResultCount int       `json:"result_count"`
	At          time.Time `json:"at"`
}

// history is a bounded per-project ring of executed searches.
type history struct {
	mu         sync.Mutex
	perProject map[string][]HistoryEntry
}

func newHistory() *history {
	return &history{perProject: make(map[string][]HistoryEntry)}
}

func (h *history) record(projectID string, entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ring := append(h.perProject[projectID], entry)
	if len(ring) > historySize {
		ring = ring[len(ring)-historySize:]
	}
	h.perProject[projectID] = ring
}

func (h *history) recent(projectID string, limit int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	ring := h.perProject[projectID]
	if limit <= 0 || limit > len(ring) {
		limit = len(ring)
	}
	out := make([]HistoryEntry, limit)
	copy(out, ring[len(ring)-limit:])
	return out
}
