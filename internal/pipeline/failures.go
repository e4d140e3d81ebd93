package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devlens/devlens/internal/models"
)

// FailedEvent records an event whose durable write could not be completed
// after retries, preserving the original payload for operator inspection.
type FailedEvent struct {
	ProjectID string                  `json:"project_id"`
	EventID   string                  `json:"event_id"`
	Event     models.IntegrationEvent `json:"event"`
	Reason    string                  `json:"reason"`
	FailedAt  time.Time               `json:"failed_at"`
}

// FailureLog persists failed events.
type FailureLog interface {
	Record(ctx context.Context, f FailedEvent) error
	List(ctx context.Context, projectID string, limit int) ([]FailedEvent, error)
}

const failedEventsSchema = `
CREATE TABLE IF NOT EXISTS failed_events (
	id         BIGSERIAL PRIMARY KEY,
	project_id TEXT NOT NULL,
	event_id   TEXT NOT NULL,
	payload    JSONB NOT NULL,
	reason     TEXT NOT NULL,
	failed_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_failed_events_project
	ON failed_events (project_id, failed_at DESC);
`

// PostgresFailureLog stores failed events in a failed_events table.
type PostgresFailureLog struct {
	pool *pgxpool.Pool
}

// NewPostgresFailureLog ensures the schema exists.
func NewPostgresFailureLog(ctx context.Context, pool *pgxpool.Pool) (*PostgresFailureLog, error) {
	if _, err := pool.Exec(ctx, failedEventsSchema); err != nil {
		return nil, fmt.Errorf("failed to create failed_events schema: %w", err)
	}
	return &PostgresFailureLog{pool: pool}, nil
}

func (l *PostgresFailureLog) Record(ctx context.Context, f FailedEvent) error {
	payload, err := json.Marshal(f.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal failed event %s: %w", f.EventID, err)
	}
	query := `INSERT INTO failed_events (project_id, event_id, payload, reason, failed_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := l.pool.Exec(ctx, query, f.ProjectID, f.EventID, payload, f.Reason, f.FailedAt); err != nil {
		return fmt.Errorf("failed to record failed event %s: %w", f.EventID, err)
	}
	return nil
}

func (l *PostgresFailureLog) List(ctx context.Context, projectID string, limit int) ([]FailedEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT project_id, event_id, payload, reason, failed_at FROM failed_events
		WHERE project_id = $1
		ORDER BY failed_at DESC
		LIMIT $2`
	rows, err := l.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed events: %w", err)
	}
	defer rows.Close()

	var out []FailedEvent
	for rows.Next() {
		var f FailedEvent
		var payload []byte
		if err := rows.Scan(&f.ProjectID, &f.EventID, &payload, &f.Reason, &f.FailedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &f.Event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failed event %s: %w", f.EventID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// MemoryFailureLog is the in-process FailureLog used by tests.
type MemoryFailureLog struct {
	mu     sync.Mutex
	failed []FailedEvent
}

func NewMemoryFailureLog() *MemoryFailureLog {
	return &MemoryFailureLog{}
}

func (l *MemoryFailureLog) Record(ctx context.Context, f FailedEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, f)
	return nil
}

func (l *MemoryFailureLog) List(ctx context.Context, projectID string, limit int) ([]FailedEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []FailedEvent
	for i := len(l.failed) - 1; i >= 0 && len(out) < limit; i-- {
		if l.failed[i].ProjectID == projectID {
			out = append(out, l.failed[i])
		}
	}
	return out, nil
}
