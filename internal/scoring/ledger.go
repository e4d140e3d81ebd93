package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FeedbackEntry is one recorded weight adjustment
type FeedbackEntry struct {
	EventID   string             `json:"event_id"`
	ProjectID string             `json:"project_id"`
	Predicted float64            `json:"predicted"`
	Actual    float64            `json:"actual"`
	Factor    string             `json:"factor"`
	Scale     float64            `json:"scale"`
	Version   int                `json:"version"`
	Weights   map[string]float64 `json:"weights"`
	CreatedAt time.Time          `json:"created_at"`
}

// Ledger persists weight adjustments. On multi-process deployments all
// processes append to (and restore from) the same ledger, so weights flow
// through the store of record instead of diverging.
type Ledger interface {
	Append(ctx context.Context, entry FeedbackEntry) error
	// Latest returns the most recent entry, or (zero, false) when empty.
	Latest(ctx context.Context) (FeedbackEntry, bool, error)
}

// PostgresLedger implements Ledger on the shared Postgres pool
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresLedger creates the ledger and its table if missing
func NewPostgresLedger(ctx context.Context, pool *pgxpool.Pool) (*PostgresLedger, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS scoring_feedback (
			id          BIGSERIAL PRIMARY KEY,
			event_id    TEXT NOT NULL,
			project_id  TEXT NOT NULL,
			predicted   DOUBLE PRECISION NOT NULL,
			actual      DOUBLE PRECISION NOT NULL,
			factor      TEXT NOT NULL,
			scale       DOUBLE PRECISION NOT NULL,
			version     INTEGER NOT NULL,
			weights     JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create scoring_feedback table: %w", err)
	}
	return &PostgresLedger{
		pool:   pool,
		logger: slog.Default().With("component", "scoring-ledger"),
	}, nil
}

// Append inserts one adjustment row
func (l *PostgresLedger) Append(ctx context.Context, entry FeedbackEntry) error {
	weights, err := json.Marshal(entry.Weights)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO scoring_feedback
			(event_id, project_id, predicted, actual, factor, scale, version, weights, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.EventID, entry.ProjectID, entry.Predicted, entry.Actual,
		entry.Factor, entry.Scale, entry.Version, weights, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append feedback entry: %w", err)
	}
	return nil
}

// Latest returns the highest-version entry for weight restoration on startup
func (l *PostgresLedger) Latest(ctx context.Context) (FeedbackEntry, bool, error) {
	var entry FeedbackEntry
	var weights []byte
	err := l.pool.QueryRow(ctx, `
		SELECT event_id, project_id, predicted, actual, factor, scale, version, weights, created_at
		FROM scoring_feedback
		ORDER BY version DESC, id DESC
		LIMIT 1
	`).Scan(&entry.EventID, &entry.ProjectID, &entry.Predicted, &entry.Actual,
		&entry.Factor, &entry.Scale, &entry.Version, &weights, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FeedbackEntry{}, false, nil
		}
		return FeedbackEntry{}, false, fmt.Errorf("failed to read feedback ledger: %w", err)
	}
	if err := json.Unmarshal(weights, &entry.Weights); err != nil {
		return FeedbackEntry{}, false, fmt.Errorf("corrupt weights in ledger: %w", err)
	}
	return entry, true, nil
}

// RestoreWeights loads the latest ledger state into the scorer, if any
func RestoreWeights(ctx context.Context, s *Scorer, ledger Ledger) error {
	entry, ok, err := ledger.Latest(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.SetWeights(Weights{Version: entry.Version, Values: entry.Weights})
	return nil
}
