package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devlens/devlens/internal/models"
)

const timelineSchema = `
CREATE TABLE IF NOT EXISTS timeline_entries (
	entry_id          TEXT NOT NULL,
	project_id        TEXT NOT NULL,
	data_type         TEXT NOT NULL,
	content_hash      TEXT NOT NULL,
	event             JSONB NOT NULL,
	event_ts          TIMESTAMPTZ NOT NULL,
	importance        DOUBLE PRECISION NOT NULL,
	level             TEXT NOT NULL,
	category          TEXT NOT NULL,
	tier              TEXT NOT NULL,
	retention         TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	last_accessed     TIMESTAMPTZ NOT NULL,
	access_count      INT NOT NULL DEFAULT 0,
	tags              TEXT[],
	related_entry_ids TEXT[],
	metadata          JSONB,
	projected_at      TIMESTAMPTZ,
	PRIMARY KEY (project_id, entry_id)
);
CREATE INDEX IF NOT EXISTS idx_timeline_project_created
	ON timeline_entries (project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_timeline_dedup
	ON timeline_entries (project_id, data_type, content_hash);
`

const entryColumns = `entry_id, project_id, data_type, content_hash, event, event_ts,
	importance, level, category, tier, retention, created_at, last_accessed,
	access_count, tags, related_entry_ids, metadata`

// PostgresRepo persists timeline entries in a timeline_entries table.
type PostgresRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresRepo verifies connectivity and ensures the schema exists.
func NewPostgresRepo(ctx context.Context, pool *pgxpool.Pool) (*PostgresRepo, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, timelineSchema); err != nil {
		return nil, fmt.Errorf("failed to create timeline schema: %w", err)
	}
	return &PostgresRepo{
		pool:   pool,
		logger: slog.Default().With("component", "timeline_repo"),
	}, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, entry *models.TimelineEntry) error {
	eventJSON, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", entry.EntryID, err)
	}
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata for %s: %w", entry.EntryID, err)
	}

	query := `
		INSERT INTO timeline_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (project_id, entry_id) DO UPDATE SET
			data_type = EXCLUDED.data_type,
			content_hash = EXCLUDED.content_hash,
			event = EXCLUDED.event,
			event_ts = EXCLUDED.event_ts,
			importance = EXCLUDED.importance,
			level = EXCLUDED.level,
			category = EXCLUDED.category,
			tier = EXCLUDED.tier,
			retention = EXCLUDED.retention,
			tags = EXCLUDED.tags,
			related_entry_ids = EXCLUDED.related_entry_ids,
			metadata = EXCLUDED.metadata,
			projected_at = NULL
	`
	_, err = r.pool.Exec(ctx, query,
		entry.EntryID, entry.ProjectID, entry.DataType, entry.ContentHash,
		eventJSON, entry.Event.Timestamp,
		entry.Importance, string(entry.Level), string(entry.Category),
		string(entry.Tier), string(entry.Retention),
		entry.CreatedAt, entry.LastAccessed, entry.AccessCount,
		entry.Tags, entry.RelatedEntryIDs, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to insert entry %s: %w", entry.EntryID, err)
	}
	return nil
}

func (r *PostgresRepo) Update(ctx context.Context, entry *models.TimelineEntry) error {
	return r.Insert(ctx, entry)
}

func (r *PostgresRepo) Get(ctx context.Context, projectID, entryID string) (*models.TimelineEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM timeline_entries
		WHERE project_id = $1 AND entry_id = $2`
	entry, err := scanEntry(r.pool.QueryRow(ctx, query, projectID, entryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("entry %s/%s: %w", projectID, entryID, ErrEntryNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", entryID, err)
	}
	return entry, nil
}

func (r *PostgresRepo) FindDuplicate(ctx context.Context, projectID, dataType, contentHash string, since time.Time) (*models.TimelineEntry, bool, error) {
	query := `SELECT ` + entryColumns + ` FROM timeline_entries
		WHERE project_id = $1 AND data_type = $2 AND content_hash = $3 AND created_at >= $4
		ORDER BY importance DESC, created_at DESC, entry_id ASC
		LIMIT 1`
	entry, err := scanEntry(r.pool.QueryRow(ctx, query, projectID, dataType, contentHash, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to check duplicate: %w", err)
	}
	return entry, true, nil
}

func (r *PostgresRepo) List(ctx context.Context, q Query) ([]*models.TimelineEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM timeline_entries
		WHERE project_id = $1 AND importance >= $2
		  AND ($3 = '' OR category = $3)
		  AND ($4 OR tier <> 'frozen')
		ORDER BY importance DESC, created_at DESC, entry_id ASC
		LIMIT $5`
	rows, err := r.pool.Query(ctx, query,
		q.ProjectID, q.MinImportance, string(q.Category), q.IncludeFrozen, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r *PostgresRepo) Touch(ctx context.Context, projectID string, entryIDs []string, at time.Time) error {
	query := `UPDATE timeline_entries
		SET last_accessed = $3, access_count = access_count + 1
		WHERE project_id = $1 AND entry_id = ANY($2)`
	if _, err := r.pool.Exec(ctx, query, projectID, entryIDs, at); err != nil {
		return fmt.Errorf("failed to touch entries: %w", err)
	}
	return nil
}

func (r *PostgresRepo) All(ctx context.Context, projectID string) ([]*models.TimelineEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM timeline_entries
		WHERE $1 = '' OR project_id = $1
		ORDER BY project_id, created_at DESC, entry_id ASC`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to walk entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r *PostgresRepo) SetTier(ctx context.Context, projectID, entryID string, tier models.StorageTier) error {
	query := `UPDATE timeline_entries SET tier = $3
		WHERE project_id = $1 AND entry_id = $2`
	if _, err := r.pool.Exec(ctx, query, projectID, entryID, string(tier)); err != nil {
		return fmt.Errorf("failed to set tier for %s: %w", entryID, err)
	}
	return nil
}

func (r *PostgresRepo) Delete(ctx context.Context, projectID, entryID string) error {
	query := `DELETE FROM timeline_entries WHERE project_id = $1 AND entry_id = $2`
	if _, err := r.pool.Exec(ctx, query, projectID, entryID); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", entryID, err)
	}
	return nil
}

func (r *PostgresRepo) MarkProjected(ctx context.Context, projectID, entryID string, at time.Time) error {
	query := `UPDATE timeline_entries SET projected_at = $3
		WHERE project_id = $1 AND entry_id = $2`
	if _, err := r.pool.Exec(ctx, query, projectID, entryID, at); err != nil {
		return fmt.Errorf("failed to mark entry projected: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Unprojected(ctx context.Context, limit int) ([]*models.TimelineEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + entryColumns + ` FROM timeline_entries
		WHERE projected_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprojected entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

// scanEntry decodes one row; the scan order matches entryColumns.
func scanEntry(row pgx.Row) (*models.TimelineEntry, error) {
	var (
		entry     models.TimelineEntry
		eventJSON []byte
		eventTS   time.Time
		metaJSON  []byte
		level     string
		category  string
		tier      string
		retention string
	)
	err := row.Scan(
		&entry.EntryID, &entry.ProjectID, &entry.DataType, &entry.ContentHash,
		&eventJSON, &eventTS,
		&entry.Importance, &level, &category, &tier, &retention,
		&entry.CreatedAt, &entry.LastAccessed, &entry.AccessCount,
		&entry.Tags, &entry.RelatedEntryIDs, &metaJSON)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(eventJSON, &entry.Event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event for %s: %w", entry.EntryID, err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", entry.EntryID, err)
		}
	}
	entry.Level = models.ImportanceLevel(level)
	entry.Category = models.TimelineCategory(category)
	entry.Tier = models.StorageTier(tier)
	entry.Retention = models.RetentionPolicy(retention)
	return &entry, nil
}

func collectEntries(rows pgx.Rows) ([]*models.TimelineEntry, error) {
	var out []*models.TimelineEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}
	return out, nil
}
