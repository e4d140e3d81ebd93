package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned for unknown notification ids and users without
// saved preferences.
var ErrNotFound = errors.New("notify: not found")

// Store persists in-app notifications and user preferences.
type Store interface {
	SaveNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	GetPreferences(ctx context.Context, userID string) (Preferences, error)
	SavePreferences(ctx context.Context, p Preferences) error
	Close() error
}

const notifySchema = `
CREATE TABLE IF NOT EXISTS notifications (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	recipient   TEXT NOT NULL,
	project_id  TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL,
	body        TEXT NOT NULL DEFAULT '',
	priority    TEXT NOT NULL,
	data        TEXT NOT NULL DEFAULT '{}',
	created_at  TIMESTAMP NOT NULL,
	read        BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient
	ON notifications (recipient, created_at DESC);

CREATE TABLE IF NOT EXISTS notification_preferences (
	user_id     TEXT PRIMARY KEY,
	preferences TEXT NOT NULL
);`

// SQLStore runs on either postgres or sqlite; the driver comes from
// configuration.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore opens the database and installs the schema. driver is
// "postgres" or "sqlite3".
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open notification store: %w", err)
	}
	if _, err := db.Exec(notifySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to install notification schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) SaveNotification(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("failed to encode notification data: %w", err)
	}
	query := s.db.Rebind(`INSERT INTO notifications
		(id, type, recipient, project_id, title, body, priority, data, created_at, read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		n.ID, n.Type, n.Recipient, n.ProjectID, n.Title, n.Body,
		string(n.Priority), string(data), n.CreatedAt.UTC(), n.Read)
	if err != nil {
		return fmt.Errorf("failed to save notification %s: %w", n.ID, err)
	}
	return nil
}

func (s *SQLStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.db.Rebind(`SELECT id, type, recipient, project_id, title, body, priority, data, created_at, read
		FROM notifications
		WHERE recipient = ? AND (? = FALSE OR read = FALSE)
		ORDER BY created_at DESC
		LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var priority, data string
		if err := rows.Scan(&n.ID, &n.Type, &n.Recipient, &n.ProjectID, &n.Title, &n.Body,
			&priority, &data, &n.CreatedAt, &n.Read); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Priority = Priority(priority)
		if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
			return nil, fmt.Errorf("failed to decode notification data: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLStore) MarkRead(ctx context.Context, userID, notificationID string) error {
	query := s.db.Rebind(`UPDATE notifications SET read = TRUE WHERE recipient = ? AND id = ?`)
	res, err := s.db.ExecContext(ctx, query, userID, notificationID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("notification %s: %w", notificationID, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	query := s.db.Rebind(`DELETE FROM notifications WHERE created_at < ?`)
	res, err := s.db.ExecContext(ctx, query, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune notifications: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) GetPreferences(ctx context.Context, userID string) (Preferences, error) {
	var raw string
	query := s.db.Rebind(`SELECT preferences FROM notification_preferences WHERE user_id = ?`)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Preferences{}, fmt.Errorf("preferences for %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("failed to load preferences: %w", err)
	}
	var p Preferences
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Preferences{}, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return p, nil
}

func (s *SQLStore) SavePreferences(ctx context.Context, p Preferences) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	query := s.db.Rebind(`INSERT INTO notification_preferences (user_id, preferences) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET preferences = EXCLUDED.preferences`)
	if _, err := s.db.ExecContext(ctx, query, p.UserID, string(raw)); err != nil {
		return fmt.Errorf("failed to save preferences for %s: %w", p.UserID, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// MemoryStore backs tests and driverless setups.
type MemoryStore struct {
	mu            sync.RWMutex
	notifications map[string][]Notification // by recipient
	preferences   map[string]Preferences
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notifications: make(map[string][]Notification),
		preferences:   make(map[string]Preferences),
	}
}

func (m *MemoryStore) SaveNotification(ctx context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.Recipient] = append(m.notifications[n.Recipient], n)
	return nil
}

func (m *MemoryStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var out []Notification
	for _, n := range m.notifications[userID] {
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkRead(ctx context.Context, userID, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.notifications[userID] {
		if n.ID == notificationID {
			m.notifications[userID][i].Read = true
			return nil
		}
	}
	return fmt.Errorf("notification %s: %w", notificationID, ErrNotFound)
}

func (m *MemoryStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pruned int64
	for user, list := range m.notifications {
		var kept []Notification
		for _, n := range list {
			if n.CreatedAt.Before(olderThan) {
				pruned++
				continue
			}
			kept = append(kept, n)
		}
		m.notifications[user] = kept
	}
	return pruned, nil
}

func (m *MemoryStore) GetPreferences(ctx context.Context, userID string) (Preferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.preferences[userID]
	if !ok {
		return Preferences{}, fmt.Errorf("preferences for %s: %w", userID, ErrNotFound)
	}
	return p, nil
}

func (m *MemoryStore) SavePreferences(ctx context.Context, p Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preferences[p.UserID] = p
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
