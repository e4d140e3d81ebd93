// Package notify decides whether an event becomes a user notification and
// on which channels it goes out. Every notification passes three gates:
// preferences, a sliding-window rate limit and a short dedup window.
// Delivery failures are logged, never propagated.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devlens/devlens/internal/config"
	"github.com/devlens/devlens/internal/realtime"
)

// Priority orders notifications for threshold and quiet-hour checks.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Channel is a delivery surface.
type Channel string

const (
	ChannelWebsocket Channel = "websocket"
	ChannelEmail     Channel = "email"
	ChannelPush      Channel = "push"
	ChannelInApp     Channel = "in_app"
)

// Notification is one pending delivery.
type Notification struct {
	ID        string         `json:"id" db:"id"`
	Type      string         `json:"type" db:"type"`
	Recipient string         `json:"recipient" db:"recipient"`
	ProjectID string         `json:"project_id" db:"project_id"`
	Title     string         `json:"title" db:"title"`
	Body      string         `json:"body" db:"body"`
	Priority  Priority       `json:"priority" db:"priority"`
	Channels  []Channel      `json:"channels"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	Read      bool           `json:"read" db:"read"`
}

// Preferences is a user's notification policy.
type Preferences struct {
	UserID            string            `json:"user_id"`
	Enabled           map[Channel]bool  `json:"enabled"`
	PriorityThreshold Priority          `json:"priority_threshold"`
	QuietHoursStart   string            `json:"quiet_hours_start"` // "HH:MM", empty disables
	QuietHoursEnd     string            `json:"quiet_hours_end"`
	FrequencyLimit    int               `json:"frequency_limit"`
}

// DefaultPreferences enables every channel with no quiet hours.
func DefaultPreferences(userID string, cfg config.NotifyConfig) Preferences {
	return Preferences{
		UserID: userID,
		Enabled: map[Channel]bool{
			ChannelWebsocket: true,
			ChannelEmail:     true,
			ChannelPush:      true,
			ChannelInApp:     true,
		},
		PriorityThreshold: PriorityLow,
		QuietHoursStart:   cfg.QuietHoursStart,
		QuietHoursEnd:     cfg.QuietHoursEnd,
		FrequencyLimit:    cfg.RateLimitPerHour,
	}
}

// Mailer sends email notifications. The real implementation lives outside
// this module; LogMailer stands in.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Pusher sends mobile push notifications.
type Pusher interface {
	Push(ctx context.Context, userID, title, body string) error
}

// WebsocketSender delivers to live connections; satisfied by realtime.Hub.
type WebsocketSender interface {
	SendToUser(userID string, msg realtime.Message)
}

// LogMailer logs instead of sending.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, to, subject, body string) error {
	slog.Default().With("component", "notify").Info("email suppressed (no mailer configured)",
		"to", to, "subject", subject)
	return nil
}

// LogPusher logs instead of pushing.
type LogPusher struct{}

func (LogPusher) Push(ctx context.Context, userID, title, body string) error {
	slog.Default().With("component", "notify").Info("push suppressed (no pusher configured)",
		"user_id", userID, "title", title)
	return nil
}

const dedupWindow = 5 * time.Minute

// Service runs the gate chain and dispatches per channel.
type Service struct {
	store   Store
	limiter Limiter
	ws      WebsocketSender
	mailer  Mailer
	pusher  Pusher
	cfg     config.NotifyConfig
	logger  *slog.Logger
	now     func() time.Time

	dedupMu sync.Mutex
	dedup   map[string]time.Time
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

func WithMailer(m Mailer) ServiceOption {
	return func(s *Service) { s.mailer = m }
}

func WithPusher(p Pusher) ServiceOption {
	return func(s *Service) { s.pusher = p }
}

func WithNotifyClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires the gates. ws may be nil when no hub runs; limiter may be
// nil to fall back to the in-memory window.
func NewService(store Store, limiter Limiter, ws WebsocketSender, cfg config.NotifyConfig, opts ...ServiceOption) *Service {
	if limiter == nil {
		limiter = NewMemoryLimiter()
	}
	s := &Service{
		store:   store,
		limiter: limiter,
		ws:      ws,
		mailer:  LogMailer{},
		pusher:  LogPusher{},
		cfg:     cfg,
		logger:  slog.Default().With("component", "notify"),
		now:     time.Now,
		dedup:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notify runs the three gates and, when all pass, delivers on every channel
// that survived the preference filter. Returns whether anything was sent.
func (s *Service) Notify(ctx context.Context, n Notification) bool {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}

	prefs := s.preferencesFor(ctx, n.Recipient)

	// gate 1: preferences
	var channels []Channel
	for _, ch := range n.Channels {
		if prefs.Enabled[ch] {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		s.logger.Debug("no enabled channels", "recipient", n.Recipient, "type", n.Type)
		return false
	}
	if n.Priority.rank() < prefs.PriorityThreshold.rank() {
		return false
	}
	if inQuietHours(s.now(), prefs.QuietHoursStart, prefs.QuietHoursEnd) && n.Priority != PriorityUrgent {
		s.logger.Debug("suppressed by quiet hours", "recipient", n.Recipient, "type", n.Type)
		return false
	}

	// gate 2: rate limit, urgent exempt
	limit := prefs.FrequencyLimit
	if limit <= 0 {
		limit = s.cfg.RateLimitPerHour
	}
	if n.Priority == PriorityUrgent {
		if err := s.limiter.Record(ctx, n.Recipient); err != nil {
			s.logger.Warn("rate limiter record failed", "recipient", n.Recipient, "error", err)
		}
	} else {
		allowed, err := s.limiter.Allow(ctx, n.Recipient, limit)
		if err != nil {
			s.logger.Warn("rate limiter failed open", "recipient", n.Recipient, "error", err)
		} else if !allowed {
			s.logger.Debug("rate limited", "recipient", n.Recipient, "type", n.Type)
			return false
		}
	}

	// gate 3: dedup
	if s.isDuplicate(n) {
		s.logger.Debug("collapsed duplicate", "recipient", n.Recipient, "title", n.Title)
		return false
	}

	n.Channels = channels
	s.deliver(ctx, n)
	return true
}

func (s *Service) preferencesFor(ctx context.Context, userID string) Preferences {
	prefs, err := s.store.GetPreferences(ctx, userID)
	if err != nil {
		return DefaultPreferences(userID, s.cfg)
	}
	return prefs
}

func (s *Service) isDuplicate(n Notification) bool {
	key := fmt.Sprintf("%s|%s|%s|%s", n.Type, n.Recipient, n.ProjectID, n.Title)
	now := s.now()
	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()
	if last, ok := s.dedup[key]; ok && now.Sub(last) < dedupWindow {
		return true
	}
	for k, t := range s.dedup {
		if now.Sub(t) >= dedupWindow {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now
	return false
}

func (s *Service) deliver(ctx context.Context, n Notification) {
	for _, ch := range n.Channels {
		var err error
		switch ch {
		case ChannelWebsocket:
			if s.ws != nil {
				msg := realtime.NewMessage(realtime.TypeNotification, "", n.ProjectID, map[string]any{
					"notification_id": n.ID,
					"type":            n.Type,
					"title":           n.Title,
					"body":            n.Body,
				})
				msg.Metadata = map[string]string{"priority": string(n.Priority)}
				s.ws.SendToUser(n.Recipient, msg)
			}
		case ChannelEmail:
			err = s.mailer.Send(ctx, n.Recipient, n.Title, n.Body)
		case ChannelPush:
			err = s.pusher.Push(ctx, n.Recipient, n.Title, n.Body)
		case ChannelInApp:
			err = s.store.SaveNotification(ctx, n)
		}
		if err != nil {
			s.logger.Warn("channel delivery failed",
				"channel", ch, "recipient", n.Recipient, "error", err)
		}
	}
}

// Prune runs the 30-day retention sweep hourly until ctx is cancelled.
func (s *Service) Prune(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := s.now().Add(-30 * 24 * time.Hour)
			n, err := s.store.Prune(ctx, cutoff)
			if err != nil {
				s.logger.Warn("notification prune failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("pruned notifications", "count", n)
			}
		}
	}
}

// inQuietHours checks "HH:MM" bounds, handling windows that span midnight.
func inQuietHours(now time.Time, start, end string) bool {
	if start == "" || end == "" {
		return false
	}
	s, err1 := parseClock(start)
	e, err2 := parseClock(end)
	if err1 != nil || err2 != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if s <= e {
		return cur >= s && cur < e
	}
	return cur >= s || cur < e
}

func parseClock(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", v)
	}
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", v, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock out of range %q", v)
	}
	return h*60 + m, nil
}
