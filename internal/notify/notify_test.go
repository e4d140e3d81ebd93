package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/devlens/devlens/internal/config"
	"github.com/devlens/devlens/internal/models"
	"github.com/devlens/devlens/internal/pipeline"
	"github.com/devlens/devlens/internal/realtime"
)

type wsRecorder struct {
	mu   sync.Mutex
	sent map[string][]realtime.Message
}

func newWSRecorder() *wsRecorder {
	return &wsRecorder{sent: make(map[string][]realtime.Message)}
}

func (r *wsRecorder) SendToUser(userID string, msg realtime.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[userID] = append(r.sent[userID], msg)
}

func (r *wsRecorder) count(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent[userID])
}

type mailRecorder struct {
	mu       sync.Mutex
	subjects []string
}

func (m *mailRecorder) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	return nil
}

type notifyFixture struct {
	store  *MemoryStore
	ws     *wsRecorder
	mail   *mailRecorder
	svc    *Service
}

func newNotifyFixture(cfg config.NotifyConfig, opts ...ServiceOption) *notifyFixture {
	store := NewMemoryStore()
	ws := newWSRecorder()
	mail := &mailRecorder{}
	opts = append([]ServiceOption{WithMailer(mail)}, opts...)
	return &notifyFixture{
		store: store,
		ws:    ws,
		mail:  mail,
		svc:   NewService(store, NewMemoryLimiter(), ws, cfg, opts...),
	}
}

func baseNotification(title string) Notification {
	return Notification{
		Type:      "ai_analysis_complete",
		Recipient: "alice",
		ProjectID: "p1",
		Title:     title,
		Body:      "details",
		Priority:  PriorityMedium,
		Channels:  []Channel{ChannelWebsocket, ChannelInApp},
	}
}

func TestNotify_DeliversOnEnabledChannels(t *testing.T) {
	f := newNotifyFixture(config.NotifyConfig{RateLimitPerHour: 10})
	ctx := context.Background()

	if !f.svc.Notify(ctx, baseNotification("analysis ready")) {
		t.Fatal("delivery gated unexpectedly")
	}
	if f.ws.count("alice") != 1 {
		t.Errorf("websocket sends = %d, want 1", f.ws.count("alice"))
	}
	saved, err := f.store.ListNotifications(ctx, "alice", false, 10)
	if err != nil || len(saved) != 1 {
		t.Fatalf("in-app saved = %d (%v), want 1", len(saved), err)
	}
	if saved[0].Title != "analysis ready" || saved[0].Read {
		t.Errorf("saved = %+v", saved[0])
	}
}

func TestNotify_PriorityThreshold(t *testing.T) {
	f := newNotifyFixture(config.NotifyConfig{RateLimitPerHour: 10})
	ctx := context.Background()

	prefs := DefaultPreferences("alice", config.NotifyConfig{RateLimitPerHour: 10})
	prefs.PriorityThreshold = PriorityHigh
	if err := f.store.SavePreferences(ctx, prefs); err != nil {
		t.Fatalf("save prefs: %v", err)
	}

	if f.svc.Notify(ctx, baseNotification("medium news")) {
		t.Error("medium delivered past a high threshold")
	}
	urgent := baseNotification("outage")
	urgent.Priority = PriorityUrgent
	if !f.svc.Notify(ctx, urgent) {
		t.Error("urgent blocked by threshold")
	}
}

func TestNotify_DisabledChannelsGateOut(t *testing.T) {
	f := newNotifyFixture(config.NotifyConfig{RateLimitPerHour: 10})
	ctx := context.Background()

	prefs := DefaultPreferences("alice", config.NotifyConfig{RateLimitPerHour: 10})
	prefs.Enabled[ChannelWebsocket] = false
	prefs.Enabled[ChannelInApp] = false
	if err := f.store.SavePreferences(ctx, prefs); err != nil {
		t.Fatalf("save prefs: %v", err)
	}

	if f.svc.Notify(ctx, baseNotification("nobody home")) {
		t.Error("delivered with every requested channel disabled")
	}
	if f.ws.count("alice") != 0 {
		t.Errorf("websocket sends = %d, want 0", f.ws.count("alice"))
	}
}

func TestNotify_QuietHoursSpanMidnight(t *testing.T) {
	lateNight := func() time.Time {
		return time.Date(2026, 8, 1, 23, 30, 0, 0, time.UTC)
	}
	f := newNotifyFixture(config.NotifyConfig{
		RateLimitPerHour: 10,
		QuietHoursStart:  "22:00",
		QuietHoursEnd:    "08:00",
	}, WithNotifyClock(lateNight))
	ctx := context.Background()

	high := baseNotification("failing sync")
	high.Priority = PriorityHigh
	if f.svc.Notify(ctx, high) {
		t.Error("high delivered during quiet hours")
	}

	urgent := baseNotification("production down")
	urgent.Priority = PriorityUrgent
	if !f.svc.Notify(ctx, urgent) {
		t.Error("urgent suppressed during quiet hours")
	}
}

func TestInQuietHours(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 8, 1, h, m, 0, 0, time.UTC) }
	tests := []struct {
		name       string
		now        time.Time
		start, end string
		want       bool
	}{
		{"disabled", at(3, 0), "", "", false},
		{"inside same-day window", at(13, 0), "12:00", "14:00", true},
		{"outside same-day window", at(15, 0), "12:00", "14:00", false},
		{"spanning midnight, before midnight", at(23, 30), "22:00", "08:00", true},
		{"spanning midnight, after midnight", at(3, 0), "22:00", "08:00", true},
		{"spanning midnight, daytime", at(12, 0), "22:00", "08:00", false},
		{"end boundary exclusive", at(8, 0), "22:00", "08:00", false},
		{"malformed start ignored", at(23, 0), "2200", "08:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inQuietHours(tt.now, tt.start, tt.end); got != tt.want {
				t.Errorf("inQuietHours = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotify_RateLimitSlidingWindow(t *testing.T) {
	f := newNotifyFixture(config.NotifyConfig{RateLimitPerHour: 2})
	ctx := context.Background()

	if !f.svc.Notify(ctx, baseNotification("first")) {
		t.Fatal("first send blocked")
	}
	if !f.svc.Notify(ctx, baseNotification("second")) {
		t.Fatal("second send blocked")
	}
	if f.svc.Notify(ctx, baseNotification("third")) {
		t.Error("third send exceeded the limit but was delivered")
	}

	urgent := baseNotification("incident")
	urgent.Priority = PriorityUrgent
	if !f.svc.Notify(ctx, urgent) {
		t.Error("urgent subject to the rate limit")
	}
}

func TestMemoryLimiter_WindowSlides(t *testing.T) {
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter().WithLimiterClock(func() time.Time { return current })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := limiter.Allow(ctx, "alice", 2); !ok {
			t.Fatalf("send %d blocked", i)
		}
	}
	if ok, _ := limiter.Allow(ctx, "alice", 2); ok {
		t.Fatal("third send inside window allowed")
	}

	current = current.Add(61 * time.Minute)
	if ok, _ := limiter.Allow(ctx, "alice", 2); !ok {
		t.Error("window did not slide")
	}
}

func TestNotify_DedupCollapsesRepeats(t *testing.T) {
	f := newNotifyFixture(config.NotifyConfig{RateLimitPerHour: 10})
	ctx := context.Background()

	if !f.svc.Notify(ctx, baseNotification("same title")) {
		t.Fatal("first blocked")
	}
	if f.svc.Notify(ctx, baseNotification("same title")) {
		t.Error("identical notification within 5m delivered twice")
	}
	if !f.svc.Notify(ctx, baseNotification("different title")) {
		t.Error("distinct title collapsed")
	}
}

func TestDetectMentions(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		author string
		want   []string
	}{
		{"plain", "@alice please review", "bob", []string{"alice"}},
		{"author excluded", "cc @bob on this", "bob", nil},
		{"bracketed", "ping @[Jane Doe] about the schema", "bob", []string{"Jane Doe"}},
		{"mixed dedup", "@alice and @ALICE and @carol", "bob", []string{"alice", "carol"}},
		{"no mentions", "plain text", "bob", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectMentions(tt.text, tt.author)
			if len(got) != len(tt.want) {
				t.Fatalf("mentions = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("mentions[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestHandleEvent_RoutingTable(t *testing.T) {
	f := newNotifyFixture(config.NotifyConfig{RateLimitPerHour: 10})
	ctx := context.Background()

	if !f.svc.HandleEvent(ctx, "sync_failed", "alice", "p1", "github sync failed", "timeout", nil) {
		t.Fatal("sync_failed not delivered")
	}
	if len(f.mail.subjects) != 1 || f.mail.subjects[0] != "github sync failed" {
		t.Errorf("email subjects = %v, want the failure", f.mail.subjects)
	}
	saved, _ := f.store.ListNotifications(ctx, "alice", true, 10)
	if len(saved) != 1 || saved[0].Priority != PriorityHigh {
		t.Errorf("in-app = %+v, want one high-priority entry", saved)
	}

	if f.svc.HandleEvent(ctx, "made_up_event", "alice", "p1", "x", "", nil) {
		t.Error("unknown event type delivered")
	}
}

func TestSink_NotifiesMentionedUsers(t *testing.T) {
	f := newNotifyFixture(config.NotifyConfig{RateLimitPerHour: 10})
	sink := NewSink(f.svc)

	sink.Publish(context.Background(), pipeline.DomainEvent{
		Type:      "data_processed",
		ProjectID: "p1",
		Event: &models.IntegrationEvent{
			ID:      "ev-1",
			Author:  "bob",
			Title:   "checkout review",
			Content: "@alice please review the retry logic",
			Source:  "slack",
		},
	})

	if f.ws.count("alice") != 1 {
		t.Fatalf("alice websocket sends = %d, want 1", f.ws.count("alice"))
	}
	if f.ws.count("bob") != 0 {
		t.Errorf("author notified about own mention")
	}
	if len(f.mail.subjects) != 1 || f.mail.subjects[0] != "bob mentioned you" {
		t.Errorf("email subjects = %v", f.mail.subjects)
	}
}
