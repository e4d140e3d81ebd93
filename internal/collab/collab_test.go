package collab

import (
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/devlens/devlens/internal/realtime"
)

type roomRecorder struct {
	mu   sync.Mutex
	msgs []realtime.Message
}

func (r *roomRecorder) BroadcastToProject(projectID string, msg realtime.Message, excludeUser string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *roomRecorder) last(t *testing.T) realtime.Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		t.Fatal("nothing published")
	}
	return r.msgs[len(r.msgs)-1]
}

var collabClock = func() time.Time {
	return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

func newManager() (*Manager, *roomRecorder) {
	room := &roomRecorder{}
	return NewManager(room, WithCollabClock(collabClock)), room
}

func TestCursorTracksFileCollaborators(t *testing.T) {
	m, room := newManager()

	m.UpdateCursor("p1", "alice", "internal/auth/login.go", 10, 4)
	m.UpdateCursor("p1", "bob", "internal/auth/login.go", 30, 1)

	got := m.FileCollaborators("p1", "internal/auth/login.go")
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("collaborators = %v", got)
	}

	// moving to another file leaves the old set
	m.UpdateCursor("p1", "alice", "internal/db/schema.go", 1, 1)
	got = m.FileCollaborators("p1", "internal/auth/login.go")
	if len(got) != 1 || got[0] != "bob" {
		t.Errorf("collaborators after move = %v", got)
	}

	msg := room.last(t)
	if msg.Type != realtime.TypeCursor || msg.SenderID != "alice" {
		t.Errorf("published %s from %s", msg.Type, msg.SenderID)
	}
}

func TestSelectionTextTruncated(t *testing.T) {
	m, room := newManager()

	long := strings.Repeat("x", 250)
	m.UpdateSelection("p1", "alice", Selection{File: "main.go", StartLine: 1, EndLine: 9, Text: long})

	snap := m.SnapshotFor("p1")
	if got := len(snap.Selections["alice"].Text); got != 100 {
		t.Errorf("stored selection length = %d, want 100", got)
	}
	msg := room.last(t)
	if text, _ := msg.Data["text"].(string); len(text) != 100 {
		t.Errorf("wire selection length = %d, want 100", len(text))
	}
}

func TestSelectionTextTruncatedOnRuneBoundary(t *testing.T) {
	m, room := newManager()

	long := strings.Repeat("日", 250)
	m.UpdateSelection("p1", "alice", Selection{File: "main.go", StartLine: 1, EndLine: 2, Text: long})

	snap := m.SnapshotFor("p1")
	stored := snap.Selections["alice"].Text
	if !utf8.ValidString(stored) {
		t.Error("stored selection is not valid UTF-8")
	}
	if got := utf8.RuneCountInString(stored); got != 100 {
		t.Errorf("stored selection runes = %d, want 100", got)
	}
	msg := room.last(t)
	if text, _ := msg.Data["text"].(string); !utf8.ValidString(text) {
		t.Error("wire selection is not valid UTF-8")
	}
}

func TestCommentThreads(t *testing.T) {
	m, _ := newManager()

	root, err := m.AddComment("p1", Comment{Author: "alice", File: "main.go", Line: 5, Body: "why the retry here?"})
	if err != nil {
		t.Fatalf("add root: %v", err)
	}
	reply, err := m.AddComment("p1", Comment{Author: "bob", ParentID: root.ID, Body: "flaky upstream"})
	if err != nil {
		t.Fatalf("add reply: %v", err)
	}
	if _, err := m.AddComment("p1", Comment{Author: "carol", ParentID: reply.ID, Body: "link the incident?"}); err != nil {
		t.Fatalf("add nested reply: %v", err)
	}

	thread, err := m.CommentThread("p1", root.ID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if thread.Comment.Body != "why the retry here?" {
		t.Errorf("root body = %q", thread.Comment.Body)
	}
	if len(thread.Replies) != 1 || thread.Replies[0].Comment.Author != "bob" {
		t.Fatalf("replies = %+v", thread.Replies)
	}
	if len(thread.Replies[0].Replies) != 1 || thread.Replies[0].Replies[0].Comment.Author != "carol" {
		t.Errorf("nested replies = %+v", thread.Replies[0].Replies)
	}

	if _, err := m.AddComment("p1", Comment{Author: "dave", ParentID: "missing", Body: "?"}); err != ErrCommentNotFound {
		t.Errorf("reply to unknown parent: err = %v", err)
	}
}

func TestInsightsAndAISessions(t *testing.T) {
	m, room := newManager()

	insight := m.ShareInsight("p1", "alice", "hot path", "checkout spends 40% in serialization")
	if msg := room.last(t); msg.Type != "insight_shared" || msg.Data["insight_id"] != insight.ID {
		t.Errorf("published %s with %v", msg.Type, msg.Data)
	}

	session := m.StartAISession("p1", "bob", "what broke checkout?")
	if !m.CompleteAISession("p1", session.ID, "the friday deploy") {
		t.Fatal("complete failed for live session")
	}
	if m.CompleteAISession("p1", "missing", "x") {
		t.Error("completed an unknown session")
	}

	snap := m.SnapshotFor("p1")
	if len(snap.Insights) != 1 || len(snap.AISessions) != 1 {
		t.Fatalf("snapshot insights = %d, sessions = %d", len(snap.Insights), len(snap.AISessions))
	}
	if snap.AISessions[0].Answer != "the friday deploy" {
		t.Errorf("session answer = %q", snap.AISessions[0].Answer)
	}
}

func TestClearUserDropsPresenceOnly(t *testing.T) {
	m, _ := newManager()

	m.UpdateCursor("p1", "alice", "main.go", 1, 1)
	m.UpdateSelection("p1", "alice", Selection{File: "main.go", Text: "x"})
	m.ShareInsight("p1", "alice", "keep me", "insights survive departure")

	m.ClearUser("p1", "alice")

	snap := m.SnapshotFor("p1")
	if len(snap.Cursors) != 0 || len(snap.Selections) != 0 {
		t.Errorf("presence not cleared: %+v", snap)
	}
	if len(snap.Insights) != 1 {
		t.Errorf("insights lost on departure")
	}
	if got := m.FileCollaborators("p1", "main.go"); len(got) != 0 {
		t.Errorf("collaborators = %v, want none", got)
	}
}
