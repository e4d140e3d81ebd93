// Package collab tracks per-project presence state: cursors, selections,
// file collaborators, shared insights, comment threads and AI sessions.
// Everything here is volatile; a restart clears it. Mutations are published
// to the project room.
package collab

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devlens/devlens/internal/realtime"
)

// ErrCommentNotFound is returned when replying to or reading an unknown
// comment.
var ErrCommentNotFound = errors.New("collab: comment not found")

// selectionTextLimit bounds selection text on the wire.
const selectionTextLimit = 100

// Cursor is one user's position in a file.
type Cursor struct {
	File      string    `json:"file"`
	Line      int       `json:"line"`
	Column    int       `json:"column"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Selection is one user's highlighted range.
type Selection struct {
	File      string    `json:"file"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Insight is a finding a user shared with the project.
type Insight struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment is a threaded remark on a file location. Replies carry the parent
// comment's id.
type Comment struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Author    string    `json:"author"`
	File      string    `json:"file,omitempty"`
	Line      int       `json:"line,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Thread is a comment with its reply tree.
type Thread struct {
	Comment Comment  `json:"comment"`
	Replies []Thread `json:"replies,omitempty"`
}

// AISession records a shared AI conversation in the project.
type AISession struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Query       string    `json:"query"`
	Answer      string    `json:"answer,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Broadcaster publishes mutations to a project room; satisfied by
// realtime.Hub.
type Broadcaster interface {
	BroadcastToProject(projectID string, msg realtime.Message, excludeUser string)
}

type projectState struct {
	cursors           map[string]Cursor
	selections        map[string]Selection
	fileCollaborators map[string]map[string]bool
	insights          map[string]Insight
	comments          map[string]Comment
	aiSessions        map[string]AISession
}

func newProjectState() *projectState {
	return &projectState{
		cursors:           make(map[string]Cursor),
		selections:        make(map[string]Selection),
		fileCollaborators: make(map[string]map[string]bool),
		insights:          make(map[string]Insight),
		comments:          make(map[string]Comment),
		aiSessions:        make(map[string]AISession),
	}
}

// Manager owns the per-project state tables.
type Manager struct {
	mu       sync.RWMutex
	projects map[string]*projectState
	hub      Broadcaster
	now      func() time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithCollabClock pins the clock, mainly for tests.
func WithCollabClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager wires the state tables to a broadcaster. hub may be nil for
// headless use.
func NewManager(hub Broadcaster, opts ...ManagerOption) *Manager {
	m := &Manager{
		projects: make(map[string]*projectState),
		hub:      hub,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// state returns the project's tables, creating them on first touch. Caller
// holds the write lock.
func (m *Manager) state(projectID string) *projectState {
	st, ok := m.projects[projectID]
	if !ok {
		st = newProjectState()
		m.projects[projectID] = st
	}
	return st
}

func (m *Manager) publish(projectID, msgType, sender string, data map[string]any) {
	if m.hub == nil {
		return
	}
	m.hub.BroadcastToProject(projectID, realtime.NewMessage(msgType, sender, projectID, data), sender)
}

// UpdateCursor moves a user's cursor and refreshes file collaborator sets.
func (m *Manager) UpdateCursor(projectID, userID, file string, line, column int) {
	now := m.now()
	m.mu.Lock()
	st := m.state(projectID)
	if prev, ok := st.cursors[userID]; ok && prev.File != file {
		delete(st.fileCollaborators[prev.File], userID)
		if len(st.fileCollaborators[prev.File]) == 0 {
			delete(st.fileCollaborators, prev.File)
		}
	}
	st.cursors[userID] = Cursor{File: file, Line: line, Column: column, UpdatedAt: now}
	if st.fileCollaborators[file] == nil {
		st.fileCollaborators[file] = make(map[string]bool)
	}
	st.fileCollaborators[file][userID] = true
	m.mu.Unlock()

	m.publish(projectID, realtime.TypeCursor, userID, map[string]any{
		"file": file, "line": line, "column": column,
	})
}

// UpdateSelection records a user's highlighted range, truncating the text.
func (m *Manager) UpdateSelection(projectID, userID string, sel Selection) {
	if runes := []rune(sel.Text); len(runes) > selectionTextLimit {
		sel.Text = string(runes[:selectionTextLimit])
	}
	sel.UpdatedAt = m.now()
	m.mu.Lock()
	m.state(projectID).selections[userID] = sel
	m.mu.Unlock()

	m.publish(projectID, realtime.TypeSelection, userID, map[string]any{
		"file":       sel.File,
		"start_line": sel.StartLine,
		"end_line":   sel.EndLine,
		"text":       sel.Text,
	})
}

// FileCollaborators lists users whose cursor is in the file, sorted.
func (m *Manager) FileCollaborators(projectID, file string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.projects[projectID]
	if !ok {
		return nil
	}
	users := make([]string, 0, len(st.fileCollaborators[file]))
	for u := range st.fileCollaborators[file] {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// ShareInsight publishes a finding to the project and retains it.
func (m *Manager) ShareInsight(projectID, author, title, body string) Insight {
	insight := Insight{
		ID:        uuid.NewString(),
		Author:    author,
		Title:     title,
		Body:      body,
		CreatedAt: m.now(),
	}
	m.mu.Lock()
	m.state(projectID).insights[insight.ID] = insight
	m.mu.Unlock()

	m.publish(projectID, "insight_shared", author, map[string]any{
		"insight_id": insight.ID, "title": title, "body": body,
	})
	return insight
}

// AddComment opens a new thread, or extends one when ParentID is set.
func (m *Manager) AddComment(projectID string, c Comment) (Comment, error) {
	c.ID = uuid.NewString()
	c.CreatedAt = m.now()

	m.mu.Lock()
	st := m.state(projectID)
	if c.ParentID != "" {
		if _, ok := st.comments[c.ParentID]; !ok {
			m.mu.Unlock()
			return Comment{}, ErrCommentNotFound
		}
	}
	st.comments[c.ID] = c
	m.mu.Unlock()

	m.publish(projectID, "comment_added", c.Author, map[string]any{
		"comment_id": c.ID,
		"parent_id":  c.ParentID,
		"file":       c.File,
		"line":       c.Line,
		"body":       c.Body,
	})
	return c, nil
}

// CommentThread assembles the reply tree rooted at rootID. Replies come back
// oldest first.
func (m *Manager) CommentThread(projectID, rootID string) (Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.projects[projectID]
	if !ok {
		return Thread{}, ErrCommentNotFound
	}
	root, ok := st.comments[rootID]
	if !ok {
		return Thread{}, ErrCommentNotFound
	}

	children := make(map[string][]Comment)
	for _, c := range st.comments {
		if c.ParentID != "" {
			children[c.ParentID] = append(children[c.ParentID], c)
		}
	}
	for _, list := range children {
		sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	}

	var build func(c Comment) Thread
	build = func(c Comment) Thread {
		t := Thread{Comment: c}
		for _, child := range children[c.ID] {
			t.Replies = append(t.Replies, build(child))
		}
		return t
	}
	return build(root), nil
}

// StartAISession shares that a user began an AI conversation.
func (m *Manager) StartAISession(projectID, userID, query string) AISession {
	session := AISession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Query:     query,
		StartedAt: m.now(),
	}
	m.mu.Lock()
	m.state(projectID).aiSessions[session.ID] = session
	m.mu.Unlock()

	m.publish(projectID, "ai_session_started", userID, map[string]any{
		"session_id": session.ID, "query": query,
	})
	return session
}

// CompleteAISession attaches the answer and announces completion.
func (m *Manager) CompleteAISession(projectID, sessionID, answer string) bool {
	m.mu.Lock()
	st, ok := m.projects[projectID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	session, ok := st.aiSessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	session.Answer = answer
	session.CompletedAt = m.now()
	st.aiSessions[sessionID] = session
	m.mu.Unlock()

	m.publish(projectID, "ai_session_completed", session.UserID, map[string]any{
		"session_id": sessionID, "answer": answer,
	})
	return true
}

// Snapshot is the late-joiner view of a project's collaboration state.
type Snapshot struct {
	Cursors    map[string]Cursor    `json:"cursors"`
	Selections map[string]Selection `json:"selections"`
	Insights   []Insight            `json:"insights"`
	Threads    []Thread             `json:"threads"`
	AISessions []AISession          `json:"ai_sessions"`
}

// SnapshotFor copies the current state for a joining user.
func (m *Manager) SnapshotFor(projectID string) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Cursors:    make(map[string]Cursor),
		Selections: make(map[string]Selection),
	}
	st, ok := m.projects[projectID]
	if !ok {
		return snap
	}
	for u, c := range st.cursors {
		snap.Cursors[u] = c
	}
	for u, s := range st.selections {
		snap.Selections[u] = s
	}
	for _, i := range st.insights {
		snap.Insights = append(snap.Insights, i)
	}
	sort.Slice(snap.Insights, func(i, j int) bool {
		return snap.Insights[i].CreatedAt.Before(snap.Insights[j].CreatedAt)
	})

	children := make(map[string][]Comment)
	var roots []Comment
	for _, c := range st.comments {
		if c.ParentID == "" {
			roots = append(roots, c)
		} else {
			children[c.ParentID] = append(children[c.ParentID], c)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].CreatedAt.Before(roots[j].CreatedAt) })
	for _, list := range children {
		sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	}
	var build func(c Comment) Thread
	build = func(c Comment) Thread {
		t := Thread{Comment: c}
		for _, child := range children[c.ID] {
			t.Replies = append(t.Replies, build(child))
		}
		return t
	}
	for _, root := range roots {
		snap.Threads = append(snap.Threads, build(root))
	}

	for _, s := range st.aiSessions {
		snap.AISessions = append(snap.AISessions, s)
	}
	sort.Slice(snap.AISessions, func(i, j int) bool {
		return snap.AISessions[i].StartedAt.Before(snap.AISessions[j].StartedAt)
	})
	return snap
}

// ClearUser drops a departing user's presence state. Comments, insights and
// AI sessions stay.
func (m *Manager) ClearUser(projectID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.projects[projectID]
	if !ok {
		return
	}
	if cursor, ok := st.cursors[userID]; ok {
		delete(st.fileCollaborators[cursor.File], userID)
		if len(st.fileCollaborators[cursor.File]) == 0 {
			delete(st.fileCollaborators, cursor.File)
		}
	}
	delete(st.cursors, userID)
	delete(st.selections, userID)
}
