package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devlens/devlens/internal/oracle"
)

// ErrUserRequired is returned by Connect when no user id is supplied.
var ErrUserRequired = errors.New("realtime: user id required")

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultHeartbeatTimeout  = 60 * time.Second
	defaultMailboxSize       = 64
	defaultOfflineLimit      = 100
)

// mailbox is a connection's bounded outbound FIFO. On overflow the oldest
// non-critical message is evicted; critical messages are never dropped.
type mailbox struct {
	mu     sync.Mutex
	queue  []Message
	limit  int
	wake   chan struct{}
	closed bool
}

func newMailbox(limit int) *mailbox {
	return &mailbox{limit: limit, wake: make(chan struct{}, 1)}
}

func (b *mailbox) push(m Message) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.queue) >= b.limit {
		evicted := false
		for i, queued := range b.queue {
			if !critical(queued) {
				b.queue = append(b.queue[:i], b.queue[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted && !critical(m) {
			b.mu.Unlock()
			return
		}
	}
	b.queue = append(b.queue, m)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// pop blocks until a message is available or the mailbox is closed.
func (b *mailbox) pop() (Message, bool) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			m := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return m, true
		}
		if b.closed {
			b.mu.Unlock()
			return Message{}, false
		}
		b.mu.Unlock()
		<-b.wake
	}
}

func (b *mailbox) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

type connection struct {
	id        string
	userID    string
	projectID string
	userInfo  map[string]any
	transport Transport
	box       *mailbox

	mu            sync.Mutex
	lastHeartbeat time.Time
}

func (c *connection) touchHeartbeat(at time.Time) {
	c.mu.Lock()
	c.lastHeartbeat = at
	c.mu.Unlock()
}

func (c *connection) heartbeatAge(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastHeartbeat)
}

// Hub is the in-memory connection registry. All state is volatile; a
// restart drops connections and offline queues alike.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]*connection
	userConns map[string]map[string]*connection
	rooms     map[string]map[string]*connection
	offline   map[string][]Message

	ai                oracle.Completer
	logger            *slog.Logger
	now               func() time.Time
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	mailboxSize       int
	offlineLimit      int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithAIOracle routes ai_query messages to a completer; responses come back
// to the asking user as ai_response messages.
func WithAIOracle(c oracle.Completer) HubOption {
	return func(h *Hub) { h.ai = c }
}

// WithHeartbeat overrides the supervisor interval and the silence threshold.
func WithHeartbeat(interval, timeout time.Duration) HubOption {
	return func(h *Hub) {
		h.heartbeatInterval = interval
		h.heartbeatTimeout = timeout
	}
}

// WithMailboxSize bounds each connection's outbound queue.
func WithMailboxSize(n int) HubOption {
	return func(h *Hub) { h.mailboxSize = n }
}

// WithOfflineLimit bounds the per-user offline queue.
func WithOfflineLimit(n int) HubOption {
	return func(h *Hub) { h.offlineLimit = n }
}

// WithHubClock pins the hub clock, mainly for tests.
func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// NewHub builds an idle hub. Call Start to run the heartbeat supervisor.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		conns:             make(map[string]*connection),
		userConns:         make(map[string]map[string]*connection),
		rooms:             make(map[string]map[string]*connection),
		offline:           make(map[string][]Message),
		logger:            slog.Default().With("component", "realtime"),
		now:               time.Now,
		heartbeatInterval: defaultHeartbeatInterval,
		heartbeatTimeout:  defaultHeartbeatTimeout,
		mailboxSize:       defaultMailboxSize,
		offlineLimit:      defaultOfflineLimit,
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start launches the heartbeat supervisor.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	h.wg.Add(1)
	go h.supervise()
	h.logger.Info("realtime hub started",
		"heartbeat_interval", h.heartbeatInterval, "heartbeat_timeout", h.heartbeatTimeout)
}

// Stop halts the supervisor and closes every connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })

	h.mu.Lock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Disconnect(id)
	}
	h.wg.Wait()
}

// Connect registers a transport for a user, announces the join to the
// project room and flushes any queued offline messages. Queued messages are
// placed in the outbound mailbox before any live traffic.
func (h *Hub) Connect(t Transport, userID, projectID string, userInfo map[string]any) (string, error) {
	if userID == "" {
		return "", ErrUserRequired
	}
	conn := &connection{
		id:            uuid.NewString(),
		userID:        userID,
		projectID:     projectID,
		userInfo:      userInfo,
		transport:     t,
		box:           newMailbox(h.mailboxSize),
		lastHeartbeat: h.now(),
	}

	h.mu.Lock()
	h.conns[conn.id] = conn

	for _, queued := range h.offline[userID] {
		conn.box.push(queued)
	}
	delete(h.offline, userID)

	if h.userConns[userID] == nil {
		h.userConns[userID] = make(map[string]*connection)
	}
	h.userConns[userID][conn.id] = conn

	var peers []*connection
	if projectID != "" {
		if h.rooms[projectID] == nil {
			h.rooms[projectID] = make(map[string]*connection)
		}
		for _, peer := range h.rooms[projectID] {
			peers = append(peers, peer)
		}
		h.rooms[projectID][conn.id] = conn
	}
	h.mu.Unlock()

	joined := NewMessage(TypeUserJoined, userID, projectID, map[string]any{"user_info": userInfo})
	for _, peer := range peers {
		peer.box.push(joined)
	}

	h.wg.Add(2)
	go h.writeLoop(conn)
	go h.readLoop(conn)

	h.logger.Debug("connection established",
		"connection_id", conn.id, "user_id", userID, "project_id", projectID)
	return conn.id, nil
}

// Disconnect removes a connection, announces the departure and closes the
// transport. Unknown ids are ignored.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, connID)
	delete(h.userConns[conn.userID], connID)
	if len(h.userConns[conn.userID]) == 0 {
		delete(h.userConns, conn.userID)
	}
	var peers []*connection
	if conn.projectID != "" {
		delete(h.rooms[conn.projectID], connID)
		if len(h.rooms[conn.projectID]) == 0 {
			delete(h.rooms, conn.projectID)
		} else {
			for _, peer := range h.rooms[conn.projectID] {
				peers = append(peers, peer)
			}
		}
	}
	h.mu.Unlock()

	left := NewMessage(TypeUserLeft, conn.userID, conn.projectID, nil)
	for _, peer := range peers {
		peer.box.push(left)
	}

	conn.box.close()
	if err := conn.transport.Close(); err != nil && !errors.Is(err, ErrTransportClosed) {
		h.logger.Debug("transport close", "connection_id", connID, "error", err)
	}
}

// BroadcastToProject enqueues msg on every room member except excludeUser.
func (h *Hub) BroadcastToProject(projectID string, msg Message, excludeUser string) {
	h.mu.RLock()
	var targets []*connection
	for _, conn := range h.rooms[projectID] {
		if conn.userID != excludeUser {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()
	for _, conn := range targets {
		conn.box.push(msg)
	}
}

// SendToUser delivers to every live connection of the user, or queues the
// message in the bounded offline buffer when none exist.
func (h *Hub) SendToUser(userID string, msg Message) {
	h.mu.Lock()
	conns := h.userConns[userID]
	if len(conns) == 0 {
		queue := append(h.offline[userID], msg)
		if len(queue) > h.offlineLimit {
			queue = queue[len(queue)-h.offlineLimit:]
		}
		h.offline[userID] = queue
		h.mu.Unlock()
		return
	}
	targets := make([]*connection, 0, len(conns))
	for _, conn := range conns {
		targets = append(targets, conn)
	}
	h.mu.Unlock()
	for _, conn := range targets {
		conn.box.push(msg)
	}
}

// Handle dispatches one inbound message from a connection.
func (h *Hub) Handle(connID string, inbound Message) {
	h.mu.RLock()
	conn, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	// Any inbound frame proves the connection is alive, not just heartbeats.
	conn.touchHeartbeat(h.now())

	switch inbound.Type {
	case TypeHeartbeat:
		ack := NewMessage(TypeHeartbeatAck, "", conn.projectID, map[string]any{
			"echo": inbound.MessageID,
		})
		conn.box.push(ack)

	case TypeUserActivity, TypeCursor, TypeSelection, TypeFileChange:
		out := inbound
		out.SenderID = conn.userID
		out.ProjectID = conn.projectID
		h.BroadcastToProject(conn.projectID, out, conn.userID)

	case TypeAIQuery:
		out := inbound
		out.SenderID = conn.userID
		out.ProjectID = conn.projectID
		h.BroadcastToProject(conn.projectID, out, conn.userID)
		if h.ai != nil {
			h.wg.Add(1)
			go h.answerQuery(conn.userID, conn.projectID, inbound)
		}

	default:
		h.logger.Debug("unhandled message type",
			"connection_id", connID, "message_type", inbound.Type)
	}
}

// OnlineUsers lists the distinct users in a project room, sorted.
func (h *Hub) OnlineUsers(projectID string) []string {
	h.mu.RLock()
	seen := make(map[string]bool)
	for _, conn := range h.rooms[projectID] {
		seen[conn.userID] = true
	}
	h.mu.RUnlock()
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// QueuedOffline reports how many messages await a user's next connect.
func (h *Hub) QueuedOffline(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.offline[userID])
}

func (h *Hub) writeLoop(conn *connection) {
	defer h.wg.Done()
	for {
		msg, ok := conn.box.pop()
		if !ok {
			return
		}
		if err := conn.transport.WriteMessage(msg); err != nil {
			h.logger.Debug("write failed, dropping connection",
				"connection_id", conn.id, "error", err)
			h.Disconnect(conn.id)
			return
		}
	}
}

func (h *Hub) readLoop(conn *connection) {
	defer h.wg.Done()
	for {
		msg, err := conn.transport.ReadMessage()
		if err != nil {
			h.Disconnect(conn.id)
			return
		}
		h.Handle(conn.id, msg)
	}
}

func (h *Hub) supervise() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.reapStale()
		}
	}
}

// reapStale force-disconnects connections silent past the timeout.
func (h *Hub) reapStale() {
	now := h.now()
	h.mu.RLock()
	var stale []string
	for id, conn := range h.conns {
		if conn.heartbeatAge(now) > h.heartbeatTimeout {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()
	for _, id := range stale {
		h.logger.Info("heartbeat timeout, disconnecting", "connection_id", id)
		h.Disconnect(id)
	}
}

func (h *Hub) answerQuery(userID, projectID string, query Message) {
	defer h.wg.Done()
	prompt, _ := query.Data["query"].(string)
	if prompt == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	answer, err := h.ai.Complete(ctx, prompt)
	if err != nil {
		if !oracle.IsDisabled(err) {
			h.logger.Warn("ai query failed", "user_id", userID, "error", err)
		}
		return
	}
	resp := NewMessage(TypeAIResponse, "", projectID, map[string]any{
		"query_id": query.MessageID,
		"answer":   answer,
	})
	h.SendToUser(userID, resp)
}
