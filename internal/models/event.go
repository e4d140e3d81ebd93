package models

import (
	"fmt"
	"regexp"
	"time"
)

// EventType categorizes what kind of engineering activity an event describes
type EventType string

const (
	EventTypeCommit       EventType = "commit"
	EventTypeIssue        EventType = "issue"
	EventTypeIssueComment EventType = "issue_comment"
	EventTypePullRequest  EventType = "pull_request"
	EventTypeCodeReview   EventType = "code_review"
	EventTypeMeeting      EventType = "meeting"
	EventTypeMessage      EventType = "message"
	EventTypeDocument     EventType = "document"
	EventTypeBuild        EventType = "build"
	EventTypeDeployment   EventType = "deployment"
	EventTypeTestRun      EventType = "test_run"
	EventTypeCustom       EventType = "custom"
)

// Validate checks if the event type is one of the known values
func (t EventType) Validate() bool {
	switch t {
	case EventTypeCommit, EventTypeIssue, EventTypeIssueComment, EventTypePullRequest,
		EventTypeCodeReview, EventTypeMeeting, EventTypeMessage, EventTypeDocument,
		EventTypeBuild, EventTypeDeployment, EventTypeTestRun, EventTypeCustom:
		return true
	default:
		return false
	}
}

// idPattern restricts event IDs to a safe charset (≤256 chars)
var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,256}$`)

// IntegrationEvent is the normalized, source-agnostic record describing one
// thing that happened in an engineering tool. Adapters produce these; the
// ingestion pipeline consumes them.
type IntegrationEvent struct {
	ID         string         `json:"id" db:"id"`
	ProjectID  string         `json:"project_id" db:"project_id"`
	Source     string         `json:"source" db:"source"` // "github", "jira", "slack", ...
	EventType  EventType      `json:"event_type" db:"event_type"`
	Title      string         `json:"title" db:"title"`
	Content    string         `json:"content,omitempty" db:"content"`
	Author     string         `json:"author,omitempty" db:"author"`
	URL        string         `json:"url,omitempty" db:"url"`
	Timestamp  time.Time      `json:"timestamp" db:"timestamp"` // UTC occurrence time
	Repository string         `json:"repository,omitempty" db:"repository"`
	Branch     string         `json:"branch,omitempty" db:"branch"`
	Component  string         `json:"component,omitempty" db:"component"`
	Labels     []string       `json:"labels,omitempty"`
	Status     string         `json:"status,omitempty" db:"status"`
	Metadata   Metadata       `json:"metadata,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"` // computed lazily if absent
}

// Validate checks the event against the wire contract: a well-formed ID,
// a known event type, and a non-zero timestamp.
func (e *IntegrationEvent) Validate() error {
	if e.ID != "" && !idPattern.MatchString(e.ID) {
		return fmt.Errorf("event id %q: %w", e.ID, ErrInvalidID)
	}
	if !e.EventType.Validate() {
		return fmt.Errorf("event type %q: %w", e.EventType, ErrUnknownEventType)
	}
	if e.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}

// Text returns the searchable text of the event (title plus content).
func (e *IntegrationEvent) Text() string {
	if e.Content == "" {
		return e.Title
	}
	return e.Title + "\n" + e.Content
}

// Age returns how old the event is relative to now.
func (e *IntegrationEvent) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}
