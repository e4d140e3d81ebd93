// Package realtime is the in-memory messaging core: a connection registry
// with project rooms, per-connection outbound mailboxes, a heartbeat
// supervisor and a bounded offline queue per user. Nothing in this package
// is persisted.
package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Message types dispatched by the hub.
const (
	TypeHeartbeat    = "heartbeat"
	TypeHeartbeatAck = "heartbeat_ack"
	TypeUserJoined   = "user_joined"
	TypeUserLeft     = "user_left"
	TypeUserActivity = "user_activity"
	TypeCursor       = "cursor"
	TypeSelection    = "selection"
	TypeFileChange   = "file_change"
	TypeAIQuery      = "ai_query"
	TypeAIResponse   = "ai_response"
	TypeNotification = "notification"
	TypeDomainEvent  = "domain_event"
	TypeError        = "error"
)

// Message is the JSON envelope on the wire.
type Message struct {
	MessageID string            `json:"message_id"`
	Type      string            `json:"message_type"`
	Timestamp time.Time         `json:"timestamp"`
	SenderID  string            `json:"sender_id,omitempty"`
	ProjectID string            `json:"project_id,omitempty"`
	Data      map[string]any    `json:"data,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewMessage stamps an envelope with an id and the current time.
func NewMessage(msgType, senderID, projectID string, data map[string]any) Message {
	return Message{
		MessageID: uuid.NewString(),
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		SenderID:  senderID,
		ProjectID: projectID,
		Data:      data,
	}
}

// critical messages survive mailbox overflow: errors and warning-or-above
// notifications are never dropped.
func critical(m Message) bool {
	switch m.Type {
	case TypeError:
		return true
	case TypeNotification:
		switch m.Metadata["priority"] {
		case "urgent", "high", "warning":
			return true
		}
	}
	return false
}
