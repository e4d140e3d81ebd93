package realtime

import (
	"context"

	"github.com/devlens/devlens/internal/pipeline"
)

// Sink fans ingestion domain events out to the event's project room.
type Sink struct {
	hub *Hub
}

func NewSink(hub *Hub) *Sink {
	return &Sink{hub: hub}
}

func (s *Sink) Publish(ctx context.Context, ev pipeline.DomainEvent) {
	data := map[string]any{
		"event_type":     ev.Type,
		"source":         ev.Event.Source,
		"title":          ev.Event.Title,
		"relation_count": len(ev.Relations),
	}
	if ev.Entry != nil {
		data["data_type"] = ev.Entry.DataType
		data["importance"] = ev.Entry.Importance
		data["level"] = ev.Entry.Level
	}
	s.hub.BroadcastToProject(ev.ProjectID, NewMessage(TypeDomainEvent, "", ev.ProjectID, data), "")
}
