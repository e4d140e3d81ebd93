package notify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/devlens/devlens/internal/pipeline"
)

// route fixes the priority and channel set for a built-in event type.
type route struct {
	priority Priority
	channels []Channel
}

// routes is the built-in handler table. Failures and mentions include
// email.
var routes = map[string]route{
	"sync_started":         {PriorityLow, []Channel{ChannelWebsocket}},
	"sync_completed":       {PriorityLow, []Channel{ChannelWebsocket, ChannelInApp}},
	"sync_failed":          {PriorityHigh, []Channel{ChannelWebsocket, ChannelEmail, ChannelInApp}},
	"data_processed":       {PriorityLow, []Channel{ChannelWebsocket}},
	"ai_analysis_complete": {PriorityMedium, []Channel{ChannelWebsocket, ChannelInApp}},
	"mention":              {PriorityHigh, []Channel{ChannelWebsocket, ChannelEmail, ChannelInApp}},
	"user_joined_project":  {PriorityLow, []Channel{ChannelWebsocket}},
	"quota_warning":        {PriorityHigh, []Channel{ChannelWebsocket, ChannelEmail, ChannelInApp}},
	"system_error":         {PriorityUrgent, []Channel{ChannelWebsocket, ChannelEmail, ChannelInApp}},
}

// HandleEvent builds a notification from the routing table and runs it
// through the gates. Unknown event types are dropped.
func (s *Service) HandleEvent(ctx context.Context, eventType, recipient, projectID, title, body string, data map[string]any) bool {
	r, ok := routes[eventType]
	if !ok {
		s.logger.Debug("no route for event type", "event_type", eventType)
		return false
	}
	return s.Notify(ctx, Notification{
		Type:      eventType,
		Recipient: recipient,
		ProjectID: projectID,
		Title:     title,
		Body:      body,
		Priority:  r.priority,
		Channels:  r.channels,
		Data:      data,
	})
}

var (
	plainMention   = regexp.MustCompile(`@(\w+)`)
	bracketMention = regexp.MustCompile(`@\[([^\]]+)\]`)
)

// DetectMentions extracts @user and @[display name] mentions, excluding the
// author.
func DetectMentions(text, author string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name == "" || strings.EqualFold(name, author) || seen[strings.ToLower(name)] {
			return
		}
		seen[strings.ToLower(name)] = true
		out = append(out, name)
	}
	for _, m := range bracketMention.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	// strip bracket mentions so their words are not re-matched
	stripped := bracketMention.ReplaceAllString(text, "")
	for _, m := range plainMention.FindAllStringSubmatch(stripped, -1) {
		add(m[1])
	}
	return out
}

// Sink watches the ingestion fan-out for mentions in user-generated text.
type Sink struct {
	service *Service
}

func NewSink(service *Service) *Sink {
	return &Sink{service: service}
}

func (s *Sink) Publish(ctx context.Context, ev pipeline.DomainEvent) {
	if ev.Event == nil {
		return
	}
	text := ev.Event.Title + " " + ev.Event.Content
	for _, user := range DetectMentions(text, ev.Event.Author) {
		s.service.HandleEvent(ctx, "mention", user, ev.ProjectID,
			fmt.Sprintf("%s mentioned you", ev.Event.Author),
			ev.Event.Title,
			map[string]any{"event_id": ev.Event.ID, "source": ev.Event.Source})
	}
}
