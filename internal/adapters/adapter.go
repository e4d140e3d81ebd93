// Package adapters defines the contract between external sources and the
// ingestion pipeline. The core never calls a source directly: an adapter
// normalizes whatever the source produces into IntegrationEvents and hands
// them to IngestionPipeline.Submit.
package adapters

import (
	"context"
	"time"

	"github.com/devlens/devlens/internal/models"
)

// Resource is one syncable collection at a source.
type Resource struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // "commits", "issues", ...
}

// Adapter is one source-specific connector.
type Adapter interface {
	// Source names the origin written into produced events.
	Source() string

	// ListResources enumerates the collections the adapter can sync.
	ListResources(ctx context.Context) ([]Resource, error)

	// FetchWindow pulls events changed since the given time.
	FetchWindow(ctx context.Context, projectID string, since time.Time) ([]*models.IntegrationEvent, error)

	// ProcessWebhook converts one webhook delivery into events. payloadType
	// is the source's event discriminator (e.g. the X-GitHub-Event header).
	ProcessWebhook(ctx context.Context, projectID, payloadType string, payload []byte) ([]*models.IntegrationEvent, error)
}
