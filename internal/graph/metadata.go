package graph

import (
	"encoding/json"

	"github.com/devlens/devlens/internal/models"
)

// Relationship metadata is stored as a JSON string property — Neo4j property
// values cannot hold nested maps.

func encodeMetadata(m models.Metadata) string {
	if len(m) == 0 {
		return ""
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func decodeMetadata(s string) models.Metadata {
	if s == "" {
		return nil
	}
	var m models.Metadata
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
