package models

import "fmt"

// RelationType is the typed edge label between two IntegrationEvents
type RelationType string

const (
	RelationCaused        RelationType = "caused"
	RelationResolved      RelationType = "resolved"
	RelationReferenced    RelationType = "referenced"
	RelationPreceded      RelationType = "preceded"
	RelationFollowed      RelationType = "followed"
	RelationDependsOn     RelationType = "depends_on"
	RelationBlocks        RelationType = "blocks"
	RelationRelatedTo     RelationType = "related_to"
	RelationSameComponent RelationType = "same_component"
	RelationSameAuthor    RelationType = "same_author"
)

// Validate checks if the relation type is one of the known values
func (t RelationType) Validate() bool {
	switch t {
	case RelationCaused, RelationResolved, RelationReferenced, RelationPreceded,
		RelationFollowed, RelationDependsOn, RelationBlocks, RelationRelatedTo,
		RelationSameComponent, RelationSameAuthor:
		return true
	default:
		return false
	}
}

// EventRelation is a directed, typed edge between two IntegrationEvents with
// an inference-derived confidence. Only relations at or above the configured
// confidence threshold are persisted.
type EventRelation struct {
	SourceEventID string       `json:"source_event_id" db:"source_event_id"`
	TargetEventID string       `json:"target_event_id" db:"target_event_id"`
	ProjectID     string       `json:"project_id" db:"project_id"`
	Type          RelationType `json:"type" db:"type"`
	Confidence    float64      `json:"confidence" db:"confidence"` // [0,1]
	Metadata      Metadata     `json:"metadata,omitempty"`         // inference evidence
}

// Key identifies the (src, dst, type) triple; per triple only the single
// highest-confidence edge is kept.
func (r *EventRelation) Key() string {
	return fmt.Sprintf("%s→%s:%s", r.SourceEventID, r.TargetEventID, r.Type)
}

// Validate checks endpoints, type, and confidence range.
func (r *EventRelation) Validate() error {
	if r.SourceEventID == "" || r.TargetEventID == "" {
		return fmt.Errorf("relation endpoints required: src=%q dst=%q", r.SourceEventID, r.TargetEventID)
	}
	if !r.Type.Validate() {
		return fmt.Errorf("relation type %q is not known", r.Type)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("relation confidence %.3f outside [0,1]", r.Confidence)
	}
	return nil
}
