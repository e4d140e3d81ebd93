package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/devlens/devlens/internal/graph"
	"github.com/devlens/devlens/internal/models"
)

// BugState is where an issue sits in its observable lifecycle.
type BugState string

const (
	BugOpen       BugState = "open"
	BugResolved   BugState = "resolved"
	BugRegression BugState = "regression"
)

// regressionWindow is how soon after a fix a new referencing issue counts as
// a regression of it.
const regressionWindow = 30 * 24 * time.Hour

// BugLifecycle is the graph-derived view of one issue: the commits that fixed
// it and any later issues those fixes appear to have caused.
type BugLifecycle struct {
	IssueID    string   `json:"issue_id"`
	State      BugState `json:"state"`
	Fixes      []string `json:"fixes,omitempty"`       // fixing commit/PR ids
	CausedBugs []string `json:"caused_bugs,omitempty"` // later issues tied to a fix
}

// Lifecycle reconstructs the issue's state from resolved edges pointing at it
// and from later issues referencing its fix commits. A referencing issue
// within the regression window marks the bug as regressed.
func Lifecycle(ctx context.Context, gs graph.Store, projectID, issueID string) (BugLifecycle, error) {
	view := BugLifecycle{IssueID: issueID, State: BugOpen}

	resolved, err := gs.GetRelationships(ctx, projectID, issueID, models.RelationResolved)
	if err != nil {
		return view, fmt.Errorf("lifecycle of %s: %w", issueID, err)
	}

	seenFix := map[string]bool{}
	for _, edge := range resolved {
		if edge.TargetID != issueID || seenFix[edge.SourceID] {
			continue
		}
		seenFix[edge.SourceID] = true
		view.Fixes = append(view.Fixes, edge.SourceID)
	}
	if len(view.Fixes) == 0 {
		return view, nil
	}
	view.State = BugResolved

	seenBug := map[string]bool{issueID: true}
	for _, fixID := range view.Fixes {
		fix, err := gs.GetEntity(ctx, projectID, fixID)
		if err != nil {
			return view, fmt.Errorf("lifecycle of %s: fix %s: %w", issueID, fixID, err)
		}
		fixTime := entityTimestamp(fix)

		edges, err := gs.GetRelationships(ctx, projectID, fixID, models.RelationReferenced, models.RelationCaused)
		if err != nil {
			return view, fmt.Errorf("lifecycle of %s: edges of %s: %w", issueID, fixID, err)
		}
		for _, edge := range edges {
			otherID := edge.SourceID
			if otherID == fixID {
				otherID = edge.TargetID
			}
			if seenBug[otherID] {
				continue
			}
			other, err := gs.GetEntity(ctx, projectID, otherID)
			if err != nil {
				continue
			}
			if eventType, _ := other.Properties["event_type"].(string); eventType != string(models.EventTypeIssue) {
				continue
			}
			otherTime := entityTimestamp(other)
			if otherTime.IsZero() || otherTime.Before(fixTime) {
				continue
			}
			seenBug[otherID] = true
			view.CausedBugs = append(view.CausedBugs, otherID)
			if !fixTime.IsZero() && otherTime.Sub(fixTime) <= regressionWindow {
				view.State = BugRegression
			}
		}
	}
	return view, nil
}

func entityTimestamp(e graph.Entity) time.Time {
	raw, _ := e.Properties["timestamp"].(string)
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}
