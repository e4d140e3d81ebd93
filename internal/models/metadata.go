package models

import (
	"encoding/json"
	"strconv"
)

// Metadata is the open key/value map carrying source-specific event fields.
// Unknown keys pass through untouched; the well-known keys below have typed
// accessors consulted by the scorer and the relationship inferencer.
type Metadata map[string]any

// Well-known metadata keys. Each documents the type the accessor expects.
const (
	MetaFiles        = "files"         // []string — file paths touched by a commit/PR
	MetaIssueNumber  = "issue_number"  // number or numeric string
	MetaPRNumber     = "pr_number"     // number or numeric string
	MetaCommitHash   = "commit_hash"   // string
	MetaCommitHashes = "commit_hashes" // []string — hashes included in a deployment
	MetaExternalID   = "external_id"   // string — source-side identifier (e.g. "BUG-17")
	MetaComponents   = "components"    // []string — Jira-style component list
	MetaAssignee     = "assignee"      // string
	MetaSentiment    = "sentiment"     // string
	MetaReplies      = "replies"       // number
	MetaReactions    = "reactions"     // number
	MetaMentions     = "mentions"      // number
	MetaStats        = "stats"         // map — source-specific counters
	MetaDuplicateOf  = "duplicate_of"  // string — id of the duplicate this entry superseded
)

// GetString returns the value for key as a string, or "" if absent or not
// string-shaped.
func (m Metadata) GetString(key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// GetInt returns the value for key as an int. Source payloads carry numbers
// as float64 (JSON), json.Number, int, or numeric strings; all are accepted.
// Returns (0, false) when absent or non-numeric.
func (m Metadata) GetInt(key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

// GetFloat returns the value for key as a float64, or (0, false).
func (m Metadata) GetFloat(key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// GetStrings returns the value for key as a string slice. Accepts []string,
// []any of strings, or a single string.
func (m Metadata) GetStrings(key string) []string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// Clone returns a shallow copy so callers can annotate metadata without
// mutating the original event.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
