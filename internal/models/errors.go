package models

import "errors"

// Validation errors surfaced to callers; never retried.
var (
	ErrInvalidID        = errors.New("id must be ≤256 chars of [A-Za-z0-9._:-]")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingTimestamp = errors.New("event timestamp is required")
	ErrMissingProject   = errors.New("project id is required")
	ErrCrossProject     = errors.New("cross-project reference rejected")
)
