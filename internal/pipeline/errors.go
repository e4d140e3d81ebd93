package pipeline

import (
	"context"
	"errors"

	"github.com/devlens/devlens/internal/graph"
	"github.com/devlens/devlens/internal/models"
	"github.com/devlens/devlens/internal/oracle"
)

// ErrQueueFull is returned by Submit under the reject overflow policy. The
// caller may retry later; nothing was accepted.
var ErrQueueFull = errors.New("pipeline queue full")

// ErrStopped is returned by Submit after the pipeline has been stopped.
var ErrStopped = errors.New("pipeline stopped")

// Class buckets an error by how the pipeline should react to it.
type Class string

const (
	// ClassValidation errors are the caller's fault. Never retried.
	ClassValidation Class = "validation"
	// ClassTransient errors come from a store that may recover. Retried
	// with backoff.
	ClassTransient Class = "transient"
	// ClassOracle errors mean the embedder or LLM is unavailable. The
	// dependent feature is skipped, everything else proceeds.
	ClassOracle Class = "oracle"
	// ClassPolicy errors are deliberate refusals. Surfaced, not retried.
	ClassPolicy Class = "policy"
)

// Classify maps an error to its handling class. Unknown store errors are
// treated as transient so the retry loop gets a chance at them.
func Classify(err error) Class {
	switch {
	case errors.Is(err, models.ErrInvalidID),
		errors.Is(err, models.ErrUnknownEventType),
		errors.Is(err, models.ErrMissingTimestamp),
		errors.Is(err, models.ErrMissingProject),
		errors.Is(err, graph.ErrMissingEndpoint):
		return ClassValidation
	case errors.Is(err, models.ErrCrossProject),
		errors.Is(err, graph.ErrCrossProject),
		errors.Is(err, ErrQueueFull):
		return ClassPolicy
	case oracle.IsDisabled(err):
		return ClassOracle
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	default:
		return ClassTransient
	}
}
