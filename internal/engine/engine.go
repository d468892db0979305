package engine

import (
	"context"
	"time"
)

// Engine runs one astrology computation in an isolated process. The
// orchestrator depends on this interface so tests can substitute a fake.
type Engine interface {
	// Invoke runs req under timeout and returns the classified outcome.
	// The error is non-nil only when ctx ends before an outcome is known
	// or req cannot be turned into a command line; engine failures are
	// reported through Outcome.Kind.
	Invoke(ctx context.Context, req Request, timeout time.Duration) (Outcome, error)
}
