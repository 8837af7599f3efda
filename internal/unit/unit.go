package unit

import (
	"context"
	"time"
)

// DefaultCommandTimeout bounds every process-manager command.
const DefaultCommandTimeout = 30 * time.Second

// Manager is the init-system capability the supervisor drives.
// Implementations must be safe for concurrent use.
type Manager interface {
	// IsActive reports whether the unit is currently active. A non-nil error means the
	// manager could not answer; callers treat that as inactive.
	IsActive(ctx context.Context, unit string) (bool, error)
	Restart(ctx context.Context, unit string) error
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	// Describe returns a short human-readable name of the backend.
	Describe() string
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultCommandTimeout
	}
	return context.WithTimeout(ctx, d)
}
