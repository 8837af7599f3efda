package history

import (
	"context"
	"time"
)

// Event is one state transition of a supervised service.
type Event struct {
	Service             string    `json:"service"`
	From                string    `json:"from"`
	To                  string    `json:"to"`
	Reason              string    `json:"reason,omitempty"`
	Detail              string    `json:"detail,omitempty"`
	OccurredAt          time.Time `json:"occurred_at"`
	RestartCount        int       `json:"restart_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Sink is an append-only destination for transition events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// CloseAll closes every sink that implements io.Closer-like Close.
func CloseAll(sinks []Sink) {
	for _, s := range sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}
