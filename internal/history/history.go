package history

import (
	"context"
	"time"
)

// Attempt is the durable summary of one cook dispatch.
type Attempt struct {
	UUID       string `json:"uuid"`
	Kind       string `json:"kind"`
	OK         bool   `json:"ok"`
	ExitCode   int    `json:"exit_code"`
	ElapsedMS  int64  `json:"elapsed_ms"`
	TimedOut   bool   `json:"timed_out"`
	UserID     string `json:"user_id,omitempty"`
	SourceFile string `json:"source_file,omitempty"`
}

// Event wraps an attempt with the time it finished.
type Event struct {
	OccurredAt time.Time `json:"occurred_at"`
	Attempt    Attempt   `json:"attempt"`
}

// Sink receives cook attempt events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

// NewEvent stamps an attempt with the current time in UTC.
func NewEvent(a Attempt) Event {
	return Event{OccurredAt: time.Now().UTC(), Attempt: a}
}
