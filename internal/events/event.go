// Package events publishes job lifecycle events to external sinks.
package events

import (
	"context"
	"time"
)

// Channel is the channel name of every queue event.
const Channel = "queue"

// Event names
const (
	JobClaimed = "job_claimed"
	JobDone    = "job_done"
	JobRetry   = "job_retry"
	JobFailed  = "job_failed"
)

// Terminal kinds carried by job_failed.
const (
	TerminalPermanent         = "permanent"
	TerminalAttemptsExhausted = "attempts_exhausted"
)

// Event is one structured lifecycle record
type Event struct {
	TS      time.Time `json:"ts"`
	Channel string    `json:"channel"`
	Event   string    `json:"event"`
	Context Context   `json:"context"`
}

// Context carries the job fields of an event.
type Context struct {
	JobID    int64      `json:"job_id"`
	Type     string     `json:"type"`
	Attempts int        `json:"attempts"`
	Error    string     `json:"error"`
	RunAfter *time.Time `json:"run_after,omitempty"`
	Terminal string     `json:"terminal,omitempty"`
	WorkerID string     `json:"worker_id,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, evt Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt Event) error

func (f SinkFunc) Emit(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}
