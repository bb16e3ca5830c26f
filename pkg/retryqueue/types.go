// Package retryqueue implements the Retry Queue (spec.md §4.3): durable,
// best-effort re-execution of failed side-effectful operations on a fixed
// backoff schedule.
package retryqueue

import (
	"encoding/json"
	"time"
)

// fixedSchedule is the spec.md §4.3 fixed delay schedule.
var fixedSchedule = []time.Duration{
	60 * time.Second,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	6 * time.Hour,
}

// Item is one durable retry-queue entry.
type Item struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Params        json.RawMessage `json:"params"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"nextAttemptAt"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Reason is the closed enum of why a retry-queue item went terminal.
type Reason string

const (
	// ReasonHandlerMissing: no Handler was ever registered for the item's type.
	ReasonHandlerMissing Reason = "handler_missing"
	// ReasonScheduleExhausted: the handler kept failing past the last fixedSchedule tier.
	ReasonScheduleExhausted Reason = "schedule_exhausted"
	// ReasonHandlerError: the handler returned a non-retriable error and was not retried.
	ReasonHandlerError Reason = "handler_error"
)

// FailedOperation is a terminal log entry written once an item exhausts the
// schedule or its handler returns a non-retriable error (spec.md §4.3:
// "terminal entry in a failed-operations log").
type FailedOperation struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Params   json.RawMessage `json:"params"`
	Attempts int             `json:"attempts"`
	FailedAt time.Time       `json:"failedAt"`
	Reason   Reason          `json:"reason"`
	Cause    string          `json:"cause"`
}

// Handler executes one item's side effect.
type Handler func(params json.RawMessage) error
