// Package queuemgr implements the Queue Manager (spec.md §4.15): a
// durable priority queue that executes approved actions through the
// Action Router with bounded concurrency and per-platform rate limits.
package queuemgr

import (
	"time"

	"github.com/opsagent/signalops/pkg/reasoning"
)

// Status is the closed QueuedAction.status enum.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// QueuedAction is the spec.md §3 QueuedAction, owned by H2 until it
// terminates.
type QueuedAction struct {
	ActionID        string           `json:"actionId"`
	ReasoningResult reasoning.Result `json:"reasoningResult"`
	Priority        int              `json:"priority"`
	Status          Status           `json:"status"`
	Attempts        int              `json:"attempts"`
	CreatedAt       time.Time        `json:"createdAt"`
	LastAttemptAt   *time.Time       `json:"lastAttemptAt,omitempty"`
	ExecutedAt      *time.Time       `json:"executedAt,omitempty"`
	NextAttemptAt   *time.Time       `json:"nextAttemptAt,omitempty"`
}

// Stats is the spec.md §4.15 stats() output.
type Stats struct {
	Pending          int            `json:"pending"`
	Executing        int            `json:"executing"`
	Completed        int            `json:"completed"`
	Failed           int            `json:"failed"`
	Total            int            `json:"total"`
	AvgWaitTime      time.Duration  `json:"avgWaitTime"`
	OldestPendingAge *time.Duration `json:"oldestPendingAge,omitempty"`
}

// Config holds the H2 scheduling tunables (spec.md §4.15 and §6).
type Config struct {
	MaxConcurrent      int
	MaxAttempts        int
	BackoffBase        time.Duration
	ProcessingInterval time.Duration
	MinInterval        map[string]time.Duration // per-platform rate limit
}

// DefaultConfig returns spec.md §6's documented queue-manager defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:      5,
		MaxAttempts:        3,
		BackoffBase:        time.Second,
		ProcessingInterval: 2 * time.Second,
		MinInterval:        map[string]time.Duration{},
	}
}

func (c Config) minIntervalFor(platform string) time.Duration {
	if d, ok := c.MinInterval[platform]; ok {
		return d
	}
	return 0
}

const defaultPriority = 3
