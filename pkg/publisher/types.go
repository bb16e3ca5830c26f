// Package publisher implements the Output Publisher (spec.md §4.13): the
// gate between the reasoning pipeline and execution. It validates a
// ReasoningResult, routes it to the Review Manager or straight to
// execution, and keeps an audit trail of every publication decision.
package publisher

import (
	"time"

	"github.com/opsagent/signalops/pkg/eventbus"
)

// RetryPolicy is the fixed retry contract attached to every FormattedAction.
type RetryPolicy struct {
	MaxAttempts int `json:"maxAttempts"`
	BackoffMs   int `json:"backoffMs"`
}

// ActionContext carries the provenance the router and audit trail need.
type ActionContext struct {
	SignalID   string  `json:"signalId"`
	Source     string  `json:"source"`
	Urgency    string  `json:"urgency"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// FormattedAction is the spec.md §4.13 execution-ready payload emitted on
// action:ready.
type FormattedAction struct {
	ActionID      string            `json:"actionId"`
	ActionType    string            `json:"actionType"`
	Platform      string            `json:"platform"`
	Parameters    map[string]any    `json:"parameters"`
	Context       ActionContext     `json:"context"`
	Priority      eventbus.Priority `json:"priority"`
	CorrelationID string            `json:"correlationId"`
	RetryPolicy   RetryPolicy       `json:"retryPolicy"`
}

// ValidationResult is the spec.md §4.13 step-1 output.
type ValidationResult struct {
	Errors        []string `json:"errors,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	MissingFields []string `json:"missingFields,omitempty"`
}

func (v ValidationResult) valid() bool { return len(v.Errors) == 0 && len(v.MissingFields) == 0 }

// Config holds the confidence thresholds gating Publish's auto-execute
// decision (spec.md §6: CONFIDENCE_AUTO_EXECUTE/_REQUIRE_APPROVAL/_REJECT).
type Config struct {
	// ConfidenceAutoExecute is the floor above which a decision bypasses
	// review entirely, provided the decision maker didn't itself require
	// approval.
	ConfidenceAutoExecute float64
	// ConfidenceRequireApproval forces a decision into review regardless of
	// the decision maker's own requiresApproval flag.
	ConfidenceRequireApproval float64
	// ConfidenceReject is the floor below which a decision is rejected
	// outright rather than queued for review.
	ConfidenceReject float64
}

// DefaultConfig returns spec.md §6's documented thresholds.
func DefaultConfig() Config {
	return Config{ConfidenceAutoExecute: 0.8, ConfidenceRequireApproval: 0.5, ConfidenceReject: 0.3}
}

// Outcome is the spec.md §4.13 step-3/4 disposition of one publication.
type Outcome string

const (
	OutcomeRejected        Outcome = "rejected"
	OutcomePendingApproval Outcome = "pending_approval"
	OutcomeReady           Outcome = "ready"
	OutcomeFailed          Outcome = "failed"
)

// urgencyPriority is the spec.md §4.13 urgency-to-event-priority mapping.
var urgencyPriority = map[string]eventbus.Priority{
	"critical": eventbus.PriorityHigh,
	"high":     eventbus.PriorityHigh,
	"medium":   eventbus.PriorityNormal,
	"low":      eventbus.PriorityLow,
}

func priorityForUrgency(urgency string) eventbus.Priority {
	if p, ok := urgencyPriority[urgency]; ok {
		return p
	}
	return eventbus.PriorityNormal
}
