// Package review implements the Review Manager (spec.md §4.12): a
// human-approval queue for decisions that are low-confidence or
// high-impact, with risk-tiered auto-expiration and outcome statistics.
package review

import (
	"time"

	"github.com/opsagent/signalops/pkg/reasoning"
)

// Reason is a closed set of reasons a decision was routed to review.
type Reason string

const (
	ReasonHighImpact              Reason = "high_impact"
	ReasonPolicyViolation         Reason = "policy_violation"
	ReasonConflictingClassification Reason = "conflicting_classification"
	ReasonLargeScope              Reason = "large_scope"
	ReasonLowConfidence           Reason = "low_confidence"
	ReasonUnknownSender           Reason = "unknown_sender"
)

// Status is the closed ReviewItem.status enum.
type Status string

const (
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusAutoApproved Status = "auto_approved"
	StatusAutoRejected Status = "auto_rejected"
	StatusExpired      Status = "expired"
)

// terminal reports whether a status can no longer transition (spec.md
// §3 invariant: "transitions are monotone away from pending").
func (s Status) terminal() bool { return s != StatusPending }

// RiskLevel is the closed risk-tier enum.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// expiryTiers is the spec.md §4.12 auto-expiration tier table. critical
// has no entry: it never auto-transitions.
var expiryTiers = map[RiskLevel]time.Duration{
	RiskLow:    time.Hour,
	RiskMedium: 4 * time.Hour,
	RiskHigh:   24 * time.Hour,
}

// rank orders risk levels for queue sort, critical first.
func (r RiskLevel) rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// ReviewItem is the spec.md §3 ReviewItem.
type ReviewItem struct {
	ReviewID         string             `json:"reviewId"`
	SignalID         string             `json:"signalId"`
	Status           Status             `json:"status"`
	Reasons          []Reason           `json:"reasons"`
	RiskLevel        RiskLevel          `json:"riskLevel"`
	ReasoningResult  reasoning.Result   `json:"reasoningResult"`
	QueuedAt         time.Time          `json:"queuedAt"`
	ExpiresAt        *time.Time         `json:"expiresAt,omitempty"`
	ReviewedAt       *time.Time         `json:"reviewedAt,omitempty"`
	Reviewer         string             `json:"reviewer,omitempty"`
	Modifications    map[string]any     `json:"modifications,omitempty"`
	RejectionReason  string             `json:"rejectionReason,omitempty"`
	// Stale marks a pending high-risk item that has passed its expiresAt
	// without being time-sensitive (spec.md §4.12: it does not auto-reject,
	// but GetQueue flags it for manual escalation).
	Stale bool `json:"stale,omitempty"`
}

// Filters narrows getQueue results.
type Filters struct {
	Status    Status
	RiskLevel RiskLevel
}

// WaitTimeStats summarizes how long reviewed items waited in the queue.
type WaitTimeStats struct {
	Mean   time.Duration `json:"mean"`
	Median time.Duration `json:"median"`
	Max    time.Duration `json:"max"`
}

// Stats is the spec.md §4.12 getStats() output.
type Stats struct {
	CountsByStatus map[Status]int    `json:"countsByStatus"`
	WaitTime       WaitTimeStats     `json:"waitTime"`
	ApprovalRate   float64           `json:"approvalRate"`
	RejectionRate  float64           `json:"rejectionRate"`
	RiskCounts     map[RiskLevel]int `json:"riskCounts"`
	ReasonCounts   map[Reason]int    `json:"reasonCounts"`
}
