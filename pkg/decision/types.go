// Package decision implements the Decision Maker (spec.md §4.10): it maps
// a (Signal, Classification) pair to a validated Decision, running the
// validation rules that drive approval and policy-blocker behavior.
package decision

import (
	"time"

	"github.com/opsagent/signalops/pkg/classifier"
)

// Action is the closed action-type enum (spec.md §3).
type Action string

const (
	ActionCreateTask        Action = "create_task"
	ActionSendNotification  Action = "send_notification"
	ActionUpdateSheet       Action = "update_sheet"
	ActionFileDocument      Action = "file_document"
	ActionDelegate          Action = "delegate"
	ActionEscalate          Action = "escalate"
	ActionIgnore            Action = "ignore"
)

var allowedActions = map[Action]bool{
	ActionCreateTask: true, ActionSendNotification: true, ActionUpdateSheet: true,
	ActionFileDocument: true, ActionDelegate: true, ActionEscalate: true, ActionIgnore: true,
}

// Warning is a closed set of validation-rule warnings.
type Warning string

const (
	WarningLowConfidence Warning = "low_confidence"
)

// ValidationResult is the spec.md §4.10 step-3 output.
type ValidationResult struct {
	RequiresApproval bool      `json:"requiresApproval"`
	Warnings         []Warning `json:"warnings,omitempty"`
	Blocker          string    `json:"blocker,omitempty"`
}

// Decision is the spec.md §3 Decision.
type Decision struct {
	DecisionID       string                 `json:"decisionId"`
	SignalID         string                 `json:"signalId"`
	Action           Action                 `json:"action" validate:"required"`
	ActionParams     map[string]any         `json:"actionParams"`
	RequiresApproval bool                   `json:"requiresApproval"`
	Reasoning        string                 `json:"reasoning" validate:"required,min=10,max=500"`
	Confidence       float64                `json:"confidence" validate:"gte=0,lte=1"`
	Timestamp        time.Time              `json:"timestamp"`
	Validation       ValidationResult       `json:"validation"`
	ProcessingTime   time.Duration          `json:"processingTime"`
}

// rawDecision is the shape the LLM is asked to emit.
type rawDecision struct {
	Action       string         `json:"action"`
	ActionParams map[string]any `json:"action_params"`
	Confidence   float64        `json:"confidence"`
	Reasoning    string         `json:"reasoning"`
}

// Input bundles what the prompt and validation rules need.
type Input struct {
	SignalID       string
	SignalSender   string
	Classification classifier.Classification
}

// Config holds the policy tunables (spec.md §6: forbidden targets).
type Config struct {
	ForbiddenTargets []string
}
