package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsagent/signalops/pkg/llm"
)

var validate = validator.New()

// ErrDecisionFailed is returned when the LLM output cannot be parsed or
// fails validation.
type ErrDecisionFailed struct{ Cause error }

func (e *ErrDecisionFailed) Error() string { return "decision failed: " + e.Cause.Error() }
func (e *ErrDecisionFailed) Unwrap() error { return e.Cause }
func (e *ErrDecisionFailed) Retriable() bool { return false }

// ChatFunc matches the signature a circuit-breaker-wrapped gateway exposes.
type ChatFunc func(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error)

// Maker is the Decision Maker (M3).
type Maker struct {
	chatFn ChatFunc
	cfg    Config
	policy *policyChecker
	model  string
	log    *zap.Logger
}

// New constructs a Maker. The OPA policy query used for the forbidden-target
// check is prepared once at construction.
func New(ctx context.Context, chatFn ChatFunc, cfg Config, model string, log *zap.Logger) (*Maker, error) {
	pc, err := newPolicyChecker(ctx)
	if err != nil {
		return nil, err
	}
	return &Maker{chatFn: chatFn, cfg: cfg, policy: pc, model: model, log: log}, nil
}

// Decide implements spec.md §4.10's four-step behavior.
func (m *Maker) Decide(ctx context.Context, in Input) (Decision, error) {
	started := time.Now()

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: decisionSystemPrompt},
		{Role: llm.RoleUser, Content: buildPrompt(in)},
	}

	resp, err := m.chatFn(ctx, messages, llm.ChatOptions{Model: m.model, ResponseFormat: llm.FormatJSON})
	if err != nil {
		return Decision{}, &ErrDecisionFailed{Cause: err}
	}
	if resp.ParseError != nil {
		return Decision{}, &ErrDecisionFailed{Cause: resp.ParseError}
	}

	var raw rawDecision
	if err := json.Unmarshal(resp.JSON, &raw); err != nil {
		return Decision{}, &ErrDecisionFailed{Cause: err}
	}

	action := Action(raw.Action)
	if !allowedActions[action] {
		return Decision{}, &ErrDecisionFailed{Cause: fmt.Errorf("action %q is not in the allowed set", raw.Action)}
	}
	if raw.ActionParams == nil {
		raw.ActionParams = map[string]any{}
	}
	if action == ActionIgnore {
		raw.ActionParams = map[string]any{}
	}

	d := Decision{
		DecisionID:   uuid.NewString(),
		SignalID:     in.SignalID,
		Action:       action,
		ActionParams: raw.ActionParams,
		Reasoning:    raw.Reasoning,
		Confidence:   raw.Confidence,
		Timestamp:    time.Now(),
	}
	if err := validate.Struct(d); err != nil {
		return Decision{}, &ErrDecisionFailed{Cause: err}
	}

	validation, err := m.applyValidationRules(ctx, &d)
	if err != nil {
		return Decision{}, err
	}
	d.Validation = validation
	d.RequiresApproval = validation.RequiresApproval
	d.ProcessingTime = time.Since(started)

	return d, nil
}

// applyValidationRules implements spec.md §4.10 step 3, mutating d.Action
// and d.ActionParams when a policy blocker fires.
func (m *Maker) applyValidationRules(ctx context.Context, d *Decision) (ValidationResult, error) {
	result := ValidationResult{}

	if d.Action == ActionFileDocument && touchesMoney(d.ActionParams) {
		result.RequiresApproval = true
	}
	if d.Action == ActionDelegate {
		result.RequiresApproval = true
	}

	if d.Confidence < 0.7 {
		result.RequiresApproval = true
	}
	if d.Confidence < 0.5 {
		result.Warnings = append(result.Warnings, WarningLowConfidence)
	}

	blocked, err := m.policy.blocked(ctx, d.ActionParams, m.cfg.ForbiddenTargets)
	if err != nil {
		if m.log != nil {
			m.log.Warn("policy evaluation failed, treating as not blocked", zap.Error(err))
		}
	} else if blocked {
		result.Blocker = "forbidden_target"
		d.Action = ActionIgnore
		d.ActionParams = map[string]any{}
		d.Reasoning = "blocked by policy"
	}

	return result, nil
}

const decisionSystemPrompt = `You are a decision engine mapping a classified signal to one action. Respond only with JSON: {"action":"create_task|send_notification|update_sheet|file_document|delegate|escalate|ignore","action_params":{...},"confidence":0.0-1.0,"reasoning":"10-500 chars"}.`

func buildPrompt(in Input) string {
	return fmt.Sprintf(
		"signal_id=%s\nsender=%s\nurgency=%s\nimportance=%s\ncategory=%s\nclassification_confidence=%.2f\nclassification_reasoning=%s",
		in.SignalID, in.SignalSender, in.Classification.Urgency, in.Classification.Importance,
		in.Classification.Category, in.Classification.Confidence, in.Classification.Reasoning,
	)
}
