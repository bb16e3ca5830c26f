package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/opsagent/signalops/pkg/decision"
	"github.com/opsagent/signalops/pkg/eventbus"
	"github.com/opsagent/signalops/pkg/reasoning"
	"github.com/opsagent/signalops/pkg/review"
)

const (
	defaultRetryInterval = 5 * time.Second
	maxRetryAttempts     = 3
)

// Publisher is the Output Publisher (M6).
type Publisher struct {
	hub           *eventbus.Hub
	review        *review.Manager
	audit         *auditLog
	log           *zap.Logger
	retryInterval time.Duration
	cfg           Config
}

// New constructs a Publisher. db may be nil (audit entries stay in
// memory only).
func New(hub *eventbus.Hub, reviewMgr *review.Manager, db *sqlx.DB, cfg Config, log *zap.Logger) *Publisher {
	return &Publisher{hub: hub, review: reviewMgr, audit: newAuditLog(db, log), log: log, retryInterval: defaultRetryInterval, cfg: cfg}
}

// SetRetryIntervalForTest overrides the action:ready retry interval so
// tests don't wait on the real 5s schedule.
func (p *Publisher) SetRetryIntervalForTest(d time.Duration) { p.retryInterval = d }

// Validate implements spec.md §4.13 step 1.
func Validate(result reasoning.Result) ValidationResult {
	var v ValidationResult

	if result.Signal.ID == "" {
		v.MissingFields = append(v.MissingFields, "signal")
	}
	if result.DecisionStage == nil {
		v.MissingFields = append(v.MissingFields, "decision")
		return v
	}
	d := result.DecisionStage
	if !allowedAction(d.Action) {
		v.Errors = append(v.Errors, fmt.Sprintf("action %q is not in the allowed set", d.Action))
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		v.Errors = append(v.Errors, "confidence out of [0,1]")
	}
	return v
}

func allowedAction(a decision.Action) bool {
	switch a {
	case decision.ActionCreateTask, decision.ActionSendNotification, decision.ActionUpdateSheet,
		decision.ActionFileDocument, decision.ActionDelegate, decision.ActionEscalate, decision.ActionIgnore:
		return true
	default:
		return false
	}
}

// Publish runs the full spec.md §4.13 pipeline for one ReasoningResult.
func (p *Publisher) Publish(ctx context.Context, result reasoning.Result) (Outcome, error) {
	correlationID := uuid.NewString()
	source := string(result.Signal.Source)

	v := Validate(result)
	if !v.valid() {
		p.emit("action:rejected", eventbus.PriorityNormal, map[string]any{"validation": v, "signalId": result.Signal.ID})
		p.audit.record(AuditEntry{
			CorrelationID: correlationID, SignalID: result.Signal.ID, Status: OutcomeRejected,
			Source: source, Payload: v, CreatedAt: time.Now(),
		})
		return OutcomeRejected, nil
	}

	d := result.DecisionStage
	if d.Confidence < p.cfg.ConfidenceReject {
		v.Errors = append(v.Errors, "confidence below reject threshold")
		p.emit("action:rejected", eventbus.PriorityNormal, map[string]any{"validation": v, "signalId": result.Signal.ID})
		p.audit.record(AuditEntry{
			CorrelationID: correlationID, SignalID: result.Signal.ID, Status: OutcomeRejected,
			Source: source, Payload: v, CreatedAt: time.Now(),
		})
		return OutcomeRejected, nil
	}

	requiresApproval := d.RequiresApproval || d.Confidence < p.cfg.ConfidenceRequireApproval
	autoExecutable := !requiresApproval && d.Confidence >= p.cfg.ConfidenceAutoExecute
	if !autoExecutable {
		reasons := reasonsFor(*d, p.cfg)
		item := p.review.QueueForReview(result, reasons, "")
		p.emit("review:pending", eventbus.PriorityHigh, item)
		p.audit.record(AuditEntry{
			CorrelationID: correlationID, SignalID: result.Signal.ID, Status: OutcomePendingApproval,
			Source: source, Payload: item, CreatedAt: time.Now(),
		})
		return OutcomePendingApproval, nil
	}

	action := buildFormattedAction(result, correlationID)
	if err := p.publishWithRetry(ctx, action); err != nil {
		p.audit.record(AuditEntry{
			CorrelationID: correlationID, SignalID: result.Signal.ID, Status: OutcomeFailed,
			Source: source, Payload: map[string]any{"error": err.Error()}, CreatedAt: time.Now(),
		})
		return OutcomeFailed, err
	}

	p.audit.record(AuditEntry{
		CorrelationID: correlationID, SignalID: result.Signal.ID, Status: OutcomeReady,
		Source: source, Payload: action, CreatedAt: time.Now(),
	})
	return OutcomeReady, nil
}

// publishWithRetry emits action:ready, retrying on a fixed interval up to
// maxRetryAttempts on a transient event-bus fault (spec.md §4.13 retry
// clause).
func (p *Publisher) publishWithRetry(ctx context.Context, action FormattedAction) error {
	b := backoff.NewConstantBackOff(p.retryInterval)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := p.emit("action:ready", action.Priority, action); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(maxRetryAttempts)))
	return err
}

func (p *Publisher) emit(eventType string, priority eventbus.Priority, data any) error {
	if p.hub == nil {
		return fmt.Errorf("publisher: event hub unavailable")
	}
	p.hub.EmitEvent(eventbus.Event{Source: "publisher", Type: eventType, Data: data, Priority: priority})
	return nil
}

// AuditEntries returns audit entries matching f, newest-last.
func (p *Publisher) AuditEntries(f AuditFilters) []AuditEntry {
	return p.audit.entriesMatching(f)
}

func buildFormattedAction(result reasoning.Result, correlationID string) FormattedAction {
	d := result.DecisionStage
	cls := result.ClassificationStage

	platform := "default"
	if pl, ok := d.ActionParams["platform"].(string); ok && pl != "" {
		platform = pl
	}

	urgency := ""
	if cls != nil {
		urgency = string(cls.Urgency)
	}

	return FormattedAction{
		ActionID:   uuid.NewString(),
		ActionType: string(d.Action),
		Platform:   platform,
		Parameters: d.ActionParams,
		Context: ActionContext{
			SignalID:   result.Signal.ID,
			Source:     string(result.Signal.Source),
			Urgency:    urgency,
			Confidence: d.Confidence,
			Reasoning:  d.Reasoning,
		},
		Priority:      priorityForUrgency(urgency),
		CorrelationID: correlationID,
		RetryPolicy:   RetryPolicy{MaxAttempts: 3, BackoffMs: 1000},
	}
}

// reasonsFor maps a Decision's validation outcome to review.Reason values,
// bridging M3's validation vocabulary to M5's (spec.md §4.10 -> §4.12).
func reasonsFor(d decision.Decision, cfg Config) []review.Reason {
	var reasons []review.Reason
	if d.Validation.Blocker != "" {
		reasons = append(reasons, review.ReasonPolicyViolation)
	}
	for _, w := range d.Validation.Warnings {
		if w == decision.WarningLowConfidence {
			reasons = append(reasons, review.ReasonLowConfidence)
		}
	}
	if d.Confidence < cfg.ConfidenceRequireApproval && len(reasons) == 0 {
		reasons = append(reasons, review.ReasonLowConfidence)
	}
	return reasons
}
