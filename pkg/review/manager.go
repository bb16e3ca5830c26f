package review

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/opsagent/signalops/pkg/classifier"
	"github.com/opsagent/signalops/pkg/decision"
	"github.com/opsagent/signalops/pkg/eventbus"
	"github.com/opsagent/signalops/pkg/reasoning"
	"github.com/opsagent/signalops/pkg/store"
)

const sweepInterval = 5 * time.Minute

// timeSensitiveCues are the closed-set body cues spec.md §4.12 names for
// deciding whether an expired high-risk item auto-rejects.
var timeSensitiveCues = []string{"asap", "urgent", "deadline", "immediate", "time-sensitive"}

// deadlineActions are action types spec.md treats as implying a deadline.
var deadlineActions = map[decision.Action]bool{
	decision.ActionEscalate: true,
}

// ErrNotFound is returned when a reviewId has no matching item.
type ErrNotFound struct{ ReviewID string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("review item %q not found", e.ReviewID) }

// ErrTerminal is returned when a transition is attempted on an item that
// has already left pending (spec.md §3: "transitions are monotone away
// from pending").
type ErrTerminal struct{ ReviewID string }

func (e *ErrTerminal) Error() string { return fmt.Sprintf("review item %q is no longer pending", e.ReviewID) }

// Manager is the Review Manager (M5).
type Manager struct {
	snapshotPath string
	db           *sqlx.DB
	hub          *eventbus.Hub
	log          *zap.Logger
	now          func() time.Time

	mu    sync.Mutex
	items map[string]*ReviewItem

	stop chan struct{}
	done chan struct{}
}

// New constructs a Manager, restoring any persisted queue. db may be nil
// (outcome statistics are then kept in memory only).
func New(snapshotPath string, db *sqlx.DB, hub *eventbus.Hub, log *zap.Logger) (*Manager, error) {
	m := &Manager{
		snapshotPath: snapshotPath,
		db:           db,
		hub:          hub,
		log:          log,
		now:          time.Now,
		items:        make(map[string]*ReviewItem),
	}

	var persisted []*ReviewItem
	if err := store.ReadJSON(snapshotPath, &persisted); err != nil {
		return nil, fmt.Errorf("review: load snapshot: %w", err)
	}
	for _, it := range persisted {
		// spec.md §5: items stuck "executing" at a crash are restored pending.
		if it.Status == "executing" {
			it.Status = StatusPending
		}
		m.items[it.ReviewID] = it
	}
	return m, nil
}

// SetNowForTest overrides the clock used for queuedAt/expiresAt/sweeps.
func (m *Manager) SetNowForTest(now func() time.Time) { m.now = now }

// Start launches the periodic auto-expiration sweeper.
func (m *Manager) Start() {
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.sweepLoop()
}

// Stop halts the sweeper.
func (m *Manager) Stop() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
}

func (m *Manager) sweepLoop() {
	defer close(m.done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.AutoExpire()
		}
	}
}

// QueueForReview admits a decision into the review queue. riskLevel, if
// empty, is computed from reasons and the decision's confidence.
func (m *Manager) QueueForReview(result reasoning.Result, reasons []Reason, riskLevel RiskLevel) ReviewItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	confidence := result.Metadata.Confidence
	if riskLevel == "" {
		riskLevel = determineRisk(reasons, confidence)
	}

	queuedAt := m.now()
	item := &ReviewItem{
		ReviewID:        uuid.NewString(),
		SignalID:        result.Signal.ID,
		Status:          StatusPending,
		Reasons:         reasons,
		RiskLevel:       riskLevel,
		ReasoningResult: result,
		QueuedAt:        queuedAt,
	}
	if d, ok := expiryTiers[riskLevel]; ok {
		exp := queuedAt.Add(d)
		item.ExpiresAt = &exp
	}

	m.items[item.ReviewID] = item
	m.persistLocked()
	m.emit("review:queued", eventbus.PriorityNormal, item)
	return *item
}

// determineRisk implements spec.md §4.12's risk-determination table.
func determineRisk(reasons []Reason, confidence float64) RiskLevel {
	has := func(rs ...Reason) bool {
		for _, want := range rs {
			for _, r := range reasons {
				if r == want {
					return true
				}
			}
		}
		return false
	}
	switch {
	case has(ReasonHighImpact, ReasonPolicyViolation):
		return RiskCritical
	case has(ReasonConflictingClassification, ReasonLargeScope) || confidence < 0.5:
		return RiskHigh
	case has(ReasonLowConfidence, ReasonUnknownSender) || confidence < 0.7:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Approve transitions a pending item to approved, recording modifications
// the reviewer made to the decision's action params.
func (m *Manager) Approve(reviewID, approver string, modifications map[string]any) (ReviewItem, error) {
	return m.resolve(reviewID, func(item *ReviewItem) {
		item.Status = StatusApproved
		item.Reviewer = approver
		item.Modifications = modifications
		t := m.now()
		item.ReviewedAt = &t
	}, "review:approved")
}

// Reject transitions a pending item to rejected.
func (m *Manager) Reject(reviewID, reviewer, reason string) (ReviewItem, error) {
	return m.resolve(reviewID, func(item *ReviewItem) {
		item.Status = StatusRejected
		item.Reviewer = reviewer
		item.RejectionReason = reason
		t := m.now()
		item.ReviewedAt = &t
	}, "review:rejected")
}

func (m *Manager) resolve(reviewID string, mutate func(*ReviewItem), eventType string) (ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[reviewID]
	if !ok {
		return ReviewItem{}, &ErrNotFound{ReviewID: reviewID}
	}
	if item.Status.terminal() {
		return ReviewItem{}, &ErrTerminal{ReviewID: reviewID}
	}

	mutate(item)
	m.persistLocked()
	m.recordOutcome(item)
	m.emit(eventType, eventbus.PriorityNormal, item)
	return *item, nil
}

// AutoExpire sweeps pending items past expiresAt, applying spec.md §4.12's
// per-tier expiry behavior.
func (m *Manager) AutoExpire() (autoApproved, autoRejected []ReviewItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, item := range m.items {
		if item.Status != StatusPending || item.ExpiresAt == nil || now.Before(*item.ExpiresAt) {
			continue
		}

		switch item.RiskLevel {
		case RiskLow, RiskMedium:
			item.Status = StatusAutoApproved
			t := now
			item.ReviewedAt = &t
			autoApproved = append(autoApproved, *item)
			m.emit("action:ready", eventbus.PriorityNormal, item)
		case RiskHigh:
			if isTimeSensitive(item.ReasoningResult) {
				item.Status = StatusAutoRejected
				t := now
				item.ReviewedAt = &t
				item.RejectionReason = "expired while time-sensitive"
				autoRejected = append(autoRejected, *item)
				m.emit("review:auto_rejected", eventbus.PriorityHigh, item)
			} else {
				// remains pending past expiry, surfaced for manual escalation.
				item.Stale = true
			}
		}
		m.recordOutcome(item)
	}
	if len(autoApproved) > 0 || len(autoRejected) > 0 {
		m.persistLocked()
	}
	return autoApproved, autoRejected
}

// isTimeSensitive implements spec.md §4.12's high-risk expiry test.
func isTimeSensitive(result reasoning.Result) bool {
	if result.ClassificationStage != nil {
		cls := result.ClassificationStage
		if cls.Urgency == classifier.UrgencyCritical || cls.RequiresImmediate {
			return true
		}
	}
	if result.DecisionStage != nil && deadlineActions[result.DecisionStage.Action] {
		return true
	}
	body := strings.ToLower(result.Signal.Body)
	for _, cue := range timeSensitiveCues {
		if strings.Contains(body, cue) {
			return true
		}
	}
	return false
}

// GetQueue returns items matching filters, ordered critical>high>medium>low
// with ties broken oldest-first.
func (m *Manager) GetQueue(filters Filters) []ReviewItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]ReviewItem, 0, len(m.items))
	for _, item := range m.items {
		if filters.Status != "" && item.Status != filters.Status {
			continue
		}
		if filters.RiskLevel != "" && item.RiskLevel != filters.RiskLevel {
			continue
		}
		entry := *item
		if entry.Status == StatusPending && entry.RiskLevel == RiskHigh && entry.ExpiresAt != nil &&
			now.After(*entry.ExpiresAt) && !isTimeSensitive(entry.ReasoningResult) {
			entry.Stale = true
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RiskLevel.rank() != out[j].RiskLevel.rank() {
			return out[i].RiskLevel.rank() > out[j].RiskLevel.rank()
		}
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out
}

// GetStats computes the spec.md §4.12 getStats() summary.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		CountsByStatus: make(map[Status]int),
		RiskCounts:     make(map[RiskLevel]int),
		ReasonCounts:   make(map[Reason]int),
	}

	var waits []time.Duration
	var approved, rejected, reviewed int

	for _, item := range m.items {
		stats.CountsByStatus[item.Status]++
		stats.RiskCounts[item.RiskLevel]++
		for _, r := range item.Reasons {
			stats.ReasonCounts[r]++
		}
		if item.ReviewedAt != nil {
			waits = append(waits, item.ReviewedAt.Sub(item.QueuedAt))
			reviewed++
			switch item.Status {
			case StatusApproved, StatusAutoApproved:
				approved++
			case StatusRejected, StatusAutoRejected:
				rejected++
			}
		}
	}

	if reviewed > 0 {
		stats.ApprovalRate = float64(approved) / float64(reviewed)
		stats.RejectionRate = float64(rejected) / float64(reviewed)
	}
	stats.WaitTime = waitTimeStats(waits)
	return stats
}

func waitTimeStats(waits []time.Duration) WaitTimeStats {
	if len(waits) == 0 {
		return WaitTimeStats{}
	}
	sort.Slice(waits, func(i, j int) bool { return waits[i] < waits[j] })

	var sum time.Duration
	max := waits[0]
	for _, w := range waits {
		sum += w
		if w > max {
			max = w
		}
	}
	mean := sum / time.Duration(len(waits))
	median := waits[len(waits)/2]
	return WaitTimeStats{Mean: mean, Median: median, Max: max}
}

func (m *Manager) persistLocked() {
	snapshot := make([]*ReviewItem, 0, len(m.items))
	for _, item := range m.items {
		snapshot = append(snapshot, item)
	}
	if err := store.WriteJSONAtomic(m.snapshotPath, snapshot); err != nil && m.log != nil {
		m.log.Error("review: persist snapshot failed", zap.Error(err))
	}
}

func (m *Manager) emit(eventType string, priority eventbus.Priority, item *ReviewItem) {
	if m.hub == nil {
		return
	}
	m.hub.EmitEvent(eventbus.Event{
		Source:   "review",
		Type:     eventType,
		Data:     *item,
		Priority: priority,
	})
}

// recordOutcome upserts the review_outcomes row for a reviewed item. A
// nil db or a write failure is non-fatal: the in-memory queue is the
// source of truth and statistics persistence is best-effort.
func (m *Manager) recordOutcome(item *ReviewItem) {
	if m.db == nil || item.ReviewedAt == nil {
		return
	}
	wait := item.ReviewedAt.Sub(item.QueuedAt).Seconds()
	_, err := m.db.ExecContext(context.Background(), `
		INSERT INTO review_outcomes (review_id, signal_id, risk_level, status, queued_at, reviewed_at, reviewer, wait_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (review_id) DO UPDATE SET
			status = EXCLUDED.status, reviewed_at = EXCLUDED.reviewed_at,
			reviewer = EXCLUDED.reviewer, wait_seconds = EXCLUDED.wait_seconds
	`, item.ReviewID, item.SignalID, string(item.RiskLevel), string(item.Status),
		item.QueuedAt, item.ReviewedAt, item.Reviewer, wait)
	if err != nil && m.log != nil {
		m.log.Warn("review: persist outcome failed", zap.Error(err))
	}
}
