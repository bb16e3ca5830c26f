// Package budget enforces the daily token ceiling spec.md §4.5 describes:
// every prompt is estimated before it is sent, usage accumulates through the
// day, a warning fires once 80% of the ceiling is crossed, and the counter
// resets at local midnight.
package budget

import (
	"errors"
	"sync"
	"time"

	"github.com/opsagent/signalops/pkg/llm"
	"github.com/opsagent/signalops/pkg/store"
	"go.uber.org/zap"
)

// ErrBudgetExceeded is returned by Check when spending the estimated tokens
// would cross the daily ceiling.
var ErrBudgetExceeded = errors.New("budget: daily token ceiling exceeded")

const warnThreshold = 0.8

// defaultProvider is the bucket used by the provider-agnostic Check/Record/
// Used convenience methods, for callers that track one undifferentiated
// stream of usage rather than per-provider.
const defaultProvider = "default"

// snapshot is the on-disk shape persisted via store.WriteJSONAtomic so usage
// survives a process restart within the same day. UsedTokens is keyed by
// provider name, per spec.md §3's "per-day per-provider counters" and §6's
// "JSON object keyed by date, with per-provider counters".
type snapshot struct {
	Day        string         `json:"day"`
	UsedTokens map[string]int `json:"used_tokens"`
	Warned     map[string]bool `json:"warned"`
}

// Tracker accumulates estimated-token spend per provider against a shared
// daily ceiling (spec.md §4.5: every provider is checked against the same
// dailyLimit, independently).
type Tracker struct {
	mu       sync.Mutex
	maxDaily int
	used     map[string]int
	warned   map[string]bool
	day      string
	path     string
	log      *zap.Logger
	now      func() time.Time
}

// NewTracker loads any existing snapshot at path, discarding it if it
// belongs to a prior day.
func NewTracker(maxDaily int, path string, log *zap.Logger) (*Tracker, error) {
	t := &Tracker{
		maxDaily: maxDaily,
		path:     path,
		log:      log,
		now:      time.Now,
		used:     make(map[string]int),
		warned:   make(map[string]bool),
	}
	var snap snapshot
	if err := store.ReadJSON(path, &snap); err != nil {
		return nil, err
	}
	today := t.now().Local().Format("2006-01-02")
	if snap.Day == today {
		for provider, used := range snap.UsedTokens {
			t.used[provider] = used
		}
		for provider, warned := range snap.Warned {
			t.warned[provider] = warned
		}
	}
	t.day = today
	return t, nil
}

// EstimateTokens estimates the prompt-side cost of a chat request before it
// is sent (spec.md §4.5 step: "Estimate prompt tokens with L5.countMessageTokens").
func EstimateTokens(messages []llm.Message) int {
	return CountMessageTokens(messages)
}

// CheckResult is the spec.md §4.5 checkBudget() return shape.
type CheckResult struct {
	Allowed         bool
	RemainingTokens int
	PercentUsed     float64
	EstimatedCost   float64
	Reason          string
}

// CheckBudget reports whether spending estimatedTokens against provider
// would stay within the daily ceiling, per spec.md §4.5: rejects if that
// provider's usage today is already at or past the ceiling, or would cross
// it. Each provider is checked independently against the same dailyLimit
// (spec.md §3: "per-day per-provider counters").
func (t *Tracker) CheckBudget(estimatedTokens int, provider, model string, pricing llm.PricingTable) CheckResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	used := t.used[provider]
	cost := pricing.EstimateOutbound(provider, model, estimatedTokens)
	res := CheckResult{
		RemainingTokens: t.maxDaily - used,
		EstimatedCost:   cost,
	}
	if t.maxDaily > 0 {
		res.PercentUsed = float64(used) / float64(t.maxDaily)
	}

	if t.maxDaily <= 0 {
		res.Allowed = true
		return res
	}
	if used >= t.maxDaily {
		res.Reason = "daily token ceiling already reached"
		return res
	}
	if used+estimatedTokens > t.maxDaily {
		res.Reason = "request would exceed daily token ceiling"
		return res
	}
	res.Allowed = true
	return res
}

// TrackUsage increments provider's counter with actual usage and persists
// the snapshot (spec.md §4.5 trackUsage()).
func (t *Tracker) TrackUsage(tokens int, provider string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return t.recordLocked(provider, tokens)
}

// Check verifies that spending estimatedTokens would not exceed the daily
// ceiling across every provider tracked so far, rolling the counter over
// first if the local day has changed. It does not reserve the tokens; call
// Record after the call completes with the actual usage.
func (t *Tracker) Check(estimatedTokens int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	if t.maxDaily > 0 && t.totalUsedLocked()+estimatedTokens > t.maxDaily {
		return ErrBudgetExceeded
	}
	return nil
}

// Record adds actualTokens to today's usage under the default provider
// bucket and persists the snapshot, emitting a one-time warning once that
// bucket crosses 80% of the ceiling.
func (t *Tracker) Record(actualTokens int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return t.recordLocked(defaultProvider, actualTokens)
}

func (t *Tracker) recordLocked(provider string, tokens int) error {
	t.used[provider] += tokens
	used := t.used[provider]

	if t.maxDaily > 0 && !t.warned[provider] && float64(used) >= warnThreshold*float64(t.maxDaily) {
		t.warned[provider] = true
		if t.log != nil {
			t.log.Warn("daily token budget 80% consumed",
				zap.String("provider", provider), zap.Int("used", used), zap.Int("max_daily", t.maxDaily))
		}
	}

	return store.WriteJSONAtomic(t.path, snapshot{
		Day:        t.day,
		UsedTokens: t.used,
		Warned:     t.warned,
	})
}

// Used returns today's accumulated token usage across every provider.
func (t *Tracker) Used() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return t.totalUsedLocked()
}

// UsedByProvider returns today's accumulated token usage for one provider.
func (t *Tracker) UsedByProvider(provider string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return t.used[provider]
}

func (t *Tracker) totalUsedLocked() int {
	total := 0
	for _, used := range t.used {
		total += used
	}
	return total
}

// SetNowForTest overrides the tracker's clock. Exported for tests in this
// package only; production callers never need it.
func (t *Tracker) SetNowForTest(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

func (t *Tracker) rolloverLocked() {
	today := t.now().Local().Format("2006-01-02")
	if today == t.day {
		return
	}
	t.day = today
	t.used = make(map[string]int)
	t.warned = make(map[string]bool)
}
