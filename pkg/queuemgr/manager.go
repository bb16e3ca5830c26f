package queuemgr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/opsagent/signalops/pkg/reasoning"
	"github.com/opsagent/signalops/pkg/router"
	"github.com/opsagent/signalops/pkg/store"
)

// Manager is the Queue Manager (H2).
type Manager struct {
	snapshotPath string
	router       *router.Router
	cfg          Config
	log          *zap.Logger
	now          func() time.Time

	mu          sync.Mutex
	items       map[string]*QueuedAction
	lastExecAt  map[string]time.Time // platform -> last dispatch time

	paused atomic.Bool

	stop chan struct{}
	done chan struct{}
}

// New constructs a Manager, restoring any persisted queue (spec.md §4.15
// init). Items left "executing" by a crash are reset to pending.
func New(snapshotPath string, r *router.Router, cfg Config, log *zap.Logger) (*Manager, error) {
	m := &Manager{
		snapshotPath: snapshotPath,
		router:       r,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
		items:        make(map[string]*QueuedAction),
		lastExecAt:   make(map[string]time.Time),
	}

	var persisted []*QueuedAction
	if err := store.ReadJSON(snapshotPath, &persisted); err != nil {
		return nil, fmt.Errorf("queuemgr: load snapshot: %w", err)
	}
	for _, it := range persisted {
		if it.Status == StatusExecuting {
			it.Status = StatusPending
		}
		m.items[it.ActionID] = it
	}
	return m, nil
}

// SetNowForTest overrides the clock used for timestamps and rate limiting.
func (m *Manager) SetNowForTest(now func() time.Time) { m.now = now }

// Enqueue admits a reasoning result for execution, defaulting priority to
// 3 (1 is highest) per spec.md §4.15.
func (m *Manager) Enqueue(result reasoning.Result, priority int) (string, error) {
	if priority <= 0 {
		priority = defaultPriority
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &QueuedAction{
		ActionID:        uuid.NewString(),
		ReasoningResult: result,
		Priority:        priority,
		Status:          StatusPending,
		CreatedAt:       m.now(),
	}
	m.items[item.ActionID] = item
	m.persistLocked()
	return item.ActionID, nil
}

// Start launches the periodic scheduling tick.
func (m *Manager) Start(ctx context.Context) {
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.tickLoop(ctx)
}

func (m *Manager) tickLoop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.ProcessingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.ProcessQueue(ctx)
		}
	}
}

// Shutdown stops the scheduling tick and flushes the queue to disk
// (spec.md §4.15 shutdown).
func (m *Manager) Shutdown() {
	if m.stop != nil {
		close(m.stop)
		<-m.done
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistLocked()
}

// Pause stops ProcessQueue from dispatching new work; in-flight actions
// still complete.
func (m *Manager) Pause() { m.paused.Store(true) }

// Resume re-enables dispatch.
func (m *Manager) Resume() { m.paused.Store(false) }

// Clear removes pending (not executing) items from the queue.
func (m *Manager) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int
	for id, it := range m.items {
		if it.Status == StatusPending {
			delete(m.items, id)
			removed++
		}
	}
	m.persistLocked()
	return removed
}

// ProcessQueue runs one spec.md §4.15 scheduling tick: sorts pending
// actions by priority ascending then createdAt ascending, dispatches up
// to cfg.MaxConcurrent through the router subject to per-platform rate
// limits, and applies the retry/backoff rules on failure.
func (m *Manager) ProcessQueue(ctx context.Context) {
	if m.paused.Load() {
		return
	}

	candidates := m.dueCandidates()
	if len(candidates) == 0 {
		return
	}

	sem := semaphore.NewWeighted(int64(m.cfg.MaxConcurrent))
	var wg sync.WaitGroup
	for _, item := range candidates {
		platform := platformOf(item)
		if !m.mayDispatch(platform) {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		m.markExecuting(item)
		m.markDispatched(platform)

		wg.Add(1)
		go func(item *QueuedAction) {
			defer wg.Done()
			defer sem.Release(1)
			m.dispatch(ctx, item)
		}(item)
	}
	wg.Wait()
}

// dueCandidates returns a priority-ordered snapshot of pending items
// whose scheduled retry time (if any) has elapsed.
func (m *Manager) dueCandidates() []*QueuedAction {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []*QueuedAction
	for _, it := range m.items {
		if it.Status != StatusPending {
			continue
		}
		if it.NextAttemptAt != nil && now.Before(*it.NextAttemptAt) {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) mayDispatch(platform string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastExecAt[platform]
	if !ok {
		return true
	}
	return m.now().Sub(last) >= m.cfg.minIntervalFor(platform)
}

func (m *Manager) markDispatched(platform string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastExecAt[platform] = m.now()
}

func (m *Manager) markExecuting(item *QueuedAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.Status = StatusExecuting
	t := m.now()
	item.LastAttemptAt = &t
	m.persistLocked()
}

func (m *Manager) dispatch(ctx context.Context, item *QueuedAction) {
	d := item.ReasoningResult.DecisionStage
	var result router.Result
	if d == nil {
		result = router.Result{Success: false, Error: "missing decision stage"}
	} else {
		result = m.router.RouteAction(ctx, *d)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if result.Success {
		item.Status = StatusCompleted
		t := m.now()
		item.ExecutedAt = &t
		m.persistLocked()
		return
	}

	item.Attempts++
	if item.Attempts < m.cfg.MaxAttempts {
		delay := m.cfg.BackoffBase * time.Duration(1<<(item.Attempts-1))
		next := m.now().Add(delay)
		item.NextAttemptAt = &next
		item.Status = StatusPending
	} else {
		item.Status = StatusFailed
		if m.log != nil {
			m.log.Warn("queuemgr: action exhausted retries", zap.String("action_id", item.ActionID), zap.String("error", result.Error))
		}
	}
	m.persistLocked()
}

// Stats implements spec.md §4.15's stats() summary.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	var waitSum time.Duration
	var waitCount int
	var oldestPending *time.Duration
	now := m.now()

	for _, it := range m.items {
		s.Total++
		switch it.Status {
		case StatusPending:
			s.Pending++
			age := now.Sub(it.CreatedAt)
			if oldestPending == nil || age > *oldestPending {
				oldestPending = &age
			}
		case StatusExecuting:
			s.Executing++
		case StatusCompleted:
			s.Completed++
			if it.ExecutedAt != nil {
				waitSum += it.ExecutedAt.Sub(it.CreatedAt)
				waitCount++
			}
		case StatusFailed:
			s.Failed++
		}
	}
	if waitCount > 0 {
		s.AvgWaitTime = waitSum / time.Duration(waitCount)
	}
	s.OldestPendingAge = oldestPending
	return s
}

func (m *Manager) persistLocked() {
	snapshot := make([]*QueuedAction, 0, len(m.items))
	for _, it := range m.items {
		snapshot = append(snapshot, it)
	}
	if err := store.WriteJSONAtomic(m.snapshotPath, snapshot); err != nil && m.log != nil {
		m.log.Error("queuemgr: persist snapshot failed", zap.Error(err))
	}
}

func platformOf(item *QueuedAction) string {
	d := item.ReasoningResult.DecisionStage
	if d == nil {
		return "default"
	}
	if pl, ok := d.ActionParams["platform"].(string); ok && pl != "" {
		return pl
	}
	return "default"
}
