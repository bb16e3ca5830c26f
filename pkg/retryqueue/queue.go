package retryqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsagent/signalops/pkg/store"
)

const tickInterval = 5 * time.Minute

// errHandlerMissing marks an attempt's failure as caused by no Handler
// being registered for the item's type, distinct from the handler itself
// returning an error.
var errHandlerMissing = errors.New("retryqueue: no handler registered")

// Queue is the Retry Queue. Construct with NewQueue and call Start to begin
// the periodic scheduler.
type Queue struct {
	snapshotPath string
	failedLogPath string
	log          *zap.Logger

	mu       sync.Mutex
	items    []Item
	handlers map[string]Handler
	running  atomic.Bool // re-entrancy guard: a run cannot overlap itself
	now      func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewQueue loads any persisted items from snapshotPath.
func NewQueue(snapshotPath, failedLogPath string, log *zap.Logger) (*Queue, error) {
	q := &Queue{
		snapshotPath:  snapshotPath,
		failedLogPath: failedLogPath,
		log:           log,
		now:           time.Now,
		handlers:      make(map[string]Handler),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	var items []Item
	if err := store.ReadJSON(snapshotPath, &items); err != nil {
		return nil, err
	}
	q.items = items
	return q, nil
}

// RegisterHandler maps an item type to the function that executes it.
func (q *Queue) RegisterHandler(itemType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[itemType] = h
}

// Enqueue appends a new item, persisting it immediately.
func (q *Queue) Enqueue(itemType string, params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("retryqueue: encode params: %w", err)
	}
	item := Item{
		ID:            uuid.NewString(),
		Type:          itemType,
		Params:        raw,
		NextAttemptAt: q.now(),
		CreatedAt:     q.now(),
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	items := append([]Item{}, q.items...)
	q.mu.Unlock()

	if err := store.WriteJSONAtomic(q.snapshotPath, items); err != nil {
		return item.ID, fmt.Errorf("retryqueue: persist: %w", err)
	}
	return item.ID, nil
}

// Start launches the scheduler: an immediate run, then every tickInterval.
func (q *Queue) Start() {
	go func() {
		q.RunOnce()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-q.stop:
				close(q.done)
				return
			case <-ticker.C:
				q.RunOnce()
			}
		}
	}()
}

// Stop halts the scheduler and waits for any in-flight run to finish.
func (q *Queue) Stop() {
	close(q.stop)
	<-q.done
}

// RunOnce processes every item whose NextAttemptAt has elapsed. It is a
// no-op if a run is already in progress (re-entrancy guard).
func (q *Queue) RunOnce() {
	if !q.running.CompareAndSwap(false, true) {
		return
	}
	defer q.running.Store(false)

	now := q.now()
	q.mu.Lock()
	due := make([]string, 0)
	for _, item := range q.items {
		if !item.NextAttemptAt.After(now) {
			due = append(due, item.ID)
		}
	}
	handlers := make(map[string]Handler, len(q.handlers))
	for k, v := range q.handlers {
		handlers[k] = v
	}
	q.mu.Unlock()

	// Items are looked up by ID because a finished item is removed from
	// q.items, which shifts the positions of the items after it.
	for _, id := range due {
		q.mu.Lock()
		idx := -1
		for i, item := range q.items {
			if item.ID == id {
				idx = i
				break
			}
		}
		q.mu.Unlock()
		if idx >= 0 {
			q.attempt(idx, handlers)
		}
	}
}

// retriabler is implemented by handler errors that know whether retrying
// could ever succeed, e.g. decision.ErrDecisionFailed or llm.ProviderError.
type retriabler interface {
	Retriable() bool
}

func (q *Queue) attempt(idx int, handlers map[string]Handler) {
	q.mu.Lock()
	if idx >= len(q.items) {
		q.mu.Unlock()
		return
	}
	item := q.items[idx]
	q.mu.Unlock()

	h, ok := handlers[item.Type]
	var err error
	if !ok {
		err = fmt.Errorf("%w for type %q", errHandlerMissing, item.Type)
	} else {
		err = h(item.Params)
	}

	if err == nil {
		q.remove(item.ID)
		return
	}

	if q.log != nil {
		q.log.Warn("retry queue item failed", zap.String("id", item.ID), zap.String("type", item.Type),
			zap.Int("attempts", item.Attempts+1), zap.Error(err))
	}

	if r, ok := err.(retriabler); ok && !r.Retriable() {
		q.terminal(item, ReasonHandlerError, err)
		return
	}

	item.Attempts++
	if item.Attempts > len(fixedSchedule) {
		reason := ReasonScheduleExhausted
		if errors.Is(err, errHandlerMissing) {
			reason = ReasonHandlerMissing
		}
		q.terminal(item, reason, err)
		return
	}
	item.NextAttemptAt = q.now().Add(fixedSchedule[item.Attempts-1])
	q.update(item)
}

func (q *Queue) terminal(item Item, reason Reason, cause error) {
	q.remove(item.ID)
	fo := FailedOperation{
		ID:       item.ID,
		Type:     item.Type,
		Params:   item.Params,
		Attempts: item.Attempts,
		FailedAt: q.now(),
		Reason:   reason,
		Cause:    cause.Error(),
	}
	if err := store.AppendJSONLine(q.failedLogPath, fo); err != nil && q.log != nil {
		q.log.Warn("failed-operations log append failed", zap.Error(err))
	}
}

func (q *Queue) remove(id string) {
	q.mu.Lock()
	for i, it := range q.items {
		if it.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	items := append([]Item{}, q.items...)
	q.mu.Unlock()
	q.persist(items)
}

func (q *Queue) update(updated Item) {
	q.mu.Lock()
	for i, it := range q.items {
		if it.ID == updated.ID {
			q.items[i] = updated
			break
		}
	}
	items := append([]Item{}, q.items...)
	q.mu.Unlock()
	q.persist(items)
}

func (q *Queue) persist(items []Item) {
	if err := store.WriteJSONAtomic(q.snapshotPath, items); err != nil && q.log != nil {
		q.log.Warn("retry queue snapshot persist failed", zap.Error(err))
	}
}

// Pending returns a snapshot of items currently queued.
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// SetNowForTest overrides the queue's clock. Exported for tests in this
// package only; production callers never need it.
func (q *Queue) SetNowForTest(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}
