package eventbus

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opsagent/signalops/pkg/store"
)

const (
	defaultBatchSize    = 25
	defaultHistoryLimit = 1000
	interBatchPause     = 50 * time.Millisecond
)

type subscription struct {
	id        int
	eventType string
	handler   Handler
}

// Hub is the Event Hub. Zero value is not usable; construct with NewHub.
type Hub struct {
	log      *zap.Logger
	logPath  string
	batchSz  int
	histCap  int

	mu         sync.Mutex
	queue      []Event
	history    []Event
	subs       []subscription
	nextSubID  int
	nextSeq    int

	wake chan struct{}
	done chan struct{}
}

// NewHub constructs a Hub and starts its batch processor goroutine. logPath
// is the append-only event log file; an empty path disables logging.
func NewHub(logPath string, log *zap.Logger) *Hub {
	h := &Hub{
		log:     log,
		logPath: logPath,
		batchSz: defaultBatchSize,
		histCap: defaultHistoryLimit,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

// Close stops the batch processor. Queued events are dropped.
func (h *Hub) Close() {
	close(h.done)
}

// Subscribe registers handler for eventType; it fires once per matching
// event, in arrival order within a priority class.
func (h *Hub) Subscribe(eventType string, handler Handler) Unsubscribe {
	h.mu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.subs = append(h.subs, subscription{id: id, eventType: eventType, handler: handler})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, s := range h.subs {
			if s.id == id {
				h.subs = append(h.subs[:i], h.subs[i+1:]...)
				break
			}
		}
	}
}

// EmitEvent stamps event's timestamp, enqueues it, appends to the event log
// asynchronously, and wakes the batch processor. It returns the stamped
// event.
func (h *Hub) EmitEvent(event Event) Event {
	event.Timestamp = time.Now()

	h.mu.Lock()
	event.seq = h.nextSeq
	h.nextSeq++
	h.queue = append(h.queue, event)
	h.mu.Unlock()

	if h.logPath != "" {
		go h.appendLog(event)
	}

	select {
	case h.wake <- struct{}{}:
	default:
	}
	return event
}

func (h *Hub) appendLog(event Event) {
	if err := store.AppendJSONLine(h.logPath, event); err != nil && h.log != nil {
		h.log.Warn("event log append failed", zap.Error(err), zap.String("type", event.Type))
	}
}

// GetEventHistory returns up to limit most recent retained events matching
// source (when non-empty), newest first.
func (h *Hub) GetEventHistory(source string, limit int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, limit)
	for i := len(h.history) - 1; i >= 0 && len(out) < limit; i-- {
		e := h.history[i]
		if source != "" && e.Source != source {
			continue
		}
		out = append(out, e)
	}
	return out
}

// FilterEvents returns a snapshot of retained history matching opts.
func (h *Hub) FilterEvents(opts FilterOptions) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0)
	for _, e := range h.history {
		if opts.Source != "" && e.Source != opts.Source {
			continue
		}
		if opts.MinPriority != "" && e.Priority.rank() < opts.MinPriority.rank() {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (h *Hub) run() {
	ticker := time.NewTicker(interBatchPause)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-h.wake:
			h.drain()
		case <-ticker.C:
			h.drain()
		}
	}
}

func (h *Hub) drain() {
	for {
		batch := h.takeBatch()
		if len(batch) == 0 {
			return
		}
		h.dispatch(batch)
		time.Sleep(interBatchPause)
	}
}

func (h *Hub) takeBatch() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return nil
	}
	n := h.batchSz
	if n > len(h.queue) {
		n = len(h.queue)
	}
	batch := make([]Event, n)
	copy(batch, h.queue[:n])
	h.queue = h.queue[n:]

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Priority.rank() > batch[j].Priority.rank()
	})

	h.history = append(h.history, batch...)
	if len(h.history) > h.histCap {
		h.history = h.history[len(h.history)-h.histCap:]
	}
	return batch
}

func (h *Hub) dispatch(batch []Event) {
	h.mu.Lock()
	subs := make([]subscription, len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			for _, e := range batch {
				if s.eventType != e.Type {
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil && h.log != nil {
							h.log.Error("event subscriber panicked", zap.Any("recover", r), zap.String("type", e.Type))
						}
					}()
					if err := s.handler(e); err != nil && h.log != nil {
						h.log.Warn("event subscriber error", zap.Error(err), zap.String("type", e.Type))
					}
				}()
			}
		}(s)
	}
	wg.Wait()
}

// drainNow flushes queued events synchronously instead of waiting on the
// ticker. It is unexported and nothing in the package calls it.
func (h *Hub) drainNow(ctx context.Context) {
	h.drain()
}
