package queuemgr_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opsagent/signalops/pkg/breaker"
	"github.com/opsagent/signalops/pkg/decision"
	"github.com/opsagent/signalops/pkg/queuemgr"
	"github.com/opsagent/signalops/pkg/reasoning"
	"github.com/opsagent/signalops/pkg/router"
	"github.com/opsagent/signalops/pkg/signal"
)

func resultFor(signalID, platform string) reasoning.Result {
	return reasoning.Result{
		Signal: signal.Signal{ID: signalID},
		DecisionStage: &decision.Decision{
			SignalID: signalID, Action: decision.ActionSendNotification,
			ActionParams: map[string]any{"platform": platform},
		},
	}
}

var _ = Describe("Manager", func() {
	var (
		ctx context.Context
		r   *router.Router
	)

	BeforeEach(func() {
		ctx = context.Background()
		r = router.New(nil, nil)
	})

	It("dispatches the highest-priority (lowest number) item first", func() {
		var order []string
		r.RegisterAdapter(decision.ActionSendNotification, "chat", func(ctx context.Context, d decision.Decision) (router.Result, error) {
			order = append(order, d.SignalID)
			return router.Result{Success: true}, nil
		}, breaker.DefaultConfig())

		cfg := queuemgr.DefaultConfig()
		// one worker slot: with more, both adapters run at once and the
		// recorded call order is not defined.
		cfg.MaxConcurrent = 1
		m, err := queuemgr.New(filepath.Join(GinkgoT().TempDir(), "q.json"), r, cfg, nil)
		Expect(err).NotTo(HaveOccurred())

		_, err = m.Enqueue(resultFor("low", "chat"), 5)
		Expect(err).NotTo(HaveOccurred())
		_, err = m.Enqueue(resultFor("high", "chat"), 1)
		Expect(err).NotTo(HaveOccurred())

		m.ProcessQueue(ctx)
		Expect(order).To(Equal([]string{"high", "low"}))
	})

	It("reschedules a failing action with backoff and eventually marks it failed", func() {
		var calls int32
		r.RegisterAdapter(decision.ActionSendNotification, "chat", func(ctx context.Context, d decision.Decision) (router.Result, error) {
			atomic.AddInt32(&calls, 1)
			return router.Result{Success: false, Error: "boom"}, nil
		}, breaker.DefaultConfig())

		cfg := queuemgr.DefaultConfig()
		cfg.MaxAttempts = 2
		cfg.BackoffBase = time.Millisecond
		m, err := queuemgr.New(filepath.Join(GinkgoT().TempDir(), "q.json"), r, cfg, nil)
		Expect(err).NotTo(HaveOccurred())

		clock := time.Now()
		m.SetNowForTest(func() time.Time { return clock })

		_, err = m.Enqueue(resultFor("s1", "chat"), 1)
		Expect(err).NotTo(HaveOccurred())

		m.ProcessQueue(ctx)
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
		stats := m.Stats()
		Expect(stats.Pending).To(Equal(1))

		clock = clock.Add(time.Second)
		m.ProcessQueue(ctx)
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(2)))
		stats = m.Stats()
		Expect(stats.Failed).To(Equal(1))
		Expect(stats.Pending).To(Equal(0))
	})

	It("clears only pending items", func() {
		m, err := queuemgr.New(filepath.Join(GinkgoT().TempDir(), "q.json"), r, queuemgr.DefaultConfig(), nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = m.Enqueue(resultFor("s1", "chat"), 1)
		Expect(err).NotTo(HaveOccurred())

		removed := m.Clear()
		Expect(removed).To(Equal(1))
		Expect(m.Stats().Total).To(Equal(0))
	})

	It("skips dispatch when the platform rate limit hasn't elapsed", func() {
		var calls int32
		r.RegisterAdapter(decision.ActionSendNotification, "chat", func(ctx context.Context, d decision.Decision) (router.Result, error) {
			atomic.AddInt32(&calls, 1)
			return router.Result{Success: true}, nil
		}, breaker.DefaultConfig())

		cfg := queuemgr.DefaultConfig()
		cfg.MinInterval = map[string]time.Duration{"chat": time.Hour}
		m, err := queuemgr.New(filepath.Join(GinkgoT().TempDir(), "q.json"), r, cfg, nil)
		Expect(err).NotTo(HaveOccurred())

		clock := time.Now()
		m.SetNowForTest(func() time.Time { return clock })

		_, err = m.Enqueue(resultFor("s1", "chat"), 1)
		Expect(err).NotTo(HaveOccurred())
		_, err = m.Enqueue(resultFor("s2", "chat"), 2)
		Expect(err).NotTo(HaveOccurred())

		m.ProcessQueue(ctx)
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
		Expect(m.Stats().Pending).To(Equal(1))
	})
})
