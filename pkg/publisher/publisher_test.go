package publisher_test

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opsagent/signalops/pkg/classifier"
	"github.com/opsagent/signalops/pkg/decision"
	"github.com/opsagent/signalops/pkg/eventbus"
	"github.com/opsagent/signalops/pkg/publisher"
	"github.com/opsagent/signalops/pkg/reasoning"
	"github.com/opsagent/signalops/pkg/review"
	"github.com/opsagent/signalops/pkg/signal"
)

var _ = Describe("Publisher", func() {
	var (
		hub *eventbus.Hub
		rm  *review.Manager
		pub *publisher.Publisher
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		hub = eventbus.NewHub(filepath.Join(GinkgoT().TempDir(), "events.log"), nil)
		DeferCleanup(hub.Close)

		var err error
		rm, err = review.New(filepath.Join(GinkgoT().TempDir(), "queue.json"), nil, hub, nil)
		Expect(err).NotTo(HaveOccurred())

		pub = publisher.New(hub, rm, nil, publisher.DefaultConfig(), nil)
	})

	It("rejects a result with no decision stage", func() {
		var captured []eventbus.Event
		hub.Subscribe("action:rejected", func(e eventbus.Event) error {
			captured = append(captured, e)
			return nil
		})

		result := reasoning.Result{Signal: signal.Signal{ID: "s1", Source: signal.SourceEmail}}
		outcome, err := pub.Publish(ctx, result)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(publisher.OutcomeRejected))

		Eventually(func() []eventbus.Event { return captured }).ShouldNot(BeEmpty())
	})

	It("routes a requires-approval decision to review:pending", func() {
		var captured []eventbus.Event
		hub.Subscribe("review:pending", func(e eventbus.Event) error {
			captured = append(captured, e)
			return nil
		})

		result := reasoning.Result{
			Signal: signal.Signal{ID: "s2", Source: signal.SourceEmail},
			ClassificationStage: &classifier.Classification{Urgency: classifier.UrgencyMedium, Confidence: 0.6},
			DecisionStage: &decision.Decision{
				SignalID: "s2", Action: decision.ActionDelegate, ActionParams: map[string]any{},
				RequiresApproval: true, Confidence: 0.6, Reasoning: "delegate to the on-call engineer",
			},
		}
		outcome, err := pub.Publish(ctx, result)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(publisher.OutcomePendingApproval))

		Eventually(func() []eventbus.Event { return captured }).ShouldNot(BeEmpty())
		Expect(rm.GetQueue(review.Filters{})).To(HaveLen(1))
	})

	It("emits action:ready with the urgency-mapped priority for an auto-executable decision", func() {
		var captured []eventbus.Event
		hub.Subscribe("action:ready", func(e eventbus.Event) error {
			captured = append(captured, e)
			return nil
		})

		result := reasoning.Result{
			Signal: signal.Signal{ID: "s3", Source: signal.SourceChat},
			ClassificationStage: &classifier.Classification{Urgency: classifier.UrgencyCritical, Confidence: 0.9},
			DecisionStage: &decision.Decision{
				SignalID: "s3", Action: decision.ActionCreateTask,
				ActionParams: map[string]any{"title": "page the on-call"},
				Confidence:   0.9, Reasoning: "critical incident needs an immediate task",
			},
		}
		outcome, err := pub.Publish(ctx, result)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(publisher.OutcomeReady))

		Eventually(func() []eventbus.Event { return captured }).ShouldNot(BeEmpty())
		action, ok := captured[0].Data.(publisher.FormattedAction)
		Expect(ok).To(BeTrue())
		Expect(action.Priority).To(Equal(eventbus.PriorityHigh))
		Expect(action.RetryPolicy.MaxAttempts).To(Equal(3))
	})

	It("exhausts retries and reports failed when the event hub is unavailable", func() {
		unplugged := publisher.New(nil, rm, nil, publisher.DefaultConfig(), nil)
		unplugged.SetRetryIntervalForTest(time.Millisecond)

		result := reasoning.Result{
			Signal: signal.Signal{ID: "s4", Source: signal.SourceEmail},
			ClassificationStage: &classifier.Classification{Urgency: classifier.UrgencyLow, Confidence: 0.9},
			DecisionStage: &decision.Decision{
				SignalID: "s4", Action: decision.ActionIgnore, ActionParams: map[string]any{},
				Confidence: 0.9, Reasoning: "nothing further to do with this one",
			},
		}
		outcome, err := unplugged.Publish(ctx, result)
		Expect(err).To(HaveOccurred())
		Expect(outcome).To(Equal(publisher.OutcomeFailed))
	})
})
