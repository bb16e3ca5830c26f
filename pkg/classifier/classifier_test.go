package classifier_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/opsagent/signalops/pkg/budget"
	"github.com/opsagent/signalops/pkg/cache"
	"github.com/opsagent/signalops/pkg/classifier"
	"github.com/opsagent/signalops/pkg/llm"
	"github.com/opsagent/signalops/pkg/signal"
)

func validClassificationJSON() []byte {
	payload := classifier.Classification{
		Urgency:           classifier.UrgencyHigh,
		Importance:        classifier.ImportanceHigh,
		Category:          classifier.CategoryIncident,
		Confidence:        0.92,
		Reasoning:         "Production errors reported by operations team require a task.",
		RequiresImmediate: true,
	}
	raw, _ := json.Marshal(payload)
	return raw
}

var _ = Describe("Classifier", func() {
	var (
		ctx    context.Context
		c      *cache.Cache
		tr     *budget.Tracker
		ps     signal.PreprocessedSignal
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(mr.Close)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		c = cache.NewCache(rdb, cache.TTLConfig{Classification: time.Hour, Decision: 30 * time.Minute, Other: 10 * time.Minute}, nil)

		tr, err = budget.NewTracker(1_000_000, filepath.Join(GinkgoT().TempDir(), "budget.json"), nil)
		Expect(err).NotTo(HaveOccurred())

		ps = signal.PreprocessedSignal{
			Signal:         signal.Signal{ID: "s1", Source: signal.SourceEmail, Timestamp: time.Now()},
			CleanedSubject: "URGENT API Down",
			CleanedBody:    "500 errors in production",
		}
	})

	It("calls the gateway once then serves a cache hit on the second call (S3)", func() {
		var calls int32
		chatFn := func(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error) {
			atomic.AddInt32(&calls, 1)
			return llm.ChatResponse{JSON: validClassificationJSON(), Usage: llm.Usage{PromptTokens: 100, CompletionTokens: 50}}, nil
		}
		cl := classifier.New(chatFn, c, tr, llm.DefaultPricing(), "claude-3-5-sonnet", "anthropic", nil)

		first, err := cl.Classify(ctx, ps)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Cached).To(BeFalse())

		second, err := cl.Classify(ctx, ps)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Cached).To(BeTrue())

		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
	})

	It("retries once on schema validation failure then fails with classification_failed", func() {
		chatFn := func(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error) {
			return llm.ChatResponse{JSON: []byte(`{"urgency":"not-a-real-urgency"}`)}, nil
		}
		cl := classifier.New(chatFn, c, tr, llm.DefaultPricing(), "claude-3-5-sonnet", "anthropic", nil)

		_, err := cl.Classify(ctx, ps)
		Expect(err).To(MatchError(classifier.ErrClassificationFailed))
	})

	It("recovers on the one permitted retry", func() {
		var calls int32
		chatFn := func(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error) {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				return llm.ChatResponse{JSON: []byte(`{"urgency":"bogus"}`)}, nil
			}
			return llm.ChatResponse{JSON: validClassificationJSON()}, nil
		}
		cl := classifier.New(chatFn, c, tr, llm.DefaultPricing(), "claude-3-5-sonnet", "anthropic", nil)

		cls, err := cl.Classify(ctx, ps)
		Expect(err).NotTo(HaveOccurred())
		Expect(cls.Urgency).To(Equal(classifier.UrgencyHigh))
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(2)))
	})

	It("rejects without calling the gateway when the budget is exhausted", func() {
		tight, err := budget.NewTracker(1, filepath.Join(GinkgoT().TempDir(), "tight.json"), nil)
		Expect(err).NotTo(HaveOccurred())

		var calls int32
		chatFn := func(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error) {
			atomic.AddInt32(&calls, 1)
			return llm.ChatResponse{JSON: validClassificationJSON()}, nil
		}
		cl := classifier.New(chatFn, c, tight, llm.DefaultPricing(), "claude-3-5-sonnet", "anthropic", nil)

		_, err = cl.Classify(ctx, ps)
		Expect(err).To(HaveOccurred())
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(0)))
	})
})
