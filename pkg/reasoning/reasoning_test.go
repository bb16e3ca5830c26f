package reasoning_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/opsagent/signalops/pkg/budget"
	"github.com/opsagent/signalops/pkg/cache"
	"github.com/opsagent/signalops/pkg/classifier"
	"github.com/opsagent/signalops/pkg/decision"
	"github.com/opsagent/signalops/pkg/llm"
	"github.com/opsagent/signalops/pkg/preprocessor"
	"github.com/opsagent/signalops/pkg/reasoning"
	"github.com/opsagent/signalops/pkg/signal"
)

func classificationChat(cls classifier.Classification) func(context.Context, []llm.Message, llm.ChatOptions) (llm.ChatResponse, error) {
	raw, _ := json.Marshal(cls)
	return func(context.Context, []llm.Message, llm.ChatOptions) (llm.ChatResponse, error) {
		return llm.ChatResponse{JSON: raw, Usage: llm.Usage{PromptTokens: 50, CompletionTokens: 20}}, nil
	}
}

func decisionChat(t map[string]any) func(context.Context, []llm.Message, llm.ChatOptions) (llm.ChatResponse, error) {
	raw, _ := json.Marshal(t)
	return func(context.Context, []llm.Message, llm.ChatOptions) (llm.ChatResponse, error) {
		return llm.ChatResponse{JSON: raw}, nil
	}
}

var _ = Describe("Pipeline", func() {
	var (
		ctx context.Context
		c   *cache.Cache
		tr  *budget.Tracker
		s   signal.Signal
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

		s = signal.Signal{
			ID: "s1", Source: signal.SourceEmail, Sender: "ops@co",
			Subject: "URGENT API Down", Body: "500 errors in production, please investigate now.",
			Timestamp: time.Now(),
		}
	})

	It("runs all three stages and reports success", func() {
		clsChat := classificationChat(classifier.Classification{
			Urgency: classifier.UrgencyCritical, Importance: classifier.ImportanceHigh,
			Category: classifier.CategoryIncident, Confidence: 0.9,
			Reasoning: "production outage reported by operations", RequiresImmediate: true,
		})
		cl := classifier.New(clsChat, c, tr, llm.DefaultPricing(), "claude-3-5-sonnet", "anthropic", nil)

		decChat := decisionChat(map[string]any{
			"action": "create_task", "action_params": map[string]any{"title": "Investigate outage"},
			"confidence": 0.9, "reasoning": "clear incident requiring a task right away",
		})
		d, err := decision.New(ctx, decChat, decision.Config{}, "claude-3-5-sonnet", nil)
		Expect(err).NotTo(HaveOccurred())

		p := reasoning.New(preprocessor.New(nil), cl, d, nil, nil)
		result := p.Process(ctx, s)

		Expect(result.Metadata.Status).To(Equal(reasoning.StatusSuccess))
		Expect(result.ClassificationStage).NotTo(BeNil())
		Expect(result.DecisionStage).NotTo(BeNil())
		Expect(result.DecisionStage.Action).To(Equal(decision.ActionCreateTask))
		Expect(result.Metadata.RequiresHumanReview).To(BeFalse())
	})

	It("reports failed with no decision stage when classification fails", func() {
		clsChat := func(context.Context, []llm.Message, llm.ChatOptions) (llm.ChatResponse, error) {
			return llm.ChatResponse{JSON: []byte(`{"urgency":"bogus"}`)}, nil
		}
		cl := classifier.New(clsChat, c, tr, llm.DefaultPricing(), "claude-3-5-sonnet", "anthropic", nil)

		decChat := decisionChat(map[string]any{"action": "ignore", "confidence": 0.9, "reasoning": "should never be reached here"})
		d, err := decision.New(ctx, decChat, decision.Config{}, "claude-3-5-sonnet", nil)
		Expect(err).NotTo(HaveOccurred())

		p := reasoning.New(preprocessor.New(nil), cl, d, nil, nil)
		result := p.Process(ctx, s)

		Expect(result.Metadata.Status).To(Equal(reasoning.StatusFailed))
		Expect(result.DecisionStage).To(BeNil())
	})

	It("falls back to a safe ignore decision and requires review when decision fails", func() {
		clsChat := classificationChat(classifier.Classification{
			Urgency: classifier.UrgencyMedium, Importance: classifier.ImportanceMedium,
			Category: classifier.CategoryTask, Confidence: 0.8,
			Reasoning: "routine task request from a teammate",
		})
		cl := classifier.New(clsChat, c, tr, llm.DefaultPricing(), "claude-3-5-sonnet", "anthropic", nil)

		decChat := decisionChat(map[string]any{"action": "not_a_real_action", "confidence": 0.9, "reasoning": "will be rejected as unknown"})
		d, err := decision.New(ctx, decChat, decision.Config{}, "claude-3-5-sonnet", nil)
		Expect(err).NotTo(HaveOccurred())

		p := reasoning.New(preprocessor.New(nil), cl, d, nil, nil)
		result := p.Process(ctx, s)

		Expect(result.Metadata.Status).To(Equal(reasoning.StatusPartial))
		Expect(result.DecisionStage).NotTo(BeNil())
		Expect(result.DecisionStage.Action).To(Equal(decision.ActionIgnore))
		Expect(result.Metadata.RequiresHumanReview).To(BeTrue())
	})

	It("requires human review for spam from an untrusted sender even with a confident decision", func() {
		clsChat := classificationChat(classifier.Classification{
			Urgency: classifier.UrgencyLow, Importance: classifier.ImportanceLow,
			Category: classifier.CategorySpam, Confidence: 0.95,
			Reasoning: "unsolicited promotional content detected in body",
		})
		cl := classifier.New(clsChat, c, tr, llm.DefaultPricing(), "claude-3-5-sonnet", "anthropic", nil)

		decChat := decisionChat(map[string]any{
			"action": "ignore", "confidence": 0.95, "reasoning": "spam message requires no further action",
		})
		d, err := decision.New(ctx, decChat, decision.Config{}, "claude-3-5-sonnet", nil)
		Expect(err).NotTo(HaveOccurred())

		p := reasoning.New(preprocessor.New(nil), cl, d, nil, nil)
		result := p.Process(ctx, s)

		Expect(result.Metadata.Status).To(Equal(reasoning.StatusSuccess))
		Expect(result.Metadata.RequiresHumanReview).To(BeTrue())
	})
})
