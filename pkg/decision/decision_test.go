package decision_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opsagent/signalops/pkg/classifier"
	"github.com/opsagent/signalops/pkg/decision"
	"github.com/opsagent/signalops/pkg/llm"
)

func chatReturning(t map[string]any) func(context.Context, []llm.Message, llm.ChatOptions) (llm.ChatResponse, error) {
	raw, _ := json.Marshal(t)
	return func(context.Context, []llm.Message, llm.ChatOptions) (llm.ChatResponse, error) {
		return llm.ChatResponse{JSON: raw}, nil
	}
}

var _ = Describe("Maker", func() {
	var in decision.Input

	BeforeEach(func() {
		in = decision.Input{
			SignalID:     "s1",
			SignalSender: "ops@co",
			Classification: classifier.Classification{
				Urgency: classifier.UrgencyCritical, Category: classifier.CategoryIncident,
				Confidence: 0.9, Reasoning: "production incident reported by ops team",
				RequiresImmediate: true,
			},
		}
	})

	It("produces create_task with requiresApproval=false for a confident decision (S1)", func() {
		chatFn := chatReturning(map[string]any{
			"action": "create_task", "action_params": map[string]any{"title": "Investigate outage"},
			"confidence": 0.9, "reasoning": "clear incident requiring immediate task creation",
		})
		m, err := decision.New(context.Background(), chatFn, decision.Config{}, "claude-3-5-sonnet", nil)
		Expect(err).NotTo(HaveOccurred())

		d, err := m.Decide(context.Background(), in)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Action).To(Equal(decision.ActionCreateTask))
		Expect(d.RequiresApproval).To(BeFalse())
	})

	It("requires approval for file_document touching money", func() {
		chatFn := chatReturning(map[string]any{
			"action": "file_document", "action_params": map[string]any{"amount": 500, "doc": "invoice.pdf"},
			"confidence": 0.9, "reasoning": "file the invoice document as requested by finance",
		})
		m, err := decision.New(context.Background(), chatFn, decision.Config{}, "claude-3-5-sonnet", nil)
		Expect(err).NotTo(HaveOccurred())

		d, err := m.Decide(context.Background(), in)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.RequiresApproval).To(BeTrue())
	})

	It("adds a low_confidence warning and requires approval below the confidence floor", func() {
		chatFn := chatReturning(map[string]any{
			"action": "send_notification", "action_params": map[string]any{},
			"confidence": 0.4, "reasoning": "uncertain about the right recipient for this notice",
		})
		m, err := decision.New(context.Background(), chatFn, decision.Config{}, "claude-3-5-sonnet", nil)
		Expect(err).NotTo(HaveOccurred())

		d, err := m.Decide(context.Background(), in)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.RequiresApproval).To(BeTrue())
		Expect(d.Validation.Warnings).To(ContainElement(decision.WarningLowConfidence))
	})

	It("blocks a forbidden target and rewrites the action to ignore", func() {
		chatFn := chatReturning(map[string]any{
			"action": "send_notification", "action_params": map[string]any{"target": "competitor.com"},
			"confidence": 0.9, "reasoning": "forward incident details to the listed recipient",
		})
		cfg := decision.Config{ForbiddenTargets: []string{"competitor.com"}}
		m, err := decision.New(context.Background(), chatFn, cfg, "claude-3-5-sonnet", nil)
		Expect(err).NotTo(HaveOccurred())

		d, err := m.Decide(context.Background(), in)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Action).To(Equal(decision.ActionIgnore))
		Expect(d.ActionParams).To(BeEmpty())
		Expect(d.Validation.Blocker).To(Equal("forbidden_target"))
	})

	It("rejects an action outside the allowed set", func() {
		chatFn := chatReturning(map[string]any{
			"action": "launch_missiles", "action_params": map[string]any{},
			"confidence": 0.9, "reasoning": "not a real action the system supports",
		})
		m, err := decision.New(context.Background(), chatFn, decision.Config{}, "claude-3-5-sonnet", nil)
		Expect(err).NotTo(HaveOccurred())

		_, err = m.Decide(context.Background(), in)
		Expect(err).To(HaveOccurred())
	})
})
