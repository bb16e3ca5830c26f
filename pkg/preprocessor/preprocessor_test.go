package preprocessor_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opsagent/signalops/pkg/preprocessor"
	"github.com/opsagent/signalops/pkg/signal"
)

var _ = Describe("Preprocessor", func() {
	var p *preprocessor.Preprocessor

	BeforeEach(func() {
		p = preprocessor.New(nil)
	})

	It("strips a quoted reply block from an email", func() {
		s := signal.Signal{
			ID:     "e1",
			Source: signal.SourceEmail,
			Body:   "Sounds good, let's proceed.\n\nOn Mon, Jan 5, 2026 Alice wrote:\n> original message\n> more quoted text",
		}
		ps := p.Process(s, preprocessor.Options{})
		Expect(ps.CleanedBody).To(ContainSubstring("Sounds good"))
		Expect(ps.CleanedBody).NotTo(ContainSubstring("original message"))
		Expect(ps.Metadata.HasQuotedReply).To(BeTrue())
	})

	It("strips a standard email signature", func() {
		s := signal.Signal{
			ID:     "e2",
			Source: signal.SourceEmail,
			Body:   "Let's meet tomorrow.\n-- \nJohn Doe\nSent from my iPhone",
		}
		ps := p.Process(s, preprocessor.Options{})
		Expect(ps.CleanedBody).To(Equal("Let's meet tomorrow."))
		Expect(ps.Metadata.HasSignature).To(BeTrue())
	})

	It("normalizes whitespace and CRLF line endings", func() {
		s := signal.Signal{ID: "e3", Source: signal.SourceChat, Body: "Hello    world\r\n\r\n\r\nBye"}
		ps := p.Process(s, preprocessor.Options{})
		Expect(ps.CleanedBody).To(Equal("Hello world\n\nBye"))
	})

	It("extracts emails, URLs, and monetary amounts", func() {
		s := signal.Signal{
			ID:     "e4",
			Source: signal.SourceChat,
			Body:   "Contact alice@example.com or see https://example.com/doc, invoice for $1,200.50 due.",
		}
		ps := p.Process(s, preprocessor.Options{})
		Expect(ps.ExtractedData.Emails).To(ConsistOf("alice@example.com"))
		Expect(ps.ExtractedData.URLs).To(ConsistOf("https://example.com/doc"))
		Expect(ps.ExtractedData.MonetaryAmounts).To(HaveLen(1))
		Expect(ps.ExtractedData.MonetaryAmounts[0].Amount).To(BeNumerically("==", 1200.50))
		Expect(ps.ExtractedData.MonetaryAmounts[0].Currency).To(Equal("USD"))
	})

	It("keeps the cleaned body no longer than the original", func() {
		s := signal.Signal{ID: "e5", Source: signal.SourceChat, Body: "Short message here."}
		ps := p.Process(s, preprocessor.Options{})
		Expect(len(ps.CleanedBody)).To(BeNumerically("<=", len(s.Body)))
	})

	It("extracts action items with urgency-weighted priority when requested", func() {
		s := signal.Signal{
			ID:     "e6",
			Source: signal.SourceChat,
			Body:   "Please send the report ASAP. You should also review the budget.",
		}
		ps := p.Process(s, preprocessor.Options{ExtractEntities: true})
		Expect(ps.Entities).NotTo(BeNil())
		Expect(ps.Entities.ActionItems).NotTo(BeEmpty())

		var highFound, lowFound bool
		for _, item := range ps.Entities.ActionItems {
			if item.Priority == "high" {
				highFound = true
			}
			if item.Priority == "low" {
				lowFound = true
			}
		}
		Expect(highFound).To(BeTrue())
		Expect(lowFound).To(BeTrue())
	})

	It("defaults to en with zero confidence for empty body", func() {
		s := signal.Signal{ID: "e7", Source: signal.SourceChat, Body: ""}
		ps := p.Process(s, preprocessor.Options{})
		Expect(ps.Metadata.Language.Language).To(Equal("en"))
		Expect(ps.Metadata.Language.Confidence).To(BeZero())
	})

	It("does not hang or panic on pathological input", func() {
		s := signal.Signal{ID: "e8", Source: signal.SourceEmail, Body: repeatString(">", 2000), Timestamp: time.Now()}
		Expect(func() { p.Process(s, preprocessor.Options{}) }).NotTo(Panic())
	})
})

func repeatString(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
