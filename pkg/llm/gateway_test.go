package llm_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/opsagent/signalops/pkg/llm"
)

// fakeProvider lets tests script a sequence of responses/errors per call.
type fakeProvider struct {
	name  string
	calls int
	script []func() (llm.ChatResponse, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error) {
	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	f.calls++
	return f.script[idx]()
}

func (f *fakeProvider) ChatStream(ctx context.Context, messages []llm.Message, opts llm.ChatOptions, handler llm.StreamHandler) error {
	return nil
}

var _ = Describe("Gateway", func() {
	var cfg llm.GatewayConfig

	BeforeEach(func() {
		cfg = llm.DefaultGatewayConfig()
		cfg.MaxAttempts = 2
		cfg.InitialDelay = 0
		cfg.MaxDelay = 0
	})

	It("falls through to the next provider on a non-retriable error (S4)", func() {
		a := &fakeProvider{name: "A", script: []func() (llm.ChatResponse, error){
			func() (llm.ChatResponse, error) {
				return llm.ChatResponse{}, &llm.ProviderError{Provider: "A", Tag: llm.TagAuthentication, Cause: errors.New("401")}
			},
		}}
		b := &fakeProvider{name: "B", script: []func() (llm.ChatResponse, error){
			func() (llm.ChatResponse, error) { return llm.ChatResponse{Text: "ok"}, nil },
		}}

		gw := llm.NewGateway([]llm.Provider{a, b}, cfg, zap.NewNop())
		resp, err := gw.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.ChatOptions{})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Provider).To(Equal("B"))
		Expect(a.calls).To(Equal(1), "non-retriable errors must not be retried against the same provider")
	})

	It("retries a retriable error against the same provider before giving up", func() {
		attempts := 0
		a := &fakeProvider{name: "A", script: []func() (llm.ChatResponse, error){
			func() (llm.ChatResponse, error) {
				attempts++
				return llm.ChatResponse{}, &llm.ProviderError{Provider: "A", Tag: llm.TagTimeout, Cause: errors.New("timeout")}
			},
			func() (llm.ChatResponse, error) {
				attempts++
				return llm.ChatResponse{Text: "recovered"}, nil
			},
		}}

		gw := llm.NewGateway([]llm.Provider{a}, cfg, zap.NewNop())
		resp, err := gw.Chat(context.Background(), nil, llm.ChatOptions{})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Text).To(Equal("recovered"))
		Expect(attempts).To(Equal(2))
	})

	It("returns ErrAllProvidersFailed when every provider fails", func() {
		a := &fakeProvider{name: "A", script: []func() (llm.ChatResponse, error){
			func() (llm.ChatResponse, error) {
				return llm.ChatResponse{}, &llm.ProviderError{Provider: "A", Tag: llm.TagAuthentication, Cause: errors.New("401")}
			},
		}}

		gw := llm.NewGateway([]llm.Provider{a}, cfg, zap.NewNop())
		_, err := gw.Chat(context.Background(), nil, llm.ChatOptions{})

		Expect(errors.Is(err, llm.ErrAllProvidersFailed)).To(BeTrue())
	})
})
