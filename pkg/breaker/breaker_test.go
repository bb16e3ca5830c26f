package breaker_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opsagent/signalops/pkg/breaker"
)

var errBoom = errors.New("boom")

var _ = Describe("Breaker", func() {
	var cfg breaker.Config

	BeforeEach(func() {
		cfg = breaker.Config{
			FailureThreshold: 3,
			SuccessThreshold: 2,
			Timeout:          30 * time.Millisecond,
			CacheTTL:         time.Second,
		}
	})

	It("opens after consecutive failures and serves the fallback", func() {
		b := breaker.New[string]("test", cfg, nil, nil)
		ctx := context.Background()
		failing := func(context.Context) (string, error) { return "", errBoom }
		fallback := func(context.Context) (string, error) { return "fallback", nil }

		for i := 0; i < 3; i++ {
			_, _ = b.Call(ctx, failing, nil)
		}
		Expect(b.GetState()).To(Equal(breaker.StateOpen))

		v, err := b.Call(ctx, failing, fallback)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("fallback"))
	})

	It("fails with ErrOpen when no fallback and no fresh cache exist", func() {
		b := breaker.New[string]("test2", cfg, nil, nil)
		ctx := context.Background()
		failing := func(context.Context) (string, error) { return "", errBoom }

		for i := 0; i < 3; i++ {
			_, _ = b.Call(ctx, failing, nil)
		}
		Expect(b.GetState()).To(Equal(breaker.StateOpen))

		_, err := b.Call(ctx, failing, nil)
		Expect(err).To(MatchError(breaker.ErrOpen))
	})

	It("transitions half-open to closed after successThreshold successes", func() {
		b := breaker.New[string]("test3", cfg, nil, nil)
		ctx := context.Background()
		failing := func(context.Context) (string, error) { return "", errBoom }
		succeeding := func(context.Context) (string, error) { return "ok", nil }

		for i := 0; i < 3; i++ {
			_, _ = b.Call(ctx, failing, nil)
		}
		Expect(b.GetState()).To(Equal(breaker.StateOpen))

		Eventually(func() breaker.State {
			_, _ = b.Call(ctx, succeeding, nil)
			return b.GetState()
		}, time.Second, 10*time.Millisecond).Should(Equal(breaker.StateClosed))
	})
})
