package integration_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opsagent/signalops/pkg/integration"
)

var _ = Describe("Manager", func() {
	It("reports connected after a successful start", func() {
		m := integration.NewManager(nil, nil)
		m.Register(integration.Adapter{
			Name:  "email",
			Start: func(context.Context) error { return nil },
		})

		m.StartAll(context.Background())

		Expect(m.GetStatusDashboard()).To(HaveKeyWithValue("email", integration.StatusConnected))
	})

	It("auto-reconnects after a failed start", func() {
		var attempts int32
		m := integration.NewManager(nil, nil)
		m.Register(integration.Adapter{
			Name: "chat",
			Start: func(context.Context) error {
				n := atomic.AddInt32(&attempts, 1)
				if n < 2 {
					return context.DeadlineExceeded
				}
				return nil
			},
		})

		m.StartAll(context.Background())
		Expect(m.GetStatusDashboard()).To(HaveKeyWithValue("chat", integration.StatusError))

		Eventually(func() integration.Status {
			return m.GetStatusDashboard()["chat"]
		}, 15*time.Second, 100*time.Millisecond).Should(Equal(integration.StatusConnected))
	})
})
