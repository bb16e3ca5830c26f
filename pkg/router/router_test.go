package router_test

import (
	"context"
	"errors"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opsagent/signalops/pkg/breaker"
	"github.com/opsagent/signalops/pkg/decision"
	"github.com/opsagent/signalops/pkg/router"
)

var _ = Describe("Router", func() {
	It("returns invalid_request for an unregistered action@platform combination", func() {
		r := router.New(nil, nil)
		result := r.RouteAction(context.Background(), decision.Decision{Action: decision.ActionCreateTask, ActionParams: map[string]any{}})
		Expect(result.Success).To(BeFalse())
		Expect(result.Error).To(Equal("invalid_request"))
	})

	It("dispatches to the registered adapter for the decision's platform", func() {
		r := router.New(nil, nil)
		r.RegisterAdapter(decision.ActionCreateTask, "notion", func(ctx context.Context, d decision.Decision) (router.Result, error) {
			return router.Result{Success: true, Data: "created"}, nil
		}, breaker.DefaultConfig())

		result := r.RouteAction(context.Background(), decision.Decision{
			Action: decision.ActionCreateTask, ActionParams: map[string]any{"platform": "notion"},
		})
		Expect(result.Success).To(BeTrue())
		Expect(result.Data).To(Equal("created"))
	})

	It("trips the breaker after consecutive adapter failures and returns an error", func() {
		r := router.New(nil, nil)
		var calls int32
		cfg := breaker.Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: 0, CacheTTL: 0}
		r.RegisterAdapter(decision.ActionSendNotification, "chat", func(ctx context.Context, d decision.Decision) (router.Result, error) {
			atomic.AddInt32(&calls, 1)
			return router.Result{}, errors.New("platform unreachable")
		}, cfg)

		d := decision.Decision{Action: decision.ActionSendNotification, ActionParams: map[string]any{"platform": "chat"}}
		for i := 0; i < 2; i++ {
			result := r.RouteAction(context.Background(), d)
			Expect(result.Success).To(BeFalse())
		}

		result := r.RouteAction(context.Background(), d)
		Expect(result.Success).To(BeFalse())
		Expect(result.Error).To(Equal(breaker.ErrOpen.Error()))
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(2)))
	})
})
