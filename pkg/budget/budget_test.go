package budget_test

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opsagent/signalops/pkg/budget"
)

var _ = Describe("Tracker", func() {
	var path string

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "budget.json")
	})

	It("rejects a request that would exceed the daily ceiling", func() {
		tr, err := budget.NewTracker(100, path, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(tr.Record(90)).To(Succeed())
		Expect(tr.Check(20)).To(MatchError(budget.ErrBudgetExceeded))
		Expect(tr.Check(5)).To(Succeed())
	})

	It("persists usage across a fresh load on the same day", func() {
		tr, err := budget.NewTracker(1000, path, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(tr.Record(300)).To(Succeed())

		reloaded, err := budget.NewTracker(1000, path, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.Used()).To(Equal(300))
	})

	It("resets usage after the local day rolls over", func() {
		tr, err := budget.NewTracker(100, path, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(tr.Record(90)).To(Succeed())

		yesterday := time.Now().Add(-48 * time.Hour)
		tr.SetNowForTest(func() time.Time { return yesterday })
		// force the tracker to believe "today" was actually two days ago,
		// then roll the clock back to the real now.
		_ = tr.Used()
		tr.SetNowForTest(time.Now)

		Expect(tr.Used()).To(Equal(0))
		Expect(tr.Check(99)).To(Succeed())
	})
})
