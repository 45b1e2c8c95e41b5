package hk_test

import (
	"time"

	"github.com/carla-simulator/streamcore/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	It("runs a registered action and reschedules it", func() {
		calls := make(chan struct{}, 8)
		hk.DefaultHK.Reg("probe", func() time.Duration {
			calls <- struct{}{}
			return 10 * time.Millisecond
		}, time.Millisecond)

		Eventually(calls, time.Second).Should(Receive())
		Eventually(calls, time.Second).Should(Receive())
		hk.DefaultHK.Unreg("probe")
	})

	It("drops an action once it returns a non-positive delay", func() {
		var n int
		done := make(chan struct{})
		hk.DefaultHK.Reg("once", func() time.Duration {
			n++
			if n == 1 {
				close(done)
			}
			return 0
		}, time.Millisecond)

		Eventually(done, time.Second).Should(BeClosed())
		Consistently(func() int { return n }, 50*time.Millisecond).Should(Equal(1))
	})
})
