package health_test

import (
	"context"
	"time"

	"github.com/arya-analytics/gms/internal/health"
	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Controller", func() {
	var c *health.Controller
	BeforeEach(func() { c = health.NewController() })
	It("Should start healthy", func() {
		Expect(c.State()).To(Equal(health.Healthy))
	})
	Describe("Transitions", func() {
		It("Should move between sick and healthy", func() {
			Expect(c.BeSick()).To(Succeed())
			Expect(c.State()).To(Equal(health.Sick))
			Expect(c.BeHealthy()).To(Succeed())
			Expect(c.State()).To(Equal(health.Healthy))
		})
		It("Should play dead from healthy or sick", func() {
			Expect(c.BeSick()).To(Succeed())
			Expect(c.PlayDead()).To(Succeed())
			Expect(c.State()).To(Equal(health.PlayingDead))
			Expect(c.State().AnswersProbes()).To(BeFalse())
		})
		It("Should not downgrade playing dead to sick", func() {
			Expect(c.PlayDead()).To(Succeed())
			Expect(c.BeSick()).To(Succeed())
			Expect(c.State()).To(Equal(health.PlayingDead))
		})
		It("Should never leave disconnected", func() {
			Expect(c.Disconnect()).To(BeTrue())
			Expect(c.Disconnect()).To(BeFalse())
			Expect(c.BeHealthy()).To(MatchError(health.ErrDisconnected))
			Expect(c.BeSick()).To(MatchError(health.ErrDisconnected))
			Expect(c.State()).To(Equal(health.Disconnected))
		})
		It("Should report a cancellation when playing dead after disconnecting", func() {
			c.Disconnect()
			err := c.PlayDead()
			Expect(errors.Is(err, health.ErrCancelled)).To(BeTrue())
		})
	})
	Describe("Observe", func() {
		It("Should notify observers of every transition in order", func() {
			var seen []health.Transition
			c.Observe(func(t health.Transition) { seen = append(seen, t) })
			Expect(c.BeSick()).To(Succeed())
			Expect(c.BeHealthy()).To(Succeed())
			Expect(c.BeHealthy()).To(Succeed())
			c.Disconnect()
			Expect(seen).To(Equal([]health.Transition{
				{From: health.Healthy, To: health.Sick},
				{From: health.Sick, To: health.Healthy},
				{From: health.Healthy, To: health.Disconnected},
			}))
		})
		It("Should allow an observer to cause a transition", func() {
			var seen []health.Transition
			c.Observe(func(t health.Transition) {
				seen = append(seen, t)
				if t.To == health.Sick {
					Expect(c.BeHealthy()).To(Succeed())
				}
			})
			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)
				Expect(c.BeSick()).To(Succeed())
			}()
			Eventually(done).Should(BeClosed())
			Expect(c.State()).To(Equal(health.Healthy))
			Expect(seen).To(Equal([]health.Transition{
				{From: health.Healthy, To: health.Sick},
				{From: health.Sick, To: health.Healthy},
			}))
		})
	})
	Describe("Await", func() {
		It("Should return immediately when the condition holds", func() {
			s, err := c.Await(context.Background(), health.State.ProcessesOrdered)
			Expect(err).ToNot(HaveOccurred())
			Expect(s).To(Equal(health.Healthy))
		})
		It("Should block until the state changes", func() {
			Expect(c.BeSick()).To(Succeed())
			done := make(chan health.State)
			go func() {
				defer GinkgoRecover()
				s, err := c.Await(context.Background(), health.State.ProcessesOrdered)
				Expect(err).ToNot(HaveOccurred())
				done <- s
			}()
			Consistently(done, 50*time.Millisecond).ShouldNot(Receive())
			Expect(c.BeHealthy()).To(Succeed())
			Eventually(done).Should(Receive(Equal(health.Healthy)))
		})
		It("Should return when the context is cancelled", func() {
			Expect(c.BeSick()).To(Succeed())
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err := c.Await(ctx, health.State.ProcessesOrdered)
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})
	})
})
