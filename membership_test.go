package gms_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/arya-analytics/gms"
	"github.com/arya-analytics/gms/address"
	"github.com/arya-analytics/gms/mock"
	"github.com/arya-analytics/gms/transport"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Membership", func() {
	var (
		ctx     context.Context
		builder *mock.MemBuilder
	)
	BeforeEach(func() {
		ctx = context.Background()
		builder = mock.NewMemBuilder(gms.WithInhibitedDisconnectLogging(true))
	})
	AfterEach(func() { Expect(builder.Cleanup()).To(Succeed()) })

	Describe("Surprise Members", func() {
		It("Should hold back a surprise member until the promotion delay elapses", func() {
			cfg := mock.FastTimingConfig()
			cfg.SurprisePromotionDelay = 500 * time.Millisecond
			a, err := builder.New(ctx, gms.WithTimingConfig(cfg))
			Expect(err).ToNot(HaveOccurred())
			c := newFakeMember(builder.Network, "localhost:10700")
			defer c.close()
			c.ping(a.Host().Address())

			By("Tracking the sender as a surprise member")
			Eventually(func() bool { return a.IsSurpriseMember(c.Member) }).Should(BeTrue())

			By("Excluding it before the delay elapses")
			Consistently(func() bool { return a.View().Contains(c.Member) }, 300*time.Millisecond).Should(BeFalse())

			By("Including it after the delay elapses")
			Eventually(func() bool { return a.View().Contains(c.Member) }).Should(BeTrue())
			Expect(a.IsSurpriseMember(c.Member)).To(BeFalse())
		})
		It("Should promote a back dated surprise member on the next decision", func() {
			a, err := builder.New(ctx, gms.WithTimingConfig(gms.TimingConfig{SurprisePromotionDelay: 5 * time.Second}))
			Expect(err).ToNot(HaveOccurred())
			d := newFakeMember(builder.Network, "localhost:10701")
			defer d.close()
			a.AddSurpriseMember(d.Member, time.Now().Add(-10*time.Second))
			Eventually(func() bool { return a.View().Contains(d.Member) }).Should(BeTrue())
			Expect(a.View().ID).To(Equal(uint64(1)))
		})
	})

	Describe("Health", func() {
		It("Should keep answering probes while holding more messages than a channel would buffer", func() {
			_, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			rec := &recorder{}
			b, err := builder.New(ctx, gms.WithHandler(rec.handle))
			Expect(err).ToNot(HaveOccurred())
			c, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			coord := builder.Members()[0]
			Eventually(func() int { return len(coord.View().Members) }).Should(Equal(3))

			Expect(b.BeSick()).To(Succeed())
			const n = 5000
			for i := 0; i < n; i++ {
				Expect(c.Send(ctx, b.Host(), []byte(fmt.Sprint(i)))).To(Succeed())
			}

			By("Staying in the view while sick")
			Consistently(func() bool { return coord.View().Contains(b.Host()) }, 600*time.Millisecond).Should(BeTrue())
			Expect(b.IsConnected()).To(BeTrue())
			Expect(rec.received()).To(BeEmpty())

			By("Delivering every held message once healthy")
			Expect(b.BeHealthy()).To(Succeed())
			Eventually(func() int { return len(rec.received()) }, 5*time.Second).Should(Equal(n))
			Expect(rec.received()[n-1]).To(Equal(fmt.Sprint(n - 1)))
		})
		It("Should tolerate playing dead after a forced disconnect", func() {
			a, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(a.ForceDisconnect("for testing")).To(BeTrue())
			Expect(a.PlayDead()).To(Succeed())
			Expect(a.Health()).To(Equal(gms.Disconnected))
		})
		It("Should hold ordered messages while sick", func() {
			rec := &recorder{}
			a, err := builder.New(ctx, gms.WithHandler(rec.handle))
			Expect(err).ToNot(HaveOccurred())
			b, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			Eventually(func() uint64 { return a.View().ID }).Should(Equal(uint64(1)))

			Expect(a.BeSick()).To(Succeed())
			Expect(a.Health()).To(Equal(gms.Sick))
			Expect(b.Send(ctx, a.Host(), []byte("held"))).To(Succeed())

			By("Not processing the message while sick")
			Consistently(rec.received, 200*time.Millisecond).Should(BeEmpty())

			By("Continuing to answer probes")
			Expect(b.View().Contains(a.Host())).To(BeTrue())

			By("Processing messages once healthy")
			Expect(a.BeHealthy()).To(Succeed())
			Expect(b.Send(ctx, a.Host(), []byte("delivered"))).To(Succeed())
			Eventually(rec.received).Should(Equal([]string{"held", "delivered"}))
		})
		It("Should remove a member that plays dead", func() {
			ms, err := builder.NewN(ctx, 3)
			Expect(err).ToNot(HaveOccurred())
			a, c := ms[0], ms[2]
			Eventually(func() int { return len(c.View().Members) }).Should(Equal(3))
			Expect(c.PlayDead()).To(Succeed())
			Expect(a.WaitForMemberDeparture(c.Host(), 5*time.Second)).To(Succeed())
			Expect(a.IsShunned(c.Host())).To(BeTrue())

			By("Disconnecting the removed member")
			Eventually(c.IsConnected).Should(BeFalse())
			Expect(errors.Is(c.Err(), gms.ErrForcedDisconnect)).To(BeTrue())
		})
		It("Should notify hooks of health transitions", func() {
			a, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			var (
				mu          sync.Mutex
				transitions []gms.Transition
			)
			a.RegisterTestHook(&gms.HookFuncs{OnHealthChanged: func(_ context.Context, t gms.Transition) {
				mu.Lock()
				defer mu.Unlock()
				transitions = append(transitions, t)
			}})
			Expect(a.BeSick()).To(Succeed())
			Expect(a.BeHealthy()).To(Succeed())
			mu.Lock()
			defer mu.Unlock()
			Expect(transitions).To(Equal([]gms.Transition{
				{From: gms.Healthy, To: gms.Sick},
				{From: gms.Sick, To: gms.Healthy},
			}))
		})
	})

	Describe("Departure", func() {
		It("Should remove a member that leaves gracefully", func() {
			ms, err := builder.NewN(ctx, 3)
			Expect(err).ToNot(HaveOccurred())
			a, b := ms[0], ms[1]
			Eventually(func() int { return len(a.View().Members) }).Should(Equal(3))
			Expect(b.Close()).To(Succeed())
			Expect(a.WaitForMemberDeparture(b.Host(), 2*time.Second)).To(Succeed())
			Expect(b.Err()).ToNot(HaveOccurred())
		})
		It("Should hand coordination to the next oldest member when the coordinator leaves", func() {
			ms, err := builder.NewN(ctx, 3)
			Expect(err).ToNot(HaveOccurred())
			a, b, c := ms[0], ms[1], ms[2]
			Eventually(func() int { return len(c.View().Members) }).Should(Equal(3))
			Expect(a.Close()).To(Succeed())
			Expect(c.WaitForMemberDeparture(a.Host(), 2*time.Second)).To(Succeed())
			Expect(c.Coordinator()).To(Equal(b.Host()))
			Expect(b.Coordinator()).To(Equal(b.Host()))
		})
		It("Should time out waiting for a member that stays", func() {
			ms, err := builder.NewN(ctx, 2)
			Expect(err).ToNot(HaveOccurred())
			err = ms[0].WaitForMemberDeparture(ms[1].Host(), 50*time.Millisecond)
			Expect(errors.Is(err, gms.ErrTimeout)).To(BeTrue())
		})
		It("Should remove a crashed member", func() {
			ms, err := builder.NewN(ctx, 3)
			Expect(err).ToNot(HaveOccurred())
			a, c := ms[0], ms[2]
			Eventually(func() int { return len(a.View().Members) }).Should(Equal(3))
			Expect(c.CrashDistributedSystem()).To(Succeed())
			Expect(c.IsConnected()).To(BeFalse())
			Expect(errors.Is(c.Send(ctx, a.Host(), []byte("x")), gms.ErrNotConnected)).To(BeTrue())
			Expect(a.WaitForMemberDeparture(c.Host(), 5*time.Second)).To(Succeed())
		})
	})

	Describe("Shunning", func() {
		It("Should never readmit a shunned member", func() {
			ms, err := builder.NewN(ctx, 3)
			Expect(err).ToNot(HaveOccurred())
			a, c := ms[0], ms[2]
			Eventually(func() int { return len(a.View().Members) }).Should(Equal(3))
			Expect(c.CrashDistributedSystem()).To(Succeed())
			Expect(a.WaitForMemberDeparture(c.Host(), 5*time.Second)).To(Succeed())
			Expect(a.IsShunned(c.Host())).To(BeTrue())
			a.AddSurpriseMember(c.Host(), time.Now().Add(-time.Minute))
			Consistently(func() bool { return a.View().Contains(c.Host()) }, 200*time.Millisecond).Should(BeFalse())
			Expect(a.Send(ctx, c.Host(), []byte("x"))).To(MatchError(gms.ErrShunned))
		})
	})

	Describe("Forced Disconnect", func() {
		It("Should disconnect a member that loses quorum", func() {
			ms, err := builder.NewN(ctx, 3)
			Expect(err).ToNot(HaveOccurred())
			a, b := ms[0], ms[1]
			Eventually(func() int { return len(a.View().Members) }).Should(Equal(3))
			causes := make(chan error, 1)
			a.OnDisconnect(func(err error) { causes <- err })
			builder.Isolate(a)
			Eventually(a.Done(), 2*time.Second).Should(BeClosed())
			Expect(errors.Is(<-causes, gms.ErrForcedDisconnect)).To(BeTrue())

			By("Keeping the majority connected")
			Expect(b.WaitForMemberDeparture(a.Host(), 5*time.Second)).To(Succeed())
			Expect(b.IsConnected()).To(BeTrue())
			Expect(b.Coordinator()).To(Equal(b.Host()))
		})
		It("Should freeze the view of a disconnected member", func() {
			a, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			v := a.View()
			Expect(a.ForceDisconnect("for testing")).To(BeTrue())
			Expect(a.ForceDisconnect("again")).To(BeFalse())
			Expect(a.View()).To(Equal(v))
			Expect(errors.Is(a.BeSick(), gms.ErrNotConnected)).To(BeTrue())
			Expect(a.Err()).To(MatchError(ContainSubstring("for testing")))
		})
	})

	Describe("Hooks", func() {
		It("Should surround every view install with publish hooks", func() {
			a, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			var (
				mu     sync.Mutex
				events []string
			)
			record := func(kind string) func(context.Context, gms.View) {
				return func(_ context.Context, v gms.View) {
					mu.Lock()
					defer mu.Unlock()
					events = append(events, fmt.Sprintf("%s:%d", kind, v.ID))
				}
			}
			h := &gms.HookFuncs{OnBeforeViewPublish: record("before"), OnAfterViewPublish: record("after")}
			a.RegisterTestHook(h)
			_, err = builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			Eventually(func() []string {
				mu.Lock()
				defer mu.Unlock()
				return append([]string(nil), events...)
			}).Should(Equal([]string{"before:1", "after:1"}))
			Expect(a.UnregisterTestHook(h)).To(BeTrue())
			Expect(a.UnregisterTestHook(h)).To(BeFalse())
		})
		It("Should report every processed message", func() {
			a, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			b, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			var (
				mu       sync.Mutex
				payloads []string
			)
			a.RegisterTestHook(&gms.HookFuncs{OnMessageReceived: func(_ context.Context, msg transport.Message) {
				if msg.Type != transport.TypeData {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				payloads = append(payloads, string(msg.Payload))
			}})
			Expect(b.Send(ctx, a.Host(), []byte("hello"))).To(Succeed())
			Eventually(func() []string {
				mu.Lock()
				defer mu.Unlock()
				return append([]string(nil), payloads...)
			}).Should(Equal([]string{"hello"}))
		})
	})

	Describe("Protocol Errors", func() {
		It("Should count and drop a message of an unknown type", func() {
			a, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			f := newFakeMember(builder.Network, "localhost:10900")
			defer f.close()
			v := a.View()
			f.send(a.Host().Address(), transport.Message{Type: transport.Type(99)})
			Eventually(func() error {
				return testutil.GatherAndCompare(a.Gatherer(), strings.NewReader(`
# HELP gms_protocol_errors_total Total number of malformed or unexpected messages.
# TYPE gms_protocol_errors_total counter
gms_protocol_errors_total 1
`), "gms_protocol_errors_total")
			}).Should(Succeed())
			Expect(a.IsSurpriseMember(f.Member)).To(BeFalse())
			Expect(a.View()).To(Equal(v))
			Expect(a.IsConnected()).To(BeTrue())
		})
	})

	Describe("View History", func() {
		It("Should record every installed view", func() {
			a, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			_, err = builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			Eventually(func() uint64 { return a.View().ID }).Should(Equal(uint64(1)))
			views, err := a.ViewHistory()
			Expect(err).ToNot(HaveOccurred())
			Expect(views).To(HaveLen(2))
			Expect(views[0].ID).To(BeZero())
			Expect(views[1]).To(Equal(a.View()))
		})
		It("Should not report the views of an earlier member started in the same directory", func() {
			dir, err := os.MkdirTemp("", "gms-history")
			Expect(err).ToNot(HaveOccurred())
			DeferCleanup(os.RemoveAll, dir)
			start := func(addr address.Address, peers []address.Address, opts ...gms.Option) *gms.Manager {
				m, err := gms.Join(ctx, addr, peers, append([]gms.Option{
					gms.WithTransport(builder.Network.NewTransport()),
					gms.WithTimingConfig(mock.FastTimingConfig()),
				}, opts...)...)
				Expect(err).ToNot(HaveOccurred())
				return m
			}
			a := start("localhost:10950", nil, gms.Bootstrap(), gms.WithDir(dir))
			b := start("localhost:10951", []address.Address{"localhost:10950"}, gms.MemBacked())
			Eventually(func() uint64 { return a.View().ID }).Should(Equal(uint64(1)))
			Expect(b.Close()).To(Succeed())
			Expect(a.WaitForMemberDeparture(b.Host(), 2*time.Second)).To(Succeed())
			Expect(a.Close()).To(Succeed())

			restarted := start("localhost:10950", nil, gms.Bootstrap(), gms.WithDir(dir))
			defer func() { Expect(restarted.Close()).To(Succeed()) }()
			views, err := restarted.ViewHistory()
			Expect(err).ToNot(HaveOccurred())
			Expect(views).To(Equal([]gms.View{restarted.View()}))
		})
	})
})
