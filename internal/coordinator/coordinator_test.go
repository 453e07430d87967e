package coordinator_test

import (
	"context"
	"time"

	"github.com/arya-analytics/gms/internal/coordinator"
	"github.com/arya-analytics/gms/internal/detector"
	"github.com/arya-analytics/gms/internal/node"
	"github.com/arya-analytics/gms/internal/shun"
	"github.com/arya-analytics/gms/internal/surprise"
	"github.com/arya-analytics/gms/internal/view"
	"github.com/arya-analytics/gms/transport"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type acks map[node.Node]time.Time

func (a acks) AckedSince(m node.Node, t time.Time) bool {
	at, ok := a[m]
	return ok && at.After(t)
}

type forwarded struct {
	to  node.Node
	msg transport.Message
}

type harness struct {
	store     *view.Store
	surprises *surprise.Tracker
	shunned   *shun.Set
	acks      acks
	published []view.View
	forwarded []forwarded
	stale     int
	c         *coordinator.Coordinator
}

func newHarness(self node.Node, initial view.View) *harness {
	h := &harness{
		store:     view.NewStore(initial),
		surprises: surprise.New(surprise.Config{PromotionDelay: 5 * time.Second}),
		shunned:   shun.New(time.Minute),
		acks:      make(acks),
	}
	h.c = coordinator.New(coordinator.Config{
		Self:                 self,
		Store:                h.store,
		Surprises:            h.surprises,
		Shunned:              h.shunned,
		Detector:             h.acks,
		SuspicionGracePeriod: 2 * time.Second,
		Publish: func(_ context.Context, prev, next view.View) error {
			if h.stale > 0 {
				h.stale--
				return coordinator.ErrStaleView
			}
			if h.store.Current().ID != prev.ID {
				return coordinator.ErrStaleView
			}
			h.published = append(h.published, next)
			return h.store.Publish(next)
		},
		Forward: func(_ context.Context, to node.Node, msg transport.Message) error {
			h.forwarded = append(h.forwarded, forwarded{to: to, msg: msg})
			return nil
		},
	})
	return h
}

var _ = Describe("Coordinator", func() {
	var (
		ctx        = context.Background()
		t0         = time.Now()
		a, b, c, d = member(1), member(2), member(3), member(4)
	)
	Describe("Joins", func() {
		It("Should add a joining member to the view", func() {
			h := newHarness(a, view.Initial(a))
			h.c.Join(b)
			v, ok, err := h.c.Decide(ctx, t0)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(v.ID).To(Equal(uint64(1)))
			Expect(v.Members).To(Equal(node.Group{a, b}))
			Expect(v.Coordinator).To(Equal(a))
			Expect(h.store.Current()).To(Equal(v))
		})
		It("Should resend the view to a member that is already in it", func() {
			h := newHarness(a, view.View{ID: 1, Members: node.Group{a, b}, Coordinator: a, Lead: a})
			h.c.Join(b)
			_, ok, err := h.c.Decide(ctx, t0)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(h.forwarded).To(HaveLen(1))
			Expect(h.forwarded[0].to).To(Equal(b))
			Expect(h.forwarded[0].msg.Type).To(Equal(transport.TypeView))
			Expect(h.forwarded[0].msg.View.ID).To(Equal(uint64(1)))
		})
		It("Should not admit a shunned member", func() {
			h := newHarness(a, view.View{ID: 1, Members: node.Group{a}, Coordinator: a, Lead: a})
			h.shunned.Add(b, t0)
			h.c.Join(b)
			_, ok, err := h.c.Decide(ctx, t0)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(h.store.Current().Contains(b)).To(BeFalse())
		})
		It("Should forget shunned members once their entries expire", func() {
			h := newHarness(a, view.View{ID: 1, Members: node.Group{a}, Coordinator: a, Lead: a})
			h.shunned.Add(b, t0)
			h.shunned.Add(c, t0)
			_, _, err := h.c.Decide(ctx, t0.Add(30*time.Second))
			Expect(err).ToNot(HaveOccurred())
			Expect(h.shunned.Len()).To(Equal(2))
			_, _, err = h.c.Decide(ctx, t0.Add(2*time.Minute))
			Expect(err).ToNot(HaveOccurred())
			Expect(h.shunned.Len()).To(BeZero())
		})
		It("Should retry the decision when another view was installed meanwhile", func() {
			h := newHarness(a, view.Initial(a))
			h.stale = 1
			h.c.Join(b)
			_, ok, err := h.c.Decide(ctx, t0)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
			v, ok, err := h.c.Decide(ctx, t0)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(v.Members).To(Equal(node.Group{a, b}))
		})
	})
	Describe("Surprise members", func() {
		It("Should exclude a surprise member before the promotion delay and include it after", func() {
			h := newHarness(a, view.View{ID: 1, Members: node.Group{a, b}, Coordinator: a, Lead: a})
			h.surprises.Observe(c, t0)
			_, ok, err := h.c.Decide(ctx, t0.Add(3*time.Second))
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(h.store.Current().Contains(c)).To(BeFalse())
			Expect(h.surprises.Contains(c)).To(BeTrue())
			v, ok, err := h.c.Decide(ctx, t0.Add(5*time.Second))
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(v.Contains(c)).To(BeTrue())
			Expect(h.surprises.Contains(c)).To(BeFalse())
		})
		It("Should promote a back-dated surprise member on the next decision", func() {
			h := newHarness(a, view.View{ID: 1, Members: node.Group{a}, Coordinator: a, Lead: a})
			now := time.Now()
			h.surprises.Add(d, now.Add(-10*time.Second))
			v, ok, err := h.c.Decide(ctx, now)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(v.Members).To(Equal(node.Group{a, d}))
		})
		It("Should purge a surprise member past its deadline instead of promoting it", func() {
			h := newHarness(a, view.View{ID: 1, Members: node.Group{a}, Coordinator: a, Lead: a})
			h.surprises.Observe(c, t0)
			_, ok, err := h.c.Decide(ctx, t0.Add(10*time.Minute))
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(h.surprises.Contains(c)).To(BeFalse())
		})
	})
	Describe("Suspicions", func() {
		var h *harness
		BeforeEach(func() {
			h = newHarness(a, view.View{ID: 1, Members: node.Group{a, b, c}, Coordinator: a, Lead: a})
		})
		It("Should remove a member whose suspicion outlives the grace period", func() {
			h.c.Suspect(detector.Suspicion{Member: b, SuspectedAt: t0})
			_, ok, err := h.c.Decide(ctx, t0.Add(time.Second))
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
			v, ok, err := h.c.Decide(ctx, t0.Add(2*time.Second))
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(v.Members).To(Equal(node.Group{a, c}))
		})
		It("Should absorb a suspicion when the member acknowledges again", func() {
			h.c.Suspect(detector.Suspicion{Member: b, SuspectedAt: t0})
			h.acks[b] = t0.Add(time.Second)
			_, ok, err := h.c.Decide(ctx, t0.Add(3*time.Second))
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
			_, ok, err = h.c.Decide(ctx, t0.Add(10*time.Second))
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(h.published).To(BeEmpty())
		})
	})
	Describe("Responsibility", func() {
		It("Should forward events to the coordinator when not coordinating", func() {
			h := newHarness(b, view.View{ID: 1, Members: node.Group{a, b}, Coordinator: a, Lead: a})
			h.c.Join(c)
			_, ok, err := h.c.Decide(ctx, t0)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(h.published).To(BeEmpty())
			Expect(h.forwarded).To(HaveLen(1))
			Expect(h.forwarded[0].to).To(Equal(a))
			Expect(h.forwarded[0].msg.Type).To(Equal(transport.TypeJoin))
			Expect(h.forwarded[0].msg.From).To(Equal(c))
		})
		It("Should take over when the coordinator leaves", func() {
			h := newHarness(b, view.View{ID: 3, Members: node.Group{a, b, c}, Coordinator: a, Lead: a})
			h.c.Leave(a)
			v, ok, err := h.c.Decide(ctx, t0)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(v.ID).To(Equal(uint64(4)))
			Expect(v.Coordinator).To(Equal(b))
			Expect(v.Members).To(Equal(node.Group{b, c}))
		})
		It("Should not take over when another member succeeds the coordinator", func() {
			h := newHarness(c, view.View{ID: 3, Members: node.Group{a, b, c}, Coordinator: a, Lead: a})
			h.c.Leave(a)
			_, ok, err := h.c.Decide(ctx, t0)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(h.published).To(BeEmpty())
		})
	})
	Describe("Run", func() {
		It("Should decide promptly after a join", func() {
			h := newHarness(a, view.Initial(a))
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			errC := make(chan error, 1)
			go func() { errC <- h.c.Run(ctx) }()
			h.c.Join(b)
			Eventually(func() bool { return h.store.Current().Contains(b) }).Should(BeTrue())
			cancel()
			Eventually(errC).Should(Receive(MatchError(context.Canceled)))
		})
	})
})
