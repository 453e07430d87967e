// Package coordinator serializes view change decisions. Every member runs a
// Coordinator, but only the coordinator of the current view, or its successor
// when it departs, publishes views. The others forward the events they observe
// to the coordinator.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/arya-analytics/gms/internal/detector"
	"github.com/arya-analytics/gms/internal/node"
	"github.com/arya-analytics/gms/internal/view"
	"github.com/arya-analytics/gms/transport"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ErrStaleView is returned by Config.Publish when another view was installed
// while a decision was being made.
var ErrStaleView = errors.New("view changed during decision")

type Coordinator struct {
	Config
	mu       sync.Mutex
	joins    node.Group
	leaves   node.Group
	suspects map[node.Node]time.Time
	nudge    chan struct{}
}

func New(cfg Config) *Coordinator {
	return &Coordinator{
		Config:   cfg.Merge(DefaultConfig()),
		suspects: make(map[node.Node]time.Time),
		nudge:    make(chan struct{}, 1),
	}
}

// Join queues a request from m to join the view.
func (c *Coordinator) Join(m node.Node) {
	c.mu.Lock()
	if !c.joins.Contains(m) {
		c.joins = append(c.joins, m)
	}
	c.mu.Unlock()
	c.poke()
}

// Leave queues the graceful departure of m. The local member never queues its
// own departure; it announces it to the others instead.
func (c *Coordinator) Leave(m node.Node) {
	if m == c.Self {
		return
	}
	c.mu.Lock()
	if !c.leaves.Contains(m) {
		c.leaves = append(c.leaves, m)
	}
	c.mu.Unlock()
	c.poke()
}

// Suspect queues a suspicion. The earliest suspicion of a member wins.
func (c *Coordinator) Suspect(s detector.Suspicion) {
	if s.Member == c.Self {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if at, ok := c.suspects[s.Member]; !ok || s.SuspectedAt.Before(at) {
		c.suspects[s.Member] = s.SuspectedAt
	}
}

func (c *Coordinator) poke() {
	select {
	case c.nudge <- struct{}{}:
	default:
	}
}

// Run makes a decision every DecisionInterval, or sooner when a join or leave
// arrives, until ctx is cancelled or a decision fails.
func (c *Coordinator) Run(ctx context.Context) error {
	t := time.NewTicker(c.DecisionInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		case <-c.nudge:
		}
		if _, _, err := c.Decide(ctx, time.Now()); err != nil {
			return err
		}
	}
}

// Decide consumes the queued events and, if the local member is responsible
// for the next view, publishes it. It returns the published view and true if
// a view was published.
func (c *Coordinator) Decide(ctx context.Context, now time.Time) (view.View, bool, error) {
	prev := c.Store.Current()
	joins, leaves, suspects := c.drain(prev, now)
	c.Surprises.Purge(now)
	if n := c.Shunned.Purge(now); n > 0 {
		c.Logger.Debug("purged expired shunned members", zap.Int("count", n))
	}
	d := Decision{
		Joins:     joins,
		Leaves:    leaves,
		Suspects:  suspects.members(),
		Surprises: c.Surprises.Promotable(now),
		Shunned:   c.Shunned.Members(now),
	}
	next, changed := Next(prev, d)
	if !c.responsible(prev, next, d) {
		c.forward(ctx, prev.Coordinator, d, suspects)
		return prev, false, nil
	}
	c.resendView(ctx, prev, joins)
	if !changed {
		return prev, false, nil
	}
	if err := c.Publish(ctx, prev, next); err != nil {
		if errors.Is(err, ErrStaleView) {
			c.requeue(joins, leaves, suspects)
			return prev, false, nil
		}
		return prev, false, err
	}
	c.Surprises.Remove(next.Members...)
	c.Logger.Info("published view",
		zap.Uint64("view", next.ID),
		zap.Stringer("coordinator", next.Coordinator),
		zap.Int("members", len(next.Members)),
	)
	return next, true, nil
}

// responsible reports whether the local member decides the view following
// prev: it coordinates prev, or the coordinator of prev departs and the local
// member coordinates next.
func (c *Coordinator) responsible(prev, next view.View, d Decision) bool {
	if prev.Coordinator == c.Self {
		return true
	}
	return d.departing().Contains(prev.Coordinator) && next.Coordinator == c.Self
}

type suspicions map[node.Node]time.Time

func (s suspicions) members() node.Group {
	var out node.Group
	for m := range s {
		out = append(out, m)
	}
	return out.Sorted()
}

// drain removes the queued joins and leaves along with the suspicions that are
// settled at now. Suspicions of members that acknowledged a probe since being
// suspected are dropped as blips. Suspicions still within the grace period
// stay queued.
func (c *Coordinator) drain(prev view.View, now time.Time) (joins, leaves node.Group, sustained suspicions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	joins, leaves = c.joins, c.leaves
	c.joins, c.leaves = nil, nil
	sustained = make(suspicions)
	for m, at := range c.suspects {
		switch {
		case !prev.Contains(m):
			delete(c.suspects, m)
		case c.Detector.AckedSince(m, at):
			c.Logger.Debug("suspicion was a blip", zap.Stringer("member", m))
			delete(c.suspects, m)
		case now.Sub(at) >= c.SuspicionGracePeriod:
			sustained[m] = at
			delete(c.suspects, m)
		}
	}
	return joins, leaves, sustained
}

func (c *Coordinator) requeue(joins, leaves node.Group, sustained suspicions) {
	for _, m := range joins {
		c.Join(m)
	}
	for _, m := range leaves {
		c.Leave(m)
	}
	for m, at := range sustained {
		c.Suspect(detector.Suspicion{Member: m, SuspectedAt: at})
	}
}

// forward hands the events of d to the coordinator of the current view.
func (c *Coordinator) forward(ctx context.Context, to node.Node, d Decision, sustained suspicions) {
	var msgs []transport.Message
	for _, m := range d.Joins {
		msgs = append(msgs, transport.Message{From: m, Type: transport.TypeJoin})
	}
	for _, m := range d.Leaves {
		msgs = append(msgs, transport.Message{From: m, Type: transport.TypeLeave})
	}
	for m, at := range sustained {
		msgs = append(msgs, transport.Message{
			From:    c.Self,
			Type:    transport.TypeSuspect,
			Subject: m,
			At:      at.UnixNano(),
		})
	}
	for _, msg := range msgs {
		if err := c.Forward(ctx, to, msg); err != nil {
			c.Logger.Debug("failed to forward event to coordinator",
				zap.Stringer("coordinator", to),
				zap.Stringer("type", msg.Type),
				zap.Error(err),
			)
		}
	}
}

// resendView sends the current view to joining members that are already in
// it, since they did not receive it when it was published.
func (c *Coordinator) resendView(ctx context.Context, prev view.View, joins node.Group) {
	for _, m := range joins {
		if !prev.Contains(m) || m == c.Self {
			continue
		}
		msg := transport.Message{From: c.Self, Type: transport.TypeView, View: prev}
		if err := c.Forward(ctx, m, msg); err != nil {
			c.Logger.Debug("failed to resend view", zap.Stringer("member", m), zap.Error(err))
		}
	}
}
