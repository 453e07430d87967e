// Package detector probes the members of the current view and reports the ones
// that stop answering.
package detector

import (
	"context"
	"sync"
	"time"

	"github.com/arya-analytics/gms/internal/node"
	"github.com/arya-analytics/gms/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Suspicion is emitted once per episode in which a member stops acknowledging
// probes.
type Suspicion struct {
	Member      node.Node
	SuspectedAt time.Time
}

// Report summarizes a probe round.
type Report struct {
	// Suspicions are the members newly suspected in this round.
	Suspicions []Suspicion
	// Suspected is the number of members currently suspected.
	Suspected int
	// Members is the size of the view the round probed, including the local
	// member.
	Members int
}

type liveness struct {
	lastAck     time.Time
	suspectedAt time.Time
}

func (l liveness) suspected() bool { return !l.suspectedAt.IsZero() }

type Detector struct {
	Config
	mu      sync.Mutex
	members map[node.Node]*liveness
}

func New(cfg Config) *Detector {
	return &Detector{Config: cfg.Merge(DefaultConfig()), members: make(map[node.Node]*liveness)}
}

// Run probes the view every ProbeInterval until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	t := time.NewTicker(d.ProbeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			d.OnProbe(d.ProbeOnce(ctx, time.Now()))
		}
	}
}

// ProbeOnce pings every other member of the current view in parallel and then
// evaluates liveness at now.
func (d *Detector) ProbeOnce(ctx context.Context, now time.Time) Report {
	v := d.View()
	peers := v.Others(d.Self)
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			msg := transport.Message{From: d.Self, Type: transport.TypePing}
			if err := d.Transport.Send(gctx, p.Address(), msg); err != nil {
				d.Logger.Debug("ping failed", zap.Stringer("member", p), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return d.evaluate(peers, len(v.Members), now)
}

func (d *Detector) evaluate(peers node.Group, size int, now time.Time) Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := Report{Members: size}
	for m := range d.members {
		if !peers.Contains(m) {
			delete(d.members, m)
		}
	}
	for _, p := range peers {
		l, ok := d.members[p]
		if !ok {
			d.members[p] = &liveness{lastAck: now}
			continue
		}
		if !l.suspected() && now.Sub(l.lastAck) >= d.MemberTimeout {
			l.suspectedAt = now
			r.Suspicions = append(r.Suspicions, Suspicion{Member: p, SuspectedAt: now})
			d.Logger.Info("suspecting member",
				zap.Stringer("member", p),
				zap.Duration("silence", now.Sub(l.lastAck)),
			)
		}
		if l.suspected() {
			r.Suspected++
		}
	}
	return r
}

// HandlePing answers a probe from m if the local member's health allows it.
func (d *Detector) HandlePing(ctx context.Context, m node.Node) error {
	if !d.Health.State().AnswersProbes() {
		return nil
	}
	return d.Transport.Send(ctx, m.Address(), transport.Message{From: d.Self, Type: transport.TypeAck})
}

// HandleAck records an acknowledgement from m received at t. An ack from a
// suspected member ends its suspicion episode.
func (d *Detector) HandleAck(m node.Node, t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.members[m]
	if !ok {
		return
	}
	if t.After(l.lastAck) {
		l.lastAck = t
	}
	if l.suspected() {
		d.Logger.Info("member recovered", zap.Stringer("member", m))
		l.suspectedAt = time.Time{}
	}
}

// AckedSince reports whether m acknowledged a probe after t.
func (d *Detector) AckedSince(m node.Node, t time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.members[m]
	return ok && l.lastAck.After(t)
}

// Suspected returns the members currently suspected, oldest first.
func (d *Detector) Suspected() node.Group {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out node.Group
	for m, l := range d.members {
		if l.suspected() {
			out = append(out, m)
		}
	}
	return out.Sorted()
}
