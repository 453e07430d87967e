package gms

import (
	"context"

	"github.com/arya-analytics/gms/internal/node"
	"github.com/arya-analytics/gms/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// forward sends msg to a single member.
func (m *Manager) forward(ctx context.Context, to node.Node, msg transport.Message) error {
	return m.transport.Send(ctx, to.Address(), msg)
}

// broadcast sends msg to every member of targets in parallel. Failures are
// logged; the failure detector is responsible for unreachable members.
func (m *Manager) broadcast(ctx context.Context, targets node.Group, msg transport.Message) {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			if err := m.forward(gctx, t, msg); err != nil {
				m.logger.Debug("broadcast failed",
					zap.Stringer("member", t),
					zap.Stringer("type", msg.Type),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}
