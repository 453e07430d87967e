package gms

import (
	"context"
	"time"

	"github.com/arya-analytics/gms/address"
	"github.com/arya-analytics/gms/transport"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Join starts a member at addr. When bootstrapping, the member forms a new
// cluster on its own; otherwise it asks peers to admit it and returns once a
// view containing it is installed. The returned Manager must be closed.
func Join(ctx context.Context, addr address.Address, peers []address.Address, opts ...Option) (*Manager, error) {
	o := newOptions(addr, peers, opts...)
	if err := validateOptions(o); err != nil {
		return nil, err
	}
	m, err := open(o)
	if err != nil {
		return nil, err
	}
	if err := configureTransport(ctx, m); err != nil {
		m.cancel()
		_ = m.ledger.Close()
		return nil, err
	}
	m.start()
	if o.bootstrap {
		m.logger.Info("bootstrapped cluster", zap.Stringer("view", m.View()))
		return m, nil
	}
	if err := m.join(ctx); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

// join sends join requests to the peers in turn at a scaling interval until a
// view containing the local member is installed.
func (m *Manager) join(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timing.JoinTimeout)
	defer cancel()
	interval := m.timing.JoinRetryInterval
	req := transport.Message{From: m.self, Type: transport.TypeJoin}
	for i := 0; ; i++ {
		changed := m.awaitViewChange()
		if v := m.store.Current(); v.ID > 0 && v.Contains(m.self) {
			m.logger.Info("joined cluster", zap.Stringer("view", v))
			return nil
		}
		peer := m.peerAddresses[i%len(m.peerAddresses)]
		if err := m.transport.Send(ctx, peer, req); err != nil {
			m.logger.Debug("join request failed", zap.Stringer("peer", peer), zap.Error(err))
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errors.Mark(errors.Wrapf(ctx.Err(), "join via %v", m.peerAddresses), ErrJoinTimeout)
			}
			return ctx.Err()
		case <-m.ctx.Done():
			t.Stop()
			return m.notConnected()
		case <-changed:
			t.Stop()
		case <-t.C:
		}
		interval = time.Duration(float64(interval) * m.timing.JoinRetryScale)
	}
}
