package gms

import (
	"context"
	"fmt"
	"time"

	"github.com/arya-analytics/gms/internal/coordinator"
	"github.com/arya-analytics/gms/internal/detector"
	"github.com/arya-analytics/gms/internal/health"
	"github.com/arya-analytics/gms/internal/view"
	"github.com/arya-analytics/gms/transport"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

func servesConnections(s health.State) bool {
	return s.AcceptsConnections() || s == health.Disconnected
}

func processesOrdered(s health.State) bool {
	return s.ProcessesOrdered() || s == health.Disconnected
}

// accept starts a reader for every inbound connection. While the member is
// not healthy, new connections wait before they are served.
func (m *Manager) accept(ctx context.Context) error {
	for {
		c, err := m.transport.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			m.transportError(err)
			continue
		}
		if s, err := m.health.Await(ctx, servesConnections); err != nil || s == health.Disconnected {
			_ = c.Close()
			return nil
		}
		m.routines.Go(func() error {
			m.read(ctx, c)
			return nil
		})
	}
}

// read processes the messages of a single connection. Control messages are
// handled as they arrive. Ordered messages are queued for a second goroutine
// that holds them while the member is not healthy, so a held message never
// blocks the control traffic behind it.
func (m *Manager) read(ctx context.Context, c transport.Conn) {
	defer func() { _ = c.Close() }()
	held := newBacklog()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msg, ok := held.pop()
			if !ok {
				return
			}
			s, err := m.health.Await(ctx, processesOrdered)
			if err != nil || s == health.Disconnected {
				continue
			}
			m.handle(ctx, msg)
		}
	}()
	defer func() {
		held.close()
		<-done
	}()
	for {
		msg, err := c.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, transport.ErrClosed) {
				m.transportError(err)
			}
			return
		}
		if msg.Type.Ordered() {
			held.push(msg)
			continue
		}
		m.handle(ctx, msg)
	}
}

// handle applies a single inbound message. Messages from shunned members are
// dropped. Senders absent from the current view are tracked as surprise
// members, except for joins and views, which legitimately come from
// non-members.
func (m *Manager) handle(ctx context.Context, msg transport.Message) {
	if !msg.Type.Valid() {
		err := errors.AssertionFailedf("unexpected message type %d from %s", msg.Type, msg.From)
		m.metrics.ProtocolErrors.Inc()
		m.logger.Error("protocol error", zap.Error(err))
		return
	}
	if m.health.State() == health.Disconnected {
		m.metrics.MessagesDropped.WithLabelValues("disconnected").Inc()
		return
	}
	now := time.Now()
	if m.shunned.Contains(msg.From, now) {
		m.metrics.MessagesDropped.WithLabelValues("shunned").Inc()
		m.logger.Debug("dropped message from shunned member",
			zap.Stringer("member", msg.From),
			zap.Stringer("type", msg.Type),
		)
		return
	}
	if msg.Type != transport.TypeJoin && msg.Type != transport.TypeView &&
		!m.store.Current().Contains(msg.From) && m.surprises.Observe(msg.From, now) {
		m.metrics.SurpriseMembers.Inc()
	}
	m.metrics.MessagesReceived.WithLabelValues(msg.Type.String()).Inc()
	m.hooks.MessageReceived(ctx, msg)
	switch msg.Type {
	case transport.TypePing:
		if err := m.detector.HandlePing(ctx, msg.From); err != nil {
			m.logger.Debug("failed to answer ping", zap.Stringer("member", msg.From), zap.Error(err))
		}
	case transport.TypeAck:
		m.detector.HandleAck(msg.From, now)
	case transport.TypeJoin:
		m.coordinator.Join(msg.From)
	case transport.TypeLeave:
		m.coordinator.Leave(msg.From)
	case transport.TypeSuspect:
		m.coordinator.Suspect(detector.Suspicion{Member: msg.Subject, SuspectedAt: time.Unix(0, msg.At)})
	case transport.TypeView:
		m.receiveView(ctx, msg)
	case transport.TypeData:
		if m.handler != nil {
			m.handler(ctx, msg.From, msg.Payload)
		}
	}
}

func (m *Manager) receiveView(ctx context.Context, msg transport.Message) {
	if err := m.install(ctx, nil, msg.View); err != nil {
		if errors.Is(err, view.ErrFrozen) {
			return
		}
		m.disconnect.ForceErr(errors.Wrapf(err, "install view %d from %s", msg.View.ID, msg.From))
	}
}

// publish installs a view decided by the local coordinator and distributes it
// to its members and to the members it removes.
func (m *Manager) publish(ctx context.Context, prev, next view.View) error {
	if err := m.install(ctx, &prev, next); err != nil {
		if errors.Is(err, view.ErrFrozen) {
			return nil
		}
		return err
	}
	targets := next.Members.Union(prev.Members).WhereNot(m.self)
	m.broadcast(ctx, targets, transport.Message{From: m.self, Type: transport.TypeView, View: next})
	return nil
}

// install makes next the current view. If expected is set, the install fails
// with coordinator.ErrStaleView unless expected is still current; otherwise
// views older than the current one are ignored. A view that excludes the local
// member disconnects it unless it is leaving.
func (m *Manager) install(ctx context.Context, expected *view.View, next view.View) error {
	m.installMu.Lock()
	defer m.installMu.Unlock()
	cur := m.store.Current()
	if expected != nil && cur.ID != expected.ID {
		return coordinator.ErrStaleView
	}
	if next.ID <= cur.ID {
		return nil
	}
	if !next.Contains(m.self) {
		if !m.leaving.Load() {
			m.disconnect.Force(fmt.Sprintf("removed from view %d by %s", next.ID, next.Coordinator))
		}
		return nil
	}
	m.hooks.BeforeViewPublish(ctx, next)
	if err := m.store.Publish(next); err != nil {
		return err
	}
	m.hooks.AfterViewPublish(ctx, next)
	now := time.Now()
	for _, d := range cur.Members.WhereNot(next.Members...) {
		m.shunned.Add(d, now)
	}
	m.surprises.Remove(next.Members...)
	m.metrics.ObserveView(next)
	if err := m.ledger.Append(next); err != nil {
		m.logger.Warn("failed to record view", zap.Uint64("view", next.ID), zap.Error(err))
	}
	m.signalViewChange()
	m.logger.Info("installed view", zap.Stringer("view", next))
	return nil
}

func (m *Manager) transportError(err error) {
	m.metrics.TransportErrors.Inc()
	m.disconnect.TransportError(err)
}
