package gms

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arya-analytics/gms/internal/coordinator"
	"github.com/arya-analytics/gms/internal/detector"
	"github.com/arya-analytics/gms/internal/disconnect"
	"github.com/arya-analytics/gms/internal/health"
	"github.com/arya-analytics/gms/internal/hook"
	"github.com/arya-analytics/gms/internal/ledger"
	"github.com/arya-analytics/gms/internal/node"
	"github.com/arya-analytics/gms/internal/shun"
	"github.com/arya-analytics/gms/internal/surprise"
	"github.com/arya-analytics/gms/internal/telemetry"
	"github.com/arya-analytics/gms/internal/view"
	"github.com/arya-analytics/gms/transport"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Manager is a running cluster member. It implements Membership and Testable.
type Manager struct {
	*options
	logger *zap.Logger
	self   node.Node
	// ctx is cancelled when the member stops for any reason.
	ctx    context.Context
	cancel context.CancelFunc

	health      *health.Controller
	store       *view.Store
	surprises   *surprise.Tracker
	shunned     *shun.Set
	hooks       *hook.Registry
	detector    *detector.Detector
	coordinator *coordinator.Coordinator
	disconnect  *disconnect.Manager
	ledger      *ledger.Ledger
	metrics     *telemetry.Metrics
	gatherer    prometheus.Gatherer

	// installMu serializes view installs so a decision and a received view
	// never race on the store.
	installMu   sync.Mutex
	viewMu      sync.Mutex
	viewChanged chan struct{}
	leaving     atomic.Bool

	routines  errgroup.Group
	stopped   chan struct{}
	closeOnce sync.Once
}

// start launches the member's goroutines. When the root context is cancelled
// the transport is closed, every goroutine exits and stopped is closed.
func (m *Manager) start() {
	m.routines.Go(func() error { return m.accept(m.ctx) })
	m.goFatal("failure detector", m.detector.Run)
	m.goFatal("coordinator", m.coordinator.Run)
	go func() {
		<-m.ctx.Done()
		if err := m.transport.Close(); err != nil {
			m.logger.Warn("failed to close transport", zap.Error(err))
		}
		_ = m.routines.Wait()
		close(m.stopped)
	}()
}

// goFatal runs f until the member stops. An error returned by f while the
// member is running disconnects it.
func (m *Manager) goFatal(name string, f func(context.Context) error) {
	m.routines.Go(func() error {
		if err := f(m.ctx); err != nil && m.ctx.Err() == nil {
			m.disconnect.ForceErr(errors.Wrapf(err, "%s failed", name))
		}
		return nil
	})
}

// View implements Membership.
func (m *Manager) View() View { return m.store.Current() }

// Host implements Membership.
func (m *Manager) Host() Member { return m.self }

// Coordinator implements Membership.
func (m *Manager) Coordinator() Member { return m.store.Current().Coordinator }

// LeadMember implements Membership.
func (m *Manager) LeadMember() (Member, bool) {
	v := m.store.Current()
	return v.Lead, v.HasLead()
}

// IsShunned implements Membership.
func (m *Manager) IsShunned(mem Member) bool { return m.shunned.Contains(mem, time.Now()) }

// IsSurpriseMember implements Membership.
func (m *Manager) IsSurpriseMember(mem Member) bool { return m.surprises.Contains(mem) }

// IsConnected implements Membership.
func (m *Manager) IsConnected() bool { return m.health.State() != health.Disconnected }

// Send implements Membership.
func (m *Manager) Send(ctx context.Context, to Member, payload []byte) error {
	if !m.IsConnected() {
		return m.notConnected()
	}
	if m.IsShunned(to) {
		return errors.Wrapf(ErrShunned, "send to %s", to)
	}
	return m.transport.Send(ctx, to.Address(), transport.Message{
		From:    m.self,
		Type:    transport.TypeData,
		Payload: payload,
	})
}

// RegisterTestHook implements Membership.
func (m *Manager) RegisterTestHook(h Hook) { m.hooks.Register(h) }

// UnregisterTestHook implements Membership.
func (m *Manager) UnregisterTestHook(h Hook) bool { return m.hooks.Unregister(h) }

// OnDisconnect implements Membership.
func (m *Manager) OnDisconnect(f func(error)) { m.disconnect.OnDisconnect(f) }

// Done implements Membership.
func (m *Manager) Done() <-chan struct{} { return m.ctx.Done() }

// Err implements Membership.
func (m *Manager) Err() error { return m.disconnect.Err() }

// ViewHistory implements Membership.
func (m *Manager) ViewHistory() ([]View, error) { return m.ledger.Views() }

// Gatherer returns the registry holding the member's metrics, or nil when the
// metrics were registered with a Registerer that cannot gather.
func (m *Manager) Gatherer() prometheus.Gatherer { return m.gatherer }

// Close implements Membership. A connected member announces its departure to
// the other members of the view before stopping.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		if m.IsConnected() {
			m.leaving.Store(true)
			ctx, cancel := context.WithTimeout(m.ctx, m.timing.MemberTimeout)
			v := m.store.Current()
			m.broadcast(ctx, v.Others(m.self), transport.Message{From: m.self, Type: transport.TypeLeave})
			cancel()
			m.health.Disconnect()
			m.store.Freeze()
			m.logger.Info("left cluster", zap.Uint64("view", v.ID))
		}
		m.cancel()
		<-m.stopped
	})
	return m.ledger.Close()
}

func (m *Manager) notConnected() error {
	if err := m.disconnect.Err(); err != nil {
		return errors.Mark(err, ErrNotConnected)
	}
	return ErrNotConnected
}

// awaitViewChange returns a channel closed on the next view install.
func (m *Manager) awaitViewChange() <-chan struct{} {
	m.viewMu.Lock()
	defer m.viewMu.Unlock()
	return m.viewChanged
}

func (m *Manager) signalViewChange() {
	m.viewMu.Lock()
	defer m.viewMu.Unlock()
	close(m.viewChanged)
	m.viewChanged = make(chan struct{})
}
