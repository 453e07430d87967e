// Package disconnect forcibly removes the local member from the cluster when
// it can no longer meet its health guarantees. A disconnect is irrevocable.
package disconnect

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrForcedDisconnect marks the error delivered to listeners when the member
// is forcibly disconnected.
var ErrForcedDisconnect = errors.New("forced disconnect")

type Manager struct {
	Config
	limiter  *rate.Limiter
	inhibit  atomic.Bool
	once     sync.Once
	done     chan struct{}
	mu       sync.Mutex
	err      error
	fired    bool
	listener []func(error)
}

func New(cfg Config) *Manager {
	cfg = cfg.Merge(DefaultConfig())
	m := &Manager{
		Config:  cfg,
		limiter: rate.NewLimiter(cfg.TransportErrorRate, cfg.TransportErrorBurst),
		done:    make(chan struct{}),
	}
	m.inhibit.Store(cfg.InhibitLogging)
	return m
}

// InhibitLogging switches forced disconnect logging to debug level for this
// member.
func (m *Manager) InhibitLogging(inhibit bool) { m.inhibit.Store(inhibit) }

func (m *Manager) LoggingInhibited() bool { return m.inhibit.Load() }

// OnDisconnect registers f to receive the disconnect error. If the member has
// already disconnected, f is called immediately.
func (m *Manager) OnDisconnect(f func(error)) {
	m.mu.Lock()
	if !m.fired {
		m.listener = append(m.listener, f)
		m.mu.Unlock()
		return
	}
	err := m.err
	m.mu.Unlock()
	f(err)
}

// Done is closed once a forced disconnect completes.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Err returns the disconnect error, or nil while the member is connected.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// CheckQuorum forces a disconnect when more than QuorumLossThreshold of the
// view's members are suspected. It returns true if quorum was lost.
func (m *Manager) CheckQuorum(suspected, members int) bool {
	if members == 0 || float64(suspected)/float64(members) <= m.QuorumLossThreshold {
		return false
	}
	m.Force(fmt.Sprintf("quorum lost: %d of %d members suspected", suspected, members))
	return true
}

// TransportError records a transport failure and forces a disconnect when
// failures exceed the configured budget.
func (m *Manager) TransportError(err error) {
	if m.limiter.Allow() {
		m.Logger.Debug("transport error", zap.Error(err))
		return
	}
	m.ForceErr(errors.Wrap(err, "transport error budget exhausted"))
}

// Force disconnects the member for reason. Only the first call has an effect.
// It returns true if this call performed the disconnect.
func (m *Manager) Force(reason string) bool {
	return m.ForceErr(errors.New(reason))
}

// ForceErr is like Force with an error as the reason.
func (m *Manager) ForceErr(cause error) (performed bool) {
	m.once.Do(func() {
		performed = true
		m.disconnect(cause)
	})
	return performed
}

func (m *Manager) disconnect(cause error) {
	err := errors.Mark(errors.Wrap(cause, "forced disconnect"), ErrForcedDisconnect)
	m.log(err)
	m.Health.Disconnect()
	m.Store.Freeze()
	m.Hooks.ForcedDisconnect(m.Context, err)
	m.mu.Lock()
	m.err, m.fired = err, true
	listeners := m.listener
	m.listener = nil
	m.mu.Unlock()
	for _, f := range listeners {
		f(err)
	}
	m.Cancel()
	close(m.done)
}

func (m *Manager) log(err error) {
	v := m.Store.Current()
	fields := []zap.Field{zap.Error(err), zap.Uint64("view", v.ID), zap.Int("members", len(v.Members))}
	if m.inhibit.Load() {
		m.Logger.Debug("member forcibly disconnected", fields...)
		return
	}
	m.Logger.Error("member forcibly disconnected", fields...)
}
