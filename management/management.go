// Package management exposes the operator controls of a cluster member: start
// and stop it, report whether it is running, and carry an operator supplied
// status message and monitoring URL.
package management

import (
	"context"
	"sync"

	"github.com/arya-analytics/gms"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ErrManagement marks every error returned by a Manager.
var ErrManagement = errors.New("management")

// Factory starts a fresh member.
type Factory func(ctx context.Context) (gms.Membership, error)

type Config struct {
	Factory Factory
	// PulseURL is the initial monitoring URL.
	PulseURL string
	Logger   *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.PulseURL == "" {
		cfg.PulseURL = def.PulseURL
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func DefaultConfig() Config {
	return Config{Logger: zap.NewNop()}
}

// Manager controls the lifecycle of the local member. Every Start uses the
// factory to build a new member, so a member that was forcibly disconnected
// is replaced rather than revived.
type Manager struct {
	Config
	mu       sync.Mutex
	member   gms.Membership
	status   string
	pulseURL string
}

func New(cfg Config) (*Manager, error) {
	cfg = cfg.Merge(DefaultConfig())
	if cfg.Factory == nil {
		return nil, errors.Mark(errors.New("a member factory is required"), ErrManagement)
	}
	return &Manager{Config: cfg, pulseURL: cfg.PulseURL, status: "stopped"}, nil
}

// IsRunning returns true if a member is started and connected.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running()
}

func (m *Manager) running() bool { return m.member != nil && m.member.IsConnected() }

// Member returns the current member, if any.
func (m *Manager) Member() (gms.Membership, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.member, m.member != nil
}

// Start starts a member unless one is already running. It returns true if
// this call started the member.
func (m *Manager) Start(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running() {
		return false, nil
	}
	if m.member != nil {
		if err := m.member.Close(); err != nil {
			m.Logger.Warn("failed to close disconnected member", zap.Error(err))
		}
		m.member = nil
	}
	mem, err := m.Factory(ctx)
	if err != nil {
		m.status = "failed to start: " + err.Error()
		return false, errors.Mark(errors.Wrap(err, "start member"), ErrManagement)
	}
	m.member = mem
	m.status = "running"
	m.Logger.Info("started member", zap.Stringer("host", mem.Host()))
	return true, nil
}

// Stop closes the running member. It returns true if this call stopped it.
func (m *Manager) Stop() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.member == nil {
		return false, nil
	}
	wasRunning := m.member.IsConnected()
	err := m.member.Close()
	host := m.member.Host()
	m.member = nil
	m.status = "stopped"
	if err != nil {
		return wasRunning, errors.Mark(errors.Wrapf(err, "stop member %s", host), ErrManagement)
	}
	m.Logger.Info("stopped member", zap.Stringer("host", host))
	return wasRunning, nil
}

func (m *Manager) StatusMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) SetStatusMessage(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = msg
}

func (m *Manager) PulseURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pulseURL
}

func (m *Manager) SetPulseURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulseURL = url
}
