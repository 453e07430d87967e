package gms

import (
	"time"

	"github.com/arya-analytics/gms/internal/health"
	"github.com/cockroachdb/errors"
)

// BeSick implements Testable.
func (m *Manager) BeSick() error {
	if err := m.health.BeSick(); err != nil {
		return m.healthErr(err)
	}
	return nil
}

// BeHealthy implements Testable.
func (m *Manager) BeHealthy() error {
	if err := m.health.BeHealthy(); err != nil {
		return m.healthErr(err)
	}
	return nil
}

// PlayDead implements Testable. Playing dead while a disconnect is under way
// is a no-op.
func (m *Manager) PlayDead() error {
	if err := m.health.PlayDead(); err != nil && !errors.Is(err, health.ErrCancelled) {
		return m.healthErr(err)
	}
	return nil
}

func (m *Manager) healthErr(err error) error {
	if errors.Is(err, health.ErrDisconnected) {
		return m.notConnected()
	}
	return err
}

// Health implements Testable.
func (m *Manager) Health() HealthState { return m.health.State() }

// AddSurpriseMember implements Testable.
func (m *Manager) AddSurpriseMember(mem Member, birth time.Time) {
	m.surprises.Add(mem, birth)
}

// InhibitForcedDisconnectLogging implements Testable.
func (m *Manager) InhibitForcedDisconnectLogging(inhibit bool) {
	m.disconnect.InhibitLogging(inhibit)
}

// ForceDisconnect implements Testable.
func (m *Manager) ForceDisconnect(reason string) bool {
	return m.disconnect.Force(reason)
}

// WaitForMemberDeparture implements Testable.
func (m *Manager) WaitForMemberDeparture(mem Member, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	t := time.NewTicker(m.timing.DeparturePollInterval)
	defer t.Stop()
	for {
		v := m.store.Current()
		if !v.Contains(mem) {
			return nil
		}
		if !time.Now().Before(deadline) {
			return errors.Wrapf(ErrTimeout, "%s still in view %d after %s", mem, v.ID, timeout)
		}
		<-t.C
	}
}

// CrashDistributedSystem implements Testable. The member stops answering
// probes and disconnects without announcing its departure, as if its process
// had died.
func (m *Manager) CrashDistributedSystem() error {
	inhibited := m.disconnect.LoggingInhibited()
	m.disconnect.InhibitLogging(true)
	defer m.disconnect.InhibitLogging(inhibited)
	if err := m.PlayDead(); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	m.ForceDisconnect("crashed for testing")
	deadline := time.Now().Add(m.timing.CrashTimeout)
	t := time.NewTicker(m.timing.DeparturePollInterval)
	defer t.Stop()
	for m.IsConnected() {
		if !time.Now().Before(deadline) {
			return errors.Wrapf(ErrTimeout, "member still connected after %s", m.timing.CrashTimeout)
		}
		<-t.C
	}
	return nil
}
