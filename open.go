package gms

import (
	"context"

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
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// open assembles a member from its options. Nothing is started.
func open(o *options) (*Manager, error) {
	self, err := node.New(o.addr, ProtocolVersion, o.kind)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		options:     o,
		self:        self,
		ctx:         ctx,
		cancel:      cancel,
		health:      health.NewController(),
		store:       view.NewStore(view.Initial(self)),
		hooks:       &hook.Registry{},
		shunned:     shun.New(o.timing.ShunnedMemberTimeout),
		stopped:     make(chan struct{}),
		viewChanged: make(chan struct{}),
	}
	m.logger = o.logger.With(zap.Stringer("host", self))

	if err := openMetrics(m); err != nil {
		cancel()
		return nil, err
	}
	if err := openLedger(m); err != nil {
		cancel()
		return nil, err
	}

	m.surprises = surprise.New(surprise.Config{
		PromotionDelay: o.timing.SurprisePromotionDelay,
		Timeout:        o.timing.SurpriseMemberTimeout,
		Logger:         m.logger.Named("surprise"),
	})
	m.detector = detector.New(detector.Config{
		Self:          self,
		View:          m.store.Current,
		Health:        m.health,
		Transport:     o.transport,
		ProbeInterval: o.timing.ProbeInterval,
		MemberTimeout: o.timing.MemberTimeout,
		OnProbe:       m.observeProbe,
		Logger:        m.logger.Named("detector"),
	})
	m.coordinator = coordinator.New(coordinator.Config{
		Self:                 self,
		Store:                m.store,
		Surprises:            m.surprises,
		Shunned:              m.shunned,
		Detector:             m.detector,
		Publish:              m.publish,
		Forward:              m.forward,
		DecisionInterval:     o.timing.DecisionInterval,
		SuspicionGracePeriod: o.timing.SuspicionGracePeriod,
		Logger:               m.logger.Named("coordinator"),
	})
	m.disconnect = disconnect.New(disconnect.Config{
		Context:             ctx,
		Cancel:              cancel,
		Health:              m.health,
		Store:               m.store,
		Hooks:               m.hooks,
		QuorumLossThreshold: o.timing.QuorumLossThreshold,
		TransportErrorRate:  o.timing.TransportErrorRate,
		TransportErrorBurst: o.timing.TransportErrorBurst,
		InhibitLogging:      o.inhibitDisconnectLogging,
		Logger:              m.logger.Named("disconnect"),
	})
	m.disconnect.OnDisconnect(func(error) { m.metrics.ForcedDisconnects.Inc() })
	m.health.Observe(m.observeHealth)

	initial := m.store.Current()
	m.metrics.ObserveView(initial)
	if err := m.ledger.Append(initial); err != nil {
		m.logger.Warn("failed to record initial view", zap.Error(err))
	}
	return m, nil
}

func openMetrics(m *Manager) (err error) {
	m.metrics, err = telemetry.New(m.registerer)
	if err != nil {
		return errors.Wrap(err, "register metrics")
	}
	if g, ok := m.registerer.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return nil
}

func openLedger(m *Manager) (err error) {
	m.ledger, err = ledger.Open(ledger.Config{
		Dirname: m.dirname,
		FS:      m.fs,
		Logger:  m.logger.Named("ledger"),
	})
	return err
}

func configureTransport(ctx context.Context, m *Manager) error {
	if err := m.transport.Configure(ctx, m.addr); err != nil {
		return errors.Wrapf(err, "configure transport at %s", m.addr)
	}
	return nil
}

func (m *Manager) observeHealth(t health.Transition) {
	m.metrics.ObserveHealth(t.To)
	m.logger.Info("health changed", zap.Stringer("from", t.From), zap.Stringer("to", t.To))
	if t.To != health.Disconnected {
		m.hooks.HealthChanged(m.ctx, t)
	}
}

func (m *Manager) observeProbe(r detector.Report) {
	for _, s := range r.Suspicions {
		m.metrics.Suspicions.Inc()
		m.coordinator.Suspect(s)
	}
	m.disconnect.CheckQuorum(r.Suspected, r.Members)
}
