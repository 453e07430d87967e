package coordinator

import (
	"context"
	"time"

	"github.com/arya-analytics/gms/internal/node"
	"github.com/arya-analytics/gms/internal/shun"
	"github.com/arya-analytics/gms/internal/surprise"
	"github.com/arya-analytics/gms/internal/view"
	"github.com/arya-analytics/gms/transport"
	"go.uber.org/zap"
)

type Config struct {
	Self node.Node
	// Store is read for the view each decision starts from.
	Store interface{ Current() view.View }
	// Surprises supplies members to promote.
	Surprises *surprise.Tracker
	// Shunned members are excluded from every view.
	Shunned *shun.Set
	// Detector tells whether a suspected member recovered.
	Detector interface {
		AckedSince(m node.Node, t time.Time) bool
	}
	// Publish installs and distributes next. It must return ErrStaleView if
	// the current view is no longer prev.
	Publish func(ctx context.Context, prev, next view.View) error
	// Forward sends a message to another member.
	Forward func(ctx context.Context, to node.Node, msg transport.Message) error
	// DecisionInterval is the time between decisions when nothing nudges the
	// coordinator.
	DecisionInterval time.Duration
	// SuspicionGracePeriod is how long a suspicion must persist without the
	// member acknowledging a probe before it is removed from the view.
	SuspicionGracePeriod time.Duration
	Logger               *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.DecisionInterval == 0 {
		cfg.DecisionInterval = def.DecisionInterval
	}
	if cfg.SuspicionGracePeriod == 0 {
		cfg.SuspicionGracePeriod = def.SuspicionGracePeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func DefaultConfig() Config {
	return Config{
		DecisionInterval:     250 * time.Millisecond,
		SuspicionGracePeriod: 2 * time.Second,
		Logger:               zap.NewNop(),
	}
}
