package disconnect

import (
	"context"

	"github.com/arya-analytics/gms/internal/health"
	"github.com/arya-analytics/gms/internal/hook"
	"github.com/arya-analytics/gms/internal/view"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	// Context is the member's root context. It is passed to forced disconnect
	// hooks and cancelled by Cancel once a disconnect completes.
	Context context.Context
	Cancel  context.CancelFunc
	Health  *health.Controller
	Store   *view.Store
	Hooks   *hook.Registry
	// QuorumLossThreshold is the fraction of view members that may be
	// suspected at once. Exceeding it forces a disconnect.
	QuorumLossThreshold float64
	// TransportErrorRate and TransportErrorBurst bound how many transport
	// errors are tolerated before the member disconnects.
	TransportErrorRate  rate.Limit
	TransportErrorBurst int
	// InhibitLogging logs forced disconnects at debug level instead of error.
	InhibitLogging bool
	Logger         *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.Context == nil {
		cfg.Context = def.Context
	}
	if cfg.Cancel == nil {
		cfg.Cancel = def.Cancel
	}
	if cfg.QuorumLossThreshold == 0 {
		cfg.QuorumLossThreshold = def.QuorumLossThreshold
	}
	if cfg.TransportErrorRate == 0 {
		cfg.TransportErrorRate = def.TransportErrorRate
	}
	if cfg.TransportErrorBurst == 0 {
		cfg.TransportErrorBurst = def.TransportErrorBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func DefaultConfig() Config {
	return Config{
		Context:             context.Background(),
		Cancel:              func() {},
		QuorumLossThreshold: 0.5,
		TransportErrorRate:  5,
		TransportErrorBurst: 20,
		Logger:              zap.NewNop(),
	}
}
