package detector

import (
	"time"

	"github.com/arya-analytics/gms/internal/health"
	"github.com/arya-analytics/gms/internal/node"
	"github.com/arya-analytics/gms/internal/view"
	"github.com/arya-analytics/gms/transport"
	"go.uber.org/zap"
)

type Config struct {
	// Self is the identity of the local member.
	Self node.Node
	// View returns the current view. Only members of the current view are
	// probed.
	View func() view.View
	// Health gates whether the local member answers probes.
	Health interface{ State() health.State }
	// Transport is used to send pings and acks.
	Transport transport.Sender
	// ProbeInterval is the time between probe rounds.
	ProbeInterval time.Duration
	// MemberTimeout is how long a member may go without acknowledging a probe
	// before it is suspected.
	MemberTimeout time.Duration
	// OnProbe is called after every probe round with its report.
	OnProbe func(Report)
	Logger  *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	if cfg.MemberTimeout == 0 {
		cfg.MemberTimeout = def.MemberTimeout
	}
	if cfg.OnProbe == nil {
		cfg.OnProbe = def.OnProbe
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func DefaultConfig() Config {
	return Config{
		ProbeInterval: 1 * time.Second,
		MemberTimeout: 5 * time.Second,
		OnProbe:       func(Report) {},
		Logger:        zap.NewNop(),
	}
}
