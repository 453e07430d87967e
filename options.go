package gms

import (
	"time"

	"github.com/arya-analytics/gms/address"
	"github.com/arya-analytics/gms/internal/node"
	"github.com/arya-analytics/gms/transport"
	tgrpc "github.com/arya-analytics/gms/transport/grpc"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Option func(*options)

type options struct {
	// dirname is the directory where the view ledger is stored. This option is
	// ignored when the member is memory backed.
	dirname string
	// addr is the address of the local member.
	addr address.Address
	// peerAddresses are contacted to join an existing cluster.
	peerAddresses []address.Address
	// bootstrap starts a new cluster instead of joining one.
	bootstrap bool
	// fs is the filesystem the ledger is stored on.
	fs vfs.FS
	// kind is the kind of the local member.
	kind node.Kind
	// transport carries all messages exchanged with other members.
	transport transport.Transport
	// timing tunes the failure detector, coordinator and join protocol.
	timing TimingConfig
	// handler receives ordered application payloads.
	handler Handler
	// registerer receives the member's metrics.
	registerer prometheus.Registerer
	// inhibitDisconnectLogging logs forced disconnects at debug level.
	inhibitDisconnectLogging bool
	logger                   *zap.Logger
}

// TimingConfig tunes the protocol. Zero values are replaced by the defaults
// in DefaultTimingConfig.
type TimingConfig struct {
	// ProbeInterval is the time between failure detector rounds.
	ProbeInterval time.Duration
	// MemberTimeout is how long a member may go without acknowledging probes
	// before it is suspected.
	MemberTimeout time.Duration
	// SuspicionGracePeriod is how long a suspicion must persist before the
	// member is removed from the view.
	SuspicionGracePeriod time.Duration
	// DecisionInterval is the time between view change decisions.
	DecisionInterval time.Duration
	// SurprisePromotionDelay is the age a surprise member must reach before it
	// is promoted into the view.
	SurprisePromotionDelay time.Duration
	// SurpriseMemberTimeout is the age after which a surprise member is
	// purged instead of promoted.
	SurpriseMemberTimeout time.Duration
	// ShunnedMemberTimeout is how long a departed member stays shunned.
	ShunnedMemberTimeout time.Duration
	// JoinRetryInterval is the initial time between join requests.
	JoinRetryInterval time.Duration
	// JoinRetryScale multiplies the retry interval after every attempt.
	JoinRetryScale float64
	// JoinTimeout bounds the whole join.
	JoinTimeout time.Duration
	// DeparturePollInterval is the polling interval of
	// WaitForMemberDeparture and CrashDistributedSystem.
	DeparturePollInterval time.Duration
	// CrashTimeout bounds how long CrashDistributedSystem waits for the
	// member to disconnect.
	CrashTimeout time.Duration
	// QuorumLossThreshold is the fraction of suspected view members above
	// which the local member disconnects.
	QuorumLossThreshold float64
	// TransportErrorRate and TransportErrorBurst bound tolerated transport
	// errors.
	TransportErrorRate  rate.Limit
	TransportErrorBurst int
}

func (c TimingConfig) Merge(def TimingConfig) TimingConfig {
	if c.ProbeInterval == 0 {
		c.ProbeInterval = def.ProbeInterval
	}
	if c.MemberTimeout == 0 {
		c.MemberTimeout = def.MemberTimeout
	}
	if c.SuspicionGracePeriod == 0 {
		c.SuspicionGracePeriod = def.SuspicionGracePeriod
	}
	if c.DecisionInterval == 0 {
		c.DecisionInterval = def.DecisionInterval
	}
	if c.SurprisePromotionDelay == 0 {
		c.SurprisePromotionDelay = def.SurprisePromotionDelay
	}
	if c.SurpriseMemberTimeout == 0 {
		c.SurpriseMemberTimeout = def.SurpriseMemberTimeout
	}
	if c.ShunnedMemberTimeout == 0 {
		c.ShunnedMemberTimeout = def.ShunnedMemberTimeout
	}
	if c.JoinRetryInterval == 0 {
		c.JoinRetryInterval = def.JoinRetryInterval
	}
	if c.JoinRetryScale == 0 {
		c.JoinRetryScale = def.JoinRetryScale
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = def.JoinTimeout
	}
	if c.DeparturePollInterval == 0 {
		c.DeparturePollInterval = def.DeparturePollInterval
	}
	if c.CrashTimeout == 0 {
		c.CrashTimeout = def.CrashTimeout
	}
	if c.QuorumLossThreshold == 0 {
		c.QuorumLossThreshold = def.QuorumLossThreshold
	}
	if c.TransportErrorRate == 0 {
		c.TransportErrorRate = def.TransportErrorRate
	}
	if c.TransportErrorBurst == 0 {
		c.TransportErrorBurst = def.TransportErrorBurst
	}
	return c
}

func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		ProbeInterval:          1 * time.Second,
		MemberTimeout:          5 * time.Second,
		SuspicionGracePeriod:   2 * time.Second,
		DecisionInterval:       250 * time.Millisecond,
		SurprisePromotionDelay: 5 * time.Second,
		SurpriseMemberTimeout:  5 * time.Minute,
		ShunnedMemberTimeout:   5 * time.Minute,
		JoinRetryInterval:      200 * time.Millisecond,
		JoinRetryScale:         1.5,
		JoinTimeout:            30 * time.Second,
		DeparturePollInterval:  200 * time.Millisecond,
		CrashTimeout:           10 * time.Second,
		QuorumLossThreshold:    0.5,
		TransportErrorRate:     5,
		TransportErrorBurst:    20,
	}
}

func newOptions(addr address.Address, peers []address.Address, opts ...Option) *options {
	o := &options{addr: addr}
	for _, p := range peers {
		if p != addr {
			o.peerAddresses = append(o.peerAddresses, p)
		}
	}
	for _, opt := range opts {
		opt(o)
	}
	mergeDefaultOptions(o)
	return o
}

func validateOptions(o *options) error {
	if !o.bootstrap && len(o.peerAddresses) == 0 {
		return ErrNoPeers
	}
	_, port, err := o.addr.HostPort()
	if err != nil {
		return err
	}
	if port == 0 {
		return errors.Wrapf(ErrInvalidAddress, "%s: peers cannot reach port 0", o.addr)
	}
	return nil
}

func mergeDefaultOptions(o *options) {
	def := defaultOptions()

	// |||| DIRNAME ||||

	if o.dirname == "" {
		o.dirname = def.dirname
	}

	// |||| FILESYSTEM ||||

	if o.fs == nil {
		o.fs = def.fs
	}

	// |||| LOGGER ||||

	if o.logger == nil {
		o.logger = def.logger
	}

	// |||| TIMING ||||

	o.timing = o.timing.Merge(def.timing)

	// |||| TRANSPORT ||||

	if o.transport == nil {
		o.transport = tgrpc.New(o.logger.Named("transport"))
	}

	// |||| METRICS ||||

	if o.registerer == nil {
		o.registerer = prometheus.NewRegistry()
	}
}

func defaultOptions() *options {
	return &options{
		dirname: "gms-data",
		fs:      vfs.Default,
		timing:  DefaultTimingConfig(),
		logger:  zap.NewNop(),
	}
}

// Bootstrap starts a new cluster with the local member as its only member.
func Bootstrap() Option { return func(o *options) { o.bootstrap = true } }

// MemBacked stores the view ledger in memory.
func MemBacked() Option { return func(o *options) { o.fs = vfs.NewMem() } }

// WithDir sets the directory the view ledger is stored in.
func WithDir(dirname string) Option { return func(o *options) { o.dirname = dirname } }

func WithLogger(logger *zap.Logger) Option { return func(o *options) { o.logger = logger } }

// WithTransport overrides the default gRPC transport.
func WithTransport(t transport.Transport) Option { return func(o *options) { o.transport = t } }

func WithTimingConfig(cfg TimingConfig) Option { return func(o *options) { o.timing = cfg } }

// WithHandler sets the handler for ordered application payloads.
func WithHandler(h Handler) Option { return func(o *options) { o.handler = h } }

// WithRegisterer registers the member's metrics with reg instead of a private
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func WithKind(k Kind) Option { return func(o *options) { o.kind = k } }

// WithInhibitedDisconnectLogging starts the member with forced disconnect
// logging inhibited.
func WithInhibitedDisconnectLogging(inhibit bool) Option {
	return func(o *options) { o.inhibitDisconnectLogging = inhibit }
}
