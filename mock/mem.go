package mock

import (
	"time"

	"github.com/arya-analytics/gms"
	"github.com/arya-analytics/gms/address"
	"github.com/arya-analytics/gms/transport"
	tmock "github.com/arya-analytics/gms/transport/mock"
)

// FastTimingConfig shortens every protocol interval so that failures are
// detected and handled within a test's patience.
func FastTimingConfig() gms.TimingConfig {
	return gms.TimingConfig{
		ProbeInterval:          20 * time.Millisecond,
		MemberTimeout:          150 * time.Millisecond,
		SuspicionGracePeriod:   50 * time.Millisecond,
		DecisionInterval:       10 * time.Millisecond,
		SurprisePromotionDelay: 100 * time.Millisecond,
		JoinRetryInterval:      10 * time.Millisecond,
		JoinRetryScale:         1,
		JoinTimeout:            2 * time.Second,
		DeparturePollInterval:  10 * time.Millisecond,
		CrashTimeout:           2 * time.Second,
	}
}

// MemBuilder builds in-memory members that share a mock network.
type MemBuilder struct {
	*Builder
	Network *tmock.Network
}

// NewMemBuilder returns a builder whose members keep their data in memory and
// talk over a shared in-process network with fast protocol timing.
func NewMemBuilder(defaultOpts ...gms.Option) *MemBuilder {
	net := tmock.NewNetwork()
	return &MemBuilder{
		Network: net,
		Builder: &Builder{
			PortRangeStart: 10000,
			DefaultOptions: append([]gms.Option{
				gms.MemBacked(),
				gms.WithTimingConfig(FastTimingConfig()),
			}, defaultOpts...),
			Transport: func() transport.Transport { return net.NewTransport() },
		},
	}
}

// Isolate cuts the member off from the network in both directions.
func (b *MemBuilder) Isolate(m *gms.Manager) { b.Network.Isolate(m.Host().Address()) }

// Restore reconnects a member cut off by Isolate.
func (b *MemBuilder) Restore(m *gms.Manager) { b.Network.Restore(m.Host().Address()) }

// Address returns the address of the i-th member built.
func (b *MemBuilder) Address(i int) address.Address { return b.addresses[i] }
