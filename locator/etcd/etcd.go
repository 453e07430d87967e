// Package etcd implements a locator.Registry on etcd. Each member registers
// its address under a key bound to a lease, so a member that stops renewing
// the lease disappears from the peers returned to new members.
package etcd

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/arya-analytics/gms/address"
	"github.com/arya-analytics/gms/locator"
	"github.com/cockroachdb/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

type Config struct {
	Client *clientv3.Client
	// Prefix is the key prefix member addresses are registered under.
	Prefix string
	// TTL is the lifetime of a registration that is no longer renewed.
	TTL    time.Duration
	Logger *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.TTL == 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func DefaultConfig() Config {
	return Config{
		Prefix: "/gms/members/",
		TTL:    10 * time.Second,
		Logger: zap.NewNop(),
	}
}

type registration struct {
	lease  clientv3.LeaseID
	cancel context.CancelFunc
}

// Registry is a locator.Registry backed by etcd.
type Registry struct {
	Config
	mu            sync.Mutex
	registrations map[address.Address]registration
}

var _ locator.Registry = (*Registry)(nil)

func New(cfg Config) (*Registry, error) {
	cfg = cfg.Merge(DefaultConfig())
	if cfg.Client == nil {
		return nil, errors.New("etcd locator requires a client")
	}
	return &Registry{Config: cfg, registrations: make(map[address.Address]registration)}, nil
}

func (r *Registry) key(addr address.Address) string { return r.Prefix + addr.String() }

// Register announces addr until Deregister is called or the registry's
// keepalive stops.
func (r *Registry) Register(ctx context.Context, addr address.Address) error {
	lease, err := r.Client.Grant(ctx, int64(r.TTL.Seconds()))
	if err != nil {
		return errors.Wrap(err, "grant lease")
	}
	if _, err := r.Client.Put(ctx, r.key(addr), addr.String(), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Wrapf(err, "register %s", addr)
	}
	kctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Client.KeepAlive(kctx, lease.ID)
	if err != nil {
		cancel()
		return errors.Wrap(err, "keep lease alive")
	}
	go func() {
		for range ch {
		}
		r.Logger.Debug("registration keepalive stopped", zap.Stringer("address", addr))
	}()
	r.mu.Lock()
	if prev, ok := r.registrations[addr]; ok {
		prev.cancel()
	}
	r.registrations[addr] = registration{lease: lease.ID, cancel: cancel}
	r.mu.Unlock()
	r.Logger.Info("registered member", zap.Stringer("address", addr), zap.Int64("lease", int64(lease.ID)))
	return nil
}

// Deregister removes the registration of addr immediately.
func (r *Registry) Deregister(ctx context.Context, addr address.Address) error {
	r.mu.Lock()
	reg, ok := r.registrations[addr]
	delete(r.registrations, addr)
	r.mu.Unlock()
	if !ok {
		_, err := r.Client.Delete(ctx, r.key(addr))
		return errors.Wrapf(err, "deregister %s", addr)
	}
	reg.cancel()
	_, err := r.Client.Revoke(ctx, reg.lease)
	return errors.Wrapf(err, "revoke lease of %s", addr)
}

// Peers implements locator.Locator.
func (r *Registry) Peers(ctx context.Context) ([]address.Address, error) {
	res, err := r.Client.Get(ctx, r.Prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "list members")
	}
	peers := make([]address.Address, 0, len(res.Kvs))
	for _, kv := range res.Kvs {
		peers = append(peers, address.Address(strings.TrimPrefix(string(kv.Key), r.Prefix)))
	}
	return peers, nil
}
