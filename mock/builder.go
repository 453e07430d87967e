// Package mock builds clusters of members for tests.
package mock

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/arya-analytics/gms"
	"github.com/arya-analytics/gms/address"
	"github.com/arya-analytics/gms/transport"
	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
)

// Builder starts members on consecutive addresses. The first member built
// bootstraps the cluster and every later member joins through the members
// built before it.
type Builder struct {
	// PortRangeStart is the port of the first member.
	PortRangeStart int
	// DataDir is the parent of the temporary directory holding member data.
	// Ignored for members opened with gms.MemBacked.
	DataDir        string
	DefaultOptions []gms.Option
	// Transport returns the transport of each new member. If nil, members use
	// the default transport.
	Transport func() transport.Transport
	members   []*gms.Manager
	addresses []address.Address
	tmpDir    string
}

func (b *Builder) Dir() string {
	if b.tmpDir == "" {
		var err error
		b.tmpDir, err = os.MkdirTemp(b.DataDir, "gms")
		if err != nil {
			panic(err)
		}
	}
	return b.tmpDir
}

// New starts a member and waits until it is part of the cluster.
func (b *Builder) New(ctx context.Context, opts ...gms.Option) (*gms.Manager, error) {
	i := len(b.addresses)
	addr := address.Address("localhost:" + strconv.Itoa(b.PortRangeStart+i))
	base := append([]gms.Option{}, b.DefaultOptions...)
	base = append(base, gms.WithDir(filepath.Join(b.Dir(), strconv.Itoa(i))))
	if b.Transport != nil {
		base = append(base, gms.WithTransport(b.Transport()))
	}
	if i == 0 {
		base = append(base, gms.Bootstrap())
	}
	m, err := gms.Join(ctx, addr, b.addresses, append(base, opts...)...)
	if err != nil {
		return nil, errors.Wrapf(err, "start member %d at %s", i, addr)
	}
	b.addresses = append(b.addresses, addr)
	b.members = append(b.members, m)
	return m, nil
}

// NewN starts n members in order.
func (b *Builder) NewN(ctx context.Context, n int, opts ...gms.Option) ([]*gms.Manager, error) {
	ms := make([]*gms.Manager, 0, n)
	for i := 0; i < n; i++ {
		m, err := b.New(ctx, opts...)
		if err != nil {
			return ms, err
		}
		ms = append(ms, m)
	}
	return ms, nil
}

// Members returns every member built so far, in build order.
func (b *Builder) Members() []*gms.Manager { return b.members }

// Close closes every member in reverse build order.
func (b *Builder) Close() (err error) {
	for i := len(b.members) - 1; i >= 0; i-- {
		err = multierr.Append(err, b.members[i].Close())
	}
	return err
}

// Cleanup closes every member and removes their data.
func (b *Builder) Cleanup() error {
	return multierr.Append(b.Close(), os.RemoveAll(b.Dir()))
}
