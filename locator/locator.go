// Package locator discovers the addresses of existing cluster members that a
// new member can join through.
package locator

import (
	"context"

	"github.com/arya-analytics/gms/address"
)

// Locator returns the addresses of members to contact when joining.
type Locator interface {
	Peers(ctx context.Context) ([]address.Address, error)
}

// Registry is a Locator that members announce themselves to.
type Registry interface {
	Locator
	Register(ctx context.Context, addr address.Address) error
	Deregister(ctx context.Context, addr address.Address) error
}

// Static is a fixed list of peer addresses.
type Static []address.Address

var _ Locator = Static(nil)

// Peers implements Locator.
func (s Static) Peers(context.Context) ([]address.Address, error) {
	return append([]address.Address(nil), s...), nil
}

// Exclude returns peers without addr.
func Exclude(peers []address.Address, addr address.Address) []address.Address {
	out := make([]address.Address, 0, len(peers))
	for _, p := range peers {
		if p != addr {
			out = append(out, p)
		}
	}
	return out
}
