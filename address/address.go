package address

import (
	"net"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Address is a host:port network address of a cluster member.
type Address string

// New returns an address from the given host and port.
func New(host string, port uint16) Address {
	return Address(net.JoinHostPort(host, strconv.Itoa(int(port))))
}

// HostPort splits the address into its host and port.
func (a Address) HostPort() (string, uint16, error) {
	host, p, err := net.SplitHostPort(string(a))
	if err != nil {
		return "", 0, errors.Wrapf(err, "invalid address %q", string(a))
	}
	port, err := strconv.ParseUint(p, 10, 16)
	if err != nil {
		return "", 0, errors.Wrapf(err, "invalid port in address %q", string(a))
	}
	return host, uint16(port), nil
}

func (a Address) String() string { return string(a) }

// LocalFactory hands out sequential localhost addresses.
type LocalFactory struct {
	next uint16
}

func NewLocalFactory(start uint16) *LocalFactory { return &LocalFactory{next: start} }

func (f *LocalFactory) Next() Address {
	addr := New("localhost", f.next)
	f.next++
	return addr
}

func (f *LocalFactory) NextN(n int) []Address {
	addrs := make([]Address, n)
	for i := range addrs {
		addrs[i] = f.Next()
	}
	return addrs
}
