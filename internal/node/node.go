package node

import (
	"fmt"
	"time"

	"github.com/arya-analytics/gms/address"
	"github.com/google/uuid"
)

// Kind classifies the process a member runs in.
type Kind uint8

const (
	// KindMember is a regular data-grid member.
	KindMember Kind = iota
	// KindAdmin is an administrative process. Admin members take part in
	// membership but are never chosen as the lead member.
	KindAdmin
)

func (k Kind) String() string {
	if k == KindAdmin {
		return "admin"
	}
	return "member"
}

// Node is the identity of a cluster member. It is comparable and is used
// directly as a map key. Two processes started on the same host and port have
// different identities because their births differ.
type Node struct {
	Host    string
	Port    uint16
	Version uint16
	Birth   Birth
	Kind    Kind
}

// New creates the identity of a member born now at the given address.
func New(addr address.Address, version uint16, kind Kind) (Node, error) {
	host, port, err := addr.HostPort()
	if err != nil {
		return Node{}, err
	}
	return Node{
		Host:    host,
		Port:    port,
		Version: version,
		Birth:   Birth{At: time.Now().UnixNano(), Token: uuid.New()},
		Kind:    kind,
	}, nil
}

func (n Node) Address() address.Address { return address.New(n.Host, n.Port) }

func (n Node) IsZero() bool { return n == Node{} }

// OlderThan is a total order over member identities: earlier births first, with
// the token, host and port breaking ties so every member sorts a group
// identically.
func (n Node) OlderThan(o Node) bool {
	if n.Birth != o.Birth {
		return n.Birth.OlderThan(o.Birth)
	}
	if n.Host != o.Host {
		return n.Host < o.Host
	}
	return n.Port < o.Port
}

func (n Node) String() string {
	if n.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s(v%d)<%s>", n.Address(), n.Version, n.Birth.Token.String()[:8])
}
