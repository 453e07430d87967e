// Package transport defines the messages exchanged by cluster members and the
// connection oriented interface they travel over.
package transport

import (
	"context"

	"github.com/arya-analytics/gms/address"
	"github.com/arya-analytics/gms/internal/node"
	"github.com/arya-analytics/gms/internal/view"
	"github.com/cockroachdb/errors"
)

var (
	// ErrUnreachable is returned when no member is listening at an address.
	ErrUnreachable = errors.New("address unreachable")
	// ErrClosed is returned by operations on a closed transport or connection.
	ErrClosed = errors.New("transport closed")
)

// Type identifies the meaning of a Message.
type Type uint8

const (
	TypeInvalid Type = iota
	// TypePing is a failure detector probe.
	TypePing
	// TypeAck answers a probe.
	TypeAck
	// TypeJoin asks the coordinator to add the sender to the view.
	TypeJoin
	// TypeLeave announces a graceful departure of the sender.
	TypeLeave
	// TypeView installs Message.View on the receiver.
	TypeView
	// TypeSuspect forwards a suspicion of Message.Subject to the coordinator.
	TypeSuspect
	// TypeData carries an application payload.
	TypeData
)

var typeNames = map[Type]string{
	TypeInvalid: "invalid",
	TypePing:    "ping",
	TypeAck:     "ack",
	TypeJoin:    "join",
	TypeLeave:   "leave",
	TypeView:    "view",
	TypeSuspect: "suspect",
	TypeData:    "data",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "unknown"
}

// Ordered reports whether messages of this type are sequenced. Ordered
// messages are held while the receiving member is unhealthy; unordered control
// traffic always flows.
func (t Type) Ordered() bool { return t == TypeData }

func (t Type) Valid() bool { return t > TypeInvalid && t <= TypeData }

type Message struct {
	From node.Node
	Type Type
	// View is set on TypeView messages.
	View view.View
	// Subject and At are set on TypeSuspect messages.
	Subject node.Node
	At      int64
	Payload []byte
}

// Sender sends messages to a member at an address.
type Sender interface {
	Send(ctx context.Context, addr address.Address, msg Message) error
}

// Transport is the connection oriented network a member communicates over.
// Messages sent to the same address from the same transport arrive in order
// on a single inbound Conn.
type Transport interface {
	Sender
	// Configure binds the transport to addr and starts listening.
	Configure(ctx context.Context, addr address.Address) error
	Address() address.Address
	// Accept blocks until a new inbound connection is established.
	Accept(ctx context.Context) (Conn, error)
	Close() error
}

// Conn is an inbound stream of messages from a single remote transport.
type Conn interface {
	Recv(ctx context.Context) (Message, error)
	Close() error
}
