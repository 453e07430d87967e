// Package mock implements an in-memory transport network for tests.
package mock

import (
	"context"
	"sync"

	"github.com/arya-analytics/gms/address"
	"github.com/arya-analytics/gms/transport"
	"github.com/cockroachdb/errors"
)

// Entry is a single message sent over the network.
type Entry struct {
	From    address.Address
	To      address.Address
	Message transport.Message
	Err     error
}

// Network routes messages between in-memory transports. Messages from one
// transport to another arrive in order on a single connection, mirroring a
// stream based network transport.
type Network struct {
	mu       sync.Mutex
	routes   map[address.Address]*Transport
	isolated map[address.Address]bool
	entries  []Entry
	factory  *address.LocalFactory
}

func NewNetwork() *Network {
	return &Network{
		routes:   make(map[address.Address]*Transport),
		isolated: make(map[address.Address]bool),
		factory:  address.NewLocalFactory(0),
	}
}

// NewTransport returns an unconfigured transport on the network.
func (n *Network) NewTransport() *Transport { return &Transport{net: n} }

// Route returns a transport listening at addr. If addr is empty, a unique
// address is assigned.
func (n *Network) Route(addr address.Address) *Transport {
	t := n.NewTransport()
	if addr == "" {
		n.mu.Lock()
		addr = n.factory.Next()
		n.mu.Unlock()
	}
	_ = t.Configure(context.Background(), addr)
	return t
}

// Isolate makes addr unreachable in both directions until Restore is called.
func (n *Network) Isolate(addr address.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isolated[addr] = true
}

func (n *Network) Restore(addr address.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.isolated, addr)
}

// Entries returns every message sent over the network so far.
func (n *Network) Entries() []Entry {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Entry(nil), n.entries...)
}

func (n *Network) bind(addr address.Address, t *Transport) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if o, ok := n.routes[addr]; ok && !o.accepted.isClosed() {
		return errors.Newf("address %s already in use", addr)
	}
	n.routes[addr] = t
	return nil
}

func (n *Network) unbind(addr address.Address, t *Transport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.routes[addr] == t {
		delete(n.routes, addr)
	}
}

func (n *Network) resolve(from, to address.Address) (*Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.routes[to]
	if !ok || n.isolated[from] || n.isolated[to] {
		return nil, errors.Wrapf(transport.ErrUnreachable, "no route from %s to %s", from, to)
	}
	return t, nil
}

func (n *Network) record(e Entry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, e)
}

// Transport is an in-memory implementation of transport.Transport.
type Transport struct {
	net      *Network
	addr     address.Address
	accepted *queue[*conn]
	// sendMu serializes sends so messages to one address share a connection.
	sendMu   sync.Mutex
	mu       sync.Mutex
	closed   bool
	outbound map[*Transport]*conn
	inbound  []*conn
}

var _ transport.Transport = (*Transport)(nil)

// Configure implements transport.Transport.
func (t *Transport) Configure(_ context.Context, addr address.Address) error {
	t.addr = addr
	t.accepted = newQueue[*conn]()
	t.outbound = make(map[*Transport]*conn)
	return t.net.bind(addr, t)
}

// Address implements transport.Transport.
func (t *Transport) Address() address.Address { return t.addr }

// Send implements transport.Transport.
func (t *Transport) Send(ctx context.Context, addr address.Address, msg transport.Message) (err error) {
	defer func() { t.net.record(Entry{From: t.addr, To: addr, Message: msg, Err: err}) }()
	if err := ctx.Err(); err != nil {
		return err
	}
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	target, err := t.net.resolve(t.addr, addr)
	if err != nil {
		return err
	}
	msg = clone(msg)
	t.mu.Lock()
	c, ok := t.outbound[target]
	t.mu.Unlock()
	if ok && c.q.push(msg) {
		return nil
	}
	c = &conn{q: newQueue[transport.Message]()}
	c.q.push(msg)
	if !target.register(c) {
		return errors.Wrapf(transport.ErrUnreachable, "%s is closed", addr)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		c.q.close()
		return transport.ErrClosed
	}
	t.outbound[target] = c
	return nil
}

func (t *Transport) register(c *conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || !t.accepted.push(c) {
		return false
	}
	t.inbound = append(t.inbound, c)
	return true
}

// Accept implements transport.Transport.
func (t *Transport) Accept(ctx context.Context) (transport.Conn, error) {
	c, err := t.accepted.pop(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.accepted.close()
	for _, c := range t.inbound {
		c.q.close()
	}
	for _, c := range t.outbound {
		c.q.close()
	}
	t.net.unbind(t.addr, t)
	return nil
}

type conn struct {
	q *queue[transport.Message]
}

func (c *conn) Recv(ctx context.Context) (transport.Message, error) { return c.q.pop(ctx) }

func (c *conn) Close() error {
	c.q.close()
	return nil
}

func clone(msg transport.Message) transport.Message {
	msg.View = msg.View.Copy()
	if msg.Payload != nil {
		msg.Payload = append([]byte(nil), msg.Payload...)
	}
	return msg
}
