// Package grpc implements transport.Transport over client streaming gRPC
// calls. Each remote member opens one Deliver stream per destination, so
// messages between two members arrive in order on a single inbound connection.
package grpc

import (
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/arya-analytics/gms/address"
	"github.com/arya-analytics/gms/transport"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const deliverMethod = "/gms.v1.Membership/Deliver"

type membershipServer interface {
	Deliver(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "gms.v1.Membership",
	HandlerType: (*membershipServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Deliver",
			Handler:       deliverHandler,
			ClientStreams: true,
		},
	},
	Metadata: "gms/v1/membership.proto",
}

func deliverHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(membershipServer).Deliver(stream)
}

// Transport is a gRPC backed transport.Transport.
type Transport struct {
	Logger        *zap.Logger
	ServerOptions []grpc.ServerOption
	DialOptions   []grpc.DialOption

	addr     address.Address
	server   *grpc.Server
	accepted chan *serverConn
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	streams map[address.Address]*clientStream
	closed  bool
}

var (
	_ transport.Transport = (*Transport)(nil)
	_ membershipServer    = (*Transport)(nil)
)

func New(logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{Logger: logger}
}

func (t *Transport) String() string { return "grpc" }

// Configure implements transport.Transport. It binds a listener to addr and
// starts serving in the background.
func (t *Transport) Configure(ctx context.Context, addr address.Address) error {
	lis, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr.String())
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	t.addr = addr
	if _, port, _ := addr.HostPort(); port == 0 {
		t.addr = address.Address(lis.Addr().String())
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.accepted = make(chan *serverConn)
	t.streams = make(map[address.Address]*clientStream)
	t.server = grpc.NewServer(t.ServerOptions...)
	t.server.RegisterService(&serviceDesc, t)
	go func() {
		if err := t.server.Serve(lis); err != nil {
			t.Logger.Debug("grpc server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Address implements transport.Transport.
func (t *Transport) Address() address.Address { return t.addr }

// Send implements transport.Transport.
func (t *Transport) Send(ctx context.Context, addr address.Address, msg transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	s, err := t.stream(ctx, addr)
	if err != nil {
		return err
	}
	if err := s.send(&wrapperspb.BytesValue{Value: b}); err != nil {
		t.drop(addr, s)
		return errors.Mark(errors.Wrapf(err, "send to %s", addr), transport.ErrUnreachable)
	}
	return nil
}

func (t *Transport) stream(ctx context.Context, addr address.Address) (*clientStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	if s, ok := t.streams[addr]; ok {
		return s, nil
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, t.DialOptions...)
	conn, err := grpc.NewClient(addr.String(), opts...)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "dial %s", addr), transport.ErrUnreachable)
	}
	st, err := conn.NewStream(t.ctx, &serviceDesc.Streams[0], deliverMethod)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Mark(errors.Wrapf(err, "open stream to %s", addr), transport.ErrUnreachable)
	}
	s := &clientStream{conn: conn, stream: st}
	t.streams[addr] = s
	return s, nil
}

func (t *Transport) drop(addr address.Address, s *clientStream) {
	t.mu.Lock()
	if t.streams[addr] == s {
		delete(t.streams, addr)
	}
	t.mu.Unlock()
	s.close()
}

// Accept implements transport.Transport.
func (t *Transport) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.ctx.Done():
		return nil, transport.ErrClosed
	case c := <-t.accepted:
		return c, nil
	}
}

// Deliver serves an inbound stream until the connection is closed.
func (t *Transport) Deliver(stream grpc.ServerStream) error {
	c := &serverConn{stream: stream, done: make(chan struct{})}
	select {
	case t.accepted <- c:
	case <-t.ctx.Done():
		return errors.New("transport closed")
	case <-stream.Context().Done():
		return stream.Context().Err()
	}
	select {
	case <-c.done:
	case <-t.ctx.Done():
	case <-stream.Context().Done():
		return stream.Context().Err()
	}
	return stream.SendMsg(&emptypb.Empty{})
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	streams := t.streams
	t.streams = nil
	t.mu.Unlock()
	t.cancel()
	for _, s := range streams {
		s.close()
	}
	t.server.Stop()
	return nil
}

type clientStream struct {
	mu     sync.Mutex
	conn   *grpc.ClientConn
	stream grpc.ClientStream
}

func (s *clientStream) send(msg *wrapperspb.BytesValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.SendMsg(msg)
}

func (s *clientStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.stream.CloseSend()
	_ = s.conn.Close()
}

type serverConn struct {
	stream grpc.ServerStream
	once   sync.Once
	done   chan struct{}
}

func (c *serverConn) Recv(ctx context.Context) (transport.Message, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	var (
		in  wrapperspb.BytesValue
		msg transport.Message
	)
	if err := c.stream.RecvMsg(&in); err != nil {
		if ctx.Err() != nil {
			return msg, ctx.Err()
		}
		return msg, errors.Mark(errors.Wrap(err, "receive"), transport.ErrClosed)
	}
	if err := json.Unmarshal(in.Value, &msg); err != nil {
		return msg, errors.Wrap(err, "decode message")
	}
	return msg, nil
}

func (c *serverConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
