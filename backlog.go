package gms

import (
	"sync"

	"github.com/arya-analytics/gms/transport"
)

// backlog is an unbounded FIFO of ordered messages held for a single
// connection. Pushing never blocks, so a reader keeps handling control
// messages however long ordered delivery is held.
type backlog struct {
	mu     sync.Mutex
	items  []transport.Message
	closed bool
	ready  chan struct{}
}

func newBacklog() *backlog { return &backlog{ready: make(chan struct{}, 1)} }

func (b *backlog) push(msg transport.Message) {
	b.mu.Lock()
	b.items = append(b.items, msg)
	b.mu.Unlock()
	b.signal()
}

// close stops the backlog. Messages already pushed are still popped.
func (b *backlog) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()
}

// pop blocks until a message is available. It returns false once the backlog
// is closed and drained.
func (b *backlog) pop() (transport.Message, bool) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			msg := b.items[0]
			b.items[0] = transport.Message{}
			b.items = b.items[1:]
			b.mu.Unlock()
			return msg, true
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return transport.Message{}, false
		}
		<-b.ready
	}
}

func (b *backlog) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
