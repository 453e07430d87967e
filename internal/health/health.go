// Package health implements the local member's health state machine. The
// state gates which inbound traffic the member processes and whether it answers
// failure detector probes.
package health

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

type State uint8

const (
	Healthy State = iota
	// Sick members hold ordered messages and stop accepting new connections.
	// They keep answering probes.
	Sick
	// PlayingDead members additionally stop answering probes, so peers
	// eventually suspect them.
	PlayingDead
	// Disconnected is terminal.
	Disconnected
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Sick:
		return "sick"
	case PlayingDead:
		return "playingDead"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// ProcessesOrdered reports whether ordered messages are processed in state s.
func (s State) ProcessesOrdered() bool { return s == Healthy }

// AcceptsConnections reports whether new inbound connections are served.
func (s State) AcceptsConnections() bool { return s == Healthy }

// AnswersProbes reports whether failure detector pings are acknowledged.
func (s State) AnswersProbes() bool { return s == Healthy || s == Sick }

var (
	// ErrDisconnected is returned by every transition attempted after the
	// controller reached Disconnected.
	ErrDisconnected = errors.New("member is disconnected")
	// ErrCancelled is returned by PlayDead when the member is already
	// disconnected. Callers treat it as success.
	ErrCancelled = errors.New("cancelled: member is disconnecting")
)

// Transition describes a single state change.
type Transition struct {
	From State
	To   State
}

// Controller owns the health state of the local member. All methods are safe
// to call from any goroutine.
type Controller struct {
	mu        sync.Mutex
	state     State
	changed   chan struct{}
	observers []func(Transition)
	// pending holds transitions not yet delivered to observers. A single
	// goroutine at a time delivers them, in order, without holding mu.
	pending    []Transition
	delivering bool
}

func NewController() *Controller {
	return &Controller{state: Healthy, changed: make(chan struct{})}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Observe registers f to be called after every transition. Observers see
// transitions in order and may cause transitions themselves; those are
// delivered after the current call returns.
func (c *Controller) Observe(f func(Transition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, f)
}

// BeSick moves a Healthy member to Sick. It is a no-op in Sick and
// PlayingDead.
func (c *Controller) BeSick() error {
	return c.transition(func(s State) (State, error) {
		if s == Healthy {
			return Sick, nil
		}
		return s, nil
	})
}

// BeHealthy resumes full processing.
func (c *Controller) BeHealthy() error {
	return c.transition(func(State) (State, error) { return Healthy, nil })
}

// PlayDead stops the member from answering probes without tearing anything
// down. It returns ErrCancelled if the member is already disconnected.
func (c *Controller) PlayDead() error {
	err := c.transition(func(State) (State, error) { return PlayingDead, nil })
	if errors.Is(err, ErrDisconnected) {
		return errors.Mark(errors.Wrap(err, "play dead"), ErrCancelled)
	}
	return err
}

// Disconnect moves the controller to its terminal state. It returns true only
// for the call that performed the transition.
func (c *Controller) Disconnect() bool {
	return c.transition(func(State) (State, error) { return Disconnected, nil }) == nil
}

func (c *Controller) transition(next func(State) (State, error)) error {
	c.mu.Lock()
	from := c.state
	if from == Disconnected {
		c.mu.Unlock()
		return ErrDisconnected
	}
	to, err := next(from)
	if err != nil || to == from {
		c.mu.Unlock()
		return err
	}
	c.state = to
	close(c.changed)
	c.changed = make(chan struct{})
	c.pending = append(c.pending, Transition{From: from, To: to})
	deliver := !c.delivering
	c.delivering = true
	c.mu.Unlock()
	if deliver {
		c.deliver()
	}
	return nil
}

func (c *Controller) deliver() {
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.delivering = false
			c.mu.Unlock()
			return
		}
		t := c.pending[0]
		c.pending = c.pending[1:]
		observers := c.observers
		c.mu.Unlock()
		for _, f := range observers {
			f(t)
		}
	}
}

// Await blocks until the state satisfies cond or ctx is done, and returns the
// state that satisfied it.
func (c *Controller) Await(ctx context.Context, cond func(State) bool) (State, error) {
	for {
		c.mu.Lock()
		s, changed := c.state, c.changed
		c.mu.Unlock()
		if cond(s) {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-changed:
		}
	}
}
