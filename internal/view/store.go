package view

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// ErrFrozen is returned when publishing to a store that has been frozen after
// the local member disconnected.
var ErrFrozen = errors.New("view store is frozen")

// Store holds the current view. Reads never block; publishes are serialized
// and replace the snapshot in a single atomic swap, so a reader observes either
// the previous or the next view and never a mix of the two.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[View]
	frozen  atomic.Bool
}

// NewStore returns a store whose current view is initial.
func NewStore(initial View) *Store {
	s := &Store{}
	v := initial.Copy()
	s.current.Store(&v)
	return s
}

// Current returns the latest published view.
func (s *Store) Current() View { return *s.current.Load() }

// Publish installs v as the current view. Publishing a view whose ID is not
// strictly greater than the current ID, or a view that is structurally
// invalid, is a programming error and returns an assertion failure.
func (s *Store) Publish(v View) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen.Load() {
		return ErrFrozen
	}
	prev := s.current.Load()
	if v.ID <= prev.ID {
		return errors.AssertionFailedf(
			"view id must strictly increase: current %d, published %d", prev.ID, v.ID)
	}
	if err := v.Validate(); err != nil {
		return errors.NewAssertionErrorWithWrappedErrf(err, "invalid view")
	}
	next := v.Copy()
	s.current.Store(&next)
	return nil
}

// Freeze rejects every later Publish. The last published view stays readable.
func (s *Store) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen.Store(true)
}

func (s *Store) Frozen() bool { return s.frozen.Load() }
