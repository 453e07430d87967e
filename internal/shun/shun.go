// Package shun keeps the members excluded from the cluster after departing.
// A shunned member's traffic is dropped and it can only rejoin under a new
// identity.
package shun

import (
	"sync"
	"time"

	"github.com/arya-analytics/gms/internal/node"
)

type Set struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[node.Node]time.Time
}

// New returns a set whose entries expire ttl after they are added.
func New(ttl time.Duration) *Set {
	return &Set{ttl: ttl, entries: make(map[node.Node]time.Time)}
}

func (s *Set) Add(m node.Node, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[m] = now.Add(s.ttl)
}

// Contains reports whether m has an unexpired entry at now.
func (s *Set) Contains(m node.Node, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.entries[m]
	return ok && now.Before(exp)
}

// Purge drops expired entries.
func (s *Set) Purge(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for m, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, m)
			n++
		}
	}
	return n
}

// Members returns the members with unexpired entries, oldest first.
func (s *Set) Members(now time.Time) node.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out node.Group
	for m, exp := range s.entries {
		if now.Before(exp) {
			out = append(out, m)
		}
	}
	return out.Sorted()
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
