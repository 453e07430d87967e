package node

import (
	"sort"

	"github.com/arya-analytics/gms/address"
)

// Group is an ordered collection of member identities.
type Group []Node

func (g Group) Contains(n Node) bool { return g.Index(n) >= 0 }

func (g Group) Index(n Node) int {
	for i, m := range g {
		if m == n {
			return i
		}
	}
	return -1
}

func (g Group) Where(cond func(Node) bool) Group {
	out := make(Group, 0, len(g))
	for _, n := range g {
		if cond(n) {
			out = append(out, n)
		}
	}
	return out
}

func (g Group) WhereNot(nodes ...Node) Group {
	return g.Where(func(n Node) bool { return !Group(nodes).Contains(n) })
}

func (g Group) WhereKind(k Kind) Group {
	return g.Where(func(n Node) bool { return n.Kind == k })
}

// Union appends the members of other not already present in g.
func (g Group) Union(other Group) Group {
	out := g.Copy()
	for _, n := range other {
		if !out.Contains(n) {
			out = append(out, n)
		}
	}
	return out
}

// Sorted returns a copy of the group ordered oldest first.
func (g Group) Sorted() Group {
	out := g.Copy()
	sort.SliceStable(out, func(i, j int) bool { return out[i].OlderThan(out[j]) })
	return out
}

// Oldest returns the oldest member of the group.
func (g Group) Oldest() (Node, bool) {
	if len(g) == 0 {
		return Node{}, false
	}
	oldest := g[0]
	for _, n := range g[1:] {
		if n.OlderThan(oldest) {
			oldest = n
		}
	}
	return oldest, true
}

// Duplicates reports whether any identity appears more than once.
func (g Group) Duplicates() bool {
	seen := make(map[Node]struct{}, len(g))
	for _, n := range g {
		if _, ok := seen[n]; ok {
			return true
		}
		seen[n] = struct{}{}
	}
	return false
}

func (g Group) Addresses() []address.Address {
	addrs := make([]address.Address, 0, len(g))
	for _, n := range g {
		addrs = append(addrs, n.Address())
	}
	return addrs
}

func (g Group) Copy() Group {
	if g == nil {
		return nil
	}
	return append(make(Group, 0, len(g)), g...)
}
