package coordinator

import (
	"github.com/arya-analytics/gms/internal/node"
	"github.com/arya-analytics/gms/internal/view"
)

// Decision is the input to a single view change.
type Decision struct {
	Joins node.Group
	// Leaves are members that departed gracefully.
	Leaves node.Group
	// Suspects are members whose suspicion outlived the grace period.
	Suspects node.Group
	// Surprises are surprise members old enough to be promoted.
	Surprises node.Group
	// Shunned members are removed from the view and never admitted.
	Shunned node.Group
}

func (d Decision) departing() node.Group {
	return d.Leaves.Union(d.Suspects).Union(d.Shunned)
}

func (d Decision) Empty() bool {
	return len(d.Joins) == 0 && len(d.Leaves) == 0 && len(d.Suspects) == 0 && len(d.Surprises) == 0
}

// Next computes the view that follows prev given d. Members are ordered oldest
// first, the oldest member coordinates and the oldest non-admin member leads.
// It returns false if membership does not change. Next is deterministic: every
// member computes the same view from the same inputs.
func Next(prev view.View, d Decision) (view.View, bool) {
	removed := d.departing()
	members := prev.Members.
		WhereNot(removed...).
		Union(d.Joins.Union(d.Surprises).WhereNot(removed...)).
		Sorted()
	if len(members) == 0 || sameMembers(members, prev.Members) {
		return prev, false
	}
	next := view.View{ID: prev.ID + 1, Members: members}
	next.Coordinator, _ = members.Oldest()
	next.Lead, _ = members.WhereKind(node.KindMember).Oldest()
	return next, true
}

func sameMembers(a, b node.Group) bool {
	if len(a) != len(b) {
		return false
	}
	for _, m := range a {
		if !b.Contains(m) {
			return false
		}
	}
	return true
}
