// Package view holds the authoritative snapshot of cluster membership.
package view

import (
	"fmt"
	"strings"

	"github.com/arya-analytics/gms/internal/node"
	"github.com/cockroachdb/errors"
)

// View is an ordered, versioned snapshot of cluster membership. A View is never
// mutated after it has been published; a membership change always produces a
// new View with a larger ID.
type View struct {
	ID uint64
	// Members is ordered oldest first and never contains duplicates.
	Members     node.Group
	Coordinator node.Node
	// Lead is the zero Node when the view has no eligible lead member.
	Lead node.Node
}

// Initial returns the singleton view a member starts with before it joins a
// cluster.
func Initial(self node.Node) View {
	v := View{ID: 0, Members: node.Group{self}, Coordinator: self}
	if self.Kind != node.KindAdmin {
		v.Lead = self
	}
	return v
}

func (v View) Contains(n node.Node) bool { return v.Members.Contains(n) }

// Others returns the members of the view excluding n.
func (v View) Others(n node.Node) node.Group { return v.Members.WhereNot(n) }

func (v View) HasLead() bool { return !v.Lead.IsZero() }

func (v View) Copy() View {
	v.Members = v.Members.Copy()
	return v
}

// Validate checks the structural invariants every published view must hold.
func (v View) Validate() error {
	if v.Members.Duplicates() {
		return errors.Newf("view %d contains duplicate members", v.ID)
	}
	if len(v.Members) > 0 && !v.Members.Contains(v.Coordinator) {
		return errors.Newf("view %d coordinator %s is not a member", v.ID, v.Coordinator)
	}
	if v.HasLead() && !v.Members.Contains(v.Lead) {
		return errors.Newf("view %d lead %s is not a member", v.ID, v.Lead)
	}
	return nil
}

func (v View) String() string {
	members := make([]string, len(v.Members))
	for i, m := range v.Members {
		members[i] = m.String()
	}
	return fmt.Sprintf("View[%d]{coordinator=%s lead=%s members=[%s]}",
		v.ID, v.Coordinator, v.Lead, strings.Join(members, ", "))
}
