// Package gms is the membership core of a distributed in-memory data grid. It
// maintains an ordered view of the members of a cluster, detects failed
// members, coordinates view changes and forcibly disconnects the local member
// when it can no longer meet its health guarantees.
//
// A member is started with Join and exposes two capabilities: Membership for
// the subsystems that depend on cluster membership, and Testable for fault
// injection in tests.
package gms

import (
	"context"
	"time"

	"github.com/arya-analytics/gms/address"
	"github.com/arya-analytics/gms/internal/health"
	"github.com/arya-analytics/gms/internal/hook"
	"github.com/arya-analytics/gms/internal/node"
	"github.com/arya-analytics/gms/internal/view"
)

// ProtocolVersion is the membership protocol version spoken by this package.
const ProtocolVersion uint16 = 1

type (
	// Member is the identity of a cluster member.
	Member = node.Node
	Group  = node.Group
	Birth  = node.Birth
	Kind   = node.Kind
	View   = view.View
	// Hook observes the membership protocol. HookFuncs is a convenient
	// implementation.
	Hook        = hook.Hook
	HookFuncs   = hook.Funcs
	HealthState = health.State
	Transition  = health.Transition
)

const (
	KindMember = node.KindMember
	KindAdmin  = node.KindAdmin
)

const (
	Healthy      = health.Healthy
	Sick         = health.Sick
	PlayingDead  = health.PlayingDead
	Disconnected = health.Disconnected
)

// NewMember returns a new identity for a member listening at addr, born now.
func NewMember(addr address.Address, kind Kind) (Member, error) {
	return node.New(addr, ProtocolVersion, kind)
}

// Handler processes an ordered application payload sent by another member.
type Handler func(ctx context.Context, from Member, payload []byte)

// Membership is the query and lifecycle surface used by subsystems that depend
// on cluster membership.
type Membership interface {
	// View returns the latest installed view.
	View() View
	// Host returns the identity of the local member.
	Host() Member
	Coordinator() Member
	// LeadMember returns the lead member of the current view, if any.
	LeadMember() (Member, bool)
	IsShunned(m Member) bool
	IsSurpriseMember(m Member) bool
	IsConnected() bool
	// Send delivers payload to m as an ordered message.
	Send(ctx context.Context, m Member, payload []byte) error
	RegisterTestHook(h Hook)
	UnregisterTestHook(h Hook) bool
	// OnDisconnect registers a listener for the forced disconnect of the
	// local member.
	OnDisconnect(f func(error))
	// Done is closed when the member stops, either forcibly or by Close.
	Done() <-chan struct{}
	// Err returns the forced disconnect error, if any.
	Err() error
	// ViewHistory returns every view installed by the local member.
	ViewHistory() ([]View, error)
	// Close departs the cluster gracefully and releases all resources.
	Close() error
}

// Testable drives the local member into failure states.
type Testable interface {
	BeSick() error
	BeHealthy() error
	PlayDead() error
	Health() HealthState
	// AddSurpriseMember records m as a surprise member first seen at birth.
	AddSurpriseMember(m Member, birth time.Time)
	// InhibitForcedDisconnectLogging logs forced disconnects of this member at
	// debug level instead of error level.
	InhibitForcedDisconnectLogging(inhibit bool)
	// ForceDisconnect disconnects the member as if it had been expelled. It
	// returns false if the member was already disconnected.
	ForceDisconnect(reason string) bool
	// WaitForMemberDeparture polls the view until m is no longer a member or
	// timeout elapses.
	WaitForMemberDeparture(m Member, timeout time.Duration) error
	// CrashDistributedSystem abruptly disconnects the local member.
	CrashDistributedSystem() error
}

var (
	_ Membership = (*Manager)(nil)
	_ Testable   = (*Manager)(nil)
)
