package gms

import (
	"github.com/arya-analytics/gms/internal/disconnect"
	"github.com/cockroachdb/errors"
)

var (
	// ErrNotConnected is returned by operations on a member that has
	// disconnected from the cluster.
	ErrNotConnected = errors.New("member is not connected to the cluster")
	// ErrTimeout is returned when a bounded wait elapses.
	ErrTimeout = errors.New("timed out")
	// ErrForcedDisconnect marks the error delivered to disconnect listeners.
	ErrForcedDisconnect = disconnect.ErrForcedDisconnect
	// ErrShunned is returned when sending to a shunned member.
	ErrShunned = errors.New("member is shunned")
	// ErrJoinTimeout is returned when no view containing the local member is
	// installed before the join timeout.
	ErrJoinTimeout = errors.New("timed out joining cluster")
	// ErrInvalidAddress is returned when a member is started on an address
	// other members cannot reach.
	ErrInvalidAddress = errors.New("invalid member address")
	// ErrNoPeers is returned when joining without peers or bootstrapping.
	ErrNoPeers = errors.New("peer addresses must be provided when not bootstrapping a cluster")
)
