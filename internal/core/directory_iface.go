package core

import (
	"context"

	"github.com/dkeye/patchroom/internal/domain"
)

// Deliverer is one live signaling connection.
type Deliverer interface {
	// TrySend must not block; a saturated connection returns ErrBackpressure.
	TrySend(Frame) error
}

// Directory maps rendezvous ids to the signaling connections that registered them.
type Directory interface {
	// Claim binds id to conn. An id held by another connection fails with ErrIDUnavailable.
	Claim(ctx context.Context, id domain.PeerID, conn Deliverer) error
	// Release unbinds id if conn still holds it.
	Release(ctx context.Context, id domain.PeerID, conn Deliverer)
	// Refresh keeps a claim alive.
	Refresh(ctx context.Context, id domain.PeerID) error
	// Deliver hands f to the holder of to, or fails with ErrPeerUnavailable.
	Deliver(ctx context.Context, to domain.PeerID, f Frame) error
	Has(ctx context.Context, id domain.PeerID) (bool, error)
}
