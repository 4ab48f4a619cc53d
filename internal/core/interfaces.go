package core

import (
	"context"

	"github.com/dkeye/patchroom/internal/domain"
)

// StateOwner is the external owner of the instrument state tree.
// The session only touches it from its own event loop, one call at a time.
type StateOwner interface {
	// GetFullState returns a deep copy of the whole tree.
	GetFullState() (domain.Snapshot, error)
	// ApplyFullState overwrites the tree. Applying the same snapshot twice is a no-op the second time.
	ApplyFullState(domain.Snapshot) error
	// ApplyParam updates one value and must not emit a local change notification.
	ApplyParam(instrument, path string, value any) error

	TriggerNote(instrument string, note int) error
	ReleaseNote(instrument string) error
	StartSequencer(instrument string) error
	StopSequencer(instrument string) error

	// AddCrossPatch returns false when the link already exists or cannot be made.
	AddCrossPatch(domain.CrossLink) bool
	// RemoveCrossPatch returns false when the link does not exist.
	RemoveCrossPatch(domain.CrossLink) bool
}

// Endpoint is the local transport endpoint: a rendezvous registration plus
// reliable ordered message channels and side audio calls to other endpoints.
type Endpoint interface {
	// Open registers id with the rendezvous service. An empty id asks the service to assign one.
	// A taken id fails with ErrIDUnavailable.
	Open(ctx context.Context, id domain.PeerID) (domain.PeerID, error)
	// Connect opens a channel to remote and returns once it is open.
	// An unregistered remote fails with ErrPeerUnavailable.
	Connect(ctx context.Context, remote domain.PeerID, meta map[string]string) (Channel, error)
	// OnConnection is invoked for every inbound channel once it is open.
	OnConnection(func(Channel))

	MediaEndpoint

	Close() error
}
