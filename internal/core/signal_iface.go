package core

import "github.com/dkeye/patchroom/internal/domain"

// Frame is one encoded message.
type Frame []byte

// Channel is a reliable ordered bidirectional message channel to one remote endpoint.
// Owned by the adapter; the session must Close() it.
type Channel interface {
	RemotePeer() domain.PeerID
	Metadata() map[string]string
	// Send must not block; a saturated channel returns ErrBackpressure.
	Send(Frame) error
	// OnMessage sets the receive handler. Frames that arrived before it was set are replayed in order.
	OnMessage(func(Frame))
	// OnClose is called once, when either side closes the channel.
	OnClose(func())
	IsOpen() bool
	Close() error
}
