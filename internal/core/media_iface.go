package core

import (
	"context"

	"github.com/dkeye/patchroom/internal/domain"
	"github.com/pion/rtp"
)

// MediaEndpoint places and receives audio calls alongside the data channels.
type MediaEndpoint interface {
	// Call opens a send-only audio call to remote.
	Call(ctx context.Context, remote domain.PeerID) (OutboundCall, error)
	// OnCall is invoked for every inbound call. The handler decides whether to answer.
	OnCall(func(IncomingCall))
}

// PacketWriter accepts RTP packets.
type PacketWriter interface {
	WriteRTP(*rtp.Packet) error
}

// OutboundCall carries the local audio stream to one peer.
type OutboundCall interface {
	PacketWriter
	RemotePeer() domain.PeerID
	Close() error
}

// IncomingCall is an unanswered call from a remote peer.
type IncomingCall interface {
	RemotePeer() domain.PeerID
	// AnswerReceiveOnly answers without sending a local stream and writes every received packet to sink.
	AnswerReceiveOnly(ctx context.Context, sink PacketWriter) error
	Close() error
}

// AudioSource is a local capture source yielding RTP packets.
type AudioSource interface {
	ReadRTP() (*rtp.Packet, error)
	Close() error
}

// Microphone acquires the local capture source. A denied acquisition returns an error.
type Microphone interface {
	Acquire(ctx context.Context) (AudioSource, error)
}

// Speaker plays remote streams.
type Speaker interface {
	Open(peer domain.PeerID) (PacketWriter, error)
}
