// Package protocol defines the messages exchanged between participants over data channels.
//
// Every message is a JSON object with a "type" discriminator. Messages that the host
// relays carry the originating participant in "fromPeer"; the host never forwards a
// message back to the peer named there.
package protocol

import "github.com/dkeye/patchroom/internal/domain"

type Type string

const (
	TypeJoin         Type = "join"
	TypeFullSync     Type = "fullSync"
	TypeWelcome      Type = "welcome"
	TypeParamBatch   Type = "paramBatch"
	TypeStateUpdate  Type = "stateUpdate"
	TypeNoteOn       Type = "noteOn"
	TypeNoteOff      Type = "noteOff"
	TypeSeqControl   Type = "seqControl"
	TypePatchChange  Type = "patchChange"
	TypeTabChange    Type = "tabChange"
	TypePlayerJoined Type = "playerJoined"
	TypePlayerLeft   Type = "playerLeft"
	TypeError        Type = "error"
	TypeRoomFull     Type = "room-full"
)

// Message is closed: only the types in this package implement it.
type Message interface {
	Type() Type
	message()
}

// Relayable messages are forwarded by the host to every peer except the originator.
type Relayable interface {
	Message
	Originator() domain.PeerID
}

// Origin is embedded by relayable messages.
type Origin struct {
	From domain.PeerID `json:"fromPeer"`
}

func (o Origin) Originator() domain.PeerID { return o.From }

type SeqAction string

const (
	SeqStart SeqAction = "start"
	SeqStop  SeqAction = "stop"
)

type PatchAction string

const (
	PatchAdd    PatchAction = "add"
	PatchRemove PatchAction = "remove"
)

// Join is sent by a guest right after its channel to the host opens.
type Join struct {
	Name string        `json:"name"`
	Peer domain.PeerID `json:"peerId"`
}

// FullSync carries the host's whole state to a joining guest.
type FullSync struct {
	State domain.Snapshot `json:"state"`
}

// Welcome is FullSync for rooms with sections: it adds the assigned section and the roster.
type Welcome struct {
	State   domain.Snapshot `json:"state"`
	Section *int            `json:"section,omitempty"`
	Players []domain.Member `json:"players"`
}

type ParamBatch struct {
	Params []domain.ParamEdit `json:"params"`
	Origin
}

// StateUpdate replaces the whole state; used by the full-state sync mode.
type StateUpdate struct {
	State domain.Snapshot `json:"state"`
	Origin
}

type NoteOn struct {
	Instrument string `json:"instrument"`
	Note       int    `json:"note"`
	Origin
}

type NoteOff struct {
	Instrument string `json:"instrument"`
	Origin
}

type SeqControl struct {
	Instrument string    `json:"instrument"`
	Action     SeqAction `json:"action"`
	Origin
}

type PatchChange struct {
	Action PatchAction `json:"action"`
	domain.CrossLink
	Origin
}

type TabChange struct {
	Tab string `json:"tabId"`
	Origin
}

type PlayerJoined struct {
	Peer    domain.PeerID `json:"peerId"`
	Name    string        `json:"name"`
	Section *int          `json:"section,omitempty"`
}

type PlayerLeft struct {
	Peer    domain.PeerID `json:"peerId"`
	Name    string        `json:"name,omitempty"`
	Section *int          `json:"section,omitempty"`
}

type Error struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type RoomFull struct {
	Message string `json:"message"`
}

// Unknown is a well-formed message of a type this version does not handle.
type Unknown struct {
	Kind Type
}

func (*Join) Type() Type         { return TypeJoin }
func (*FullSync) Type() Type     { return TypeFullSync }
func (*Welcome) Type() Type      { return TypeWelcome }
func (*ParamBatch) Type() Type   { return TypeParamBatch }
func (*StateUpdate) Type() Type  { return TypeStateUpdate }
func (*NoteOn) Type() Type       { return TypeNoteOn }
func (*NoteOff) Type() Type      { return TypeNoteOff }
func (*SeqControl) Type() Type   { return TypeSeqControl }
func (*PatchChange) Type() Type  { return TypePatchChange }
func (*TabChange) Type() Type    { return TypeTabChange }
func (*PlayerJoined) Type() Type { return TypePlayerJoined }
func (*PlayerLeft) Type() Type   { return TypePlayerLeft }
func (*Error) Type() Type        { return TypeError }
func (*RoomFull) Type() Type     { return TypeRoomFull }
func (u *Unknown) Type() Type    { return u.Kind }

func (*Join) message()         {}
func (*FullSync) message()     {}
func (*Welcome) message()      {}
func (*ParamBatch) message()   {}
func (*StateUpdate) message()  {}
func (*NoteOn) message()       {}
func (*NoteOff) message()      {}
func (*SeqControl) message()   {}
func (*PatchChange) message()  {}
func (*TabChange) message()    {}
func (*PlayerJoined) message() {}
func (*PlayerLeft) message()   {}
func (*Error) message()        {}
func (*RoomFull) message()     {}
func (*Unknown) message()      {}
