package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var (
	// ErrMalformed marks data that is not a structurally valid message.
	ErrMalformed = errors.New("malformed message")
	// ErrUnencodable is returned for messages that are only ever received.
	ErrUnencodable = errors.New("message cannot be encoded")
)

// Encode serializes m with its type discriminator.
func Encode(m Message) ([]byte, error) {
	var v any
	switch msg := m.(type) {
	case *Join:
		v = struct {
			Type Type `json:"type"`
			*Join
		}{TypeJoin, msg}
	case *FullSync:
		v = struct {
			Type Type `json:"type"`
			*FullSync
		}{TypeFullSync, msg}
	case *Welcome:
		v = struct {
			Type Type `json:"type"`
			*Welcome
		}{TypeWelcome, msg}
	case *ParamBatch:
		v = struct {
			Type Type `json:"type"`
			*ParamBatch
		}{TypeParamBatch, msg}
	case *StateUpdate:
		v = struct {
			Type Type `json:"type"`
			*StateUpdate
		}{TypeStateUpdate, msg}
	case *NoteOn:
		v = struct {
			Type Type `json:"type"`
			*NoteOn
		}{TypeNoteOn, msg}
	case *NoteOff:
		v = struct {
			Type Type `json:"type"`
			*NoteOff
		}{TypeNoteOff, msg}
	case *SeqControl:
		v = struct {
			Type Type `json:"type"`
			*SeqControl
		}{TypeSeqControl, msg}
	case *PatchChange:
		v = struct {
			Type Type `json:"type"`
			*PatchChange
		}{TypePatchChange, msg}
	case *TabChange:
		v = struct {
			Type Type `json:"type"`
			*TabChange
		}{TypeTabChange, msg}
	case *PlayerJoined:
		v = struct {
			Type Type `json:"type"`
			*PlayerJoined
		}{TypePlayerJoined, msg}
	case *PlayerLeft:
		v = struct {
			Type Type `json:"type"`
			*PlayerLeft
		}{TypePlayerLeft, msg}
	case *Error:
		v = struct {
			Type Type `json:"type"`
			*Error
		}{TypeError, msg}
	case *RoomFull:
		v = struct {
			Type Type `json:"type"`
			*RoomFull
		}{TypeRoomFull, msg}
	case *Unknown:
		return nil, ErrUnencodable
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnencodable, m)
	}
	return json.Marshal(v)
}

// Decode parses one message. A well-formed message of an unhandled type decodes to *Unknown.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var m Message
	switch env.Type {
	case TypeJoin:
		m = &Join{}
	case TypeFullSync:
		m = &FullSync{}
	case TypeWelcome:
		m = &Welcome{}
	case TypeParamBatch:
		m = &ParamBatch{}
	case TypeStateUpdate:
		m = &StateUpdate{}
	case TypeNoteOn:
		m = &NoteOn{}
	case TypeNoteOff:
		m = &NoteOff{}
	case TypeSeqControl:
		m = &SeqControl{}
	case TypePatchChange:
		m = &PatchChange{}
	case TypeTabChange:
		m = &TabChange{}
	case TypePlayerJoined:
		m = &PlayerJoined{}
	case TypePlayerLeft:
		m = &PlayerLeft{}
	case TypeError:
		m = &Error{}
	case TypeRoomFull:
		m = &RoomFull{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return &Unknown{Kind: env.Type}, nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	if err := validate(m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return m, nil
}

func validate(m Message) error {
	if r, ok := m.(Relayable); ok && r.Originator() == "" {
		return errors.New("fromPeer required")
	}
	switch msg := m.(type) {
	case *FullSync:
		if msg.State.IsEmpty() {
			return errors.New("state required")
		}
	case *Welcome:
		if msg.State.IsEmpty() {
			return errors.New("state required")
		}
	case *StateUpdate:
		if msg.State.IsEmpty() {
			return errors.New("state required")
		}
	case *ParamBatch:
		for _, p := range msg.Params {
			if p.Instrument == "" || p.Path == "" {
				return errors.New("param requires instrument and path")
			}
		}
	case *NoteOn:
		if msg.Instrument == "" {
			return errors.New("instrument required")
		}
	case *NoteOff:
		if msg.Instrument == "" {
			return errors.New("instrument required")
		}
	case *SeqControl:
		if msg.Instrument == "" {
			return errors.New("instrument required")
		}
		if msg.Action != SeqStart && msg.Action != SeqStop {
			return fmt.Errorf("unknown action %q", msg.Action)
		}
	case *PatchChange:
		if msg.Action != PatchAdd && msg.Action != PatchRemove {
			return fmt.Errorf("unknown action %q", msg.Action)
		}
	case *PlayerJoined:
		if msg.Peer == "" {
			return errors.New("peerId required")
		}
	case *PlayerLeft:
		if msg.Peer == "" {
			return errors.New("peerId required")
		}
	}
	return nil
}
