package core

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomNotFound: join did not establish membership within the timeout window.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFull: the host already serves the maximum number of guests.
	ErrRoomFull = errors.New("room is full")
	// ErrIDUnavailable: the rendezvous id is registered by someone else.
	ErrIDUnavailable = errors.New("rendezvous id unavailable")
	// ErrPeerUnavailable: no endpoint is registered under the requested id.
	ErrPeerUnavailable = errors.New("peer unavailable")
	// ErrNoSection: every section is owned.
	ErrNoSection    = errors.New("no free section")
	ErrBackpressure = errors.New("backpressure")

	ErrNotConnected     = errors.New("session not connected")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrClosed           = errors.New("closed")
)

// TransportError is a transport-level failure during create or join.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError is an error message delivered by the host.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Is lets errors.Is(err, ErrRoomFull) match a room-full rejection.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrRoomFull:
		return e.Code == CodeRoomFull
	case ErrNoSection:
		return e.Code == CodeNoSection
	}
	return false
}

const (
	CodeRoomFull        = "room-full"
	CodeNoSection       = "no-section"
	CodeBadPayload      = "bad_payload"
	CodeUnavailableID   = "unavailable-id"
	CodePeerUnavailable = "peer-unavailable"
	CodeRateLimited     = "rate-limited"
)
