package domain

import (
	"errors"
	"math/rand"
	"strings"
)

// CodeAlphabet excludes 0/O and 1/I so codes survive being read aloud.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	CodeLen           = 4
	DefaultRoomPrefix = "patchroom-"
	hostSuffix        = "-host"
)

var (
	ErrCodeLength  = errors.New("room code must be 4 characters")
	ErrCodeCharset = errors.New("room code contains a disallowed character")
)

type (
	RoomCode string
	PeerID   string
)

type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleGuest
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleGuest:
		return "guest"
	default:
		return "none"
	}
}

// Room is immutable for the lifetime of a session.
type Room struct {
	Code             RoomCode
	HostRendezvousID PeerID
}

func NewRoom(prefix string, code RoomCode) Room {
	return Room{Code: code, HostRendezvousID: HostRendezvousID(prefix, code)}
}

// GenerateCode returns a random code. Uniqueness is only checked by the rendezvous server.
func GenerateCode() RoomCode {
	var b [CodeLen]byte
	for i := range b {
		b[i] = CodeAlphabet[rand.Intn(len(CodeAlphabet))]
	}
	return RoomCode(b[:])
}

// ParseCode normalizes user input (case-insensitive, surrounding space trimmed) and validates it.
func ParseCode(raw string) (RoomCode, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if len(s) != CodeLen {
		return "", ErrCodeLength
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(CodeAlphabet, s[i]) < 0 {
			return "", ErrCodeCharset
		}
	}
	return RoomCode(s), nil
}

func HostRendezvousID(prefix string, code RoomCode) PeerID {
	if prefix == "" {
		prefix = DefaultRoomPrefix
	}
	return PeerID(prefix + string(code) + hostSuffix)
}
