package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/patchroom/internal/app"
	"github.com/dkeye/patchroom/internal/app/statesync"
	"github.com/dkeye/patchroom/internal/domain"
)

// Mode selects how local parameter edits reach the other participants.
type Mode string

const (
	// ModeBatch sends coalesced paramBatch messages.
	ModeBatch Mode = "batch"
	// ModeFull sends the whole state in a throttled stateUpdate.
	ModeFull Mode = "full"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeBatch:
		return ModeBatch, nil
	case ModeFull:
		return ModeFull, nil
	}
	return "", fmt.Errorf("unknown sync mode %q", s)
}

const (
	DefaultMaxGuests     = 2
	DefaultJoinTimeout   = 10 * time.Second
	DefaultRejectGrace   = time.Second
	DefaultCreateRetries = 10
)

type Options struct {
	Prefix        string
	MaxGuests     int
	JoinTimeout   time.Duration
	RejectGrace   time.Duration
	FlushInterval time.Duration
	Mode          Mode
	// Sections > 0 enables exclusive section ownership and the welcome handshake.
	Sections      int
	Policy        app.Policy
	CreateRetries uint64
	// Codes generates room codes; domain.GenerateCode when nil.
	Codes func() domain.RoomCode
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = domain.DefaultRoomPrefix
	}
	if o.MaxGuests <= 0 {
		o.MaxGuests = DefaultMaxGuests
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = DefaultJoinTimeout
	}
	if o.RejectGrace <= 0 {
		o.RejectGrace = DefaultRejectGrace
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = statesync.DefaultInterval
	}
	if o.Mode == "" {
		o.Mode = ModeBatch
	}
	if o.Policy == nil {
		o.Policy = app.DropPolicy{}
	}
	if o.CreateRetries == 0 {
		o.CreateRetries = DefaultCreateRetries
	}
	if o.Codes == nil {
		o.Codes = domain.GenerateCode
	}
	return o
}

// Status is what the UI shows about the session.
type Status struct {
	Connected bool
	RoomCode  domain.RoomCode
	IsHost    bool
	PeerCount int
}

// Hooks are invoked on the session's event loop. They must not block on the session.
type Hooks struct {
	OnStatusChange  func(Status)
	OnPeerTabChange func(peer domain.PeerID, tab string)
	OnPeerJoined    func(domain.Member)
	OnPeerLeft      func(domain.Member)
	// OnError receives errors the host sent after membership was established.
	OnError func(error)
}
