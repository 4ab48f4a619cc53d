package app

import (
	"fmt"
	"strings"

	"github.com/dkeye/patchroom/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a peer whose channel rejected a frame.
type Policy interface {
	OnBackPressure(peer domain.PeerID, err error) BackpressureAction
}

// DropPolicy discards the frame and keeps the connection.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.PeerID, error) BackpressureAction { return DropFrame }

// KickPolicy closes the slow connection.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(domain.PeerID, error) BackpressureAction { return KickMember }

// ParsePolicy maps a config value ("drop", "kick") to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "drop":
		return DropPolicy{}, nil
	case "kick":
		return KickPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
