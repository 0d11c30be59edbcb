package models

import (
	"fmt"
	"strings"
)

// Mode selects how a session carries chat traffic.
type Mode int

const (
	// ModeDirect runs chat over a peer-to-peer data channel negotiated
	// through the room-scoped signaling endpoint.
	ModeDirect Mode = iota + 1
	// ModeRelay sends every chat message through the relay server.
	ModeRelay
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeRelay:
		return "relay"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "direct"/"p2p" and "relay"/"websocket", ignoring case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "p2p", "webrtc":
		return ModeDirect, nil
	case "relay", "websocket", "ws":
		return ModeRelay, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// Status is the lifecycle state of a session.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnected
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible for the
// session instance.
func (s Status) Terminal() bool {
	return s == StatusDisconnected || s == StatusFailed
}
