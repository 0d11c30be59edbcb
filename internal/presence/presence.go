// Package presence records who is connected to the server: peers in
// signaling rooms, users of the relay chat, and shareable room codes.
package presence

import (
	"context"
	"errors"
	"time"
)

// RoomTTL bounds how long room state survives without activity.
const RoomTTL = 24 * time.Hour

// ErrNotFound is returned when a room code is unknown or expired.
var ErrNotFound = errors.New("presence: not found")

// Store is the presence backend.
type Store interface {
	AddRoomPeer(ctx context.Context, roomID, peerID string) error
	RemoveRoomPeer(ctx context.Context, roomID, peerID string) error
	RoomPeerCount(ctx context.Context, roomID string) (int, error)
	// Rooms lists rooms with at least one peer.
	Rooms(ctx context.Context) ([]string, error)

	AddChatUser(ctx context.Context, username string) error
	RemoveChatUser(ctx context.Context, username string) error
	ChatUsers(ctx context.Context) ([]string, error)

	SaveRoomCode(ctx context.Context, code, roomID string) error
	ResolveRoomCode(ctx context.Context, code string) (string, error)

	Close() error
}
