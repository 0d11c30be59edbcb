package models

import "time"

// MaxRoomPeers caps a signaling room at one peer pair.
const MaxRoomPeers = 2

// RoomMetadata stores information about a room
type RoomMetadata struct {
	ID        string    `json:"id"`
	Code      string    `json:"code,omitempty"` // Short, shareable room code (e.g., "K7QM2X")
	CreatedAt time.Time `json:"createdAt,omitempty"`
	PeerCount int       `json:"peerCount"`
	MaxPeers  int       `json:"maxPeers"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

// Stats is the server-wide snapshot served at /stats.
type Stats struct {
	WebRTCRooms        int      `json:"webrtc_rooms"`
	ActiveRooms        []string `json:"active_rooms"`
	WebSocketUsers     int      `json:"websocket_users"`
	WebSocketUsersList []string `json:"websocket_users_list"`
}
