package handlers

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mossy-p/dcom/internal/models"
	"github.com/mossy-p/dcom/internal/presence"
)

const (
	roomCodeLength = 6
	codeAttempts   = 5
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

// CreateRoom creates a shareable room code. Rooms themselves need no
// creation; the code is a short alias for a fresh room id.
func (s *Server) CreateRoom(c *gin.Context) {
	ctx := c.Request.Context()

	// Generate unique room ID and code
	roomID := uuid.New().String()
	for attempt := 0; attempt < codeAttempts; attempt++ {
		roomCode := generateRoomCode()
		if err := s.store.SaveRoomCode(ctx, roomCode, roomID); err != nil {
			s.logger.Debug("room code rejected", "code", roomCode, "error", err)
			continue
		}

		s.logger.Info("room created", "room", roomID, "code", roomCode)
		c.JSON(http.StatusCreated, models.CreateRoomResponse{
			RoomID: roomID,
			Code:   roomCode,
		})
		return
	}

	s.logger.Warn("failed to allocate room code", "room", roomID)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
}

// GetRoom gets room information by code or ID (public)
func (s *Server) GetRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomIdentifier := c.Param("roomId")
	roomID := s.resolveRoom(ctx, roomIdentifier)

	room := models.RoomMetadata{
		ID:       roomID,
		MaxPeers: models.MaxRoomPeers,
	}
	if roomID != roomIdentifier {
		room.Code = roomIdentifier
	}

	// Get current peer count
	count, err := s.store.RoomPeerCount(ctx, roomID)
	if err != nil {
		s.logger.Warn("failed to count room peers", "room", roomID, "error", err)
		count = s.rooms.size(roomID)
	}
	room.PeerCount = count

	c.JSON(http.StatusOK, room)
}

// resolveRoom maps a room code onto its room id. Identifiers that are not
// known codes are room ids themselves.
func (s *Server) resolveRoom(ctx context.Context, roomIdentifier string) string {
	if len(roomIdentifier) != roomCodeLength {
		return roomIdentifier
	}

	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()
	id, err := s.store.ResolveRoomCode(ctx, roomIdentifier)
	if err != nil {
		if !errors.Is(err, presence.ErrNotFound) {
			s.logger.Warn("failed to resolve room code", "code", roomIdentifier, "error", err)
		}
		return roomIdentifier
	}
	return id
}

// generateRoomCode generates a random room code
func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}
