package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/dcom/internal/models"
)

// Root identifies the server.
func (s *Server) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "DCOM - Decentralized Communication Server", "status": "running"})
}

// Health check endpoint
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Stats reports active signaling rooms and relay chat users.
func (s *Server) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	rooms, err := s.store.Rooms(ctx)
	if err != nil {
		s.logger.Warn("failed to list rooms", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence store unavailable"})
		return
	}
	users, err := s.store.ChatUsers(ctx)
	if err != nil {
		s.logger.Warn("failed to list chat users", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence store unavailable"})
		return
	}

	c.JSON(http.StatusOK, models.Stats{
		WebRTCRooms:        len(rooms),
		ActiveRooms:        rooms,
		WebSocketUsers:     len(users),
		WebSocketUsersList: users,
	})
}
