package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/dcom/internal/metrics"
	"github.com/mossy-p/dcom/internal/models"
)

const presenceTimeout = 2 * time.Second

// Room manages peers in a WebRTC room
type Room struct {
	ID    string
	Peers map[string]*Client
}

// Client represents a WebSocket client connection
type Client struct {
	*wsPeer
	ID     string
	RoomID string
}

// signalHub owns every signaling room. A room exists while it has peers.
type signalHub struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func newSignalHub() *signalHub {
	return &signalHub{rooms: make(map[string]*Room)}
}

// join adds client to its room, creating the room if needed. It reports
// false when the room already holds a full peer pair.
func (h *signalHub) join(client *Client) (created, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, exists := h.rooms[client.RoomID]
	if !exists {
		room = &Room{
			ID:    client.RoomID,
			Peers: make(map[string]*Client),
		}
		h.rooms[client.RoomID] = room
	}
	if len(room.Peers) >= models.MaxRoomPeers {
		return false, false
	}
	room.Peers[client.ID] = client
	return !exists, true
}

// leave removes client and reports how many peers remain.
func (h *signalHub) leave(client *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[client.RoomID]
	if !ok {
		return 0
	}
	delete(room.Peers, client.ID)

	// Clean up room if empty
	if len(room.Peers) == 0 {
		delete(h.rooms, room.ID)
	}
	return len(room.Peers)
}

// relay queues data for every peer of the room except the sender and
// returns how many peers it reached.
func (h *signalHub) relay(roomID, fromPeerID string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room, ok := h.rooms[roomID]
	if !ok {
		return 0
	}
	delivered := 0
	for peerID, client := range room.Peers {
		if peerID == fromPeerID {
			continue
		}
		if client.queue(data) {
			delivered++
		}
	}
	return delivered
}

func (h *signalHub) size(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if room, ok := h.rooms[roomID]; ok {
		return len(room.Peers)
	}
	return 0
}

// HandleSignaling handles WebSocket connections for WebRTC signaling.
// Frames are relayed verbatim to the other peer of the room.
func (s *Server) HandleSignaling(c *gin.Context) {
	roomIdentifier := c.Param("roomId")
	if roomIdentifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}

	roomID := s.resolveRoom(c.Request.Context(), roomIdentifier)

	// Validate room capacity before upgrading so a third peer gets a
	// plain HTTP error.
	if s.rooms.size(roomID) >= models.MaxRoomPeers {
		metrics.RoomsRejected.Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "room is full"})
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	// Generate unique peer ID
	client := &Client{
		wsPeer: newWSPeer(conn),
		ID:     uuid.New().String(),
		RoomID: roomID,
	}
	created, ok := s.rooms.join(client)
	if !ok {
		// Lost a race for the last slot.
		metrics.RoomsRejected.Inc()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "room is full"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	if created {
		s.logger.Info("created new room", "room", roomID)
	}

	logger := s.logger.With("room", roomID, "peer", client.ID)
	if displayName := c.Query("displayName"); displayName != "" {
		logger = logger.With("displayName", displayName)
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	if err := s.store.AddRoomPeer(ctx, roomID, client.ID); err != nil {
		logger.Warn("failed to record peer", "error", err)
	}
	cancel()

	metrics.SignalingPeers.Inc()
	logger.Info("peer joined room", "peers", s.rooms.size(roomID))

	// Start goroutines for reading and writing
	go client.writePump(logger)
	go s.signalReadPump(client, logger)
}

func (s *Server) signalReadPump(client *Client, logger *slog.Logger) {
	defer func() {
		remaining := s.rooms.leave(client)
		client.close()
		metrics.SignalingPeers.Dec()

		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		if err := s.store.RemoveRoomPeer(ctx, client.RoomID, client.ID); err != nil {
			logger.Warn("failed to remove peer", "error", err)
		}
		cancel()

		logger.Info("peer left room", "remaining", remaining)
	}()

	client.prepareRead()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("websocket error", "error", err)
			}
			return
		}

		// Parse message to log the signal type
		var envelope struct {
			Type models.SignalType `json:"type"`
		}
		if err := json.Unmarshal(message, &envelope); err != nil {
			logger.Warn("invalid JSON signal", "error", err)
		} else {
			logger.Debug("received signal", "type", envelope.Type)
		}

		if delivered := s.rooms.relay(client.RoomID, client.ID, message); delivered == 0 {
			logger.Debug("no peer to relay to")
		} else {
			metrics.SignalsRelayed.WithLabelValues(signalLabel(envelope.Type)).Inc()
		}
	}
}

// signalLabel bounds the metric label set to the known signal types.
func signalLabel(t models.SignalType) string {
	switch t {
	case models.SignalTypeOffer, models.SignalTypeAnswer, models.SignalTypeCandidate:
		return string(t)
	}
	return "other"
}
