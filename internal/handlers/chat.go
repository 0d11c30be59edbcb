package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/dcom/internal/metrics"
	"github.com/mossy-p/dcom/internal/models"
	"github.com/mossy-p/dcom/internal/normalizer"
)

// registrationWait bounds how long a relay client may take to answer the
// username prompt.
const registrationWait = 60 * time.Second

// clientKind decides how broadcasts are encoded for a relay client.
type clientKind int

const (
	// kindTerminal receives plain "user: text" lines.
	kindTerminal clientKind = iota
	// kindBrowser receives JSON objects.
	kindBrowser
)

func (k clientKind) String() string {
	if k == kindBrowser {
		return "browser"
	}
	return "terminal"
}

var browserMarkers = []string{"mozilla", "chrome", "safari", "firefox", "edge", "webkit", "opera"}

func classifyClient(userAgent string) clientKind {
	ua := strings.ToLower(userAgent)
	for _, marker := range browserMarkers {
		if strings.Contains(ua, marker) {
			return kindBrowser
		}
	}
	return kindTerminal
}

// encodeFor renders msg in the form kind expects.
func encodeFor(kind clientKind, msg models.ChatMessage) ([]byte, error) {
	if kind == kindBrowser {
		return json.Marshal(msg)
	}
	if msg.IsSystem() {
		return []byte(msg.Text), nil
	}
	return []byte(msg.Sender + ": " + msg.Text), nil
}

type chatClient struct {
	*wsPeer
	username string
	kind     clientKind
}

// chatHub holds the registered relay chat users.
type chatHub struct {
	mu      sync.RWMutex
	clients map[*chatClient]struct{}
}

func newChatHub() *chatHub {
	return &chatHub{clients: make(map[*chatClient]struct{})}
}

func (h *chatHub) add(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
	metrics.ChatUsers.Inc()
}

func (h *chatHub) remove(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		metrics.ChatUsers.Dec()
	}
}

// broadcast sends msg to every client except exclude.
func (h *chatHub) broadcast(msg models.ChatMessage, exclude *chatClient, logger *slog.Logger) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	kind := "user"
	if msg.IsSystem() {
		kind = "system"
	}
	metrics.ChatMessages.WithLabelValues(kind).Inc()

	for client := range h.clients {
		if client == exclude {
			continue
		}
		data, err := encodeFor(client.kind, msg)
		if err != nil {
			logger.Warn("failed to encode message", "error", err)
			continue
		}
		if !client.queue(data) {
			logger.Warn("failed to send message, buffer full", "user", client.username)
		}
	}
}

// HandleChat serves the relay chat endpoint. The client is asked for a
// username, then every frame it sends is broadcast to the other users.
func (s *Server) HandleChat(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	client := &chatClient{
		wsPeer: newWSPeer(conn),
		kind:   classifyClient(c.Request.UserAgent()),
	}
	logger := s.logger.With("client", client.kind.String())
	logger.Info("new relay connection")

	go client.writePump(logger)
	s.chatReadPump(client, logger)
}

func (s *Server) chatReadPump(client *chatClient, logger *slog.Logger) {
	defer client.close()

	// Ask for username
	client.queue([]byte(normalizer.RegistrationPrompt))

	client.conn.SetReadDeadline(time.Now().Add(registrationWait))
	_, name, err := client.conn.ReadMessage()
	if err != nil {
		logger.Info("relay client left before registering", "error", err)
		return
	}
	client.username = strings.TrimSpace(string(name))
	if client.username == "" || strings.EqualFold(client.username, models.SystemSender) {
		client.username = "anonymous"
	}
	logger = logger.With("user", client.username)

	s.chat.add(client)
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	if err := s.store.AddChatUser(ctx, client.username); err != nil {
		logger.Warn("failed to record chat user", "error", err)
	}
	cancel()
	logger.Info("user connected")

	// Notify others that the user joined
	s.chat.broadcast(models.SystemMessage("🔹 "+client.username+" joined the chat."), client, logger)

	defer func() {
		s.chat.remove(client)
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		if err := s.store.RemoveChatUser(ctx, client.username); err != nil {
			logger.Warn("failed to remove chat user", "error", err)
		}
		cancel()
		logger.Info("user disconnected")
		s.chat.broadcast(models.SystemMessage("🔻 "+client.username+" left the chat."), nil, logger)
	}()

	client.prepareRead()
	for {
		_, text, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("websocket error", "error", err)
			}
			return
		}
		logger.Debug("message received", "bytes", len(text))
		s.chat.broadcast(models.ChatMessage{Sender: client.username, Text: string(text)}, client, logger)
	}
}
