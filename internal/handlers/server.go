package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mossy-p/dcom/internal/presence"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Server holds the state shared by all handlers: the signaling rooms,
// the relay chat hub and the presence store.
type Server struct {
	store  presence.Store
	logger *slog.Logger
	rooms  *signalHub
	chat   *chatHub
}

// NewServer creates the handler set.
func NewServer(store presence.Store, logger *slog.Logger) *Server {
	return &Server{
		store:  store,
		logger: logger,
		rooms:  newSignalHub(),
		chat:   newChatHub(),
	}
}

// Register mounts every route on router.
func (s *Server) Register(router *gin.Engine) {
	router.GET("/", s.Root)
	router.GET("/health", s.Health)
	router.GET("/stats", s.Stats)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/rooms", s.CreateRoom)
		apiGroup.GET("/rooms/:roomId", s.GetRoom)
	}

	// Relay chat endpoint
	router.GET("/ws", s.HandleChat)

	// WebSocket signaling - accepts room code or ID
	router.GET("/signal/:roomId", s.HandleSignaling)
	router.GET("/ws/signal/:roomId", s.HandleSignaling)
}
