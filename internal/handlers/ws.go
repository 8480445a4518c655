package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/clearhealth/telehealth-signaling/internal/service"
	"github.com/clearhealth/telehealth-signaling/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware.
		return true
	},
}

// SignalingHandler upgrades signaling connections and hands them to the
// router. One connection per (room, user); a second connect for the same
// pair replaces the first.
type SignalingHandler struct {
	svc      *service.Telehealth
	router   *signaling.Router
	timeouts signaling.Timeouts
}

// NewSignalingHandler wires the websocket endpoint.
func NewSignalingHandler(svc *service.Telehealth, router *signaling.Router, timeouts signaling.Timeouts) *SignalingHandler {
	return &SignalingHandler{svc: svc, router: router, timeouts: timeouts}
}

// Handle serves GET /ws/rooms/:roomId?user_id=... The caller's identity is
// verified upstream; the room id is the capability to reach the session.
func (h *SignalingHandler) Handle(c *gin.Context) {
	roomID := c.Param("roomId")
	userID := c.Query("user_id")
	if roomID == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id and user_id are required"})
		return
	}

	ctx := c.Request.Context()
	session, err := h.svc.GetSessionByRoom(ctx, roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if session.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "session is over"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "handlers").Msg("websocket upgrade failed")
		return
	}

	client := signaling.NewClient(roomID, userID, conn, h.timeouts)
	h.router.Admit(roomID, userID, client)
	// The request context dies with the upgrade; mirror updates get their own.
	h.svc.SetConnected(context.Background(), roomID, userID, true)

	// Run blocks until the connection is gone; by then the router has
	// already removed the registry entry and told the room.
	client.Run(h.router)
	h.svc.SetConnected(context.Background(), roomID, userID, false)
}
