package signaling

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/clearhealth/telehealth-signaling/internal/models"
)

// Timeouts governs connection liveness. PongWait is the explicit liveness
// timeout: a connection whose peer stops answering websocket pings past this
// deadline is dropped by its read loop, deliberately not left to
// transport-level disconnect alone.
type Timeouts struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	ReadLimit  int64
}

// DefaultTimeouts mirror the usual gorilla pump settings: ping slightly
// inside the pong window.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		WriteWait:  10 * time.Second,
		PongWait:   60 * time.Second,
		PingPeriod: 54 * time.Second,
		ReadLimit:  32768,
	}
}

var errConnClosed = errors.New("connection closed")
var errBufferFull = errors.New("send buffer full")

// Client is one live websocket signaling connection scoped to (room, user).
// It implements registry.Handle.
type Client struct {
	RoomID string
	UserID string

	conn     *websocket.Conn
	send     chan []byte
	timeouts Timeouts

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded websocket connection.
func NewClient(roomID, userID string, conn *websocket.Conn, timeouts Timeouts) *Client {
	return &Client{
		RoomID:   roomID,
		UserID:   userID,
		conn:     conn,
		send:     make(chan []byte, 256),
		timeouts: timeouts,
	}
}

// TrySend queues a frame without blocking. A full buffer or a closed
// connection is reported as an error for the registry to swallow.
func (c *Client) TrySend(frame models.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errBufferFull
	}
}

// Close tears the connection down. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}

// Run drives both pumps and blocks until the connection is gone. Cleanup of
// the registry entry always happens, whatever killed the read loop.
func (c *Client) Run(router *Router) {
	go c.writePump()
	c.readPump(router)
}

func (c *Client) readPump(router *Router) {
	defer func() {
		// A panic in one connection's read loop must not take down the
		// process; it still runs this connection's cleanup path.
		if r := recover(); r != nil {
			log.Error().Str("module", "signaling").Str("room_id", c.RoomID).
				Str("user_id", c.UserID).Interface("panic", r).Msg("read loop panicked")
		}
		router.Drop(c.RoomID, c.UserID, c)
		c.Close()
	}()

	c.conn.SetReadLimit(c.timeouts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeouts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.timeouts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("module", "signaling").Str("room_id", c.RoomID).
					Str("user_id", c.UserID).Msg("read error")
			}
			return
		}
		if leave := router.HandleFrame(c.RoomID, c.UserID, data); leave {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.timeouts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeouts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signaling").Str("room_id", c.RoomID).
					Str("user_id", c.UserID).Msg("write error")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeouts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
