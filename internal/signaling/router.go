// Package signaling relays SDP/ICE frames between peers in a room. The
// server never touches media bytes; it only routes opaque payloads and
// maintains room membership events.
package signaling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clearhealth/telehealth-signaling/internal/models"
	"github.com/clearhealth/telehealth-signaling/internal/registry"
)

// Router interprets inbound frames and resolves unicast/broadcast delivery
// through the connection registry.
type Router struct {
	registry *registry.Registry
	now      func() time.Time
}

// NewRouter creates a Router over the given registry.
func NewRouter(reg *registry.Registry) *Router {
	return &Router{registry: reg, now: time.Now}
}

// Admit registers the handle for (roomID, userID) and immediately sends it a
// room-info frame with the current participant list, so the joiner can
// initiate offers without racing membership. Remaining members get a
// user-joined notification.
func (r *Router) Admit(roomID, userID string, h registry.Handle) int {
	count := r.registry.Connect(roomID, userID, h)

	if err := h.TrySend(models.Frame{
		Type:         models.FrameTypeRoomInfo,
		RoomID:       roomID,
		Participants: r.registry.Participants(roomID),
	}); err != nil {
		log.Warn().Err(err).Str("module", "signaling").Str("room_id", roomID).
			Str("user_id", userID).Msg("dropped room-info frame")
	}

	r.registry.Broadcast(roomID, models.Frame{
		Type:             models.FrameTypeUserJoined,
		UserID:           userID,
		ParticipantCount: count,
	}, userID)

	log.Info().Str("module", "signaling").Str("room_id", roomID).
		Str("user_id", userID).Int("participants", count).Msg("peer admitted")
	return count
}

// Drop removes (roomID, userID) from the registry and notifies the remaining
// members with the updated participant count. When h is non-nil the entry is
// only removed while h still owns it, so a replaced connection's teardown
// leaves its replacement registered. Safe to call more than once.
func (r *Router) Drop(roomID, userID string, h registry.Handle) {
	remaining, removed := r.registry.DisconnectHandle(roomID, userID, h)
	if !removed {
		return
	}
	r.registry.Broadcast(roomID, models.Frame{
		Type:             models.FrameTypeUserLeft,
		UserID:           userID,
		ParticipantCount: remaining,
	}, userID)
	log.Info().Str("module", "signaling").Str("room_id", roomID).
		Str("user_id", userID).Int("participants", remaining).Msg("peer dropped")
}

// HandleFrame routes one inbound frame from (roomID, userID). It returns
// true when the sender asked to leave and its connection should be torn
// down. Malformed frames are answered with an error frame to the sender
// only; they never disturb other connections in the room.
func (r *Router) HandleFrame(roomID, userID string, data []byte) (leave bool) {
	var frame models.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		r.sendError(roomID, userID, "malformed frame")
		return false
	}

	// FromUser is always stamped server-side, never trusted from the client.
	frame.FromUser = userID

	switch frame.Type {
	case models.FrameTypeOffer, models.FrameTypeAnswer:
		if frame.SDP == "" {
			r.sendError(roomID, userID, fmt.Sprintf("%s frame missing sdp", frame.Type))
			return false
		}
		r.relay(roomID, userID, frame)

	case models.FrameTypeCandidate:
		if len(frame.Candidate) == 0 {
			r.sendError(roomID, userID, "ice-candidate frame missing candidate")
			return false
		}
		r.relay(roomID, userID, frame)

	case models.FrameTypeChat:
		if frame.Message == "" {
			r.sendError(roomID, userID, "chat frame missing message")
			return false
		}
		frame.Timestamp = r.now().Unix()
		frame.ToUser = ""
		r.registry.Broadcast(roomID, frame, userID)

	case models.FrameTypePing:
		r.registry.SendTo(roomID, userID, models.Frame{Type: models.FrameTypePong})

	case models.FrameTypeLeave:
		return true

	default:
		r.sendError(roomID, userID, fmt.Sprintf("unknown frame type %q", frame.Type))
	}
	return false
}

// relay delivers an SDP/ICE frame: unicast when a target is named, otherwise
// broadcast to everyone but the sender.
func (r *Router) relay(roomID, userID string, frame models.Frame) {
	if frame.ToUser != "" {
		r.registry.SendTo(roomID, frame.ToUser, frame)
		return
	}
	r.registry.Broadcast(roomID, frame, userID)
}

func (r *Router) sendError(roomID, userID, msg string) {
	log.Debug().Str("module", "signaling").Str("room_id", roomID).
		Str("user_id", userID).Str("reason", msg).Msg("rejected frame")
	r.registry.SendTo(roomID, userID, models.Frame{
		Type:  models.FrameTypeError,
		Error: msg,
	})
}
