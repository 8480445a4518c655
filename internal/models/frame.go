package models

import "encoding/json"

// FrameType represents the type of a signaling frame.
type FrameType string

const (
	FrameTypeOffer      FrameType = "offer"
	FrameTypeAnswer     FrameType = "answer"
	FrameTypeCandidate  FrameType = "ice-candidate"
	FrameTypeChat       FrameType = "chat"
	FrameTypeLeave      FrameType = "leave"
	FrameTypePing       FrameType = "ping"
	FrameTypePong       FrameType = "pong"
	FrameTypeRoomInfo   FrameType = "room-info"
	FrameTypeUserJoined FrameType = "user-joined"
	FrameTypeUserLeft   FrameType = "user-left"
	FrameTypeError      FrameType = "error"
)

// Frame is a signaling message relayed between peers in a room. The SDP and
// candidate payloads are opaque to the server. FromUser is always stamped by
// the router, never trusted from the client.
type Frame struct {
	Type      FrameType       `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Message   string          `json:"message,omitempty"`
	ToUser    string          `json:"to_user,omitempty"`
	FromUser  string          `json:"from_user,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`

	// room-info / user-joined / user-left fields
	RoomID           string   `json:"room_id,omitempty"`
	UserID           string   `json:"user_id,omitempty"`
	Participants     []string `json:"participants,omitempty"`
	ParticipantCount int      `json:"participant_count,omitempty"`

	Error string `json:"error,omitempty"`
}
