package models

import "time"

// SessionStatus is the lifecycle status of a telehealth session.
type SessionStatus string

const (
	StatusScheduled  SessionStatus = "scheduled"
	StatusWaiting    SessionStatus = "waiting"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusCancelled  SessionStatus = "cancelled"
	StatusNoShow     SessionStatus = "no_show"
)

// Terminal reports whether no further validated transition leaves s.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// SessionType is the modality of a telehealth session.
type SessionType string

const (
	SessionTypeVideo SessionType = "video"
	SessionTypeAudio SessionType = "audio"
	SessionTypeChat  SessionType = "chat"
)

// Session is a scheduled telehealth visit. The RoomID scopes signaling;
// it is an unguessable UUID, never the session id.
type Session struct {
	ID                    string        `json:"id"`
	RoomID                string        `json:"room_id"`
	PatientID             string        `json:"patient_id"`
	ProviderID            string        `json:"provider_id"`
	AppointmentID         string        `json:"appointment_id,omitempty"`
	ScheduledTime         time.Time     `json:"scheduled_time"`
	SessionType           SessionType   `json:"session_type"`
	Status                SessionStatus `json:"status"`
	CreatedAt             time.Time     `json:"created_at"`
	StartedAt             *time.Time    `json:"started_at,omitempty"`
	EndedAt               *time.Time    `json:"ended_at,omitempty"`
	ActualDurationMinutes *int          `json:"actual_duration_minutes,omitempty"`
	RecordingEnabled      bool          `json:"recording_enabled"`
	WaitingRoomEnabled    bool          `json:"waiting_room_enabled"`
	Notes                 string        `json:"notes,omitempty"`
}

// ParticipantRole identifies why a user is present in a session.
type ParticipantRole string

const (
	RoleProvider    ParticipantRole = "provider"
	RolePatient     ParticipantRole = "patient"
	RoleInterpreter ParticipantRole = "interpreter"
	RoleCaregiver   ParticipantRole = "caregiver"
)

// Participant is a person's presence record within a session. It is an
// audit mirror; the connection registry is authoritative for liveness.
// At most one row exists per (SessionID, UserID).
type Participant struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name"`
	Role        ParticipantRole `json:"role"`
	JoinedAt    *time.Time      `json:"joined_at,omitempty"`
	LeftAt      *time.Time      `json:"left_at,omitempty"`
	IsConnected bool            `json:"is_connected"`
}
