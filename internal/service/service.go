// Package service orchestrates the telehealth session lifecycle: it binds
// the session store, the validated state machine, and the collaborator
// directories behind the HTTP surface.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/clearhealth/telehealth-signaling/internal/lifecycle"
	"github.com/clearhealth/telehealth-signaling/internal/models"
	"github.com/clearhealth/telehealth-signaling/internal/store"
)

// Directory resolves a user id to a display name. Patient and provider
// records live in the wider EMR; this service only looks names up.
type Directory interface {
	DisplayName(ctx context.Context, id string) (string, error)
}

// Appointment is the slice of an EMR appointment this service needs.
type Appointment struct {
	ID            string    `json:"id"`
	PatientID     string    `json:"patient_id"`
	ProviderID    string    `json:"provider_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Reason        string    `json:"reason,omitempty"`
}

// AppointmentService supplies appointment data for session creation and
// receives the telehealth marker write-back.
type AppointmentService interface {
	Get(ctx context.Context, id string) (*Appointment, error)
	MarkTelehealth(ctx context.Context, appointmentID, sessionID string) error
}

// Telehealth is the orchestrator exposed to the web layer.
type Telehealth struct {
	store         store.Store
	patients      Directory
	providers     Directory
	appointments  AppointmentService
	iceServers    []webrtc.ICEServer
	publicBaseURL string
	now           func() time.Time
	newID         func() string
}

// New wires a Telehealth service. The ICE server list is returned verbatim
// to joining clients; it is configuration, not computed here.
func New(
	st store.Store,
	patients, providers Directory,
	appointments AppointmentService,
	iceServers []webrtc.ICEServer,
	publicBaseURL string,
) *Telehealth {
	return &Telehealth{
		store:         st,
		patients:      patients,
		providers:     providers,
		appointments:  appointments,
		iceServers:    iceServers,
		publicBaseURL: publicBaseURL,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// CreateSessionInput carries the fields a caller supplies for a new session.
type CreateSessionInput struct {
	PatientID          string
	ProviderID         string
	AppointmentID      string
	ScheduledTime      time.Time
	SessionType        models.SessionType
	RecordingEnabled   bool
	WaitingRoomEnabled bool
}

// CreateSessionResult is a created session plus the join URL clients follow.
type CreateSessionResult struct {
	Session *models.Session
	JoinURL string
}

// CreateSession persists a new scheduled session with a fresh unguessable
// room id.
func (t *Telehealth) CreateSession(ctx context.Context, in CreateSessionInput) (*CreateSessionResult, error) {
	sessionType := in.SessionType
	if sessionType == "" {
		sessionType = models.SessionTypeVideo
	}

	s := &models.Session{
		ID:                 t.newID(),
		RoomID:             t.newID(),
		PatientID:          in.PatientID,
		ProviderID:         in.ProviderID,
		AppointmentID:      in.AppointmentID,
		ScheduledTime:      in.ScheduledTime,
		SessionType:        sessionType,
		Status:             models.StatusScheduled,
		CreatedAt:          t.now().UTC(),
		RecordingEnabled:   in.RecordingEnabled,
		WaitingRoomEnabled: in.WaitingRoomEnabled,
	}
	if err := t.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}

	log.Info().Str("module", "service").Str("session_id", s.ID).
		Str("patient_id", s.PatientID).Str("provider_id", s.ProviderID).
		Msg("session created")
	return &CreateSessionResult{Session: s, JoinURL: t.joinURL(s.RoomID)}, nil
}

func (t *Telehealth) joinURL(roomID string) string {
	return fmt.Sprintf("%s/telehealth/rooms/%s", t.publicBaseURL, roomID)
}

// JoinInput identifies who is joining a session.
type JoinInput struct {
	UserID      string
	DisplayName string
	Role        models.ParticipantRole
}

// JoinResult tells a joiner where to connect and which ICE servers to use.
type JoinResult struct {
	RoomID     string
	ICEServers []webrtc.ICEServer
	JoinURL    string
}

// JoinSession records a participant and moves the session into the waiting
// state on first arrival. Joining a completed or cancelled session fails
// with lifecycle.ErrInvalidState.
func (t *Telehealth) JoinSession(ctx context.Context, sessionID string, in JoinInput) (*JoinResult, error) {
	s, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Join(s); err != nil {
		return nil, err
	}

	displayName := in.DisplayName
	if displayName == "" {
		displayName = t.resolveDisplayName(ctx, in.UserID, in.Role)
	}

	joined := t.now().UTC()
	p := &models.Participant{
		ID:          t.newID(),
		SessionID:   s.ID,
		UserID:      in.UserID,
		DisplayName: displayName,
		Role:        in.Role,
		JoinedAt:    &joined,
	}
	if err := t.store.UpsertParticipant(ctx, p); err != nil {
		return nil, err
	}
	if err := t.store.UpdateSession(ctx, s); err != nil {
		return nil, err
	}

	log.Info().Str("module", "service").Str("session_id", s.ID).
		Str("user_id", in.UserID).Str("role", string(in.Role)).Msg("participant joined")
	return &JoinResult{
		RoomID:     s.RoomID,
		ICEServers: t.iceServers,
		JoinURL:    t.joinURL(s.RoomID),
	}, nil
}

// resolveDisplayName asks the matching directory; a lookup failure degrades
// to the bare user id rather than blocking the join.
func (t *Telehealth) resolveDisplayName(ctx context.Context, userID string, role models.ParticipantRole) string {
	var dir Directory
	switch role {
	case models.RoleProvider:
		dir = t.providers
	case models.RolePatient:
		dir = t.patients
	}
	if dir == nil {
		return userID
	}
	name, err := dir.DisplayName(ctx, userID)
	if err != nil || name == "" {
		log.Debug().Err(err).Str("module", "service").Str("user_id", userID).
			Msg("display name lookup failed, using user id")
		return userID
	}
	return name
}

// StartSession moves a session to in_progress.
func (t *Telehealth) StartSession(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Start(s, t.now()); err != nil {
		return nil, err
	}
	if err := t.store.UpdateSession(ctx, s); err != nil {
		return nil, err
	}
	log.Info().Str("module", "service").Str("session_id", s.ID).Msg("session started")
	return s, nil
}

// EndSession completes a session, records the optional clinical note, and
// best-effort marks every participant row disconnected. Participant updates
// are advisory; failures there do not fail the end operation.
func (t *Telehealth) EndSession(ctx context.Context, sessionID, notes string) (*models.Session, error) {
	s, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.End(s, t.now()); err != nil {
		return nil, err
	}
	if notes != "" {
		s.Notes = notes
	}
	if err := t.store.UpdateSession(ctx, s); err != nil {
		return nil, err
	}

	participants, err := t.store.ListParticipants(ctx, s.ID)
	if err != nil {
		log.Warn().Err(err).Str("module", "service").Str("session_id", s.ID).
			Msg("could not list participants for disconnect sweep")
		return s, nil
	}
	left := t.now().UTC()
	for _, p := range participants {
		if !p.IsConnected && p.LeftAt != nil {
			continue
		}
		p.IsConnected = false
		if p.LeftAt == nil {
			p.LeftAt = &left
		}
		if err := t.store.UpsertParticipant(ctx, p); err != nil {
			log.Warn().Err(err).Str("module", "service").Str("session_id", s.ID).
				Str("user_id", p.UserID).Msg("could not mark participant disconnected")
		}
	}

	log.Info().Str("module", "service").Str("session_id", s.ID).Msg("session ended")
	return s, nil
}

// CancelSession cancels any non-terminal session.
func (t *Telehealth) CancelSession(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Cancel(s); err != nil {
		return nil, err
	}
	if err := t.store.UpdateSession(ctx, s); err != nil {
		return nil, err
	}
	log.Info().Str("module", "service").Str("session_id", s.ID).Msg("session cancelled")
	return s, nil
}

// FromAppointment creates a session for an appointment, or returns the one
// that already exists. The existence check runs before the insert, so calling
// this twice with the same id never duplicates a session.
func (t *Telehealth) FromAppointment(ctx context.Context, appointmentID string) (*CreateSessionResult, error) {
	if existing, err := t.store.GetSessionByAppointment(ctx, appointmentID); err == nil {
		return &CreateSessionResult{Session: existing, JoinURL: t.joinURL(existing.RoomID)}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	appt, err := t.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	result, err := t.CreateSession(ctx, CreateSessionInput{
		PatientID:          appt.PatientID,
		ProviderID:         appt.ProviderID,
		AppointmentID:      appt.ID,
		ScheduledTime:      appt.ScheduledTime,
		SessionType:        models.SessionTypeVideo,
		WaitingRoomEnabled: true,
	})
	if err != nil {
		return nil, err
	}

	// Write-back is advisory; the session exists either way.
	if err := t.appointments.MarkTelehealth(ctx, appt.ID, result.Session.ID); err != nil {
		log.Warn().Err(err).Str("module", "service").Str("appointment_id", appt.ID).
			Msg("could not mark appointment as telehealth")
	}
	return result, nil
}

// GetSession retrieves one session.
func (t *Telehealth) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return t.store.GetSession(ctx, sessionID)
}

// GetSessionByRoom resolves the session behind a signaling room.
func (t *Telehealth) GetSessionByRoom(ctx context.Context, roomID string) (*models.Session, error) {
	return t.store.GetSessionByRoom(ctx, roomID)
}

// ListSessions returns all sessions.
func (t *Telehealth) ListSessions(ctx context.Context) ([]*models.Session, error) {
	return t.store.ListSessions(ctx)
}

// ListParticipants returns the audit participant rows for a session.
func (t *Telehealth) ListParticipants(ctx context.Context, sessionID string) ([]*models.Participant, error) {
	return t.store.ListParticipants(ctx, sessionID)
}

// SetConnected best-effort mirrors registry connect/disconnect into the
// participant row for audit. Unknown rooms or participants are ignored.
func (t *Telehealth) SetConnected(ctx context.Context, roomID, userID string, connected bool) {
	s, err := t.store.GetSessionByRoom(ctx, roomID)
	if err != nil {
		return
	}
	participants, err := t.store.ListParticipants(ctx, s.ID)
	if err != nil {
		return
	}
	for _, p := range participants {
		if p.UserID != userID {
			continue
		}
		p.IsConnected = connected
		if !connected {
			left := t.now().UTC()
			p.LeftAt = &left
		}
		if err := t.store.UpsertParticipant(ctx, p); err != nil {
			log.Debug().Err(err).Str("module", "service").Str("session_id", s.ID).
				Str("user_id", userID).Msg("connected mirror update failed")
		}
		return
	}
}
