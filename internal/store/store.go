// Package store persists Session and Participant records in a generic
// document store. Participant rows are advisory audit data; the connection
// registry is authoritative for who is live right now.
package store

import (
	"context"
	"errors"

	"github.com/clearhealth/telehealth-signaling/internal/models"
)

// ErrNotFound means the requested session or participant does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for telehealth sessions.
type Store interface {
	// CreateSession persists a new session and indexes it by room and,
	// when set, by appointment.
	CreateSession(ctx context.Context, s *models.Session) error

	// GetSession retrieves a session by id. Returns ErrNotFound if unknown.
	GetSession(ctx context.Context, id string) (*models.Session, error)

	// GetSessionByRoom resolves a room id back to its session.
	GetSessionByRoom(ctx context.Context, roomID string) (*models.Session, error)

	// GetSessionByAppointment returns the session already created for an
	// appointment, or ErrNotFound if none exists.
	GetSessionByAppointment(ctx context.Context, appointmentID string) (*models.Session, error)

	// UpdateSession overwrites an existing session document.
	UpdateSession(ctx context.Context, s *models.Session) error

	// ListSessions returns all sessions.
	ListSessions(ctx context.Context) ([]*models.Session, error)

	// UpsertParticipant inserts or replaces the participant row keyed by
	// (SessionID, UserID), preserving the row id on replacement.
	UpsertParticipant(ctx context.Context, p *models.Participant) error

	// ListParticipants returns all participant rows for a session.
	ListParticipants(ctx context.Context, sessionID string) ([]*models.Participant, error)
}
