// Package lifecycle is the validated state machine for session status.
// Every status mutation in the system goes through one of these transitions;
// ForceStatus is the single, explicitly logged escape hatch.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clearhealth/telehealth-signaling/internal/models"
)

// ErrInvalidState means the requested transition is not allowed from the
// session's current status. The session is left unchanged.
var ErrInvalidState = errors.New("invalid session state")

func invalidTransition(op string, from models.SessionStatus) error {
	return fmt.Errorf("%s from %q: %w", op, from, ErrInvalidState)
}

// Join moves a session to waiting on first arrival. Repeat joins by any user
// are idempotent once the session is waiting or in progress.
func Join(s *models.Session) error {
	switch s.Status {
	case models.StatusScheduled:
		s.Status = models.StatusWaiting
		return nil
	case models.StatusWaiting, models.StatusInProgress:
		return nil
	default:
		return invalidTransition("join", s.Status)
	}
}

// Start moves a session to in_progress and stamps started_at.
func Start(s *models.Session, now time.Time) error {
	switch s.Status {
	case models.StatusScheduled, models.StatusWaiting:
		s.Status = models.StatusInProgress
		t := now.UTC()
		s.StartedAt = &t
		return nil
	default:
		return invalidTransition("start", s.Status)
	}
}

// End completes an in_progress session. The duration is floor(now - started_at)
// in whole minutes. A session that was opened but never started ends with a
// nil duration rather than an error.
func End(s *models.Session, now time.Time) error {
	if s.Status != models.StatusInProgress {
		return invalidTransition("end", s.Status)
	}
	s.Status = models.StatusCompleted
	t := now.UTC()
	s.EndedAt = &t
	if s.StartedAt != nil {
		minutes := int(now.Sub(*s.StartedAt).Minutes())
		s.ActualDurationMinutes = &minutes
	}
	return nil
}

// Cancel moves any non-terminal session to cancelled.
func Cancel(s *models.Session) error {
	if s.Status.Terminal() {
		return invalidTransition("cancel", s.Status)
	}
	s.Status = models.StatusCancelled
	return nil
}

// MarkNoShow is the administrative scheduled -> no_show transition.
func MarkNoShow(s *models.Session) error {
	if s.Status != models.StatusScheduled {
		return invalidTransition("no_show", s.Status)
	}
	s.Status = models.StatusNoShow
	return nil
}

// ForceStatus sets the status without validation. It exists for waiting-room
// edge cases only and is logged distinctly so overrides stand out in audit.
func ForceStatus(s *models.Session, status models.SessionStatus) {
	log.Warn().
		Str("module", "lifecycle").
		Str("session_id", s.ID).
		Str("from", string(s.Status)).
		Str("to", string(status)).
		Str("event", "administrative_override").
		Msg("status forced outside validated transitions")
	s.Status = status
}
