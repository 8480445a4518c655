package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clearhealth/telehealth-signaling/internal/lifecycle"
	"github.com/clearhealth/telehealth-signaling/internal/models"
	"github.com/clearhealth/telehealth-signaling/internal/service"
	"github.com/clearhealth/telehealth-signaling/internal/store"
)

// SessionHandler exposes the telehealth session CRUD surface.
type SessionHandler struct {
	svc *service.Telehealth
}

// NewSessionHandler wraps the telehealth service for gin.
func NewSessionHandler(svc *service.Telehealth) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// CreateSessionRequest is the request body for creating a session.
type CreateSessionRequest struct {
	PatientID          string    `json:"patient_id" binding:"required"`
	ProviderID         string    `json:"provider_id" binding:"required"`
	AppointmentID      string    `json:"appointment_id"`
	ScheduledTime      time.Time `json:"scheduled_time" binding:"required"`
	SessionType        string    `json:"session_type" binding:"omitempty,oneof=video audio chat"`
	RecordingEnabled   bool      `json:"recording_enabled"`
	WaitingRoomEnabled bool      `json:"waiting_room_enabled"`
}

// SessionResponse is a session plus its join URL.
type SessionResponse struct {
	*models.Session
	JoinURL string `json:"join_url,omitempty"`
}

// JoinSessionRequest identifies the joining user.
type JoinSessionRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role" binding:"required,oneof=provider patient interpreter caregiver"`
}

// EndSessionRequest carries the optional clinical note recorded at end.
type EndSessionRequest struct {
	Notes string `json:"notes"`
}

// FromAppointmentRequest names the appointment to create a session from.
type FromAppointmentRequest struct {
	AppointmentID string `json:"appointment_id" binding:"required"`
}

// Create handles POST /api/sessions.
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.svc.CreateSession(c.Request.Context(), service.CreateSessionInput{
		PatientID:          req.PatientID,
		ProviderID:         req.ProviderID,
		AppointmentID:      req.AppointmentID,
		ScheduledTime:      req.ScheduledTime,
		SessionType:        models.SessionType(req.SessionType),
		RecordingEnabled:   req.RecordingEnabled,
		WaitingRoomEnabled: req.WaitingRoomEnabled,
	})
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, SessionResponse{Session: result.Session, JoinURL: result.JoinURL})
}

// Get handles GET /api/sessions/:sessionId.
func (h *SessionHandler) Get(c *gin.Context) {
	s, err := h.svc.GetSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// List handles GET /api/sessions.
func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.svc.ListSessions(c.Request.Context())
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// Participants handles GET /api/sessions/:sessionId/participants.
func (h *SessionHandler) Participants(c *gin.Context) {
	participants, err := h.svc.ListParticipants(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

// Join handles POST /api/sessions/:sessionId/join.
func (h *SessionHandler) Join(c *gin.Context) {
	var req JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.svc.JoinSession(c.Request.Context(), c.Param("sessionId"), service.JoinInput{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		Role:        models.ParticipantRole(req.Role),
	})
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room_id":     result.RoomID,
		"join_url":    result.JoinURL,
		"ice_servers": result.ICEServers,
	})
}

// Start handles POST /api/sessions/:sessionId/start.
func (h *SessionHandler) Start(c *gin.Context) {
	s, err := h.svc.StartSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// End handles POST /api/sessions/:sessionId/end.
func (h *SessionHandler) End(c *gin.Context) {
	var req EndSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	s, err := h.svc.EndSession(c.Request.Context(), c.Param("sessionId"), req.Notes)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// Cancel handles POST /api/sessions/:sessionId/cancel.
func (h *SessionHandler) Cancel(c *gin.Context) {
	s, err := h.svc.CancelSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// FromAppointment handles POST /api/sessions/from-appointment. Calling it
// twice with the same appointment returns the same session.
func (h *SessionHandler) FromAppointment(c *gin.Context) {
	var req FromAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.svc.FromAppointment(c.Request.Context(), req.AppointmentID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{Session: result.Session, JoinURL: result.JoinURL})
}

// abortWithServiceError maps the service error taxonomy onto HTTP statuses:
// unknown ids are 404, transitions incompatible with the current status are
// 409, anything else is a 500.
func abortWithServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
