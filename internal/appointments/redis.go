// Package appointments adapts the EMR appointment records backing
// session-from-appointment creation. The telehealth marker write-back is the
// only mutation this subsystem performs on appointment documents.
package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clearhealth/telehealth-signaling/internal/service"
)

// document mirrors the appointment JSON document shape in the shared store.
type document struct {
	ID                  string    `json:"id"`
	PatientID           string    `json:"patient_id"`
	ProviderID          string    `json:"provider_id"`
	ScheduledTime       time.Time `json:"scheduled_time"`
	Reason              string    `json:"reason,omitempty"`
	VisitType           string    `json:"visit_type,omitempty"`
	TelehealthSessionID string    `json:"telehealth_session_id,omitempty"`
}

func key(id string) string { return "appointment:" + id }

// RedisAppointments implements service.AppointmentService over the shared
// document store.
type RedisAppointments struct {
	client *redis.Client
}

// NewRedisAppointments returns the appointment adapter.
func NewRedisAppointments(client *redis.Client) *RedisAppointments {
	return &RedisAppointments{client: client}
}

func (a *RedisAppointments) get(ctx context.Context, id string) (*document, error) {
	data, err := a.client.Get(ctx, key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("appointment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	var doc document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("parse appointment %s: %w", id, err)
	}
	return &doc, nil
}

// Get returns the appointment fields the telehealth service needs.
func (a *RedisAppointments) Get(ctx context.Context, id string) (*service.Appointment, error) {
	doc, err := a.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &service.Appointment{
		ID:            doc.ID,
		PatientID:     doc.PatientID,
		ProviderID:    doc.ProviderID,
		ScheduledTime: doc.ScheduledTime,
		Reason:        doc.Reason,
	}, nil
}

// MarkTelehealth writes the visit_type/telehealth_session_id marker back
// onto the appointment document.
func (a *RedisAppointments) MarkTelehealth(ctx context.Context, appointmentID, sessionID string) error {
	doc, err := a.get(ctx, appointmentID)
	if err != nil {
		return err
	}
	doc.VisitType = "telehealth"
	doc.TelehealthSessionID = sessionID

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal appointment %s: %w", appointmentID, err)
	}
	if err := a.client.Set(ctx, key(appointmentID), data, 0).Err(); err != nil {
		return fmt.Errorf("update appointment %s: %w", appointmentID, err)
	}
	return nil
}
