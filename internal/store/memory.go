package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/clearhealth/telehealth-signaling/internal/models"
)

// MemoryStore is a thread-safe in-memory Store, used in tests and for
// running the server without Redis.
type MemoryStore struct {
	mu           sync.RWMutex
	sessions     map[string]*models.Session
	byRoom       map[string]string
	byAppt       map[string]string
	participants map[string]map[string]*models.Participant // session id -> user id -> row
}

// NewMemoryStore creates a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]*models.Session),
		byRoom:       make(map[string]string),
		byAppt:       make(map[string]string),
		participants: make(map[string]map[string]*models.Participant),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *models.Session) error {
	if s.ID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	m.byRoom[s.RoomID] = s.ID
	if s.AppointmentID != "" {
		m.byAppt[s.AppointmentID] = s.ID
	}
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetSessionByRoom(ctx context.Context, roomID string) (*models.Session, error) {
	m.mu.RLock()
	id, ok := m.byRoom[roomID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	return m.GetSession(ctx, id)
}

func (m *MemoryStore) GetSessionByAppointment(ctx context.Context, appointmentID string) (*models.Session, error) {
	m.mu.RLock()
	id, ok := m.byAppt[appointmentID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", appointmentID, ErrNotFound)
	}
	return m.GetSession(ctx, id)
}

func (m *MemoryStore) UpdateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return fmt.Errorf("session %s: %w", s.ID, ErrNotFound)
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) UpsertParticipant(_ context.Context, p *models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.participants[p.SessionID]
	if !ok {
		rows = make(map[string]*models.Participant)
		m.participants[p.SessionID] = rows
	}
	if prev, ok := rows[p.UserID]; ok && prev.ID != "" {
		p.ID = prev.ID
	}
	cp := *p
	rows[p.UserID] = &cp
	return nil
}

func (m *MemoryStore) ListParticipants(_ context.Context, sessionID string) ([]*models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Participant, 0, len(m.participants[sessionID]))
	for _, p := range m.participants[sessionID] {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}
