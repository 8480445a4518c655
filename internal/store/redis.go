package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/clearhealth/telehealth-signaling/internal/models"
)

// RedisStore keeps session documents as JSON values under namespaced keys:
//
//	session:{id}                JSON session document
//	sessions                    set of all session ids
//	room:{room_id}              room -> session id
//	appt:{appointment_id}       appointment -> session id
//	session:{id}:participants   hash: user_id -> JSON participant
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore returns a Store backed by the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(id string) string      { return "session:" + id }
func roomKey(roomID string) string     { return "room:" + roomID }
func apptKey(apptID string) string     { return "appt:" + apptID }
func participantsKey(id string) string { return "session:" + id + ":participants" }

const allSessionsKey = "sessions"

func (r *RedisStore) CreateSession(ctx context.Context, s *models.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), data, 0)
	pipe.SAdd(ctx, allSessionsKey, s.ID)
	pipe.Set(ctx, roomKey(s.RoomID), s.ID, 0)
	if s.AppointmentID != "" {
		pipe.Set(ctx, apptKey(s.AppointmentID), s.ID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	var s models.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) GetSessionByRoom(ctx context.Context, roomID string) (*models.Session, error) {
	id, err := r.client.Get(ctx, roomKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve room %s: %w", roomID, err)
	}
	return r.GetSession(ctx, id)
}

func (r *RedisStore) GetSessionByAppointment(ctx context.Context, appointmentID string) (*models.Session, error) {
	id, err := r.client.Get(ctx, apptKey(appointmentID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("appointment %s: %w", appointmentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve appointment %s: %w", appointmentID, err)
	}
	return r.GetSession(ctx, id)
}

func (r *RedisStore) UpdateSession(ctx context.Context, s *models.Session) error {
	exists, err := r.client.Exists(ctx, sessionKey(s.ID)).Result()
	if err != nil {
		return fmt.Errorf("check session %s: %w", s.ID, err)
	}
	if exists == 0 {
		return fmt.Errorf("session %s: %w", s.ID, ErrNotFound)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(s.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisStore) ListSessions(ctx context.Context) ([]*models.Session, error) {
	ids, err := r.client.SMembers(ctx, allSessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]*models.Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetSession(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (r *RedisStore) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	key := participantsKey(p.SessionID)

	// Keep the original row id when replacing an existing (session, user) row.
	existing, err := r.client.HGet(ctx, key, p.UserID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get participant %s/%s: %w", p.SessionID, p.UserID, err)
	}
	if err == nil {
		var prev models.Participant
		if jerr := json.Unmarshal([]byte(existing), &prev); jerr == nil && prev.ID != "" {
			p.ID = prev.ID
		}
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	if err := r.client.HSet(ctx, key, p.UserID, data).Err(); err != nil {
		return fmt.Errorf("upsert participant %s/%s: %w", p.SessionID, p.UserID, err)
	}
	return nil
}

func (r *RedisStore) ListParticipants(ctx context.Context, sessionID string) ([]*models.Participant, error) {
	rows, err := r.client.HGetAll(ctx, participantsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list participants %s: %w", sessionID, err)
	}
	participants := make([]*models.Participant, 0, len(rows))
	for _, data := range rows {
		var p models.Participant
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("parse participant in session %s: %w", sessionID, err)
		}
		participants = append(participants, &p)
	}
	return participants, nil
}
