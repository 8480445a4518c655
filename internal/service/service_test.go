package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/clearhealth/telehealth-signaling/internal/lifecycle"
	"github.com/clearhealth/telehealth-signaling/internal/models"
	"github.com/clearhealth/telehealth-signaling/internal/store"
)

type fakeDirectory struct {
	names map[string]string
}

func (d *fakeDirectory) DisplayName(_ context.Context, id string) (string, error) {
	name, ok := d.names[id]
	if !ok {
		return "", fmt.Errorf("%s not found", id)
	}
	return name, nil
}

type fakeAppointments struct {
	appointments map[string]*Appointment
	marked       map[string]string // appointment id -> session id
	markErr      error
}

func (a *fakeAppointments) Get(_ context.Context, id string) (*Appointment, error) {
	appt, ok := a.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s not found", id)
	}
	return appt, nil
}

func (a *fakeAppointments) MarkTelehealth(_ context.Context, appointmentID, sessionID string) error {
	if a.markErr != nil {
		return a.markErr
	}
	if a.marked == nil {
		a.marked = make(map[string]string)
	}
	a.marked[appointmentID] = sessionID
	return nil
}

type clock struct {
	now time.Time
}

func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(appts *fakeAppointments) (*Telehealth, *clock) {
	c := &clock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	svc := New(
		store.NewMemoryStore(),
		&fakeDirectory{names: map[string]string{"patient-1": "Pat Doe"}},
		&fakeDirectory{names: map[string]string{"provider-1": "Dr. Roe"}},
		appts,
		nil,
		"https://emr.example.com",
	)
	svc.now = func() time.Time { return c.now }
	return svc, c
}

func TestFullSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, clk := newTestService(&fakeAppointments{})

	created, err := svc.CreateSession(ctx, CreateSessionInput{
		PatientID:     "patient-1",
		ProviderID:    "provider-1",
		ScheduledTime: clk.now.Add(time.Hour),
		SessionType:   models.SessionTypeVideo,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	s := created.Session
	if s.Status != models.StatusScheduled {
		t.Fatalf("status = %s, want scheduled", s.Status)
	}
	if s.RoomID == "" || s.RoomID == s.ID {
		t.Fatalf("room id must be a distinct opaque id, got %q", s.RoomID)
	}
	if created.JoinURL == "" {
		t.Fatal("missing join URL")
	}

	joined, err := svc.JoinSession(ctx, s.ID, JoinInput{
		UserID: "patient-1",
		Role:   models.RolePatient,
	})
	if err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	if joined.RoomID != s.RoomID {
		t.Errorf("join room = %s, want %s", joined.RoomID, s.RoomID)
	}
	got, _ := svc.GetSession(ctx, s.ID)
	if got.Status != models.StatusWaiting {
		t.Errorf("status after join = %s, want waiting", got.Status)
	}

	started, err := svc.StartSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if started.Status != models.StatusInProgress || started.StartedAt == nil {
		t.Fatalf("after start: status=%s started_at=%v", started.Status, started.StartedAt)
	}

	clk.advance(12 * time.Minute)
	ended, err := svc.EndSession(ctx, s.ID, "follow up in two weeks")
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if ended.Status != models.StatusCompleted {
		t.Errorf("status after end = %s", ended.Status)
	}
	if ended.ActualDurationMinutes == nil || *ended.ActualDurationMinutes != 12 {
		t.Errorf("actual_duration_minutes = %v, want 12", ended.ActualDurationMinutes)
	}
	if ended.Notes != "follow up in two weeks" {
		t.Errorf("notes = %q", ended.Notes)
	}

	participants, err := svc.ListParticipants(ctx, s.ID)
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	if len(participants) != 1 {
		t.Fatalf("participants = %d, want 1", len(participants))
	}
	p := participants[0]
	if p.IsConnected || p.LeftAt == nil {
		t.Errorf("participant not swept after end: connected=%v left_at=%v", p.IsConnected, p.LeftAt)
	}
	if p.DisplayName != "Pat Doe" {
		t.Errorf("display name = %q, want directory-resolved name", p.DisplayName)
	}
}

func TestJoinUnknownSession(t *testing.T) {
	svc, _ := newTestService(&fakeAppointments{})
	_, err := svc.JoinSession(context.Background(), "no-such-id", JoinInput{UserID: "u", Role: models.RolePatient})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestJoinFinishedSession(t *testing.T) {
	ctx := context.Background()
	svc, clk := newTestService(&fakeAppointments{})

	created, err := svc.CreateSession(ctx, CreateSessionInput{
		PatientID:     "patient-1",
		ProviderID:    "provider-1",
		ScheduledTime: clk.now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.StartSession(ctx, created.Session.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.EndSession(ctx, created.Session.ID, ""); err != nil {
		t.Fatal(err)
	}

	_, err = svc.JoinSession(ctx, created.Session.ID, JoinInput{UserID: "u", Role: models.RoleCaregiver})
	if !errors.Is(err, lifecycle.ErrInvalidState) {
		t.Errorf("join on completed session: want ErrInvalidState, got %v", err)
	}
}

func TestRepeatJoinsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, clk := newTestService(&fakeAppointments{})

	created, _ := svc.CreateSession(ctx, CreateSessionInput{
		PatientID: "patient-1", ProviderID: "provider-1", ScheduledTime: clk.now,
	})
	id := created.Session.ID

	for i := 0; i < 3; i++ {
		if _, err := svc.JoinSession(ctx, id, JoinInput{UserID: "patient-1", Role: models.RolePatient}); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	if _, err := svc.JoinSession(ctx, id, JoinInput{UserID: "provider-1", Role: models.RoleProvider}); err != nil {
		t.Fatalf("provider join: %v", err)
	}

	s, _ := svc.GetSession(ctx, id)
	if s.Status != models.StatusWaiting {
		t.Errorf("status = %s, want waiting", s.Status)
	}
	participants, _ := svc.ListParticipants(ctx, id)
	if len(participants) != 2 {
		t.Errorf("participants = %d, want one row per user", len(participants))
	}
}

func TestFromAppointmentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	appts := &fakeAppointments{appointments: map[string]*Appointment{
		"appt-1": {
			ID:            "appt-1",
			PatientID:     "patient-1",
			ProviderID:    "provider-1",
			ScheduledTime: time.Date(2026, 3, 11, 14, 0, 0, 0, time.UTC),
			Reason:        "med check",
		},
	}}
	svc, _ := newTestService(appts)

	first, err := svc.FromAppointment(ctx, "appt-1")
	if err != nil {
		t.Fatalf("first FromAppointment: %v", err)
	}
	second, err := svc.FromAppointment(ctx, "appt-1")
	if err != nil {
		t.Fatalf("second FromAppointment: %v", err)
	}
	if first.Session.ID != second.Session.ID {
		t.Errorf("session ids differ: %s vs %s", first.Session.ID, second.Session.ID)
	}

	sessions, _ := svc.ListSessions(ctx)
	if len(sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(sessions))
	}
	if appts.marked["appt-1"] != first.Session.ID {
		t.Errorf("appointment not marked with session id: %v", appts.marked)
	}
	if !first.Session.WaitingRoomEnabled {
		t.Error("appointment-derived session should enable the waiting room")
	}
}

func TestFromAppointmentSurvivesMarkFailure(t *testing.T) {
	ctx := context.Background()
	appts := &fakeAppointments{
		appointments: map[string]*Appointment{
			"appt-2": {ID: "appt-2", PatientID: "p", ProviderID: "d", ScheduledTime: time.Now()},
		},
		markErr: errors.New("appointment service down"),
	}
	svc, _ := newTestService(appts)

	result, err := svc.FromAppointment(ctx, "appt-2")
	if err != nil {
		t.Fatalf("FromAppointment: %v", err)
	}
	if result.Session.AppointmentID != "appt-2" {
		t.Errorf("appointment id = %s", result.Session.AppointmentID)
	}
}

func TestDisplayNameFallsBackToUserID(t *testing.T) {
	ctx := context.Background()
	svc, clk := newTestService(&fakeAppointments{})

	created, _ := svc.CreateSession(ctx, CreateSessionInput{
		PatientID: "patient-1", ProviderID: "provider-1", ScheduledTime: clk.now,
	})
	if _, err := svc.JoinSession(ctx, created.Session.ID, JoinInput{
		UserID: "interp-9", Role: models.RoleInterpreter,
	}); err != nil {
		t.Fatal(err)
	}

	participants, _ := svc.ListParticipants(ctx, created.Session.ID)
	if len(participants) != 1 || participants[0].DisplayName != "interp-9" {
		t.Errorf("participants = %+v, want display name falling back to user id", participants)
	}
}

func TestSetConnectedMirrorsRegistryState(t *testing.T) {
	ctx := context.Background()
	svc, clk := newTestService(&fakeAppointments{})

	created, _ := svc.CreateSession(ctx, CreateSessionInput{
		PatientID: "patient-1", ProviderID: "provider-1", ScheduledTime: clk.now,
	})
	s := created.Session
	if _, err := svc.JoinSession(ctx, s.ID, JoinInput{UserID: "patient-1", Role: models.RolePatient}); err != nil {
		t.Fatal(err)
	}

	svc.SetConnected(ctx, s.RoomID, "patient-1", true)
	participants, _ := svc.ListParticipants(ctx, s.ID)
	if len(participants) != 1 || !participants[0].IsConnected {
		t.Fatalf("participant not marked connected: %+v", participants)
	}

	svc.SetConnected(ctx, s.RoomID, "patient-1", false)
	participants, _ = svc.ListParticipants(ctx, s.ID)
	if participants[0].IsConnected || participants[0].LeftAt == nil {
		t.Errorf("participant not marked disconnected: %+v", participants[0])
	}

	// Unknown room and unknown user are silent no-ops.
	svc.SetConnected(ctx, "no-such-room", "patient-1", true)
	svc.SetConnected(ctx, s.RoomID, "stranger", true)
}
