package signaling

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clearhealth/telehealth-signaling/internal/models"
	"github.com/clearhealth/telehealth-signaling/internal/registry"
)

type fakeHandle struct {
	mu     sync.Mutex
	frames []models.Frame
	closed bool
}

func (h *fakeHandle) TrySend(f models.Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("closed")
	}
	h.frames = append(h.frames, f)
	return nil
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

func (h *fakeHandle) received() []models.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.Frame, len(h.frames))
	copy(out, h.frames)
	return out
}

// framesOfType filters a handle's received frames by type.
func framesOfType(h *fakeHandle, ft models.FrameType) []models.Frame {
	var out []models.Frame
	for _, f := range h.received() {
		if f.Type == ft {
			out = append(out, f)
		}
	}
	return out
}

func newTestRouter() (*Router, *registry.Registry) {
	reg := registry.New()
	return NewRouter(reg), reg
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestAdmitSendsRoomInfoToJoiner(t *testing.T) {
	router, _ := newTestRouter()

	a := &fakeHandle{}
	router.Admit("room1", "a", a)

	infos := framesOfType(a, models.FrameTypeRoomInfo)
	if len(infos) != 1 {
		t.Fatalf("room-info frames = %d, want 1", len(infos))
	}
	if infos[0].RoomID != "room1" {
		t.Errorf("room_id = %s", infos[0].RoomID)
	}
	if len(infos[0].Participants) != 1 || infos[0].Participants[0] != "a" {
		t.Errorf("participants = %v", infos[0].Participants)
	}

	b := &fakeHandle{}
	router.Admit("room1", "b", b)

	binfo := framesOfType(b, models.FrameTypeRoomInfo)
	if len(binfo) != 1 || len(binfo[0].Participants) != 2 {
		t.Errorf("second joiner room-info = %+v", binfo)
	}
	joined := framesOfType(a, models.FrameTypeUserJoined)
	if len(joined) != 1 || joined[0].UserID != "b" || joined[0].ParticipantCount != 2 {
		t.Errorf("user-joined on a = %+v", joined)
	}
	if len(framesOfType(b, models.FrameTypeUserJoined)) != 0 {
		t.Error("joiner received its own user-joined")
	}
}

func TestOfferBroadcastStampsSender(t *testing.T) {
	router, _ := newTestRouter()
	a, b := &fakeHandle{}, &fakeHandle{}
	router.Admit("room1", "a", a)
	router.Admit("room1", "b", b)

	// from_user in the inbound frame is a spoof attempt; the router must
	// overwrite it.
	data := mustJSON(t, map[string]any{"type": "offer", "sdp": "x", "from_user": "mallory"})
	if leave := router.HandleFrame("room1", "a", data); leave {
		t.Fatal("offer reported leave")
	}

	offers := framesOfType(b, models.FrameTypeOffer)
	if len(offers) != 1 {
		t.Fatalf("b offers = %d, want 1", len(offers))
	}
	if offers[0].SDP != "x" || offers[0].FromUser != "a" {
		t.Errorf("offer = %+v, want sdp=x from_user=a", offers[0])
	}
	if len(framesOfType(a, models.FrameTypeOffer)) != 0 {
		t.Error("sender received its own offer")
	}
}

func TestAnswerUnicastWithTarget(t *testing.T) {
	router, _ := newTestRouter()
	a, b, c := &fakeHandle{}, &fakeHandle{}, &fakeHandle{}
	router.Admit("room1", "a", a)
	router.Admit("room1", "b", b)
	router.Admit("room1", "c", c)

	data := mustJSON(t, map[string]any{"type": "answer", "sdp": "y", "to_user": "a"})
	router.HandleFrame("room1", "b", data)

	answers := framesOfType(a, models.FrameTypeAnswer)
	if len(answers) != 1 || answers[0].FromUser != "b" || answers[0].ToUser != "a" {
		t.Fatalf("a answers = %+v", answers)
	}
	if len(framesOfType(c, models.FrameTypeAnswer)) != 0 {
		t.Error("unicast answer leaked to a third peer")
	}
}

func TestCandidatePassthrough(t *testing.T) {
	router, _ := newTestRouter()
	a, b := &fakeHandle{}, &fakeHandle{}
	router.Admit("room1", "a", a)
	router.Admit("room1", "b", b)

	candidate := map[string]any{"candidate": "candidate:1 1 udp 2113937151 192.0.2.1 54400 typ host", "sdpMid": "0"}
	data := mustJSON(t, map[string]any{"type": "ice-candidate", "candidate": candidate})
	router.HandleFrame("room1", "a", data)

	got := framesOfType(b, models.FrameTypeCandidate)
	if len(got) != 1 {
		t.Fatalf("candidate frames = %d, want 1", len(got))
	}
	var decoded map[string]any
	if err := json.Unmarshal(got[0].Candidate, &decoded); err != nil {
		t.Fatalf("candidate payload: %v", err)
	}
	if decoded["sdpMid"] != "0" {
		t.Errorf("candidate payload mangled: %v", decoded)
	}
}

func TestChatBroadcastExcludesSenderAndStampsTimestamp(t *testing.T) {
	router, _ := newTestRouter()
	fixed := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	router.now = func() time.Time { return fixed }

	a, b := &fakeHandle{}, &fakeHandle{}
	router.Admit("room1", "a", a)
	router.Admit("room1", "b", b)

	router.HandleFrame("room1", "a", mustJSON(t, map[string]any{"type": "chat", "message": "hello"}))

	chats := framesOfType(b, models.FrameTypeChat)
	if len(chats) != 1 {
		t.Fatalf("b chats = %d, want 1", len(chats))
	}
	if chats[0].Message != "hello" || chats[0].FromUser != "a" || chats[0].Timestamp != fixed.Unix() {
		t.Errorf("chat = %+v", chats[0])
	}
	if len(framesOfType(a, models.FrameTypeChat)) != 0 {
		t.Error("chat echoed back to sender")
	}
}

func TestPingAnsweredOnlyToSender(t *testing.T) {
	router, _ := newTestRouter()
	a, b := &fakeHandle{}, &fakeHandle{}
	router.Admit("room1", "a", a)
	router.Admit("room1", "b", b)

	router.HandleFrame("room1", "a", mustJSON(t, map[string]any{"type": "ping"}))

	if len(framesOfType(a, models.FrameTypePong)) != 1 {
		t.Error("sender did not get pong")
	}
	if len(framesOfType(b, models.FrameTypePong)) != 0 {
		t.Error("pong was broadcast")
	}
}

func TestLeaveRequestsTeardown(t *testing.T) {
	router, _ := newTestRouter()
	a := &fakeHandle{}
	router.Admit("room1", "a", a)

	if leave := router.HandleFrame("room1", "a", mustJSON(t, map[string]any{"type": "leave"})); !leave {
		t.Error("leave frame did not request teardown")
	}
}

func TestDropNotifiesRemainingMembers(t *testing.T) {
	router, reg := newTestRouter()
	a, b := &fakeHandle{}, &fakeHandle{}
	router.Admit("room1", "a", a)
	router.Admit("room1", "b", b)

	router.Drop("room1", "a", a)

	left := framesOfType(b, models.FrameTypeUserLeft)
	if len(left) != 1 {
		t.Fatalf("user-left frames = %d, want 1", len(left))
	}
	if left[0].UserID != "a" || left[0].ParticipantCount != 1 {
		t.Errorf("user-left = %+v, want user_id=a participant_count=1", left[0])
	}

	// A second Drop for the same pair must be silent.
	router.Drop("room1", "a", a)
	if len(framesOfType(b, models.FrameTypeUserLeft)) != 1 {
		t.Error("duplicate drop broadcast a second user-left")
	}

	if got := reg.Participants("room1"); len(got) != 1 || got[0] != "b" {
		t.Errorf("participants after drop = %v", got)
	}
}

func TestMalformedFrameOnlyAffectsSender(t *testing.T) {
	router, _ := newTestRouter()
	a, b := &fakeHandle{}, &fakeHandle{}
	router.Admit("room1", "a", a)
	router.Admit("room1", "b", b)
	baseline := len(b.received()) // membership frames from setup

	cases := [][]byte{
		[]byte("{not json"),
		mustJSON(t, map[string]any{"type": "warp-drive"}),
		mustJSON(t, map[string]any{"type": "offer"}),         // missing sdp
		mustJSON(t, map[string]any{"type": "ice-candidate"}), // missing candidate
		mustJSON(t, map[string]any{"type": "chat"}),          // missing message
	}
	for _, data := range cases {
		if leave := router.HandleFrame("room1", "a", data); leave {
			t.Errorf("bad frame %q requested teardown", data)
		}
	}

	if got := len(framesOfType(a, models.FrameTypeError)); got != len(cases) {
		t.Errorf("sender error frames = %d, want %d", got, len(cases))
	}
	if got := len(b.received()) - baseline; got != 0 {
		t.Errorf("other member received %d frames from bad input", got)
	}
}
