package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/whisper/stranger-chat/internal/chat"
	"github.com/whisper/stranger-chat/internal/metrics"
	"github.com/whisper/stranger-chat/internal/session"
	"github.com/whisper/stranger-chat/internal/stats"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type statusEvent struct {
	status Status
	roomID string
}

type delivered struct {
	from    string
	content string
}

type fakeNotifier struct {
	mu        sync.Mutex
	statuses  map[string][]statusEvent
	notices   map[string][]string
	delivered map[string][]delivered
	acks      map[string][]string
	dead      map[string]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		statuses:  make(map[string][]statusEvent),
		notices:   make(map[string][]string),
		delivered: make(map[string][]delivered),
		acks:      make(map[string][]string),
		dead:      make(map[string]bool),
	}
}

func (f *fakeNotifier) StatusChanged(id string, status Status, roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = append(f.statuses[id], statusEvent{status, roomID})
}

func (f *fakeNotifier) SystemNotice(id, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices[id] = append(f.notices[id], text)
}

func (f *fakeNotifier) MessageDelivered(toID, fromTag, content string, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered[toID] = append(f.delivered[toID], delivered{fromTag, content})
}

func (f *fakeNotifier) MessageSent(toID, content string, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks[toID] = append(f.acks[toID], content)
}

func (f *fakeNotifier) Alive(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead[id]
}

func (f *fakeNotifier) kill(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead[id] = true
}

func (f *fakeNotifier) lastStatus(id string) (statusEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evs := f.statuses[id]
	if len(evs) == 0 {
		return statusEvent{}, false
	}
	return evs[len(evs)-1], true
}

func (f *fakeNotifier) deliveredTo(id string) []delivered {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivered(nil), f.delivered[id]...)
}

func (f *fakeNotifier) noticesFor(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notices[id]...)
}

type appended struct {
	roomID, senderID, content string
}

type fakeStore struct {
	mu   sync.Mutex
	rows []appended
	done chan struct{}
	err  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{done: make(chan struct{}, 64)}
}

func (s *fakeStore) Append(_ context.Context, roomID, senderID, content string, _ time.Time) error {
	s.mu.Lock()
	s.rows = append(s.rows, appended{roomID, senderID, content})
	s.mu.Unlock()
	s.done <- struct{}{}
	return s.err
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *fakeStore) waitAppend(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for store append")
	}
}

type fixedCounters struct{ messages, views int64 }

func (c fixedCounters) Totals() (int64, int64) { return c.messages, c.views }

func newTestService() (*Service, *fakeNotifier, *fakeStore) {
	n := newFakeNotifier()
	st := newFakeStore()
	return NewService(n, st, nil), n, st
}

func profile(self, pref session.Gender, interests ...string) session.Profile {
	return session.Profile{Gender: self, Preference: pref, Interests: interests}
}

var anyProfile = profile(session.GenderAny, session.GenderAny)

// ---------------------------------------------------------------------------
// Matching
// ---------------------------------------------------------------------------

func TestRequestMatch_WaitsWhenQueueEmpty(t *testing.T) {
	svc, n, _ := newTestService()
	svc.Connected("a")
	svc.RequestMatch("a", anyProfile)

	ev, ok := n.lastStatus("a")
	if !ok || ev.status != StatusWaiting {
		t.Fatalf("expected waiting status, got %+v ok=%v", ev, ok)
	}
	if !svc.Waiting("a") {
		t.Error("a should be in the queue")
	}
}

func TestRequestMatch_AtMostOnceInQueue(t *testing.T) {
	svc, _, _ := newTestService()
	svc.Connected("a")
	svc.RequestMatch("a", profile(session.GenderMale, session.GenderMale))
	svc.RequestMatch("a", profile(session.GenderMale, session.GenderMale))
	svc.RequestMatch("a", profile(session.GenderMale, session.GenderMale, "music"))

	if got := svc.QueueLen(); got != 1 {
		t.Fatalf("expected a queued once, queue length %d", got)
	}
}

func TestRequestMatch_FIFOFairness(t *testing.T) {
	svc, _, _ := newTestService()
	for _, id := range []string{"p1", "p2", "s"} {
		svc.Connected(id)
	}
	// p1 and p2 cannot pair with each other; both accept s.
	svc.RequestMatch("p1", profile(session.GenderMale, session.GenderFemale))
	svc.RequestMatch("p2", profile(session.GenderMale, session.GenderFemale))
	if svc.QueueLen() != 2 {
		t.Fatalf("p1 and p2 should both wait, queue length %d", svc.QueueLen())
	}

	svc.RequestMatch("s", profile(session.GenderFemale, session.GenderMale))

	sRoom, ok := svc.CurrentRoom("s")
	if !ok {
		t.Fatal("seeker should be paired")
	}
	if sRoom.Partner("s") != "p1" {
		t.Errorf("seeker paired with %s, want p1", sRoom.Partner("s"))
	}
	if !svc.Waiting("p2") || svc.QueueLen() != 1 {
		t.Errorf("p2 should still be the only one waiting, queue length %d", svc.QueueLen())
	}
}

func TestRequestMatch_InterestAsymmetry(t *testing.T) {
	tests := []struct {
		name      string
		candidate []string
		seeker    []string
		paired    bool
	}{
		{"empty seeker matches tagged candidate", []string{"music"}, nil, true},
		{"disjoint tags do not match", []string{"gaming"}, []string{"music"}, false},
		{"overlap matches", []string{"music", "art"}, []string{"music"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService()
			svc.Connected("c")
			svc.Connected("s")
			svc.RequestMatch("c", profile(session.GenderAny, session.GenderAny, tt.candidate...))
			svc.RequestMatch("s", profile(session.GenderAny, session.GenderAny, tt.seeker...))

			_, paired := svc.CurrentRoom("s")
			if paired != tt.paired {
				t.Errorf("paired = %v, want %v", paired, tt.paired)
			}
		})
	}
}

func TestRequestMatch_GenderFiltering(t *testing.T) {
	svc, _, _ := newTestService()
	svc.Connected("c")
	svc.Connected("s")
	svc.RequestMatch("c", profile(session.GenderMale, session.GenderAny))
	svc.RequestMatch("s", profile(session.GenderMale, session.GenderFemale))

	if _, ok := svc.CurrentRoom("s"); ok {
		t.Fatal("male seeking female must not pair with a male candidate")
	}
	if svc.QueueLen() != 2 {
		t.Errorf("both should be waiting, queue length %d", svc.QueueLen())
	}
}

func TestRequestMatch_StaleCandidateDiscarded(t *testing.T) {
	svc, n, _ := newTestService()
	for _, id := range []string{"dead1", "dead2", "live", "s"} {
		svc.Connected(id)
		if id != "s" {
			svc.RequestMatch(id, profile(session.GenderMale, session.GenderFemale))
		}
	}
	if svc.QueueLen() != 3 {
		t.Fatalf("queued candidates must not pair with each other, queue length %d", svc.QueueLen())
	}
	n.kill("dead1")
	n.kill("dead2")

	before := testutil.ToFloat64(metrics.StaleCandidatesTotal)
	svc.RequestMatch("s", profile(session.GenderFemale, session.GenderMale))

	room, ok := svc.CurrentRoom("s")
	if !ok || room.Partner("s") != "live" {
		t.Fatalf("expected s paired with live, got %+v ok=%v", room, ok)
	}
	if svc.QueueLen() != 0 {
		t.Errorf("stale entries should be discarded, queue length %d", svc.QueueLen())
	}
	if svc.Waiting("dead1") || svc.Waiting("dead2") {
		t.Error("dead candidates should be out of the queue")
	}
	if got := testutil.ToFloat64(metrics.StaleCandidatesTotal) - before; got != 2 {
		t.Errorf("expected 2 stale candidates counted, got %v", got)
	}
}

func TestRequestMatch_OnlyStaleCandidatesQueuesSeeker(t *testing.T) {
	svc, n, _ := newTestService()
	svc.Connected("dead")
	svc.Connected("s")
	svc.RequestMatch("dead", anyProfile)
	n.kill("dead")

	svc.RequestMatch("s", anyProfile)

	if _, ok := svc.CurrentRoom("s"); ok {
		t.Fatal("seeker must not be paired with a dead candidate")
	}
	if !svc.Waiting("s") || svc.Waiting("dead") {
		t.Errorf("expected only s waiting")
	}
}

func TestPairNoticeIncludesSharedInterests(t *testing.T) {
	svc, n, _ := newTestService()
	svc.Connected("a")
	svc.Connected("b")
	svc.RequestMatch("a", profile(session.GenderAny, session.GenderAny, "Music", "art"))
	svc.RequestMatch("b", profile(session.GenderAny, session.GenderAny, "music", "film"))

	want := NoticePaired + NoticeSharedPrefix + "music"
	for _, id := range []string{"a", "b"} {
		notices := n.noticesFor(id)
		if len(notices) == 0 || notices[len(notices)-1] != want {
			t.Errorf("%s notices = %q, want last %q", id, notices, want)
		}
	}
}

func TestPairNoticeOmitsEmptyIntersection(t *testing.T) {
	svc, n, _ := newTestService()
	svc.Connected("a")
	svc.Connected("b")
	svc.RequestMatch("a", profile(session.GenderAny, session.GenderAny, "music"))
	svc.RequestMatch("b", anyProfile)

	notices := n.noticesFor("a")
	if len(notices) == 0 || notices[len(notices)-1] != NoticePaired {
		t.Errorf("expected plain paired notice, got %q", notices)
	}
}

// ---------------------------------------------------------------------------
// Leave / disconnect
// ---------------------------------------------------------------------------

func TestLeave_AsymmetricMapping(t *testing.T) {
	svc, n, _ := newTestService()
	svc.Connected("a")
	svc.Connected("b")
	svc.RequestMatch("a", anyProfile)
	svc.RequestMatch("b", anyProfile)
	room, _ := svc.CurrentRoom("a")

	svc.Leave("a")

	if _, ok := svc.CurrentRoom("a"); ok {
		t.Error("leaving participant should have no room")
	}
	if p, _ := svc.Participant("a"); p.RoomID != "" {
		t.Errorf("leaving participant's registry room should be cleared, got %q", p.RoomID)
	}
	bRoom, ok := svc.CurrentRoom("b")
	if !ok || bRoom.ID != room.ID {
		t.Errorf("partner mapping should be unchanged, got %+v ok=%v", bRoom, ok)
	}
	if p, _ := svc.Participant("b"); p.RoomID != room.ID {
		t.Errorf("partner registry room should be unchanged, got %q", p.RoomID)
	}

	ev, _ := n.lastStatus("b")
	if ev.status != StatusPartnerDisconnected {
		t.Errorf("partner status = %q, want %q", ev.status, StatusPartnerDisconnected)
	}
	notices := n.noticesFor("b")
	if notices[len(notices)-1] != NoticePartnerLeft {
		t.Errorf("partner should be told the stranger left, got %q", notices)
	}
}

func TestLeave_NoRoomIsNoop(t *testing.T) {
	svc, n, _ := newTestService()
	svc.Connected("a")
	svc.Leave("a")

	if _, ok := svc.CurrentRoom("a"); ok {
		t.Error("idle participant should have no room")
	}
	if len(n.noticesFor("a")) != 0 {
		t.Error("no notices expected for an idle leave")
	}
}

func TestLeave_CancelsWaiting(t *testing.T) {
	svc, _, _ := newTestService()
	svc.Connected("a")
	svc.RequestMatch("a", anyProfile)
	svc.Leave("a")

	if svc.Waiting("a") {
		t.Error("leave should cancel the waiting entry")
	}
}

func TestCancel(t *testing.T) {
	svc, _, _ := newTestService()
	for _, id := range []string{"a", "b", "c"} {
		svc.Connected(id)
	}
	svc.RequestMatch("a", profile(session.GenderMale, session.GenderMale))
	svc.RequestMatch("b", profile(session.GenderFemale, session.GenderFemale))
	svc.RequestMatch("c", profile(session.GenderMale, session.GenderFemale))

	svc.Cancel("b")
	svc.Cancel("b")
	svc.Cancel("nobody")

	if svc.Waiting("b") {
		t.Error("b should have been cancelled")
	}
	if svc.QueueLen() != 2 {
		t.Errorf("expected 2 waiting, got %d", svc.QueueLen())
	}
}

func TestRequestMatchFromRoomLeavesFirst(t *testing.T) {
	svc, n, _ := newTestService()
	for _, id := range []string{"a", "b", "c"} {
		svc.Connected(id)
	}
	svc.RequestMatch("a", anyProfile)
	svc.RequestMatch("b", anyProfile)
	first, _ := svc.CurrentRoom("a")

	svc.RequestMatch("c", anyProfile)
	svc.RequestMatch("a", anyProfile)

	second, ok := svc.CurrentRoom("a")
	if !ok || second.ID == first.ID || second.Partner("a") != "c" {
		t.Fatalf("a should be in a new room with c, got %+v", second)
	}
	ev, _ := n.lastStatus("b")
	if ev.status != StatusPartnerDisconnected {
		t.Errorf("b should be told its partner left, got %q", ev.status)
	}
	if bRoom, ok := svc.CurrentRoom("b"); !ok || bRoom.ID != first.ID {
		t.Errorf("b should still map to the abandoned room")
	}
}

func TestDisconnectNotifiesPartnerAndUnregisters(t *testing.T) {
	svc, n, _ := newTestService()
	svc.Connected("a")
	svc.Connected("b")
	svc.RequestMatch("a", anyProfile)
	svc.RequestMatch("b", anyProfile)

	svc.Disconnected("a")

	if _, ok := svc.Participant("a"); ok {
		t.Error("a should be unregistered")
	}
	ev, _ := n.lastStatus("b")
	if ev.status != StatusPartnerDisconnected {
		t.Errorf("b status = %q, want partner_disconnected", ev.status)
	}
	if svc.Stats().OnlineCount != 1 {
		t.Errorf("online count = %d, want 1", svc.Stats().OnlineCount)
	}
}

func TestDisconnectWhileWaiting(t *testing.T) {
	svc, _, _ := newTestService()
	svc.Connected("a")
	svc.RequestMatch("a", anyProfile)
	svc.Disconnected("a")
	svc.Disconnected("a")

	if svc.QueueLen() != 0 {
		t.Errorf("queue should be empty, got %d", svc.QueueLen())
	}
}

// ---------------------------------------------------------------------------
// Relay
// ---------------------------------------------------------------------------

func TestSend_MismatchedRoomNeverRelayedOrStored(t *testing.T) {
	svc, n, st := newTestService()
	svc.Connected("a")
	svc.Connected("b")
	svc.RequestMatch("a", anyProfile)
	svc.RequestMatch("b", anyProfile)

	err := svc.Send("a", "stale-room", "hello?")
	if !errors.Is(err, chat.ErrRoomMismatch) {
		t.Fatalf("expected ErrRoomMismatch, got %v", err)
	}
	if len(n.deliveredTo("b")) != 0 {
		t.Error("mismatched message must not reach the partner")
	}
	if st.count() != 0 {
		t.Error("mismatched message must not be stored")
	}
	ev, _ := n.lastStatus("a")
	if ev.status != StatusPartnerDisconnected {
		t.Errorf("sender status = %q, want partner_disconnected", ev.status)
	}
	notices := n.noticesFor("a")
	if notices[len(notices)-1] != NoticeNotConnected {
		t.Errorf("sender should get the not-connected notice, got %q", notices)
	}
}

func TestSend_NoRoom(t *testing.T) {
	svc, n, st := newTestService()
	svc.Connected("a")

	if err := svc.Send("a", "", "hi"); !errors.Is(err, chat.ErrNoRoom) {
		t.Fatalf("expected ErrNoRoom, got %v", err)
	}
	if st.count() != 0 {
		t.Error("message without room must not be stored")
	}
	if len(n.noticesFor("a")) != 1 {
		t.Errorf("expected exactly one notice, got %q", n.noticesFor("a"))
	}
}

func TestSend_InvalidContentInOwnRoom(t *testing.T) {
	svc, n, st := newTestService()
	svc.Connected("a")
	svc.Connected("b")
	svc.RequestMatch("a", anyProfile)
	svc.RequestMatch("b", anyProfile)
	room, _ := svc.CurrentRoom("a")
	noticesBefore := len(n.noticesFor("a"))

	if err := svc.Send("a", room.ID, " \t "); !errors.Is(err, chat.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if len(n.deliveredTo("b")) != 0 || st.count() != 0 {
		t.Error("blank message must be neither relayed nor stored")
	}
	if len(n.noticesFor("a")) != noticesBefore {
		t.Error("content rejection must not send a room notice")
	}
	if ev, _ := n.lastStatus("a"); ev.status != StatusInChat {
		t.Errorf("sender should stay in_chat, got %q", ev.status)
	}
}

func TestSend_BlankToStaleRoomReportsRoomError(t *testing.T) {
	svc, n, _ := newTestService()
	svc.Connected("a")

	if err := svc.Send("a", "gone", ""); !errors.Is(err, chat.ErrNoRoom) {
		t.Fatalf("expected ErrNoRoom, got %v", err)
	}
	if ev, _ := n.lastStatus("a"); ev.status != StatusPartnerDisconnected {
		t.Errorf("sender status = %q, want partner_disconnected", ev.status)
	}
}

func TestSend_AfterPartnerLeftIsNotForwarded(t *testing.T) {
	svc, n, st := newTestService()
	for _, id := range []string{"a", "b", "c"} {
		svc.Connected(id)
	}
	svc.RequestMatch("a", anyProfile)
	svc.RequestMatch("b", anyProfile)
	room, _ := svc.CurrentRoom("b")

	// a moves on to c; b still maps to the abandoned room.
	svc.RequestMatch("a", anyProfile)
	svc.RequestMatch("c", anyProfile)

	if err := svc.Send("b", room.ID, "anyone?"); err != nil {
		t.Fatalf("abandoned room is still b's current room: %v", err)
	}
	st.waitAppend(t)
	if len(n.deliveredTo("a")) != 0 {
		t.Error("message to an abandoned room must not reach a's new chat")
	}
}

func TestSend_PersistenceFailureDoesNotBlockDelivery(t *testing.T) {
	n := newFakeNotifier()
	st := newFakeStore()
	st.err = fmt.Errorf("db down")
	svc := NewService(n, st, nil)
	svc.Connected("a")
	svc.Connected("b")
	svc.RequestMatch("a", anyProfile)
	svc.RequestMatch("b", anyProfile)
	room, _ := svc.CurrentRoom("a")

	if err := svc.Send("a", room.ID, "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st.waitAppend(t)
	if got := n.deliveredTo("b"); len(got) != 1 || got[0].content != "hi" {
		t.Errorf("delivery should not depend on persistence, got %+v", got)
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func TestStatsPushedOnEveryEvent(t *testing.T) {
	svc, _, st := newTestService()
	var mu sync.Mutex
	var pushed []stats.Stats
	unsubscribe := svc.Subscribe(StatsObserverFunc(func(s stats.Stats) {
		mu.Lock()
		pushed = append(pushed, s)
		mu.Unlock()
	}))

	svc.Connected("a")
	svc.Connected("b")
	svc.RequestMatch("a", profile(session.GenderAny, session.GenderAny, "music"))
	svc.RequestMatch("b", anyProfile)
	room, _ := svc.CurrentRoom("a")
	_ = svc.Send("a", room.ID, "hi")
	st.waitAppend(t)
	svc.Leave("b")
	svc.Disconnected("a")

	unsubscribe()
	svc.Connected("c")

	mu.Lock()
	defer mu.Unlock()
	if len(pushed) != 7 {
		t.Fatalf("expected 7 stats pushes, got %d", len(pushed))
	}
	if pushed[2].TagHistogram["music"] != 1 {
		t.Errorf("expected music tag counted after request, got %v", pushed[2].TagHistogram)
	}
	if last := pushed[len(pushed)-1]; last.OnlineCount != 1 {
		t.Errorf("expected 1 online after a disconnected, got %d", last.OnlineCount)
	}
}

func TestStatsIncludesCounters(t *testing.T) {
	svc := NewService(newFakeNotifier(), nil, fixedCounters{messages: 42, views: 7})
	svc.Connected("a")

	s := svc.Stats()
	if s.TotalMessages != 42 || s.TotalViews != 7 {
		t.Errorf("unexpected totals: %+v", s)
	}
}

func TestStatsCountsPairedAndWaiting(t *testing.T) {
	svc, _, _ := newTestService()
	for _, id := range []string{"a", "b", "c"} {
		svc.Connected(id)
	}
	svc.RequestMatch("a", profile(session.GenderAny, session.GenderAny, "music"))
	svc.RequestMatch("b", profile(session.GenderAny, session.GenderAny, "music"))
	svc.RequestMatch("c", profile(session.GenderAny, session.GenderAny, "art"))

	s := svc.Stats()
	if s.OnlineCount != 3 {
		t.Errorf("online = %d, want 3", s.OnlineCount)
	}
	if s.TagHistogram["music"] != 2 || s.TagHistogram["art"] != 1 {
		t.Errorf("histogram = %v", s.TagHistogram)
	}
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

func TestEndToEndScenario(t *testing.T) {
	svc, n, st := newTestService()
	svc.Connected("A")
	svc.Connected("B")

	svc.RequestMatch("A", profile(session.GenderMale, session.GenderAny))
	if ev, _ := n.lastStatus("A"); ev.status != StatusWaiting {
		t.Fatalf("A should be waiting, got %q", ev.status)
	}

	svc.RequestMatch("B", profile(session.GenderFemale, session.GenderMale))

	aEv, _ := n.lastStatus("A")
	bEv, _ := n.lastStatus("B")
	if aEv.status != StatusInChat || bEv.status != StatusInChat {
		t.Fatalf("both should be in_chat, got A=%q B=%q", aEv.status, bEv.status)
	}
	if aEv.roomID == "" || aEv.roomID != bEv.roomID {
		t.Fatalf("expected shared room id, got A=%q B=%q", aEv.roomID, bEv.roomID)
	}

	if err := svc.Send("A", aEv.roomID, "hi"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	got := n.deliveredTo("B")
	if len(got) != 1 || got[0].content != "hi" || got[0].from != chat.SenderStranger {
		t.Errorf("B received %+v, want hi from stranger", got)
	}
	n.mu.Lock()
	acks := append([]string(nil), n.acks["A"]...)
	n.mu.Unlock()
	if len(acks) != 1 || acks[0] != "hi" {
		t.Errorf("A acks = %q, want [hi]", acks)
	}

	st.waitAppend(t)
	st.mu.Lock()
	row := st.rows[0]
	st.mu.Unlock()
	if row.roomID != aEv.roomID || row.senderID != "A" || row.content != "hi" {
		t.Errorf("stored %+v", row)
	}
}

func TestTaggedSeekerSkipsUntaggedCandidate(t *testing.T) {
	svc, _, _ := newTestService()
	svc.Connected("A")
	svc.Connected("B")
	svc.RequestMatch("A", profile(session.GenderMale, session.GenderAny))
	svc.RequestMatch("B", profile(session.GenderFemale, session.GenderMale, "music"))

	if _, ok := svc.CurrentRoom("B"); ok {
		t.Fatal("seeker with interests must not pair with a candidate that has none")
	}
	if svc.QueueLen() != 2 {
		t.Errorf("both should be waiting, got %d", svc.QueueLen())
	}
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestConcurrentRequestsKeepInvariants(t *testing.T) {
	svc, _, _ := newTestService()
	const users = 200

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		id := fmt.Sprintf("u%d", i)
		svc.Connected(id)
		wg.Add(1)
		go func(id string, i int) {
			defer wg.Done()
			tags := []string{"music"}
			if i%2 == 0 {
				tags = nil
			}
			svc.RequestMatch(id, profile(session.GenderAny, session.GenderAny, tags...))
			svc.RequestMatch(id, profile(session.GenderAny, session.GenderAny, tags...))
		}(id, i)
	}
	wg.Wait()

	svc.mu.Lock()
	defer svc.mu.Unlock()

	seen := make(map[string]bool)
	for _, id := range svc.queue.IDs() {
		if seen[id] {
			t.Fatalf("%s queued twice", id)
		}
		seen[id] = true
		if _, inRoom := svc.rooms.CurrentRoom(id); inRoom {
			t.Errorf("%s is both waiting and in a room", id)
		}
	}
	for _, p := range svc.registry.Snapshot() {
		room, ok := svc.rooms.CurrentRoom(p.ID)
		if ok != (p.RoomID != "") || (ok && room.ID != p.RoomID) {
			t.Errorf("%s registry room %q disagrees with room manager %+v", p.ID, p.RoomID, room)
		}
	}
}

// stallingNotifier blocks every StatusChanged for one id until released.
type stallingNotifier struct {
	*fakeNotifier
	id      string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (n *stallingNotifier) StatusChanged(id string, status Status, roomID string) {
	if id == n.id {
		n.once.Do(func() { close(n.entered) })
		<-n.release
	}
	n.fakeNotifier.StatusChanged(id, status, roomID)
}

func TestSlowNotificationDoesNotBlockMutations(t *testing.T) {
	n := &stallingNotifier{
		fakeNotifier: newFakeNotifier(),
		id:           "slow",
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	svc := NewService(n, nil, nil)
	svc.Connected("slow")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.RequestMatch("slow", anyProfile)
	}()
	<-n.entered

	done := make(chan int, 1)
	go func() {
		svc.Connected("b")
		svc.RequestMatch("b", anyProfile)
		svc.Connected("c")
		svc.RequestMatch("c", anyProfile)
		done <- svc.QueueLen()
	}()

	select {
	case qlen := <-done:
		if qlen != 1 {
			t.Errorf("queue length = %d, want 1 (c waiting)", qlen)
		}
	case <-time.After(time.Second):
		close(n.release)
		t.Fatal("mutations stalled behind a blocked notification")
	}
	if room, ok := svc.CurrentRoom("b"); !ok || room.Partner("b") != "slow" {
		t.Errorf("b should be paired with slow, got %+v ok=%v", room, ok)
	}

	close(n.release)
	wg.Wait()

	// Delivery order still follows mutation order.
	want := []statusEvent{{StatusWaiting, ""}}
	room, _ := svc.CurrentRoom("slow")
	want = append(want, statusEvent{StatusInChat, room.ID})
	n.mu.Lock()
	got := append([]statusEvent(nil), n.statuses["slow"]...)
	cStatus := append([]statusEvent(nil), n.statuses["c"]...)
	n.mu.Unlock()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("slow statuses = %+v, want %+v", got, want)
	}
	if len(cStatus) != 1 || cStatus[0].status != StatusWaiting {
		t.Errorf("c statuses = %+v, want one waiting", cStatus)
	}
}
