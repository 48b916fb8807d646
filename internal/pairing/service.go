// Package pairing is the single mutation path for everything that pairs
// strangers: the session registry, the waiting queue and the room mappings
// change together under one lock, so a half-applied pairing or leave is never
// visible to a concurrent event.
package pairing

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/whisper/stranger-chat/internal/chat"
	"github.com/whisper/stranger-chat/internal/matching"
	"github.com/whisper/stranger-chat/internal/metrics"
	"github.com/whisper/stranger-chat/internal/session"
	"github.com/whisper/stranger-chat/internal/stats"
)

const persistTimeout = 5 * time.Second

// Service owns the registry, waiting queue and rooms. It is constructed once
// at startup and handed to the transport layer.
//
// Each operation mutates state under mu and records the notifications it
// produced in an outbox. Outboxes are queued in mutation order before mu is
// released and delivered by a single drainer outside mu, so a slow client
// write delays delivery but never blocks the next mutation.
type Service struct {
	mu           sync.Mutex
	registry     *session.Registry
	queue        *matching.Queue
	rooms        *chat.Rooms
	waitingSince map[string]time.Time

	outMu    sync.Mutex
	pending  []*outbox
	draining bool

	notifier Notifier
	store    MessageStore
	counters Counters

	obsMu     sync.RWMutex
	observers map[int]StatsObserver
	nextObs   int
}

// NewService creates the pairing service. store and counters may be nil.
func NewService(notifier Notifier, store MessageStore, counters Counters) *Service {
	return &Service{
		registry:     session.NewRegistry(),
		queue:        matching.NewQueue(),
		rooms:        chat.NewRooms(),
		waitingSince: make(map[string]time.Time),
		notifier:     notifier,
		store:        store,
		counters:     counters,
		observers:    make(map[int]StatsObserver),
	}
}

// Subscribe attaches a stats observer and returns a function that detaches it.
func (s *Service) Subscribe(obs StatsObserver) (unsubscribe func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = obs
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// outbox collects deferred notifications for one operation.
type outbox struct {
	calls []func(Notifier)
	stats *stats.Stats
}

func (o *outbox) add(fn func(Notifier)) {
	o.calls = append(o.calls, fn)
}

func (o *outbox) status(id string, st Status, roomID string) {
	o.add(func(n Notifier) { n.StatusChanged(id, st, roomID) })
}

func (o *outbox) notice(id, text string) {
	o.add(func(n Notifier) { n.SystemNotice(id, text) })
}

// commit finishes an operation: it snapshots stats, refreshes gauges, queues
// the outbox and releases the mutation lock, then delivers. Callers must hold
// s.mu and must not touch state afterwards.
func (s *Service) commit(out *outbox) {
	st := stats.Compute(s.registry.Snapshot())
	out.stats = &st

	metrics.OnlineParticipants.Set(float64(s.registry.Len()))
	metrics.MatchQueueSize.Set(float64(s.queue.Len()))
	metrics.ActiveChats.Set(float64(s.rooms.ActiveCount()))

	s.outMu.Lock()
	s.pending = append(s.pending, out)
	s.outMu.Unlock()
	s.mu.Unlock()

	s.drain()
}

// drain delivers queued outboxes in order. If another goroutine is already
// draining it returns at once and that goroutine delivers this outbox too.
// outMu is never held across a notifier call.
func (s *Service) drain() {
	s.outMu.Lock()
	if s.draining {
		s.outMu.Unlock()
		return
	}
	s.draining = true

	for len(s.pending) > 0 {
		batch := s.pending
		s.pending = nil
		s.outMu.Unlock()

		for _, out := range batch {
			s.deliver(out)
		}

		s.outMu.Lock()
	}
	s.draining = false
	s.outMu.Unlock()
}

func (s *Service) deliver(out *outbox) {
	if s.notifier != nil {
		for _, call := range out.calls {
			call(s.notifier)
		}
	}
	if out.stats != nil {
		s.pushStats(*out.stats)
	}
}

func (s *Service) pushStats(st stats.Stats) {
	st = s.withTotals(st)

	s.obsMu.RLock()
	observers := make([]StatsObserver, 0, len(s.observers))
	for _, obs := range s.observers {
		observers = append(observers, obs)
	}
	s.obsMu.RUnlock()

	for _, obs := range observers {
		obs.StatsChanged(st)
	}
}

func (s *Service) withTotals(st stats.Stats) stats.Stats {
	if s.counters != nil {
		st.TotalMessages, st.TotalViews = s.counters.Totals()
	}
	return st
}

// Stats returns the current aggregate. It is the pull accessor for
// collaborators that poll instead of subscribing.
func (s *Service) Stats() stats.Stats {
	s.mu.Lock()
	st := stats.Compute(s.registry.Snapshot())
	s.mu.Unlock()
	return s.withTotals(st)
}

// Connected registers a new participant with the default profile.
func (s *Service) Connected(id string) {
	s.mu.Lock()
	s.registry.Register(id, session.DefaultProfile())
	log.Printf("[pairing] connected %s (online=%d)", id, s.registry.Len())
	s.commit(&outbox{})
}

// Disconnected drops every trace of id: queue entry, room mapping (the
// partner is told) and registry entry.
func (s *Service) Disconnected(id string) {
	s.mu.Lock()
	var out outbox
	s.cancelLocked(id)
	s.leaveLocked(id, &out)
	s.registry.Unregister(id)
	log.Printf("[pairing] disconnected %s (online=%d)", id, s.registry.Len())
	s.commit(&out)
}

// RequestMatch overwrites id's profile and tries to pair it with the
// earliest compatible waiting participant. A participant still mapped to a
// room leaves it first; one already waiting is re-queued at the tail with the
// new profile. If nobody fits, id waits.
func (s *Service) RequestMatch(id string, profile session.Profile) {
	s.mu.Lock()
	var out outbox

	s.registry.Register(id, profile)
	s.leaveLocked(id, &out)
	s.cancelLocked(id)

	seeker, _ := s.registry.Get(id)
	if partner, ok := s.findLiveLocked(seeker); ok {
		s.pairLocked(seeker, partner, &out)
	} else {
		s.queue.Enqueue(id)
		s.waitingSince[id] = time.Now()
		out.status(id, StatusWaiting, "")
		log.Printf("[pairing] %s waiting (queue=%d interests=%v)", id, s.queue.Len(), seeker.Interests)
	}

	s.commit(&out)
}

// findLiveLocked runs the first-fit matcher, discarding candidates whose
// connection has already gone away. Every rejected candidate is removed from
// the queue, so the loop runs at most once per entry present on entry.
func (s *Service) findLiveLocked(seeker session.Participant) (session.Participant, bool) {
	for attempts := s.queue.Len(); attempts > 0; attempts-- {
		candidate, ok := matching.FindMatch(s.queue, s.registry.Get, seeker)
		if !ok {
			return session.Participant{}, false
		}
		since, queued := s.waitingSince[candidate.ID]
		s.cancelLocked(candidate.ID)

		if s.notifier == nil || s.notifier.Alive(candidate.ID) {
			if queued {
				metrics.MatchDuration.Observe(time.Since(since).Seconds())
			}
			return candidate, true
		}
		metrics.StaleCandidatesTotal.Inc()
		log.Printf("[pairing] discarded stale queue entry %s", candidate.ID)
	}
	return session.Participant{}, false
}

func (s *Service) pairLocked(a, b session.Participant, out *outbox) {
	room := s.rooms.Pair(a.ID, b.ID)
	s.registry.SetRoom(a.ID, room.ID)
	s.registry.SetRoom(b.ID, room.ID)

	notice := NoticePaired
	if shared := matching.SharedInterests(a, b); len(shared) > 0 {
		notice += NoticeSharedPrefix + strings.Join(shared, ", ")
	}
	for _, id := range room.Members {
		out.status(id, StatusInChat, room.ID)
	}
	for _, id := range room.Members {
		out.notice(id, notice)
	}

	metrics.PairingsTotal.Inc()
	log.Printf("[pairing] paired room=%s a=%s b=%s", room.ID, a.ID, b.ID)
}

// Leave takes id out of the waiting queue and out of its room. The partner,
// if still in that room, is told the stranger left.
func (s *Service) Leave(id string) {
	s.mu.Lock()
	var out outbox
	s.cancelLocked(id)
	s.leaveLocked(id, &out)
	if s.registry.Contains(id) {
		out.status(id, StatusIdle, "")
	}
	s.commit(&out)
}

// Cancel removes id from the waiting queue. It is a no-op if id is not waiting.
func (s *Service) Cancel(id string) {
	s.mu.Lock()
	s.cancelLocked(id)
	s.commit(&outbox{})
}

func (s *Service) cancelLocked(id string) {
	s.queue.Remove(id)
	delete(s.waitingSince, id)
}

// leaveLocked clears id's room mapping only. The partner keeps its mapping
// to the abandoned room until it requests a new match or disconnects.
func (s *Service) leaveLocked(id string, out *outbox) {
	room, ok := s.rooms.Leave(id)
	if !ok {
		return
	}
	s.registry.ClearRoom(id)

	partner := room.Partner(id)
	if current, ok := s.rooms.CurrentRoom(partner); ok && current.ID == room.ID && s.registry.Contains(partner) {
		out.status(partner, StatusPartnerDisconnected, "")
		out.notice(partner, NoticePartnerLeft)
	}
	log.Printf("[pairing] %s left room=%s", id, room.ID)
}

// Send relays content from id to its partner if id is currently in the room
// it claims. On a missing or mismatched room the sender alone gets a notice
// and is forced back to partner_disconnected; nothing is forwarded or stored.
// Content that fails chat.ValidateMessage in the right room is returned as
// that error with no notification.
func (s *Service) Send(id, roomID, content string) error {
	s.mu.Lock()
	var out outbox

	d, err := s.rooms.Authorize(id, roomID, content)
	if err != nil && !errors.Is(err, chat.ErrNoRoom) && !errors.Is(err, chat.ErrRoomMismatch) {
		// Bad content from a participant who is in the claimed room.
		s.mu.Unlock()
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return err
	}
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		out.notice(id, NoticeNotConnected)
		out.status(id, StatusPartnerDisconnected, "")
		log.Printf("[pairing] message from %s rejected for room=%q: %v", id, roomID, err)
		s.commit(&out)
		return err
	}

	if current, ok := s.rooms.CurrentRoom(d.To); ok && current.ID == d.RoomID {
		out.add(func(n Notifier) { n.MessageDelivered(d.To, chat.SenderStranger, d.Content, d.SentAt) })
	}
	out.add(func(n Notifier) { n.MessageSent(d.From, d.Content, d.SentAt) })
	metrics.MessagesTotal.WithLabelValues("relayed").Inc()

	s.persist(d)
	s.commit(&out)
	return nil
}

// persist hands the delivery to the message store on its own goroutine.
func (s *Service) persist(d chat.Delivery) {
	if s.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.store.Append(ctx, d.RoomID, d.From, d.Content, d.SentAt); err != nil {
			metrics.MessagesTotal.WithLabelValues("persist_failed").Inc()
		}
	}()
}

// CurrentRoom returns the room id maps to, if any.
func (s *Service) CurrentRoom(id string) (chat.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms.CurrentRoom(id)
}

// Participant returns a copy of id's registry record.
func (s *Service) Participant(id string) (session.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Get(id)
}

// QueueLen returns the number of waiting participants.
func (s *Service) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Waiting reports whether id is in the waiting queue.
func (s *Service) Waiting(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Contains(id)
}
