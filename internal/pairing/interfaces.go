package pairing

import (
	"context"
	"time"

	"github.com/whisper/stranger-chat/internal/stats"
)

// Status is the participant-visible pairing state.
type Status string

const (
	StatusIdle                Status = "idle"
	StatusWaiting             Status = "waiting"
	StatusInChat              Status = "in_chat"
	StatusPartnerDisconnected Status = "partner_disconnected"
)

// System notice texts.
const (
	NoticePaired       = "You are now connected with a stranger!"
	NoticeSharedPrefix = " You both like: "
	NoticePartnerLeft  = "Stranger has disconnected."
	NoticeNotConnected = "Error: You are not connected to a partner. Please find a new partner."
)

// Notifier delivers core-originated notifications to participants. The
// notification methods are never called while the service holds its mutation
// lock; Alive is, so it must not block.
type Notifier interface {
	StatusChanged(id string, status Status, roomID string)
	SystemNotice(id string, text string)
	MessageDelivered(toID, fromTag, content string, ts time.Time)
	MessageSent(toID, content string, ts time.Time)

	// Alive reports whether id's underlying connection is still open.
	Alive(id string) bool
}

// MessageStore persists relayed messages. Append is called on its own
// goroutine; failures are the store's to log.
type MessageStore interface {
	Append(ctx context.Context, roomID, senderID, content string, ts time.Time) error
}

// Counters supplies the persisted totals shown next to live stats. It must
// not block.
type Counters interface {
	Totals() (messages, views int64)
}

// StatsObserver receives a fresh Stats after every state-changing event.
type StatsObserver interface {
	StatsChanged(s stats.Stats)
}

// StatsObserverFunc adapts a function to StatsObserver.
type StatsObserverFunc func(s stats.Stats)

// StatsChanged calls f(s).
func (f StatsObserverFunc) StatsChanged(s stats.Stats) { f(s) }
