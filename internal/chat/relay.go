package chat

import (
	"errors"
	"time"
)

var (
	// ErrNoRoom means the sender is not in any room.
	ErrNoRoom = errors.New("chat: sender has no active room")

	// ErrRoomMismatch means the sender referenced a room it is not in, usually
	// a stale client-side id after the partner left and a new pairing happened.
	ErrRoomMismatch = errors.New("chat: room id does not match sender's room")
)

// Delivery is a message accepted for relay.
type Delivery struct {
	RoomID  string
	From    string
	To      string
	Content string
	SentAt  time.Time
}

// Authorize checks that from currently belongs to claimedRoomID, then that
// content is relayable, and returns the delivery to perform. Room errors take
// precedence over content errors. Any error means the message must be
// neither forwarded nor persisted.
func (rs *Rooms) Authorize(from, claimedRoomID, content string) (Delivery, error) {
	room, ok := rs.CurrentRoom(from)
	if !ok {
		return Delivery{}, ErrNoRoom
	}
	if room.ID != claimedRoomID {
		return Delivery{}, ErrRoomMismatch
	}
	if err := ValidateMessage(content); err != nil {
		return Delivery{}, err
	}
	return Delivery{
		RoomID:  room.ID,
		From:    from,
		To:      room.Partner(from),
		Content: content,
		SentAt:  time.Now(),
	}, nil
}
