// Package chat owns paired rooms and the rules for relaying a message inside
// one. A room is created for exactly two participants and never resized.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// SenderStranger is the only identity a recipient ever sees for its partner.
const SenderStranger = "stranger"

// Room is a two-party chat session.
type Room struct {
	ID        string
	Members   [2]string
	CreatedAt time.Time
}

// Partner returns the member of r that is not id, or "" if id is not a member.
func (r Room) Partner(id string) string {
	switch id {
	case r.Members[0]:
		return r.Members[1]
	case r.Members[1]:
		return r.Members[0]
	}
	return ""
}

// Rooms tracks every room and which room each participant currently maps to.
//
// A room has no closed state. When one member leaves only that member's
// mapping is cleared; the partner keeps pointing at the abandoned room until
// it leaves too. The room record is dropped once nobody maps to it.
//
// Rooms is not goroutine-safe; the pairing service serializes access.
type Rooms struct {
	rooms  map[string]Room
	member map[string]string // participant id -> room id
	newID  func() string
}

// NewRooms creates an empty room manager that allocates UUID room ids.
func NewRooms() *Rooms {
	return &Rooms{
		rooms:  make(map[string]Room),
		member: make(map[string]string),
		newID:  func() string { return uuid.New().String() },
	}
}

// Pair creates a fresh room for a and b and maps both to it.
func (rs *Rooms) Pair(a, b string) Room {
	room := Room{
		ID:        rs.newID(),
		Members:   [2]string{a, b},
		CreatedAt: time.Now(),
	}
	rs.rooms[room.ID] = room
	rs.member[a] = room.ID
	rs.member[b] = room.ID
	return room
}

// CurrentRoom returns the room id currently maps to.
func (rs *Rooms) CurrentRoom(id string) (Room, bool) {
	roomID, ok := rs.member[id]
	if !ok {
		return Room{}, false
	}
	room, ok := rs.rooms[roomID]
	return room, ok
}

// Leave clears id's room mapping and returns the room it left. The partner's
// mapping is left untouched. ok is false when id had no room.
func (rs *Rooms) Leave(id string) (room Room, ok bool) {
	room, ok = rs.CurrentRoom(id)
	if !ok {
		return Room{}, false
	}
	delete(rs.member, id)

	if rs.member[room.Partner(id)] != room.ID {
		delete(rs.rooms, room.ID)
	}
	return room, true
}

// ActiveCount returns the number of rooms whose two members are both still
// mapped to them.
func (rs *Rooms) ActiveCount() int {
	n := 0
	for _, room := range rs.rooms {
		if rs.member[room.Members[0]] == room.ID && rs.member[room.Members[1]] == room.ID {
			n++
		}
	}
	return n
}

// Len returns the number of room records, abandoned ones included.
func (rs *Rooms) Len() int {
	return len(rs.rooms)
}
