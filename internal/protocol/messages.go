// Package protocol defines the WebSocket frames exchanged between a stranger
// chat client and the server. Every frame is a JSON object carrying a "type"
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeFindPartner = "find_partner"
	TypeLeaveChat   = "leave_chat"
	TypeSendMessage = "send_message"
	TypeAdminJoin   = "admin_join"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated = "session_created"
	TypeStatus         = "status"
	TypeSystem         = "system"
	TypeMessage        = "message"
	TypeMessageSent    = "message_sent"
	TypeUserCount      = "user_count"
	TypeAdminStats     = "admin_stats"
	TypeRateLimited    = "rate_limited"
	TypeError          = "error"
	TypePong           = "pong"
)

// Error codes carried by ErrorMsg.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeInvalidInput = "invalid_message"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotInRoom    = "not_in_room"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full payload and extracts only the "type" field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// FindPartnerMsg asks to be paired. Every field is optional; missing genders
// mean "any" and the profile replaces whatever the client sent before.
type FindPartnerMsg struct {
	Type       string   `json:"type"`
	Gender     string   `json:"gender"`
	Preference string   `json:"preference"`
	Interests  []string `json:"interests"`
}

// LeaveChatMsg leaves the current room and the waiting queue.
type LeaveChatMsg struct {
	Type string `json:"type"`
}

// SendMessageMsg is a chat line for the room the client believes it is in.
type SendMessageMsg struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id"`
	Content string `json:"content"`
}

// AdminJoinMsg subscribes the connection to admin stats pushes.
type AdminJoinMsg struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg carries the participant id assigned to the connection.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// StatusMsg reports a pairing state transition. RoomID is set for in_chat.
type StatusMsg struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	RoomID string `json:"room_id,omitempty"`
}

// SystemMsg is a human-readable notice shown in the chat window.
type SystemMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ChatMessageMsg is a line relayed from the partner. Sender is always
// "stranger".
type ChatMessageMsg struct {
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// MessageSentMsg acknowledges a relayed line back to its sender.
type MessageSentMsg struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// UserCountMsg carries the number of open connections.
type UserCountMsg struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// TagEntry is one row of the admin tag leaderboard.
type TagEntry struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// AdminStatsMsg is pushed to admin connections on every stats change.
type AdminStatsMsg struct {
	Type          string     `json:"type"`
	OnlineUsers   int        `json:"onlineUsers"`
	TotalMessages int64      `json:"totalMessages"`
	TotalViews    int64      `json:"totalViews"`
	ActiveTags    []TagEntry `json:"activeTags"`
}

// RateLimitedMsg tells the client to back off for RetryAfter seconds.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	Action     string `json:"action"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type, the decoded struct and any parse error.
// Unknown and server-only types are rejected.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeFindPartner:
		var m FindPartnerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChat:
		var m LeaveChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAdminJoin:
		var m AdminJoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage marshals payload and forces its "type" field to msgType.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// MustServerMessage is NewServerMessage for payloads that always marshal,
// i.e. the structs in this package.
func MustServerMessage(msgType string, payload interface{}) []byte {
	out, err := NewServerMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return out
}
