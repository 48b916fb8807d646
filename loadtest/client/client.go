// Package client provides a WebSocket load test client for the stranger chat
// server. It connects with gobwas/ws, records the participant id from
// session_created and tracks per-connection performance metrics.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client -> Server message types.
const (
	TypeFindPartner = "find_partner"
	TypeLeaveChat   = "leave_chat"
	TypeSendMessage = "send_message"
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
	TypeRateLimited    = "rate_limited"
	TypeError          = "error"
	TypePong           = "pong"
)

// Pairing states carried by status frames.
const (
	StatusIdle                = "idle"
	StatusWaiting             = "waiting"
	StatusInChat              = "in_chat"
	StatusPartnerDisconnected = "partner_disconnected"
)

// Status is a decoded status frame.
type Status struct {
	Status string `json:"status"`
	RoomID string `json:"room_id"`
}

// Message is a decoded chat line from the partner.
type Message struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	RateLimited      int
	Errors           int
}

// Client is a single simulated participant.
type Client struct {
	conn      net.Conn
	writeMu   sync.Mutex
	mu        sync.Mutex
	sessionID string
	roomID    string
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	session   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New dials url and starts the read loop.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if br != nil {
		// The server may write session_created in the same segment as the
		// handshake response.
		conn = &bufferedConn{Conn: conn, r: br}
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		session:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()
	return c, nil
}

// Send writes msg as a JSON text frame. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		return err
	}
	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()
	return nil
}

// FindPartner asks to be paired. An empty gender or preference means any.
func (c *Client) FindPartner(gender, preference string, interests []string) error {
	return c.Send(map[string]interface{}{
		"type":       TypeFindPartner,
		"gender":     gender,
		"preference": preference,
		"interests":  interests,
	})
}

// SendChat sends content to the current room.
func (c *Client) SendChat(content string) error {
	return c.Send(map[string]string{
		"type":    TypeSendMessage,
		"room_id": c.RoomID(),
		"content": content,
	})
}

// Leave leaves the current room or the queue.
func (c *Client) Leave() error {
	return c.Send(map[string]string{"type": TypeLeaveChat})
}

// On registers a handler for a server message type, replacing any previous
// one. Handlers run on the read loop and must not block.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// WaitForSession blocks until session_created arrives.
func (c *Client) WaitForSession(ctx context.Context) error {
	select {
	case <-c.session:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed before session was created")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the connection. It is safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// SessionID returns the id assigned by the server.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// RoomID returns the room from the last in_chat status.
func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
			}
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		switch envelope.Type {
		case TypeSessionCreated:
			var msg struct {
				SessionID string `json:"session_id"`
			}
			if err := json.Unmarshal(data, &msg); err == nil && c.sessionID == "" {
				c.sessionID = msg.SessionID
				close(c.session)
			}
		case TypeStatus:
			var st Status
			if err := json.Unmarshal(data, &st); err == nil && st.Status == StatusInChat {
				c.roomID = st.RoomID
			}
		case TypeRateLimited:
			c.metrics.RateLimited++
		}
		handler := c.handlers[envelope.Type]
		c.mu.Unlock()

		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}
