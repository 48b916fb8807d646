// Package gateway binds WebSocket frames to the pairing service: it decodes
// client intents, applies rate limits and content checks, keeps the admin
// observer set and broadcasts the online count.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/whisper/stranger-chat/internal/chat"
	"github.com/whisper/stranger-chat/internal/metrics"
	"github.com/whisper/stranger-chat/internal/pairing"
	"github.com/whisper/stranger-chat/internal/protocol"
	"github.com/whisper/stranger-chat/internal/ratelimit"
	"github.com/whisper/stranger-chat/internal/session"
	"github.com/whisper/stranger-chat/internal/stats"
	"github.com/whisper/stranger-chat/internal/ws"
)

const (
	limitTimeout = 500 * time.Millisecond
	viewTimeout  = 3 * time.Second
)

// ViewRecorder counts site views.
type ViewRecorder interface {
	RecordView(ctx context.Context) (int64, error)
}

// Config holds gateway settings.
type Config struct {
	AdminToken string // empty disables admin_join
}

// Gateway handles every client frame other than ping.
type Gateway struct {
	svc     *pairing.Service
	sender  Sender
	limiter *ratelimit.Limiter
	views   ViewRecorder
	config  Config

	mu     sync.RWMutex
	admins map[string]bool
}

// New creates a Gateway. limiter and views may be nil.
func New(svc *pairing.Service, sender Sender, limiter *ratelimit.Limiter, views ViewRecorder, config Config) *Gateway {
	return &Gateway{
		svc:     svc,
		sender:  sender,
		limiter: limiter,
		views:   views,
		config:  config,
		admins:  make(map[string]bool),
	}
}

// Register installs the gateway's handlers on d.
func (g *Gateway) Register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeFindPartner, g.handleFindPartner)
	d.Register(protocol.TypeLeaveChat, g.handleLeaveChat)
	d.Register(protocol.TypeSendMessage, g.handleSendMessage)
	d.Register(protocol.TypeAdminJoin, g.handleAdminJoin)
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

// Admit throttles new connections per client IP.
func (g *Gateway) Admit(remoteIP string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), limitTimeout)
	defer cancel()
	d, _ := g.limiter.Allow(ctx, remoteIP, ratelimit.RuleConnect)
	if !d.Allowed {
		metrics.RateLimitedTotal.WithLabelValues(ratelimit.RuleConnect.Name).Inc()
		log.Printf("[gateway] connection from %s rate limited", remoteIP)
	}
	return d.Allowed
}

// OnConnect registers the participant, counts the view and tells everyone
// the new online count.
func (g *Gateway) OnConnect(c *ws.Connection) {
	g.svc.Connected(c.ID)
	g.recordView()
	g.broadcastUserCount()
}

// OnDisconnect drops the participant and any admin subscription.
func (g *Gateway) OnDisconnect(connID string) {
	g.mu.Lock()
	delete(g.admins, connID)
	g.mu.Unlock()

	g.svc.Disconnected(connID)
	g.broadcastUserCount()
}

func (g *Gateway) recordView() {
	if g.views == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), viewTimeout)
		defer cancel()
		if _, err := g.views.RecordView(ctx); err != nil {
			log.Printf("[gateway] record view: %v", err)
		}
	}()
}

func (g *Gateway) broadcastUserCount() {
	g.sender.Broadcast(protocol.MustServerMessage(protocol.TypeUserCount, protocol.UserCountMsg{
		Count: g.sender.Count(),
	}))
}

// ---------------------------------------------------------------------------
// Client intents
// ---------------------------------------------------------------------------

func (g *Gateway) handleFindPartner(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.FindPartnerMsg)
	if !ok {
		return
	}
	if !g.allow(conn.ID, ratelimit.RuleMatch) {
		return
	}

	g.svc.RequestMatch(conn.ID, session.Profile{
		Gender:     session.ParseGender(m.Gender),
		Preference: session.ParseGender(m.Preference),
		Interests:  m.Interests,
	})
}

func (g *Gateway) handleLeaveChat(conn *ws.Connection, _ interface{}) {
	g.svc.Leave(conn.ID)
}

func (g *Gateway) handleSendMessage(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.SendMessageMsg)
	if !ok {
		return
	}
	if !g.allow(conn.ID, ratelimit.RuleMessage) {
		return
	}

	// The room check runs first, so bad content aimed at a stale room still
	// gets the not-connected notice rather than invalid_message.
	err := g.svc.Send(conn.ID, m.RoomID, m.Content)
	switch {
	case err == nil, errors.Is(err, chat.ErrNoRoom), errors.Is(err, chat.ErrRoomMismatch):
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrInvalidUTF8), errors.Is(err, chat.ErrMessageTooLong):
		g.sendError(conn.ID, protocol.ErrCodeInvalidInput, err.Error())
	default:
		log.Printf("[gateway] send from %s: %v", conn.ID, err)
	}
}

func (g *Gateway) handleAdminJoin(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.AdminJoinMsg)
	if !ok {
		return
	}
	if g.config.AdminToken == "" ||
		subtle.ConstantTimeCompare([]byte(m.Token), []byte(g.config.AdminToken)) != 1 {
		log.Printf("[gateway] admin_join refused for %s", conn.ID)
		g.sendError(conn.ID, protocol.ErrCodeUnauthorized, "invalid admin token")
		return
	}

	g.mu.Lock()
	g.admins[conn.ID] = true
	g.mu.Unlock()
	log.Printf("[gateway] %s joined as admin", conn.ID)

	g.sendAdminStats(conn.ID, g.svc.Stats())
}

// allow checks rule for connID and tells the client when it is throttled.
func (g *Gateway) allow(connID string, rule ratelimit.Rule) bool {
	ctx, cancel := context.WithTimeout(context.Background(), limitTimeout)
	defer cancel()

	d, _ := g.limiter.Allow(ctx, connID, rule)
	if d.Allowed {
		return true
	}

	metrics.RateLimitedTotal.WithLabelValues(rule.Name).Inc()
	retry := int(math.Ceil(d.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	g.send(connID, protocol.TypeRateLimited, protocol.RateLimitedMsg{Action: rule.Name, RetryAfter: retry})
	return false
}

// ---------------------------------------------------------------------------
// Admin observers
// ---------------------------------------------------------------------------

// StatsChanged pushes st to every admin connection.
func (g *Gateway) StatsChanged(st stats.Stats) {
	g.mu.RLock()
	ids := make([]string, 0, len(g.admins))
	for id := range g.admins {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	for _, id := range ids {
		g.sendAdminStats(id, st)
	}
}

// IsAdmin reports whether connID joined the admin observers.
func (g *Gateway) IsAdmin(connID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.admins[connID]
}

func (g *Gateway) sendAdminStats(id string, st stats.Stats) {
	tags := make([]protocol.TagEntry, 0, len(st.TopTags))
	for _, tc := range st.TopTags {
		tags = append(tags, protocol.TagEntry{Tag: tc.Tag, Count: tc.Count})
	}
	g.send(id, protocol.TypeAdminStats, protocol.AdminStatsMsg{
		OnlineUsers:   st.OnlineCount,
		TotalMessages: st.TotalMessages,
		TotalViews:    st.TotalViews,
		ActiveTags:    tags,
	})
}

// StatsHandler serves the current stats as JSON for polling collaborators.
func (g *Gateway) StatsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(g.svc.Stats())
	})
}

func (g *Gateway) send(id, msgType string, payload interface{}) {
	if err := g.sender.SendMessage(id, protocol.MustServerMessage(msgType, payload)); err != nil {
		log.Printf("[gateway] send %s to %s: %v", msgType, id, err)
	}
}

func (g *Gateway) sendError(id, code, message string) {
	g.send(id, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}
