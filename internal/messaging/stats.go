package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/whisper/stranger-chat/internal/stats"
)

// StatsEvent is the payload published on stats.changed.
type StatsEvent struct {
	Server string      `json:"server"`
	Stats  stats.Stats `json:"stats"`
	At     int64       `json:"at"`
}

// StatsPublisher forwards every stats change to NATS. It satisfies the
// pairing service's observer interface.
type StatsPublisher struct {
	client *NATSClient
	server string
}

// NewStatsPublisher creates a publisher tagging events with server.
func NewStatsPublisher(client *NATSClient, server string) *StatsPublisher {
	return &StatsPublisher{client: client, server: server}
}

// StatsChanged publishes st. Publish only buffers, so this never blocks on the
// network.
func (p *StatsPublisher) StatsChanged(st stats.Stats) {
	data, err := json.Marshal(StatsEvent{Server: p.server, Stats: st, At: time.Now().UnixMilli()})
	if err != nil {
		log.Printf("[nats] marshal stats: %v", err)
		return
	}
	if err := p.client.Publish(SubjectStatsChanged, data); err != nil {
		log.Printf("[nats] publish %s: %v", SubjectStatsChanged, err)
	}
}

// SubscribeStats delivers every decoded stats.changed event to handler.
func (c *NATSClient) SubscribeStats(handler func(StatsEvent)) error {
	return c.Subscribe(SubjectStatsChanged, func(msg *nats.Msg) {
		var ev StatsEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] bad %s payload: %v", SubjectStatsChanged, err)
			return
		}
		handler(ev)
	})
}

// UnsubscribeStats drops the stats.changed subscription.
func (c *NATSClient) UnsubscribeStats() error {
	if err := c.Unsubscribe(SubjectStatsChanged); err != nil {
		return fmt.Errorf("messaging: %w", err)
	}
	return nil
}
