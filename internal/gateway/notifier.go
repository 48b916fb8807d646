package gateway

import (
	"log"
	"time"

	"github.com/whisper/stranger-chat/internal/pairing"
	"github.com/whisper/stranger-chat/internal/protocol"
)

// Sender is the slice of the WebSocket server the gateway writes through.
type Sender interface {
	SendMessage(connID string, data []byte) error
	Broadcast(data []byte)
	Alive(connID string) bool
	Count() int
}

// Notifier turns pairing events into protocol frames.
type Notifier struct {
	sender Sender
}

// NewNotifier creates a Notifier writing through sender.
func NewNotifier(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

func (n *Notifier) send(id, msgType string, payload interface{}) {
	if err := n.sender.SendMessage(id, protocol.MustServerMessage(msgType, payload)); err != nil {
		log.Printf("[gateway] send %s to %s: %v", msgType, id, err)
	}
}

// StatusChanged sends a status frame.
func (n *Notifier) StatusChanged(id string, status pairing.Status, roomID string) {
	n.send(id, protocol.TypeStatus, protocol.StatusMsg{Status: string(status), RoomID: roomID})
}

// SystemNotice sends a system frame.
func (n *Notifier) SystemNotice(id, text string) {
	n.send(id, protocol.TypeSystem, protocol.SystemMsg{Content: text})
}

// MessageDelivered sends a relayed chat line to its recipient.
func (n *Notifier) MessageDelivered(toID, fromTag, content string, ts time.Time) {
	n.send(toID, protocol.TypeMessage, protocol.ChatMessageMsg{
		Sender:    fromTag,
		Content:   content,
		Timestamp: ts.UnixMilli(),
	})
}

// MessageSent acknowledges a relayed line to its sender.
func (n *Notifier) MessageSent(toID, content string, ts time.Time) {
	n.send(toID, protocol.TypeMessageSent, protocol.MessageSentMsg{
		Content:   content,
		Timestamp: ts.UnixMilli(),
	})
}

// Alive reports whether the participant's connection is still open.
func (n *Notifier) Alive(id string) bool {
	return n.sender.Alive(id)
}
