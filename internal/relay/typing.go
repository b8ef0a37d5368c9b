package relay

import (
	"github.com/Tyrowin/gochat-relay/internal/metrics"
)

// Typing forwards ephemeral typing signals. Nothing is stored or queued and
// no decay is applied; the receiver decides when a signal goes stale.
type Typing struct {
	registry *Registry
}

// NewTyping returns a typing relay over registry.
func NewTyping(registry *Registry) *Typing {
	return &Typing{registry: registry}
}

// Relay sends user_typing{senderID, typing} to receiverID if it is connected
// and reports whether the event was handed to the receiver's connection.
func (t *Typing) Relay(senderID, receiverID string, typing bool) bool {
	conn, ok := t.registry.Lookup(receiverID)
	if !ok {
		metrics.TypingEvents.WithLabelValues("offline").Inc()
		return false
	}
	if err := conn.Send(Event{Name: EventUserTyping, Data: TypingNotice{UserID: senderID, Typing: typing}}); err != nil {
		metrics.TypingEvents.WithLabelValues("dropped").Inc()
		return false
	}
	metrics.TypingEvents.WithLabelValues("delivered").Inc()
	return true
}
