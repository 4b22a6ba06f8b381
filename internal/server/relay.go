package server

import (
	"log"

	"github.com/npezzotti/go-meet/internal/stats"
)

// Relay forwards signaling payloads point to point. It runs on the
// sender's read goroutine, so delivery order matches the order a
// single sender produced. Payloads are opaque, never inspected.
type Relay struct {
	registry *ConnectionRegistry
	log      *log.Logger
	stats    stats.StatsProvider
}

func NewRelay(registry *ConnectionRegistry, logger *log.Logger, sp stats.StatsProvider) *Relay {
	return &Relay{
		registry: registry,
		log:      logger,
		stats:    sp,
	}
}

// Relay delivers msg.Signal to its target connection. The target must
// be registered and attached to a room, otherwise the sender gets a
// peer_not_found error and nothing is delivered.
func (rl *Relay) Relay(msg *ClientMessage) {
	from := msg.client

	target, ok := rl.registry.Get(msg.Signal.TargetId)
	if !ok || target.currentRoom() == nil {
		rl.log.Printf("relay: target %q not available", msg.Signal.TargetId)
		from.queueMessage(ErrPeerNotFound(msg.Id))
		return
	}

	delivered := target.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Signal: &SignalEvent{
				Kind:    msg.Signal.Kind,
				FromId:  from.id,
				From:    from.user,
				Payload: msg.Signal.Payload,
			},
		},
	})
	if !delivered {
		// target's send buffer is full, treat as gone
		from.queueMessage(ErrPeerNotFound(msg.Id))
		return
	}

	rl.stats.Incr("NumSignalsRelayed")
}
