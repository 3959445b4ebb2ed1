// ABOUTME: Room broadcaster that fans encoded events out to live sessions
// ABOUTME: Encodes once per event and never blocks on slow consumers

package relay

import (
	"fmt"
	"log/slog"
)

// Broadcaster delivers server events to every session in a room. Delivery is
// best effort: sessions with full send queues drop the event, and events
// published to empty rooms vanish without error.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger
}

// NewBroadcaster creates a broadcaster over a registry. Pass nil logger for
// default.
func NewBroadcaster(registry *Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger.With("component", "broadcaster"),
	}
}

// Broadcast encodes the event once and enqueues it to every member of the
// room.
func (b *Broadcaster) Broadcast(room string, event ServerEvent) error {
	return b.send(room, "", event)
}

// BroadcastExcept encodes the event once and enqueues it to every member of
// the room except the named connection. Used for typing echoes.
func (b *Broadcaster) BroadcastExcept(room, excludeConnID string, event ServerEvent) error {
	return b.send(room, excludeConnID, event)
}

func (b *Broadcaster) send(room, excludeConnID string, event ServerEvent) error {
	payload, err := event.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Event, err)
	}

	delivered, dropped := b.registry.publish(room, excludeConnID, payload)
	if dropped > 0 {
		b.logger.Debug("dropped event for slow sessions",
			"event", event.Event,
			"room", room,
			"dropped", dropped)
	}
	b.logger.Debug("broadcast event",
		"event", event.Event,
		"room", room,
		"delivered", delivered)
	return nil
}
