// ABOUTME: Typing indicator relay for conversation rooms
// ABOUTME: Indicators are ephemeral and never touch the store

package relay

import "log/slog"

// Presence relays typing indicators between the two sides of a conversation.
// Indicators are fire-and-forget: a stale "typing" with no matching stop is
// the receiving UI's problem to age out.
type Presence struct {
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// NewPresence creates a presence coordinator. Pass nil logger for default.
func NewPresence(broadcaster *Broadcaster, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{
		broadcaster: broadcaster,
		logger:      logger.With("component", "presence"),
	}
}

// SetTyping relays a typing state change to everyone else in the
// conversation room. The originating connection is excluded so senders never
// see their own indicator.
func (p *Presence) SetTyping(conversationID, fromConnID string, isTyping bool) {
	event := ServerEvent{
		Event: EventTyping,
		Data: TypingPayload{
			ConversationID: conversationID,
			IsTyping:       isTyping,
		},
	}
	if err := p.broadcaster.BroadcastExcept(ConversationRoom(conversationID), fromConnID, event); err != nil {
		p.logger.Warn("failed to relay typing indicator",
			"conversation_id", conversationID,
			"error", err)
	}
}
