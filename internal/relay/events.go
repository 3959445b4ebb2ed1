// ABOUTME: Closed tagged-variant types for the websocket wire protocol
// ABOUTME: Defines inbound client events, outbound server events, and envelope codecs

package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Outbound event names, relay -> client.
const (
	EventNewConversation           = "new-conversation"
	EventConversationUpdated       = "conversation-updated"
	EventConversationAssigned      = "conversation-assigned"
	EventConversationStatusUpdated = "conversation-status-updated"
	EventMessage                   = "message"
	EventTyping                    = "typing"
)

// ErrUnknownEvent is returned when an inbound envelope names an event outside
// the closed set.
var ErrUnknownEvent = errors.New("unknown client event")

// ServerEvent is the outbound wire envelope. Data is one of the payload
// structs below; it is marshaled exactly once per broadcast.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode marshals the envelope for delivery to session send queues.
func (e ServerEvent) Encode() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", e.Event, err)
	}
	return payload, nil
}

// MessagePayload is the full message object broadcast to a conversation room.
// TempID carries the client-chosen correlation id for optimistic-write
// reconciliation; it is echoed back verbatim and never persisted.
type MessagePayload struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	FileURL   string `json:"fileUrl,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	FileSize  int64  `json:"fileSize,omitempty"`
	Sender    string `json:"sender"`
	CreatedAt string `json:"createdAt"`
	TempID    string `json:"tempId,omitempty"`
}

// ConversationPayload is the summary broadcast to the attendants room when a
// new conversation is created.
type ConversationPayload struct {
	ID              string `json:"id"`
	ClientName      string `json:"clientName"`
	ClientPhone     string `json:"clientPhone"`
	Status          string `json:"status"`
	LastMessageTime string `json:"lastMessageTime"`
}

// ConversationStatusPayload accompanies conversation-assigned and
// conversation-status-updated events in the conversation room.
type ConversationStatusPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ConversationUpdatePayload is the lightweight summary sent to the attendants
// room. Either Status or the last-message pair is set, depending on what
// changed.
type ConversationUpdatePayload struct {
	ID              string `json:"id"`
	Status          string `json:"status,omitempty"`
	LastMessage     string `json:"lastMessage,omitempty"`
	LastMessageTime string `json:"lastMessageTime,omitempty"`
}

// TypingPayload is relayed to the other party of a conversation. There is no
// per-sender identity: each conversation room has at most one customer, so
// the flag reads as "the other side is typing".
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// ClientEvent is the closed set of inbound events. Handlers dispatch with a
// single exhaustive type switch; there is no string-keyed handler lookup.
type ClientEvent interface {
	isClientEvent()
}

// RejoinConversation is issued speculatively by customer clients after every
// reconnect and whenever the page regains visibility. Joining a room already
// held is a no-op.
type RejoinConversation struct {
	ConversationID string `json:"conversationId"`
}

// JoinConversation is issued by attendants when they open a conversation.
type JoinConversation struct {
	ConversationID string `json:"conversationId"`
}

// LeaveConversation removes the connection from a conversation room.
type LeaveConversation struct {
	ConversationID string `json:"conversationId"`
}

// PostMessage carries a chat message. Content may be empty when an
// attachment is present. TempID is the optional client correlation id.
type PostMessage struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
	FileURL        string `json:"fileUrl,omitempty"`
	FileName       string `json:"fileName,omitempty"`
	FileSize       int64  `json:"fileSize,omitempty"`
	TempID         string `json:"tempId,omitempty"`
}

// StartTyping signals the sender began typing in a conversation.
type StartTyping struct {
	ConversationID string `json:"conversationId"`
}

// StopTyping signals the sender stopped typing (explicit on submit, or after
// the client's one-second debounce).
type StopTyping struct {
	ConversationID string `json:"conversationId"`
}

func (RejoinConversation) isClientEvent() {}
func (JoinConversation) isClientEvent()   {}
func (LeaveConversation) isClientEvent()  {}
func (PostMessage) isClientEvent()        {}
func (StartTyping) isClientEvent()        {}
func (StopTyping) isClientEvent()         {}

// clientEnvelope is the raw inbound wire shape.
type clientEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeClientEvent parses an inbound frame into its typed variant.
// Returns ErrUnknownEvent for event names outside the closed set.
func DecodeClientEvent(raw []byte) (ClientEvent, error) {
	var env clientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding event envelope: %w", err)
	}

	decode := func(v ClientEvent) (ClientEvent, error) {
		if len(env.Data) == 0 {
			return nil, fmt.Errorf("event %s: missing data", env.Event)
		}
		if err := json.Unmarshal(env.Data, v); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", env.Event, err)
		}
		return v, nil
	}

	switch env.Event {
	case "rejoin-conversation":
		return decode(&RejoinConversation{})
	case "join-conversation":
		return decode(&JoinConversation{})
	case "leave-conversation":
		return decode(&LeaveConversation{})
	case "message":
		return decode(&PostMessage{})
	case "typing":
		return decode(&StartTyping{})
	case "stop-typing":
		return decode(&StopTyping{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}
