// ABOUTME: Conversation service is the single write path for conversation state
// ABOUTME: Record first, then notify - broadcast failures never fail the write

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/relay"
	"github.com/parley-chat/parley/internal/store"
)

// ErrInvalidStatus is returned for status values outside the enum.
var ErrInvalidStatus = errors.New("invalid conversation status")

// ErrEmptyMessage is returned for messages with neither content nor attachment.
var ErrEmptyMessage = errors.New("message has no content or attachment")

// ErrInvalidSender is returned for sender values outside client/attendant.
var ErrInvalidSender = errors.New("invalid message sender")

// Notifier fans events out to live sessions. Satisfied by *relay.Broadcaster.
// A nil notifier is valid and causes the service to persist without
// broadcasting, which the CLI uses for offline operations.
type Notifier interface {
	Broadcast(room string, event relay.ServerEvent) error
}

// Service owns all conversation writes. Every mutation persists to the store
// first and broadcasts second, so a delivery failure can never lose data:
// clients recover by re-fetching history over REST.
type Service struct {
	store    store.Store
	notifier Notifier
	logger   *slog.Logger
}

// New creates a conversation service. Pass nil logger for default.
func New(st store.Store, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		notifier: notifier,
		logger:   logger.With("component", "conversation"),
	}
}

// Create opens a new conversation in the waiting state and announces it to
// the attendants room.
func (s *Service) Create(ctx context.Context, clientName, clientPhone string) (*store.Conversation, error) {
	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:          uuid.New().String(),
		ClientName:  clientName,
		ClientPhone: clientPhone,
		Status:      store.StatusWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.logger.Info("conversation created",
		"conversation_id", conv.ID,
		"client_name", conv.ClientName)

	s.notify(relay.AttendantsRoom, relay.ServerEvent{
		Event: relay.EventNewConversation,
		Data: relay.ConversationPayload{
			ID:              conv.ID,
			ClientName:      conv.ClientName,
			ClientPhone:     conv.ClientPhone,
			Status:          conv.Status,
			LastMessageTime: conv.CreatedAt.Format(time.RFC3339),
		},
	})
	return conv, nil
}

// Get returns a single conversation.
func (s *Service) Get(ctx context.Context, id string) (*store.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// List returns all conversations with their most recent message, newest
// activity first.
func (s *Service) List(ctx context.Context) ([]*store.ConversationSummary, error) {
	return s.store.ListConversations(ctx)
}

// Assign hands a conversation to an attendant and moves it to active.
// Last writer wins: assigning an already-assigned conversation reassigns it
// without protest. Both the room and the attendants list are notified.
func (s *Service) Assign(ctx context.Context, conversationID, attendantID string) (*store.Conversation, error) {
	if _, err := s.store.GetAttendant(ctx, attendantID); err != nil {
		return nil, fmt.Errorf("failed to resolve attendant: %w", err)
	}

	conv, err := s.store.AssignConversation(ctx, conversationID, attendantID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign conversation: %w", err)
	}

	s.logger.Info("conversation assigned",
		"conversation_id", conversationID,
		"attendant_id", attendantID)

	payload := relay.ConversationStatusPayload{ID: conv.ID, Status: conv.Status}
	s.notify(relay.ConversationRoom(conv.ID), relay.ServerEvent{
		Event: relay.EventConversationAssigned,
		Data:  payload,
	})
	s.notify(relay.AttendantsRoom, relay.ServerEvent{
		Event: relay.EventConversationUpdated,
		Data:  relay.ConversationUpdatePayload{ID: conv.ID, Status: conv.Status},
	})
	return conv, nil
}

// SetStatus moves a conversation to any member of the status enum. There is
// no transition graph: attendants may reopen, re-close, or reclassify
// conversations freely.
func (s *Service) SetStatus(ctx context.Context, conversationID, status string) (*store.Conversation, error) {
	if !store.ValidStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	conv, err := s.store.SetConversationStatus(ctx, conversationID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}

	s.logger.Info("conversation status updated",
		"conversation_id", conversationID,
		"status", status)

	s.notify(relay.ConversationRoom(conv.ID), relay.ServerEvent{
		Event: relay.EventConversationStatusUpdated,
		Data:  relay.ConversationStatusPayload{ID: conv.ID, Status: conv.Status},
	})
	s.notify(relay.AttendantsRoom, relay.ServerEvent{
		Event: relay.EventConversationUpdated,
		Data:  relay.ConversationUpdatePayload{ID: conv.ID, Status: conv.Status},
	})
	return conv, nil
}

// PostRequest carries one inbound chat message through validation,
// persistence and fan-out. TempID is an opaque client correlation token; it
// rides along into the broadcast payload and is never persisted.
type PostRequest struct {
	ConversationID string
	Sender         string
	Content        string
	Type           string
	FileURL        string
	FileName       string
	FileSize       int64
	TempID         string
}

// Post validates, persists and fans out a message. The conversation's
// updated_at is touched so it surfaces at the top of the attendants list.
func (s *Service) Post(ctx context.Context, req PostRequest) (*store.Message, error) {
	if req.Sender != store.SenderClient && req.Sender != store.SenderAttendant {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSender, req.Sender)
	}
	if req.Content == "" && req.FileURL == "" {
		return nil, ErrEmptyMessage
	}

	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}

	msgType := req.Type
	if msgType == "" {
		msgType = store.MessageTypeText
	}

	// Captionless attachments persist their kind label as the content, so
	// history fetches and the live broadcast never carry a blank caption.
	content := req.Content
	if content == "" {
		content = attachmentLabel(msgType)
	}

	now := time.Now().UTC()
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         req.Sender,
		Content:        content,
		Type:           msgType,
		FileURL:        req.FileURL,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		CreatedAt:      now,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	if err := s.store.TouchConversation(ctx, conv.ID, now); err != nil {
		s.logger.Warn("failed to touch conversation",
			"conversation_id", conv.ID,
			"error", err)
	}

	s.logger.Debug("message recorded",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"sender", msg.Sender,
		"type", msg.Type)

	s.notify(relay.ConversationRoom(conv.ID), relay.ServerEvent{
		Event: relay.EventMessage,
		Data: relay.MessagePayload{
			ID:        msg.ID,
			Content:   msg.Content,
			Type:      msg.Type,
			FileURL:   msg.FileURL,
			FileName:  msg.FileName,
			FileSize:  msg.FileSize,
			Sender:    msg.Sender,
			CreatedAt: msg.CreatedAt.Format(time.RFC3339),
			TempID:    req.TempID,
		},
	})
	s.notify(relay.AttendantsRoom, relay.ServerEvent{
		Event: relay.EventConversationUpdated,
		Data: relay.ConversationUpdatePayload{
			ID:              conv.ID,
			LastMessage:     DisplayLabel(msg),
			LastMessageTime: msg.CreatedAt.Format(time.RFC3339),
		},
	})
	return msg, nil
}

// Messages returns a conversation's full history in stable order.
func (s *Service) Messages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}
	return s.store.ListMessages(ctx, conversationID)
}

// Leads returns every conversation as an acquisition row, newest first.
func (s *Service) Leads(ctx context.Context) ([]*store.Lead, error) {
	return s.store.ListLeads(ctx)
}

// Stats returns the dashboard aggregates.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return s.store.Stats(ctx, time.Now().UTC())
}

// DisplayLabel is the list-view text for a message. Attachments without a
// caption get a kind label so the conversation list never shows a blank row.
func DisplayLabel(msg *store.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	if msg.Type == store.MessageTypeText {
		return ""
	}
	return attachmentLabel(msg.Type)
}

// attachmentLabel maps a media type to its caption placeholder. Unknown
// attachment types fall back to the generic file label.
func attachmentLabel(msgType string) string {
	switch msgType {
	case store.MessageTypeImage:
		return "📷 Foto"
	case store.MessageTypeVideo:
		return "🎥 Vídeo"
	case store.MessageTypeAudio:
		return "🎤 Áudio"
	default:
		return "Arquivo"
	}
}

// notify broadcasts an event, logging and swallowing failures. Fan-out is
// strictly best effort once the write has landed.
func (s *Service) notify(room string, event relay.ServerEvent) {
	if s.notifier == nil {
		s.logger.Debug("no notifier configured, skipping broadcast", "event", event.Event)
		return
	}
	if err := s.notifier.Broadcast(room, event); err != nil {
		s.logger.Warn("broadcast failed",
			"event", event.Event,
			"room", room,
			"error", err)
	}
}
