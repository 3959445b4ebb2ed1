// ABOUTME: Store interface and data types for parley persistence
// ABOUTME: Defines Conversation, Message, Attendant structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateAttendant is returned when creating an attendant whose username is taken
var ErrDuplicateAttendant = errors.New("attendant already exists")

// Conversation statuses. A conversation is created as StatusWaiting and
// becomes StatusActive when an attendant picks it up. The remaining four
// are the outcomes an attendant can file the conversation under.
const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusClosed    = "closed"
	StatusCompleted = "completed"
	StatusSold      = "sold"
	StatusCancelled = "cancelled"
)

// ValidStatus reports whether s is a member of the conversation status enum.
func ValidStatus(s string) bool {
	switch s {
	case StatusWaiting, StatusActive, StatusClosed, StatusCompleted, StatusSold, StatusCancelled:
		return true
	}
	return false
}

// Sender roles for messages.
const (
	SenderClient    = "client"
	SenderAttendant = "attendant"
)

// Message types. Text is the default; the others describe the attachment kind.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeAudio = "audio"
	MessageTypeFile  = "file"
)

// Conversation is the unit of customer-attendant interaction.
// AttendantID is nil until an attendant is assigned.
type Conversation struct {
	ID          string
	ClientName  string
	ClientPhone string
	Status      string
	AttendantID *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Message is a single chat message within a conversation. Immutable once
// persisted. The attachment fields (FileURL, FileName, FileSize) are present
// as a unit when Type is not "text".
type Message struct {
	ID             string
	ConversationID string
	Sender         string
	Content        string
	Type           string
	FileURL        string
	FileName       string
	FileSize       int64
	CreatedAt      time.Time

	// Seq is the insertion sequence assigned by the store, used to break
	// ordering ties between messages with equal creation timestamps.
	Seq int64
}

// Attendant is a human operator. Online is set true on successful login and
// is not cleared on disconnect.
type Attendant struct {
	ID           string
	Name         string
	Username     string
	PasswordHash string
	Online       bool
	CreatedAt    time.Time
}

// ConversationSummary is the list-view projection of a conversation with its
// most recent message.
type ConversationSummary struct {
	ID              string
	ClientName      string
	ClientPhone     string
	Status          string
	LastMessage     string
	LastMessageType string
	LastMessageTime time.Time
}

// Lead is the acquisition-view projection of a conversation: who reached
// out, when, and how much back-and-forth followed.
type Lead struct {
	ID              string
	ClientName      string
	ClientPhone     string
	Status          string
	CreatedAt       time.Time
	LastMessageTime time.Time
	MessageCount    int
}

// DayCount is the number of conversations opened on a given day.
type DayCount struct {
	Date  string // formatted as "02/01"
	Count int
}

// Stats holds read-only lead aggregates for the dashboard.
type Stats struct {
	TotalLeads     int
	LeadsToday     int
	LeadsThisMonth int
	LastSevenDays  []DayCount
	ByStatus       map[string]int
}

// Store defines the persistence collaborator for conversations, messages and
// attendants. Conversation and Message entities are owned exclusively by the
// store; the relay never caches authoritative copies across requests.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*ConversationSummary, error)
	SetConversationStatus(ctx context.Context, id, status string) (*Conversation, error)
	AssignConversation(ctx context.Context, id, attendantID string) (*Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// Attendants
	CreateAttendant(ctx context.Context, att *Attendant) error
	GetAttendant(ctx context.Context, id string) (*Attendant, error)
	GetAttendantByUsername(ctx context.Context, username string) (*Attendant, error)
	SetAttendantOnline(ctx context.Context, id string, online bool) error

	// Aggregates
	ListLeads(ctx context.Context) ([]*Lead, error)
	Stats(ctx context.Context, now time.Time) (*Stats, error)

	// Close releases any resources held by the store
	Close() error
}
