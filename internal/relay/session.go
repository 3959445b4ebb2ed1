// ABOUTME: Session type and Registry for tracking live connections and room membership
// ABOUTME: Registry is an explicit injected object, not a process-wide singleton

package relay

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// sendQueueSize is the per-session outbound buffer. Events are dropped for
// sessions whose queues are full rather than blocking the broadcaster.
const sendQueueSize = 64

// Role identifies which side of a conversation a session belongs to.
type Role string

const (
	RoleClient    Role = "client"
	RoleAttendant Role = "attendant"
)

// AttendantsRoom is the shared room every authenticated attendant joins for
// list-level notifications.
const AttendantsRoom = "attendants"

// ConversationRoom returns the room name for a conversation.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// attendantRoom is the per-attendant room joined at connect time.
func attendantRoom(attendantID string) string {
	return "attendant:" + attendantID
}

// Session is the ephemeral server-side record of one live connection.
// Exactly one Session exists per connection; a reconnecting customer gets a
// fresh Session and re-derives membership through the rejoin protocol.
type Session struct {
	ID   string
	Role Role

	// ConversationID is set for client sessions, AttendantID for attendant
	// sessions.
	ConversationID string
	AttendantID    string

	send chan []byte
}

// NewClientSession creates a session for a customer connection.
func NewClientSession(conversationID string) *Session {
	return &Session{
		ID:             uuid.New().String(),
		Role:           RoleClient,
		ConversationID: conversationID,
		send:           make(chan []byte, sendQueueSize),
	}
}

// NewAttendantSession creates a session for an attendant connection.
func NewAttendantSession(attendantID string) *Session {
	return &Session{
		ID:          uuid.New().String(),
		Role:        RoleAttendant,
		AttendantID: attendantID,
		send:        make(chan []byte, sendQueueSize),
	}
}

// Outbound returns the channel the connection's writer drains. It is closed
// when the session is unregistered.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// enqueue attempts a non-blocking send to the session's queue.
// Returns false if the queue is full.
func (s *Session) enqueue(payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// Registry tracks every live session, its role, and its room memberships.
// It is the single mutual-exclusion domain for the in-process membership
// tables; join/leave/broadcast may run concurrently.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session            // connection id -> session
	rooms    map[string]map[string]*Session // room name -> connection id -> session
	logger   *slog.Logger
}

// NewRegistry creates a session registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
		logger:   logger.With("component", "registry"),
	}
}

// Register records a session and joins it to its initial rooms: the
// conversation room for clients, the shared attendants room plus a
// per-attendant room for attendants.
func (r *Registry) Register(sess *Session) error {
	if sess == nil {
		return fmt.Errorf("nil session")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already registered", sess.ID)
	}
	r.sessions[sess.ID] = sess

	switch sess.Role {
	case RoleClient:
		if sess.ConversationID != "" {
			r.joinLocked(sess, ConversationRoom(sess.ConversationID))
		}
	case RoleAttendant:
		r.joinLocked(sess, AttendantsRoom)
		if sess.AttendantID != "" {
			r.joinLocked(sess, attendantRoom(sess.AttendantID))
		}
	}

	r.logger.Debug("session registered",
		"conn_id", sess.ID,
		"role", sess.Role)
	return nil
}

// Join adds a session to a room. Idempotent: joining a room already held is
// a no-op, never an error. Unknown connection ids are ignored, since a
// disconnect may race an in-flight join.
func (r *Registry) Join(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[connID]
	if !ok {
		return
	}
	r.joinLocked(sess, room)
}

func (r *Registry) joinLocked(sess *Session, room string) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Session)
		r.rooms[room] = members
	}
	if _, already := members[sess.ID]; already {
		return
	}
	members[sess.ID] = sess
	r.logger.Debug("joined room", "conn_id", sess.ID, "room", room)
}

// Leave removes a session from a room. Idempotent: leaving a room not held
// is a no-op.
func (r *Registry) Leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, room)
}

func (r *Registry) leaveLocked(connID, room string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	if _, held := members[connID]; !held {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	r.logger.Debug("left room", "conn_id", connID, "room", room)
}

// Unregister removes a session and all its memberships and closes its send
// queue. Safe to call for unknown ids. No cascading side effects on
// conversation state.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[connID]
	if !ok {
		return
	}
	delete(r.sessions, connID)

	for room := range r.rooms {
		r.leaveLocked(connID, room)
	}

	close(sess.send)
	r.logger.Debug("session unregistered", "conn_id", connID)
}

// Get returns the session for a connection id, or nil.
func (r *Registry) Get(connID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[connID]
}

// InRoom reports whether a connection currently holds membership in a room.
func (r *Registry) InRoom(connID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	_, held := members[connID]
	return held
}

// RoomSize returns the current number of members in a room.
func (r *Registry) RoomSize(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// publish enqueues an encoded payload to every member of a room, optionally
// skipping one connection id. Enqueues happen under the read lock so a
// concurrent Unregister cannot close a queue mid-send. Returns how many
// sessions received the payload and how many dropped it on a full queue.
func (r *Registry) publish(room, excludeConnID string, payload []byte) (delivered, dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[room]
	if !ok {
		return 0, 0
	}

	for id, sess := range members {
		if excludeConnID != "" && id == excludeConnID {
			continue
		}
		if sess.enqueue(payload) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// Close unregisters every session and closes their send queues.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, sess := range r.sessions {
		close(sess.send)
		delete(r.sessions, id)
	}
	for room := range r.rooms {
		delete(r.rooms, room)
	}
	r.logger.Debug("registry closed")
}
