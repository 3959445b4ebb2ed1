// Package store provides persistence for parley's conversations, messages
// and attendants.
//
// # Entities
//
//   - Conversation: one customer, zero or one assigned attendant, a status
//     from the six-value enum (waiting, active, closed, completed, sold,
//     cancelled). Created as waiting with no attendant.
//   - Message: immutable once saved; ordered within a conversation by
//     creation time, with the insertion sequence breaking ties.
//   - Attendant: human operator with a bcrypt password hash and an online
//     flag maintained by the auth layer.
//
// # Store interface
//
// The Store interface is the persistence collaborator for the relay core.
// Conversation and Message rows are owned exclusively by the store; the
// relay never caches authoritative copies across requests.
//
// # SQLite implementation
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo) with WAL mode and
// automatic schema creation. Timestamps are stored as UTC RFC3339 strings.
// Use ":memory:" as the path for tests.
package store
