// Package conversation implements the write path for conversations and
// messages: validation, persistence through the store, and best-effort
// fan-out through the relay. The store is the source of truth; broadcasts
// are advisory and clients reconcile against REST history after a gap.
package conversation
