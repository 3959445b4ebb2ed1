// Package dedupe provides a TTL cache used to drop message frames a client
// re-sends after a reconnect. Keys are correlation ids, so a retry inside
// the window is recognized and the message is not persisted twice.
package dedupe
