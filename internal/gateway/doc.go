// Package gateway is the composition root of the parley server. It wires
// the sqlite store, the relay (session registry, broadcaster, presence),
// the conversation service and attendant auth behind one HTTP server.
//
// Two surfaces share that server:
//
//   - a JSON REST API under /api for creating conversations, reading
//     history, attendant login, assignment, status changes and stats.
//     History reads double as the reconciliation path after reconnects.
//
//   - a websocket endpoint at /ws carrying the live event stream. The
//     handshake either names a conversation (customers) or presents a JWT
//     (attendants); everything after that is JSON event frames.
//
// The relay is intentionally not durable. Missed events are recovered by
// re-reading history over REST, so broadcast failures only cost freshness.
package gateway
