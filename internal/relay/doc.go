// Package relay holds the in-process fan-out layer: the session registry,
// room broadcaster, typed wire events, and the typing indicator relay.
//
// Rooms are plain names. Customers live in one conversation room; attendants
// live in the shared attendants room, their own per-attendant room, and any
// conversation rooms they have opened. Membership is ephemeral and dies with
// the connection; durable conversation state belongs to the store.
//
// Delivery is best effort. Events are encoded once, enqueued without
// blocking, and dropped for sessions whose send queues are full.
package relay
