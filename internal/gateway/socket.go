// ABOUTME: Websocket endpoint: handshake, read/write pumps and event dispatch
// ABOUTME: One Session per connection, one writer goroutine per socket

package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/internal/conversation"
	"github.com/parley-chat/parley/internal/relay"
	"github.com/parley-chat/parley/internal/store"
)

const (
	// socketWriteWait bounds each write to a peer.
	socketWriteWait = 10 * time.Second

	// socketReadLimit bounds inbound frame size. Attachments travel as URLs,
	// never as payload bytes, so frames stay small.
	socketReadLimit = 64 * 1024
)

// handleSocket upgrades the connection and runs it until the peer goes away.
// The handshake is carried in query parameters because browsers cannot set
// headers on websocket requests:
//
//	/ws?type=client&conversationId=<id>
//	/ws?type=attendant&token=<jwt>
func (g *Gateway) handleSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := g.socketHandshake(w, r)
	if err != nil {
		// socketHandshake already wrote the response.
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkSocketOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	if err := g.registry.Register(sess); err != nil {
		g.logger.Error("failed to register session", "error", err)
		_ = conn.Close()
		return
	}

	g.logger.Info("socket connected",
		"conn_id", sess.ID,
		"role", sess.Role)

	go g.writePump(conn, sess)
	g.readPump(conn, sess)
}

// socketHandshake validates the query parameters and builds the session.
// Writes an error response and returns a non-nil error on rejection.
func (g *Gateway) socketHandshake(w http.ResponseWriter, r *http.Request) (*relay.Session, error) {
	q := r.URL.Query()

	switch q.Get("type") {
	case "client":
		conversationID := q.Get("conversationId")
		if conversationID == "" {
			g.sendJSONError(w, http.StatusBadRequest, "conversationId is required")
			return nil, errors.New("missing conversationId")
		}
		if _, err := g.store.GetConversation(r.Context(), conversationID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			} else {
				g.sendJSONError(w, http.StatusInternalServerError, "internal error")
			}
			return nil, err
		}
		return relay.NewClientSession(conversationID), nil

	case "attendant":
		token := q.Get("token")
		if token == "" {
			g.sendJSONError(w, http.StatusUnauthorized, "token is required")
			return nil, errors.New("missing token")
		}
		attendantID, err := g.verifier.Verify(token)
		if err != nil {
			g.sendJSONError(w, http.StatusUnauthorized, "invalid token")
			return nil, err
		}
		if _, err := g.store.GetAttendant(r.Context(), attendantID); err != nil {
			g.sendJSONError(w, http.StatusUnauthorized, "attendant not found")
			return nil, err
		}
		return relay.NewAttendantSession(attendantID), nil

	default:
		g.sendJSONError(w, http.StatusBadRequest, "type must be client or attendant")
		return nil, errors.New("bad connection type")
	}
}

// checkSocketOrigin mirrors the CORS allowlist for websocket upgrades.
func (g *Gateway) checkSocketOrigin(r *http.Request) bool {
	allowed := g.config.CORS.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no origin.
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// writePump is the sole writer for a connection. It drains the session's
// queue and keeps the connection alive with pings. Exits when the session
// is unregistered or a write fails.
func (g *Gateway) writePump(conn *websocket.Conn, sess *relay.Session) {
	pingTicker := time.NewTicker(g.config.Socket.PingInterval)
	defer func() {
		pingTicker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sess.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				g.logger.Debug("socket write failed", "conn_id", sess.ID, "error", err)
				return
			}
		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames until the peer disconnects, dispatching each decoded
// event. Unregisters the session on exit, which ends the write pump.
func (g *Gateway) readPump(conn *websocket.Conn, sess *relay.Session) {
	defer func() {
		g.registry.Unregister(sess.ID)
		_ = conn.Close()
		g.logger.Info("socket disconnected", "conn_id", sess.ID, "role", sess.Role)
	}()

	conn.SetReadLimit(socketReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(g.config.Socket.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.config.Socket.PongTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("socket read failed", "conn_id", sess.ID, "error", err)
			}
			return
		}

		event, err := relay.DecodeClientEvent(raw)
		if err != nil {
			// Malformed or unknown frames are dropped, not fatal.
			g.logger.Warn("dropping bad socket frame",
				"conn_id", sess.ID,
				"error", err)
			continue
		}
		g.dispatch(sess, event)
	}
}

// dispatch routes one inbound event. Clients are pinned to their own
// conversation regardless of what the frame claims; attendants may address
// any conversation.
func (g *Gateway) dispatch(sess *relay.Session, event relay.ClientEvent) {
	// Socket frames outlive any single HTTP request, so writes they trigger
	// are not bound to a request context.
	ctx := context.Background()

	switch ev := event.(type) {
	case *relay.RejoinConversation:
		g.joinRoom(sess, ev.ConversationID)

	case *relay.JoinConversation:
		g.joinRoom(sess, ev.ConversationID)

	case *relay.LeaveConversation:
		g.registry.Leave(sess.ID, relay.ConversationRoom(g.scopedConversation(sess, ev.ConversationID)))

	case *relay.PostMessage:
		// Clients re-send pending frames after a reconnect; the correlation
		// id identifies retries so they are not persisted twice. Keyed by
		// conversation so the retry is caught even on a fresh connection.
		dedupeKey := g.scopedConversation(sess, ev.ConversationID) + ":" + ev.TempID
		if ev.TempID != "" && g.dedupe.CheckAndMark(dedupeKey) {
			g.logger.Debug("dropping duplicate message frame",
				"conn_id", sess.ID,
				"temp_id", ev.TempID)
			return
		}
		sender := store.SenderClient
		if sess.Role == relay.RoleAttendant {
			sender = store.SenderAttendant
		}
		_, err := g.conversations.Post(ctx, conversation.PostRequest{
			ConversationID: g.scopedConversation(sess, ev.ConversationID),
			Sender:         sender,
			Content:        ev.Content,
			Type:           ev.Type,
			FileURL:        ev.FileURL,
			FileName:       ev.FileName,
			FileSize:       ev.FileSize,
			TempID:         ev.TempID,
		})
		if err != nil {
			g.logger.Warn("socket message rejected",
				"conn_id", sess.ID,
				"error", err)
		}

	case *relay.StartTyping:
		g.presence.SetTyping(g.scopedConversation(sess, ev.ConversationID), sess.ID, true)

	case *relay.StopTyping:
		g.presence.SetTyping(g.scopedConversation(sess, ev.ConversationID), sess.ID, false)
	}
}

// joinRoom joins the session to a conversation room, subject to scoping.
// Join and rejoin are the same idempotent operation.
func (g *Gateway) joinRoom(sess *relay.Session, conversationID string) {
	g.registry.Join(sess.ID, relay.ConversationRoom(g.scopedConversation(sess, conversationID)))
}

// scopedConversation returns the conversation a session may act on. Client
// sessions are bound to the conversation from their handshake.
func (g *Gateway) scopedConversation(sess *relay.Session, requested string) string {
	if sess.Role == relay.RoleClient {
		return sess.ConversationID
	}
	return requested
}
