// ABOUTME: Websocket tests: handshake rejection, live message flow, typing relay
// ABOUTME: Dials real connections against an httptest server

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/relay"
	"github.com/parley-chat/parley/internal/store"
)

func wsURL(srv *httptest.Server, query string) string {
	return strings.Replace(srv.URL, "http", "ws", 1) + "/ws?" + query
}

func dialSocket(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, query), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// sendFrame writes one event frame.
func sendFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// readFrame reads one event frame with a deadline.
func readFrame(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	return env.Event, env.Data
}

// readUntil consumes frames until one with the wanted event name arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		event, data := readFrame(t, conn)
		if event == want {
			return data
		}
	}
	t.Fatalf("never received %s frame", want)
	return nil
}

// waitForRoomSize blocks until a room reaches the expected member count.
// Registration happens after the dial returns, so tests synchronize here.
func waitForRoomSize(t *testing.T, g *Gateway, room string, size int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return g.registry.RoomSize(room) == size
	}, 2*time.Second, 5*time.Millisecond)
}

func createConversation(t *testing.T, g *Gateway) *store.Conversation {
	t.Helper()
	conv, err := g.conversations.Create(context.Background(), "Maria", "+5511999991234")
	require.NoError(t, err)
	return conv
}

func TestSocketHandshakeRejections(t *testing.T) {
	g, srv := newTestServer(t)
	seedAttendant(t, g, "ana")

	tests := []struct {
		name  string
		query string
		code  int
	}{
		{"missing type", "", http.StatusBadRequest},
		{"bad type", "type=robot", http.StatusBadRequest},
		{"client without conversation", "type=client", http.StatusBadRequest},
		{"client with unknown conversation", "type=client&conversationId=ghost", http.StatusNotFound},
		{"attendant without token", "type=attendant", http.StatusUnauthorized},
		{"attendant with garbage token", "type=attendant&token=nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, tt.query), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}

func TestSocketMessageFlow(t *testing.T) {
	g, srv := newTestServer(t)
	_, token := seedAttendant(t, g, "ana")
	conv := createConversation(t, g)
	room := relay.ConversationRoom(conv.ID)

	client := dialSocket(t, srv, "type=client&conversationId="+conv.ID)
	waitForRoomSize(t, g, room, 1)

	attendant := dialSocket(t, srv, "type=attendant&token="+token)
	waitForRoomSize(t, g, relay.AttendantsRoom, 1)
	sendFrame(t, attendant, "join-conversation", map[string]string{"conversationId": conv.ID})
	waitForRoomSize(t, g, room, 2)

	sendFrame(t, client, "message", map[string]any{
		"conversationId": conv.ID,
		"content":        "oi!",
		"tempId":         "tmp-1",
	})

	// Both sides receive the message; the sender's copy echoes the temp id
	// for optimistic-UI reconciliation.
	var payload relay.MessagePayload
	require.NoError(t, json.Unmarshal(readUntil(t, client, relay.EventMessage), &payload))
	assert.Equal(t, "oi!", payload.Content)
	assert.Equal(t, "tmp-1", payload.TempID)
	assert.Equal(t, store.SenderClient, payload.Sender)

	require.NoError(t, json.Unmarshal(readUntil(t, attendant, relay.EventMessage), &payload))
	assert.Equal(t, "oi!", payload.Content)

	// The attendants room hears about the list update too.
	var update relay.ConversationUpdatePayload
	require.NoError(t, json.Unmarshal(readUntil(t, attendant, relay.EventConversationUpdated), &update))
	assert.Equal(t, conv.ID, update.ID)
	assert.Equal(t, "oi!", update.LastMessage)

	// And the message is durable.
	history, err := g.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "oi!", history[0].Content)
}

func TestSocketTypingRelay(t *testing.T) {
	g, srv := newTestServer(t)
	_, token := seedAttendant(t, g, "ana")
	conv := createConversation(t, g)
	room := relay.ConversationRoom(conv.ID)

	client := dialSocket(t, srv, "type=client&conversationId="+conv.ID)
	waitForRoomSize(t, g, room, 1)
	attendant := dialSocket(t, srv, "type=attendant&token="+token)
	sendFrame(t, attendant, "join-conversation", map[string]string{"conversationId": conv.ID})
	waitForRoomSize(t, g, room, 2)

	sendFrame(t, client, "typing", map[string]string{"conversationId": conv.ID})

	var typing relay.TypingPayload
	require.NoError(t, json.Unmarshal(readUntil(t, attendant, relay.EventTyping), &typing))
	assert.True(t, typing.IsTyping)
	assert.Equal(t, conv.ID, typing.ConversationID)

	// The sender never sees its own indicator.
	require.NoError(t, client.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := client.ReadMessage()
	assert.Error(t, err)

	sendFrame(t, client, "stop-typing", map[string]string{"conversationId": conv.ID})
	require.NoError(t, json.Unmarshal(readUntil(t, attendant, relay.EventTyping), &typing))
	assert.False(t, typing.IsTyping)
}

func TestSocketRejoinIsIdempotent(t *testing.T) {
	g, srv := newTestServer(t)
	conv := createConversation(t, g)
	room := relay.ConversationRoom(conv.ID)

	client := dialSocket(t, srv, "type=client&conversationId="+conv.ID)
	waitForRoomSize(t, g, room, 1)

	// Speculative rejoins after visibility changes are no-ops.
	for i := 0; i < 3; i++ {
		sendFrame(t, client, "rejoin-conversation", map[string]string{"conversationId": conv.ID})
	}

	assert.Never(t, func() bool {
		return g.registry.RoomSize(room) != 1
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestSocketClientIsPinnedToOwnConversation(t *testing.T) {
	g, srv := newTestServer(t)
	mine := createConversation(t, g)
	other := createConversation(t, g)

	client := dialSocket(t, srv, "type=client&conversationId="+mine.ID)
	waitForRoomSize(t, g, relay.ConversationRoom(mine.ID), 1)

	// A frame claiming another conversation still lands in the session's own.
	sendFrame(t, client, "message", map[string]any{
		"conversationId": other.ID,
		"content":        "trying to cross over",
	})

	require.Eventually(t, func() bool {
		msgs, err := g.store.ListMessages(context.Background(), mine.ID)
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msgs, err := g.store.ListMessages(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSocketDropsMalformedFrames(t *testing.T) {
	g, srv := newTestServer(t)
	conv := createConversation(t, g)
	room := relay.ConversationRoom(conv.ID)

	client := dialSocket(t, srv, "type=client&conversationId="+conv.ID)
	waitForRoomSize(t, g, room, 1)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"event":"self-destruct","data":{}}`)))

	// The connection survives and still works.
	sendFrame(t, client, "message", map[string]any{
		"conversationId": conv.ID,
		"content":        "still here",
	})

	var payload relay.MessagePayload
	require.NoError(t, json.Unmarshal(readUntil(t, client, relay.EventMessage), &payload))
	assert.Equal(t, "still here", payload.Content)
}

func TestSocketRetriedFrameIsNotPersistedTwice(t *testing.T) {
	g, srv := newTestServer(t)
	conv := createConversation(t, g)
	room := relay.ConversationRoom(conv.ID)

	client := dialSocket(t, srv, "type=client&conversationId="+conv.ID)
	waitForRoomSize(t, g, room, 1)

	frame := map[string]any{
		"conversationId": conv.ID,
		"content":        "enviado duas vezes",
		"tempId":         "tmp-retry",
	}
	sendFrame(t, client, "message", frame)
	readUntil(t, client, relay.EventMessage)

	// The retry after a simulated reconnect gap is swallowed.
	sendFrame(t, client, "message", frame)

	require.Never(t, func() bool {
		msgs, err := g.store.ListMessages(context.Background(), conv.ID)
		return err != nil || len(msgs) != 1
	}, 300*time.Millisecond, 30*time.Millisecond)
}

func TestSocketDisconnectCleansUpMembership(t *testing.T) {
	g, srv := newTestServer(t)
	conv := createConversation(t, g)
	room := relay.ConversationRoom(conv.ID)

	client := dialSocket(t, srv, "type=client&conversationId="+conv.ID)
	waitForRoomSize(t, g, room, 1)

	require.NoError(t, client.Close())
	waitForRoomSize(t, g, room, 0)
}
