// ABOUTME: HTTP API tests against a fully wired gateway with in-memory sqlite
// ABOUTME: Covers auth, conversation lifecycle, message history and stats

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/store"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.Path = ":memory:"
	cfg.Auth.JWTSecret = "test-secret"
	return cfg
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := New(testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		g.registry.Close()
		g.dedupe.Close()
		_ = g.store.Close()
	})
	return g
}

func newTestServer(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()
	g := newTestGateway(t)
	srv := httptest.NewServer(g.routes())
	t.Cleanup(srv.Close)
	return g, srv
}

// seedAttendant creates an attendant and returns a valid session token.
func seedAttendant(t *testing.T, g *Gateway, username string) (*store.Attendant, string) {
	t.Helper()
	hash, err := auth.HashPassword("senha123")
	require.NoError(t, err)
	att := &store.Attendant{
		ID:           "att-" + username,
		Name:         "Attendant " + username,
		Username:     username,
		PasswordHash: hash,
	}
	require.NoError(t, g.store.CreateAttendant(context.Background(), att))

	token, err := g.verifier.Generate(att.ID, time.Hour)
	require.NoError(t, err)
	return att, token
}

func postJSON(t *testing.T, url string, token string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateConversationEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/conversations", "", map[string]string{
		"clientName":  "Maria",
		"clientPhone": "+5511999991234",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	conv := decodeBody[ConversationResponse](t, resp)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "Maria", conv.ClientName)
	assert.Equal(t, store.StatusWaiting, conv.Status)
	assert.Nil(t, conv.AttendantID)
}

func TestCreateConversationValidation(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/conversations", "", map[string]string{
		"clientName": "Maria",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetConversationNotFound(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/conversations/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLoginAndListConversations(t *testing.T) {
	g, srv := newTestServer(t)
	seedAttendant(t, g, "ana")

	// Attendant list requires a token.
	resp, err := http.Get(srv.URL + "/api/conversations")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Login issues one.
	resp = postJSON(t, srv.URL+"/api/auth/login", "", map[string]string{
		"username": "ana",
		"password": "senha123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decodeBody[LoginResponse](t, resp)
	require.NotEmpty(t, login.Token)
	assert.Equal(t, "ana", login.Attendant.Username)

	// Seed a conversation with a message so the list has content.
	resp = postJSON(t, srv.URL+"/api/conversations", "", map[string]string{
		"clientName":  "Maria",
		"clientPhone": "+5511999991234",
	})
	conv := decodeBody[ConversationResponse](t, resp)
	resp = postJSON(t, srv.URL+"/api/conversations/"+conv.ID+"/messages", "", map[string]any{
		"sender":  "client",
		"content": "quero saber do imóvel",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/conversations", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rows := decodeBody[[]ConversationSummaryResponse](t, resp)
	require.Len(t, rows, 1)
	assert.Equal(t, conv.ID, rows[0].ID)
	assert.Equal(t, "quero saber do imóvel", rows[0].LastMessage)
}

func TestLoginBadPassword(t *testing.T) {
	g, srv := newTestServer(t)
	seedAttendant(t, g, "ana")

	resp := postJSON(t, srv.URL+"/api/auth/login", "", map[string]string{
		"username": "ana",
		"password": "errada",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPostAndListMessages(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/conversations", "", map[string]string{
		"clientName":  "Maria",
		"clientPhone": "+5511999991234",
	})
	conv := decodeBody[ConversationResponse](t, resp)

	for i := 0; i < 3; i++ {
		resp = postJSON(t, srv.URL+"/api/conversations/"+conv.ID+"/messages", "", map[string]any{
			"sender":  "client",
			"content": fmt.Sprintf("mensagem %d", i),
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	histResp, err := http.Get(srv.URL + "/api/conversations/" + conv.ID + "/messages")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, histResp.StatusCode)

	msgs := decodeBody[[]MessageResponse](t, histResp)
	require.Len(t, msgs, 3)
	assert.Equal(t, "mensagem 0", msgs[0].Content)
	assert.Equal(t, "mensagem 2", msgs[2].Content)
}

func TestPostMessageRejectsEmptyBody(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/conversations", "", map[string]string{
		"clientName":  "Maria",
		"clientPhone": "+5511999991234",
	})
	conv := decodeBody[ConversationResponse](t, resp)

	resp = postJSON(t, srv.URL+"/api/conversations/"+conv.ID+"/messages", "", map[string]any{
		"sender": "client",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAssignDefaultsToSelf(t *testing.T) {
	g, srv := newTestServer(t)
	att, token := seedAttendant(t, g, "ana")

	resp := postJSON(t, srv.URL+"/api/conversations", "", map[string]string{
		"clientName":  "Maria",
		"clientPhone": "+5511999991234",
	})
	conv := decodeBody[ConversationResponse](t, resp)

	resp = postJSON(t, srv.URL+"/api/conversations/"+conv.ID+"/assign", token, map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assigned := decodeBody[ConversationResponse](t, resp)
	assert.Equal(t, store.StatusActive, assigned.Status)
	require.NotNil(t, assigned.AttendantID)
	assert.Equal(t, att.ID, *assigned.AttendantID)
}

func TestSetStatusEndpoint(t *testing.T) {
	g, srv := newTestServer(t)
	_, token := seedAttendant(t, g, "ana")

	resp := postJSON(t, srv.URL+"/api/conversations", "", map[string]string{
		"clientName":  "Maria",
		"clientPhone": "+5511999991234",
	})
	conv := decodeBody[ConversationResponse](t, resp)

	req, err := http.NewRequest(http.MethodPatch, srv.URL+"/api/conversations/"+conv.ID+"/status",
		bytes.NewReader([]byte(`{"status":"sold"}`)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	updated := decodeBody[ConversationResponse](t, resp)
	assert.Equal(t, store.StatusSold, updated.Status)

	// Unknown status values are rejected.
	req, err = http.NewRequest(http.MethodPatch, srv.URL+"/api/conversations/"+conv.ID+"/status",
		bytes.NewReader([]byte(`{"status":"escalated"}`)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	g, srv := newTestServer(t)
	_, token := seedAttendant(t, g, "ana")

	for i := 0; i < 2; i++ {
		resp := postJSON(t, srv.URL+"/api/conversations", "", map[string]string{
			"clientName":  "Maria",
			"clientPhone": "+5511999991234",
		})
		resp.Body.Close()
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/stats", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats := decodeBody[map[string]any](t, resp)
	assert.EqualValues(t, 2, stats["totalLeads"])
	assert.EqualValues(t, 2, stats["leadsToday"])
}

func TestLeadsEndpoint(t *testing.T) {
	g, srv := newTestServer(t)
	_, token := seedAttendant(t, g, "ana")

	resp := postJSON(t, srv.URL+"/api/conversations", "", map[string]string{
		"clientName":  "Maria",
		"clientPhone": "+5511999991234",
	})
	conv := decodeBody[ConversationResponse](t, resp)

	resp = postJSON(t, srv.URL+"/api/conversations/"+conv.ID+"/messages", "", map[string]string{
		"content": "quero saber do imóvel",
		"sender":  "client",
	})
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/leads", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[map[string][]LeadResponse](t, resp)
	leads := body["leads"]
	require.Len(t, leads, 1)
	assert.Equal(t, conv.ID, leads[0].ID)
	assert.Equal(t, "Maria", leads[0].ClientName)
	assert.Equal(t, "+5511999991234", leads[0].ClientPhone)
	assert.Equal(t, store.StatusWaiting, leads[0].Status)
	assert.Equal(t, 1, leads[0].MessageCount)
	assert.NotEmpty(t, leads[0].CreatedAt)
	assert.NotEmpty(t, leads[0].LastMessageTime)
}

func TestLeadsRequiresAuth(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/leads")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	_, srv := newTestServer(t)

	for _, path := range []string{"/health", "/health/ready"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
