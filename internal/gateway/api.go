// ABOUTME: HTTP API handlers for conversations, messages, login and stats
// ABOUTME: JSON in, JSON out, with validator-checked request bodies

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/conversation"
	"github.com/parley-chat/parley/internal/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CreateConversationRequest is the JSON request body for POST /api/conversations.
type CreateConversationRequest struct {
	ClientName  string `json:"clientName" validate:"required,min=1,max=120"`
	ClientPhone string `json:"clientPhone" validate:"required,min=8,max=20"`
}

// LoginRequest is the JSON request body for POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// PostMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type PostMessageRequest struct {
	Sender   string `json:"sender" validate:"required,oneof=client attendant"`
	Content  string `json:"content"`
	Type     string `json:"type" validate:"omitempty,oneof=text image video audio file"`
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	TempID   string `json:"tempId"`
}

// AssignRequest is the JSON request body for POST /api/conversations/{id}/assign.
// AttendantID defaults to the authenticated attendant when omitted.
type AssignRequest struct {
	AttendantID string `json:"attendantId"`
}

// SetStatusRequest is the JSON request body for PATCH /api/conversations/{id}/status.
type SetStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// ConversationResponse is the JSON shape of a single conversation.
type ConversationResponse struct {
	ID          string  `json:"id"`
	ClientName  string  `json:"clientName"`
	ClientPhone string  `json:"clientPhone"`
	Status      string  `json:"status"`
	AttendantID *string `json:"attendantId"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

// ConversationSummaryResponse is one row of the attendant conversation list.
type ConversationSummaryResponse struct {
	ID              string `json:"id"`
	ClientName      string `json:"clientName"`
	ClientPhone     string `json:"clientPhone"`
	Status          string `json:"status"`
	LastMessage     string `json:"lastMessage"`
	LastMessageTime string `json:"lastMessageTime"`
}

// MessageResponse is the JSON shape of a persisted message.
type MessageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Sender         string `json:"sender"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	FileURL        string `json:"fileUrl,omitempty"`
	FileName       string `json:"fileName,omitempty"`
	FileSize       int64  `json:"fileSize,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

// LeadResponse is one row of the attendant leads view.
type LeadResponse struct {
	ID              string `json:"id"`
	ClientName      string `json:"clientName"`
	ClientPhone     string `json:"clientPhone"`
	Status          string `json:"status"`
	CreatedAt       string `json:"createdAt"`
	LastMessageTime string `json:"lastMessageTime"`
	MessageCount    int    `json:"messageCount"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token     string `json:"token"`
	Attendant struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"attendant"`
}

func conversationResponse(conv *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:          conv.ID,
		ClientName:  conv.ClientName,
		ClientPhone: conv.ClientPhone,
		Status:      conv.Status,
		AttendantID: conv.AttendantID,
		CreatedAt:   conv.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   conv.UpdatedAt.Format(time.RFC3339),
	}
}

func messageResponse(msg *store.Message) MessageResponse {
	return MessageResponse{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		Content:        msg.Content,
		Type:           msg.Type,
		FileURL:        msg.FileURL,
		FileName:       msg.FileName,
		FileSize:       msg.FileSize,
		CreatedAt:      msg.CreatedAt.Format(time.RFC3339),
	}
}

// decodeAndValidate parses a JSON body into dst and runs struct validation.
func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return validate.Struct(dst)
}

// sendJSON writes a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// storeError maps store and service failures onto HTTP statuses.
func (g *Gateway) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, conversation.ErrInvalidStatus),
		errors.Is(err, conversation.ErrInvalidSender),
		errors.Is(err, conversation.ErrEmptyMessage):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleLogin verifies attendant credentials and returns a session token.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	result, err := g.authenticator.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			g.sendJSONError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		g.storeError(w, err)
		return
	}

	var resp LoginResponse
	resp.Token = result.Token
	resp.Attendant.ID = result.Attendant.ID
	resp.Attendant.Name = result.Attendant.Name
	resp.Attendant.Username = result.Attendant.Username
	g.sendJSON(w, http.StatusOK, resp)
}

// handleCreateConversation opens a conversation for a customer.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := decodeAndValidate(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "clientName and clientPhone are required")
		return
	}

	conv, err := g.conversations.Create(r.Context(), req.ClientName, req.ClientPhone)
	if err != nil {
		g.storeError(w, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, conversationResponse(conv))
}

// handleGetConversation returns one conversation. Customers call this on
// reconnect to check their conversation still exists before rejoining.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := g.conversations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		g.storeError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, conversationResponse(conv))
}

// handleListConversations returns every conversation with its latest
// message, newest activity first.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := g.conversations.List(r.Context())
	if err != nil {
		g.storeError(w, err)
		return
	}

	rows := lo.Map(summaries, func(s *store.ConversationSummary, _ int) ConversationSummaryResponse {
		return ConversationSummaryResponse{
			ID:          s.ID,
			ClientName:  s.ClientName,
			ClientPhone: s.ClientPhone,
			Status:      s.Status,
			// Captionless attachments get their kind label in the list.
			LastMessage:     conversation.DisplayLabel(&store.Message{Content: s.LastMessage, Type: s.LastMessageType}),
			LastMessageTime: s.LastMessageTime.Format(time.RFC3339),
		}
	})
	g.sendJSON(w, http.StatusOK, rows)
}

// handleListMessages returns a conversation's full history in stable order.
// This is the reconciliation source after any connectivity gap.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := g.conversations.Messages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		g.storeError(w, err)
		return
	}

	rows := lo.Map(msgs, func(m *store.Message, _ int) MessageResponse {
		return messageResponse(m)
	})
	g.sendJSON(w, http.StatusOK, rows)
}

// handlePostMessage persists and fans out a message over REST. The socket is
// the usual path; this exists for clients that cannot hold a connection.
func (g *Gateway) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := decodeAndValidate(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid message body")
		return
	}

	msg, err := g.conversations.Post(r.Context(), conversation.PostRequest{
		ConversationID: chi.URLParam(r, "id"),
		Sender:         req.Sender,
		Content:        req.Content,
		Type:           req.Type,
		FileURL:        req.FileURL,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		TempID:         req.TempID,
	})
	if err != nil {
		g.storeError(w, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, messageResponse(msg))
}

// handleAssignConversation hands the conversation to an attendant. Without
// an explicit attendantId the caller assigns it to themselves.
func (g *Gateway) handleAssignConversation(w http.ResponseWriter, r *http.Request) {
	// The body is optional; an empty or absent body means self-assign.
	var req AssignRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	attendantID := req.AttendantID
	if attendantID == "" {
		authCtx := auth.FromContext(r.Context())
		if authCtx == nil {
			g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		attendantID = authCtx.AttendantID
	}

	conv, err := g.conversations.Assign(r.Context(), chi.URLParam(r, "id"), attendantID)
	if err != nil {
		g.storeError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, conversationResponse(conv))
}

// handleSetStatus moves a conversation to another status.
func (g *Gateway) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if err := decodeAndValidate(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "status is required")
		return
	}

	conv, err := g.conversations.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		g.storeError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, conversationResponse(conv))
}

// handleListLeads returns every conversation as a lead row, newest first.
func (g *Gateway) handleListLeads(w http.ResponseWriter, r *http.Request) {
	leads, err := g.conversations.Leads(r.Context())
	if err != nil {
		g.storeError(w, err)
		return
	}

	out := lo.Map(leads, func(lead *store.Lead, _ int) LeadResponse {
		return LeadResponse{
			ID:              lead.ID,
			ClientName:      lead.ClientName,
			ClientPhone:     lead.ClientPhone,
			Status:          lead.Status,
			CreatedAt:       lead.CreatedAt.Format(time.RFC3339),
			LastMessageTime: lead.LastMessageTime.Format(time.RFC3339),
			MessageCount:    lead.MessageCount,
		}
	})
	g.sendJSON(w, http.StatusOK, map[string]any{"leads": out})
}

// handleStats returns the dashboard aggregates.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := g.conversations.Stats(r.Context())
	if err != nil {
		g.storeError(w, err)
		return
	}

	g.sendJSON(w, http.StatusOK, map[string]any{
		"totalLeads":     stats.TotalLeads,
		"leadsToday":     stats.LeadsToday,
		"leadsThisMonth": stats.LeadsThisMonth,
		"lastSevenDays": lo.Map(stats.LastSevenDays, func(d store.DayCount, _ int) map[string]any {
			return map[string]any{"date": d.Date, "count": d.Count}
		}),
		"byStatus": stats.ByStatus,
	})
}
