package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pocketomega/chatrelay/internal/orchestrator"
)

// Streamer is the slice of the Streaming Orchestrator the responses
// handlers consume.
type Streamer interface {
	StreamResponses(ctx context.Context, req orchestrator.Request, authHeader string) <-chan orchestrator.ClientEvent
	SendApprovalResponse(ctx context.Context, conversationID int64, approvalRequestID string, approve bool, reason *string, authHeader string) <-chan orchestrator.ClientEvent
}

// ResponsesHandler serves POST /responses/stream and
// POST /responses/approval-response.
type ResponsesHandler struct {
	orch Streamer
	// defaultAPIKey backs requests that carry no Authorization header of
	// their own; the caller-supplied credential always wins.
	defaultAPIKey string
}

// NewResponsesHandler builds a ResponsesHandler.
func NewResponsesHandler(orch Streamer, defaultAPIKey string) *ResponsesHandler {
	return &ResponsesHandler{orch: orch, defaultAPIKey: defaultAPIKey}
}

type streamRequest struct {
	ConversationID *int64         `json:"conversation_id"`
	Title          string         `json:"title"`
	Payload        map[string]any `json:"payload"`
}

// HandleStream is POST /responses/stream.
func (h *ResponsesHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Payload == nil {
		http.Error(w, "payload must be a JSON object", http.StatusBadRequest)
		return
	}

	sse := newSSEWriter(w, r)
	if sse == nil {
		return
	}

	events := h.orch.StreamResponses(r.Context(), orchestrator.Request{
		ConversationID: req.ConversationID,
		Title:          req.Title,
		Payload:        req.Payload,
	}, h.authFor(r))
	pipeClientEvents(sse, events)
}

type approvalResponseRequest struct {
	ConversationID    int64   `json:"conversation_id"`
	ApprovalRequestID string  `json:"approval_request_id"`
	Approve           bool    `json:"approve"`
	Reason            *string `json:"reason"`
}

// HandleApprovalResponse is POST /responses/approval-response.
func (h *ResponsesHandler) HandleApprovalResponse(w http.ResponseWriter, r *http.Request) {
	var req approvalResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ConversationID == 0 || req.ApprovalRequestID == "" {
		http.Error(w, "conversation_id and approval_request_id are required", http.StatusBadRequest)
		return
	}

	sse := newSSEWriter(w, r)
	if sse == nil {
		return
	}

	events := h.orch.SendApprovalResponse(r.Context(), req.ConversationID, req.ApprovalRequestID, req.Approve, req.Reason, h.authFor(r))
	pipeClientEvents(sse, events)
}

// authFor extracts the bearer credential the orchestrator forwards
// upstream: the inbound Authorization header when present, the configured
// default key otherwise.
func (h *ResponsesHandler) authFor(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok && token != "" {
		return token
	}
	return h.defaultAPIKey
}
