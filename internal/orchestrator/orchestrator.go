package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/mcp"
	"github.com/pocketomega/chatrelay/internal/store"
	"github.com/pocketomega/chatrelay/internal/tooldef"
	"github.com/pocketomega/chatrelay/internal/upstream"
)

// UpstreamStreamer is the slice of internal/upstream.Client the
// orchestrator consumes; tests satisfy it with a scripted stream built via
// upstream.NewStream.
type UpstreamStreamer interface {
	StreamResponse(ctx context.Context, req upstream.Request, authHeader string) *upstream.Stream
}

// ToolCaller is the slice of the MCP Client Facade the orchestrator needs
// to resolve FUNCTION tool calls.
type ToolCaller interface {
	CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (mcp.CallToolResult, error)
}

// ToolDefiner is the slice of the Tool Definition Provider the
// orchestrator needs: tool blocks for new turns, candidate servers for
// function-call routing.
type ToolDefiner interface {
	BuildToolBlocks(ctx context.Context) ([]tooldef.ToolBlock, error)
	CandidateServersForTool(ctx context.Context, toolName string) ([]string, error)
}

// Orchestrator runs streaming turns. One goroutine is spawned per turn; the
// caller consumes the returned channel until it is closed.
type Orchestrator struct {
	store    store.Store
	upstream UpstreamStreamer
	facade   ToolCaller
	tools    ToolDefiner

	toolExecutionTimeout time.Duration
}

// New builds an Orchestrator from its collaborators.
func New(s store.Store, up UpstreamStreamer, facade ToolCaller, tools ToolDefiner, toolExecutionTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		store:                s,
		upstream:             up,
		facade:               facade,
		tools:                tools,
		toolExecutionTimeout: toolExecutionTimeout,
	}
}

// StreamResponses runs req as a new or continuing turn, returning a
// channel of ClientEvents. The channel is closed when the turn ends
// (terminal upstream event, critical error, or ctx cancellation); it is
// never restarted.
func (o *Orchestrator) StreamResponses(ctx context.Context, req Request, authHeader string) <-chan ClientEvent {
	out := make(chan ClientEvent, 64)
	go func() {
		defer close(out)
		o.runTurn(ctx, req, authHeader, out)
	}()
	return out
}

// SendApprovalResponse resumes conversationID's upstream context with an
// mcp_approval_response input item tied by previous_response_id. It runs
// as an independent turn: the orchestrator never
// blocks a goroutine waiting for this call, since the original turn's
// goroutine already exited at response.completed.
func (o *Orchestrator) SendApprovalResponse(ctx context.Context, conversationID int64, approvalRequestID string, approve bool, reason *string, authHeader string) <-chan ClientEvent {
	out := make(chan ClientEvent, 64)
	go func() {
		defer close(out)

		conv, err := o.store.GetConversation(ctx, conversationID)
		if err != nil {
			o.emitError(ctx, out, err)
			return
		}
		if conv.ResponseID == nil || *conv.ResponseID == "" {
			o.emitError(ctx, out, errs.Wrap(errs.ApprovalContextMissing, "orchestrator: approval reply has no responseId", nil))
			return
		}

		item := map[string]any{
			"type":                "mcp_approval_response",
			"approval_request_id": approvalRequestID,
			"approve":             approve,
		}
		if reason != nil {
			item["reason"] = *reason
		}

		req := Request{
			ConversationID: &conversationID,
			Payload:        map[string]any{"input": []any{item}},
		}
		if err := o.store.UpdateConversationStatus(ctx, conv.ID, store.ConversationStreaming, nil); err != nil {
			o.emitError(ctx, out, err)
			return
		}
		o.runStream(ctx, conv, req, authHeader, conv.ResponseID, out)
	}()
	return out
}

func (o *Orchestrator) runTurn(ctx context.Context, req Request, authHeader string, out chan<- ClientEvent) {
	if req.Payload == nil {
		o.emitError(ctx, out, errs.Wrap(errs.InvalidRequest, "orchestrator: payload must be an object", nil))
		return
	}

	conv, err := o.ensureConversation(ctx, req.ConversationID, req.Title)
	if err != nil {
		o.emitError(ctx, out, err)
		return
	}

	o.emitSynthetic(ctx, out, "conversation.ready", map[string]any{
		"id":         conv.ID,
		"title":      conv.Title,
		"status":     conv.Status,
		"responseId": conv.ResponseID,
	})

	blocks, err := o.tools.BuildToolBlocks(ctx)
	if err != nil {
		o.emitError(ctx, out, err)
		return
	}
	if len(blocks) > 0 {
		req.Payload["tools"] = blocks
	}

	if err := o.store.UpdateConversationStatus(ctx, conv.ID, store.ConversationStreaming, nil); err != nil {
		o.emitError(ctx, out, err)
		return
	}
	conv.Status = store.ConversationStreaming

	o.runStream(ctx, conv, req, authHeader, nil, out)
}

// runStream drives one upstream SSE stream to completion (or failure),
// dispatching each event through the turnState machine and forwarding to
// out. Approval replays never inject tools onto req.Payload — the caller
// (SendApprovalResponse) never sets them — because the upstream server
// remembers tool context from previous_response_id.
func (o *Orchestrator) runStream(ctx context.Context, conv *store.Conversation, req Request, authHeader string, previousResponseID *string, out chan<- ClientEvent) {
	ts := newTurnState(conv.ID)
	ts.authHeader = authHeader

	upReq := upstream.Request{Extra: req.Payload}
	if previousResponseID != nil {
		upReq.PreviousResponseID = *previousResponseID
	}

	stream := o.upstream.StreamResponse(ctx, upReq, authHeader)

	sawAnyEvent := false
	for stream.Next() {
		sawAnyEvent = true
		if stop := o.dispatch(ctx, ts, stream.Current(), out); stop {
			return
		}
	}

	if err := stream.Err(); err != nil {
		o.emitSynthetic(ctx, out, "error", map[string]any{"code": "transport_error", "message": err.Error()})
		if ts.finalStatus == "" {
			reason := "stream_interrupted"
			switch {
			case errors.Is(err, context.Canceled):
				reason = "client_disconnected"
			case !sawAnyEvent:
				reason = "connect_failed"
			}
			o.finalizeFailed(ctx, ts, reason, out)
		}
		return
	}

	// Clean close with no terminal event observed is still a failure: the
	// upstream never told us how the turn ended.
	if ts.finalStatus == "" {
		o.finalizeFailed(ctx, ts, "stream_interrupted", out)
	}
}

func (o *Orchestrator) ensureConversation(ctx context.Context, conversationID *int64, title string) (*store.Conversation, error) {
	if conversationID == nil {
		return o.store.CreateConversation(ctx, title)
	}
	return o.store.GetConversation(ctx, *conversationID)
}

// emitSynthetic marshals and forwards an orchestrator-originated event,
// blocking (subject to ctx cancellation) rather than dropping it — the
// ordering invariant requires every synthesized and forwarded event to
// reach the client.
func (o *Orchestrator) emitSynthetic(ctx context.Context, out chan<- ClientEvent, name string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", name).Msg("orchestrator: marshal synthetic event failed")
		return
	}
	select {
	case out <- ClientEvent{Name: name, Data: data}:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) emitError(ctx context.Context, out chan<- ClientEvent, err error) {
	o.emitSynthetic(ctx, out, "error", map[string]any{"code": "error", "message": err.Error()})
}
