package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/store"
	"github.com/pocketomega/chatrelay/internal/upstream"
)

// dispatch maps one upstream SSE event onto the turn's in-memory state,
// persistence writes, and the client-visible event stream. It returns
// stop=true only for a raw
// "error" event (no "response." prefix), which is critical and ends the
// stream; every other event lets the caller keep draining stream.Next().
func (o *Orchestrator) dispatch(ctx context.Context, ts *turnState, ev upstream.Event, out chan<- ClientEvent) (stop bool) {
	o.forward(ctx, out, ev)

	switch {
	case ev.Type == "error":
		o.handleCriticalError(ctx, ts, ev, out)
		return true

	case ev.Type == "response.created":
		o.handleResponseCreated(ctx, ts, ev)

	case ev.Type == "response.in_progress":
		// No state change; already forwarded above.

	case ev.Type == "response.output_item.added":
		o.handleOutputItemAdded(ctx, ts, ev)

	case ev.Type == "response.output_text.delta" || ev.Type == "response.refusal.delta":
		o.handleTextDelta(ctx, ts, ev)

	case ev.Type == "response.output_text.done" || ev.Type == "response.refusal.done":
		o.handleTextDone(ctx, ts, ev)

	case ev.Type == "response.content_part.added" || ev.Type == "response.content_part.done":
		// Structural only; already forwarded above.

	case ev.Type == "response.function_call_arguments.delta" || ev.Type == "response.mcp_call.arguments.delta":
		o.handleArgumentsDelta(ctx, ts, ev)

	case ev.Type == "response.function_call_arguments.done" || ev.Type == "response.mcp_call.arguments.done":
		o.handleArgumentsDone(ctx, ts, ev)

	case ev.Type == "response.mcp_call.in_progress":
		o.handleToolStatusOnly(ctx, ts, ev, store.ToolCallInProgress)

	case ev.Type == "response.mcp_call.completed":
		o.handleMCPCallCompleted(ctx, ts, ev)

	case ev.Type == "response.mcp_call.failed":
		o.handleMCPCallFailed(ctx, ts, ev)

	case ev.Type == "response.mcp_list_tools.completed":
		// Internal; ignore for persistence. Already forwarded above.

	case ev.Type == "response.mcp_approval_request":
		o.handleApprovalRequest(ctx, ts, ev, out)

	case ev.Type == "response.output_item.done":
		o.handleOutputItemDone(ctx, ts, ev)

	case ev.Type == "response.completed":
		o.finalizeTerminal(ctx, ts, store.ConversationCompleted, nil, out)

	case ev.Type == "response.incomplete":
		reason := incompleteReason(ev.Raw)
		o.finalizeTerminal(ctx, ts, store.ConversationIncomplete, &reason, out)

	case ev.Type == "response.failed":
		reason := failedReason(ev.Raw)
		o.finalizeTerminal(ctx, ts, store.ConversationFailed, &reason, out)

	case ev.Type == "response.error":
		// Non-terminal; status changes only if the stream subsequently
		// closes with no terminal event (handled in runStream).

	case isGenericToolLifecycle(ev.Type):
		o.handleGenericToolLifecycle(ctx, ts, ev)

	default:
		// Unknown event: forwarded opaquely above, otherwise ignored.
	}
	return false
}

// forward relays ev to the client verbatim, preserving upstream ordering.
func (o *Orchestrator) forward(ctx context.Context, out chan<- ClientEvent, ev upstream.Event) {
	select {
	case out <- ClientEvent{Name: ev.Type, Data: ev.Raw}:
	case <-ctx.Done():
	}
}

// isGenericToolLifecycle matches the catch-all "response.{tool}.in_progress
// /.executing/.completed/.failed" family that isn't one of the specifically-named
// mcp_call/function_call_arguments events above (e.g. file_search,
// code_interpreter, web_search lifecycle events).
func isGenericToolLifecycle(eventType string) bool {
	if !strings.HasPrefix(eventType, "response.") {
		return false
	}
	for _, suffix := range []string{".in_progress", ".executing", ".completed", ".failed"} {
		if strings.HasSuffix(eventType, suffix) {
			return true
		}
	}
	return false
}

// --- response.created ---

func (o *Orchestrator) handleResponseCreated(ctx context.Context, ts *turnState, ev upstream.Event) {
	var env struct {
		Response struct {
			ID string `json:"id"`
		} `json:"response"`
	}
	if err := json.Unmarshal(ev.Raw, &env); err != nil || env.Response.ID == "" {
		log.Warn().Err(err).Msg("orchestrator: response.created without response.id")
		return
	}
	ts.responseID = env.Response.ID
	if err := o.store.SetConversationResponseID(ctx, ts.conversationID, ts.responseID); err != nil {
		log.Error().Err(err).Int64("conversation_id", ts.conversationID).Msg("orchestrator: persist response_id failed")
	}
}

// --- response.output_item.added / .done ---

type outputItemEnvelope struct {
	OutputIndex int `json:"output_index"`
	Item        struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"item"`
}

func (o *Orchestrator) handleOutputItemAdded(ctx context.Context, ts *turnState, ev upstream.Event) {
	var env outputItemEnvelope
	if err := json.Unmarshal(ev.Raw, &env); err != nil {
		log.Warn().Err(err).Msg("orchestrator: malformed output_item.added")
		return
	}

	switch env.Item.Type {
	case "message":
		ts.outputs[env.OutputIndex] = &outputState{itemID: env.Item.ID}
		_, err := o.store.UpsertMessageByItemID(ctx, &store.Message{
			ConversationID: ts.conversationID,
			Role:           store.RoleAssistant,
			Content:        "",
			OutputIndex:    &env.OutputIndex,
			ItemID:         &env.Item.ID,
		})
		if err != nil {
			log.Error().Err(err).Str("item_id", env.Item.ID).Msg("orchestrator: persist pending message failed")
		}
	case "function_call", "mcp_call", "mcp_approval_request":
		typ := store.ToolCallMCP
		if env.Item.Type == "function_call" {
			typ = store.ToolCallFunction
		}
		ts.toolCalls[env.Item.ID] = &toolCallState{
			typ:         string(typ),
			name:        env.Item.Name,
			outputIndex: env.OutputIndex,
			status:      string(store.ToolCallInProgress),
		}
		o.persistToolCallPatch(ctx, ts.conversationID, &store.ToolCall{
			Type:        typ,
			Name:        env.Item.Name,
			ItemID:      env.Item.ID,
			Status:      store.ToolCallInProgress,
			OutputIndex: &env.OutputIndex,
		})
	}
}

func (o *Orchestrator) handleOutputItemDone(ctx context.Context, ts *turnState, ev upstream.Event) {
	var env outputItemEnvelope
	if err := json.Unmarshal(ev.Raw, &env); err != nil {
		log.Warn().Err(err).Msg("orchestrator: malformed output_item.done")
		return
	}

	if os, ok := ts.outputs[env.OutputIndex]; ok && !os.finalized {
		os.finalized = true
		_, err := o.store.UpsertMessageByItemID(ctx, &store.Message{
			ConversationID: ts.conversationID,
			Role:           store.RoleAssistant,
			Content:        string(os.accumulator),
			OutputIndex:    &env.OutputIndex,
			ItemID:         &os.itemID,
			RawJSON:        ev.Raw,
		})
		if err != nil {
			log.Error().Err(err).Msg("orchestrator: idempotent message finalize failed")
		}
	}
	// ToolCall rows are finalized by their own .done/.completed/.failed
	// events; output_item.done for a tool-shaped item is a no-op here.
}

// --- text / refusal deltas ---

type textDeltaEnvelope struct {
	OutputIndex int    `json:"output_index"`
	ItemID      string `json:"item_id"`
	Delta       string `json:"delta"`
}

func (o *Orchestrator) handleTextDelta(ctx context.Context, ts *turnState, ev upstream.Event) {
	var env textDeltaEnvelope
	if err := json.Unmarshal(ev.Raw, &env); err != nil {
		log.Warn().Err(err).Msg("orchestrator: malformed text delta")
		return
	}
	os, ok := ts.outputs[env.OutputIndex]
	if !ok {
		os = &outputState{itemID: env.ItemID}
		ts.outputs[env.OutputIndex] = os
	}
	os.accumulator = append(os.accumulator, env.Delta...)

	outIdx := env.OutputIndex
	itemID := os.itemID
	if itemID == "" {
		itemID = env.ItemID
	}
	_, err := o.store.UpsertMessageByItemID(ctx, &store.Message{
		ConversationID: ts.conversationID,
		Role:           store.RoleAssistant,
		Content:        string(os.accumulator),
		OutputIndex:    &outIdx,
		ItemID:         &itemID,
	})
	if err != nil {
		log.Error().Err(err).Msg("orchestrator: persist text delta failed")
	}
}

type textDoneEnvelope struct {
	OutputIndex int    `json:"output_index"`
	ItemID      string `json:"item_id"`
	Text        string `json:"text"`
}

func (o *Orchestrator) handleTextDone(ctx context.Context, ts *turnState, ev upstream.Event) {
	var env textDoneEnvelope
	if err := json.Unmarshal(ev.Raw, &env); err != nil {
		log.Warn().Err(err).Msg("orchestrator: malformed text done")
		return
	}
	os, ok := ts.outputs[env.OutputIndex]
	if !ok {
		os = &outputState{}
		ts.outputs[env.OutputIndex] = os
	}
	os.accumulator = []byte(env.Text)
	os.finalized = true
	if os.itemID == "" {
		os.itemID = env.ItemID
	}

	outIdx := env.OutputIndex
	itemID := os.itemID
	_, err := o.store.UpsertMessageByItemID(ctx, &store.Message{
		ConversationID: ts.conversationID,
		Role:           store.RoleAssistant,
		Content:        env.Text,
		OutputIndex:    &outIdx,
		ItemID:         &itemID,
		RawJSON:        ev.Raw,
	})
	if err != nil {
		log.Error().Err(err).Msg("orchestrator: persist text done failed")
	}
}

// --- function / mcp call arguments ---

type argsDeltaEnvelope struct {
	ItemID string `json:"item_id"`
	Delta  string `json:"delta"`
}

func (o *Orchestrator) handleArgumentsDelta(ctx context.Context, ts *turnState, ev upstream.Event) {
	var env argsDeltaEnvelope
	if err := json.Unmarshal(ev.Raw, &env); err != nil {
		log.Warn().Err(err).Msg("orchestrator: malformed arguments delta")
		return
	}
	tc, ok := ts.toolCalls[env.ItemID]
	if !ok {
		return
	}
	tc.argsBuffer = append(tc.argsBuffer, env.Delta...)
	o.persistToolCallPatch(ctx, ts.conversationID, &store.ToolCall{
		ItemID:        env.ItemID,
		ArgumentsJSON: wrapAsJSON(string(tc.argsBuffer)),
		Status:        store.ToolCallInProgress,
	})
}

type argsDoneEnvelope struct {
	ItemID    string `json:"item_id"`
	Arguments string `json:"arguments"`
}

func (o *Orchestrator) handleArgumentsDone(ctx context.Context, ts *turnState, ev upstream.Event) {
	var env argsDoneEnvelope
	if err := json.Unmarshal(ev.Raw, &env); err != nil {
		log.Warn().Err(err).Msg("orchestrator: malformed arguments done")
		return
	}
	tc, ok := ts.toolCalls[env.ItemID]
	if !ok {
		tc = &toolCallState{typ: string(store.ToolCallFunction), status: string(store.ToolCallInProgress)}
		ts.toolCalls[env.ItemID] = tc
	}
	tc.argsBuffer = []byte(env.Arguments)
	o.persistToolCallPatch(ctx, ts.conversationID, &store.ToolCall{
		ItemID:        env.ItemID,
		ArgumentsJSON: wrapAsJSON(env.Arguments),
		Status:        store.ToolCallInProgress,
	})
}

// --- mcp_call lifecycle ---

type itemIDEnvelope struct {
	ItemID string `json:"item_id"`
}

func (o *Orchestrator) handleToolStatusOnly(ctx context.Context, ts *turnState, ev upstream.Event, status store.ToolCallStatus) {
	var env itemIDEnvelope
	if err := json.Unmarshal(ev.Raw, &env); err != nil || env.ItemID == "" {
		return
	}
	if tc, ok := ts.toolCalls[env.ItemID]; ok {
		tc.status = string(status)
	}
	o.persistToolCallPatch(ctx, ts.conversationID, &store.ToolCall{ItemID: env.ItemID, Status: status})
}

type mcpCallCompletedEnvelope struct {
	ItemID string          `json:"item_id"`
	Output json.RawMessage `json:"output"`
}

func (o *Orchestrator) handleMCPCallCompleted(ctx context.Context, ts *turnState, ev upstream.Event) {
	var env mcpCallCompletedEnvelope
	if err := json.Unmarshal(ev.Raw, &env); err != nil || env.ItemID == "" {
		log.Warn().Err(err).Msg("orchestrator: malformed mcp_call.completed")
		return
	}
	if tc, ok := ts.toolCalls[env.ItemID]; ok {
		tc.status = string(store.ToolCallCompleted)
	}
	patch := &store.ToolCall{ItemID: env.ItemID, Status: store.ToolCallCompleted}
	if len(env.Output) > 0 {
		patch.ResultJSON = env.Output
	}
	o.persistToolCallPatch(ctx, ts.conversationID, patch)
}

type mcpCallFailedEnvelope struct {
	ItemID string `json:"item_id"`
	Error  string `json:"error"`
}

func (o *Orchestrator) handleMCPCallFailed(ctx context.Context, ts *turnState, ev upstream.Event) {
	var env mcpCallFailedEnvelope
	if err := json.Unmarshal(ev.Raw, &env); err != nil || env.ItemID == "" {
		log.Warn().Err(err).Msg("orchestrator: malformed mcp_call.failed")
		return
	}
	if tc, ok := ts.toolCalls[env.ItemID]; ok {
		tc.status = string(store.ToolCallFailed)
	}
	o.persistToolCallPatch(ctx, ts.conversationID, &store.ToolCall{
		ItemID:     env.ItemID,
		Status:     store.ToolCallFailed,
		ResultJSON: wrapAsJSON(env.Error),
	})
}

// handleGenericToolLifecycle mirrors any other per-tool lifecycle event
// this orchestrator does not give a dedicated handler to (file_search,
// code_interpreter, web_search, ...) onto the matching ToolCall's status.
func (o *Orchestrator) handleGenericToolLifecycle(ctx context.Context, ts *turnState, ev upstream.Event) {
	var env itemIDEnvelope
	if err := json.Unmarshal(ev.Raw, &env); err != nil || env.ItemID == "" {
		return
	}
	status := store.ToolCallInProgress
	switch {
	case strings.HasSuffix(ev.Type, ".completed"):
		status = store.ToolCallCompleted
	case strings.HasSuffix(ev.Type, ".failed"):
		status = store.ToolCallFailed
	}
	o.handleToolStatusOnly(ctx, ts, ev, status)
}

// --- mcp_approval_request ---

type approvalRequestEnvelope struct {
	ApprovalRequestID string          `json:"approval_request_id"`
	ServerLabel       string          `json:"server_label"`
	ToolName          string          `json:"tool_name"`
	Arguments         json.RawMessage `json:"arguments"`
}

// handleApprovalRequest persists an IN_PROGRESS MCP ToolCall keyed by the
// approval_request_id (this event carries no item_id of its own) and
// forwards a client-facing approval_required event.
func (o *Orchestrator) handleApprovalRequest(ctx context.Context, ts *turnState, ev upstream.Event, out chan<- ClientEvent) {
	var env approvalRequestEnvelope
	if err := json.Unmarshal(ev.Raw, &env); err != nil || env.ApprovalRequestID == "" {
		log.Warn().Err(err).Msg("orchestrator: malformed mcp_approval_request")
		return
	}

	ts.toolCalls[env.ApprovalRequestID] = &toolCallState{
		typ:    string(store.ToolCallMCP),
		name:   env.ToolName,
		status: string(store.ToolCallInProgress),
	}
	o.persistToolCallPatch(ctx, ts.conversationID, &store.ToolCall{
		Type:       store.ToolCallMCP,
		Name:       env.ToolName,
		ItemID:     env.ApprovalRequestID,
		Status:     store.ToolCallInProgress,
		ResultJSON: json.RawMessage(`{"status_detail":"awaiting approval"}`),
	})

	o.emitSynthetic(ctx, out, "approval_required", map[string]any{
		"approval_request_id": env.ApprovalRequestID,
		"server_label":        env.ServerLabel,
		"tool_name":           env.ToolName,
		"arguments":           env.Arguments,
	})
}

// --- terminal events ---

func incompleteReason(raw json.RawMessage) string {
	var env struct {
		Response struct {
			StatusDetails struct {
				Reason string `json:"reason"`
			} `json:"status_details"`
		} `json:"response"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	return env.Response.StatusDetails.Reason
}

func failedReason(raw json.RawMessage) string {
	var env struct {
		Response struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		} `json:"response"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", env.Response.Error.Code, env.Response.Error.Message)
}

// handleCriticalError handles a raw "error" event (no "response." prefix):
// critical, ends the conversation FAILED, and stops the stream.
func (o *Orchestrator) handleCriticalError(ctx context.Context, ts *turnState, ev upstream.Event, out chan<- ClientEvent) {
	var env struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(ev.Raw, &env)
	log.Error().
		Err(errs.Wrap(errs.CriticalUpstreamError, env.Message, nil)).
		Str("code", env.Code).
		Int64("conversation_id", ts.conversationID).
		Msg("orchestrator: critical upstream error")
	reason := fmt.Sprintf("CRITICAL: %s", env.Code)
	o.persistAndEmitTerminal(ctx, ts, store.ConversationFailed, &reason, out)
}

// finalizeTerminal handles a turn-ending upstream event. If the turn leaves
// any FUNCTION ToolCalls unresolved, it executes them against the MCP
// Client Facade and issues a follow-up upstream turn carrying their
// results instead of flushing conversation.status — the follow-up's own
// terminal event (recursively handled by the same mechanism) is what
// finally reports status to the client.
func (o *Orchestrator) finalizeTerminal(ctx context.Context, ts *turnState, status store.ConversationStatus, completionReason *string, out chan<- ClientEvent) {
	if status != store.ConversationFailed {
		if items := o.resolvePendingFunctionCalls(ctx, ts); len(items) > 0 {
			// Mark this turnState terminal so the outer runStream's
			// clean-close check doesn't mistake the follow-up turn (which
			// runs to completion in its own turnState) for an
			// unterminated stream and overwrite its status with FAILED.
			ts.finalStatus = status

			prevID := ts.responseID
			followReq := Request{
				ConversationID: &ts.conversationID,
				Payload:        map[string]any{"input": items},
			}
			conv := &store.Conversation{ID: ts.conversationID, ResponseID: &prevID}
			o.runStream(ctx, conv, followReq, ts.authHeader, &prevID, out)
			return
		}
	}
	o.persistAndEmitTerminal(ctx, ts, status, completionReason, out)
}

// finalizeFailed is runStream's escape hatch for a stream that ended
// without ever reaching a terminal upstream event: a transport error or a
// clean close mid-turn. It never attempts the function-call follow-up turn
// finalizeTerminal does, since there is no well-formed stream left to
// continue on.
func (o *Orchestrator) finalizeFailed(ctx context.Context, ts *turnState, reason string, out chan<- ClientEvent) {
	o.persistAndEmitTerminal(ctx, ts, store.ConversationFailed, &reason, out)
}

func (o *Orchestrator) persistAndEmitTerminal(ctx context.Context, ts *turnState, status store.ConversationStatus, completionReason *string, out chan<- ClientEvent) {
	ts.finalStatus = status
	if completionReason != nil {
		ts.completionReason = *completionReason
	}
	// The terminal write must land even when the turn's own ctx was the
	// thing that died (client disconnect cancels the stream mid-flight).
	persistCtx := context.WithoutCancel(ctx)
	if err := o.store.UpdateConversationStatus(persistCtx, ts.conversationID, status, completionReason); err != nil {
		log.Error().Err(err).Int64("conversation_id", ts.conversationID).Msg("orchestrator: persist terminal status failed")
	}

	payload := map[string]any{"status": status}
	if completionReason != nil {
		payload["completionReason"] = *completionReason
	} else {
		payload["completionReason"] = nil
	}
	o.emitSynthetic(ctx, out, "conversation.status", payload)
}

// resolvePendingFunctionCalls executes every unresolved FUNCTION ToolCall
// recorded during this stream against the MCP client facade, trying each
// candidate CONNECTED server sequentially when routing is ambiguous, and
// returns the function_call_output input items for the follow-up upstream
// turn. Calls resolve in upstream output order (outputIndex, then itemId)
// so the follow-up turn's input is reproducible across runs.
func (o *Orchestrator) resolvePendingFunctionCalls(ctx context.Context, ts *turnState) []map[string]any {
	pending := make([]string, 0, len(ts.toolCalls))
	for itemID, tc := range ts.toolCalls {
		if tc.typ == string(store.ToolCallFunction) && tc.status == string(store.ToolCallInProgress) {
			pending = append(pending, itemID)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		a, b := ts.toolCalls[pending[i]], ts.toolCalls[pending[j]]
		if a.outputIndex != b.outputIndex {
			return a.outputIndex < b.outputIndex
		}
		return pending[i] < pending[j]
	})

	var items []map[string]any
	for _, itemID := range pending {
		tc := ts.toolCalls[itemID]

		var args map[string]any
		if len(tc.argsBuffer) > 0 {
			_ = json.Unmarshal(tc.argsBuffer, &args)
		}

		output, callErr := o.executeFunctionCall(ctx, tc.name, args)
		if callErr != nil {
			tc.status = string(store.ToolCallFailed)
			o.persistToolCallPatch(ctx, ts.conversationID, &store.ToolCall{
				ItemID:     itemID,
				Status:     store.ToolCallFailed,
				ResultJSON: wrapAsJSON(callErr.Error()),
			})
			items = append(items, map[string]any{
				"type":    "function_call_output",
				"call_id": itemID,
				"output":  fmt.Sprintf("error: %s", callErr.Error()),
			})
			continue
		}

		tc.status = string(store.ToolCallCompleted)
		o.persistToolCallPatch(ctx, ts.conversationID, &store.ToolCall{
			ItemID:     itemID,
			Status:     store.ToolCallCompleted,
			ResultJSON: wrapAsJSON(output),
		})
		items = append(items, map[string]any{
			"type":    "function_call_output",
			"call_id": itemID,
			"output":  output,
		})
	}
	return items
}

// executeFunctionCall tries each CONNECTED server exposing toolName, in
// order, giving each attempt toolExecutionTimeout (default 30s) before
// moving to the next candidate. It fails once every candidate has failed
// (or none exist).
func (o *Orchestrator) executeFunctionCall(ctx context.Context, toolName string, args map[string]any) (string, error) {
	candidates, err := o.tools.CandidateServersForTool(ctx, toolName)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no connected server exposes tool %q", toolName)
	}

	var lastErr error
	for _, serverID := range candidates {
		attemptCtx, cancel := context.WithTimeout(ctx, o.toolExecutionTimeout)
		result, callErr := o.facade.CallTool(attemptCtx, serverID, toolName, args)
		cancel()
		if callErr == nil {
			return result.Text, nil
		}
		lastErr = callErr
	}
	return "", lastErr
}

// persistToolCallPatch upserts patch and logs (but does not propagate) a
// persistence failure — a failed write here must not abort an in-flight
// stream the client is actively watching.
func (o *Orchestrator) persistToolCallPatch(ctx context.Context, conversationID int64, patch *store.ToolCall) {
	patch.ConversationID = conversationID
	if _, err := o.store.UpsertToolCall(ctx, patch); err != nil {
		log.Error().Err(err).Str("item_id", patch.ItemID).Msg("orchestrator: upsert tool call failed")
	}
}

// wrapAsJSON returns s as-is if it is already valid JSON, or marshals it
// as a JSON string otherwise — arguments accumulate byte-by-byte from
// deltas and are not valid JSON until the matching .done event arrives.
func wrapAsJSON(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return json.RawMessage(b)
}
