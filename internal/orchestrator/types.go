// Package orchestrator implements the streaming orchestrator: the central
// state machine that runs one upstream turn end to end, mapping the
// upstream Responses API SSE event stream to client-visible SSE events,
// persistence writes, and approval/tool-execution round trips.
package orchestrator

import (
	"encoding/json"

	"github.com/pocketomega/chatrelay/internal/store"
)

// ClientEvent is one event the orchestrator emits to its caller, destined
// for the client over whatever transport the caller chooses (internal/web
// frames these as SSE). Name is either an upstream event type forwarded
// verbatim ("response.output_text.delta", ...) or one of the orchestrator's
// own synthesized names ("conversation.ready", "approval_required",
// "conversation.status", "error").
type ClientEvent struct {
	Name string
	Data json.RawMessage
}

// Request is the input to StreamResponses.
type Request struct {
	ConversationID *int64
	Title          string
	// Payload is the caller-supplied upstream body fragment (at minimum
	// model and input/messages). It must unmarshal as a JSON object; the
	// orchestrator rejects anything else with errs.InvalidRequest.
	Payload map[string]any
}

// outputState reconstructs one streamed output item (message or refusal)
// from response.output_text.delta/.done (or response.refusal.delta/.done)
// events, keyed by outputIndex.
type outputState struct {
	itemID      string
	accumulator []byte
	finalized   bool
}

// toolCallState tracks one ToolCall's in-memory lifecycle for the duration
// of a turn, keyed by itemId. The "first event wins" rule fixes typ and
// name at creation; later events only refine argsBuffer/status.
type toolCallState struct {
	typ         string // "FUNCTION" | "MCP"
	name        string
	outputIndex int
	argsBuffer  []byte
	status      string // "IN_PROGRESS" | "COMPLETED" | "FAILED"
}

// turnState is the per-turn in-memory bookkeeping the orchestrator keeps
// for the duration of a single upstream stream.
type turnState struct {
	conversationID   int64
	authHeader       string
	responseID       string
	outputs          map[int]*outputState
	toolCalls        map[string]*toolCallState // keyed by itemId
	completionReason string
	// finalStatus is set once a terminal event (response.completed,
	// .incomplete, .failed, or a critical raw "error") has been handled,
	// so a subsequent clean stream close is never mistaken for an
	// unterminated turn.
	finalStatus store.ConversationStatus
}

func newTurnState(conversationID int64) *turnState {
	return &turnState{
		conversationID: conversationID,
		outputs:        make(map[int]*outputState),
		toolCalls:      make(map[string]*toolCallState),
	}
}
