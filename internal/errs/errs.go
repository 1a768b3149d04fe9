// Package errs defines the error taxonomy shared by every core component.
// Each kind is a sentinel that callers match with errors.Is; concrete
// errors wrap the sentinel with fmt.Errorf("...: %w", Kind) so the
// original context survives alongside a stable, switchable kind.
package errs

import (
	"errors"
	"fmt"
)

var (
	// InvalidRequest: the caller's payload was malformed (not an object,
	// missing model, etc). Reported as a 4xx before any SSE begins.
	InvalidRequest = errors.New("invalid request")

	// NotFound: a conversation id or server id does not exist.
	NotFound = errors.New("not found")

	// AlreadyExists: a create call collided with an existing unique key.
	AlreadyExists = errors.New("already exists")

	// ApprovalContextMissing: an approval reply was submitted but the
	// conversation has no responseId to resume from.
	ApprovalContextMissing = errors.New("approval context missing")

	// TransportError: a network error talking to upstream or an MCP server.
	TransportError = errors.New("transport error")

	// ProtocolError: a malformed upstream/MCP frame or an out-of-sequence event.
	ProtocolError = errors.New("protocol error")

	// Timeout: an enumerated deadline was exceeded.
	Timeout = errors.New("timeout")

	// ToolError: an MCP server reported isError=true, or a tool invocation raised.
	ToolError = errors.New("tool error")

	// OptimisticConflict: a persistence compare-and-swap failed.
	OptimisticConflict = errors.New("optimistic conflict")

	// PersistenceError: any other database failure.
	PersistenceError = errors.New("persistence error")

	// CriticalUpstreamError: a raw "error" event arrived before response.created.
	CriticalUpstreamError = errors.New("critical upstream error")

	// NotConnected: an MCP session or upstream connection is unavailable.
	NotConnected = errors.New("not connected")

	// Disconnected: a transport observed EOF on an otherwise healthy connection.
	Disconnected = errors.New("disconnected")
)

// Wrap annotates err with msg while preserving errors.Is(result, kind).
func Wrap(kind error, msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", msg, kind)
	}
	return fmt.Errorf("%s: %w: %w", msg, kind, err)
}
