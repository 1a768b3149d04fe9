// Package web is the HTTP/SSE inbound surface: a thin net/http.ServeMux
// layer translating the REST+SSE contract onto the orchestrator, the MCP
// registry/syncer, and the approval/tooldef services.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/pocketomega/chatrelay/internal/orchestrator"
)

// sseWriter wraps an http.ResponseWriter with SSE event writing and client
// disconnect detection.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
}

// newSSEWriter prepares SSE headers and returns a writer, or nil if the
// ResponseWriter does not support flushing.
func newSSEWriter(w http.ResponseWriter, r *http.Request) *sseWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &sseWriter{w: w, flusher: flusher, ctx: r.Context()}
}

// Send writes one SSE event with a raw JSON data payload. Returns false if
// the client has disconnected or the write failed.
func (s *sseWriter) Send(event string, data json.RawMessage) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, string(data)); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("web: sse write failed (client disconnected?)")
		return false
	}
	s.flusher.Flush()
	return true
}

// SendJSON marshals v and sends it as event.
func (s *sseWriter) SendJSON(event string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("web: sse marshal failed")
		return false
	}
	return s.Send(event, data)
}

// pipeClientEvents drains ch, writing every ClientEvent to sse until the
// channel closes or the client disconnects.
func pipeClientEvents(sse *sseWriter, ch <-chan orchestrator.ClientEvent) {
	for ev := range ch {
		if !sse.Send(ev.Name, ev.Data) {
			return
		}
	}
}
