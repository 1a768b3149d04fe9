// Package upstream talks to an OpenAI-compatible streaming Responses API.
// Chat-completion client libraries do not speak the Responses API's event
// vocabulary (response.output_item.added, response.mcp_call.*,
// response.mcp_approval_request, ...), so this package is a small
// hand-written client: a channel-backed Stream iterator over a line-by-line
// SSE decoder.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/util"
)

// Event is one decoded Responses API SSE event. Raw carries the full JSON
// payload so callers can decode event-specific fields without this package
// needing to know the whole vocabulary.
type Event struct {
	Type string
	Raw  json.RawMessage
}

// Request is the upstream payload. Extra carries the top-level fields
// (model, input/messages, tools, ...) the orchestrator assembles; stream
// is always forced to true on marshal.
type Request struct {
	PreviousResponseID string
	Extra              map[string]any
}

func (r Request) marshal() ([]byte, error) {
	body := make(map[string]any, len(r.Extra)+2)
	for k, v := range r.Extra {
		body[k] = v
	}
	body["stream"] = true
	if r.PreviousResponseID != "" {
		body["previous_response_id"] = r.PreviousResponseID
	}
	return json.Marshal(body)
}

// Client issues streaming POST {base}/responses calls.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client against baseURL (expected to already carry the
// /v1 suffix). requestTimeout bounds the wait for response headers; the
// stream body itself is bounded only by the caller's ctx.
func NewClient(baseURL string, requestTimeout time.Duration) *Client {
	tr := &http.Transport{
		ResponseHeaderTimeout: requestTimeout,
	}
	// Long-lived SSE bodies multiplex better over HTTP/2 when the upstream
	// supports it; falls back to HTTP/1.1 transparently when it doesn't.
	_ = http2.ConfigureTransport(tr)
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   0, // streaming body; caller's ctx governs cancellation
			Transport: tr,
		},
	}
}

// Stream is a finite, not-restartable, cancellable sequence of Events.
type Stream struct {
	eventChan <-chan Event
	errorChan <-chan error
	ctx       context.Context
	current   Event
	err       error
	done      bool
}

// NewStream wraps an already-populated event/error channel pair as a
// Stream. StreamResponse uses it internally; orchestrator tests use it to
// feed a turn from a scripted event sequence without a live HTTP server.
func NewStream(ctx context.Context, eventChan <-chan Event, errorChan <-chan error) *Stream {
	return &Stream{ctx: ctx, eventChan: eventChan, errorChan: errorChan}
}

// Next advances to the next event. Returns false when the stream ends,
// errors, or ctx is canceled. Pending events are always drained before a
// terminal error is reported, so a transport failure never reorders ahead
// of events the producer already delivered.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	for {
		if s.eventChan != nil {
			select {
			case ev, ok := <-s.eventChan:
				if ok {
					s.current = ev
					return true
				}
				s.eventChan = nil
				continue
			default:
			}
		}
		if s.eventChan == nil {
			// No events remain; settle the terminal error, if any. The
			// producer always writes the error before closing either
			// channel, so a non-blocking receive is sufficient here.
			if s.errorChan != nil {
				select {
				case err, ok := <-s.errorChan:
					if ok && err != nil && s.err == nil {
						s.err = err
					}
				default:
				}
			}
			s.done = true
			return false
		}
		select {
		case <-s.ctx.Done():
			if s.err == nil {
				s.err = s.ctx.Err()
			}
			s.done = true
			return false
		case err, ok := <-s.errorChan:
			// Stash the terminal error but keep draining: events the
			// producer already delivered must never be reordered behind
			// (or dropped by) the failure that followed them.
			if ok && err != nil && s.err == nil {
				s.err = err
			}
			s.errorChan = nil
		case ev, ok := <-s.eventChan:
			if !ok {
				s.eventChan = nil
			} else {
				s.current = ev
				return true
			}
		}
	}
}

// Current returns the event most recently yielded by Next.
func (s *Stream) Current() Event { return s.current }

// Err returns the terminal error, if any, after Next returns false.
func (s *Stream) Err() error { return s.err }

// StreamResponse POSTs req to {base}/responses with stream=true and returns
// a Stream of decoded events. authHeader is the caller-supplied bearer
// credential, forwarded verbatim.
func (c *Client) StreamResponse(ctx context.Context, req Request, authHeader string) *Stream {
	eventChan := make(chan Event, 64)
	errorChan := make(chan error, 1)

	go func() {
		defer close(eventChan)
		defer close(errorChan)
		if err := c.streamOnce(ctx, req, authHeader, eventChan); err != nil {
			errorChan <- err // buffered; written at most once
		}
	}()

	return NewStream(ctx, eventChan, errorChan)
}

func (c *Client) streamOnce(ctx context.Context, req Request, authHeader string, eventChan chan<- Event) error {
	body, err := req.marshal()
	if err != nil {
		return errs.Wrap(errs.InvalidRequest, "upstream: encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.InvalidRequest, "upstream: build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if authHeader != "" {
		httpReq.Header.Set("Authorization", "Bearer "+authHeader)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errs.Wrap(errs.TransportError, "upstream: connect", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return errs.Wrap(errs.TransportError, fmt.Sprintf("upstream: status %d: %s", resp.StatusCode, util.TruncateRunes(string(respBody), 512)), nil)
	}

	decoder := newSSEDecoder(resp.Body)
	for {
		f, err := decoder.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errs.Wrap(errs.Disconnected, "upstream: read SSE", err)
		}
		if f.data == "" || f.data == "[DONE]" {
			continue
		}

		eventType := f.event
		if eventType == "" {
			var envelope struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal([]byte(f.data), &envelope); err != nil {
				continue // malformed frame: drop it, keep the stream alive
			}
			eventType = envelope.Type
		}
		if eventType == "" {
			continue
		}

		ev := Event{Type: eventType, Raw: json.RawMessage(f.data)}
		select {
		case eventChan <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
