package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_StreamResponse(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		writeEvent := func(payload string) {
			_, _ = w.Write([]byte("data: " + payload + "\n\n"))
			flusher.Flush()
		}
		writeEvent(`{"type":"response.created","response":{"id":"r1"}}`)
		writeEvent(`{"type":"response.output_text.delta","delta":"hi"}`)
		writeEvent(`{"type":"response.completed"}`)
		writeEvent(`[DONE]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	stream := c.StreamResponse(context.Background(), Request{
		PreviousResponseID: "r0",
		Extra:              map[string]any{"model": "m", "input": "hello"},
	}, "sk-test")

	var types []string
	for stream.Next() {
		types = append(types, stream.Current().Type)
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}

	want := []string{"response.created", "response.output_text.delta", "response.completed"}
	if len(types) != len(want) {
		t.Fatalf("types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("types = %v, want %v", types, want)
		}
	}

	if gotAuth != "Bearer sk-test" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotBody["stream"] != true {
		t.Fatalf("stream field = %v", gotBody["stream"])
	}
	if gotBody["previous_response_id"] != "r0" {
		t.Fatalf("previous_response_id = %v", gotBody["previous_response_id"])
	}
	if gotBody["model"] != "m" {
		t.Fatalf("model = %v", gotBody["model"])
	}
}

func TestClient_StreamResponse_NamedEventFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: response.created\ndata: {\"response\":{\"id\":\"r1\"}}\n\n"))
	}))
	defer srv.Close()

	stream := NewClient(srv.URL, 5*time.Second).StreamResponse(context.Background(), Request{Extra: map[string]any{"model": "m"}}, "")
	if !stream.Next() {
		t.Fatalf("no event; err = %v", stream.Err())
	}
	if stream.Current().Type != "response.created" {
		t.Fatalf("type = %s", stream.Current().Type)
	}
}

func TestClient_StreamResponse_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	stream := NewClient(srv.URL, 5*time.Second).StreamResponse(context.Background(), Request{Extra: map[string]any{"model": "m"}}, "")
	if stream.Next() {
		t.Fatal("expected no events")
	}
	if stream.Err() == nil {
		t.Fatal("expected error for 401")
	}
}

func TestClient_StreamResponse_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	stream := NewClient(srv.URL, 5*time.Second).StreamResponse(ctx, Request{Extra: map[string]any{"model": "m"}}, "")

	cancel()
	for stream.Next() {
	}
	if stream.Err() == nil {
		t.Fatal("expected cancellation error")
	}
}
