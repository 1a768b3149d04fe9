package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pocketomega/chatrelay/internal/approval"
	"github.com/pocketomega/chatrelay/internal/mcp"
	"github.com/pocketomega/chatrelay/internal/orchestrator"
	"github.com/pocketomega/chatrelay/internal/secret"
	"github.com/pocketomega/chatrelay/internal/store"
	"github.com/pocketomega/chatrelay/internal/store/storetest"
)

type fakeStreamer struct {
	events []orchestrator.ClientEvent

	gotRequest  *orchestrator.Request
	gotAuth     string
	gotApproval *approvalCall
}

type approvalCall struct {
	conversationID    int64
	approvalRequestID string
	approve           bool
	reason            *string
}

func (f *fakeStreamer) StreamResponses(_ context.Context, req orchestrator.Request, auth string) <-chan orchestrator.ClientEvent {
	f.gotRequest = &req
	f.gotAuth = auth
	return f.emit()
}

func (f *fakeStreamer) SendApprovalResponse(_ context.Context, conversationID int64, approvalRequestID string, approve bool, reason *string, auth string) <-chan orchestrator.ClientEvent {
	f.gotApproval = &approvalCall{conversationID, approvalRequestID, approve, reason}
	f.gotAuth = auth
	return f.emit()
}

func (f *fakeStreamer) emit() <-chan orchestrator.ClientEvent {
	ch := make(chan orchestrator.ClientEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}

type fakeSyncer struct {
	servers store.McpServerStore
}

func (f *fakeSyncer) VerifyServer(ctx context.Context, serverID string) (*store.McpServer, error) {
	if err := f.servers.UpdateServerStatus(ctx, serverID, store.ServerConnected); err != nil {
		return nil, err
	}
	return f.servers.GetServer(ctx, serverID)
}

func (f *fakeSyncer) SyncServer(ctx context.Context, serverID string) (*store.McpServer, error) {
	return f.servers.GetServer(ctx, serverID)
}

func (f *fakeSyncer) Watch(string) (<-chan mcp.StatusUpdate, func()) {
	ch := make(chan mcp.StatusUpdate)
	return ch, func() {}
}

func newTestServer(t *testing.T, streamer *fakeStreamer) (*httptest.Server, *storetest.Fake) {
	t.Helper()
	fs := storetest.New()
	crypter, err := secret.NewAESGCM([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	if streamer == nil {
		streamer = &fakeStreamer{}
	}
	srv := NewServer("127.0.0.1:0",
		NewResponsesHandler(streamer, "default-key"),
		NewServersHandler(fs, fs, &fakeSyncer{servers: fs}, nil, crypter),
		NewPoliciesHandler(approval.NewService(fs)),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, fs
}

func TestHandleStream_ForwardsEventsAsSSE(t *testing.T) {
	streamer := &fakeStreamer{events: []orchestrator.ClientEvent{
		{Name: "conversation.ready", Data: json.RawMessage(`{"id":1}`)},
		{Name: "response.completed", Data: json.RawMessage(`{}`)},
		{Name: "conversation.status", Data: json.RawMessage(`{"status":"COMPLETED"}`)},
	}}
	ts, _ := newTestServer(t, streamer)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/responses/stream",
		strings.NewReader(`{"title":"t","payload":{"model":"m","input":"hi"}}`))
	req.Header.Set("Authorization", "Bearer caller-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %s", ct)
	}

	var body strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		body.Write(buf[:n])
		if err != nil {
			break
		}
	}
	got := body.String()
	first := strings.Index(got, "event: conversation.ready\ndata: {\"id\":1}\n\n")
	last := strings.Index(got, "event: conversation.status\ndata: {\"status\":\"COMPLETED\"}\n\n")
	if first < 0 || last < 0 || last < first {
		t.Fatalf("body = %q", got)
	}

	if streamer.gotAuth != "caller-key" {
		t.Fatalf("auth = %q, want caller-key", streamer.gotAuth)
	}
	if streamer.gotRequest == nil || streamer.gotRequest.Title != "t" {
		t.Fatalf("request = %+v", streamer.gotRequest)
	}
	if streamer.gotRequest.Payload["model"] != "m" {
		t.Fatalf("payload = %v", streamer.gotRequest.Payload)
	}
}

func TestHandleStream_DefaultsAuthKey(t *testing.T) {
	streamer := &fakeStreamer{}
	ts, _ := newTestServer(t, streamer)

	resp, err := http.Post(ts.URL+"/responses/stream", "application/json",
		strings.NewReader(`{"payload":{"model":"m"}}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if streamer.gotAuth != "default-key" {
		t.Fatalf("auth = %q, want default-key", streamer.gotAuth)
	}
}

func TestHandleStream_RejectsMissingPayload(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Post(ts.URL+"/responses/stream", "application/json", strings.NewReader(`{"title":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleApprovalResponse(t *testing.T) {
	streamer := &fakeStreamer{events: []orchestrator.ClientEvent{
		{Name: "conversation.status", Data: json.RawMessage(`{"status":"COMPLETED"}`)},
	}}
	ts, _ := newTestServer(t, streamer)

	resp, err := http.Post(ts.URL+"/responses/approval-response", "application/json",
		strings.NewReader(`{"conversation_id":7,"approval_request_id":"ap1","approve":true,"reason":"ok"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	call := streamer.gotApproval
	if call == nil {
		t.Fatal("approval not forwarded")
	}
	if call.conversationID != 7 || call.approvalRequestID != "ap1" || !call.approve {
		t.Fatalf("call = %+v", call)
	}
	if call.reason == nil || *call.reason != "ok" {
		t.Fatalf("reason = %v", call.reason)
	}
}

func TestServersCRUDAndCapabilities(t *testing.T) {
	ts, fs := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/mcp/servers", "application/json",
		strings.NewReader(`{"server_id":"srv1","name":"weather","base_url":"http://srv1.test","api_key":"sekret","transport":"SSE"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created serverView
	_ = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if !created.HasAPIKey {
		t.Fatal("api key not recorded")
	}

	// The key is stored encrypted, not in the clear.
	fs.Mu.Lock()
	enc := fs.Servers["srv1"].APIKeyEnc
	fs.Mu.Unlock()
	if len(enc) == 0 || strings.Contains(string(enc), "sekret") {
		t.Fatalf("api_key_enc = %q", enc)
	}

	resp, err = http.Get(ts.URL + "/mcp/servers/srv1/capabilities")
	if err != nil {
		t.Fatal(err)
	}
	var caps map[string]json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&caps)
	resp.Body.Close()
	if string(caps["tools"]) != "[]" {
		t.Fatalf("tools = %s, want []", caps["tools"])
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp/servers/srv1", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/mcp/servers/srv1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestApprovalPolicyEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	// Default before any write.
	resp, err := http.Get(ts.URL + "/mcp/servers/srv1/tools/get_weather/approval-policy")
	if err != nil {
		t.Fatal(err)
	}
	var view policyView
	_ = json.NewDecoder(resp.Body).Decode(&view)
	resp.Body.Close()
	if view.Policy != "NEVER" {
		t.Fatalf("default policy = %s", view.Policy)
	}

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/mcp/servers/srv1/tools/get_weather/approval-policy",
		strings.NewReader(`{"policy":"ALWAYS"}`))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/mcp/servers/srv1/tools/approval-policies")
	if err != nil {
		t.Fatal(err)
	}
	var rows []policyView
	_ = json.NewDecoder(resp.Body).Decode(&rows)
	resp.Body.Close()
	if len(rows) != 1 || rows[0].Policy != "ALWAYS" || rows[0].ToolName != "get_weather" {
		t.Fatalf("rows = %+v", rows)
	}

	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/mcp/servers/srv1/tools/get_weather/approval-policy",
		strings.NewReader(`{"policy":"SOMETIMES"}`))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad policy status = %d, want 400", resp.StatusCode)
	}
}
