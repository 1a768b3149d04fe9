package tooldef

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pocketomega/chatrelay/internal/approval"
	"github.com/pocketomega/chatrelay/internal/store"
	"github.com/pocketomega/chatrelay/internal/store/storetest"
)

func seedServer(t *testing.T, fs *storetest.Fake, serverID string, status store.McpServerStatus, toolNames ...string) {
	t.Helper()
	tools := make([]store.ToolDescriptor, 0, len(toolNames))
	for _, name := range toolNames {
		tools = append(tools, store.ToolDescriptor{Name: name})
	}
	cache, err := json.Marshal(tools)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.CreateServer(context.Background(), &store.McpServer{
		ServerID:   serverID,
		Name:       serverID + " server",
		BaseURL:    "http://" + serverID + ".test",
		Transport:  store.TransportSSE,
		Status:     status,
		SyncStatus: store.SyncSynced,
		ToolsCache: cache,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestBuildToolBlocks_GroupsByPolicy(t *testing.T) {
	fs := storetest.New()
	seedServer(t, fs, "srv1", store.ServerConnected, "get_weather", "get_forecast", "delete_forecast")
	policies := approval.NewService(fs)
	if _, err := policies.SetPolicyForTool(context.Background(), "srv1", "delete_forecast", store.PolicyAlways); err != nil {
		t.Fatal(err)
	}

	p := NewProvider(fs, policies)
	blocks, err := p.BuildToolBlocks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2: %+v", len(blocks), blocks)
	}

	byApproval := make(map[string]ToolBlock)
	for _, b := range blocks {
		if b.Type != "mcp" || b.ServerLabel != "srv1" || b.ServerURL != "http://srv1.test" {
			t.Fatalf("malformed block: %+v", b)
		}
		byApproval[b.RequireApproval] = b
	}

	always, ok := byApproval["always"]
	if !ok {
		t.Fatal("no always block")
	}
	if len(always.AllowedTools) != 1 || always.AllowedTools[0] != "delete_forecast" {
		t.Fatalf("always tools = %v", always.AllowedTools)
	}

	never, ok := byApproval["never"]
	if !ok {
		t.Fatal("no never block")
	}
	if len(never.AllowedTools) != 2 || never.AllowedTools[0] != "get_forecast" || never.AllowedTools[1] != "get_weather" {
		t.Fatalf("never tools = %v", never.AllowedTools)
	}
}

func TestBuildToolBlocks_DefaultPolicyIsNever(t *testing.T) {
	fs := storetest.New()
	seedServer(t, fs, "srv1", store.ServerConnected, "get_weather")

	p := NewProvider(fs, approval.NewService(fs))
	blocks, err := p.BuildToolBlocks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 || blocks[0].RequireApproval != "never" {
		t.Fatalf("blocks = %+v, want single never block", blocks)
	}
}

func TestBuildToolBlocks_SkipsDisconnectedServers(t *testing.T) {
	fs := storetest.New()
	seedServer(t, fs, "srv1", store.ServerIdle, "get_weather")
	seedServer(t, fs, "srv2", store.ServerError, "get_weather")

	p := NewProvider(fs, approval.NewService(fs))
	blocks, err := p.BuildToolBlocks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 0 {
		t.Fatalf("blocks = %+v, want none", blocks)
	}
}

func TestCandidateServersForTool(t *testing.T) {
	fs := storetest.New()
	seedServer(t, fs, "srv2", store.ServerConnected, "get_weather")
	seedServer(t, fs, "srv1", store.ServerConnected, "get_weather", "other_tool")
	seedServer(t, fs, "srv3", store.ServerConnected, "unrelated")
	seedServer(t, fs, "srv4", store.ServerIdle, "get_weather")

	p := NewProvider(fs, approval.NewService(fs))
	candidates, err := p.CandidateServersForTool(context.Background(), "get_weather")
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 2 || candidates[0] != "srv1" || candidates[1] != "srv2" {
		t.Fatalf("candidates = %v, want [srv1 srv2]", candidates)
	}
}
