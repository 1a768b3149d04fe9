package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdk_client "github.com/mark3labs/mcp-go/client"
	sdk_mcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/mcp/transport"
)

// toolClient stubs CallTool for facade tests.
type toolClient struct {
	sdk_client.MCPClient
	result *sdk_mcp.CallToolResult
	err    error
}

func (c *toolClient) CallTool(context.Context, sdk_mcp.CallToolRequest) (*sdk_mcp.CallToolResult, error) {
	return c.result, c.err
}

func (c *toolClient) Close() error { return nil }

func newTestFacade(t *testing.T, cli sdk_client.MCPClient) *Facade {
	t.Helper()
	r := NewRegistry(staticLookup{}, time.Second, 2*time.Second, time.Minute)
	r.dial = func(context.Context, transport.Kind, string, string, time.Duration) (sdk_client.MCPClient, error) {
		return cli, nil
	}
	t.Cleanup(r.CloseAll)
	return NewFacade(r, 2*time.Second)
}

func TestFacade_CallTool(t *testing.T) {
	f := newTestFacade(t, &toolClient{result: &sdk_mcp.CallToolResult{
		Content: []sdk_mcp.Content{sdk_mcp.TextContent{Type: "text", Text: "sunny, 21C"}},
	}})

	result, err := f.CallTool(context.Background(), "srv1", "get_weather", map[string]any{"city": "Berlin"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "sunny, 21C" {
		t.Fatalf("text = %q", result.Text)
	}
}

// TestFacade_CallToolIsErrorCarriesUpstreamText pins the translation of a
// server-reported isError result: the returned error is a ToolError whose
// message embeds the upstream error content, so callers that only see the
// error (the orchestrator's follow-up tool_result path) still relay the
// server's actual text to the model.
func TestFacade_CallToolIsErrorCarriesUpstreamText(t *testing.T) {
	f := newTestFacade(t, &toolClient{result: &sdk_mcp.CallToolResult{
		IsError: true,
		Content: []sdk_mcp.Content{sdk_mcp.TextContent{Type: "text", Text: "city not found: Atlantis"}},
	}})

	result, err := f.CallTool(context.Background(), "srv1", "get_weather", map[string]any{"city": "Atlantis"})
	if !errors.Is(err, errs.ToolError) {
		t.Fatalf("err = %v, want ToolError", err)
	}
	if !strings.Contains(err.Error(), "city not found: Atlantis") {
		t.Fatalf("error does not carry upstream text: %v", err)
	}
	if result.Text != "city not found: Atlantis" {
		t.Fatalf("result text = %q", result.Text)
	}
}

func TestFacade_CallToolTransportError(t *testing.T) {
	f := newTestFacade(t, &toolClient{err: errors.New("connection reset")})

	_, err := f.CallTool(context.Background(), "srv1", "get_weather", nil)
	if !errors.Is(err, errs.TransportError) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}
