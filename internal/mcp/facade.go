package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	sdk_mcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/store"
)

// ToolDescriptor mirrors store.ToolDescriptor; it is redeclared here so
// this package does not force every caller to think in storage terms.
type ToolDescriptor = store.ToolDescriptor

// ResourceDescriptor is a single entry from an MCP server's resources/list.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PromptDescriptor is a single entry from an MCP server's prompts/list.
type PromptDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CallToolResult is the outcome of callToolAsync: the concatenated text
// content of a successful call, or an error carrying the server's message.
type CallToolResult struct {
	Text string
}

// Facade is the MCP Client Facade: a small surface over a session obtained
// from the Registry. Every operation enforces the registry's
// operationTimeout and translates isError results into errs.ToolError.
type Facade struct {
	registry         *Registry
	operationTimeout time.Duration
}

// NewFacade builds a Facade over registry, using operationTimeout to bound
// every individual MCP call.
func NewFacade(registry *Registry, operationTimeout time.Duration) *Facade {
	return &Facade{registry: registry, operationTimeout: operationTimeout}
}

// ListTools returns the tool descriptors exposed by serverID.
func (f *Facade) ListTools(ctx context.Context, serverID string) ([]ToolDescriptor, error) {
	opCtx, cancel := context.WithTimeout(ctx, f.operationTimeout)
	defer cancel()

	cli, err := f.registry.GetOrCreateSession(opCtx, serverID)
	if err != nil {
		return nil, err
	}

	result, err := cli.ListTools(opCtx, sdk_mcp.ListToolsRequest{})
	if err != nil {
		return nil, classify(opCtx, "mcp: list tools "+serverID, err)
	}

	out := make([]ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, merr := json.Marshal(t.InputSchema)
		if merr != nil {
			schema = json.RawMessage(`{}`)
		}
		out = append(out, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return out, nil
}

// ListResources returns the resources exposed by serverID.
func (f *Facade) ListResources(ctx context.Context, serverID string) ([]ResourceDescriptor, error) {
	opCtx, cancel := context.WithTimeout(ctx, f.operationTimeout)
	defer cancel()

	cli, err := f.registry.GetOrCreateSession(opCtx, serverID)
	if err != nil {
		return nil, err
	}

	result, err := cli.ListResources(opCtx, sdk_mcp.ListResourcesRequest{})
	if err != nil {
		return nil, classify(opCtx, "mcp: list resources "+serverID, err)
	}

	out := make([]ResourceDescriptor, 0, len(result.Resources))
	for _, rsc := range result.Resources {
		out = append(out, ResourceDescriptor{
			URI:         rsc.URI,
			Name:        rsc.Name,
			Description: rsc.Description,
			MimeType:    rsc.MIMEType,
		})
	}
	return out, nil
}

// ListPrompts returns the prompts exposed by serverID.
func (f *Facade) ListPrompts(ctx context.Context, serverID string) ([]PromptDescriptor, error) {
	opCtx, cancel := context.WithTimeout(ctx, f.operationTimeout)
	defer cancel()

	cli, err := f.registry.GetOrCreateSession(opCtx, serverID)
	if err != nil {
		return nil, err
	}

	result, err := cli.ListPrompts(opCtx, sdk_mcp.ListPromptsRequest{})
	if err != nil {
		return nil, classify(opCtx, "mcp: list prompts "+serverID, err)
	}

	out := make([]PromptDescriptor, 0, len(result.Prompts))
	for _, p := range result.Prompts {
		out = append(out, PromptDescriptor{Name: p.Name, Description: p.Description})
	}
	return out, nil
}

// CallTool invokes toolName on serverID with arguments, returning the
// concatenated text content. A server-reported isError=true becomes an
// errs.ToolError carrying the server's message text: tool errors are
// recorded and relayed, not treated as infrastructure failures.
func (f *Facade) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (CallToolResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, f.operationTimeout)
	defer cancel()

	cli, err := f.registry.GetOrCreateSession(opCtx, serverID)
	if err != nil {
		return CallToolResult{}, err
	}

	req := sdk_mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = arguments

	result, err := cli.CallTool(opCtx, req)
	if err != nil {
		return CallToolResult{}, classify(opCtx, "mcp: call tool "+toolName+" on "+serverID, err)
	}

	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(sdk_mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		return CallToolResult{Text: text}, errs.Wrap(errs.ToolError, "mcp: tool "+toolName+" returned error: "+text, nil)
	}
	return CallToolResult{Text: text}, nil
}

// classify turns a raw SDK error into the facade's declared error kinds,
// distinguishing a timed-out operation context from any other transport
// failure.
func classify(ctx context.Context, msg string, err error) error {
	if ctx.Err() != nil {
		return errs.Wrap(errs.Timeout, msg, err)
	}
	return errs.Wrap(errs.TransportError, msg, err)
}
