// Package tooldef implements the Tool Definition Provider: it composes the
// "tools" payload injected into upstream Responses API requests from each
// CONNECTED MCP server's cached tool declarations, grouped by the
// resolved approval policy of each tool (the upstream contract accepts
// only one require_approval value per tool block).
package tooldef

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pocketomega/chatrelay/internal/approval"
	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/store"
)

// ToolBlock is one "mcp" tool declaration injected into an upstream
// request.
type ToolBlock struct {
	Type              string   `json:"type"`
	ServerLabel       string   `json:"server_label"`
	ServerDescription string   `json:"server_description"`
	ServerURL         string   `json:"server_url"`
	AllowedTools      []string `json:"allowed_tools"`
	RequireApproval   string   `json:"require_approval"`
}

// Provider builds ToolBlocks from the Persistence Port's McpServer cache
// and the Approval Policy Service.
type Provider struct {
	servers  store.McpServerStore
	policies *approval.Service
}

// NewProvider builds a Provider.
func NewProvider(servers store.McpServerStore, policies *approval.Service) *Provider {
	return &Provider{servers: servers, policies: policies}
}

// BuildToolBlocks produces one ToolBlock per (CONNECTED server, distinct
// policy) pair found among that server's cached tools.
func (p *Provider) BuildToolBlocks(ctx context.Context) ([]ToolBlock, error) {
	servers, err := p.servers.ListServers(ctx)
	if err != nil {
		return nil, err
	}

	var blocks []ToolBlock
	for _, srv := range servers {
		if srv.Status != store.ServerConnected {
			continue
		}
		b, err := p.blocksForServer(ctx, srv)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b...)
	}
	return blocks, nil
}

func (p *Provider) blocksForServer(ctx context.Context, srv *store.McpServer) ([]ToolBlock, error) {
	var tools []store.ToolDescriptor
	if len(srv.ToolsCache) > 0 {
		if err := json.Unmarshal(srv.ToolsCache, &tools); err != nil {
			return nil, errs.Wrap(errs.ProtocolError, "tooldef: parse tools_cache for "+srv.ServerID, err)
		}
	}
	if len(tools) == 0 {
		return nil, nil
	}

	byPolicy := make(map[store.ApprovalPolicy][]string)
	for _, t := range tools {
		policy, err := p.policies.GetPolicyForTool(ctx, srv.ServerID, t.Name)
		if err != nil {
			return nil, err
		}
		byPolicy[policy] = append(byPolicy[policy], t.Name)
	}

	// Deterministic order: ALWAYS before NEVER, tool names sorted within
	// a group, so repeated calls with unchanged state produce an
	// identical payload.
	var policies []store.ApprovalPolicy
	for policy := range byPolicy {
		policies = append(policies, policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i] < policies[j] })

	blocks := make([]ToolBlock, 0, len(policies))
	for _, policy := range policies {
		names := byPolicy[policy]
		sort.Strings(names)
		blocks = append(blocks, ToolBlock{
			Type:              "mcp",
			ServerLabel:       srv.ServerID,
			ServerDescription: srv.Name,
			ServerURL:         srv.BaseURL,
			AllowedTools:      names,
			RequireApproval:   requireApprovalString(policy),
		})
	}
	return blocks, nil
}

func requireApprovalString(p store.ApprovalPolicy) string {
	if p == store.PolicyAlways {
		return "always"
	}
	return "never"
}

// CandidateServersForTool returns, in a stable order, the serverIds of
// every CONNECTED server whose cached tools include toolName. The
// streaming orchestrator uses this to resolve FUNCTION tool calls by
// sequential fallback when routing is ambiguous (more than one connected
// server exposes the same tool name).
func (p *Provider) CandidateServersForTool(ctx context.Context, toolName string) ([]string, error) {
	servers, err := p.servers.ListServers(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []string
	for _, srv := range servers {
		if srv.Status != store.ServerConnected {
			continue
		}
		var tools []store.ToolDescriptor
		if len(srv.ToolsCache) > 0 {
			if err := json.Unmarshal(srv.ToolsCache, &tools); err != nil {
				continue // malformed cache: skip this server, don't fail the whole lookup
			}
		}
		for _, t := range tools {
			if t.Name == toolName {
				candidates = append(candidates, srv.ServerID)
				break
			}
		}
	}
	sort.Strings(candidates)
	return candidates, nil
}
