// Package storetest provides an in-memory store.Store for unit tests of
// the orchestrator, tool definition provider and sync paths. It mirrors
// the semantics the postgres adapter implements in SQL: merge-by-item-id
// upserts with first-event-wins and terminal-status-final rules, Version
// CAS on capability writes, and NotFound sentinels for missing rows.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/store"
)

// Fake implements store.Store in memory. All exported maps/slices are
// guarded by Mu; tests that only poke at them after the code under test
// has finished can read them directly.
type Fake struct {
	Mu sync.Mutex

	Conversations map[int64]*store.Conversation
	// StatusHistory records every persisted status transition per
	// conversation, for monotonic-lifecycle assertions.
	StatusHistory map[int64][]store.ConversationStatus

	Messages     map[string]*store.Message // keyed "convID/itemID"
	MessageOrder []string

	ToolCalls map[string]*store.ToolCall // keyed "convID/itemID"

	Servers  map[string]*store.McpServer
	Policies map[string]store.ApprovalPolicy // keyed "serverID/toolName"

	nextID int64
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		Conversations: make(map[int64]*store.Conversation),
		StatusHistory: make(map[int64][]store.ConversationStatus),
		Messages:      make(map[string]*store.Message),
		ToolCalls:     make(map[string]*store.ToolCall),
		Servers:       make(map[string]*store.McpServer),
		Policies:      make(map[string]store.ApprovalPolicy),
	}
}

func key(conversationID int64, itemID string) string {
	return fmt.Sprintf("%d/%s", conversationID, itemID)
}

func (f *Fake) id() int64 {
	f.nextID++
	return f.nextID
}

// --- ConversationStore ---

func (f *Fake) CreateConversation(_ context.Context, title string) (*store.Conversation, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	now := time.Now()
	c := &store.Conversation{
		ID:        f.id(),
		Title:     title,
		Status:    store.ConversationCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.Conversations[c.ID] = c
	f.StatusHistory[c.ID] = []store.ConversationStatus{store.ConversationCreated}
	return copyConversation(c), nil
}

func (f *Fake) GetConversation(_ context.Context, id int64) (*store.Conversation, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	c, ok := f.Conversations[id]
	if !ok {
		return nil, errs.Wrap(errs.NotFound, "storetest: conversation not found", nil)
	}
	return copyConversation(c), nil
}

func (f *Fake) UpdateConversationStatus(_ context.Context, id int64, status store.ConversationStatus, completionReason *string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	c, ok := f.Conversations[id]
	if !ok {
		return errs.Wrap(errs.NotFound, "storetest: conversation not found", nil)
	}
	c.Status = status
	c.CompletionReason = completionReason
	c.UpdatedAt = time.Now()
	f.StatusHistory[id] = append(f.StatusHistory[id], status)
	return nil
}

func (f *Fake) SetConversationResponseID(_ context.Context, id int64, responseID string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	c, ok := f.Conversations[id]
	if !ok {
		return errs.Wrap(errs.NotFound, "storetest: conversation not found", nil)
	}
	c.ResponseID = &responseID
	c.UpdatedAt = time.Now()
	return nil
}

// --- MessageStore ---

func (f *Fake) UpsertMessageByItemID(_ context.Context, msg *store.Message) (*store.Message, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()

	if msg.ItemID == nil || *msg.ItemID == "" {
		m := *msg
		m.ID = f.id()
		m.CreatedAt = time.Now()
		k := key(msg.ConversationID, fmt.Sprintf("anon-%d", m.ID))
		f.Messages[k] = &m
		f.MessageOrder = append(f.MessageOrder, k)
		return &m, nil
	}

	k := key(msg.ConversationID, *msg.ItemID)
	if existing, ok := f.Messages[k]; ok {
		existing.Content = msg.Content
		if len(msg.RawJSON) > 0 {
			existing.RawJSON = msg.RawJSON
		}
		existing.OutputIndex = msg.OutputIndex
		out := *existing
		return &out, nil
	}
	m := *msg
	m.ID = f.id()
	m.CreatedAt = time.Now()
	f.Messages[k] = &m
	f.MessageOrder = append(f.MessageOrder, k)
	out := m
	return &out, nil
}

// --- ToolCallStore ---

func (f *Fake) UpsertToolCall(_ context.Context, patch *store.ToolCall) (*store.ToolCall, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()

	k := key(patch.ConversationID, patch.ItemID)
	existing, ok := f.ToolCalls[k]
	if !ok {
		tc := *patch
		tc.ID = f.id()
		tc.CreatedAt = time.Now()
		tc.UpdatedAt = tc.CreatedAt
		f.ToolCalls[k] = &tc
		out := tc
		return &out, nil
	}

	// Mirror the SQL merge: first event wins for Type/Name, args/result
	// coalesce, terminal status is final.
	if existing.Type == "" {
		existing.Type = patch.Type
	}
	if existing.Name == "" {
		existing.Name = patch.Name
	}
	if len(patch.ArgumentsJSON) > 0 {
		existing.ArgumentsJSON = patch.ArgumentsJSON
	}
	if len(patch.ResultJSON) > 0 {
		existing.ResultJSON = patch.ResultJSON
	}
	if existing.Status != store.ToolCallCompleted && existing.Status != store.ToolCallFailed {
		existing.Status = patch.Status
	}
	if patch.OutputIndex != nil {
		existing.OutputIndex = patch.OutputIndex
	}
	existing.UpdatedAt = time.Now()
	out := *existing
	return &out, nil
}

func (f *Fake) GetToolCallByItemID(_ context.Context, conversationID int64, itemID string) (*store.ToolCall, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	tc, ok := f.ToolCalls[key(conversationID, itemID)]
	if !ok {
		return nil, errs.Wrap(errs.NotFound, "storetest: tool call not found", nil)
	}
	out := *tc
	return &out, nil
}

// --- McpServerStore ---

func (f *Fake) CreateServer(_ context.Context, s *store.McpServer) (*store.McpServer, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	if _, ok := f.Servers[s.ServerID]; ok {
		return nil, errs.Wrap(errs.AlreadyExists, "storetest: mcp server already exists", nil)
	}
	srv := *s
	srv.ID = f.id()
	srv.LastUpdated = time.Now()
	f.Servers[s.ServerID] = &srv
	out := srv
	return &out, nil
}

func (f *Fake) GetServer(_ context.Context, serverID string) (*store.McpServer, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	srv, ok := f.Servers[serverID]
	if !ok {
		return nil, errs.Wrap(errs.NotFound, "storetest: mcp server not found", nil)
	}
	out := *srv
	return &out, nil
}

func (f *Fake) ListServers(_ context.Context) ([]*store.McpServer, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	out := make([]*store.McpServer, 0, len(f.Servers))
	for _, srv := range f.Servers {
		s := *srv
		out = append(out, &s)
	}
	return out, nil
}

func (f *Fake) DeleteServer(_ context.Context, serverID string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	if _, ok := f.Servers[serverID]; !ok {
		return errs.Wrap(errs.NotFound, "storetest: mcp server not found", nil)
	}
	delete(f.Servers, serverID)
	return nil
}

func (f *Fake) UpdateServerStatus(_ context.Context, serverID string, status store.McpServerStatus) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	srv, ok := f.Servers[serverID]
	if !ok {
		return errs.Wrap(errs.NotFound, "storetest: mcp server not found", nil)
	}
	srv.Status = status
	srv.LastUpdated = time.Now()
	return nil
}

func (f *Fake) CompareAndSwapCapabilities(_ context.Context, serverID string, expectedVersion int64, tools, resources, prompts json.RawMessage, syncStatus store.SyncStatus) (*store.McpServer, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	srv, ok := f.Servers[serverID]
	if !ok {
		return nil, errs.Wrap(errs.NotFound, "storetest: mcp server not found", nil)
	}
	if srv.Version != expectedVersion {
		return nil, errs.Wrap(errs.OptimisticConflict, "storetest: version mismatch", nil)
	}
	srv.ToolsCache = tools
	srv.ResourcesCache = resources
	srv.PromptsCache = prompts
	srv.SyncStatus = syncStatus
	srv.Version++
	now := time.Now()
	srv.LastSyncedAt = &now
	srv.LastUpdated = now
	out := *srv
	return &out, nil
}

// --- ApprovalPolicyStore ---

func (f *Fake) GetPolicy(_ context.Context, serverID, toolName string) (store.ApprovalPolicy, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	p, ok := f.Policies[serverID+"/"+toolName]
	if !ok {
		return "", errs.Wrap(errs.NotFound, "storetest: approval policy not found", nil)
	}
	return p, nil
}

func (f *Fake) ListPolicies(_ context.Context, serverID string) ([]store.ToolApprovalPolicyRow, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	var out []store.ToolApprovalPolicyRow
	for k, p := range f.Policies {
		if sid, tool := splitPolicyKey(k); sid == serverID {
			out = append(out, store.ToolApprovalPolicyRow{ServerID: sid, ToolName: tool, Policy: p})
		}
	}
	return out, nil
}

func (f *Fake) SetPolicy(_ context.Context, serverID, toolName string, policy store.ApprovalPolicy) (*store.ToolApprovalPolicyRow, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Policies[serverID+"/"+toolName] = policy
	return &store.ToolApprovalPolicyRow{ID: f.id(), ServerID: serverID, ToolName: toolName, Policy: policy}, nil
}

func (f *Fake) DeletePolicies(_ context.Context, serverID string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	for k := range f.Policies {
		if sid, _ := splitPolicyKey(k); sid == serverID {
			delete(f.Policies, k)
		}
	}
	return nil
}

func (f *Fake) Close() error { return nil }

func splitPolicyKey(k string) (serverID, toolName string) {
	for i := 0; i < len(k); i++ {
		if k[i] == '/' {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}

func copyConversation(c *store.Conversation) *store.Conversation {
	out := *c
	return &out
}
