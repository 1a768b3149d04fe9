// Package store defines the Persistence Port: the storage-shaped contract
// the streaming orchestrator, MCP session registry and approval service
// write through. Concrete adapters (internal/store/postgres) implement
// Store; callers never depend on database/sql directly.
package store

import (
	"encoding/json"
	"time"
)

// ConversationStatus mirrors the monotonic lifecycle of a turn.
type ConversationStatus string

const (
	ConversationCreated    ConversationStatus = "CREATED"
	ConversationStreaming  ConversationStatus = "STREAMING"
	ConversationCompleted  ConversationStatus = "COMPLETED"
	ConversationIncomplete ConversationStatus = "INCOMPLETE"
	ConversationFailed     ConversationStatus = "FAILED"
)

// MessageRole identifies who authored a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "USER"
	RoleAssistant MessageRole = "ASSISTANT"
	RoleTool      MessageRole = "TOOL"
)

// ToolCallType distinguishes function calls resolved by the core from MCP
// calls resolved inside the upstream server.
type ToolCallType string

const (
	ToolCallFunction ToolCallType = "FUNCTION"
	ToolCallMCP      ToolCallType = "MCP"
)

// ToolCallStatus is the lifecycle of a single ToolCall row.
type ToolCallStatus string

const (
	ToolCallInProgress ToolCallStatus = "IN_PROGRESS"
	ToolCallCompleted  ToolCallStatus = "COMPLETED"
	ToolCallFailed     ToolCallStatus = "FAILED"
)

// McpTransport selects the wire protocol used to reach an MCP server.
type McpTransport string

const (
	TransportSSE            McpTransport = "SSE"
	TransportStreamableHTTP McpTransport = "STREAMABLE_HTTP"
)

// McpServerStatus reflects the live connection state of a server.
type McpServerStatus string

const (
	ServerIdle       McpServerStatus = "IDLE"
	ServerConnecting McpServerStatus = "CONNECTING"
	ServerConnected  McpServerStatus = "CONNECTED"
	ServerError      McpServerStatus = "ERROR"
)

// SyncStatus reflects the freshness of a server's capability caches.
type SyncStatus string

const (
	SyncNeverSynced SyncStatus = "NEVER_SYNCED"
	SyncSyncing     SyncStatus = "SYNCING"
	SyncSynced      SyncStatus = "SYNCED"
	SyncFailed      SyncStatus = "SYNC_FAILED"
)

// ApprovalPolicy is the per-(server,tool) approval gate.
type ApprovalPolicy string

const (
	PolicyAlways ApprovalPolicy = "ALWAYS"
	PolicyNever  ApprovalPolicy = "NEVER"
)

// Conversation is the top-level turn-owning entity.
type Conversation struct {
	ID               int64
	Title            string
	Status           ConversationStatus
	ResponseID       *string
	CompletionReason *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Message is one upstream-produced or user-supplied chat item.
type Message struct {
	ID             int64
	ConversationID int64
	Role           MessageRole
	Content        string
	RawJSON        json.RawMessage
	OutputIndex    *int
	ItemID         *string
	CreatedAt      time.Time
}

// ToolCall is the merge-by-(conversationId,itemId) record of a tool
// invocation, whether resolved locally (FUNCTION) or inside upstream (MCP).
type ToolCall struct {
	ID             int64
	ConversationID int64
	Type           ToolCallType
	Name           string
	ItemID         string
	ArgumentsJSON  json.RawMessage
	ResultJSON     json.RawMessage
	Status         ToolCallStatus
	OutputIndex    *int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// McpServer is an operator-managed external tool provider.
type McpServer struct {
	ID             int64
	ServerID       string
	Name           string
	BaseURL        string
	APIKeyEnc      []byte
	Transport      McpTransport
	Status         McpServerStatus
	SyncStatus     SyncStatus
	ToolsCache     json.RawMessage
	ResourcesCache json.RawMessage
	PromptsCache   json.RawMessage
	LastSyncedAt   *time.Time
	Version        int64
	LastUpdated    time.Time
}

// ToolApprovalPolicyRow is the persisted per-(server,tool) policy.
type ToolApprovalPolicyRow struct {
	ID       int64
	ServerID string
	ToolName string
	Policy   ApprovalPolicy
}

// ToolDescriptor is a tool declaration as cached from an MCP server's
// tools/list response. It is the unit stored (serialized) in ToolsCache.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}
