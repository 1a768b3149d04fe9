package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/mcp"
	"github.com/pocketomega/chatrelay/internal/secret"
	"github.com/pocketomega/chatrelay/internal/store"
)

// ServerSyncer is the slice of mcp.Syncer the server handlers consume.
type ServerSyncer interface {
	VerifyServer(ctx context.Context, serverID string) (*store.McpServer, error)
	SyncServer(ctx context.Context, serverID string) (*store.McpServer, error)
	Watch(serverID string) (<-chan mcp.StatusUpdate, func())
}

// ServersHandler serves the /mcp/servers CRUD, verify, sync, capabilities
// and status-stream endpoints.
type ServersHandler struct {
	servers   store.McpServerStore
	policies  store.ApprovalPolicyStore
	syncer    ServerSyncer
	registry  *mcp.Registry
	encrypter secret.Encrypter
}

// NewServersHandler builds a ServersHandler. registry may be nil in tests;
// it is only used to drop the live session when a server is deleted.
func NewServersHandler(servers store.McpServerStore, policies store.ApprovalPolicyStore, syncer ServerSyncer, registry *mcp.Registry, encrypter secret.Encrypter) *ServersHandler {
	return &ServersHandler{servers: servers, policies: policies, syncer: syncer, registry: registry, encrypter: encrypter}
}

// serverView is the client-facing projection of a store.McpServer; the
// encrypted API key never leaves the process.
type serverView struct {
	ServerID     string     `json:"server_id"`
	Name         string     `json:"name"`
	BaseURL      string     `json:"base_url"`
	Transport    string     `json:"transport"`
	Status       string     `json:"status"`
	SyncStatus   string     `json:"sync_status"`
	HasAPIKey    bool       `json:"has_api_key"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	Version      int64      `json:"version"`
	LastUpdated  time.Time  `json:"last_updated"`
}

func viewOf(s *store.McpServer) serverView {
	return serverView{
		ServerID:     s.ServerID,
		Name:         s.Name,
		BaseURL:      s.BaseURL,
		Transport:    string(s.Transport),
		Status:       string(s.Status),
		SyncStatus:   string(s.SyncStatus),
		HasAPIKey:    len(s.APIKeyEnc) > 0,
		LastSyncedAt: s.LastSyncedAt,
		Version:      s.Version,
		LastUpdated:  s.LastUpdated,
	}
}

type createServerRequest struct {
	ServerID  string `json:"server_id"`
	Name      string `json:"name"`
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key"`
	Transport string `json:"transport"`
}

// HandleList is GET /mcp/servers.
func (h *ServersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	servers, err := h.servers.ListServers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]serverView, 0, len(servers))
	for _, s := range servers {
		views = append(views, viewOf(s))
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleCreate is POST /mcp/servers.
func (h *ServersHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ServerID == "" || req.BaseURL == "" {
		http.Error(w, "server_id and base_url are required", http.StatusBadRequest)
		return
	}

	transport := store.McpTransport(req.Transport)
	switch transport {
	case store.TransportSSE, store.TransportStreamableHTTP:
	case "":
		transport = store.TransportSSE
	default:
		http.Error(w, "transport must be SSE or STREAMABLE_HTTP", http.StatusBadRequest)
		return
	}

	var keyEnc []byte
	if req.APIKey != "" {
		var err error
		keyEnc, err = h.encrypter.Encrypt(r.Context(), []byte(req.APIKey))
		if err != nil {
			writeError(w, err)
			return
		}
	}

	created, err := h.servers.CreateServer(r.Context(), &store.McpServer{
		ServerID:   req.ServerID,
		Name:       req.Name,
		BaseURL:    req.BaseURL,
		APIKeyEnc:  keyEnc,
		Transport:  transport,
		Status:     store.ServerIdle,
		SyncStatus: store.SyncNeverSynced,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(created))
}

// HandleGet is GET /mcp/servers/{id}.
func (h *ServersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	srv, err := h.servers.GetServer(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(srv))
}

// HandleDelete is DELETE /mcp/servers/{id}. The live session (if any) and
// the server's approval policy rows go with it.
func (h *ServersHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("id")
	if h.registry != nil {
		h.registry.CloseSession(serverID)
	}
	if err := h.policies.DeletePolicies(r.Context(), serverID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.servers.DeleteServer(r.Context(), serverID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleVerify is POST /mcp/servers/{id}/verify.
func (h *ServersHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	srv, err := h.syncer.VerifyServer(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(srv))
}

// HandleSync is POST /mcp/servers/{id}/sync.
func (h *ServersHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	srv, err := h.syncer.SyncServer(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(srv))
}

// HandleCapabilities is GET /mcp/servers/{id}/capabilities: the persisted
// caches, not a live listing.
func (h *ServersHandler) HandleCapabilities(w http.ResponseWriter, r *http.Request) {
	srv, err := h.servers.GetServer(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{
		"tools":     orEmptyArray(srv.ToolsCache),
		"resources": orEmptyArray(srv.ResourcesCache),
		"prompts":   orEmptyArray(srv.PromptsCache),
	})
}

// HandleStatusStream is GET /mcp/servers/{id}/status/stream: an SSE feed
// of {status, syncStatus} transitions until the client disconnects.
func (h *ServersHandler) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("id")
	srv, err := h.servers.GetServer(r.Context(), serverID)
	if err != nil {
		writeError(w, err)
		return
	}

	sse := newSSEWriter(w, r)
	if sse == nil {
		return
	}

	updates, cancel := h.syncer.Watch(serverID)
	defer cancel()

	// Current state first, then transitions.
	if !sse.SendJSON("server.status", mcp.StatusUpdate{ServerID: serverID, Status: srv.Status, SyncStatus: srv.SyncStatus}) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case update := <-updates:
			if !sse.SendJSON("server.status", update) {
				return
			}
		}
	}
}

func orEmptyArray(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`[]`)
	}
	return raw
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.NotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.InvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, errs.AlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, errs.Timeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, errs.TransportError), errors.Is(err, errs.NotConnected), errors.Is(err, errs.Disconnected):
		status = http.StatusBadGateway
	}
	http.Error(w, err.Error(), status)
}
