package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pocketomega/chatrelay/internal/store"
)

// StatusUpdate is one (status, syncStatus) transition for a server,
// published to watchers of GET /mcp/servers/{id}/status/stream.
type StatusUpdate struct {
	ServerID   string                `json:"server_id"`
	Status     store.McpServerStatus `json:"status"`
	SyncStatus store.SyncStatus      `json:"sync_status"`
}

// Syncer owns the capability-cache write path: it is the only component
// that writes ToolsCache/ResourcesCache/PromptsCache, per the ownership
// rule in the data model. Verify dials a server and records the outcome;
// Sync refreshes the three caches through the Version CAS protocol.
type Syncer struct {
	servers  store.McpServerStore
	facade   *Facade
	registry *Registry

	maxRetries  int
	backoffBase time.Duration
	cacheTTL    time.Duration

	mu       sync.Mutex
	watchers map[string]map[chan StatusUpdate]struct{}
}

// NewSyncer builds a Syncer. maxRetries and backoffBase govern the CAS
// retry loop on capability writes; cacheTTL bounds how old a capability
// cache may be before a successful verify triggers a refresh.
func NewSyncer(servers store.McpServerStore, facade *Facade, registry *Registry, maxRetries int, backoffBase, cacheTTL time.Duration) *Syncer {
	return &Syncer{
		servers:     servers,
		facade:      facade,
		registry:    registry,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		cacheTTL:    cacheTTL,
		watchers:    make(map[string]map[chan StatusUpdate]struct{}),
	}
}

// Watch subscribes to status transitions for serverID. The returned cancel
// func must be called when the watcher goes away; a slow watcher loses
// updates rather than blocking the publisher.
func (s *Syncer) Watch(serverID string) (<-chan StatusUpdate, func()) {
	ch := make(chan StatusUpdate, 16)
	s.mu.Lock()
	set, ok := s.watchers[serverID]
	if !ok {
		set = make(map[chan StatusUpdate]struct{})
		s.watchers[serverID] = set
	}
	set[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if set, ok := s.watchers[serverID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(s.watchers, serverID)
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Syncer) publish(serverID string, status store.McpServerStatus, syncStatus store.SyncStatus) {
	update := StatusUpdate{ServerID: serverID, Status: status, SyncStatus: syncStatus}
	s.mu.Lock()
	for ch := range s.watchers[serverID] {
		select {
		case ch <- update:
		default:
		}
	}
	s.mu.Unlock()
}

// VerifyServer dials serverID through the session registry and persists
// the resulting connection status: CONNECTING while the handshake runs,
// then CONNECTED or ERROR.
func (s *Syncer) VerifyServer(ctx context.Context, serverID string) (*store.McpServer, error) {
	srv, err := s.servers.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}

	s.setStatus(ctx, serverID, store.ServerConnecting, srv.SyncStatus)

	if _, err := s.registry.GetOrCreateSession(ctx, serverID); err != nil {
		s.setStatus(ctx, serverID, store.ServerError, srv.SyncStatus)
		return nil, err
	}

	s.setStatus(ctx, serverID, store.ServerConnected, srv.SyncStatus)

	// A verified server with a stale (or never-populated) capability cache
	// gets refreshed in the same pass, so turns that follow see tools.
	if s.cacheStale(srv) {
		if _, err := s.SyncServer(ctx, serverID); err != nil {
			log.Warn().Str("server_id", serverID).Err(err).Msg("mcp: post-verify sync failed")
		}
	}
	return s.servers.GetServer(ctx, serverID)
}

func (s *Syncer) cacheStale(srv *store.McpServer) bool {
	if srv.LastSyncedAt == nil {
		return true
	}
	return s.cacheTTL > 0 && time.Since(*srv.LastSyncedAt) > s.cacheTTL
}

// SyncServer refreshes serverID's three capability caches from a live
// session and writes them through the Version CAS with bounded retry. A
// failed listing marks SYNC_FAILED but leaves the previous caches intact.
func (s *Syncer) SyncServer(ctx context.Context, serverID string) (*store.McpServer, error) {
	srv, err := s.servers.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	s.publish(serverID, srv.Status, store.SyncSyncing)

	tools, err := s.facade.ListTools(ctx, serverID)
	if err != nil {
		s.recordSyncFailure(ctx, serverID)
		return nil, err
	}

	// Resources and prompts are optional MCP capabilities; a server that
	// does not implement them still syncs its tools.
	resources, err := s.facade.ListResources(ctx, serverID)
	if err != nil {
		log.Debug().Str("server_id", serverID).Err(err).Msg("mcp: resources/list unsupported")
		resources = nil
	}
	prompts, err := s.facade.ListPrompts(ctx, serverID)
	if err != nil {
		log.Debug().Str("server_id", serverID).Err(err).Msg("mcp: prompts/list unsupported")
		prompts = nil
	}

	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		s.recordSyncFailure(ctx, serverID)
		return nil, err
	}
	resourcesJSON, _ := json.Marshal(resources)
	promptsJSON, _ := json.Marshal(prompts)

	if _, err := s.casCapabilities(ctx, serverID, toolsJSON, resourcesJSON, promptsJSON, store.SyncSynced); err != nil {
		s.recordSyncFailure(ctx, serverID)
		return nil, err
	}

	s.setStatus(ctx, serverID, store.ServerConnected, store.SyncSynced)
	return s.servers.GetServer(ctx, serverID)
}

// casCapabilities runs one capability write through the optimistic retry
// loop: re-read the current version, attempt the version-qualified update,
// back off and retry on conflict.
func (s *Syncer) casCapabilities(ctx context.Context, serverID string, tools, resources, prompts json.RawMessage, syncStatus store.SyncStatus) (*store.McpServer, error) {
	var updated *store.McpServer
	err := store.Retry(ctx, s.maxRetries, s.backoffBase, func() error {
		cur, err := s.servers.GetServer(ctx, serverID)
		if err != nil {
			return err
		}
		updated, err = s.servers.CompareAndSwapCapabilities(ctx, serverID, cur.Version, tools, resources, prompts, syncStatus)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// recordSyncFailure flips syncStatus to SYNC_FAILED without touching the
// caches. Sync errors never poison in-memory state; they only update the
// column and the watchers.
func (s *Syncer) recordSyncFailure(ctx context.Context, serverID string) {
	cur, err := s.servers.GetServer(ctx, serverID)
	if err != nil {
		log.Warn().Str("server_id", serverID).Err(err).Msg("mcp: record sync failure")
		return
	}
	if _, err := s.casCapabilities(ctx, serverID, cur.ToolsCache, cur.ResourcesCache, cur.PromptsCache, store.SyncFailed); err != nil {
		log.Warn().Str("server_id", serverID).Err(err).Msg("mcp: persist SYNC_FAILED")
	}
	s.publish(serverID, cur.Status, store.SyncFailed)
}

func (s *Syncer) setStatus(ctx context.Context, serverID string, status store.McpServerStatus, syncStatus store.SyncStatus) {
	if err := s.servers.UpdateServerStatus(ctx, serverID, status); err != nil {
		log.Warn().Str("server_id", serverID).Err(err).Msg("mcp: persist server status")
	}
	s.publish(serverID, status, syncStatus)
}
