package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/store"
)

func (s *Store) CreateServer(ctx context.Context, srv *store.McpServer) (*store.McpServer, error) {
	out := *srv
	now := nowUTC()
	err := s.stmtCreateServer.QueryRowContext(ctx,
		srv.ServerID, srv.Name, srv.BaseURL, srv.APIKeyEnc, srv.Transport, srv.Status, srv.SyncStatus,
		nullableJSON(srv.ToolsCache), nullableJSON(srv.ResourcesCache), nullableJSON(srv.PromptsCache), now,
	).Scan(&out.ID, &out.Version, &out.LastUpdated)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.Wrap(errs.AlreadyExists, "store/postgres: mcp server already exists", err)
		}
		return nil, errs.Wrap(errs.PersistenceError, "store/postgres: create mcp server", err)
	}
	return &out, nil
}

func (s *Store) GetServer(ctx context.Context, serverID string) (*store.McpServer, error) {
	row := s.stmtGetServer.QueryRowContext(ctx, serverID)
	return scanServer(row)
}

func (s *Store) ListServers(ctx context.Context) ([]*store.McpServer, error) {
	rows, err := s.stmtListServers.QueryContext(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceError, "store/postgres: list mcp servers", err)
	}
	defer rows.Close()

	var out []*store.McpServer
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.PersistenceError, "store/postgres: list mcp servers rows", err)
	}
	return out, nil
}

func (s *Store) DeleteServer(ctx context.Context, serverID string) error {
	result, err := s.stmtDeleteServer.ExecContext(ctx, serverID)
	if err != nil {
		return errs.Wrap(errs.PersistenceError, "store/postgres: delete mcp server", err)
	}
	return requireRowsAffected(result, "store/postgres: mcp server not found for delete")
}

func (s *Store) UpdateServerStatus(ctx context.Context, serverID string, status store.McpServerStatus) error {
	result, err := s.stmtUpdateServerStatus.ExecContext(ctx, status, nowUTC(), serverID)
	if err != nil {
		return errs.Wrap(errs.PersistenceError, "store/postgres: update mcp server status", err)
	}
	return requireRowsAffected(result, "store/postgres: mcp server not found for status update")
}

// CompareAndSwapCapabilities performs a version-qualified UPDATE. A zero
// rows-affected result is ambiguous between "server gone" and "version
// stale", so it is disambiguated with a follow-up GetServer: callers retry
// only on the OptimisticConflict branch (see store.Retry).
func (s *Store) CompareAndSwapCapabilities(ctx context.Context, serverID string, expectedVersion int64, tools, resources, prompts json.RawMessage, syncStatus store.SyncStatus) (*store.McpServer, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE mcp_servers
		SET tools_cache = $1, resources_cache = $2, prompts_cache = $3, sync_status = $4,
		    version = version + 1, last_synced_at = $5, last_updated = $5
		WHERE server_id = $6 AND version = $7
		RETURNING id, server_id, name, base_url, api_key_enc, transport, status, sync_status,
		          tools_cache, resources_cache, prompts_cache, last_synced_at, version, last_updated`,
		nullableJSON(tools), nullableJSON(resources), nullableJSON(prompts), syncStatus, nowUTC(),
		serverID, expectedVersion,
	)
	srv, err := scanServer(row)
	if err == nil {
		return srv, nil
	}
	if err != sql.ErrNoRows && !errors.Is(err, errs.NotFound) {
		return nil, errs.Wrap(errs.PersistenceError, "store/postgres: compare-and-swap capabilities", err)
	}

	// Zero rows matched; tell a stale-version caller apart from a deleted one.
	if _, getErr := s.GetServer(ctx, serverID); getErr != nil {
		return nil, getErr
	}
	return nil, errs.Wrap(errs.OptimisticConflict, "store/postgres: mcp server version mismatch", nil)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (*store.McpServer, error) {
	srv := &store.McpServer{}
	var toolsCache, resourcesCache, promptsCache []byte
	var lastSyncedAt sql.NullTime

	err := row.Scan(
		&srv.ID, &srv.ServerID, &srv.Name, &srv.BaseURL, &srv.APIKeyEnc, &srv.Transport, &srv.Status, &srv.SyncStatus,
		&toolsCache, &resourcesCache, &promptsCache, &lastSyncedAt, &srv.Version, &srv.LastUpdated,
	)
	if err == sql.ErrNoRows {
		return nil, errs.Wrap(errs.NotFound, "store/postgres: mcp server not found", nil)
	}
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceError, "store/postgres: scan mcp server", err)
	}
	srv.ToolsCache = toolsCache
	srv.ResourcesCache = resourcesCache
	srv.PromptsCache = promptsCache
	if lastSyncedAt.Valid {
		srv.LastSyncedAt = &lastSyncedAt.Time
	}
	return srv, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
