// Package postgres implements the persistence port (internal/store.Store)
// against PostgreSQL or CockroachDB via database/sql + lib/pq: prepared
// statements held for the connection's lifetime, connection-pool knobs set
// at construction, and a PingContext health check before the store is
// handed back to the caller.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/pocketomega/chatrelay/internal/errs"
)

// Config is everything needed to open and tune a connection pool against
// a Postgres-wire-compatible database.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns sane pool defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "chatrelay",
		Database:        "chatrelay",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Store implements store.Store. The zero value is not usable; build one
// with New or NewFromDSN.
type Store struct {
	db *sql.DB

	stmtCreateConversation       *sql.Stmt
	stmtGetConversation          *sql.Stmt
	stmtUpdateConversationStatus *sql.Stmt
	stmtSetConversationResponse  *sql.Stmt

	stmtInsertMessage       *sql.Stmt
	stmtUpdateMessageByItem *sql.Stmt
	stmtGetMessageByItem    *sql.Stmt

	stmtUpsertToolCall    *sql.Stmt
	stmtGetToolCallByItem *sql.Stmt

	stmtCreateServer       *sql.Stmt
	stmtGetServer          *sql.Stmt
	stmtListServers        *sql.Stmt
	stmtDeleteServer       *sql.Stmt
	stmtUpdateServerStatus *sql.Stmt

	stmtGetPolicy      *sql.Stmt
	stmtListPolicies   *sql.Stmt
	stmtDeletePolicies *sql.Stmt
}

// New opens a Store against the given Config.
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		int(cfg.ConnectTimeout.Seconds()),
	)
	return newFromDSN(dsn, cfg)
}

// NewFromDSN opens a Store from a raw DSN/connection URL, for operators
// who already have one (e.g. from a managed Postgres provider).
func NewFromDSN(dsn string, cfg *Config) (*Store, error) {
	if dsn == "" {
		return nil, errs.Wrap(errs.InvalidRequest, "store/postgres: dsn is required", nil)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return newFromDSN(dsn, cfg)
}

func newFromDSN(dsn string, cfg *Config) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceError, "store/postgres: open", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.PersistenceError, "store/postgres: ping", err)
	}

	s := &Store{db: db}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) prepareStatements() error {
	type prep struct {
		dst   **sql.Stmt
		query string
	}
	stmts := []prep{
		{&s.stmtCreateConversation, `
			INSERT INTO conversations (title, status, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			RETURNING id, created_at, updated_at`},
		{&s.stmtGetConversation, `
			SELECT id, title, status, response_id, completion_reason, created_at, updated_at
			FROM conversations WHERE id = $1`},
		{&s.stmtUpdateConversationStatus, `
			UPDATE conversations SET status = $1, completion_reason = $2, updated_at = $3
			WHERE id = $4`},
		{&s.stmtSetConversationResponse, `
			UPDATE conversations SET response_id = $1, updated_at = $2 WHERE id = $3`},

		{&s.stmtInsertMessage, `
			INSERT INTO messages (conversation_id, role, content, raw_json, output_index, item_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at`},
		{&s.stmtUpdateMessageByItem, `
			UPDATE messages SET content = $1, raw_json = COALESCE($2, raw_json), output_index = $3
			WHERE conversation_id = $4 AND item_id = $5
			RETURNING id, created_at`},
		{&s.stmtGetMessageByItem, `
			SELECT id, conversation_id, role, content, raw_json, output_index, item_id, created_at
			FROM messages WHERE conversation_id = $1 AND item_id = $2`},

		{&s.stmtUpsertToolCall, `
			INSERT INTO tool_calls (conversation_id, type, name, item_id, arguments_json, result_json, status, output_index, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			ON CONFLICT (conversation_id, item_id) DO UPDATE SET
				type           = CASE WHEN tool_calls.type = '' THEN EXCLUDED.type ELSE tool_calls.type END,
				name           = CASE WHEN tool_calls.name = '' THEN EXCLUDED.name ELSE tool_calls.name END,
				arguments_json = COALESCE(EXCLUDED.arguments_json, tool_calls.arguments_json),
				result_json    = COALESCE(EXCLUDED.result_json, tool_calls.result_json),
				status         = CASE WHEN tool_calls.status IN ('COMPLETED', 'FAILED') THEN tool_calls.status ELSE EXCLUDED.status END,
				output_index   = COALESCE(EXCLUDED.output_index, tool_calls.output_index),
				updated_at     = EXCLUDED.updated_at
			RETURNING id, conversation_id, type, name, item_id, arguments_json, result_json, status, output_index, created_at, updated_at`},
		{&s.stmtGetToolCallByItem, `
			SELECT id, conversation_id, type, name, item_id, arguments_json, result_json, status, output_index, created_at, updated_at
			FROM tool_calls WHERE conversation_id = $1 AND item_id = $2`},

		{&s.stmtCreateServer, `
			INSERT INTO mcp_servers (server_id, name, base_url, api_key_enc, transport, status, sync_status, tools_cache, resources_cache, prompts_cache, version, last_updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11)
			RETURNING id, version, last_updated`},
		{&s.stmtGetServer, `
			SELECT id, server_id, name, base_url, api_key_enc, transport, status, sync_status, tools_cache, resources_cache, prompts_cache, last_synced_at, version, last_updated
			FROM mcp_servers WHERE server_id = $1`},
		{&s.stmtListServers, `
			SELECT id, server_id, name, base_url, api_key_enc, transport, status, sync_status, tools_cache, resources_cache, prompts_cache, last_synced_at, version, last_updated
			FROM mcp_servers ORDER BY id`},
		{&s.stmtDeleteServer, `DELETE FROM mcp_servers WHERE server_id = $1`},
		{&s.stmtUpdateServerStatus, `
			UPDATE mcp_servers SET status = $1, last_updated = $2 WHERE server_id = $3`},

		{&s.stmtGetPolicy, `
			SELECT policy FROM tool_approval_policies WHERE server_id = $1 AND tool_name = $2`},
		{&s.stmtListPolicies, `
			SELECT id, server_id, tool_name, policy FROM tool_approval_policies WHERE server_id = $1 ORDER BY tool_name`},
		{&s.stmtDeletePolicies, `DELETE FROM tool_approval_policies WHERE server_id = $1`},
	}

	for _, p := range stmts {
		stmt, err := s.db.Prepare(p.query)
		if err != nil {
			return errs.Wrap(errs.PersistenceError, "store/postgres: prepare statement", err)
		}
		*p.dst = stmt
	}
	return nil
}

func nowUTC() time.Time { return time.Now().UTC() }

// Close releases every prepared statement and the underlying pool.
func (s *Store) Close() error {
	stmts := []*sql.Stmt{
		s.stmtCreateConversation, s.stmtGetConversation, s.stmtUpdateConversationStatus, s.stmtSetConversationResponse,
		s.stmtInsertMessage, s.stmtUpdateMessageByItem, s.stmtGetMessageByItem,
		s.stmtUpsertToolCall, s.stmtGetToolCallByItem,
		s.stmtCreateServer, s.stmtGetServer, s.stmtListServers, s.stmtDeleteServer, s.stmtUpdateServerStatus,
		s.stmtGetPolicy, s.stmtListPolicies, s.stmtDeletePolicies,
	}
	var firstErr error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return errs.Wrap(errs.PersistenceError, "store/postgres: close", firstErr)
	}
	return nil
}
