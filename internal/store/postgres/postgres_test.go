package postgres

import (
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// newMockStore builds a Store backed by a sqlmock connection, preparing
// every statement the real New/NewFromDSN path prepares so later
// ExpectQuery/ExpectExec calls line up against the right *sql.Stmt.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}

	s := &Store{db: db}
	expectAllPrepares(mock)
	if err := s.prepareStatements(); err != nil {
		t.Fatalf("prepareStatements: %v", err)
	}
	return s, mock, db
}

func expectAllPrepares(mock sqlmock.Sqlmock) {
	for _, q := range []string{
		`INSERT INTO conversations`,
		`SELECT id, title, status, response_id, completion_reason, created_at, updated_at`,
		`UPDATE conversations SET status`,
		`UPDATE conversations SET response_id`,
		`INSERT INTO messages`,
		`UPDATE messages SET content`,
		`SELECT id, conversation_id, role, content, raw_json, output_index, item_id, created_at`,
		`INSERT INTO tool_calls`,
		`SELECT id, conversation_id, type, name, item_id, arguments_json, result_json, status, output_index, created_at, updated_at`,
		`INSERT INTO mcp_servers`,
		`FROM mcp_servers WHERE server_id`,
		`FROM mcp_servers ORDER BY id`,
		`DELETE FROM mcp_servers`,
		`UPDATE mcp_servers SET status`,
		`SELECT policy FROM tool_approval_policies`,
		`SELECT id, server_id, tool_name, policy FROM tool_approval_policies`,
		`DELETE FROM tool_approval_policies`,
	} {
		mock.ExpectPrepare(regexp.QuoteMeta(q))
	}
}
