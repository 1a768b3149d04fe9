package postgres

import (
	"context"
	"database/sql"

	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/store"
)

func (s *Store) GetPolicy(ctx context.Context, serverID, toolName string) (store.ApprovalPolicy, error) {
	var policy store.ApprovalPolicy
	err := s.stmtGetPolicy.QueryRowContext(ctx, serverID, toolName).Scan(&policy)
	if err == sql.ErrNoRows {
		return "", errs.Wrap(errs.NotFound, "store/postgres: approval policy not found", nil)
	}
	if err != nil {
		return "", errs.Wrap(errs.PersistenceError, "store/postgres: get approval policy", err)
	}
	return policy, nil
}

func (s *Store) ListPolicies(ctx context.Context, serverID string) ([]store.ToolApprovalPolicyRow, error) {
	rows, err := s.stmtListPolicies.QueryContext(ctx, serverID)
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceError, "store/postgres: list approval policies", err)
	}
	defer rows.Close()

	var out []store.ToolApprovalPolicyRow
	for rows.Next() {
		var row store.ToolApprovalPolicyRow
		if err := rows.Scan(&row.ID, &row.ServerID, &row.ToolName, &row.Policy); err != nil {
			return nil, errs.Wrap(errs.PersistenceError, "store/postgres: scan approval policy", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.PersistenceError, "store/postgres: list approval policies rows", err)
	}
	return out, nil
}

func (s *Store) SetPolicy(ctx context.Context, serverID, toolName string, policy store.ApprovalPolicy) (*store.ToolApprovalPolicyRow, error) {
	row := store.ToolApprovalPolicyRow{ServerID: serverID, ToolName: toolName, Policy: policy}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tool_approval_policies (server_id, tool_name, policy)
		VALUES ($1, $2, $3)
		ON CONFLICT (server_id, tool_name) DO UPDATE SET policy = EXCLUDED.policy
		RETURNING id`,
		serverID, toolName, policy,
	).Scan(&row.ID)
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceError, "store/postgres: set approval policy", err)
	}
	return &row, nil
}

func (s *Store) DeletePolicies(ctx context.Context, serverID string) error {
	_, err := s.stmtDeletePolicies.ExecContext(ctx, serverID)
	if err != nil {
		return errs.Wrap(errs.PersistenceError, "store/postgres: delete approval policies", err)
	}
	return nil
}
