package postgres

import (
	"context"
	"database/sql"

	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/store"
)

// UpsertToolCall is a single INSERT ... ON CONFLICT DO UPDATE, so the
// first-event-wins and terminal-status-final rules live in SQL rather than
// a read-modify-write round trip: Type/Name only take EXCLUDED's value when
// the stored column is still empty, and Status never regresses out of
// COMPLETED/FAILED once set.
func (s *Store) UpsertToolCall(ctx context.Context, patch *store.ToolCall) (*store.ToolCall, error) {
	var argsJSON, resultJSON any
	if len(patch.ArgumentsJSON) > 0 {
		argsJSON = []byte(patch.ArgumentsJSON)
	}
	if len(patch.ResultJSON) > 0 {
		resultJSON = []byte(patch.ResultJSON)
	}

	out := store.ToolCall{}
	var outArgs, outResult []byte // JSONB columns may be NULL
	err := s.stmtUpsertToolCall.QueryRowContext(ctx,
		patch.ConversationID, patch.Type, patch.Name, patch.ItemID,
		argsJSON, resultJSON, patch.Status, patch.OutputIndex, nowUTC(),
	).Scan(
		&out.ID, &out.ConversationID, &out.Type, &out.Name, &out.ItemID,
		&outArgs, &outResult, &out.Status, &out.OutputIndex,
		&out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceError, "store/postgres: upsert tool call", err)
	}
	out.ArgumentsJSON = outArgs
	out.ResultJSON = outResult
	return &out, nil
}

func (s *Store) GetToolCallByItemID(ctx context.Context, conversationID int64, itemID string) (*store.ToolCall, error) {
	out := store.ToolCall{}
	err := s.stmtGetToolCallByItem.QueryRowContext(ctx, conversationID, itemID).Scan(
		&out.ID, &out.ConversationID, &out.Type, &out.Name, &out.ItemID,
		&out.ArgumentsJSON, &out.ResultJSON, &out.Status, &out.OutputIndex,
		&out.CreatedAt, &out.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errs.Wrap(errs.NotFound, "store/postgres: tool call not found", nil)
	}
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceError, "store/postgres: get tool call by item", err)
	}
	return &out, nil
}
