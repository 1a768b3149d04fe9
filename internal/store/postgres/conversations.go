package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/store"
)

func (s *Store) CreateConversation(ctx context.Context, title string) (*store.Conversation, error) {
	now := time.Now().UTC()
	c := &store.Conversation{Title: title, Status: store.ConversationCreated}

	err := s.stmtCreateConversation.QueryRowContext(ctx, title, store.ConversationCreated, now).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceError, "store/postgres: create conversation", err)
	}
	return c, nil
}

func (s *Store) GetConversation(ctx context.Context, id int64) (*store.Conversation, error) {
	c := &store.Conversation{}
	var responseID, completionReason sql.NullString

	err := s.stmtGetConversation.QueryRowContext(ctx, id).Scan(
		&c.ID, &c.Title, &c.Status, &responseID, &completionReason, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errs.Wrap(errs.NotFound, "store/postgres: conversation not found", nil)
	}
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceError, "store/postgres: get conversation", err)
	}
	if responseID.Valid {
		c.ResponseID = &responseID.String
	}
	if completionReason.Valid {
		c.CompletionReason = &completionReason.String
	}
	return c, nil
}

func (s *Store) UpdateConversationStatus(ctx context.Context, id int64, status store.ConversationStatus, completionReason *string) error {
	result, err := s.stmtUpdateConversationStatus.ExecContext(ctx, status, completionReason, time.Now().UTC(), id)
	if err != nil {
		return errs.Wrap(errs.PersistenceError, "store/postgres: update conversation status", err)
	}
	return requireRowsAffected(result, "store/postgres: conversation not found for status update")
}

func (s *Store) SetConversationResponseID(ctx context.Context, id int64, responseID string) error {
	result, err := s.stmtSetConversationResponse.ExecContext(ctx, responseID, time.Now().UTC(), id)
	if err != nil {
		return errs.Wrap(errs.PersistenceError, "store/postgres: set conversation response_id", err)
	}
	return requireRowsAffected(result, "store/postgres: conversation not found for response_id update")
}

func requireRowsAffected(result sql.Result, notFoundMsg string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.PersistenceError, "store/postgres: rows affected", err)
	}
	if n == 0 {
		return errs.Wrap(errs.NotFound, notFoundMsg, nil)
	}
	return nil
}
