package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/store"
)

// UpsertMessageByItemID tries an update-by-item-id first, falling back to
// an insert when no row yet exists for (conversationId, itemId). A nil or
// empty itemID always inserts, mirroring the synthetic user-message case
// the interface docstring calls out.
func (s *Store) UpsertMessageByItemID(ctx context.Context, msg *store.Message) (*store.Message, error) {
	var rawJSON any
	if len(msg.RawJSON) > 0 {
		rawJSON = []byte(msg.RawJSON)
	}

	if msg.ItemID != nil && *msg.ItemID != "" {
		updated, err := s.updateMessageByItem(ctx, msg, rawJSON)
		if err == nil {
			return updated, nil
		}
		if err != sql.ErrNoRows {
			return nil, errs.Wrap(errs.PersistenceError, "store/postgres: update message by item", err)
		}
		// No existing row; fall through to insert. A concurrent first writer
		// can still win the race, in which case the unique index forces us
		// back onto the update path below.
	}

	row, err := s.insertMessage(ctx, msg, rawJSON)
	if err == nil {
		return row, nil
	}
	if msg.ItemID != nil && *msg.ItemID != "" && isUniqueViolation(err) {
		updated, uerr := s.updateMessageByItem(ctx, msg, rawJSON)
		if uerr == nil {
			return updated, nil
		}
		return nil, errs.Wrap(errs.PersistenceError, "store/postgres: update message after insert race", uerr)
	}
	return nil, errs.Wrap(errs.PersistenceError, "store/postgres: insert message", err)
}

func (s *Store) insertMessage(ctx context.Context, msg *store.Message, rawJSON any) (*store.Message, error) {
	now := time.Now().UTC()
	var itemIDArg any
	if msg.ItemID != nil {
		itemIDArg = *msg.ItemID
	}

	out := *msg
	err := s.stmtInsertMessage.QueryRowContext(ctx,
		msg.ConversationID, msg.Role, msg.Content, rawJSON, msg.OutputIndex, itemIDArg, now,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) updateMessageByItem(ctx context.Context, msg *store.Message, rawJSON any) (*store.Message, error) {
	out := *msg
	err := s.stmtUpdateMessageByItem.QueryRowContext(ctx,
		msg.Content, rawJSON, msg.OutputIndex, msg.ConversationID, *msg.ItemID,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
