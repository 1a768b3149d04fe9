package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/pocketomega/chatrelay/internal/store"
)

// TestStore_UpsertToolCall_FirstEventWinsAndMerges exercises the
// merge-by-(conversationId,itemId) rule: the insert carries Type/Name, a
// later arguments-only delta patch carries neither, and the row returned
// from the ON CONFLICT branch must still report the original Type/Name.
func TestStore_UpsertToolCall_FirstEventWinsAndMerges(t *testing.T) {
	s, mock, db := newMockStore(t)
	defer db.Close()

	now := time.Now()
	cols := []string{"id", "conversation_id", "type", "name", "item_id", "arguments_json", "result_json", "status", "output_index", "created_at", "updated_at"}

	mock.ExpectQuery(`INSERT INTO tool_calls`).
		WithArgs(int64(1), store.ToolCallFunction, "search_docs", "item-1", nil, nil, store.ToolCallInProgress, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(10), int64(1), store.ToolCallFunction, "search_docs", "item-1", nil, nil, store.ToolCallInProgress, nil, now, now))

	first, err := s.UpsertToolCall(context.Background(), &store.ToolCall{
		ConversationID: 1, Type: store.ToolCallFunction, Name: "search_docs", ItemID: "item-1",
		Status: store.ToolCallInProgress,
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.Name != "search_docs" {
		t.Fatalf("unexpected name: %s", first.Name)
	}

	// A later delta patch omits Type/Name (zero values); the row returned
	// simulates Postgres's CASE-based merge keeping the original values.
	mock.ExpectQuery(`INSERT INTO tool_calls`).
		WithArgs(int64(1), store.ToolCallType(""), "", "item-1", []byte(`{"q":"golang"}`), nil, store.ToolCallInProgress, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(10), int64(1), store.ToolCallFunction, "search_docs", "item-1", []byte(`{"q":"golang"}`), nil, store.ToolCallInProgress, nil, now, now))

	second, err := s.UpsertToolCall(context.Background(), &store.ToolCall{
		ConversationID: 1, ItemID: "item-1", ArgumentsJSON: []byte(`{"q":"golang"}`),
		Status: store.ToolCallInProgress,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.Type != store.ToolCallFunction || second.Name != "search_docs" {
		t.Fatalf("first-event-wins violated: %+v", second)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// TestStore_UpsertToolCall_TerminalStatusFinal exercises the rule that a
// COMPLETED/FAILED status can never be regressed by a later patch. The SQL
// itself enforces this; here we only assert the returned row reflects it.
func TestStore_UpsertToolCall_TerminalStatusFinal(t *testing.T) {
	s, mock, db := newMockStore(t)
	defer db.Close()

	now := time.Now()
	cols := []string{"id", "conversation_id", "type", "name", "item_id", "arguments_json", "result_json", "status", "output_index", "created_at", "updated_at"}

	mock.ExpectQuery(`INSERT INTO tool_calls`).
		WithArgs(int64(1), store.ToolCallType(""), "", "item-2", nil, nil, store.ToolCallInProgress, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(11), int64(1), store.ToolCallMCP, "fetch", "item-2", nil, []byte(`{"ok":true}`), store.ToolCallCompleted, nil, now, now))

	out, err := s.UpsertToolCall(context.Background(), &store.ToolCall{
		ConversationID: 1, ItemID: "item-2", Status: store.ToolCallInProgress,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if out.Status != store.ToolCallCompleted {
		t.Fatalf("expected terminal status preserved, got %s", out.Status)
	}
}
