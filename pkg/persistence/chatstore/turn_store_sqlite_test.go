package chatstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedTurns(t *testing.T, s TurnStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, TurnRecord{ConvID: "conv-1", Index: 0, Role: "user", Content: "hi", CreatedAtMs: 100}))
	require.NoError(t, s.Save(ctx, TurnRecord{ConvID: "conv-1", Index: 1, Role: "assistant", Content: "hello", CreatedAtMs: 200}))
	require.NoError(t, s.Save(ctx, TurnRecord{ConvID: "conv-2", Index: 0, Role: "user", Content: "other", CreatedAtMs: 300}))
}

func TestSQLiteTurnStore_SaveAndList(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "turns.db")
	dsn, err := SQLiteTurnDSNForFile(dbPath)
	require.NoError(t, err)

	s, err := NewSQLiteTurnStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.True(t, hasTable(t, s.db, "turn_log"))

	seedTurns(t, s)
	ctx := context.Background()

	items, err := s.List(ctx, TurnQuery{ConvID: "conv-1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, 1, items[0].Index)
	require.Equal(t, "hello", items[0].Content)
	require.Equal(t, 0, items[1].Index)

	all, err := s.List(ctx, TurnQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "conv-2", all[0].ConvID)

	byRole, err := s.List(ctx, TurnQuery{ConvID: "conv-1", Role: "user"})
	require.NoError(t, err)
	require.Len(t, byRole, 1)
	require.Equal(t, "hi", byRole[0].Content)

	since, err := s.List(ctx, TurnQuery{SinceMs: 200, Limit: 1})
	require.NoError(t, err)
	require.Len(t, since, 1)
	require.Equal(t, int64(300), since[0].CreatedAtMs)

	_, err = os.Stat(dbPath)
	require.NoError(t, err)
}

func TestSQLiteTurnStore_UpsertsOnSameIndex(t *testing.T) {
	s, err := NewSQLiteTurnStore(SQLiteMemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, TurnRecord{ConvID: "c", Index: 0, Role: "user", Content: "a", CreatedAtMs: 1}))
	require.NoError(t, s.Save(ctx, TurnRecord{ConvID: "c", Index: 0, Role: "user", Content: "b", CreatedAtMs: 2}))
	require.Equal(t, int64(1), queryRowCount(t, s.db, "SELECT COUNT(1) FROM turn_log"))

	items, err := s.List(ctx, TurnQuery{ConvID: "c"})
	require.NoError(t, err)
	require.Equal(t, "b", items[0].Content)
}

func TestSQLiteTurnStore_Validation(t *testing.T) {
	s, err := NewSQLiteTurnStore(SQLiteMemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.Error(t, s.Save(ctx, TurnRecord{Index: 0, Role: "user"}))
	require.Error(t, s.Save(ctx, TurnRecord{ConvID: "c", Index: -1, Role: "user"}))
	require.Error(t, s.Save(ctx, TurnRecord{ConvID: "c", Index: 0}))

	_, err = NewSQLiteTurnStore("  ")
	require.Error(t, err)
	_, err = SQLiteTurnDSNForFile("")
	require.Error(t, err)
}

func TestInMemoryTurnStore_MatchesSQLiteOrdering(t *testing.T) {
	s := NewInMemoryTurnStore(0)
	seedTurns(t, s)

	items, err := s.List(context.Background(), TurnQuery{ConvID: "conv-1"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, 1, items[0].Index)
	require.Equal(t, 0, items[1].Index)

	all, err := s.List(context.Background(), TurnQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "conv-2", all[0].ConvID)
}

func TestInMemoryTurnStore_DropsOldestBeyondCap(t *testing.T) {
	s := NewInMemoryTurnStore(2)
	seedTurns(t, s)

	all, err := s.List(context.Background(), TurnQuery{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, r := range all {
		require.NotEqual(t, "hi", r.Content)
	}
}

func hasTable(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	return queryRowCount(t, db, "SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?", name) > 0
}

func queryRowCount(t *testing.T, db *sql.DB, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRow(query, args...).Scan(&n))
	return n
}
