package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteTurnStore struct {
	db *sql.DB
}

var _ TurnStore = &SQLiteTurnStore{}

// SQLiteMemoryDSN returns a DSN for a named in-memory database. Nothing
// written to it outlives the process.
func SQLiteMemoryDSN(name string) string {
	if strings.TrimSpace(name) == "" {
		name = "turns"
	}
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)
}

func SQLiteTurnDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite turn store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func NewSQLiteTurnStore(dsn string) (*SQLiteTurnStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite turn store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if strings.Contains(dsn, "mode=memory") {
		// every connection to a memory database must stay open or the data goes
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}
	s := &SQLiteTurnStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTurnStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteTurnStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite turn store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turn_log (
			conv_id TEXT NOT NULL,
			turn_index INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY (conv_id, turn_index)
		);`,
		`CREATE INDEX IF NOT EXISTS turn_log_by_created ON turn_log(created_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS turn_log_by_conv ON turn_log(conv_id, turn_index DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite turn store: migrate")
		}
	}
	return nil
}

func (s *SQLiteTurnStore) Save(ctx context.Context, rec TurnRecord) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite turn store: db is nil")
	}
	if ctx == nil {
		return errors.New("sqlite turn store: ctx is nil")
	}
	if err := validateRecord(rec); err != nil {
		return errors.Wrap(err, "sqlite turn store")
	}
	if rec.CreatedAtMs <= 0 {
		rec.CreatedAtMs = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turn_log(conv_id, turn_index, role, content, created_at_ms)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(conv_id, turn_index) DO UPDATE SET
			role = excluded.role,
			content = excluded.content,
			created_at_ms = excluded.created_at_ms
	`, rec.ConvID, rec.Index, rec.Role, rec.Content, rec.CreatedAtMs)
	if err != nil {
		return errors.Wrap(err, "sqlite turn store: insert")
	}
	return nil
}

func (s *SQLiteTurnStore) List(ctx context.Context, q TurnQuery) ([]TurnRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite turn store: db is nil")
	}
	if ctx == nil {
		return nil, errors.New("sqlite turn store: ctx is nil")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	clauses := []string{}
	args := []any{}
	if v := strings.TrimSpace(q.ConvID); v != "" {
		clauses = append(clauses, "conv_id = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(q.Role); v != "" {
		clauses = append(clauses, "role = ?")
		args = append(args, v)
	}
	if q.SinceMs > 0 {
		clauses = append(clauses, "created_at_ms >= ?")
		args = append(args, q.SinceMs)
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT conv_id, turn_index, role, content, created_at_ms
		FROM turn_log
		%s
		ORDER BY created_at_ms DESC, turn_index DESC
		LIMIT ?
	`, where)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite turn store: query")
	}
	defer func() { _ = rows.Close() }()

	items := []TurnRecord{}
	for rows.Next() {
		var item TurnRecord
		if err := rows.Scan(&item.ConvID, &item.Index, &item.Role, &item.Content, &item.CreatedAtMs); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func validateRecord(rec TurnRecord) error {
	if strings.TrimSpace(rec.ConvID) == "" {
		return errors.New("convID is empty")
	}
	if rec.Index < 0 {
		return errors.New("index is negative")
	}
	if strings.TrimSpace(rec.Role) == "" {
		return errors.New("role is empty")
	}
	return nil
}
