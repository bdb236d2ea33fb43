package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/BuzzLyutic/todo-store/internal/model"
	"github.com/BuzzLyutic/todo-store/internal/worker"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS todos (
	id INTEGER PRIMARY KEY,
	title TEXT,
	details TEXT,
	created_at INTEGER,
	is_completed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_todos_created_at ON todos(created_at);`

const sqliteColumns = `id, title, details, created_at, is_completed`

type sqliteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (and creates, if needed) the database file at path. With
// ephemeral set, path is ignored and the database lives in memory for as
// long as the store is open.
func OpenSQLite(ctx context.Context, path string, ephemeral bool, loop *worker.Loop, logger *zap.Logger) (Store, error) {
	var dsn string
	if ephemeral {
		dsn = fmt.Sprintf("file:todos-%s?mode=memory&cache=shared", uuid.NewString())
	} else {
		if path == "" {
			return nil, errors.New("sqlite: empty database path")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: transactions queue up behind each other instead of
	// failing with SQLITE_BUSY, and an in-memory database stays alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create todos table: %w", err)
	}

	b := &sqliteBackend{db: db}
	initial, err := b.loadAll(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("sqlite store opened",
		zap.Bool("ephemeral", ephemeral),
		zap.String("path", path),
		zap.Int("records", len(initial)),
	)
	return newEngine(b, loop, logger, initial), nil
}

func (b *sqliteBackend) loadAll(ctx context.Context) ([]model.Record, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM todos`)
	if err != nil {
		return nil, fmt.Errorf("failed to query todos: %w", err)
	}
	return scanSQLiteRows(rows)
}

func (b *sqliteBackend) begin(ctx context.Context) (tx, error) {
	t, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: t}, nil
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) fetch(ctx context.Context, req FetchRequest) ([]model.Record, error) {
	query := `SELECT ` + sqliteColumns + ` FROM todos`
	if req.SortByCreatedDesc {
		query += ` ORDER BY created_at DESC NULLS LAST, id DESC`
	}
	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query todos: %w", err)
	}
	return scanSQLiteRows(rows)
}

func (t *sqliteTx) count(ctx context.Context) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM todos`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count todos: %w", err)
	}
	return n, nil
}

func (t *sqliteTx) maxID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := t.tx.QueryRowContext(ctx, `SELECT MAX(id) FROM todos`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to query max id: %w", err)
	}
	return id.Int64, nil
}

func (t *sqliteTx) get(ctx context.Context, id int64) (model.Record, bool, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM todos WHERE id = ?`, id)
	if err != nil {
		return model.Record{}, false, fmt.Errorf("failed to query todo: %w", err)
	}
	records, err := scanSQLiteRows(rows)
	if err != nil || len(records) == 0 {
		return model.Record{}, false, err
	}
	return records[0], true, nil
}

func (t *sqliteTx) insert(ctx context.Context, r model.Record) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO todos (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?)`,
		r.ID, nullString(r.Title), nullString(r.Details), nullUnixNano(r.CreatedAt), r.IsCompleted,
	)
	if err != nil {
		return mapSQLiteError(fmt.Errorf("failed to insert todo: %w", err))
	}
	return nil
}

func (t *sqliteTx) update(ctx context.Context, r model.Record) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE todos SET title = ?, details = ?, created_at = ?, is_completed = ? WHERE id = ?`,
		nullString(r.Title), nullString(r.Details), nullUnixNano(r.CreatedAt), r.IsCompleted, r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update todo: %w", err)
	}
	return nil
}

func (t *sqliteTx) delete(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM todos WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	return nil
}

func (t *sqliteTx) commit(context.Context) error {
	return t.tx.Commit()
}

func (t *sqliteTx) rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func scanSQLiteRows(rows *sql.Rows) ([]model.Record, error) {
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var (
			r         model.Record
			title     sql.NullString
			details   sql.NullString
			createdAt sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &title, &details, &createdAt, &r.IsCompleted); err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		if title.Valid {
			r.Title = &title.String
		}
		if details.Valid {
			r.Details = &details.String
		}
		if createdAt.Valid {
			ts := time.Unix(0, createdAt.Int64).UTC()
			r.CreatedAt = &ts
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullUnixNano(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func mapSQLiteError(err error) error {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		// Primary key and unique violations share the primary code; the
		// extended code is only present when extended codes are enabled.
		if sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}
