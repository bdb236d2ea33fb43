package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/todo-store/internal/model"
	"github.com/BuzzLyutic/todo-store/internal/worker"
)

var postgresSchema = []string{`
	CREATE TABLE IF NOT EXISTS todos (
		id BIGINT PRIMARY KEY,
		title TEXT,
		details TEXT,
		created_at TIMESTAMPTZ,
		is_completed BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_todos_created_at ON todos (created_at DESC)`,
}

const postgresColumns = `id, title, details, created_at, is_completed`

type postgresBackend struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, databaseURL string, loop *worker.Loop, logger *zap.Logger) (Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return newPostgresStore(ctx, pool, loop, logger)
}

func newPostgresStore(ctx context.Context, pool *pgxpool.Pool, loop *worker.Loop, logger *zap.Logger) (Store, error) {
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create todos table: %w", err)
		}
	}

	rows, err := pool.Query(ctx, `SELECT `+postgresColumns+` FROM todos`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to query todos: %w", err)
	}
	initial, err := scanPostgresRows(rows)
	if err != nil {
		pool.Close()
		return nil, err
	}

	logger.Debug("postgres store opened", zap.Int("records", len(initial)))
	return newEngine(&postgresBackend{pool: pool}, loop, logger, initial), nil
}

func (b *postgresBackend) begin(ctx context.Context) (tx, error) {
	t, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: t}, nil
}

func (b *postgresBackend) close() error {
	b.pool.Close()
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) fetch(ctx context.Context, req FetchRequest) ([]model.Record, error) {
	query := `SELECT ` + postgresColumns + ` FROM todos`
	if req.SortByCreatedDesc {
		query += ` ORDER BY created_at DESC NULLS LAST, id DESC`
	}
	rows, err := t.tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query todos: %w", err)
	}
	return scanPostgresRows(rows)
}

func (t *postgresTx) count(ctx context.Context) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM todos`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count todos: %w", err)
	}
	return n, nil
}

func (t *postgresTx) maxID(ctx context.Context) (int64, error) {
	var id int64
	if err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM todos`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to query max id: %w", err)
	}
	return id, nil
}

func (t *postgresTx) get(ctx context.Context, id int64) (model.Record, bool, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+postgresColumns+`
		FROM todos
		WHERE id = $1
	`, id)
	if err != nil {
		return model.Record{}, false, fmt.Errorf("failed to query todo: %w", err)
	}
	records, err := scanPostgresRows(rows)
	if err != nil || len(records) == 0 {
		return model.Record{}, false, err
	}
	return records[0], true, nil
}

func (t *postgresTx) insert(ctx context.Context, r model.Record) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO todos (`+postgresColumns+`)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.Title, r.Details, r.CreatedAt, r.IsCompleted)
	return mapPostgresError(err)
}

func (t *postgresTx) update(ctx context.Context, r model.Record) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE todos
		SET title = $2, details = $3, created_at = $4, is_completed = $5
		WHERE id = $1
	`, r.ID, r.Title, r.Details, r.CreatedAt, r.IsCompleted)
	if err != nil {
		return fmt.Errorf("failed to update todo: %w", err)
	}
	return nil
}

func (t *postgresTx) delete(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, "DELETE FROM todos WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	return nil
}

func (t *postgresTx) commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresTx) rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func scanPostgresRows(rows pgx.Rows) ([]model.Record, error) {
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var (
			r         model.Record
			createdAt *time.Time
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.Details, &createdAt, &r.IsCompleted); err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		if createdAt != nil {
			ts := createdAt.UTC()
			r.CreatedAt = &ts
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return fmt.Errorf("failed to insert todo: %w", err)
}
