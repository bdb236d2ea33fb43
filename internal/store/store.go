// Package store is the durable record store. Reads observed by the main loop
// go through a ReadContext; every mutation runs in its own write transaction
// on a background goroutine and is merged into the ReadContext after commit.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/todo-store/internal/model"
	"github.com/BuzzLyutic/todo-store/internal/worker"
)

var (
	ErrClosed   = errors.New("store closed")
	ErrConflict = errors.New("conflict")
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Store interface {
	// ReadContext must only be used from the main loop.
	ReadContext() *ReadContext
	// RunWriteTransaction schedules body on a fresh write context and returns
	// immediately. body runs exactly once.
	RunWriteTransaction(body func(wc *WriteContext) error)
	Close() error
}

type FetchRequest struct {
	SortByCreatedDesc bool
}

type Config struct {
	Driver      string
	Path        string
	DatabaseURL string
	Ephemeral   bool
}

// FatalHandler receives store open failures. The default logs at fatal
// level, which exits the process.
type FatalHandler func(err error)

type Option func(*options)

type options struct {
	onFatal FatalHandler
}

func WithFatalHandler(h FatalHandler) Option {
	return func(o *options) { o.onFatal = h }
}

// Open opens the backend named by cfg.Driver. Ephemeral mode always uses an
// in-memory SQLite database.
func Open(ctx context.Context, cfg Config, loop *worker.Loop, logger *zap.Logger, opts ...Option) (Store, error) {
	o := options{
		onFatal: func(err error) {
			logger.Fatal("failed to open record store", zap.Error(err))
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		s   Store
		err error
	)
	switch {
	case cfg.Ephemeral:
		s, err = OpenSQLite(ctx, "", true, loop, logger)
	case cfg.Driver == "" || cfg.Driver == DriverSQLite:
		s, err = OpenSQLite(ctx, cfg.Path, false, loop, logger)
	case cfg.Driver == DriverPostgres:
		s, err = OpenPostgres(ctx, cfg.DatabaseURL, loop, logger)
	default:
		err = fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		o.onFatal(err)
		return nil, err
	}
	return s, nil
}

// tx is one backend transaction.
type tx interface {
	fetch(ctx context.Context, req FetchRequest) ([]model.Record, error)
	count(ctx context.Context) (int, error)
	maxID(ctx context.Context) (int64, error)
	get(ctx context.Context, id int64) (model.Record, bool, error)
	insert(ctx context.Context, r model.Record) error
	update(ctx context.Context, r model.Record) error
	delete(ctx context.Context, id int64) error
	commit(ctx context.Context) error
	rollback(ctx context.Context) error
}

type backend interface {
	begin(ctx context.Context) (tx, error)
	close() error
}

// engine implements Store on top of any backend.
type engine struct {
	backend backend
	loop    *worker.Loop
	read    *ReadContext
	logger  *zap.Logger

	// mu guards closed and the inflight.Add that follows the check.
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	// commitMu keeps merges queued on the loop in commit order.
	commitMu sync.Mutex
}

func newEngine(b backend, loop *worker.Loop, logger *zap.Logger, initial []model.Record) *engine {
	return &engine{
		backend: b,
		loop:    loop,
		read:    newReadContext(initial),
		logger:  logger,
	}
}

func (e *engine) ReadContext() *ReadContext {
	return e.read
}

func (e *engine) RunWriteTransaction(body func(wc *WriteContext) error) {
	wc := &WriteContext{engine: e, ctx: context.Background()}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		wc.closed = true
		go e.finish(wc, body)
		return
	}
	e.inflight.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.inflight.Done()
		e.finish(wc, body)
	}()
}

func (e *engine) finish(wc *WriteContext, body func(wc *WriteContext) error) {
	defer wc.discard()
	if err := body(wc); err != nil {
		e.logger.Debug("write transaction body failed", zap.Error(err))
	}
}

// Close waits for running transactions and then releases the backend.
func (e *engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.inflight.Wait()
	return e.backend.close()
}

func (e *engine) merge(ch model.Changes) {
	if ch.Empty() {
		return
	}
	e.loop.Post(func() {
		e.read.merge(ch)
	})
	e.logger.Debug("merged committed changes",
		zap.Int("inserted", len(ch.Inserted)),
		zap.Int("updated", len(ch.Updated)),
		zap.Int("deleted", len(ch.Deleted)),
	)
}

// WriteContext is confined to the goroutine running its transaction body.
// Mutations are visible to later reads in the same context immediately and
// to everyone else only after Save.
type WriteContext struct {
	engine  *engine
	ctx     context.Context
	tx      tx
	pending model.Changes
	closed  bool
}

func (wc *WriteContext) current() (tx, error) {
	if wc.closed {
		return nil, ErrClosed
	}
	if wc.tx == nil {
		t, err := wc.engine.backend.begin(wc.ctx)
		if err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}
		wc.tx = t
	}
	return wc.tx, nil
}

func (wc *WriteContext) Fetch(req FetchRequest) ([]model.Record, error) {
	t, err := wc.current()
	if err != nil {
		return nil, err
	}
	return t.fetch(wc.ctx, req)
}

func (wc *WriteContext) Count() (int, error) {
	t, err := wc.current()
	if err != nil {
		return 0, err
	}
	return t.count(wc.ctx)
}

// MaxID returns 0 for an empty store.
func (wc *WriteContext) MaxID() (int64, error) {
	t, err := wc.current()
	if err != nil {
		return 0, err
	}
	return t.maxID(wc.ctx)
}

func (wc *WriteContext) Get(id int64) (model.Record, bool, error) {
	t, err := wc.current()
	if err != nil {
		return model.Record{}, false, err
	}
	return t.get(wc.ctx, id)
}

func (wc *WriteContext) Insert(r model.Record) error {
	t, err := wc.current()
	if err != nil {
		return err
	}
	if err := t.insert(wc.ctx, r); err != nil {
		return err
	}
	wc.pending.Inserted = append(wc.pending.Inserted, cloneRecord(r))
	return nil
}

func (wc *WriteContext) Update(r model.Record) error {
	t, err := wc.current()
	if err != nil {
		return err
	}
	if err := t.update(wc.ctx, r); err != nil {
		return err
	}
	wc.pending.Updated = append(wc.pending.Updated, cloneRecord(r))
	return nil
}

func (wc *WriteContext) Delete(id int64) error {
	t, err := wc.current()
	if err != nil {
		return err
	}
	if err := t.delete(wc.ctx, id); err != nil {
		return err
	}
	wc.pending.Deleted = append(wc.pending.Deleted, id)
	return nil
}

// Save commits every change made since the previous Save, or none of them.
// The context stays usable afterwards.
func (wc *WriteContext) Save() error {
	if wc.closed {
		return ErrClosed
	}
	if wc.tx == nil {
		return nil
	}
	t := wc.tx
	wc.tx = nil
	changes := wc.pending
	wc.pending = model.Changes{}

	wc.engine.commitMu.Lock()
	defer wc.engine.commitMu.Unlock()

	if err := t.commit(wc.ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	wc.engine.merge(changes)
	return nil
}

func (wc *WriteContext) discard() {
	if wc.tx == nil {
		return
	}
	if err := wc.tx.rollback(wc.ctx); err != nil {
		wc.engine.logger.Warn("rollback failed", zap.Error(err))
	}
	wc.tx = nil
	wc.pending = model.Changes{}
}

func cloneRecord(r model.Record) model.Record {
	out := model.Record{ID: r.ID, IsCompleted: r.IsCompleted}
	if r.Title != nil {
		v := *r.Title
		out.Title = &v
	}
	if r.Details != nil {
		v := *r.Details
		out.Details = &v
	}
	if r.CreatedAt != nil {
		v := *r.CreatedAt
		out.CreatedAt = &v
	}
	return out
}
