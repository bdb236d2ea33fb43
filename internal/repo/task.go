package repo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BuzzLyutic/todo-store/internal/mapper"
	"github.com/BuzzLyutic/todo-store/internal/model"
	"github.com/BuzzLyutic/todo-store/internal/settings"
	"github.com/BuzzLyutic/todo-store/internal/store"
	"github.com/BuzzLyutic/todo-store/internal/worker"
)

var (
	ErrorNotFound  = errors.New("not found")
	ErrorConflict  = store.ErrConflict
	ErrInvalidData = errors.New("invalid data")
)

const (
	// SeededKey is the settings key of the seeded flag.
	SeededKey = "TodoRepository.initialLoad"

	// seedSpacing separates the creation times of imported tasks so the
	// remote order survives the newest-first sort.
	seedSpacing = time.Millisecond
)

type Options struct {
	// Ephemeral skips remote seeding entirely.
	Ephemeral bool
	// Now defaults to time.Now.
	Now func() time.Time
}

type TaskRepo struct {
	store  store.Store
	seed   SeedSource
	seeded settings.Flag
	loop   *worker.Loop
	logger *zap.Logger

	ephemeral bool
	now       func() time.Time

	// writer serializes id allocation: create and seed import.
	writer  sync.Mutex
	seeding singleflight.Group
}

func NewTaskRepo(st store.Store, seed SeedSource, prefs settings.Store, loop *worker.Loop, logger *zap.Logger, opts Options) *TaskRepo {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &TaskRepo{
		store:     st,
		seed:      seed,
		seeded:    settings.NewFlag(prefs, SeededKey),
		loop:      loop,
		logger:    logger,
		ephemeral: opts.Ephemeral,
		now:       now,
	}
}

func (r *TaskRepo) HasSeeded() bool {
	return r.seeded.IsSet()
}

func (r *TaskRepo) LoadInitialTodos(done func([]model.Task, error)) {
	go func() {
		tasks, err := r.loadInitial()
		complete(r, done, tasks, err)
	}()
}

func (r *TaskRepo) loadInitial() ([]model.Task, error) {
	if r.ephemeral {
		r.logger.Debug("ephemeral run, skipping remote seed")
		if err := r.seeded.Set(); err != nil {
			return nil, err
		}
		return r.fetchBlocking()
	}
	if r.seeded.IsSet() {
		return r.fetchBlocking()
	}

	v, err, shared := r.seeding.Do(SeededKey, func() (any, error) {
		// Another caller may have finished seeding while we waited.
		if r.seeded.IsSet() {
			return r.fetchBlocking()
		}
		return r.seedIfEmpty()
	})
	if err != nil {
		return nil, err
	}
	tasks := v.([]model.Task)
	if shared {
		tasks = append([]model.Task(nil), tasks...)
	}
	return tasks, nil
}

func (r *TaskRepo) seedIfEmpty() ([]model.Task, error) {
	count, err := r.countTodos()
	if err != nil {
		r.logger.Warn("counting todos failed, seeding anyway", zap.Error(err))
		count = 0
	}
	if count > 0 {
		r.logger.Debug("store already has todos, marking as seeded", zap.Int("count", count))
		if err := r.seeded.Set(); err != nil {
			return nil, err
		}
		return r.fetchBlocking()
	}

	remote, err := r.seed.FetchTodos(context.Background())
	if err != nil {
		return nil, err
	}
	return r.importRemote(remote)
}

// importRemote stores the remote list and marks the store as seeded. Remote
// ids that already exist locally are skipped, so a repeated import is a no-op.
func (r *TaskRepo) importRemote(remote []model.RemoteTodo) ([]model.Task, error) {
	r.writer.Lock()
	defer r.writer.Unlock()

	var tasks []model.Task
	err := r.transact(func(wc *store.WriteContext) error {
		base := r.now()
		imported := 0
		for i, rt := range remote {
			_, exists, err := wc.Get(rt.RemoteID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			var rec model.Record
			mapper.ToRecord(mapper.FromRemote(rt, base.Add(-time.Duration(i)*seedSpacing)), &rec)
			if err := wc.Insert(rec); err != nil {
				return err
			}
			imported++
		}
		if err := wc.Save(); err != nil {
			return err
		}
		if err := r.seeded.Set(); err != nil {
			return err
		}
		r.logger.Info("seeded todos from remote", zap.Int("received", len(remote)), zap.Int("imported", imported))

		records, err := wc.Fetch(store.FetchRequest{SortByCreatedDesc: true})
		if err != nil {
			return err
		}
		tasks = mapper.ToTasks(records)
		return nil
	})
	return tasks, err
}

// countTodos blocks until its transaction has counted.
func (r *TaskRepo) countTodos() (int, error) {
	var n int
	err := r.transact(func(wc *store.WriteContext) error {
		var err error
		n, err = wc.Count()
		return err
	})
	return n, err
}

func (r *TaskRepo) fetchBlocking() ([]model.Task, error) {
	var tasks []model.Task
	err := r.transact(func(wc *store.WriteContext) error {
		var err error
		tasks, err = fetchSorted(wc)
		return err
	})
	return tasks, err
}

// transact runs body in a write transaction and waits for it. Never call it
// from the main loop or from inside another transaction.
func (r *TaskRepo) transact(body func(wc *store.WriteContext) error) error {
	errc := make(chan error, 1)
	r.store.RunWriteTransaction(func(wc *store.WriteContext) error {
		err := body(wc)
		errc <- err
		return err
	})
	return <-errc
}

func (r *TaskRepo) FetchTodos(done func([]model.Task, error)) {
	r.store.RunWriteTransaction(func(wc *store.WriteContext) error {
		tasks, err := fetchSorted(wc)
		complete(r, done, tasks, err)
		return err
	})
}

// TodoByID answers from the main read context without touching the database.
func (r *TaskRepo) TodoByID(id int64, done func(model.Task, error)) {
	posted := r.loop.Post(func() {
		rec, ok := r.store.ReadContext().Get(id)
		if !ok {
			done(model.Task{}, ErrorNotFound)
			return
		}
		t, ok := mapper.ToTask(rec)
		if !ok {
			done(model.Task{}, ErrorNotFound)
			return
		}
		done(t, nil)
	})
	if !posted {
		done(model.Task{}, worker.ErrStopped)
	}
}

// FindTodo reads the task from the database, so it also sees rows written by
// other processes sharing the store.
func (r *TaskRepo) FindTodo(id int64, done func(model.Task, error)) {
	r.store.RunWriteTransaction(func(wc *store.WriteContext) error {
		rec, ok, err := wc.Get(id)
		if err == nil && !ok {
			err = ErrorNotFound
		}
		if err != nil {
			complete(r, done, model.Task{}, err)
			return err
		}
		t, ok := mapper.ToTask(rec)
		if !ok {
			complete(r, done, model.Task{}, ErrorNotFound)
			return ErrorNotFound
		}
		complete(r, done, t, nil)
		return nil
	})
}

func (r *TaskRepo) CreateTodo(title string, details *string, done func(model.Task, error)) {
	r.store.RunWriteTransaction(func(wc *store.WriteContext) error {
		r.writer.Lock()
		defer r.writer.Unlock()

		maxID, err := wc.MaxID()
		if err != nil {
			complete(r, done, model.Task{}, err)
			return err
		}

		task := model.Task{
			ID:          maxID + 1,
			Title:       title,
			Details:     details,
			CreatedAt:   r.now().UTC().Truncate(time.Microsecond),
			IsCompleted: false,
		}
		var rec model.Record
		mapper.ToRecord(task, &rec)

		if err := wc.Insert(rec); err != nil {
			complete(r, done, model.Task{}, err)
			return err
		}
		if err := wc.Save(); err != nil {
			complete(r, done, model.Task{}, err)
			return err
		}

		created := task
		if stored, ok, err := wc.Get(task.ID); err == nil && ok {
			if t, ok := mapper.ToTask(stored); ok {
				created = t
			}
		}
		complete(r, done, created, nil)
		return nil
	})
}

func (r *TaskRepo) UpdateTodo(t model.Task, done func(model.Task, error)) {
	r.store.RunWriteTransaction(func(wc *store.WriteContext) error {
		rec, ok, err := wc.Get(t.ID)
		if err == nil && !ok {
			err = ErrorNotFound
		}
		if err != nil {
			complete(r, done, model.Task{}, err)
			return err
		}

		title := t.Title
		rec.Title = &title
		rec.Details = nil
		if t.Details != nil {
			d := *t.Details
			rec.Details = &d
		}
		rec.IsCompleted = t.IsCompleted

		if err := wc.Update(rec); err != nil {
			complete(r, done, model.Task{}, err)
			return err
		}
		if err := wc.Save(); err != nil {
			complete(r, done, model.Task{}, err)
			return err
		}

		updated, ok := mapper.ToTask(rec)
		if !ok {
			updated = t
		}
		complete(r, done, updated, nil)
		return nil
	})
}

func (r *TaskRepo) ToggleCompletion(t model.Task, done func(model.Task, error)) {
	t.IsCompleted = !t.IsCompleted
	r.UpdateTodo(t, done)
}

func (r *TaskRepo) DeleteTodo(t model.Task, done func(error)) {
	r.store.RunWriteTransaction(func(wc *store.WriteContext) error {
		_, ok, err := wc.Get(t.ID)
		if err == nil && !ok {
			err = ErrorNotFound
		}
		if err == nil {
			err = wc.Delete(t.ID)
		}
		if err == nil {
			err = wc.Save()
		}
		r.post(func() { done(err) })
		return err
	})
}

func (r *TaskRepo) SearchTodos(query string, done func([]model.Task, error)) {
	query = strings.TrimSpace(query)
	r.store.RunWriteTransaction(func(wc *store.WriteContext) error {
		tasks, err := fetchSorted(wc)
		if err == nil && query != "" {
			tasks = filterTasks(tasks, query)
		}
		complete(r, done, tasks, err)
		return err
	})
}

func fetchSorted(wc *store.WriteContext) ([]model.Task, error) {
	records, err := wc.Fetch(store.FetchRequest{SortByCreatedDesc: true})
	if err != nil {
		return nil, err
	}
	return mapper.ToTasks(records), nil
}

func complete[T any](r *TaskRepo, done func(T, error), v T, err error) {
	if err != nil {
		var zero T
		v = zero
	}
	r.post(func() { done(v, err) })
}

// post delivers a completion on the main loop. If the loop is gone the
// completion runs on the calling goroutine so it still fires once.
func (r *TaskRepo) post(fn func()) {
	if !r.loop.Post(fn) {
		fn()
	}
}
