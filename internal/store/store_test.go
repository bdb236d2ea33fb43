package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/todo-store/internal/model"
	"github.com/BuzzLyutic/todo-store/internal/worker"
)

func newLoop(t *testing.T) *worker.Loop {
	t.Helper()
	loop := worker.NewLoop(zap.NewNop())
	loop.Start()
	t.Cleanup(loop.Stop)
	return loop
}

func newEphemeralStore(t *testing.T) (Store, *worker.Loop) {
	t.Helper()
	loop := newLoop(t)
	s, err := OpenSQLite(context.Background(), "", true, loop, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, loop
}

// runTx runs body in a write transaction and waits for it to return.
func runTx(t *testing.T, s Store, body func(wc *WriteContext) error) error {
	t.Helper()
	done := make(chan error, 1)
	s.RunWriteTransaction(func(wc *WriteContext) error {
		err := body(wc)
		done <- err
		return err
	})
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		return errors.New("write transaction did not finish")
	}
}

func record(id int64, title string, created time.Time) model.Record {
	return model.Record{ID: id, Title: model.StringPtr(title), CreatedAt: &created}
}

func TestStore_SaveMergesIntoReadContext(t *testing.T) {
	s, loop := newEphemeralStore(t)
	now := time.Now().UTC()

	err := runTx(t, s, func(wc *WriteContext) error {
		if err := wc.Insert(record(1, "first", now)); err != nil {
			return err
		}
		return wc.Save()
	})
	require.NoError(t, err)

	loop.Do(func() {
		r, ok := s.ReadContext().Get(1)
		if !assert.True(t, ok) {
			return
		}
		assert.Equal(t, "first", *r.Title)
	})

	err = runTx(t, s, func(wc *WriteContext) error {
		r, ok, err := wc.Get(1)
		if err != nil || !ok {
			return err
		}
		r.Title = model.StringPtr("renamed")
		r.IsCompleted = true
		if err := wc.Update(r); err != nil {
			return err
		}
		return wc.Save()
	})
	require.NoError(t, err)

	loop.Do(func() {
		r, ok := s.ReadContext().Get(1)
		if !assert.True(t, ok) {
			return
		}
		assert.Equal(t, "renamed", *r.Title, "committed values replace cached ones")
		assert.True(t, r.IsCompleted)
	})

	err = runTx(t, s, func(wc *WriteContext) error {
		if err := wc.Delete(1); err != nil {
			return err
		}
		return wc.Save()
	})
	require.NoError(t, err)

	loop.Do(func() {
		_, ok := s.ReadContext().Get(1)
		assert.False(t, ok)
		assert.Equal(t, 0, s.ReadContext().Len())
	})
}

func TestStore_UnsavedChangesAreDiscarded(t *testing.T) {
	s, loop := newEphemeralStore(t)
	now := time.Now().UTC()

	err := runTx(t, s, func(wc *WriteContext) error {
		if err := wc.Insert(record(1, "a", now)); err != nil {
			return err
		}
		return wc.Insert(record(2, "b", now))
	})
	require.NoError(t, err)

	var count int
	err = runTx(t, s, func(wc *WriteContext) error {
		var err error
		count, err = wc.Count()
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	loop.Do(func() {
		assert.Equal(t, 0, s.ReadContext().Len())
	})
}

func TestStore_ContextUsableAfterSave(t *testing.T) {
	s, _ := newEphemeralStore(t)
	now := time.Now().UTC()

	var fetched []model.Record
	err := runTx(t, s, func(wc *WriteContext) error {
		if err := wc.Insert(record(1, "a", now)); err != nil {
			return err
		}
		if err := wc.Save(); err != nil {
			return err
		}
		var err error
		fetched, err = wc.Fetch(FetchRequest{SortByCreatedDesc: true})
		return err
	})
	require.NoError(t, err)
	assert.Len(t, fetched, 1)
}

func TestStore_DuplicateIDConflicts(t *testing.T) {
	s, _ := newEphemeralStore(t)
	now := time.Now().UTC()

	err := runTx(t, s, func(wc *WriteContext) error {
		if err := wc.Insert(record(1, "a", now)); err != nil {
			return err
		}
		return wc.Insert(record(1, "b", now))
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStore_FetchSortsNewestFirst(t *testing.T) {
	s, loop := newEphemeralStore(t)
	base := time.Now().UTC()

	err := runTx(t, s, func(wc *WriteContext) error {
		for _, r := range []model.Record{
			record(1, "old", base.Add(-time.Hour)),
			record(2, "new", base),
			{ID: 3, Title: model.StringPtr("undated")},
			record(4, "middle", base.Add(-time.Minute)),
		} {
			if err := wc.Insert(r); err != nil {
				return err
			}
		}
		return wc.Save()
	})
	require.NoError(t, err)

	var fetched []model.Record
	err = runTx(t, s, func(wc *WriteContext) error {
		var err error
		fetched, err = wc.Fetch(FetchRequest{SortByCreatedDesc: true})
		return err
	})
	require.NoError(t, err)

	ids := make([]int64, 0, len(fetched))
	for _, r := range fetched {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{2, 4, 1, 3}, ids)

	loop.Do(func() {
		all := s.ReadContext().All()
		got := make([]int64, 0, len(all))
		for _, r := range all {
			got = append(got, r.ID)
		}
		assert.Equal(t, []int64{2, 4, 1, 3}, got)
	})
}

func TestStore_MaxID(t *testing.T) {
	s, _ := newEphemeralStore(t)

	var empty, filled int64
	err := runTx(t, s, func(wc *WriteContext) error {
		var err error
		if empty, err = wc.MaxID(); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := wc.Insert(record(41, "a", now)); err != nil {
			return err
		}
		if err := wc.Insert(record(7, "b", now)); err != nil {
			return err
		}
		filled, err = wc.MaxID()
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty)
	assert.Equal(t, int64(41), filled)
}

func TestStore_RoundTripsOptionalFields(t *testing.T) {
	s, _ := newEphemeralStore(t)
	created := time.Date(2025, 11, 7, 12, 30, 0, 123456789, time.UTC)

	var got model.Record
	var found bool
	err := runTx(t, s, func(wc *WriteContext) error {
		if err := wc.Insert(model.Record{ID: 5, Details: model.StringPtr("d"), CreatedAt: &created, IsCompleted: true}); err != nil {
			return err
		}
		var err error
		got, found, err = wc.Get(5)
		return err
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, got.Title)
	require.NotNil(t, got.Details)
	assert.Equal(t, "d", *got.Details)
	require.NotNil(t, got.CreatedAt)
	assert.True(t, created.Equal(*got.CreatedAt))
	assert.True(t, got.IsCompleted)
}

func TestStore_ClosedStoreRunsBodyWithError(t *testing.T) {
	s, _ := newEphemeralStore(t)
	require.NoError(t, s.Close())

	err := runTx(t, s, func(wc *WriteContext) error {
		_, err := wc.Count()
		return err
	})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStore_ReadContextFollowsLastCommit(t *testing.T) {
	s, loop := newEphemeralStore(t)
	now := time.Now().UTC()
	require.NoError(t, runTx(t, s, func(wc *WriteContext) error {
		if err := wc.Insert(record(1, "v0", now)); err != nil {
			return err
		}
		return wc.Save()
	}))

	const writers = 20
	errs := make(chan error, writers)
	for i := 1; i <= writers; i++ {
		title := fmt.Sprintf("v%d", i)
		s.RunWriteTransaction(func(wc *WriteContext) error {
			r, _, err := wc.Get(1)
			if err == nil {
				r.Title = model.StringPtr(title)
				err = wc.Update(r)
			}
			if err == nil {
				err = wc.Save()
			}
			errs <- err
			return err
		})
	}
	for i := 0; i < writers; i++ {
		require.NoError(t, <-errs)
	}

	var stored model.Record
	require.NoError(t, runTx(t, s, func(wc *WriteContext) error {
		var err error
		stored, _, err = wc.Get(1)
		return err
	}))

	// Every merge was queued before its body returned, so this runs after all of them.
	loop.Do(func() {
		r, ok := s.ReadContext().Get(1)
		if assert.True(t, ok) {
			assert.Equal(t, *stored.Title, *r.Title)
		}
	})
}

func TestStore_CloseDuringTransactions(t *testing.T) {
	s, _ := newEphemeralStore(t)

	const txs = 50
	var (
		wg   sync.WaitGroup
		ran  atomic.Int32
		errs = make(chan error, txs)
	)
	for i := 0; i < txs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RunWriteTransaction(func(wc *WriteContext) error {
				ran.Add(1)
				_, err := wc.Count()
				errs <- err
				return err
			})
		}()
	}
	require.NoError(t, s.Close())
	wg.Wait()

	for i := 0; i < txs; i++ {
		select {
		case err := <-errs:
			if err != nil {
				assert.ErrorIs(t, err, ErrClosed)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("transaction body never ran")
		}
	}
	assert.EqualValues(t, txs, ran.Load())
}

func TestStore_FilePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "todos.db")
	loop := newLoop(t)
	now := time.Now().UTC()

	s, err := OpenSQLite(context.Background(), path, false, loop, zap.NewNop())
	require.NoError(t, err)
	err = runTx(t, s, func(wc *WriteContext) error {
		if err := wc.Insert(record(9, "kept", now)); err != nil {
			return err
		}
		return wc.Save()
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(context.Background(), path, false, loop, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	loop.Do(func() {
		r, ok := reopened.ReadContext().Get(9)
		if !assert.True(t, ok) {
			return
		}
		assert.Equal(t, "kept", *r.Title)
	})
}

func TestOpen_FailureGoesToFatalHandler(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown driver", cfg: Config{Driver: "oracle"}},
		{name: "unusable sqlite path", cfg: Config{Driver: DriverSQLite, Path: filepath.Join(blocker, "todos.db")}},
		{name: "empty sqlite path", cfg: Config{Driver: DriverSQLite}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fatal error
			s, err := Open(context.Background(), tt.cfg, newLoop(t), zap.NewNop(),
				WithFatalHandler(func(err error) { fatal = err }))

			assert.Nil(t, s)
			require.Error(t, err)
			assert.Equal(t, err, fatal)
		})
	}
}

func TestOpen_EphemeralIgnoresDriver(t *testing.T) {
	s, err := Open(context.Background(), Config{Driver: DriverPostgres, Ephemeral: true}, newLoop(t), zap.NewNop(),
		WithFatalHandler(func(err error) { t.Fatalf("unexpected fatal: %v", err) }))
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
