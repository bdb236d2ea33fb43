package repo

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/todo-store/internal/model"
	"github.com/BuzzLyutic/todo-store/internal/store"
	"github.com/BuzzLyutic/todo-store/internal/testutil"
	"github.com/BuzzLyutic/todo-store/internal/worker"
)

func TestTaskRepo_Postgres(t *testing.T) {
	connStr, pool := testutil.SetupPostgres(t)
	pool.Close()

	loop := worker.NewLoop(zap.NewNop())
	loop.Start()
	t.Cleanup(loop.Stop)

	st, err := store.OpenPostgres(context.Background(), connStr, loop, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := newFixtureWithStore(t, st, loop, Options{})
	f.seed.On("FetchTodos", mock.Anything).Return([]model.RemoteTodo{
		{RemoteID: 1, Text: "Buy milk", OwnerID: 1},
		{RemoteID: 2, Text: "Walk dog", IsDone: true, OwnerID: 2},
	}, nil).Once()

	t.Run("seed once", func(t *testing.T) {
		tasks, err := await(t, f.repo.LoadInitialTodos)
		require.NoError(t, err)
		assert.Equal(t, []string{"Buy milk", "Walk dog"}, titles(tasks))

		_, err = await(t, f.repo.LoadInitialTodos)
		require.NoError(t, err)
		f.seed.AssertNumberOfCalls(t, "FetchTodos", 1)
	})

	t.Run("concurrent creates", func(t *testing.T) {
		const goroutines = 10

		var wg sync.WaitGroup
		results := make([]model.Task, goroutines)
		errs := make([]error, goroutines)
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				done := make(chan struct{})
				f.repo.CreateTodo(fmt.Sprintf("Concurrent Task %d", idx), nil, func(task model.Task, err error) {
					results[idx], errs[idx] = task, err
					close(done)
				})
				<-done
			}(i)
		}
		wg.Wait()

		ids := make(map[int64]bool)
		for i := range results {
			require.NoError(t, errs[i])
			assert.False(t, ids[results[i].ID], "duplicate id %d", results[i].ID)
			ids[results[i].ID] = true
		}
		assert.Len(t, f.fetch(t), goroutines+2)
	})

	t.Run("search and delete", func(t *testing.T) {
		found, err := await(t, func(done func([]model.Task, error)) { f.repo.SearchTodos("walk", done) })
		require.NoError(t, err)
		require.Len(t, found, 1)

		require.NoError(t, awaitErr(t, func(done func(error)) { f.repo.DeleteTodo(found[0], done) }))
		err = awaitErr(t, func(done func(error)) { f.repo.DeleteTodo(found[0], done) })
		assert.ErrorIs(t, err, ErrorNotFound)
	})
}
