package service

import (
	"context"
	"errors"
	"strings"

	"github.com/BuzzLyutic/todo-store/internal/model"
	"github.com/BuzzLyutic/todo-store/internal/repo"
)

var (
	ErrValidation = errors.New("validation error")
)

// TaskService gives callers outside the main loop a blocking view of the
// repository. Never call it from a function running on the loop.
type TaskService struct {
	repo repo.TaskRepository
}

func NewTaskService(repo repo.TaskRepository) *TaskService {
	return &TaskService{repo: repo}
}

func (s *TaskService) LoadInitial(ctx context.Context) ([]model.Task, error) {
	return await(ctx, s.repo.LoadInitialTodos)
}

func (s *TaskService) List(ctx context.Context) ([]model.Task, error) {
	return await(ctx, s.repo.FetchTodos)
}

func (s *TaskService) Search(ctx context.Context, query string) ([]model.Task, error) {
	return await(ctx, func(done func([]model.Task, error)) {
		s.repo.SearchTodos(query, done)
	})
}

// Get reads through the database rather than the loop's read view, which
// only follows commits made by this process.
func (s *TaskService) Get(ctx context.Context, id int64) (model.Task, error) {
	return await(ctx, func(done func(model.Task, error)) {
		s.repo.FindTodo(id, done)
	})
}

func (s *TaskService) Create(ctx context.Context, title string, details *string) (model.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Task{}, ErrValidation
	}
	details = normalizeDetails(details)

	return await(ctx, func(done func(model.Task, error)) {
		s.repo.CreateTodo(title, details, done)
	})
}

func (s *TaskService) Update(ctx context.Context, id int64, patch model.TaskPatch) (model.Task, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return t, err
	}

	if patch.Title != nil {
		t.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Details != nil {
		t.Details = normalizeDetails(patch.Details)
	}
	if patch.IsCompleted != nil {
		t.IsCompleted = *patch.IsCompleted
	}
	if err := s.validate(t); err != nil {
		return t, err
	}

	return await(ctx, func(done func(model.Task, error)) {
		s.repo.UpdateTodo(t, done)
	})
}

func (s *TaskService) Toggle(ctx context.Context, id int64) (model.Task, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return t, err
	}
	return await(ctx, func(done func(model.Task, error)) {
		s.repo.ToggleCompletion(t, done)
	})
}

func (s *TaskService) Delete(ctx context.Context, id int64) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = await(ctx, func(done func(struct{}, error)) {
		s.repo.DeleteTodo(t, func(err error) { done(struct{}{}, err) })
	})
	return err
}

func (s *TaskService) validate(t model.Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrValidation
	}
	return nil
}

func normalizeDetails(details *string) *string {
	if details == nil {
		return nil
	}
	d := strings.TrimSpace(*details)
	if d == "" {
		return nil
	}
	return &d
}

// await starts a repository operation and waits for its completion or for
// ctx to end. The operation itself keeps running if ctx ends first.
func await[T any](ctx context.Context, start func(done func(T, error))) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	start(func(v T, err error) { ch <- result{v, err} })

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
