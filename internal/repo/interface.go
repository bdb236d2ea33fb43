package repo

import (
	"context"

	"github.com/BuzzLyutic/todo-store/internal/model"
)

// TaskRepository is the only entry point callers use for tasks. Every
// operation completes exactly once, on the main loop, with either a value or
// an error.
type TaskRepository interface {
	LoadInitialTodos(done func([]model.Task, error))
	FetchTodos(done func([]model.Task, error))
	TodoByID(id int64, done func(model.Task, error))
	FindTodo(id int64, done func(model.Task, error))
	CreateTodo(title string, details *string, done func(model.Task, error))
	UpdateTodo(t model.Task, done func(model.Task, error))
	ToggleCompletion(t model.Task, done func(model.Task, error))
	DeleteTodo(t model.Task, done func(error))
	SearchTodos(query string, done func([]model.Task, error))
}

// SeedSource returns the remote task list used to fill an empty store once.
type SeedSource interface {
	FetchTodos(ctx context.Context) ([]model.RemoteTodo, error)
}
