package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/BuzzLyutic/todo-store/internal/model"
)

// MockSeedSource stands in for the remote todo service.
type MockSeedSource struct {
	mock.Mock
}

func (m *MockSeedSource) FetchTodos(ctx context.Context) ([]model.RemoteTodo, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]model.RemoteTodo), args.Error(1)
	}
	return nil, args.Error(1)
}
