package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/todo-store/internal/model"
)

func TestClient_FetchTodos(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		want    []model.RemoteTodo
	}{
		{
			name:   "decodes todos in order",
			status: http.StatusOK,
			body: `{
				"todos": [
					{"id": 1, "todo": "Task 1", "completed": false, "userId": 10},
					{"id": 2, "todo": "Task 2", "completed": true, "userId": 11}
				],
				"total": 2
			}`,
			want: []model.RemoteTodo{
				{RemoteID: 1, Text: "Task 1", IsDone: false, OwnerID: 10},
				{RemoteID: 2, Text: "Task 2", IsDone: true, OwnerID: 11},
			},
		},
		{
			name:   "empty list",
			status: http.StatusOK,
			body:   `{"todos": []}`,
			want:   []model.RemoteTodo{},
		},
		{
			name:    "bad status",
			status:  http.StatusInternalServerError,
			body:    ``,
			wantErr: ErrBadStatus,
		},
		{
			name:    "missing todos key",
			status:  http.StatusOK,
			body:    `{}`,
			wantErr: ErrNoTodos,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			client := NewClient(srv.URL, time.Second, zap.NewNop())
			got, err := client.FetchTodos(context.Background())

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"todos": [{"id": "one"}]}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, zap.NewNop()).FetchTodos(context.Background())

	var typeErr *json.UnmarshalTypeError
	assert.True(t, errors.As(err, &typeErr), "decoding error is propagated, got %v", err)
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second, zap.NewNop()).FetchTodos(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBadStatus)
}

func TestNewClient_DefaultURL(t *testing.T) {
	c := NewClient("", time.Second, zap.NewNop())
	assert.Equal(t, DefaultURL, c.url)
}
