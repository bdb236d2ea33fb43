// Package remote fetches the one-time seed list from the remote todo service.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/todo-store/internal/model"
)

const DefaultURL = "https://dummyjson.com/todos"

var (
	ErrBadStatus = errors.New("bad server response")
	ErrNoTodos   = errors.New(`response has no "todos" list`)
)

type Client struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

func NewClient(url string, timeout time.Duration, logger *zap.Logger) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// FetchTodos returns the remote list in server order.
func (c *Client) FetchTodos(ctx context.Context) ([]model.RemoteTodo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch todos: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrBadStatus, resp.StatusCode)
	}

	var body struct {
		Todos *[]model.RemoteTodo `json:"todos"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode todos: %w", err)
	}
	if body.Todos == nil {
		return nil, fmt.Errorf("decode todos: %w", ErrNoTodos)
	}

	c.logger.Debug("fetched remote todos", zap.String("url", c.url), zap.Int("count", len(*body.Todos)))
	return *body.Todos, nil
}
