// Package settings is a small persisted key-value store for application
// preferences, kept apart from the record store.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

type Store interface {
	// Bool returns false for missing keys and non-boolean values.
	Bool(key string) bool
	SetBool(key string, value bool) error
}

// FileStore keeps settings in a YAML document. Every write rewrites the
// whole file through a temp file and rename.
type FileStore struct {
	path string

	mu     sync.RWMutex
	values map[string]any
}

// OpenFile loads the settings at path. A missing file is an empty store.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, values: make(map[string]any)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	if s.values == nil {
		s.values = make(map[string]any)
	}
	return s, nil
}

func (s *FileStore) Bool(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, _ := s.values[key].(bool)
	return v
}

func (s *FileStore) SetBool(key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.values[key]
	s.values[key] = value
	if err := s.flush(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) flush() error {
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// MemoryStore is a Store that forgets everything when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]bool)}
}

func (s *MemoryStore) Bool(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

func (s *MemoryStore) SetBool(key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Flag is a single boolean setting.
type Flag struct {
	store Store
	key   string
}

func NewFlag(store Store, key string) Flag {
	return Flag{store: store, key: key}
}

func (f Flag) Key() string {
	return f.key
}

func (f Flag) IsSet() bool {
	return f.store.Bool(f.key)
}

func (f Flag) Set() error {
	return f.store.SetBool(f.key, true)
}
