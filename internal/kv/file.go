package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const fileLockRetryInterval = 25 * time.Millisecond

// FileStore keeps every entry in a single JSON document on disk. Each operation
// takes an advisory file lock so several processes can share the file.
type FileStore struct {
	mu     sync.Mutex
	path   string
	lock   *flock.Flock
	closed bool
}

// NewFileStore opens (or prepares to create) the JSON file at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("kv: file path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := s.withLock(ctx, func(entries map[string][]byte) (bool, error) {
		value, found = entries[key]
		return false, nil
	})
	return value, found, err
}

func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	return s.withLock(ctx, func(entries map[string][]byte) (bool, error) {
		entries[key] = append([]byte(nil), value...)
		return true, nil
	})
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.withLock(ctx, func(entries map[string][]byte) (bool, error) {
		if _, ok := entries[key]; !ok {
			return false, nil
		}
		delete(entries, key)
		return true, nil
	})
}

func (s *FileStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.withLock(ctx, func(entries map[string][]byte) (bool, error) {
		keys = make([]string, 0, len(entries))
		for key := range entries {
			keys = append(keys, key)
		}
		return false, nil
	})
	sort.Strings(keys)
	return keys, err
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.lock.Close()
}

// withLock loads the document, hands it to fn, and rewrites it when fn reports a change.
func (s *FileStore) withLock(ctx context.Context, fn func(map[string][]byte) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	locked, err := s.lock.TryLockContext(ctx, fileLockRetryInterval)
	if err != nil {
		return fmt.Errorf("kv: lock %s: %w", s.path, err)
	}
	if !locked {
		return fmt.Errorf("kv: lock %s: not acquired", s.path)
	}
	defer func() { _ = s.lock.Unlock() }()

	entries, err := s.load()
	if err != nil {
		return err
	}
	changed, err := fn(entries)
	if err != nil || !changed {
		return err
	}
	return s.save(entries)
}

// The document is a JSON object; encoding/json renders []byte values as base64.
func (s *FileStore) load() (map[string][]byte, error) {
	entries := make(map[string][]byte)
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(raw) == 0) {
		return entries, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("kv: decode %s: %w", s.path, err)
	}
	return entries, nil
}

func (s *FileStore) save(entries map[string][]byte) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

var _ Store = (*FileStore)(nil)
