// Package store provides on-device key-value storage for the session
// credential and cached user record.
//
// Both implementations guarantee that multi-key writes and deletes are
// atomic: a concurrent reader observes either the old or the new state,
// never a partial batch.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	chms "github.com/parishkit/chms-go"
	"github.com/parishkit/chms-go/apierr"
	"github.com/parishkit/chms-go/metrics"
)

// MemStore is an in-memory Store for tests and fakes.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMem creates an empty in-memory store.
func NewMem() *MemStore {
	return &MemStore{data: make(map[string]string)}
}

// Get returns the value for key, or "" if absent.
func (m *MemStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[key], nil
}

// SetMulti writes all entries under one lock.
func (m *MemStore) SetMulti(_ context.Context, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range entries {
		m.data[k] = v
	}
	return nil
}

// Delete removes the given keys under one lock.
func (m *MemStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// FileStore persists keys to a single JSON file with atomic replace-on-write.
// A corrupt or unreadable file is treated as an empty store: the session
// layer then falls back to the unauthenticated state rather than crashing.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	data map[string]string
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithLogger sets the logger used for corruption warnings.
func WithLogger(l *slog.Logger) FileOption {
	return func(f *FileStore) { f.logger = l }
}

// OpenFile opens or creates a file-backed store at path.
func OpenFile(path string, opts ...FileOption) (*FileStore, error) {
	f := &FileStore{path: path, logger: slog.Default(), data: make(map[string]string)}
	for _, o := range opts {
		o(f)
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrStorage, err)
	}
	if err := json.Unmarshal(raw, &f.data); err != nil {
		// Corrupt cache: start clean and overwrite on next write.
		f.logger.Warn("store: discarding corrupt cache file", "path", path, "err", err)
		f.data = make(map[string]string)
	}
	return f, nil
}

// DefaultPath returns the conventional location of the store file under the
// user config directory.
func DefaultPath() (string, error) {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "chms", "session.json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", apierr.ErrStorage, err)
	}
	return filepath.Join(home, ".config", "chms", "session.json"), nil
}

// Get returns the value for key, or "" if absent.
func (f *FileStore) Get(_ context.Context, key string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.data[key], nil
}

// SetMulti writes all entries and flushes them to disk as one batch.
func (f *FileStore) SetMulti(_ context.Context, entries map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range entries {
		f.data[k] = v
	}
	return f.flushLocked()
}

// Delete removes the given keys and flushes to disk as one batch.
func (f *FileStore) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return f.flushLocked()
}

// InstrumentedStore wraps a Store and records every operation as a metric.
type InstrumentedStore struct {
	next    chms.Store
	metrics *metrics.Metrics
}

// compile-time checks
var (
	_ chms.Store = (*MemStore)(nil)
	_ chms.Store = (*FileStore)(nil)
	_ chms.Store = (*InstrumentedStore)(nil)
)

// Instrument wraps st so its operations are counted.
func Instrument(st chms.Store, m *metrics.Metrics) *InstrumentedStore {
	return &InstrumentedStore{next: st, metrics: m}
}

func opResult(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Get returns the value for key, or "" if absent.
func (s *InstrumentedStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.next.Get(ctx, key)
	s.metrics.RecordStoreOp("get", opResult(err))
	return v, err
}

// SetMulti writes all entries as one batch.
func (s *InstrumentedStore) SetMulti(ctx context.Context, entries map[string]string) error {
	err := s.next.SetMulti(ctx, entries)
	s.metrics.RecordStoreOp("set_multi", opResult(err))
	return err
}

// Delete removes the given keys as one batch.
func (s *InstrumentedStore) Delete(ctx context.Context, keys ...string) error {
	err := s.next.Delete(ctx, keys...)
	s.metrics.RecordStoreOp("delete", opResult(err))
	return err
}

// flushLocked writes the current map to a temp file and renames it over the
// store file, so a crash mid-write never leaves a torn file behind.
func (f *FileStore) flushLocked() error {
	raw, err := json.Marshal(f.data)
	if err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrStorage, err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrStorage, err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrStorage, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrStorage, err)
	}
	return nil
}
