package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Storage is client-side persistent key/value storage. Values are JSON encoded.
type Storage interface {
	Get(key string, v interface{}) (bool, error)
	Set(key string, v interface{}) error
	Delete(key string) error
}

// MemoryStorage keeps values for the life of the process
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// NewMemoryStorage creates an empty MemoryStorage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]json.RawMessage)}
}

func (m *MemoryStorage) Get(key string, v interface{}) (bool, error) {
	m.mu.RLock()
	raw, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

func (m *MemoryStorage) Set(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	m.mu.Lock()
	m.values[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Delete(key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// fileDocument is the on-disk layout of a FileStorage
type fileDocument struct {
	InstanceID string                     `json:"instance_id"`
	Values     map[string]json.RawMessage `json:"values"`
}

// FileStorage persists values in a single JSON file. Every write rewrites the file.
type FileStorage struct {
	mu   sync.Mutex
	path string
	doc  fileDocument
}

// OpenFileStorage loads path, creating an empty store when the file does not exist
func OpenFileStorage(path string) (*FileStorage, error) {
	fs := &FileStorage{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	default:
		if err := json.Unmarshal(data, &fs.doc); err != nil {
			return nil, fmt.Errorf("failed to parse storage file %s: %w", path, err)
		}
	}

	if fs.doc.InstanceID == "" {
		fs.doc.InstanceID = uuid.New().String()
	}
	if fs.doc.Values == nil {
		fs.doc.Values = make(map[string]json.RawMessage)
	}
	return fs, nil
}

// InstanceID identifies this client installation across runs
func (fs *FileStorage) InstanceID() string {
	return fs.doc.InstanceID
}

// Path returns the backing file
func (fs *FileStorage) Path() string {
	return fs.path
}

func (fs *FileStorage) Get(key string, v interface{}) (bool, error) {
	fs.mu.Lock()
	raw, ok := fs.doc.Values[key]
	fs.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

func (fs *FileStorage) Set(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.doc.Values[key] = raw
	return fs.flush()
}

func (fs *FileStorage) Delete(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.doc.Values[key]; !ok {
		return nil
	}
	delete(fs.doc.Values, key)
	return fs.flush()
}

// flush writes through a temp file so a crash never leaves a truncated store
func (fs *FileStorage) flush() error {
	data, err := json.MarshalIndent(fs.doc, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(fs.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create storage dir: %w", err)
		}
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	return os.Rename(tmp, fs.path)
}
