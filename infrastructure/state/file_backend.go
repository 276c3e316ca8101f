package state

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend persists keys as individual files under a root directory,
// using the same write-to-temp-then-rename sequence the vault store uses
// for entity files. It backs the dedupe store and the sync ledger; the
// clarification queue keeps its own single JSON file instead.
//
// No embedded key-value database ships in the dependency set this backend
// draws on, so a directory-of-files implementation is the minimal faithful
// substitute for PersistenceBackend's contract.
type FileBackend struct {
	mu   sync.RWMutex
	root string
}

// NewFileBackend constructs a FileBackend rooted at dir, creating it if
// necessary.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create backend dir: %w", err)
	}
	return &FileBackend{root: dir}, nil
}

// encodeKey maps an arbitrary key to a filesystem-safe filename. Keys may
// contain path separators and colons (e.g. "dedupe:telegram:12345"), so the
// key is base64-encoded rather than used as a literal path segment.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(name string) (string, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func (f *FileBackend) pathFor(key string) string {
	return filepath.Join(f.root, encodeKey(key))
}

func (f *FileBackend) Save(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.pathFor(key)
	tmp, err := os.CreateTemp(f.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("state: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("state: rename into place: %w", err)
	}
	return nil
}

func (f *FileBackend) Load(ctx context.Context, key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("state: read %s: %w", key, err)
	}
	return data, nil
}

func (f *FileBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("state: delete %s: %w", key, err)
	}
	return nil
}

func (f *FileBackend) List(ctx context.Context, prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("state: list dir: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}
		key, ok := decodeKey(entry.Name())
		if !ok {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *FileBackend) Close(ctx context.Context) error {
	return nil
}
