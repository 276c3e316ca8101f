package pluginhost

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
)

// KVStore is a per-plugin key/value namespace backed by a single JSON file,
// re-read on startup and rewritten atomically on every Set. A quota in
// bytes (0 = unlimited) bounds the total encoded size so one plugin cannot
// exhaust disk on another's behalf.
type KVStore struct {
	mu         sync.Mutex
	path       string
	quotaBytes int64
	data       map[string]json.RawMessage
}

// NewKVStore opens (or creates) the JSON-backed store at path. A missing
// file is not an error; it starts empty.
func NewKVStore(path string, quotaBytes int64) (*KVStore, error) {
	s := &KVStore{path: path, quotaBytes: quotaBytes, data: make(map[string]json.RawMessage)}
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, kerrors.Internal("read plugin kv store", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, kerrors.InvalidFormat("plugin kv store file", "valid JSON object")
	}
	return s, nil
}

// Set stores value under key, rejecting the write if it would exceed the
// configured quota.
func (s *KVStore) Set(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := json.Marshal(value)
	if err != nil {
		return kerrors.Internal("encode plugin kv value", err)
	}

	if s.quotaBytes > 0 {
		size := int64(0)
		for k, v := range s.data {
			if k == key {
				continue
			}
			size += int64(len(k)) + int64(len(v))
		}
		size += int64(len(key)) + int64(len(encoded))
		if size > s.quotaBytes {
			return kerrors.BudgetExceeded("plugin_kv_bytes", int(s.quotaBytes))
		}
	}

	s.data[key] = encoded
	return s.persist()
}

// Get decodes the value stored under key into out, returning false if key
// is unset.
func (s *KVStore) Get(key string, out interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, kerrors.Internal("decode plugin kv value", err)
	}
	return true, nil
}

// Delete removes key, if present.
func (s *KVStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return s.persist()
}

func (s *KVStore) persist() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.Marshal(s.data)
	if err != nil {
		return kerrors.Internal("encode plugin kv store", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return kerrors.Internal("create plugin kv directory", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return kerrors.Internal("write plugin kv store", err)
	}
	return os.Rename(tmp, s.path)
}
