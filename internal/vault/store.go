package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
	"github.com/kira-host/kira/infrastructure/logging"
	"github.com/kira-host/kira/internal/clock"
)

// ErrNotFound mirrors the host API's EntityNotFound failure mode. Get does
// not return it (a miss there is a nil, nil result) and Delete on a missing
// id is a no-op; GetOrNotFound returns a NotFound error on a miss.
var ErrNotFound = kerrors.NotFound

// Store is the sole owner of on-disk entity files. All writes go through a
// write-to-temp-then-rename sequence; readers never observe a partially
// written file. Concurrent writers of the same id are serialized by an
// advisory in-process lock; readers are lock-free.
type Store struct {
	root         string
	clock        *clock.Clock
	enableLocks  bool
	log          *logging.Logger
	locksMu      sync.Mutex
	locks        map[string]*sync.Mutex
}

// Config configures a Store.
type Config struct {
	Root            string
	Clock           *clock.Clock
	EnableFileLocks bool
	Logger          *logging.Logger
}

// New constructs a Store rooted at cfg.Root, creating the per-type
// directories if absent.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("vault: root path is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewFromEnv("vault")
	}

	s := &Store{
		root:        cfg.Root,
		clock:       cfg.Clock,
		enableLocks: cfg.EnableFileLocks,
		log:         cfg.Logger,
		locks:       make(map[string]*sync.Mutex),
	}

	for _, t := range ValidTypes {
		if err := os.MkdirAll(filepath.Join(cfg.Root, t.dirName()), 0o755); err != nil {
			return nil, fmt.Errorf("vault: create %s dir: %w", t.dirName(), err)
		}
	}
	return s, nil
}

// Root returns the vault's filesystem root.
func (s *Store) Root() string { return s.root }

func (s *Store) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

func (s *Store) pathFor(entityType Type, id string) string {
	return filepath.Join(s.root, entityType.dirName(), id+".md")
}

// findPath locates an id's file by scanning every type directory, since the
// caller of Get/Delete does not always know the type up front.
func (s *Store) findPath(id string) (string, Type, bool) {
	for _, t := range ValidTypes {
		p := s.pathFor(t, id)
		if _, err := os.Stat(p); err == nil {
			return p, t, true
		}
	}
	return "", "", false
}

// Get reads an entity by id. It returns (nil, nil) on miss, matching
// read_entity's null-not-error contract; callers that need the
// not-found-is-an-error variant should use GetOrNotFound.
func (s *Store) Get(id string) (*Entity, error) {
	path, _, ok := s.findPath(id)
	if !ok {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vault: read %s: %w", id, err)
	}
	return decodeEntity(raw)
}

// GetOrNotFound is Get, but returns a NotFound ServiceError on miss.
func (s *Store) GetOrNotFound(id string) (*Entity, error) {
	e, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, kerrors.NotFound("entity", id)
	}
	return e, nil
}

// AtomicWrite writes content to path via a write-to-temp + rename sequence,
// guaranteed atomic on a single filesystem. Callers never observe a
// partially written file.
func (s *Store) AtomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vault: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("vault: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("vault: rename into place: %w", err)
	}
	return nil
}

// Put persists an entity as given, serializing concurrent writers of the
// same id behind the advisory lock (when enabled). It does not touch
// UpdatedTS; the caller stamps it (the host API does on every create and
// update).
func (s *Store) Put(e *Entity) error {
	if !e.Type.Valid() {
		return kerrors.InvalidInput("type", fmt.Sprintf("unknown entity type %q", e.Type))
	}

	if s.enableLocks {
		lock := s.lockFor(e.ID)
		lock.Lock()
		defer lock.Unlock()
	}

	raw, err := encodeEntity(e)
	if err != nil {
		return err
	}
	path := s.pathFor(e.Type, e.ID)
	start := time.Now()
	err = s.AtomicWrite(path, raw)
	s.log.LogVaultWrite(traceIDOf(e), e.ID, time.Since(start), err)
	return err
}

func traceIDOf(e *Entity) string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata["trace_id"].(string); ok {
		return v
	}
	return ""
}

// Delete removes an entity's file. It is idempotent: deleting a missing id
// is not an error.
func (s *Store) Delete(id string) error {
	path, _, ok := s.findPath(id)
	if !ok {
		return nil
	}
	if s.enableLocks {
		lock := s.lockFor(id)
		lock.Lock()
		defer lock.Unlock()
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("vault: delete %s: %w", id, err)
	}
	return nil
}

// List reads and returns every entity of a given type (or of every type
// when typ is empty). Ordering is not guaranteed to match creation order; callers that
// need a stable order for tests sort the result themselves.
func (s *Store) List(typ Type) ([]*Entity, error) {
	var types []Type
	if typ == "" {
		types = ValidTypes
	} else {
		if !typ.Valid() {
			return nil, kerrors.InvalidInput("type", fmt.Sprintf("unknown entity type %q", typ))
		}
		types = []Type{typ}
	}

	var out []*Entity
	for _, t := range types {
		dir := filepath.Join(s.root, t.dirName())
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("vault: list %s: %w", t.dirName(), err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				continue
			}
			e, err := decodeEntity(raw)
			if err != nil {
				continue
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// ListSortedByCreated is a convenience used by rollups and tests that want a
// deterministic order; the spec leaves List's order unspecified, so this
// lives alongside rather than replacing it.
func (s *Store) ListSortedByCreated(typ Type) ([]*Entity, error) {
	out, err := s.List(typ)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedTS.Before(out[j].CreatedTS)
	})
	return out, nil
}

// Exists reports whether an id is already present, used by the host API to
// decide between allocating a fresh id and colliding with an existing one.
func (s *Store) Exists(id string) bool {
	_, _, ok := s.findPath(id)
	return ok
}
