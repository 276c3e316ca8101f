// Package dedupe implements the idempotency store: a durable, TTL-bounded
// set of seen external event fingerprints keyed by a canonical hash of
// (source, external_id, payload).
package dedupe

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kira-host/kira/infrastructure/cache"
	"github.com/kira-host/kira/infrastructure/state"
	"golang.org/x/crypto/blake2b"
)

// hotCacheTTL bounds how long a positive duplicate hit can be served from
// memory before falling back to the durable backend; short enough that a
// purge of the backend is never stale for long, long enough to absorb a
// burst of retries for the same external event within one request window.
const hotCacheTTL = 2 * time.Minute

// DefaultTTL matches the 30-day default the spec assigns to seen-event
// retention; Maintenance purges entries older than this (or an overridden
// value) on a schedule.
const DefaultTTL = 30 * 24 * time.Hour

// SeenEvent records one observed external event.
type SeenEvent struct {
	EventID    string    `json:"event_id"`
	FirstSeen  time.Time `json:"first_seen_ts"`
	Source     string    `json:"source"`
	ExternalID string    `json:"external_id"`
}

// Store is the durable set of seen event fingerprints, fronted by an
// in-memory working set of recently-seen fingerprints so a burst of retries
// for the same external event doesn't hit the backend on every check.
type Store struct {
	backend state.PersistenceBackend
	hot     *cache.FingerprintCache
}

// New constructs a Store over the given persistence backend (typically a
// state.FileBackend rooted at <vault>/.kira/dedupe).
func New(backend state.PersistenceBackend) *Store {
	return &Store{backend: backend, hot: cache.NewFingerprintCache(hotCacheTTL)}
}

// GenerateEventID derives the deterministic fingerprint for an external
// event: a blake2b-256 hash of (source, external_id, canonicalized payload).
// Canonicalization sorts object keys recursively and normalizes whitespace
// in string values, so that retries carrying logically identical payloads
// always hash to the same fingerprint.
func GenerateEventID(source, externalID string, payload map[string]interface{}) (string, error) {
	canon, err := canonicalize(payload)
	if err != nil {
		return "", fmt.Errorf("dedupe: canonicalize payload: %w", err)
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("dedupe: init hash: %w", err)
	}
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(externalID))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalize produces a stable byte representation of a payload: map keys
// sorted recursively, string values whitespace-normalized, array order
// preserved (the spec leaves list-order canonicalization as an open
// question; preserving insertion order is the conservative choice since
// reordering could itself change meaning).
func canonicalize(v interface{}) ([]byte, error) {
	normalized := normalize(v)
	return json.Marshal(normalized)
}

func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]orderedEntry, 0, len(keys))
		for _, k := range keys {
			out = append(out, orderedEntry{Key: k, Value: normalize(val[k])})
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case string:
		return strings.Join(strings.Fields(val), " ")
	default:
		return val
	}
}

// orderedEntry renders as a two-element JSON array so that map ordering is
// captured in the marshaled bytes regardless of Go's randomized map
// iteration order.
type orderedEntry struct {
	Key   string
	Value interface{}
}

func (o orderedEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{o.Key, o.Value})
}

func key(eventID string) string { return "dedupe:" + eventID }

// IsDuplicate reports whether eventID has already been marked seen. A hit in
// the in-memory working set skips the backend entirely; a miss always falls
// through to the backend, since absence from the hot cache is not proof of
// absence from the durable store.
func (s *Store) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	if s.hot.IsKnownDuplicate(eventID) {
		return true, nil
	}
	_, err := s.backend.Load(ctx, key(eventID))
	if err == nil {
		s.hot.MarkSeen(eventID)
		return true, nil
	}
	if err == state.ErrNotFound {
		return false, nil
	}
	return false, err
}

// MarkSeen durably records eventID as seen. Marking an already-seen id again
// is a no-op that does not reset its TTL clock (first_seen_ts is preserved).
func (s *Store) MarkSeen(ctx context.Context, eventID, source, externalID string) error {
	if dup, err := s.IsDuplicate(ctx, eventID); err != nil {
		return err
	} else if dup {
		return nil
	}

	ev := SeenEvent{
		EventID:    eventID,
		FirstSeen:  time.Now().UTC(),
		Source:     source,
		ExternalID: externalID,
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("dedupe: marshal seen event: %w", err)
	}
	if err := s.backend.Save(ctx, key(eventID), raw); err != nil {
		return err
	}
	s.hot.MarkSeen(eventID)
	return nil
}

// Get returns the recorded SeenEvent, or nil if eventID is unseen.
func (s *Store) Get(ctx context.Context, eventID string) (*SeenEvent, error) {
	raw, err := s.backend.Load(ctx, key(eventID))
	if err == state.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ev SeenEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("dedupe: unmarshal seen event: %w", err)
	}
	return &ev, nil
}

// Purge deletes every seen-event record older than ttl, returning the count
// removed. Called by Maintenance's cleanup_dedupe.
func (s *Store) Purge(ctx context.Context, ttl time.Duration) (int, error) {
	keys, err := s.backend.List(ctx, "dedupe:")
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, k := range keys {
		raw, err := s.backend.Load(ctx, k)
		if err != nil {
			continue
		}
		var ev SeenEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		if ev.FirstSeen.Before(cutoff) {
			if err := s.backend.Delete(ctx, k); err == nil {
				removed++
				s.hot.Forget(ev.EventID)
			}
		}
	}
	return removed, nil
}
