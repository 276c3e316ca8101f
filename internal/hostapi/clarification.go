package hostapi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
	"github.com/kira-host/kira/internal/clock"
)

// ClarificationStatus is the lifecycle state of one queued clarification.
type ClarificationStatus string

const (
	ClarificationPending  ClarificationStatus = "pending"
	ClarificationResolved ClarificationStatus = "resolved"
	ClarificationRejected ClarificationStatus = "rejected"
)

// ClarificationItem is a question the agent graph raised that needs a human
// answer before a pipeline can proceed — e.g. an ambiguous inbox item that
// could map to more than one existing task.
type ClarificationItem struct {
	ID         string              `json:"id"`
	TraceID    string              `json:"trace_id"`
	Question   string              `json:"question"`
	Context    map[string]string   `json:"context,omitempty"`
	Status     ClarificationStatus `json:"status"`
	Resolution string              `json:"resolution,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	CreatedTS  time.Time           `json:"created_ts"`
	UpdatedTS  time.Time           `json:"updated_ts"`
}

// ClarificationQueue is a durable, append-replay JSON-file-backed FIFO of
// clarification requests. The whole set is small (human-scale, not
// event-scale) so it is kept as one file rewritten atomically on every
// mutation rather than an append-only log requiring compaction.
type ClarificationQueue struct {
	mu    sync.Mutex
	path  string
	clock *clock.Clock
	items []*ClarificationItem
	index map[string]int
}

// NewClarificationQueue loads (or initializes) the queue file at
// <vault>/.kira/clarifications.json.
func NewClarificationQueue(vaultRoot string, c *clock.Clock) (*ClarificationQueue, error) {
	if c == nil {
		c = clock.Default()
	}
	dir := filepath.Join(vaultRoot, ".kira")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, kerrors.Internal("create .kira directory", err)
	}
	q := &ClarificationQueue{
		path:  filepath.Join(dir, "clarifications.json"),
		clock: c,
		index: make(map[string]int),
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *ClarificationQueue) load() error {
	raw, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return kerrors.Internal("read clarification queue", err)
	}
	if len(raw) == 0 {
		return nil
	}
	var items []*ClarificationItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return kerrors.Internal("decode clarification queue", err)
	}
	q.items = items
	q.reindex()
	return nil
}

func (q *ClarificationQueue) reindex() {
	q.index = make(map[string]int, len(q.items))
	for i, item := range q.items {
		q.index[item.ID] = i
	}
}

// persist rewrites the whole file via write-to-temp-then-rename, matching
// the vault store's atomic write pattern.
func (q *ClarificationQueue) persist() error {
	raw, err := json.MarshalIndent(q.items, "", "  ")
	if err != nil {
		return kerrors.Internal("encode clarification queue", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(q.path), ".clarifications-*.tmp")
	if err != nil {
		return kerrors.Internal("create temp clarification file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return kerrors.Internal("write temp clarification file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return kerrors.Internal("close temp clarification file", err)
	}
	if err := os.Rename(tmpPath, q.path); err != nil {
		os.Remove(tmpPath)
		return kerrors.Internal("rename temp clarification file", err)
	}
	return nil
}

// Enqueue appends a new pending clarification and returns it.
func (q *ClarificationQueue) Enqueue(_ context.Context, traceID, question string, ctxFields map[string]string) (*ClarificationItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	item := &ClarificationItem{
		ID:        fmt.Sprintf("clarify-%s", q.clock.FormatForID(now)),
		TraceID:   traceID,
		Question:  question,
		Context:   ctxFields,
		Status:    ClarificationPending,
		CreatedTS: now,
		UpdatedTS: now,
	}
	for attempt := 1; q.indexLocked(item.ID) >= 0; attempt++ {
		item.ID = clock.Disambiguate(item.ID, attempt)
	}

	q.items = append(q.items, item)
	q.index[item.ID] = len(q.items) - 1
	if err := q.persist(); err != nil {
		q.items = q.items[:len(q.items)-1]
		delete(q.index, item.ID)
		return nil, err
	}
	return item, nil
}

func (q *ClarificationQueue) indexLocked(id string) int {
	if i, ok := q.index[id]; ok {
		return i
	}
	return -1
}

// Resolve marks a pending clarification resolved with the given answer.
func (q *ClarificationQueue) Resolve(id, resolution string) (*ClarificationItem, error) {
	return q.transition(id, ClarificationResolved, resolution, "")
}

// Reject marks a pending clarification rejected with a reason.
func (q *ClarificationQueue) Reject(id, reason string) (*ClarificationItem, error) {
	return q.transition(id, ClarificationRejected, "", reason)
}

func (q *ClarificationQueue) transition(id string, status ClarificationStatus, resolution, reason string) (*ClarificationItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return nil, kerrors.NotFound("clarification", id)
	}
	item := q.items[i]
	if item.Status != ClarificationPending {
		return nil, kerrors.Conflict(fmt.Sprintf("clarification %q is already %s", id, item.Status))
	}

	item.Status = status
	item.Resolution = resolution
	item.Reason = reason
	item.UpdatedTS = q.clock.Now()

	if err := q.persist(); err != nil {
		return nil, err
	}
	return item, nil
}

// List returns a copy of every clarification in creation order, optionally
// filtered to one status (pass "" for all).
func (q *ClarificationQueue) List(status ClarificationStatus) []*ClarificationItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*ClarificationItem, 0, len(q.items))
	for _, item := range q.items {
		if status != "" && item.Status != status {
			continue
		}
		cp := *item
		out = append(out, &cp)
	}
	return out
}
