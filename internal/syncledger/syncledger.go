// Package syncledger tracks, per (entity, remote source), the last observed
// remote version so that remote sync adapters can detect echoes of their
// own writes and resolve conflicting updates deterministically.
package syncledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kira-host/kira/infrastructure/state"
)

// Origin records whether the last write to an entity came from the vault
// (local) or from a remote adapter's sync pass (remote).
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Entry is one (entity_id, remote_source) ledger row.
type Entry struct {
	EntityID      string    `json:"entity_id"`
	RemoteSource  string    `json:"remote_source"`
	RemoteVersion string    `json:"remote_version"`
	RemoteETag    string    `json:"remote_etag"`
	LastWriteTS   time.Time `json:"last_write_ts"`
	Origin        Origin    `json:"origin"`
}

// Ledger is the durable per-entity-per-source sync state table.
type Ledger struct {
	backend state.PersistenceBackend
}

// New constructs a Ledger over the given backend, typically a
// state.FileBackend rooted at <vault>/.kira/sync_ledger.
func New(backend state.PersistenceBackend) *Ledger {
	return &Ledger{backend: backend}
}

func key(entityID, remoteSource string) string {
	return "sync:" + remoteSource + ":" + entityID
}

// Get returns the ledger entry for (entityID, remoteSource), or nil if none
// has been recorded yet.
func (l *Ledger) Get(ctx context.Context, entityID, remoteSource string) (*Entry, error) {
	raw, err := l.backend.Load(ctx, key(entityID, remoteSource))
	if err == state.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("syncledger: unmarshal entry: %w", err)
	}
	return &e, nil
}

// Record upserts the ledger entry for (entityID, remoteSource).
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("syncledger: marshal entry: %w", err)
	}
	return l.backend.Save(ctx, key(e.EntityID, e.RemoteSource), raw)
}

// ShouldImportRemoteUpdate implements the echo-break rule: a remote update
// is suppressed when its version equals the last recorded remote version
// AND the last write to the ledger was local (meaning the remote side is
// merely echoing back a change the vault itself originated).
func ShouldImportRemoteUpdate(entry *Entry, incomingVersion string, incomingTS time.Time) bool {
	if entry == nil {
		return true
	}
	if incomingVersion == entry.RemoteVersion && entry.Origin == OriginLocal {
		return false
	}
	return true
}

// Winner identifies which side's write should be kept after a conflict.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
)

// ResolveConflict is last-write-wins on timestamp; ties break to local.
func ResolveConflict(localTS, remoteTS time.Time) Winner {
	if remoteTS.After(localTS) {
		return WinnerRemote
	}
	return WinnerLocal
}

// Purge deletes ledger rows whose last write predates the cutoff, used by
// Maintenance's broader TTL cleanup pass when a remote source is retired.
func (l *Ledger) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	keys, err := l.backend.List(ctx, "sync:")
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, k := range keys {
		raw, err := l.backend.Load(ctx, k)
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if e.LastWriteTS.Before(cutoff) {
			if err := l.backend.Delete(ctx, k); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
