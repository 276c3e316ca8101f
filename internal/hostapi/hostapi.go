// Package hostapi is the sole gateway through which any component mutates
// the vault. It allocates ids, validates required fields and the task FSM,
// stamps timestamps, and publishes the resulting domain events.
package hostapi

import (
	"context"
	"fmt"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
	"github.com/kira-host/kira/infrastructure/utils"
	"github.com/kira-host/kira/internal/clock"
	"github.com/kira-host/kira/internal/eventbus"
	"github.com/kira-host/kira/internal/vault"
)

// requiredFields lists the metadata keys create_entity demands per type.
var requiredFields = map[vault.Type][]string{
	vault.TypeTask:      {"title"},
	vault.TypeNote:      {"title"},
	vault.TypeEvent:     {"title"},
	vault.TypeRollup:    {"period"},
	vault.TypeInboxItem: {"source"},
}

// HostAPI is the typed entity CRUD surface backed by a vault.Store and
// wired to the event bus.
type HostAPI struct {
	store *vault.Store
	bus   *eventbus.Bus
	clock *clock.Clock
}

// New constructs a HostAPI over the given store and bus.
func New(store *vault.Store, bus *eventbus.Bus, c *clock.Clock) *HostAPI {
	if c == nil {
		c = clock.Default()
	}
	return &HostAPI{store: store, bus: bus, clock: c}
}

// CreateEntity allocates an id if absent, stamps created_ts/updated_ts,
// validates type-specific required fields, persists the entity and
// publishes "<type>.created".
func (h *HostAPI) CreateEntity(ctx context.Context, traceID string, typ vault.Type, data map[string]interface{}, content string) (*vault.Entity, error) {
	if !typ.Valid() {
		return nil, kerrors.InvalidInput("type", fmt.Sprintf("unknown entity type %q", typ))
	}
	for _, field := range requiredFields[typ] {
		if _, ok := data[field]; !ok {
			return nil, kerrors.MissingParameter(field)
		}
	}

	now := h.clock.Now()
	id, _ := data["id"].(string)
	if id == "" {
		title, _ := data["title"].(string)
		id = h.clock.NewEntityID(string(typ), title)
		for attempt := 1; h.store.Exists(id); attempt++ {
			id = clock.Disambiguate(id, attempt)
		}
	}

	metadata := make(map[string]interface{}, len(data))
	for k, v := range data {
		if k == "id" {
			continue
		}
		metadata[k] = v
	}
	metadata["trace_id"] = traceID

	e := &vault.Entity{
		ID:        id,
		Type:      typ,
		Metadata:  metadata,
		Content:   content,
		CreatedTS: now,
		UpdatedTS: now,
	}

	if typ == vault.TypeTask {
		status := e.Status()
		if status == "" {
			status = vault.StatusTodo
			e.Metadata["status"] = string(status)
		}
	}

	if err := h.store.Put(e); err != nil {
		return nil, kerrors.Internal("vault write failed", err)
	}

	h.publish(ctx, string(typ)+".created", e, traceID)
	if typ == vault.TypeTask {
		h.publish(ctx, "task.enter_"+string(e.Status()), e, traceID)
	}
	return e, nil
}

// ReadEntity returns the entity, or (nil, nil) on miss.
func (h *HostAPI) ReadEntity(id string) (*vault.Entity, error) {
	return h.store.Get(id)
}

// UpdateEntity applies a partial merge over metadata (deep on objects,
// replace on arrays), forbidding changes to id/type/created_ts. A status
// change on a task is validated against the FSM before anything is
// written. done_ts is set/cleared to match the new status.
func (h *HostAPI) UpdateEntity(ctx context.Context, traceID, id string, patch map[string]interface{}) (*vault.Entity, error) {
	existing, err := h.store.GetOrNotFound(id)
	if err != nil {
		return nil, err
	}

	updated := existing.Clone()

	if newStatus, ok := patch["status"].(string); ok && existing.Type == vault.TypeTask {
		from := existing.Status()
		to := vault.TaskStatus(newStatus)
		if err := vault.ValidateTransition(from, to); err != nil {
			return nil, err
		}
	}

	for k, v := range patch {
		switch k {
		case "id", "type", "created_ts":
			continue // immutable
		default:
			if v == nil {
				delete(updated.Metadata, k)
				continue
			}
			if newObj, ok := v.(map[string]interface{}); ok {
				if existingObj, ok := updated.Metadata[k].(map[string]interface{}); ok {
					updated.Metadata[k] = deepMergeMaps(existingObj, newObj)
					continue
				}
			}
			updated.Metadata[k] = v // arrays and scalars are replaced wholesale
		}
	}

	now := h.clock.Now()
	updated.UpdatedTS = now
	updated.Metadata["trace_id"] = traceID

	if updated.Type == vault.TypeTask {
		status := updated.Status()
		if status == vault.StatusDone {
			if updated.DoneTS == nil {
				updated.DoneTS = utils.Ptr(now)
			}
		} else {
			updated.DoneTS = nil
		}
	}

	if err := h.store.Put(updated); err != nil {
		return nil, kerrors.Internal("vault write failed", err)
	}

	h.publish(ctx, string(updated.Type)+".updated", updated, traceID)
	h.publish(ctx, "entity.updated", updated, traceID)
	if updated.Type == vault.TypeTask && updated.Status() != existing.Status() {
		h.publish(ctx, "task.enter_"+string(updated.Status()), updated, traceID)
	}
	return updated, nil
}

// deepMergeMaps recursively merges patch onto a copy of base: a nested
// object key merges key-by-key with its existing counterpart, a nil value
// deletes the key, and anything else (array, scalar, or a type mismatch
// with the existing value) replaces the key wholesale.
func deepMergeMaps(base, patch map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		if newObj, ok := v.(map[string]interface{}); ok {
			if existingObj, ok := merged[k].(map[string]interface{}); ok {
				merged[k] = deepMergeMaps(existingObj, newObj)
				continue
			}
		}
		merged[k] = v
	}
	return merged
}

// DeleteEntity removes an entity and publishes "<type>.deleted". It is
// idempotent: deleting a missing id succeeds silently.
func (h *HostAPI) DeleteEntity(ctx context.Context, traceID, id string) error {
	existing, err := h.store.Get(id)
	if err != nil {
		return err
	}
	if err := h.store.Delete(id); err != nil {
		return kerrors.Internal("vault delete failed", err)
	}
	if existing != nil {
		h.publish(ctx, string(existing.Type)+".deleted", existing, traceID)
		h.publish(ctx, "entity.deleted", existing, traceID)
	}
	return nil
}

// ListEntities enumerates entities of a given type (or every type when typ
// is empty).
func (h *HostAPI) ListEntities(typ vault.Type) ([]*vault.Entity, error) {
	return h.store.List(typ)
}

func (h *HostAPI) publish(ctx context.Context, name string, e *vault.Entity, traceID string) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(ctx, name, eventbus.Payload{
		"id":       e.ID,
		"type":     string(e.Type),
		"metadata": e.Metadata,
		"trace_id": traceID,
		"entity":   e,
	})
}
