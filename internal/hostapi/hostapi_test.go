package hostapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kira-host/kira/internal/eventbus"
	"github.com/kira-host/kira/internal/vault"
)

func newTestHostAPI(t *testing.T) (*HostAPI, *vault.Store, *eventbus.Bus) {
	t.Helper()
	store, err := vault.New(vault.Config{Root: t.TempDir(), EnableFileLocks: true})
	require.NoError(t, err)
	bus := eventbus.New(eventbus.Config{})
	return New(store, bus, nil), store, bus
}

func TestCreateEntityAllocatesIDAndPublishes(t *testing.T) {
	h, _, bus := newTestHostAPI(t)
	var seen eventbus.Payload
	bus.Subscribe("task.created", func(_ context.Context, p eventbus.Payload) error {
		seen = p
		return nil
	})

	e, err := h.CreateEntity(context.Background(), "tr-1", vault.TypeTask, map[string]interface{}{
		"title": "Buy milk",
	}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "todo", string(e.Status()))
	assert.Equal(t, e.ID, seen["id"])
}

func TestCreateEntityMissingRequiredField(t *testing.T) {
	h, _, _ := newTestHostAPI(t)
	_, err := h.CreateEntity(context.Background(), "tr-1", vault.TypeTask, map[string]interface{}{}, "")
	require.Error(t, err)
}

func TestCreateEntityUnknownType(t *testing.T) {
	h, _, _ := newTestHostAPI(t)
	_, err := h.CreateEntity(context.Background(), "tr-1", vault.Type("bogus"), map[string]interface{}{"title": "x"}, "")
	require.Error(t, err)
}

func TestUpdateEntityValidTransitionPublishesEnterEvent(t *testing.T) {
	h, _, bus := newTestHostAPI(t)
	var firedDoing bool
	bus.Subscribe("task.enter_doing", func(_ context.Context, p eventbus.Payload) error {
		firedDoing = true
		return nil
	})

	e, err := h.CreateEntity(context.Background(), "tr-1", vault.TypeTask, map[string]interface{}{"title": "x"}, "")
	require.NoError(t, err)

	updated, err := h.UpdateEntity(context.Background(), "tr-2", e.ID, map[string]interface{}{"status": "doing"})
	require.NoError(t, err)
	assert.Equal(t, "doing", string(updated.Status()))
	assert.True(t, firedDoing)
}

func TestUpdateEntityInvalidTransitionRejected(t *testing.T) {
	h, _, _ := newTestHostAPI(t)
	e, err := h.CreateEntity(context.Background(), "tr-1", vault.TypeTask, map[string]interface{}{"title": "x"}, "")
	require.NoError(t, err)

	_, err = h.UpdateEntity(context.Background(), "tr-2", e.ID, map[string]interface{}{"status": "done"})
	require.Error(t, err)
}

func TestUpdateEntityCannotChangeImmutableFields(t *testing.T) {
	h, _, _ := newTestHostAPI(t)
	e, err := h.CreateEntity(context.Background(), "tr-1", vault.TypeTask, map[string]interface{}{"title": "x"}, "")
	require.NoError(t, err)

	updated, err := h.UpdateEntity(context.Background(), "tr-2", e.ID, map[string]interface{}{
		"id":   "forged-id",
		"type": "note",
	})
	require.NoError(t, err)
	assert.Equal(t, e.ID, updated.ID)
	assert.Equal(t, vault.TypeTask, updated.Type)
}

func TestUpdateEntityDeepMergesNestedObjectsAndReplacesArrays(t *testing.T) {
	h, _, _ := newTestHostAPI(t)
	e, err := h.CreateEntity(context.Background(), "tr-1", vault.TypeTask, map[string]interface{}{
		"title": "x",
		"tags":  []interface{}{"a", "b"},
		"source": map[string]interface{}{
			"kind": "email",
			"ref":  "msg-1",
		},
	}, "")
	require.NoError(t, err)

	updated, err := h.UpdateEntity(context.Background(), "tr-2", e.ID, map[string]interface{}{
		"tags": []interface{}{"c"},
		"source": map[string]interface{}{
			"ref": "msg-2",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []interface{}{"c"}, updated.Metadata["tags"])

	source, ok := updated.Metadata["source"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "email", source["kind"], "sibling key must survive a nested-object patch")
	assert.Equal(t, "msg-2", source["ref"])
}

func TestUpdateEntitySetsDoneTSOnDoneAndClearsOnReopen(t *testing.T) {
	h, _, _ := newTestHostAPI(t)
	e, err := h.CreateEntity(context.Background(), "tr-1", vault.TypeTask, map[string]interface{}{"title": "x"}, "")
	require.NoError(t, err)

	_, err = h.UpdateEntity(context.Background(), "tr-2", e.ID, map[string]interface{}{"status": "doing"})
	require.NoError(t, err)
	done, err := h.UpdateEntity(context.Background(), "tr-3", e.ID, map[string]interface{}{"status": "done"})
	require.NoError(t, err)
	require.NotNil(t, done.DoneTS)

	reopened, err := h.UpdateEntity(context.Background(), "tr-4", e.ID, map[string]interface{}{"status": "doing"})
	require.NoError(t, err)
	assert.Nil(t, reopened.DoneTS)
}

func TestDeleteEntityIsIdempotentAndPublishes(t *testing.T) {
	h, _, bus := newTestHostAPI(t)
	var deletions int
	bus.Subscribe("task.deleted", func(_ context.Context, p eventbus.Payload) error {
		deletions++
		return nil
	})

	e, err := h.CreateEntity(context.Background(), "tr-1", vault.TypeTask, map[string]interface{}{"title": "x"}, "")
	require.NoError(t, err)

	require.NoError(t, h.DeleteEntity(context.Background(), "tr-2", e.ID))
	require.NoError(t, h.DeleteEntity(context.Background(), "tr-3", e.ID))
	assert.Equal(t, 1, deletions)
}

func TestListEntitiesByType(t *testing.T) {
	h, _, _ := newTestHostAPI(t)
	_, err := h.CreateEntity(context.Background(), "tr-1", vault.TypeTask, map[string]interface{}{"title": "a"}, "")
	require.NoError(t, err)
	_, err = h.CreateEntity(context.Background(), "tr-1", vault.TypeNote, map[string]interface{}{"title": "b"}, "")
	require.NoError(t, err)

	tasks, err := h.ListEntities(vault.TypeTask)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}
