package hostapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClarificationEnqueueResolve(t *testing.T) {
	q, err := NewClarificationQueue(t.TempDir(), nil)
	require.NoError(t, err)

	item, err := q.Enqueue(context.Background(), "tr-1", "Which task does this inbox item belong to?", map[string]string{"inbox_id": "inbox-1"})
	require.NoError(t, err)
	assert.Equal(t, ClarificationPending, item.Status)

	resolved, err := q.Resolve(item.ID, "task-20250101-0900-buy-milk")
	require.NoError(t, err)
	assert.Equal(t, ClarificationResolved, resolved.Status)
	assert.Equal(t, "task-20250101-0900-buy-milk", resolved.Resolution)
}

func TestClarificationRejectRecordsReason(t *testing.T) {
	q, err := NewClarificationQueue(t.TempDir(), nil)
	require.NoError(t, err)

	item, err := q.Enqueue(context.Background(), "tr-1", "q?", nil)
	require.NoError(t, err)

	rejected, err := q.Reject(item.ID, "no longer relevant")
	require.NoError(t, err)
	assert.Equal(t, ClarificationRejected, rejected.Status)
	assert.Equal(t, "no longer relevant", rejected.Reason)
}

func TestClarificationCannotTransitionTwice(t *testing.T) {
	q, err := NewClarificationQueue(t.TempDir(), nil)
	require.NoError(t, err)

	item, err := q.Enqueue(context.Background(), "tr-1", "q?", nil)
	require.NoError(t, err)

	_, err = q.Resolve(item.ID, "ok")
	require.NoError(t, err)

	_, err = q.Resolve(item.ID, "again")
	require.Error(t, err)
}

func TestClarificationListFiltersByStatus(t *testing.T) {
	q, err := NewClarificationQueue(t.TempDir(), nil)
	require.NoError(t, err)

	a, err := q.Enqueue(context.Background(), "tr-1", "a?", nil)
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), "tr-1", "b?", nil)
	require.NoError(t, err)
	_, err = q.Resolve(a.ID, "done")
	require.NoError(t, err)

	pending := q.List(ClarificationPending)
	assert.Len(t, pending, 1)

	all := q.List("")
	assert.Len(t, all, 2)
}

func TestClarificationQueuePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	q1, err := NewClarificationQueue(dir, nil)
	require.NoError(t, err)
	_, err = q1.Enqueue(context.Background(), "tr-1", "q?", nil)
	require.NoError(t, err)

	q2, err := NewClarificationQueue(dir, nil)
	require.NoError(t, err)
	assert.Len(t, q2.List(""), 1)
}
