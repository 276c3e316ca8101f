package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kira-host/kira/internal/eventbus"
)

func writeInboxFile(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, "inbox")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestInboxPipelineScansAndPublishes(t *testing.T) {
	root := t.TempDir()
	writeInboxFile(t, root, "a.md", "# A")
	writeInboxFile(t, root, "b.txt", "b")

	bus := eventbus.New(eventbus.Config{})
	var delivered []string
	bus.Subscribe("file.dropped", func(_ context.Context, p eventbus.Payload) error {
		delivered = append(delivered, p["path"].(string))
		return nil
	})

	p, err := NewInboxPipeline(InboxConfig{VaultRoot: root, Bus: bus})
	require.NoError(t, err)

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ItemsScanned)
	assert.Equal(t, 2, result.ItemsProcessed)
	assert.Len(t, delivered, 2)
}

func TestInboxPipelineRetriesOnFailureThenSucceeds(t *testing.T) {
	root := t.TempDir()
	writeInboxFile(t, root, "a.md", "content")

	bus := eventbus.New(eventbus.Config{})
	calls := 0
	bus.Subscribe("file.dropped", func(_ context.Context, p eventbus.Payload) error {
		calls++
		if calls < 3 {
			return errors.New("simulated failure")
		}
		return nil
	})

	p, err := NewInboxPipeline(InboxConfig{VaultRoot: root, Bus: bus, MaxRetries: 3, RetryDelay: 0})
	require.NoError(t, err)

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, result.ItemsProcessed)
}

func TestInboxPipelineMarksPermanentFailureAfterMaxRetries(t *testing.T) {
	root := t.TempDir()
	writeInboxFile(t, root, "a.md", "content")

	bus := eventbus.New(eventbus.Config{})
	bus.Subscribe("file.dropped", func(_ context.Context, p eventbus.Payload) error {
		return errors.New("always fails")
	})

	p, err := NewInboxPipeline(InboxConfig{VaultRoot: root, Bus: bus, MaxRetries: 2, RetryDelay: 0})
	require.NoError(t, err)

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ItemsFailed)
}

func TestInboxPipelineSharesOneTraceIDAcrossItems(t *testing.T) {
	root := t.TempDir()
	writeInboxFile(t, root, "a.md", "x")
	writeInboxFile(t, root, "b.md", "y")

	bus := eventbus.New(eventbus.Config{})
	var traceIDs []string
	bus.Subscribe("file.dropped", func(_ context.Context, p eventbus.Payload) error {
		traceIDs = append(traceIDs, p["trace_id"].(string))
		return nil
	})

	p, err := NewInboxPipeline(InboxConfig{VaultRoot: root, Bus: bus})
	require.NoError(t, err)

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, traceIDs, 2)
	assert.Equal(t, result.TraceID, traceIDs[0])
	assert.Equal(t, traceIDs[0], traceIDs[1])
}

func TestInboxPipelineWritesJSONLLog(t *testing.T) {
	root := t.TempDir()
	writeInboxFile(t, root, "a.md", "x")

	logPath := filepath.Join(root, "logs", "inbox.jsonl")
	bus := eventbus.New(eventbus.Config{})

	p, err := NewInboxPipeline(InboxConfig{VaultRoot: root, Bus: bus, LogPath: logPath})
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)

	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var lines []map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	for {
		var m map[string]interface{}
		if err := dec.Decode(&m); err != nil {
			break
		}
		lines = append(lines, m)
	}
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "pipeline_started", lines[0]["event_type"])
	assert.Equal(t, "pipeline_completed", lines[len(lines)-1]["event_type"])
}

func TestInboxPipelineEmptyInboxIsValid(t *testing.T) {
	root := t.TempDir()
	bus := eventbus.New(eventbus.Config{})
	p, err := NewInboxPipeline(InboxConfig{VaultRoot: root, Bus: bus})
	require.NoError(t, err)

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.ItemsScanned)
	assert.True(t, result.Success)
}
