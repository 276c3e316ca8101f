package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kira-host/kira/infrastructure/state"
	"github.com/kira-host/kira/internal/dedupe"
	"github.com/kira-host/kira/internal/eventbus"
	"github.com/kira-host/kira/internal/hostapi"
	"github.com/kira-host/kira/internal/vault"
)

// fakeTelegramMessage simulates the shape of a Telegram adapter's
// message.received payload ({text, external_id, source:"telegram"}) without
// implementing a real adapter (out of scope). It is the pipeline-side half
// of the scenario grounded on original_source's
// test_telegram_adapter.py/test_telegram_vault_integration.py: a message
// goes through dedupe before the inbox pipeline ever routes it to a task.
func fakeTelegramMessage(externalID, text string) map[string]interface{} {
	return map[string]interface{}{
		"text":        text,
		"external_id": externalID,
		"source":      "telegram",
	}
}

func TestTelegramShapedMessageCreatesOneTaskViaPipelineAndHostAPI(t *testing.T) {
	store, err := vault.New(vault.Config{Root: t.TempDir()})
	require.NoError(t, err)
	bus := eventbus.New(eventbus.Config{})
	h := hostapi.New(store, bus, nil)
	dd := dedupe.New(mustMemoryBackend(t))

	var createdTitles []string
	bus.Subscribe("message.received", func(ctx context.Context, p eventbus.Payload) error {
		text, _ := p["text"].(string)
		externalID, _ := p["external_id"].(string)

		fingerprint, err := dedupe.GenerateEventID("telegram", externalID, map[string]interface{}{"text": text})
		if err != nil {
			return err
		}
		dup, err := dd.IsDuplicate(ctx, fingerprint)
		if err != nil {
			return err
		}
		if dup {
			return nil
		}
		if err := dd.MarkSeen(ctx, fingerprint, "telegram", externalID); err != nil {
			return err
		}

		traceID, _ := p["trace_id"].(string)
		_, err = h.CreateEntity(ctx, traceID, vault.TypeTask, map[string]interface{}{
			"title":  text,
			"status": "todo",
			"tags":   []interface{}{"telegram"},
		}, "")
		if err != nil {
			return err
		}
		createdTitles = append(createdTitles, text)
		return nil
	})

	p, err := NewInboxPipeline(InboxConfig{VaultRoot: t.TempDir(), Bus: bus})
	require.NoError(t, err)

	msg := fakeTelegramMessage("telegram-12345", "Buy milk")
	result, err := p.RunMessages(context.Background(), []map[string]interface{}{msg, msg})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ItemsProcessed)
	assert.Len(t, createdTitles, 1, "the duplicate delivery must not create a second task")

	tasks, err := h.ListEntities(vault.TypeTask)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func mustMemoryBackend(t *testing.T) *state.MemoryBackend {
	t.Helper()
	return state.NewMemoryBackend(time.Hour)
}
