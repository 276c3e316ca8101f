// Package pipeline implements the three thin orchestration pipelines:
// inbox scanning, adapter sync ticks, and rollup creation. None of these
// parse content, extract tags, or talk to adapters directly — they only
// scan, route events through internal/eventbus, and retry on handler
// failure.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kira-host/kira/infrastructure/logging"
	"github.com/kira-host/kira/infrastructure/resilience"
	"github.com/kira-host/kira/internal/eventbus"
)

// Result summarizes one pipeline run.
type Result struct {
	TraceID        string
	ItemsScanned   int
	ItemsProcessed int
	ItemsFailed    int
	Elapsed        time.Duration
	Success        bool
}

// InboxConfig configures an InboxPipeline.
type InboxConfig struct {
	VaultRoot  string
	Bus        *eventbus.Bus
	Logger     *logging.Logger
	LogPath    string // JSONL audit trail; empty disables it
	MaxRetries int
	RetryDelay time.Duration
}

// InboxPipeline scans <vault>/inbox for dropped files and publishes
// file.dropped for each, retrying a failing delivery with exponential
// backoff before counting the item as failed.
type InboxPipeline struct {
	vaultRoot  string
	bus        *eventbus.Bus
	log        *logging.Logger
	jsonl      *jsonlLogger
	maxRetries int
	retryDelay time.Duration
}

// NewInboxPipeline constructs an InboxPipeline from cfg, applying spec
// defaults (max_retries=3) where unset.
func NewInboxPipeline(cfg InboxConfig) (*InboxPipeline, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewFromEnv("pipeline.inbox")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	jsonl, err := newJSONLLogger(cfg.LogPath)
	if err != nil {
		return nil, err
	}
	return &InboxPipeline{
		vaultRoot:  cfg.VaultRoot,
		bus:        cfg.Bus,
		log:        cfg.Logger,
		jsonl:      jsonl,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (p *InboxPipeline) inboxDir() string {
	return filepath.Join(p.vaultRoot, "inbox")
}

// ScanInboxFiles lists regular files directly under <vault>/inbox, in a
// stable (lexical) order.
func (p *InboxPipeline) ScanInboxFiles() ([]string, error) {
	entries, err := os.ReadDir(p.inboxDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: scan inbox: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, filepath.Join(p.inboxDir(), e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Run scans the inbox once and publishes file.dropped for every file found,
// all sharing one trace_id. A file whose delivery keeps failing after
// max_retries is counted in ItemsFailed but does not stop the run.
func (p *InboxPipeline) Run(ctx context.Context) (*Result, error) {
	traceID := uuid.New().String()
	ctx = logging.WithTraceID(ctx, traceID)
	start := time.Now()

	files, err := p.ScanInboxFiles()
	if err != nil {
		return nil, err
	}

	p.jsonl.write("pipeline_started", traceID, map[string]interface{}{
		"pipeline":      "inbox",
		"items_scanned": len(files),
	})

	result := &Result{TraceID: traceID, ItemsScanned: len(files)}

	for _, path := range files {
		if p.deliverWithRetry(ctx, "file.dropped", eventbus.Payload{
			"path":     path,
			"trace_id": traceID,
		}) {
			result.ItemsProcessed++
		} else {
			result.ItemsFailed++
		}
	}

	result.Elapsed = time.Since(start)
	result.Success = result.ItemsFailed == 0

	p.jsonl.write("pipeline_completed", traceID, map[string]interface{}{
		"pipeline":        "inbox",
		"items_scanned":   result.ItemsScanned,
		"items_processed": result.ItemsProcessed,
		"items_failed":    result.ItemsFailed,
		"elapsed_ms":      result.Elapsed.Milliseconds(),
	})

	return result, nil
}

// RunMessages delivers in-memory messages (e.g. a Telegram-shaped payload
// already received by an adapter out of process scope) as message.received
// events, under the same retry and trace_id rules as file delivery.
func (p *InboxPipeline) RunMessages(ctx context.Context, messages []map[string]interface{}) (*Result, error) {
	traceID := uuid.New().String()
	ctx = logging.WithTraceID(ctx, traceID)
	start := time.Now()

	p.jsonl.write("pipeline_started", traceID, map[string]interface{}{
		"pipeline":      "inbox",
		"items_scanned": len(messages),
	})

	result := &Result{TraceID: traceID, ItemsScanned: len(messages)}

	for _, msg := range messages {
		payload := eventbus.Payload{"trace_id": traceID}
		for k, v := range msg {
			payload[k] = v
		}
		if p.deliverWithRetry(ctx, "message.received", payload) {
			result.ItemsProcessed++
		} else {
			result.ItemsFailed++
		}
	}

	result.Elapsed = time.Since(start)
	result.Success = result.ItemsFailed == 0

	p.jsonl.write("pipeline_completed", traceID, map[string]interface{}{
		"pipeline":        "inbox",
		"items_scanned":   result.ItemsScanned,
		"items_processed": result.ItemsProcessed,
		"items_failed":    result.ItemsFailed,
		"elapsed_ms":      result.Elapsed.Milliseconds(),
	})

	return result, nil
}

// deliverWithRetry publishes one event, retrying the whole delivery
// (exponential backoff via infrastructure/resilience) while any subscriber
// reports an error, up to maxRetries attempts.
func (p *InboxPipeline) deliverWithRetry(ctx context.Context, name string, payload eventbus.Payload) bool {
	cfg := resilience.RetryConfig{
		MaxAttempts:  p.maxRetries,
		InitialDelay: p.retryDelay,
		MaxDelay:     10 * p.retryDelay,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
	err := resilience.Retry(ctx, cfg, func() error {
		for _, herr := range p.bus.PublishCollect(ctx, name, payload) {
			if herr != nil {
				return herr
			}
		}
		return nil
	})
	if err != nil {
		p.log.WithTraceID(logging.GetTraceID(ctx)).
			WithField("event", name).
			WithError(err).
			Warn("inbox item failed after retries")
		return false
	}
	return true
}
