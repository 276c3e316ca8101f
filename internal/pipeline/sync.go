package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kira-host/kira/infrastructure/logging"
	"github.com/kira-host/kira/infrastructure/resilience"
	"github.com/kira-host/kira/internal/eventbus"
	"github.com/kira-host/kira/internal/scheduler"
)

// SyncResult summarizes one sync pipeline run.
type SyncResult struct {
	TraceID        string
	AdaptersSynced int
	Success        bool
}

// SyncConfig configures a SyncPipeline.
type SyncConfig struct {
	Bus        *eventbus.Bus
	Scheduler  *scheduler.Scheduler
	Logger     *logging.Logger
	Adapters   []string
	MaxRetries int
	RetryDelay time.Duration
	Interval   time.Duration
}

// SyncPipeline publishes sync.tick for each configured adapter name and
// retries a failing tick with backoff. It holds no adapter-specific logic:
// adapters subscribe to sync.tick and handle their own synchronization.
type SyncPipeline struct {
	bus        *eventbus.Bus
	sched      *scheduler.Scheduler
	log        *logging.Logger
	adapters   []string
	maxRetries int
	retryDelay time.Duration
	interval   time.Duration
	periodicID string
}

// NewSyncPipeline constructs a SyncPipeline from cfg.
func NewSyncPipeline(cfg SyncConfig) *SyncPipeline {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewFromEnv("pipeline.sync")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	return &SyncPipeline{
		bus:        cfg.Bus,
		sched:      cfg.Scheduler,
		log:        cfg.Logger,
		adapters:   cfg.Adapters,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		interval:   cfg.Interval,
	}
}

// Run publishes sync.tick for every configured adapter (or for the
// explicitly passed list, when non-empty), sharing one trace_id.
func (p *SyncPipeline) Run(ctx context.Context, adapters ...string) *SyncResult {
	if len(adapters) == 0 {
		adapters = p.adapters
	}
	traceID := uuid.New().String()
	ctx = logging.WithTraceID(ctx, traceID)

	result := &SyncResult{TraceID: traceID}
	for _, adapter := range adapters {
		if p.tickWithRetry(ctx, adapter, traceID) {
			result.AdaptersSynced++
		}
	}
	result.Success = result.AdaptersSynced == len(adapters)
	return result
}

func (p *SyncPipeline) tickWithRetry(ctx context.Context, adapter, traceID string) bool {
	cfg := resilience.RetryConfig{
		MaxAttempts:  p.maxRetries,
		InitialDelay: p.retryDelay,
		MaxDelay:     10 * p.retryDelay,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
	err := resilience.Retry(ctx, cfg, func() error {
		for _, herr := range p.bus.PublishCollect(ctx, "sync.tick", eventbus.Payload{
			"adapter":  adapter,
			"trace_id": traceID,
		}) {
			if herr != nil {
				return herr
			}
		}
		return nil
	})
	if err != nil {
		p.log.WithTraceID(traceID).WithField("adapter", adapter).WithError(err).Warn("adapter sync failed after retries")
		return false
	}
	return true
}

// SchedulePeriodicSync registers a periodic job (via internal/scheduler)
// that runs Run on the configured interval, returning the scheduler job id.
func (p *SyncPipeline) SchedulePeriodicSync() string {
	if p.sched == nil || p.interval <= 0 {
		return ""
	}
	p.periodicID = p.sched.SchedulePeriodic(p.interval, func(ctx context.Context) {
		p.Run(ctx)
	})
	return p.periodicID
}

// CancelPeriodicSync cancels the job scheduled by SchedulePeriodicSync.
func (p *SyncPipeline) CancelPeriodicSync() bool {
	if p.sched == nil || p.periodicID == "" {
		return false
	}
	ok := p.sched.Cancel(p.periodicID)
	if ok {
		p.periodicID = ""
	}
	return ok
}
