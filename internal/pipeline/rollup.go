package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kira-host/kira/infrastructure/logging"
	"github.com/kira-host/kira/internal/eventbus"
	"github.com/kira-host/kira/internal/hostapi"
	"github.com/kira-host/kira/internal/vault"
)

// RollupSection is one plugin's synchronously contributed slice of a
// rollup's body. Contributing handlers append to the slice reachable
// through the rollup.requested payload's "sections" key; the pipeline
// itself never generates section content.
type RollupSection struct {
	Source  string
	Content string
}

// RollupResult summarizes one rollup pipeline run.
type RollupResult struct {
	TraceID       string
	Success       bool
	RollupType    string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	EntityID      string
	SectionsCount int
}

// RollupConfig configures a RollupPipeline.
type RollupConfig struct {
	Bus     *eventbus.Bus
	HostAPI *hostapi.HostAPI
	Logger  *logging.Logger
}

// RollupPipeline creates a rollup entity for a period via the host API,
// publishes rollup.requested so plugins can contribute sections
// synchronously, and joins whatever sections arrived into the entity body.
// It performs no content generation of its own.
type RollupPipeline struct {
	bus     *eventbus.Bus
	hostAPI *hostapi.HostAPI
	log     *logging.Logger
}

// NewRollupPipeline constructs a RollupPipeline from cfg.
func NewRollupPipeline(cfg RollupConfig) *RollupPipeline {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewFromEnv("pipeline.rollup")
	}
	return &RollupPipeline{bus: cfg.Bus, hostAPI: cfg.HostAPI, log: cfg.Logger}
}

// CreateDailyRollup creates a daily rollup entity for the given date
// (defaulting to today in UTC when the zero value is passed).
func (p *RollupPipeline) CreateDailyRollup(ctx context.Context, day time.Time) (*RollupResult, error) {
	if day.IsZero() {
		day = time.Now().UTC()
	}
	return p.create(ctx, "daily", day, day, fmt.Sprintf("Daily Rollup - %s", day.Format("2006-01-02")))
}

// CreateWeeklyRollup creates a weekly rollup entity spanning [start, end].
func (p *RollupPipeline) CreateWeeklyRollup(ctx context.Context, start, end time.Time) (*RollupResult, error) {
	title := fmt.Sprintf("Weekly Rollup - %s to %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	return p.create(ctx, "weekly", start, end, title)
}

func (p *RollupPipeline) create(ctx context.Context, rollupType string, start, end time.Time, title string) (*RollupResult, error) {
	traceID := uuid.New().String()
	ctx = logging.WithTraceID(ctx, traceID)

	sections := &[]RollupSection{}
	p.bus.Publish(ctx, "rollup.requested", eventbus.Payload{
		"rollup_type":  rollupType,
		"period_start": start.Format("2006-01-02"),
		"period_end":   end.Format("2006-01-02"),
		"trace_id":     traceID,
		"sections":     sections,
	})

	var body strings.Builder
	for _, s := range *sections {
		body.WriteString("## " + s.Source + "\n\n" + s.Content + "\n\n")
	}

	entity, err := p.hostAPI.CreateEntity(ctx, traceID, vault.TypeRollup, map[string]interface{}{
		"title":       title,
		"period":      rollupType,
		"rollup_type": rollupType,
		"period_start": start.Format("2006-01-02"),
		"period_end":   end.Format("2006-01-02"),
	}, body.String())
	if err != nil {
		return nil, err
	}

	return &RollupResult{
		TraceID:       traceID,
		Success:       true,
		RollupType:    rollupType,
		PeriodStart:   start,
		PeriodEnd:     end,
		EntityID:      entity.ID,
		SectionsCount: len(*sections),
	}, nil
}
