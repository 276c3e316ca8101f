package hostapi

import (
	"context"
	"fmt"
	"time"

	"github.com/kira-host/kira/infrastructure/logging"
	"github.com/kira-host/kira/internal/eventbus"
	"github.com/kira-host/kira/internal/scheduler"
	"github.com/kira-host/kira/internal/vault"
)

// defaultTimeboxMinutes is used when a task carries no time_hint, matching
// the Pomodoro-length default of the calendar plugin this is grounded on.
const defaultTimeboxMinutes = 25

// Timeboxing bridges the task FSM to calendar.* intent events: a task
// entering "doing" opens a timebox sized by its time_hint metadata (minutes)
// and schedules a one-shot job that auto-closes it if the task is still
// "doing" once the hint elapses; leaving "doing" any other way (blocked,
// review, done) emits the matching calendar event immediately.
type Timeboxing struct {
	bus       *eventbus.Bus
	scheduler *scheduler.Scheduler
	store     *vault.Store
	log       *logging.Logger
	unsub     []eventbus.UnsubscribeToken
}

// NewTimeboxing wires the four task.enter_* subscriptions and returns the
// manager; call Close to tear the subscriptions down.
func NewTimeboxing(bus *eventbus.Bus, sched *scheduler.Scheduler, store *vault.Store, log *logging.Logger) *Timeboxing {
	if log == nil {
		log = logging.NewFromEnv("timeboxing")
	}
	tb := &Timeboxing{bus: bus, scheduler: sched, store: store, log: log}

	tb.unsub = append(tb.unsub,
		bus.Subscribe("task.enter_doing", tb.onEnterDoing),
		bus.Subscribe("task.enter_done", tb.onEnterDone),
		bus.Subscribe("task.enter_blocked", tb.onEnterBlocked),
		bus.Subscribe("task.enter_review", tb.onEnterReview),
	)
	return tb
}

// Close unregisters every subscription.
func (tb *Timeboxing) Close() {
	for _, u := range tb.unsub {
		u()
	}
}

func (tb *Timeboxing) onEnterDoing(ctx context.Context, payload eventbus.Payload) error {
	id, _ := payload["id"].(string)
	if id == "" {
		return nil
	}
	metadata, _ := payload["metadata"].(map[string]interface{})

	minutes := defaultTimeboxMinutes
	if raw, ok := metadata["time_hint"]; ok {
		switch v := raw.(type) {
		case int:
			minutes = v
		case float64:
			minutes = int(v)
		}
	}
	if minutes <= 0 {
		minutes = defaultTimeboxMinutes
	}

	title, _ := metadata["title"].(string)
	if title == "" {
		title = id
	}

	start := time.Now().UTC()
	end := start.Add(time.Duration(minutes) * time.Minute)

	tb.bus.Publish(ctx, "calendar.create_timebox", eventbus.Payload{
		"task_id":     id,
		"title":       title,
		"start":       start.Format(time.RFC3339),
		"end":         end.Format(time.RFC3339),
		"description": fmt.Sprintf("Timebox for [[%s]]", id),
		"source":      "timebox",
		"tags":        []string{"timebox", "work"},
	})

	if tb.scheduler != nil {
		tb.scheduler.ScheduleOnce(time.Duration(minutes)*time.Minute, func(jobCtx context.Context) {
			tb.autoCloseIfStillDoing(jobCtx, id)
		})
	}
	return nil
}

// autoCloseIfStillDoing fires when a timebox's hinted duration elapses. It
// re-reads the task so a transition that already happened (done, blocked,
// review) is not double-closed.
func (tb *Timeboxing) autoCloseIfStillDoing(ctx context.Context, taskID string) {
	if tb.store == nil {
		return
	}
	e, err := tb.store.Get(taskID)
	if err != nil || e == nil {
		return
	}
	if e.Status() != vault.StatusDoing {
		return
	}
	tb.bus.Publish(ctx, "calendar.close_timebox", eventbus.Payload{
		"task_id":         taskID,
		"completed_at":    time.Now().UTC().Format(time.RFC3339),
		"update_duration": true,
		"auto":            true,
	})
}

func (tb *Timeboxing) onEnterDone(ctx context.Context, payload eventbus.Payload) error {
	id, _ := payload["id"].(string)
	if id == "" {
		return nil
	}
	tb.bus.Publish(ctx, "calendar.close_timebox", eventbus.Payload{
		"task_id":         id,
		"completed_at":    time.Now().UTC().Format(time.RFC3339),
		"update_duration": true,
	})
	return nil
}

func (tb *Timeboxing) onEnterBlocked(ctx context.Context, payload eventbus.Payload) error {
	id, _ := payload["id"].(string)
	if id == "" {
		return nil
	}
	metadata, _ := payload["metadata"].(map[string]interface{})
	reason, _ := metadata["blocked_reason"].(string)
	if reason == "" {
		reason = "unknown"
	}
	tb.bus.Publish(ctx, "calendar.pause_timebox", eventbus.Payload{
		"task_id":        id,
		"blocked_reason": reason,
		"paused_at":      time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

func (tb *Timeboxing) onEnterReview(ctx context.Context, payload eventbus.Payload) error {
	id, _ := payload["id"].(string)
	if id == "" {
		return nil
	}
	metadata, _ := payload["metadata"].(map[string]interface{})
	reviewer, _ := metadata["reviewer"].(string)
	tb.bus.Publish(ctx, "calendar.mark_review", eventbus.Payload{
		"task_id":             id,
		"reviewer":            reviewer,
		"review_requested_at": time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}
