// Package scheduler runs single-shot and periodic jobs on worker goroutines.
// Periodic jobs are driven by a robfig/cron runner on a fixed-interval
// schedule, and a tick that would overlap the same job's previous run is
// skipped; single-shot jobs use a plain timer.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/kira-host/kira/infrastructure/logging"
	"github.com/kira-host/kira/infrastructure/ratelimit"
)

// JobFunc is a scheduled unit of work. It must not assume any caller
// thread-local state: it runs on a scheduler-owned goroutine.
type JobFunc func(ctx context.Context)

// tickBurstLimit bounds how many periodic ticks across every scheduled job
// may fire per second: a misconfigured short interval on one job (or many
// jobs sharing a similar interval) must not be able to starve the worker
// goroutines the rest of the process depends on.
var tickBurstLimit = ratelimit.RateLimitConfig{RequestsPerSecond: 50, Burst: 100}

// intervalSchedule activates a fixed interval after each run. cron.Every
// rounds any interval below one second up to a whole second; this schedule
// keeps sub-second intervals as given. A non-positive interval counts as
// one second.
type intervalSchedule time.Duration

func (d intervalSchedule) Next(t time.Time) time.Time {
	if d <= 0 {
		return t.Add(time.Second)
	}
	return t.Add(time.Duration(d))
}

// Scheduler manages single-shot timers and periodic cron-style jobs for one
// process. It is safe for concurrent use.
type Scheduler struct {
	mu       sync.Mutex
	timers   map[string]*time.Timer
	periodic map[string]cron.EntryID
	cron     *cron.Cron
	log      *logging.Logger
	limiter  *ratelimit.RateLimiter
	ctx      context.Context
	cancel   context.CancelFunc
}

// New constructs a Scheduler and starts its periodic-job clock.
func New(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewFromEnv("scheduler")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		timers:   make(map[string]*time.Timer),
		periodic: make(map[string]cron.EntryID),
		cron:     cron.New(),
		log:      logger,
		limiter:  ratelimit.New(tickBurstLimit),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.cron.Start()
	return s
}

// ScheduleOnce runs fn once after delay, returning a job id that Cancel
// accepts to abort it before it fires. Firing moves fn onto its own
// goroutine; the scheduler's own clock is never blocked by a slow job.
func (s *Scheduler) ScheduleOnce(delay time.Duration, fn JobFunc) string {
	id := uuid.New().String()

	timer := time.AfterFunc(delay, func() {
		go fn(s.ctx)
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
	})

	s.mu.Lock()
	s.timers[id] = timer
	s.mu.Unlock()
	return id
}

// SchedulePeriodic runs fn every interval, skipping a tick if the previous
// invocation of the same job id has not yet returned (overlap is detected
// with a per-job in-flight flag rather than relying on the underlying cron
// library's own concurrency, so the guarantee holds regardless of how long
// a handler runs).
func (s *Scheduler) SchedulePeriodic(interval time.Duration, fn JobFunc) string {
	id := uuid.New().String()
	var inFlight int32

	job := cron.FuncJob(func() {
		if !atomic.CompareAndSwapInt32(&inFlight, 0, 1) {
			s.log.WithField("job_id", id).Warn("skipping overlapping periodic tick")
			return
		}
		defer atomic.StoreInt32(&inFlight, 0)
		if !s.limiter.Allow() {
			s.log.WithField("job_id", id).Warn("skipping periodic tick: process-wide tick burst limit exceeded")
			return
		}
		fn(s.ctx)
	})

	entryID := s.cron.Schedule(intervalSchedule(interval), job)

	s.mu.Lock()
	s.periodic[id] = entryID
	s.mu.Unlock()
	return id
}

// Cancel removes a scheduled job. For a periodic job this stops future
// ticks but does not interrupt a tick already running; callers that need
// interruption pass their own cancellation token into the job closure.
// Cancel reports whether a job with that id was found.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[jobID]; ok {
		timer.Stop()
		delete(s.timers, jobID)
		return true
	}
	if entryID, ok := s.periodic[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.periodic, jobID)
		return true
	}
	return false
}

// Stop halts the scheduler's clock and cancels the context passed to every
// running job.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
}
