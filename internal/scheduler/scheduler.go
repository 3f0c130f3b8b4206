// Package scheduler turns cron triggers into queued jobs. One
// long-lived loop sleeps until the earliest due trigger, enqueues a
// job request built from the trigger's template, and goes back to
// sleep. Reloading swaps the trigger set without losing the firing
// phase of triggers that survive.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
	"github.com/weft-run/weft/internal/models"
	"github.com/weft-run/weft/internal/workflow"
)

// Enqueuer is the slice of the job store the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req models.JobRequest, sourceType models.SourceType, sourceID string) (string, error)
}

// Clock supplies the current time. Tests inject a virtual one.
type Clock func() time.Time

// entry is one trigger's scheduling state. lastRun survives reloads so
// a config change never shifts the firing phase.
type entry struct {
	name     string
	schedule cron.Schedule
	template models.JobRequest
	lastRun  time.Time
	nextRun  time.Time
}

// Scheduler owns the trigger entries and the loop that fires them.
type Scheduler struct {
	enqueuer Enqueuer
	clock    Clock

	mu      sync.Mutex
	entries map[string]*entry

	reload  chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	running atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the time source.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// New creates a scheduler with no triggers loaded.
func New(enqueuer Enqueuer, opts ...Option) *Scheduler {
	s := &Scheduler{
		enqueuer: enqueuer,
		clock:    time.Now,
		entries:  make(map[string]*entry),
		reload:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the trigger set from a configuration snapshot.
// Disabled triggers are skipped. Entries for trigger names that
// survive keep their lastRun; their next occurrence is recomputed from
// it, so a reload neither re-fires nor skips a slot.
func (s *Scheduler) Load(ctx context.Context, cfg *workflow.Config) {
	s.mu.Lock()
	next := make(map[string]*entry, len(cfg.Triggers))
	for name, trigger := range cfg.Triggers {
		if !trigger.Enabled {
			continue
		}
		e := &entry{
			name:     name,
			schedule: trigger.Schedule,
			template: models.JobRequest{
				Task:  trigger.Task,
				Input: promoteInput(trigger.Input),
			},
		}
		if prev, ok := s.entries[name]; ok {
			e.lastRun = prev.lastRun
		}
		next[name] = e
	}
	s.entries = next
	s.mu.Unlock()

	logger.Info(ctx, "Scheduler triggers loaded", "count", len(next))

	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// Start launches the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	logger.Info(ctx, "Scheduler started")
	go s.loop(ctx)
}

// Stop terminates the loop and waits for it to exit. Safe to call
// more than once.
func (s *Scheduler) Stop(ctx context.Context) {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	<-s.done
	logger.Info(ctx, "Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		wake := s.tick(ctx)

		var timerC <-chan time.Time
		var timer *time.Timer
		if !wake.IsZero() {
			d := wake.Sub(s.clock())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-timerC:
		case <-s.reload:
		case <-s.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// tick fires every due trigger and returns the earliest upcoming
// occurrence, or the zero time when no triggers are loaded.
func (s *Scheduler) tick(ctx context.Context) time.Time {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest time.Time
	for _, e := range s.entries {
		if e.nextRun.IsZero() {
			after := now
			if !e.lastRun.IsZero() {
				after = e.lastRun
			}
			e.nextRun = e.schedule.Next(after)
		}
		for !e.nextRun.After(now) {
			s.fire(ctx, e)
			e.lastRun = e.nextRun
			e.nextRun = e.schedule.Next(e.nextRun)
		}
		if earliest.IsZero() || e.nextRun.Before(earliest) {
			earliest = e.nextRun
		}
	}
	return earliest
}

func (s *Scheduler) fire(ctx context.Context, e *entry) {
	req := e.template
	id, err := s.enqueuer.Enqueue(ctx, req, models.SourceTrigger, e.name)
	if err != nil {
		logger.Error(ctx, "Trigger enqueue failed", tag.Trigger(e.name), tag.Error(err))
		return
	}
	logger.Info(ctx, "Trigger fired", tag.Trigger(e.name), tag.Job(id), tag.Task(req.Task))
}

// promoteInput turns a trigger's flat string map into the structured
// input shape jobs carry.
func promoteInput(input map[string]string) any {
	if len(input) == 0 {
		return nil
	}
	return lo.MapValues(input, func(v string, _ string) any { return v })
}
