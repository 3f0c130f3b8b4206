package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-run/weft/internal/models"
	"github.com/weft-run/weft/internal/workflow"
)

type enqueueCall struct {
	req        models.JobRequest
	sourceType models.SourceType
	sourceID   string
}

type stubEnqueuer struct {
	mu    sync.Mutex
	calls []enqueueCall
	err   error
}

func (s *stubEnqueuer) Enqueue(_ context.Context, req models.JobRequest, sourceType models.SourceType, sourceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.calls = append(s.calls, enqueueCall{req: req, sourceType: sourceType, sourceID: sourceID})
	return "job-1", nil
}

func (s *stubEnqueuer) snapshot() []enqueueCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]enqueueCall(nil), s.calls...)
}

type virtualClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newVirtualClock(start time.Time) *virtualClock {
	return &virtualClock{cur: start}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *virtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.cur = c.cur.Add(d)
	c.mu.Unlock()
}

func everyMinuteConfig(t *testing.T, name string) *workflow.Config {
	t.Helper()
	schedule, err := cron.ParseStandard("*/1 * * * *")
	require.NoError(t, err)
	return &workflow.Config{
		Triggers: map[string]*workflow.Trigger{
			name: {
				Name:     name,
				Type:     workflow.TriggerTypeScheduler,
				Cron:     "*/1 * * * *",
				Task:     "deploy",
				Input:    map[string]string{"env": "prod"},
				Enabled:  true,
				Schedule: schedule,
			},
		},
	}
}

func TestEveryMinuteTriggerOver150Seconds(t *testing.T) {
	t.Parallel()

	clock := newVirtualClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := &stubEnqueuer{}
	s := New(store, WithClock(clock.Now))
	ctx := context.Background()

	s.Load(ctx, everyMinuteConfig(t, "tg"))
	s.tick(ctx)

	for i := 0; i < 150; i++ {
		clock.Advance(time.Second)
		s.tick(ctx)
	}

	calls := store.snapshot()
	require.Len(t, calls, 2)
	for _, call := range calls {
		assert.Equal(t, models.SourceTrigger, call.sourceType)
		assert.Equal(t, "tg", call.sourceID)
		assert.Equal(t, "deploy", call.req.Task)
		assert.Equal(t, map[string]any{"env": "prod"}, call.req.Input)
	}
}

func TestReloadCarriesLastRun(t *testing.T) {
	t.Parallel()

	clock := newVirtualClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := &stubEnqueuer{}
	s := New(store, WithClock(clock.Now))
	ctx := context.Background()
	cfg := everyMinuteConfig(t, "tg")

	s.Load(ctx, cfg)
	s.tick(ctx)

	clock.Advance(61 * time.Second)
	s.tick(ctx)
	require.Len(t, store.snapshot(), 1)

	s.mu.Lock()
	beforeReload := s.entries["tg"].nextRun
	s.mu.Unlock()

	s.Load(ctx, cfg)
	s.tick(ctx)

	s.mu.Lock()
	entry := s.entries["tg"]
	lastRun, nextRun := entry.lastRun, entry.nextRun
	s.mu.Unlock()

	assert.Equal(t, time.Date(2025, 3, 1, 12, 1, 0, 0, time.UTC), lastRun)
	assert.Equal(t, beforeReload, nextRun)
	// The reload itself fired nothing.
	assert.Len(t, store.snapshot(), 1)
}

func TestCatchUpFiresEveryMissedSlot(t *testing.T) {
	t.Parallel()

	clock := newVirtualClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := &stubEnqueuer{}
	s := New(store, WithClock(clock.Now))
	ctx := context.Background()

	s.Load(ctx, everyMinuteConfig(t, "tg"))
	s.tick(ctx)

	clock.Advance(3 * time.Minute)
	s.tick(ctx)

	assert.Len(t, store.snapshot(), 3)
}

func TestDisabledTriggerNotLoaded(t *testing.T) {
	t.Parallel()

	cfg := everyMinuteConfig(t, "tg")
	cfg.Triggers["tg"].Enabled = false

	s := New(&stubEnqueuer{})
	s.Load(context.Background(), cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.entries)
}

func TestReloadDropsRemovedTriggers(t *testing.T) {
	t.Parallel()

	s := New(&stubEnqueuer{})
	ctx := context.Background()

	first := everyMinuteConfig(t, "keep")
	schedule, err := cron.ParseStandard("0 9 * * *")
	require.NoError(t, err)
	first.Triggers["drop"] = &workflow.Trigger{
		Name:     "drop",
		Task:     "deploy",
		Enabled:  true,
		Schedule: schedule,
	}
	s.Load(ctx, first)

	s.mu.Lock()
	require.Len(t, s.entries, 2)
	s.mu.Unlock()

	s.Load(ctx, everyMinuteConfig(t, "keep"))

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.entries, 1)
	assert.Contains(t, s.entries, "keep")
}

func TestEnqueueFailureAdvancesSchedule(t *testing.T) {
	t.Parallel()

	clock := newVirtualClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := &stubEnqueuer{err: assert.AnError}
	s := New(store, WithClock(clock.Now))
	ctx := context.Background()

	s.Load(ctx, everyMinuteConfig(t, "tg"))
	s.tick(ctx)

	clock.Advance(61 * time.Second)
	s.tick(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	// The failed slot is skipped, not retried in a tight loop.
	assert.Equal(t, time.Date(2025, 3, 1, 12, 2, 0, 0, time.UTC), s.entries["tg"].nextRun)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s := New(&stubEnqueuer{})
	ctx := context.Background()

	s.Start(ctx)
	s.Load(ctx, everyMinuteConfig(t, "tg"))

	done := make(chan struct{})
	go func() {
		s.Stop(ctx)
		s.Stop(ctx) // idempotent
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not join the loop")
	}
}

func TestPromoteInput(t *testing.T) {
	t.Parallel()

	assert.Nil(t, promoteInput(nil))
	assert.Nil(t, promoteInput(map[string]string{}))
	assert.Equal(t, map[string]any{"a": "1", "b": "2"},
		promoteInput(map[string]string{"a": "1", "b": "2"}))
}
