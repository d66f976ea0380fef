package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealsignal/internal/events"
	"dealsignal/internal/logger"
)

type everySchedule time.Duration

func (e everySchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func fastPolicy(t *testing.T) *FrequencyPolicy {
	t.Helper()
	p, err := NewPolicyFromSchedules(map[Frequency]cron.Schedule{
		Hourly: everySchedule(20 * time.Millisecond),
		Daily:  everySchedule(time.Hour),
		Weekly: everySchedule(2 * time.Hour),
	})
	require.NoError(t, err)
	return p
}

type countingExecutor struct {
	calls atomic.Int32
	err   error
}

func (c *countingExecutor) Execute(context.Context, ScheduleConfig) error {
	c.calls.Add(1)
	return c.err
}

func newTestScheduler(t *testing.T, exec Executor) *Scheduler {
	t.Helper()
	s := New(exec, Options{Policy: fastPolicy(t), Log: logger.NewNop()})
	t.Cleanup(s.Stop)
	return s
}

func TestStartStopTimerCounts(t *testing.T) {
	s := newTestScheduler(t, &countingExecutor{})
	require.NoError(t, s.AddSchedule(ScheduleConfig{ID: "a", JobType: JobTypeAPI, Frequency: Daily, Enabled: true}))
	require.NoError(t, s.AddSchedule(ScheduleConfig{ID: "b", JobType: JobTypeETL, JobID: "job1", Frequency: Weekly, Enabled: true}))
	require.NoError(t, s.AddSchedule(ScheduleConfig{ID: "c", JobType: JobTypeScraper, Frequency: Daily, Enabled: false}))

	assert.Equal(t, 0, s.Status().ActiveTimers)

	s.Start()
	s.Start()
	st := s.Status()
	assert.True(t, st.Running)
	assert.Equal(t, 3, st.ScheduleCount)
	assert.Equal(t, 2, st.ActiveTimers)

	s.Stop()
	s.Stop()
	st = s.Status()
	assert.False(t, st.Running)
	assert.Equal(t, 0, st.ActiveTimers)
}

func TestAddScheduleWhileRunningReplacesTimer(t *testing.T) {
	s := newTestScheduler(t, &countingExecutor{})
	s.Start()
	cfg := ScheduleConfig{ID: "a", JobType: JobTypeAPI, Frequency: Daily, Enabled: true}
	require.NoError(t, s.AddSchedule(cfg))
	require.NoError(t, s.AddSchedule(cfg))
	assert.Equal(t, 1, s.Status().ActiveTimers)

	cfg.Enabled = false
	require.NoError(t, s.AddSchedule(cfg))
	assert.Equal(t, 0, s.Status().ActiveTimers)

	require.NoError(t, s.SetEnabled("a", true))
	assert.Equal(t, 1, s.Status().ActiveTimers)

	assert.True(t, s.RemoveSchedule("a"))
	assert.False(t, s.RemoveSchedule("a"))
	assert.Equal(t, 0, s.Status().ActiveTimers)
}

func TestRunNowWhileStopped(t *testing.T) {
	exec := &countingExecutor{}
	s := newTestScheduler(t, exec)
	require.NoError(t, s.AddSchedule(ScheduleConfig{ID: "a", JobType: JobTypeAPI, Frequency: Weekly, Enabled: true}))

	require.NoError(t, s.RunNow(context.Background(), "a"))
	assert.Equal(t, int32(1), exec.calls.Load())
	assert.Equal(t, 0, s.Status().ActiveTimers)
}

func TestRunNowUnknownSchedule(t *testing.T) {
	s := newTestScheduler(t, &countingExecutor{})
	err := s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrScheduleNotFound)
	assert.ErrorIs(t, s.SetEnabled("missing", true), ErrScheduleNotFound)
}

func TestTimerFiresAndPublishesRefresh(t *testing.T) {
	exec := &countingExecutor{}
	refresh := events.NewBus[events.Refresh]("refresh", nil)
	got := make(chan events.Refresh, 16)
	refresh.Subscribe(func(r events.Refresh) { got <- r })

	s := New(exec, Options{Policy: fastPolicy(t), Refresh: refresh})
	t.Cleanup(s.Stop)
	require.NoError(t, s.AddSchedule(ScheduleConfig{ID: "fast", JobType: JobTypeETL, JobID: "job1", Frequency: Hourly, Enabled: true}))
	s.Start()

	select {
	case evt := <-got:
		assert.Equal(t, "fast", evt.ScheduleID)
		assert.Equal(t, "etl", evt.JobType)
		assert.Equal(t, "job1", evt.JobID)
		assert.Empty(t, evt.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestExecutorErrorRecordedAndTimerKeepsRunning(t *testing.T) {
	exec := &countingExecutor{err: errors.New("source down")}
	refresh := events.NewBus[events.Refresh]("refresh", nil)
	got := make(chan events.Refresh, 16)
	refresh.Subscribe(func(r events.Refresh) { got <- r })

	s := New(exec, Options{Policy: fastPolicy(t), Refresh: refresh})
	t.Cleanup(s.Stop)
	require.NoError(t, s.AddSchedule(ScheduleConfig{ID: "fast", JobType: JobTypeAPI, Frequency: Hourly, Enabled: true}))
	s.Start()

	for i := 0; i < 2; i++ {
		select {
		case evt := <-got:
			assert.Equal(t, "source down", evt.Error)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected execution %d", i+1)
		}
	}
}

func TestOnExecuteListener(t *testing.T) {
	s := newTestScheduler(t, &countingExecutor{})
	require.NoError(t, s.AddSchedule(ScheduleConfig{ID: "a", JobType: JobTypeAll, Frequency: Daily, Enabled: true}))

	var mu sync.Mutex
	var seen []Execution
	unsubscribe := s.OnExecute("a", func(e Execution) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e)
	})
	require.NoError(t, s.RunNow(context.Background(), "a"))
	unsubscribe()
	require.NoError(t, s.RunNow(context.Background(), "a"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, TriggerManual, seen[0].Trigger)
	assert.NoError(t, seen[0].Err)
}

func TestExecutorPanicBecomesError(t *testing.T) {
	s := newTestScheduler(t, ExecutorFunc(func(context.Context, ScheduleConfig) error { panic("boom") }))
	require.NoError(t, s.AddSchedule(ScheduleConfig{ID: "a", JobType: JobTypeAPI, Frequency: Daily, Enabled: true}))
	err := s.RunNow(context.Background(), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

type skipMetrics struct {
	skipped atomic.Int32
}

func (m *skipMetrics) ObserveExecution(string, error, time.Duration) {}
func (m *skipMetrics) ObserveSkipped(string)                         { m.skipped.Add(1) }

func TestTimerSkipsWhileExecuting(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var calls atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, _ ScheduleConfig) error {
		if calls.Add(1) == 1 {
			entered <- struct{}{}
			<-release
		}
		return nil
	})
	metrics := &skipMetrics{}
	s := New(exec, Options{Policy: fastPolicy(t), Metrics: metrics})
	t.Cleanup(s.Stop)
	require.NoError(t, s.AddSchedule(ScheduleConfig{ID: "slow", JobType: JobTypeAPI, Frequency: Hourly, Enabled: true}))

	done := make(chan error)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-entered
	s.Start()

	require.Eventually(t, func() bool { return metrics.skipped.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	close(release)
	require.NoError(t, <-done)
}

func TestScheduleValidation(t *testing.T) {
	s := newTestScheduler(t, &countingExecutor{})
	assert.Error(t, s.AddSchedule(ScheduleConfig{ID: "", JobType: JobTypeAPI, Frequency: Daily}))
	assert.Error(t, s.AddSchedule(ScheduleConfig{ID: "x", JobType: "ftp", Frequency: Daily}))
	assert.Error(t, s.AddSchedule(ScheduleConfig{ID: "x", JobType: JobTypeAPI, Frequency: "monthly"}))
	assert.Error(t, s.AddSchedule(ScheduleConfig{ID: "x", JobType: JobTypeAll, JobID: "j", Frequency: Daily}))
}

func TestSchedulesSorted(t *testing.T) {
	s := newTestScheduler(t, &countingExecutor{})
	require.NoError(t, s.AddSchedule(ScheduleConfig{ID: "b", JobType: JobTypeAPI, Frequency: Daily}))
	require.NoError(t, s.AddSchedule(ScheduleConfig{ID: "a", JobType: JobTypeAPI, Frequency: Daily}))
	got := s.Schedules()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	cfg, ok := s.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "b", cfg.ID)
}
