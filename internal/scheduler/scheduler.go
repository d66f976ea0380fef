// Package scheduler arms one timer per enabled schedule and runs the bound
// job through an Executor when the timer fires or on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dealsignal/internal/events"
	"dealsignal/internal/logger"
)

const defaultExecutionTimeout = 2 * time.Minute

type Executor interface {
	Execute(ctx context.Context, cfg ScheduleConfig) error
}

type ExecutorFunc func(ctx context.Context, cfg ScheduleConfig) error

func (f ExecutorFunc) Execute(ctx context.Context, cfg ScheduleConfig) error { return f(ctx, cfg) }

// Metrics receives execution outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ObserveExecution(scheduleID string, err error, d time.Duration)
	ObserveSkipped(scheduleID string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveExecution(string, error, time.Duration) {}
func (nopMetrics) ObserveSkipped(string)                         {}

type Options struct {
	Policy           *FrequencyPolicy
	ExecutionTimeout time.Duration
	Refresh          *events.Bus[events.Refresh]
	Metrics          Metrics
	Log              logger.Logger
}

type entry struct {
	cfg      ScheduleConfig
	stop     chan struct{}
	inflight int
}

type Scheduler struct {
	exec        Executor
	policy      *FrequencyPolicy
	execTimeout time.Duration
	refresh     *events.Bus[events.Refresh]
	metrics     Metrics
	log         logger.Logger
	now         func() time.Time

	mu         sync.Mutex
	running    bool
	schedules  map[string]*entry
	listeners  map[string]map[int]func(Execution)
	listenerID int
}

func New(exec Executor, opts Options) *Scheduler {
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy()
	}
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = defaultExecutionTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	return &Scheduler{
		exec:        exec,
		policy:      opts.Policy,
		execTimeout: opts.ExecutionTimeout,
		refresh:     opts.Refresh,
		metrics:     opts.Metrics,
		log:         opts.Log.With(logger.String("component", "scheduler")),
		now:         time.Now,
		schedules:   map[string]*entry{},
		listeners:   map[string]map[int]func(Execution){},
	}
}

// AddSchedule inserts or replaces a schedule. While running, an enabled
// schedule is re-armed immediately and a disabled one is disarmed.
func (s *Scheduler) AddSchedule(cfg ScheduleConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sched, err := s.policy.Schedule(cfg.Frequency)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.schedules[cfg.ID]
	if !ok {
		e = &entry{}
		s.schedules[cfg.ID] = e
	}
	s.disarmLocked(e)
	e.cfg = cfg
	if s.running && cfg.Enabled {
		s.armLocked(e, sched)
	}
	s.log.Info("schedule saved",
		logger.String("schedule_id", cfg.ID),
		logger.String("job_type", string(cfg.JobType)),
		logger.String("frequency", string(cfg.Frequency)),
		logger.Bool("enabled", cfg.Enabled))
	return nil
}

func (s *Scheduler) RemoveSchedule(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.schedules[id]
	if !ok {
		return false
	}
	s.disarmLocked(e)
	delete(s.schedules, id)
	delete(s.listeners, id)
	return true
}

func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	e, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	cfg := e.cfg
	s.mu.Unlock()
	cfg.Enabled = enabled
	return s.AddSchedule(cfg)
}

// Start arms a timer for every enabled schedule. Calling it twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	for _, e := range s.schedules {
		if !e.cfg.Enabled {
			continue
		}
		sched, err := s.policy.Schedule(e.cfg.Frequency)
		if err != nil {
			s.log.Error("cannot arm schedule", logger.String("schedule_id", e.cfg.ID), logger.Err(err))
			continue
		}
		s.armLocked(e, sched)
	}
	s.log.Info("scheduler started", logger.Int("active_timers", s.activeTimersLocked()))
}

// Stop cancels every timer. Executions already in flight run to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	for _, e := range s.schedules {
		s.disarmLocked(e)
	}
	s.log.Info("scheduler stopped")
}

// RunNow executes the schedule's job synchronously. Its timer is untouched.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	e.inflight++
	cfg := e.cfg
	s.mu.Unlock()
	defer s.release(id)
	return s.execute(ctx, cfg, TriggerManual)
}

// OnExecute registers fn for executions of schedule id and returns a func
// that removes it.
func (s *Scheduler) OnExecute(id string, fn func(Execution)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listenerID++
	lid := s.listenerID
	if s.listeners[id] == nil {
		s.listeners[id] = map[int]func(Execution){}
	}
	s.listeners[id][lid] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners[id], lid)
	}
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: s.running, ScheduleCount: len(s.schedules), ActiveTimers: s.activeTimersLocked()}
}

func (s *Scheduler) Schedules() []ScheduleConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleConfig, 0, len(s.schedules))
	for _, e := range s.schedules {
		out = append(out, e.cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) Get(id string) (ScheduleConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.schedules[id]
	if !ok {
		return ScheduleConfig{}, false
	}
	return e.cfg, true
}

func (s *Scheduler) activeTimersLocked() int {
	n := 0
	for _, e := range s.schedules {
		if e.stop != nil {
			n++
		}
	}
	return n
}

func (s *Scheduler) armLocked(e *entry, sched cron.Schedule) {
	stop := make(chan struct{})
	e.stop = stop
	go s.runTimer(e.cfg.ID, sched, stop)
}

func (s *Scheduler) disarmLocked(e *entry) {
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

func (s *Scheduler) runTimer(id string, sched cron.Schedule, stop <-chan struct{}) {
	for {
		now := s.now()
		next := sched.Next(now)
		if next.IsZero() {
			return
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-timer.C:
			s.fire(id, stop)
		case <-stop:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) fire(id string, stop <-chan struct{}) {
	s.mu.Lock()
	select {
	case <-stop:
		s.mu.Unlock()
		return
	default:
	}
	e, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if e.inflight > 0 {
		s.mu.Unlock()
		s.metrics.ObserveSkipped(id)
		s.log.Warn("skipping timer run, schedule still executing", logger.String("schedule_id", id))
		return
	}
	e.inflight++
	cfg := e.cfg
	s.mu.Unlock()
	defer s.release(id)
	_ = s.execute(context.Background(), cfg, TriggerTimer)
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.schedules[id]; ok && e.inflight > 0 {
		e.inflight--
	}
}

func (s *Scheduler) execute(ctx context.Context, cfg ScheduleConfig, trigger Trigger) error {
	ctx, cancel := context.WithTimeout(ctx, s.execTimeout)
	defer cancel()

	start := s.now()
	err := s.safeExecute(ctx, cfg)
	exec := Execution{ScheduleID: cfg.ID, Trigger: trigger, StartedAt: start, Duration: s.now().Sub(start), Err: err}

	fields := []logger.Field{
		logger.String("schedule_id", cfg.ID),
		logger.String("job_type", string(cfg.JobType)),
		logger.String("job_id", cfg.JobID),
		logger.String("trigger", string(trigger)),
		logger.Duration("duration", exec.Duration),
	}
	switch {
	case err == nil:
		s.log.Info("schedule executed", fields...)
	case errors.Is(err, ErrUnknownJob):
		s.log.Error("schedule references unknown job", append(fields, logger.Err(err))...)
	default:
		s.log.Warn("schedule execution failed", append(fields, logger.Err(err))...)
	}
	s.metrics.ObserveExecution(cfg.ID, err, exec.Duration)
	s.notify(exec)

	if s.refresh != nil {
		evt := events.Refresh{ScheduleID: cfg.ID, JobType: string(cfg.JobType), JobID: cfg.JobID, Timestamp: s.now().UTC()}
		if err != nil {
			evt.Error = err.Error()
		}
		s.refresh.Publish(evt)
	}
	return err
}

func (s *Scheduler) safeExecute(ctx context.Context, cfg ScheduleConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return s.exec.Execute(ctx, cfg)
}

func (s *Scheduler) notify(exec Execution) {
	s.mu.Lock()
	fns := make([]func(Execution), 0, len(s.listeners[exec.ScheduleID]))
	ids := make([]int, 0, len(s.listeners[exec.ScheduleID]))
	for lid := range s.listeners[exec.ScheduleID] {
		ids = append(ids, lid)
	}
	sort.Ints(ids)
	for _, lid := range ids {
		fns = append(fns, s.listeners[exec.ScheduleID][lid])
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(exec)
	}
}
