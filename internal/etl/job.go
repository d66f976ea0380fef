package etl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dealsignal/internal/logger"
)

var ErrJobRunning = errors.New("etl job already running")

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

const (
	progressExtracted = 10
	progressStepSpan  = 80
	progressDone      = 100
)

type RunStatus struct {
	Status           Status     `json:"status"`
	Progress         int        `json:"progress"`
	ProcessedRecords int        `json:"processedRecords"`
	LastRun          *time.Time `json:"lastRun,omitempty"`
	Error            string     `json:"error,omitempty"`
}

type JobConfig struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	SourceID        string            `json:"sourceId"`
	Endpoint        string            `json:"endpoint,omitempty"`
	Params          map[string]string `json:"params,omitempty"`
	Transformations []Transformation  `json:"-"`
	Destination     string            `json:"destination,omitempty"`
}

type Result struct {
	Success        bool
	ProcessedCount int
	Error          error
	Output         []Record
	Duration       time.Duration
}

// TransformError reports the step that failed a run.
type TransformError struct {
	JobID string
	Step  int
	Kind  string
	Err   error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("job %s step %d (%s): %v", e.JobID, e.Step, e.Kind, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// ProgressObserver sees every status transition of a job.
type ProgressObserver func(jobID string, status RunStatus)

type Job struct {
	cfg  JobConfig
	sink Sink
	log  logger.Logger
	now  func() time.Time

	mu        sync.Mutex
	status    RunStatus
	running   bool
	observers []ProgressObserver
}

func NewJob(cfg JobConfig, sink Sink, log logger.Logger) *Job {
	if sink == nil {
		sink = nopSink{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Job{
		cfg:    cfg,
		sink:   sink,
		log:    log.With(logger.String("job_id", cfg.ID)),
		now:    time.Now,
		status: RunStatus{Status: StatusIdle},
	}
}

func (j *Job) ID() string { return j.cfg.ID }

func (j *Job) Config() JobConfig { return j.cfg }

func (j *Job) Status() RunStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) Observe(fn ProgressObserver) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.observers = append(j.observers, fn)
}

// Run applies every transformation in order and loads the output. It is
// rejected with ErrJobRunning while another run of the same job is active.
func (j *Job) Run(ctx context.Context, records []Record) Result {
	start := j.now()
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return Result{Error: ErrJobRunning}
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	startedAt := start.UTC()
	j.update(func(s *RunStatus) {
		*s = RunStatus{Status: StatusRunning, LastRun: &startedAt}
	})
	j.log.Debug("pipeline run started", logger.Int("input_records", len(records)))

	if err := ctx.Err(); err != nil {
		return j.fail(err, start)
	}
	j.update(func(s *RunStatus) { s.Progress = progressExtracted })

	env := Env{JobID: j.cfg.ID, SourceID: j.cfg.SourceID, Now: start}
	current := records
	n := len(j.cfg.Transformations)
	for i, step := range j.cfg.Transformations {
		if err := ctx.Err(); err != nil {
			return j.fail(err, start)
		}
		out, err := applyStep(step, current, env)
		if err != nil {
			return j.fail(&TransformError{JobID: j.cfg.ID, Step: i, Kind: step.Kind(), Err: err}, start)
		}
		current = out
		progress := progressExtracted + progressStepSpan*(i+1)/n
		j.update(func(s *RunStatus) { s.Progress = progress })
	}

	if err := j.sink.Load(ctx, j.cfg, current); err != nil {
		return j.fail(fmt.Errorf("load output: %w", err), start)
	}

	j.update(func(s *RunStatus) {
		s.Status = StatusCompleted
		s.Progress = progressDone
		s.ProcessedRecords = len(current)
	})
	duration := j.now().Sub(start)
	j.log.Info("pipeline run completed",
		logger.Int("processed_records", len(current)),
		logger.Duration("duration", duration))
	return Result{Success: true, ProcessedCount: len(current), Output: current, Duration: duration}
}

func applyStep(step Transformation, records []Record, env Env) (out []Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return step.Apply(records, env)
}

func (j *Job) fail(err error, start time.Time) Result {
	j.update(func(s *RunStatus) {
		s.Status = StatusError
		s.ProcessedRecords = 0
		s.Error = err.Error()
	})
	j.log.Warn("pipeline run failed", logger.Err(err))
	return Result{Error: err, Duration: j.now().Sub(start)}
}

func (j *Job) update(fn func(*RunStatus)) {
	j.mu.Lock()
	fn(&j.status)
	snapshot := j.status
	observers := make([]ProgressObserver, len(j.observers))
	copy(observers, j.observers)
	j.mu.Unlock()
	for _, obs := range observers {
		obs(j.cfg.ID, snapshot)
	}
}
