// Package runner executes schedules by fetching from source adapters and
// running the ETL jobs bound to them.
package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"dealsignal/internal/config"
	"dealsignal/internal/etl"
	"dealsignal/internal/events"
	"dealsignal/internal/logger"
	"dealsignal/internal/scheduler"
	"dealsignal/internal/source"
)

// FetchStat is the outcome of the latest fetch from one source.
type FetchStat struct {
	SourceID string    `json:"sourceId"`
	Endpoint string    `json:"endpoint"`
	Records  int       `json:"records"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// RunObserver is called after every ETL job run.
type RunObserver func(job etl.JobConfig, res etl.Result)

type Runner struct {
	sources   *source.Registry
	endpoints map[string]string
	log       logger.Logger
	now       func() time.Time

	jobs  map[string]*etl.Job
	order []string

	mu        sync.RWMutex
	fetches   map[string]FetchStat
	observers []RunObserver
}

// New binds adapters and jobs. Each source's default endpoint is its first
// endpoint key in sorted order.
func New(sources *source.Registry, sourceCfgs []config.SourceConfig, jobs []*etl.Job, log logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Runner{
		sources:   sources,
		endpoints: make(map[string]string, len(sourceCfgs)),
		log:       log,
		now:       time.Now,
		jobs:      make(map[string]*etl.Job, len(jobs)),
		fetches:   make(map[string]FetchStat),
	}
	for _, cfg := range sourceCfgs {
		if keys := cfg.EndpointKeys(); len(keys) > 0 {
			r.endpoints[cfg.ID] = keys[0]
		}
	}
	for _, j := range jobs {
		r.jobs[j.ID()] = j
		r.order = append(r.order, j.ID())
	}
	sort.Strings(r.order)
	return r
}

// BuildJobs creates one etl.Job per definition with the sink its
// destination names.
func BuildJobs(cfgs []etl.JobConfig, signals *events.Bus[events.Signal], log logger.Logger) ([]*etl.Job, error) {
	jobs := make([]*etl.Job, 0, len(cfgs))
	for _, cfg := range cfgs {
		sink, err := etl.NewSink(cfg.Destination, signals, log)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", cfg.ID, err)
		}
		jobs = append(jobs, etl.NewJob(cfg, sink, log))
	}
	return jobs, nil
}

func (r *Runner) OnRun(fn RunObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *Runner) Job(id string) (*etl.Job, bool) {
	j, ok := r.jobs[id]
	return j, ok
}

// Jobs returns every job ordered by id.
func (r *Runner) Jobs() []*etl.Job {
	out := make([]*etl.Job, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.jobs[id])
	}
	return out
}

func (r *Runner) Statuses() map[string]etl.RunStatus {
	out := make(map[string]etl.RunStatus, len(r.jobs))
	for id, j := range r.jobs {
		out[id] = j.Status()
	}
	return out
}

func (r *Runner) Fetches() map[string]FetchStat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]FetchStat, len(r.fetches))
	for k, v := range r.fetches {
		out[k] = v
	}
	return out
}

func (r *Runner) Sources() *source.Registry { return r.sources }

// Execute implements scheduler.Executor.
func (r *Runner) Execute(ctx context.Context, cfg scheduler.ScheduleConfig) error {
	switch cfg.JobType {
	case scheduler.JobTypeAPI, scheduler.JobTypeScraper, scheduler.JobTypeDatabase:
		return r.executeSources(ctx, source.Kind(cfg.JobType), cfg.JobID)
	case scheduler.JobTypeETL:
		if cfg.JobID != "" {
			_, err := r.RunJob(ctx, cfg.JobID)
			return err
		}
		return r.runJobs(ctx, r.order)
	case scheduler.JobTypeAll:
		return r.executeAll(ctx)
	default:
		return fmt.Errorf("%w: job type %q", scheduler.ErrUnknownJob, cfg.JobType)
	}
}

func (r *Runner) executeSources(ctx context.Context, kind source.Kind, id string) error {
	if id != "" {
		a, err := r.sources.Get(id)
		if err != nil || a.Kind() != kind {
			return fmt.Errorf("%w: %s source %q", scheduler.ErrUnknownJob, kind, id)
		}
		_, err = r.fetch(ctx, a, "", nil)
		return err
	}
	var result *multierror.Error
	for _, a := range r.sources.ByKind(kind) {
		if _, err := r.fetch(ctx, a, "", nil); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (r *Runner) executeAll(ctx context.Context) error {
	var result *multierror.Error
	if err := r.runJobs(ctx, r.order); err != nil {
		result = multierror.Append(result, err)
	}
	bound := make(map[string]bool, len(r.jobs))
	for _, j := range r.jobs {
		bound[j.Config().SourceID] = true
	}
	for _, a := range r.sources.List() {
		if bound[a.ID()] {
			continue
		}
		if _, err := r.fetch(ctx, a, "", nil); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (r *Runner) runJobs(ctx context.Context, ids []string) error {
	var result *multierror.Error
	for _, id := range ids {
		if ctx.Err() != nil {
			return multierror.Append(result, ctx.Err()).ErrorOrNil()
		}
		if _, err := r.RunJob(ctx, id); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// RunJob fetches the job's source endpoint and runs the job over the
// records. A failed fetch leaves the job untouched.
func (r *Runner) RunJob(ctx context.Context, id string) (etl.Result, error) {
	job, ok := r.jobs[id]
	if !ok {
		return etl.Result{}, fmt.Errorf("%w: etl job %q", scheduler.ErrUnknownJob, id)
	}
	cfg := job.Config()
	a, err := r.sources.Get(cfg.SourceID)
	if err != nil {
		return etl.Result{}, fmt.Errorf("%w: job %s source %q", scheduler.ErrUnknownJob, id, cfg.SourceID)
	}
	records, err := r.fetch(ctx, a, cfg.Endpoint, cfg.Params)
	if err != nil {
		return etl.Result{}, fmt.Errorf("job %s: %w", id, err)
	}
	res := job.Run(ctx, records)
	r.mu.RLock()
	observers := append([]RunObserver(nil), r.observers...)
	r.mu.RUnlock()
	for _, fn := range observers {
		fn(cfg, res)
	}
	if res.Error != nil {
		return res, fmt.Errorf("job %s: %w", id, res.Error)
	}
	r.log.Info("etl job completed",
		logger.String("job_id", id),
		logger.Int("processed", res.ProcessedCount),
		logger.Duration("duration", res.Duration))
	return res, nil
}

// Fetch pulls records from one source, using its default endpoint when
// endpoint is empty.
func (r *Runner) Fetch(ctx context.Context, sourceID, endpoint string, params map[string]string) ([]source.Record, error) {
	a, err := r.sources.Get(sourceID)
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, a, endpoint, params)
}

func (r *Runner) fetch(ctx context.Context, a source.Adapter, endpoint string, params map[string]string) ([]source.Record, error) {
	if endpoint == "" {
		endpoint = r.endpoints[a.ID()]
	}
	records, err := a.Fetch(ctx, endpoint, params)
	stat := FetchStat{SourceID: a.ID(), Endpoint: endpoint, Records: len(records), At: r.now()}
	if err != nil {
		stat.Error = err.Error()
	}
	r.mu.Lock()
	r.fetches[a.ID()] = stat
	r.mu.Unlock()
	return records, err
}
