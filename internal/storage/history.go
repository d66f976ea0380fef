package storage

import (
	"context"
	"time"

	"dealsignal/internal/etl"
	"dealsignal/internal/events"
	"dealsignal/internal/logger"
)

// Writer is the write side of Repository.
type Writer interface {
	RecordRun(ctx context.Context, rec RunRecord) (string, error)
	RecordExecution(ctx context.Context, rec ExecutionRecord) (string, error)
}

// History turns run results and refresh events into rows. Write failures
// are logged and never reach the caller.
type History struct {
	w       Writer
	log     logger.Logger
	timeout time.Duration
}

func NewHistory(w Writer, log logger.Logger) *History {
	if log == nil {
		log = logger.NewNop()
	}
	return &History{w: w, log: log, timeout: 5 * time.Second}
}

// ObserveRun has the shape of runner.RunObserver.
func (h *History) ObserveRun(job etl.JobConfig, res etl.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	rec := RunRecord{
		JobID:            job.ID,
		Success:          res.Success,
		ProcessedRecords: res.ProcessedCount,
		StartedAt:        time.Now().Add(-res.Duration).UTC(),
		DurationMS:       res.Duration.Milliseconds(),
	}
	if res.Error != nil {
		msg := res.Error.Error()
		rec.Error = &msg
	}
	if _, err := h.w.RecordRun(ctx, rec); err != nil {
		h.log.Warn("failed to record pipeline run", logger.String("job_id", job.ID), logger.Err(err))
	}
}

// ObserveRefresh is meant to be subscribed to the refresh bus.
func (h *History) ObserveRefresh(ev events.Refresh) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	rec := ExecutionRecord{
		ScheduleID: ev.ScheduleID,
		JobType:    ev.JobType,
		JobID:      ev.JobID,
		ExecutedAt: ev.Timestamp,
	}
	if ev.Error != "" {
		msg := ev.Error
		rec.Error = &msg
	}
	if _, err := h.w.RecordExecution(ctx, rec); err != nil {
		h.log.Warn("failed to record schedule execution", logger.String("schedule_id", ev.ScheduleID), logger.Err(err))
	}
}
