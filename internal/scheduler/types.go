package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidSchedule  = errors.New("invalid schedule")
	// ErrUnknownJob is returned by executors when a schedule names a job or
	// source that does not exist.
	ErrUnknownJob = errors.New("unknown job")
)

type JobType string

const (
	JobTypeAPI      JobType = "api"
	JobTypeScraper  JobType = "scraper"
	JobTypeDatabase JobType = "database"
	JobTypeETL      JobType = "etl"
	JobTypeAll      JobType = "all"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeAPI, JobTypeScraper, JobTypeDatabase, JobTypeETL, JobTypeAll:
		return true
	}
	return false
}

type Frequency string

const (
	Hourly Frequency = "hourly"
	Daily  Frequency = "daily"
	Weekly Frequency = "weekly"
)

var frequencies = []Frequency{Hourly, Daily, Weekly}

func (f Frequency) Valid() bool {
	for _, known := range frequencies {
		if f == known {
			return true
		}
	}
	return false
}

type ScheduleConfig struct {
	ID        string    `json:"id"`
	JobType   JobType   `json:"jobType"`
	JobID     string    `json:"jobId,omitempty"`
	Frequency Frequency `json:"frequency"`
	Enabled   bool      `json:"enabled"`
}

func (c ScheduleConfig) Validate() error {
	var problems []string
	if strings.TrimSpace(c.ID) == "" {
		problems = append(problems, "id is required")
	}
	if !c.JobType.Valid() {
		problems = append(problems, fmt.Sprintf("jobType %q is invalid", c.JobType))
	}
	if c.JobType == JobTypeAll && c.JobID != "" {
		problems = append(problems, "jobId must be empty for jobType all")
	}
	if !c.Frequency.Valid() {
		problems = append(problems, fmt.Sprintf("frequency %q is invalid", c.Frequency))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidSchedule, c.ID, strings.Join(problems, "; "))
	}
	return nil
}

type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerManual Trigger = "manual"
)

// Execution describes one finished run of a schedule's job.
type Execution struct {
	ScheduleID string
	Trigger    Trigger
	StartedAt  time.Time
	Duration   time.Duration
	Err        error
}

type Status struct {
	Running       bool `json:"running"`
	ScheduleCount int  `json:"scheduleCount"`
	ActiveTimers  int  `json:"activeTimers"`
}
