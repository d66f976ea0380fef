package storage

import "time"

type RunRecord struct {
	ID               string    `json:"id"`
	JobID            string    `json:"jobId"`
	Success          bool      `json:"success"`
	ProcessedRecords int       `json:"processedRecords"`
	Error            *string   `json:"error,omitempty"`
	StartedAt        time.Time `json:"startedAt"`
	DurationMS       int64     `json:"durationMs"`
}

type ExecutionRecord struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"scheduleId"`
	JobType    string    `json:"jobType"`
	JobID      string    `json:"jobId,omitempty"`
	Error      *string   `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executedAt"`
}
