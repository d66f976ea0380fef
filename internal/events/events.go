// Package events carries typed in-process notifications between the
// scheduler, the ETL sinks and the notification engine.
package events

import "time"

// Refresh is published once per schedule execution after its job returns.
type Refresh struct {
	ScheduleID string    `json:"scheduleId"`
	JobType    string    `json:"jobType"`
	JobID      string    `json:"jobId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error,omitempty"`
}

// Signal is a normalized business event extracted from a pipeline output record.
type Signal struct {
	EntityID   string         `json:"entityId"`
	EntityName string         `json:"entityName"`
	Type       string         `json:"type"`
	Amount     float64        `json:"amount,omitempty"`
	Industry   string         `json:"industry,omitempty"`
	Region     string         `json:"region,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	SourceID   string         `json:"sourceId,omitempty"`
	JobID      string         `json:"jobId,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
