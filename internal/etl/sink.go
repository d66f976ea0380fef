package etl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dealsignal/internal/events"
	"dealsignal/internal/logger"
)

const (
	DestinationSignals = "signals"
	DestinationLog     = "log"
	DestinationNone    = "none"
)

// Sink receives the output of a successful run.
type Sink interface {
	Load(ctx context.Context, job JobConfig, records []Record) error
}

type SignalSink struct {
	bus *events.Bus[events.Signal]
	now func() time.Time
}

func NewSignalSink(bus *events.Bus[events.Signal]) *SignalSink {
	return &SignalSink{bus: bus, now: time.Now}
}

// Load publishes every record or none of them. Cancellation is only
// observed before the first publish.
func (s *SignalSink) Load(ctx context.Context, job JobConfig, records []Record) error {
	now := s.now()
	signals := make([]events.Signal, len(records))
	for i, rec := range records {
		signals[i] = ExtractSignal(rec, job, now)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, sig := range signals {
		s.bus.Publish(sig)
	}
	return nil
}

type LogSink struct {
	log logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Load(_ context.Context, job JobConfig, records []Record) error {
	s.log.Info("pipeline output", logger.String("job_id", job.ID), logger.Int("records", len(records)))
	return nil
}

type nopSink struct{}

func (nopSink) Load(context.Context, JobConfig, []Record) error { return nil }

// NewSink picks the sink for a job destination. Empty means signals.
func NewSink(destination string, bus *events.Bus[events.Signal], log logger.Logger) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(destination)) {
	case "", DestinationSignals:
		if bus == nil {
			return nil, fmt.Errorf("destination %q requires a signal bus", DestinationSignals)
		}
		return NewSignalSink(bus), nil
	case DestinationLog:
		return NewLogSink(log), nil
	case DestinationNone:
		return nopSink{}, nil
	default:
		return nil, fmt.Errorf("unknown destination %q", destination)
	}
}

// ValidDestination reports whether NewSink accepts destination.
func ValidDestination(destination string) bool {
	switch strings.ToLower(strings.TrimSpace(destination)) {
	case "", DestinationSignals, DestinationLog, DestinationNone:
		return true
	}
	return false
}

// ExtractSignal maps a normalized record onto a Signal. Missing fields stay zero.
func ExtractSignal(rec Record, job JobConfig, now time.Time) events.Signal {
	sig := events.Signal{
		EntityID:   firstString(rec, "companyId", "entityId", "id"),
		EntityName: firstString(rec, "companyName", "name"),
		Type:       firstString(rec, "type"),
		Industry:   firstString(rec, "industry"),
		Region:     firstString(rec, "region"),
		Fields:     copyRecord(rec),
		SourceID:   job.SourceID,
		JobID:      job.ID,
		Timestamp:  now.UTC(),
	}
	if v, ok := rec["amount"]; ok && v != nil {
		if amount, err := ParseAmount(v); err == nil {
			sig.Amount = amount
		}
	}
	for _, key := range []string{"date", "timestamp"} {
		if v, ok := rec[key]; ok && v != nil {
			if ts, err := ParseDate(v); err == nil {
				sig.Timestamp = ts.UTC()
				break
			}
		}
	}
	return sig
}

func firstString(rec Record, keys ...string) string {
	for _, key := range keys {
		if v, ok := rec[key]; ok && v != nil {
			if s := stringValue(v); s != "" {
				return s
			}
		}
	}
	return ""
}
