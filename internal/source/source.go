// Package source defines the adapters that pull raw records from external
// systems and track their connection health.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dealsignal/internal/config"
)

type Record = map[string]any

type Kind string

const (
	KindAPI      Kind = config.KindAPI
	KindScraper  Kind = config.KindScraper
	KindDatabase Kind = config.KindDatabase
)

// ConnectionStatus is the last known health of an adapter. It is replaced
// wholesale on every check.
type ConnectionStatus struct {
	Connected          bool      `json:"connected"`
	LastCheck          time.Time `json:"lastCheck"`
	Error              string    `json:"error,omitempty"`
	RateLimitRemaining *int      `json:"rateLimitRemaining,omitempty"`
}

// Adapter is a data source that can be health-checked and fetched from.
type Adapter interface {
	ID() string
	Kind() Kind
	// CheckHealth never fails; problems are recorded in the returned status.
	CheckHealth(ctx context.Context) ConnectionStatus
	// Fetch performs a health check first when the last one is missing,
	// failed or stale.
	Fetch(ctx context.Context, endpointKey string, params map[string]string) ([]Record, error)
	// Status returns the last recorded status and whether one exists.
	Status() (ConnectionStatus, bool)
}

var (
	ErrNotConnected    = errors.New("source not connected")
	ErrUnknownEndpoint = errors.New("unknown endpoint")
)

type ConnectivityError struct {
	SourceID string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("source %s: not connected: %v", e.SourceID, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

func (e *ConnectivityError) Is(target error) bool { return target == ErrNotConnected }

type FetchError struct {
	SourceID string
	Endpoint string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("source %s: fetch %s: %v", e.SourceID, e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Limits struct {
	FetchTimeout time.Duration
	HealthTTL    time.Duration
	MaxRecords   int
}

func DefaultLimits() Limits {
	return Limits{
		FetchTimeout: 15 * time.Second,
		HealthTTL:    5 * time.Minute,
		MaxRecords:   1000,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.FetchTimeout <= 0 {
		l.FetchTimeout = d.FetchTimeout
	}
	if l.HealthTTL <= 0 {
		l.HealthTTL = d.HealthTTL
	}
	if l.MaxRecords <= 0 {
		l.MaxRecords = d.MaxRecords
	}
	return l
}
