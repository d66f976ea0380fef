package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dealsignal/internal/logger"
)

// pingFunc checks reachability and may report a remaining rate limit.
type pingFunc func(ctx context.Context) (*int, error)

type fetchFunc func(ctx context.Context) ([]Record, error)

// StatusObserver is told about every status change, e.g. to export gauges.
type StatusObserver func(sourceID string, status ConnectionStatus)

// healthTracker holds the single-writer status shared by every adapter kind.
type healthTracker struct {
	id       string
	kind     Kind
	limits   Limits
	log      logger.Logger
	now      func() time.Time
	observer StatusObserver

	mu      sync.RWMutex
	status  ConnectionStatus
	checked bool
}

func newHealthTracker(id string, kind Kind, limits Limits, log logger.Logger) *healthTracker {
	if log == nil {
		log = logger.NewNop()
	}
	return &healthTracker{
		id:     id,
		kind:   kind,
		limits: limits.withDefaults(),
		log:    log.With(logger.String("source_id", id), logger.String("source_kind", string(kind))),
		now:    time.Now,
	}
}

func (h *healthTracker) ID() string { return h.id }

func (h *healthTracker) Kind() Kind { return h.kind }

func (h *healthTracker) Status() (ConnectionStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status, h.checked
}

// SetStatusObserver must be called before the adapter is used.
func (h *healthTracker) SetStatusObserver(fn StatusObserver) {
	h.observer = fn
}

func (h *healthTracker) setStatus(st ConnectionStatus) {
	h.mu.Lock()
	h.status = st
	h.checked = true
	h.mu.Unlock()
	if h.observer != nil {
		h.observer(h.id, st)
	}
}

func (h *healthTracker) needsCheck() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.checked || !h.status.Connected {
		return true
	}
	return h.now().Sub(h.status.LastCheck) > h.limits.HealthTTL
}

func (h *healthTracker) markFailed(err error) {
	h.mu.RLock()
	st := h.status
	h.mu.RUnlock()
	st.Connected = false
	st.Error = err.Error()
	st.LastCheck = h.now()
	h.setStatus(st)
}

func (h *healthTracker) updateRateLimit(remaining *int) {
	if remaining == nil {
		return
	}
	h.mu.Lock()
	h.status.RateLimitRemaining = remaining
	st := h.status
	h.mu.Unlock()
	if h.observer != nil {
		h.observer(h.id, st)
	}
}

func (h *healthTracker) checkHealth(ctx context.Context, ping pingFunc) ConnectionStatus {
	ctx, cancel := context.WithTimeout(ctx, h.limits.FetchTimeout)
	defer cancel()
	remaining, err := safePing(ctx, ping)
	st := ConnectionStatus{Connected: err == nil, LastCheck: h.now(), RateLimitRemaining: remaining}
	if err != nil {
		st.Error = err.Error()
		h.log.Warn("source health check failed", logger.Err(err))
	} else {
		h.log.Debug("source healthy")
	}
	h.setStatus(st)
	return st
}

func (h *healthTracker) fetch(ctx context.Context, endpointKey string, ping pingFunc, fetch fetchFunc) ([]Record, error) {
	if h.needsCheck() {
		if st := h.checkHealth(ctx, ping); !st.Connected {
			return nil, &ConnectivityError{SourceID: h.id, Err: errors.New(st.Error)}
		}
	}
	fctx, cancel := context.WithTimeout(ctx, h.limits.FetchTimeout)
	defer cancel()
	records, err := safeFetch(fctx, fetch)
	if err != nil {
		h.markFailed(err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &ConnectivityError{SourceID: h.id, Err: err}
		}
		return nil, &FetchError{SourceID: h.id, Endpoint: endpointKey, Err: err}
	}
	if len(records) > h.limits.MaxRecords {
		h.log.Warn("fetch truncated",
			logger.String("endpoint", endpointKey),
			logger.Int("records", len(records)),
			logger.Int("max_records", h.limits.MaxRecords))
		records = records[:h.limits.MaxRecords]
	}
	h.log.Debug("fetch completed", logger.String("endpoint", endpointKey), logger.Int("records", len(records)))
	return records, nil
}

func safePing(ctx context.Context, ping pingFunc) (remaining *int, err error) {
	defer func() {
		if r := recover(); r != nil {
			remaining, err = nil, fmt.Errorf("health check panic: %v", r)
		}
	}()
	return ping(ctx)
}

func safeFetch(ctx context.Context, fetch fetchFunc) (records []Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			records, err = nil, fmt.Errorf("fetch panic: %v", r)
		}
	}()
	return fetch(ctx)
}
