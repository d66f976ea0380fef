// Package api exposes pipeline status, schedule control and the
// notification inbox over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dealsignal/internal/etl"
	"dealsignal/internal/events"
	"dealsignal/internal/logger"
	"dealsignal/internal/notify"
	"dealsignal/internal/runner"
	"dealsignal/internal/scheduler"
	"dealsignal/internal/source"
	"dealsignal/internal/storage"
)

// HistoryReader is the read side of storage.Repository.
type HistoryReader interface {
	ListRuns(ctx context.Context, jobID string, limit int) ([]storage.RunRecord, error)
	ListExecutions(ctx context.Context, scheduleID string, limit int) ([]storage.ExecutionRecord, error)
}

type Handler struct {
	Scheduler     *scheduler.Scheduler
	Runner        *runner.Runner
	Notifications *notify.Engine
	Refreshes     *events.Recorder
	History       HistoryReader
	Metrics       http.Handler
	Log           logger.Logger
	Timeout       time.Duration
}

// Router builds the full route tree with the same middleware the services
// use.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	if h.Timeout > 0 {
		r.Use(middleware.Timeout(h.Timeout))
	}
	r.Get("/healthz", h.handleHealth)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}
	r.Route("/api/v1", h.RegisterRoutes)
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.handleStatus)

	r.Route("/sources", func(r chi.Router) {
		r.Get("/", h.handleSourcesList)
		r.Post("/{id}/health", h.handleSourceHealth)
		r.Get("/{id}/tables", h.handleSourceTables)
	})
	r.Route("/pipelines", func(r chi.Router) {
		r.Get("/", h.handlePipelinesList)
		r.Get("/{id}", h.handlePipelineGet)
		r.Post("/{id}/run", h.handlePipelineRun)
	})
	r.Route("/schedules", func(r chi.Router) {
		r.Get("/", h.handleSchedulesList)
		r.Post("/", h.handleScheduleSave)
		r.Get("/{id}", h.handleScheduleGet)
		r.Delete("/{id}", h.handleScheduleDelete)
		r.Post("/{id}/run", h.handleScheduleRun)
		r.Post("/{id}/enable", h.handleScheduleEnable(true))
		r.Post("/{id}/disable", h.handleScheduleEnable(false))
	})
	r.Post("/scheduler/start", h.handleSchedulerStart)
	r.Post("/scheduler/stop", h.handleSchedulerStop)

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.handleNotificationsList)
		r.Post("/", h.handleNotificationCreate)
		r.Delete("/", h.handleNotificationsClear)
		r.Post("/read-all", h.handleNotificationsReadAll)
		r.Post("/{id}/read", h.handleNotificationRead)
		r.Delete("/{id}", h.handleNotificationDelete)
	})
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.handleRulesList)
		r.Post("/", h.handleRuleSave)
		r.Get("/{id}", h.handleRuleGet)
		r.Put("/{id}", h.handleRuleSave)
		r.Delete("/{id}", h.handleRuleDelete)
	})
	r.Route("/channels", func(r chi.Router) {
		r.Get("/", h.handleChannelsList)
		r.Post("/", h.handleChannelSave)
		r.Get("/{id}", h.handleChannelGet)
		r.Put("/{id}", h.handleChannelSave)
		r.Delete("/{id}", h.handleChannelDelete)
	})
	r.Get("/deliveries", h.handleDeliveries)
	r.Get("/history/runs", h.handleHistoryRuns)
	r.Get("/history/executions", h.handleHistoryExecutions)
}

func (h *Handler) logger() logger.Logger {
	if h.Log == nil {
		return logger.NewNop()
	}
	return h.Log
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger().Debug("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDomainError maps sentinel and typed errors onto status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrScheduleNotFound),
		errors.Is(err, scheduler.ErrUnknownJob),
		errors.Is(err, source.ErrUnknownSource):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrInvalidSchedule), notify.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, etl.ErrJobRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger().Warn("request failed", logger.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
