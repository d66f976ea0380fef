package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dealsignal/internal/etl"
	"dealsignal/internal/events"
	"dealsignal/internal/runner"
	"dealsignal/internal/scheduler"
	"dealsignal/internal/source"
)

type sourceView struct {
	ID        string                   `json:"id"`
	Kind      source.Kind              `json:"kind"`
	Status    *source.ConnectionStatus `json:"status,omitempty"`
	LastFetch *runner.FetchStat        `json:"lastFetch,omitempty"`
}

type pipelineView struct {
	ID     string        `json:"id"`
	Config etl.JobConfig `json:"config"`
	Status etl.RunStatus `json:"status"`
}

type statusResponse struct {
	Scheduler scheduler.Status `json:"scheduler"`
	Sources   []sourceView     `json:"sources"`
	Pipelines []pipelineView   `json:"pipelines"`
	Refreshes []events.Refresh `json:"refreshes"`
	Unread    int              `json:"unreadNotifications"`
}

func (h *Handler) sourceViews() []sourceView {
	fetches := h.Runner.Fetches()
	adapters := h.Runner.Sources().List()
	out := make([]sourceView, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, h.sourceView(a, fetches))
	}
	return out
}

func (h *Handler) sourceView(a source.Adapter, fetches map[string]runner.FetchStat) sourceView {
	v := sourceView{ID: a.ID(), Kind: a.Kind()}
	if st, ok := a.Status(); ok {
		v.Status = &st
	}
	if f, ok := fetches[a.ID()]; ok {
		v.LastFetch = &f
	}
	return v
}

func (h *Handler) pipelineViews() []pipelineView {
	jobs := h.Runner.Jobs()
	out := make([]pipelineView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, pipelineView{ID: j.ID(), Config: j.Config(), Status: j.Status()})
	}
	return out
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Scheduler: h.Scheduler.Status(),
		Sources:   h.sourceViews(),
		Pipelines: h.pipelineViews(),
		Refreshes: []events.Refresh{},
		Unread:    len(h.Notifications.Unread()),
	}
	if h.Refreshes != nil {
		resp.Refreshes = h.Refreshes.Recent()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSourcesList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sourceViews())
}

func (h *Handler) handleSourceHealth(w http.ResponseWriter, r *http.Request) {
	a, err := h.Runner.Sources().Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.CheckHealth(r.Context()))
}

func (h *Handler) handleSourceTables(w http.ResponseWriter, r *http.Request) {
	a, err := h.Runner.Sources().Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	db, ok := a.(*source.DatabaseConnector)
	if !ok {
		writeError(w, http.StatusBadRequest, "source "+a.ID()+" is not a database source")
		return
	}
	tables, err := db.Tables(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (h *Handler) handlePipelinesList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipelineViews())
}

func (h *Handler) handlePipelineGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, ok := h.Runner.Job(id)
	if !ok {
		writeError(w, http.StatusNotFound, "pipeline not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, pipelineView{ID: j.ID(), Config: j.Config(), Status: j.Status()})
}

type runResponse struct {
	Success        bool   `json:"success"`
	ProcessedCount int    `json:"processedCount"`
	DurationMS     int64  `json:"durationMs"`
	Error          string `json:"error,omitempty"`
}

func (h *Handler) handlePipelineRun(w http.ResponseWriter, r *http.Request) {
	res, err := h.Runner.RunJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil && (res.Error == nil || errors.Is(err, etl.ErrJobRunning)) {
		h.writeDomainError(w, err)
		return
	}
	resp := runResponse{Success: res.Success, ProcessedCount: res.ProcessedCount, DurationMS: res.Duration.Milliseconds()}
	if res.Error != nil {
		resp.Error = res.Error.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHistoryRuns(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	runs, err := h.History.ListRuns(r.Context(), r.URL.Query().Get("jobId"), queryInt(r, "limit", 50))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleHistoryExecutions(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	execs, err := h.History.ListExecutions(r.Context(), r.URL.Query().Get("scheduleId"), queryInt(r, "limit", 50))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}
