package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dealsignal/internal/scheduler"
)

func (h *Handler) handleSchedulesList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Scheduler.Schedules())
}

func (h *Handler) handleScheduleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cfg, ok := h.Scheduler.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "schedule not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleScheduleSave(w http.ResponseWriter, r *http.Request) {
	var cfg scheduler.ScheduleConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Scheduler.AddSchedule(cfg); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleScheduleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.Scheduler.RemoveSchedule(id) {
		writeError(w, http.StatusNotFound, "schedule not found: "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleScheduleEnable(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := h.Scheduler.SetEnabled(id, enabled); err != nil {
			h.writeDomainError(w, err)
			return
		}
		cfg, _ := h.Scheduler.Get(id)
		writeJSON(w, http.StatusOK, cfg)
	}
}

// handleScheduleRun executes synchronously. A failing job still answers 200
// with ok=false; only lookup problems are HTTP errors.
func (h *Handler) handleScheduleRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.Scheduler.Get(id); !ok {
		writeError(w, http.StatusNotFound, "schedule not found: "+id)
		return
	}
	if err := h.Scheduler.RunNow(r.Context(), id); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.Scheduler.Start()
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

func (h *Handler) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.Scheduler.Stop()
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}
