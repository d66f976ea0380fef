package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"dealsignal/internal/notify"
)

func (h *Handler) handleNotificationsList(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("unread") == "true" {
		writeJSON(w, http.StatusOK, h.Notifications.Unread())
		return
	}
	writeJSON(w, http.StatusOK, h.Notifications.Notifications())
}

func (h *Handler) handleNotificationCreate(w http.ResponseWriter, r *http.Request) {
	var in notify.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if in.Type == "" {
		in.Type = notify.TypeInfo
	}
	if !in.Type.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("type %q is invalid", in.Type))
		return
	}
	writeJSON(w, http.StatusCreated, h.Notifications.Add(r.Context(), in))
}

func (h *Handler) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.Notifications.MarkAsRead(id) {
		writeError(w, http.StatusNotFound, "notification not found: "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNotificationsReadAll(w http.ResponseWriter, r *http.Request) {
	h.Notifications.MarkAllAsRead()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNotificationDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.Notifications.Delete(id) {
		writeError(w, http.StatusNotFound, "notification not found: "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNotificationsClear(w http.ResponseWriter, r *http.Request) {
	h.Notifications.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Notifications.Deliveries())
}

func (h *Handler) handleRulesList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Notifications.Rules())
}

func (h *Handler) handleRuleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, ok := h.Notifications.Rule(id)
	if !ok {
		writeError(w, http.StatusNotFound, "rule not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleRuleSave serves both POST (create) and PUT /{id} (replace). The URL
// id wins over the body.
func (h *Handler) handleRuleSave(w http.ResponseWriter, r *http.Request) {
	var rule notify.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		rule.ID = id
	}
	saved, err := h.Notifications.SaveRule(rule)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) handleRuleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.Notifications.DeleteRule(id) {
		writeError(w, http.StatusNotFound, "rule not found: "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChannelsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Notifications.Channels())
}

func (h *Handler) handleChannelGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ch, ok := h.Notifications.Channel(id)
	if !ok {
		writeError(w, http.StatusNotFound, "channel not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *Handler) handleChannelSave(w http.ResponseWriter, r *http.Request) {
	var ch notify.Channel
	if err := decodeJSON(r, &ch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		ch.ID = id
	}
	saved, err := h.Notifications.SaveChannel(ch)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) handleChannelDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.Notifications.DeleteChannel(id) {
		writeError(w, http.StatusNotFound, "channel not found: "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
