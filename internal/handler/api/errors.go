package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/webitel/agent-event-bus/internal/bus"
	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/filter"
	"github.com/webitel/agent-event-bus/internal/domain/model"
	"github.com/webitel/agent-event-bus/internal/domain/registry"
	"github.com/webitel/agent-event-bus/internal/handler/marshaller"
	"github.com/webitel/agent-event-bus/internal/store"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusOf maps the bus error taxonomy onto HTTP.
func statusOf(err error) int {
	switch {
	case errors.Is(err, event.ErrInvalidEvent),
		errors.Is(err, filter.ErrInvalidFilter),
		errors.Is(err, marshaller.ErrBadQuery):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bus.ErrInFlight), errors.Is(err, registry.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, bus.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("API_REQUEST_FAILED", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
