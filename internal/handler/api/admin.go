package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/webitel/agent-event-bus/internal/domain/model"
)

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	entries, err := h.admin.GetDeadLetterEvents(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.DeadLetterEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) retryDeadLetter(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.RetryDeadLetterEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) clearDeadLetter(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.ClearDeadLetterEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) metrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.GetMetrics())
}

func (h *Handler) otelMetrics(w http.ResponseWriter, r *http.Request) {
	samples, err := h.telemetry.Snapshot(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.subscriber.Subscriptions(r.URL.Query().Get("subscriber_id")))
}

func (h *Handler) pauseSubscription(w http.ResponseWriter, r *http.Request) {
	h.subscriptionState(w, r, h.subscriber.Pause)
}

func (h *Handler) resumeSubscription(w http.ResponseWriter, r *http.Request) {
	h.subscriptionState(w, r, h.subscriber.Resume)
}

func (h *Handler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	h.subscriptionState(w, r, h.subscriber.Unsubscribe)
}

func (h *Handler) subscriptionState(w http.ResponseWriter, r *http.Request, apply func(string) error) {
	if err := apply(chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
