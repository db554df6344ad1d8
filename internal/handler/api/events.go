package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/handler/marshaller"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

type publishedBody struct {
	EventID string `json:"event_id"`
}

type batchItem struct {
	EventID string `json:"event_id"`
	Error   string `json:"error,omitempty"`
}

func (h *Handler) publishEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ev, err := event.Decode(raw)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	id, err := h.publisher.Publish(r.Context(), ev)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, publishedBody{EventID: id})
}

// publishBatch takes a JSON array of events and reports each outcome.
func (h *Handler) publishBatch(w http.ResponseWriter, r *http.Request) {
	var raws []json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&raws); err != nil {
		h.fail(w, r, &event.InvalidEventError{Reason: fmt.Sprintf("batch body: %v", err)})
		return
	}

	out := make([]batchItem, len(raws))
	events := make([]event.Event, 0, len(raws))
	index := make([]int, 0, len(raws))
	for i, raw := range raws {
		ev, err := event.Decode(raw)
		if err != nil {
			out[i] = batchItem{Error: err.Error()}
			continue
		}
		events = append(events, ev)
		index = append(index, i)
	}

	for j, res := range h.publisher.PublishBatch(r.Context(), events) {
		item := batchItem{EventID: res.EventID}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		out[index[j]] = item
	}
	writeJSON(w, http.StatusMultiStatus, out)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	c, err := marshaller.ParseCriteria(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	events, err := h.admin.GetEvents(r.Context(), c)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.admin.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// replayEvents takes the same criteria parameters as listEvents.
func (h *Handler) replayEvents(w http.ResponseWriter, r *http.Request) {
	c, err := marshaller.ParseCriteria(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.admin.ReplayEvents(r.Context(), c)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
