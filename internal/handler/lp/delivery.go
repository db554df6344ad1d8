package lp

import (
	"net/http"
	"time"

	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/registry"
	"github.com/webitel/agent-event-bus/internal/handler/marshaller"
	lpmarshaller "github.com/webitel/agent-event-bus/internal/handler/marshaller/lp"
	"github.com/webitel/agent-event-bus/internal/service"
)

// maxBatch bounds how many buffered events one poll returns.
const maxBatch = 16

type LPHandler struct {
	tapper  service.Tapper
	timeout time.Duration
}

func NewLPHandler(tapper service.Tapper, timeout time.Duration) *LPHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LPHandler{
		tapper:  tapper,
		timeout: timeout,
	}
}

// Poll handles the long-polling request.
// It holds the connection until an event arrives or timeout occurs.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	// 1. Parse the filter; the "timeout" parameter may shorten the wait.
	f, err := marshaller.ParseFilter(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	timeout := h.timeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, "invalid timeout", http.StatusBadRequest)
			return
		}
		timeout = min(d, h.timeout)
	}

	// 2. Temporary Subscription.
	// The tap lives only for the duration of this HTTP request.
	conn, err := h.tapper.Open(r.Context(), f, registry.ConnectMetadata{
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}
	defer h.tapper.Close(conn)

	var events []event.Event

	// 3. Wait for data or timeout.
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.Context().Done():
		// Client disconnected.
		return

	case <-timer.C:
		// Standard Long-Polling timeout to prevent hanging connections.
		w.WriteHeader(http.StatusNoContent)
		return

	case ev, ok := <-conn.Recv():
		if !ok {
			return
		}
		events = append(events, ev)

		// Drain what is already buffered to save round trips.
	drainLoop:
		for len(events) < maxBatch {
			select {
			case next, ok := <-conn.Recv():
				if !ok {
					break drainLoop
				}
				events = append(events, next)
			default:
				break drainLoop
			}
		}
	}

	// 4. Final transmission.
	data, err := lpmarshaller.MarshallEvents(events, conn.Dropped())
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
