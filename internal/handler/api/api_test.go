package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/agent-event-bus/internal/bus"
	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/filter"
	"github.com/webitel/agent-event-bus/internal/domain/model"
	"github.com/webitel/agent-event-bus/internal/domain/registry"
	"github.com/webitel/agent-event-bus/internal/handler/lp"
	"github.com/webitel/agent-event-bus/internal/handler/marshaller"
	lpmarshaller "github.com/webitel/agent-event-bus/internal/handler/marshaller/lp"
	"github.com/webitel/agent-event-bus/internal/handler/ws"
	"github.com/webitel/agent-event-bus/internal/service"
	"github.com/webitel/agent-event-bus/internal/store"
)

type testAPI struct {
	srv *httptest.Server
	bus *bus.Bus
	hub *registry.Hub
}

func newTestAPI(t *testing.T, s store.Store, opts ...bus.Option) *testAPI {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	if s == nil {
		s = store.NewMemory()
	}

	hub := registry.NewHub(logger)
	opts = append([]bus.Option{bus.WithBaseBackoff(time.Millisecond)}, opts...)
	b, err := bus.New(s, hub, logger, opts...)
	require.NoError(t, err)

	taps := service.NewTapService(hub, 16, 10*time.Millisecond, logger)
	h := NewHandler(b,
		service.NewPublisher(b, "admin-api"),
		service.NewSubscriber(hub, "admin-api"),
		nil,
		ws.NewWSHandler(logger, taps, time.Second),
		lp.NewLPHandler(taps, time.Second),
		logger,
	)

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, bus: b, hub: hub}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

const reserveInventory = `{
	"event_type": "command",
	"event_name": "reserve_inventory",
	"source": "planner",
	"target": "inventory_agent",
	"priority": "high",
	"payload": {"command_name": "reserve_inventory", "parameters": {"sku": "A1", "qty": 2}}
}`

func TestEvents_PublishAndGet(t *testing.T) {
	a := newTestAPI(t, nil)

	resp := a.do(t, http.MethodPost, "/v1/events", reserveInventory)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := decode[publishedBody](t, resp).EventID
	require.NotEmpty(t, id)

	resp = a.do(t, http.MethodGet, "/v1/events/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ev := decode[event.Event](t, resp)
	assert.Equal(t, id, ev.ID)
	assert.Equal(t, event.Command, ev.Type)
	assert.Equal(t, event.PriorityHigh, ev.Priority)
	assert.Equal(t, "inventory_agent", ev.Target)
	p := ev.Payload.(*event.CommandPayload)
	assert.Equal(t, "A1", p.Parameters["sku"])

	resp = a.do(t, http.MethodGet, "/v1/events?type=command&name=reserve_inventory&limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]event.Event](t, resp), 1)

	resp = a.do(t, http.MethodGet, "/v1/events?type=bogus", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/v1/events/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvents_PublishRejectsInvalid(t *testing.T) {
	a := newTestAPI(t, nil)

	resp := a.do(t, http.MethodPost, "/v1/events", `{"event_type": "command", "event_name": "x", "source": "a", "payload": {}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[errorBody](t, resp).Error, "command_name")

	resp = a.do(t, http.MethodPost, "/v1/events", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEvents_PublishStoreUnavailable(t *testing.T) {
	s := store.NewMemory()
	require.NoError(t, s.Close())
	a := newTestAPI(t, s)

	resp := a.do(t, http.MethodPost, "/v1/events", reserveInventory)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEvents_Batch(t *testing.T) {
	a := newTestAPI(t, nil)

	body := `[` + reserveInventory + `,
		{"event_type": "query", "event_name": "q", "source": "a", "payload": {}},
		{"event_type": "notification", "event_name": "n", "source": "a", "payload": {"data": {}}}
	]`
	resp := a.do(t, http.MethodPost, "/v1/events/batch", body)
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	items := decode[[]batchItem](t, resp)
	require.Len(t, items, 3)
	assert.Empty(t, items[0].Error)
	assert.Contains(t, items[1].Error, "query_name")
	assert.Empty(t, items[2].Error)
	assert.NotEmpty(t, items[2].EventID)
}

func TestDeadLetters(t *testing.T) {
	a := newTestAPI(t, nil, bus.WithMaxRetries(0))

	_, err := a.hub.Register("inventory_agent", filter.All(), registry.HandlerFunc(func(context.Context, event.Event) error {
		return errors.New("inventory down")
	}), 0)
	require.NoError(t, err)

	resp := a.do(t, http.MethodPost, "/v1/events", reserveInventory)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := decode[publishedBody](t, resp).EventID

	require.Eventually(t, func() bool {
		entries, err := a.bus.GetDeadLetterEvents(context.Background())
		return err == nil && len(entries) == 1 && a.bus.GetMetrics().InFlightEvents == 0
	}, 2*time.Second, time.Millisecond)

	resp = a.do(t, http.MethodGet, "/v1/deadletters", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]model.DeadLetterEntry](t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].Event.ID)
	assert.Contains(t, entries[0].LastError, "inventory down")

	resp = a.do(t, http.MethodPost, "/v1/deadletters/unknown/retry", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = a.do(t, http.MethodDelete, "/v1/deadletters/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/v1/deadletters/"+id+"/retry", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsAndSubscriptions(t *testing.T) {
	a := newTestAPI(t, nil)

	sub, err := a.hub.Register("inventory_agent", filter.Target{"inventory_agent"}, registry.HandlerFunc(func(context.Context, event.Event) error {
		return nil
	}), 2)
	require.NoError(t, err)

	resp := a.do(t, http.MethodPost, "/v1/events", reserveInventory)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		return a.bus.GetMetrics().Completed == 1
	}, 2*time.Second, time.Millisecond)

	resp = a.do(t, http.MethodGet, "/v1/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode[model.Metrics](t, resp)
	assert.EqualValues(t, 1, m.EventsPublished)
	assert.Contains(t, m.Subscriptions, sub.ID)

	resp = a.do(t, http.MethodGet, "/v1/subscriptions?subscriber_id=inventory_agent", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	subs := decode[[]model.SubscriptionInfo](t, resp)
	require.Len(t, subs, 1)
	assert.Equal(t, "target[inventory_agent]", subs[0].Filter)

	resp = a.do(t, http.MethodPost, "/v1/subscriptions/"+sub.ID+"/pause", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, registry.StatePaused, sub.State())

	resp = a.do(t, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = a.do(t, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/v1/subscriptions/"+sub.ID+"/resume", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/v1/subscriptions/nope/pause", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// waitForTap blocks until a tap subscription is registered.
func waitForTap(t *testing.T, hub *registry.Hub) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, s := range hub.List("") {
			if strings.HasPrefix(s.SubscriberID, "tap:") && s.State == "active" {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)
}

func TestLongPoll(t *testing.T) {
	a := newTestAPI(t, nil)

	resp := a.do(t, http.MethodGet, "/v1/taps/poll?timeout=10ms", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/v1/taps/poll?min_priority=urgent", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	done := make(chan *http.Response, 1)
	go func() {
		r, err := http.Get(a.srv.URL + "/v1/taps/poll?type=command")
		if err == nil {
			done <- r
		}
		close(done)
	}()
	waitForTap(t, a.hub)

	pub := a.do(t, http.MethodPost, "/v1/events", reserveInventory)
	id := decode[publishedBody](t, pub).EventID

	select {
	case r, ok := <-done:
		require.True(t, ok, "poll request failed")
		defer r.Body.Close()
		require.Equal(t, http.StatusOK, r.StatusCode)
		body := decode[lpmarshaller.Response](t, r)
		require.Len(t, body.Events, 1)
		assert.Equal(t, id, body.Events[0].ID)
		assert.Equal(t, marshaller.KindEvent, body.Events[0].Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("poll never returned")
	}
}

func TestWebsocketTap(t *testing.T) {
	a := newTestAPI(t, nil)

	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/v1/taps/ws?target=inventory_agent"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello marshaller.Frame
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, marshaller.KindConnected, hello.Kind)

	pub := a.do(t, http.MethodPost, "/v1/events", reserveInventory)
	id := decode[publishedBody](t, pub).EventID

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame struct {
		Kind    string          `json:"kind"`
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, marshaller.KindEvent, frame.Kind)
	assert.Equal(t, id, frame.ID)

	ev, err := event.Decode(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, "reserve_inventory", ev.Name)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(bus.ErrClosed))
	assert.Equal(t, http.StatusConflict, statusOf(bus.ErrInFlight))
	assert.Equal(t, http.StatusInternalServerError, statusOf(io.ErrUnexpectedEOF))
}
