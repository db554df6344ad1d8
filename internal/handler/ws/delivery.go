package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/webitel/agent-event-bus/internal/domain/registry"
	"github.com/webitel/agent-event-bus/internal/handler/marshaller"
	wsmarshaller "github.com/webitel/agent-event-bus/internal/handler/marshaller/ws"
	"github.com/webitel/agent-event-bus/internal/service"
)

const writeWait = 10 * time.Second

type WSHandler struct {
	logger     *slog.Logger
	tapper     service.Tapper
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
}

func NewWSHandler(logger *slog.Logger, tapper service.Tapper, pingPeriod time.Duration) *WSHandler {
	if pingPeriod <= 0 {
		pingPeriod = 30 * time.Second
	}
	return &WSHandler{
		logger:     logger,
		tapper:     tapper,
		pingPeriod: pingPeriod,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
	}
}

// ServeHTTP streams events matching the query filter until either side
// goes away.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. PARSE FILTER BEFORE UPGRADING SO ERRORS STAY PLAIN HTTP
	f, err := marshaller.ParseFilter(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// 2. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", "error", err)
		return
	}
	defer ws.Close()

	// 3. OPEN THE TAP
	conn, err := h.tapper.Open(r.Context(), f, registry.ConnectMetadata{
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
			time.Now().Add(writeWait))
		return
	}
	defer h.tapper.Close(conn)

	hello, _ := wsmarshaller.MarshallConnected(marshaller.ConnectedPayload{
		ConnectionID:   conn.ID().String(),
		SubscriptionID: conn.SubscriptionID(),
		Filter:         f.String(),
	})
	if err := ws.WriteMessage(websocket.TextMessage, hello); err != nil {
		return
	}

	// [READ_PUMP] Control frames are only processed while reading.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.pingPeriod)
	defer ping.Stop()

	// 4. MAIN WS PUMP LOOP
	for {
		select {
		case <-closed:
			return
		case <-conn.Done():
			return
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev, ok := <-conn.Recv():
			if !ok {
				return
			}

			data, err := wsmarshaller.MarshallDeliveryEvent(ev)
			if err != nil {
				h.logger.Error("WS_MARSHAL_FAILED", "error", err, "event_id", ev.ID)
				continue
			}

			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("WS_SEND_FAILED", "error", err, "conn_id", conn.ID())
				return
			}
		}
	}
}
