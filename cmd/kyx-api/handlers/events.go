package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/cmd/kyx-api/service"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/events"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/middleware"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventsHandler streams build events to the game owner
type EventsHandler struct {
	games *service.GameService
	feed  events.Subscriber
	log   *logger.Logger
}

// NewEventsHandler creates a new events handler; feed may be nil
func NewEventsHandler(games *service.GameService, feed events.Subscriber, log *logger.Logger) *EventsHandler {
	return &EventsHandler{games: games, feed: feed, log: log}
}

// Stream upgrades to a websocket and forwards one JSON frame per event
// GET /api/v1/games/:id/build/events
func (h *EventsHandler) Stream(c echo.Context) error {
	id, err := gameID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if _, err := h.games.Get(c.Request().Context(), id, middleware.GetUserID(c)); err != nil {
		return respondError(c, h.log, err)
	}
	if h.feed == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "events_unavailable", "build events are not enabled")
	}

	ctx := c.Request().Context()
	sub, err := h.feed.Subscribe(ctx, id.String())
	if err != nil {
		h.log.Error("failed to subscribe to build events", "game_id", id, "error", err)
		return errorJSON(c, http.StatusServiceUnavailable, "events_unavailable", "build events are not available")
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "game_id", id, "error", err)
		return nil
	}
	defer conn.Close()

	log := h.log.WithGameID(id.String())
	log.Debug("build event stream opened", "remote", c.RealIP())

	closed := make(chan struct{})
	go readPump(conn, closed, log)
	writePump(conn, sub, closed, log)

	log.Debug("build event stream closed")
	return nil
}

// readPump discards client frames and signals when the peer goes away
func readPump(conn *websocket.Conn, closed chan<- struct{}, log *logger.Logger) {
	defer close(closed)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("websocket read error", "error", err)
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub events.Subscription, closed <-chan struct{}, log *logger.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return

		case ev, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "event feed closed"))
				return
			}
			body, err := json.Marshal(ev)
			if err != nil {
				log.Error("failed to encode build event", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
