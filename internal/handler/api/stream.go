package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"Chronos/internal/service/metrics"
	xlogger "Chronos/pkg/logger"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Stream pushes the latest status snapshot on every push interval. Unchanged
// snapshots are not resent.
func (h *StatusHandler) Stream(c echo.Context) error {
	symbol := c.QueryParam("symbol")
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("status stream upgrade failed", xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	metrics.StatusStreams.Inc()
	defer metrics.StatusStreams.Dec()

	// reader: handles pongs and notices when the client goes away
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request().Context()
	push := time.NewTicker(h.push)
	defer push.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var last time.Time
	send := func() error {
		snap, _, err := h.query.Status(ctx, symbol)
		if err != nil || snap.UpdatedAt.Equal(last) {
			return nil
		}
		last = snap.UpdatedAt
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(snap)
	}

	if err := send(); err != nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return nil
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-push.C:
			if err := send(); err != nil {
				h.logger.Debug("status stream closed", xlogger.Error(err))
				return nil
			}
		}
	}
}
