package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AnshRaj112/techphono-security/internal/logging"
)

const (
	alertReadLimit  = 512
	alertPongWait   = 90 * time.Second
	alertPingPeriod = 30 * time.Second
	alertWriteWait  = 10 * time.Second
)

// alertConn bounds every hub write with a deadline.
type alertConn struct {
	*websocket.Conn
}

func (c alertConn) WriteJSON(v interface{}) error {
	c.SetWriteDeadline(time.Now().Add(alertWriteWait))
	return c.Conn.WriteJSON(v)
}

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range h.cfg.AllowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// AlertStream pushes security alerts to an admin over a websocket. The
// client sends nothing; reads only detect the close.
func (h *Handler) AlertStream(w http.ResponseWriter, r *http.Request) {
	up := h.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := h.engine.Alerts.Subscribe(ctx, alertConn{conn})
	defer h.engine.Alerts.Unsubscribe(sub)
	logging.Contextual(r.Context(), h.logger).Debug("alert stream opened", "subscribers", h.engine.Alerts.Len())

	conn.SetReadLimit(alertReadLimit)
	conn.SetReadDeadline(time.Now().Add(alertPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(alertPongWait))
		return nil
	})

	go func() {
		ticker := time.NewTicker(alertPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(alertWriteWait)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
