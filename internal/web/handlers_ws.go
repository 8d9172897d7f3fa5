package web

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/agent-radar/internal/resolver"
)

type wsStateMessage struct {
	Type     string                 `json:"type"` // state
	Sessions []resolver.SessionView `json:"sessions"`
	Time     time.Time              `json:"time"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

// handleStateWS streams session snapshots at the configured cadence
// until the client goes away or the server shuts down.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorized(r, true) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func() error {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(wsStateMessage{
			Type:     "state",
			Sessions: s.res.ListSessions(),
			Time:     time.Now().UTC(),
		})
	}
	if err := send(); err != nil {
		return
	}

	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
			if err := send(); err != nil {
				webLog.Debug("ws_client_gone", slog.String("error", err.Error()))
				return
			}
		}
	}
}
