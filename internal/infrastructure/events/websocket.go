package events

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"nearcast/internal/core/domain"
)

// StreamHandler upgrades API clients to websocket and streams hub events to
// them. Clients may narrow the stream with ?types=session.started,... and
// send nothing back; the read side only detects closure.
type StreamHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

func NewStreamHandler(hub *Hub, allowedOrigins []string, logger *zap.SugaredLogger) *StreamHandler {
	return &StreamHandler{
		hub:          hub,
		upgrader:     newUpgrader(allowedOrigins),
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// newUpgrader enforces the configured origin allowlist. Requests without an
// Origin header come from non-browser clients and pass.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SetPingInterval overrides the keepalive ping cadence.
func (h *StreamHandler) SetPingInterval(interval time.Duration) {
	h.pingInterval = interval
}

func (h *StreamHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	types := parseEventTypes(r.URL.Query().Get("types"))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	eventsCh := h.hub.Subscribe(ctx, types...)

	h.logger.Infow("event stream subscriber connected",
		"remote", conn.RemoteAddr().String(),
		"types", len(types),
	)

	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	errorChan := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		}
	}()

	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debugw("event stream write failed", "error", err)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("event stream read failed", "error", err)
			}
			return
		}
	}
}

func parseEventTypes(raw string) []domain.EventType {
	if raw == "" {
		return nil
	}
	var types []domain.EventType
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			types = append(types, domain.EventType(part))
		}
	}
	return types
}
