package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/http/middleware"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/http/response"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/observability"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/realtime"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/security"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/service"
)

// WSHandler is the gateway between the HTTP surface and the delivery core.
// Authorization happens on the plain HTTP request, before the upgrade, so a
// rejected client gets a regular 401 envelope instead of a dropped socket.
type WSHandler struct {
	gate     *service.AuthGate
	presence *realtime.PresenceManager
	relay    realtime.Relay
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(gate *service.AuthGate, presence *realtime.PresenceManager, relay realtime.Relay, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		gate:     gate,
		presence: presence,
		relay:    relay,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is enforced upstream; the token check is the gate here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	raw := middleware.BearerToken(r)
	if raw == "" {
		// Browser WebSocket clients cannot set Authorization headers.
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		response.Unauthorized(w, r)
		return
	}
	identity, err := h.gate.Authorize(r.Context(), raw, security.TokenTypeAccess)
	if err != nil {
		if service.IsAuthError(err) {
			response.Unauthorized(w, r)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}

	channels := realtime.ParseSubscribeList(r.URL.Query().Get("subscribe_to"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its own error response.
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err, "user_id", identity.UserID)
		return
	}

	userID := strconv.FormatUint(uint64(identity.UserID), 10)
	connID := uuid.NewString()
	observability.Audit(r, "ws.connect", "user_id", identity.UserID, "conn_id", connID, "channels", len(channels))

	handler := realtime.NewConnectionHandler(conn, userID, connID, h.presence, h.relay, h.logger)
	if err := handler.Run(r.Context(), channels); err != nil && !errors.Is(err, realtime.ErrRelayUnavailable) {
		h.logger.WarnContext(r.Context(), "websocket session ended with error", "error", err, "user_id", identity.UserID, "conn_id", connID)
	}
}
