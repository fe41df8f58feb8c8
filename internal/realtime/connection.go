package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/observability"

	"github.com/gorilla/websocket"
)

// socket is the slice of *websocket.Conn the handler actually uses.
type socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

const disconnectTimeout = 5 * time.Second

// ConnectionHandler owns one accepted WebSocket: presence registration, the
// relay subscription, the forwarding loop and teardown. Authentication has
// already happened at upgrade time; a handler never exists for an
// unauthenticated socket.
type ConnectionHandler struct {
	conn     socket
	userID   string
	connID   string
	presence *PresenceManager
	relay    Relay
	logger   *slog.Logger
}

func NewConnectionHandler(conn socket, userID, connID string, presence *PresenceManager, relay Relay, logger *slog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		conn:     conn,
		userID:   userID,
		connID:   connID,
		presence: presence,
		relay:    relay,
		logger:   logger.With("user_id", userID, "conn_id", connID),
	}
}

// Run drives the connection until the socket closes, the relay fails, or ctx
// is canceled. Errors terminate only this connection; siblings and shared
// presence state for other users are untouched.
func (h *ConnectionHandler) Run(ctx context.Context, channels []string) error {
	if err := h.presence.Connect(ctx, h.userID, h.connID); err != nil {
		return err
	}
	observability.RecordWSConnect()
	defer h.teardown()

	sub, err := h.relay.Subscribe(ctx, append([]string{SystemPresenceChannel}, channels...)...)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()

	if err := h.sendPresenceSnapshot(ctx); err != nil {
		return err
	}

	// The socket reader and the relay listener run concurrently and meet in
	// one select, so a client disconnect is noticed even while the relay is
	// idle, and a relay message is forwarded even while the client is quiet.
	readerDone := make(chan error, 1)
	go func() {
		for {
			if _, _, err := h.conn.ReadMessage(); err != nil {
				readerDone <- err
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				h.logger.WarnContext(ctx, "relay subscription closed")
				return ErrRelayUnavailable
			}
			if err := h.conn.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
				return fmt.Errorf("write to socket: %w", err)
			}
		case err := <-readerDone:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.InfoContext(ctx, "socket closed unexpectedly", "error", err)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sendPresenceSnapshot gives the client a consistent starting point before
// any incremental presence event arrives.
func (h *ConnectionHandler) sendPresenceSnapshot(ctx context.Context) error {
	users, err := h.presence.OnlineUsers(ctx)
	if err != nil {
		return fmt.Errorf("presence snapshot: %w", err)
	}
	payload, err := json.Marshal(PresenceEvent{Type: "presence", Users: users})
	if err != nil {
		return err
	}
	return h.conn.WriteMessage(websocket.TextMessage, payload)
}

// teardown runs on a fresh context: a canceled request context must not keep
// a dead socket counted as present.
func (h *ConnectionHandler) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := h.presence.Disconnect(ctx, h.userID, h.connID); err != nil {
		h.logger.Error("presence disconnect failed", "error", err)
	}
	observability.RecordWSDisconnect()
	_ = h.conn.Close()
}

// ParseSubscribeList turns the subscribe_to query parameter into a channel
// list: comma-separated, whitespace-trimmed, empties and duplicates dropped.
func ParseSubscribeList(raw string) []string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	channels := make([]string, 0, len(parts))
	for _, p := range parts {
		name := strings.TrimSpace(p)
		if name == "" || name == SystemPresenceChannel {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		channels = append(channels, name)
	}
	return channels
}
