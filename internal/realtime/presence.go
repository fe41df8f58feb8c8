package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/observability"

	"github.com/redis/go-redis/v9"
)

// PresenceStore is the minimal surface presence needs from the shared
// key-value store. Registering a socket and updating the online registry
// must be one atomic step: a store that mutates the set and the registry in
// separate commands lets a concurrent connect and disconnect for the same
// user leave the registry contradicting the set.
type PresenceStore interface {
	// AddConnection registers a socket for a user, marks the user online in
	// the registry when this is their first socket, and returns the user's
	// connection count after the add.
	AddConnection(ctx context.Context, userID, connID string) (int64, error)
	// RemoveConnection removes a socket, clears the registry entry when it
	// was the user's last one, and returns the remaining count.
	RemoveConnection(ctx context.Context, userID, connID string) (int64, error)
	OnlineUsers(ctx context.Context) ([]string, error)
}

type PresenceEvent struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// PresenceManager derives online state from live connection counts. A user
// flips online on the 0→1 transition and offline on the 1→0 transition only,
// so one device disconnecting never evicts another device's presence. The
// registry is recomputed from the per-user set, never independently toggled.
type PresenceManager struct {
	store  PresenceStore
	relay  Relay
	logger *slog.Logger
}

func NewPresenceManager(store PresenceStore, relay Relay, logger *slog.Logger) *PresenceManager {
	return &PresenceManager{store: store, relay: relay, logger: logger}
}

func (m *PresenceManager) Connect(ctx context.Context, userID, connID string) error {
	count, err := m.store.AddConnection(ctx, userID, connID)
	if err != nil {
		return fmt.Errorf("presence connect: %w", err)
	}
	if count != 1 {
		return nil
	}
	observability.RecordPresenceTransition("online")
	return m.broadcast(ctx)
}

func (m *PresenceManager) Disconnect(ctx context.Context, userID, connID string) error {
	count, err := m.store.RemoveConnection(ctx, userID, connID)
	if err != nil {
		return fmt.Errorf("presence disconnect: %w", err)
	}
	if count != 0 {
		return nil
	}
	observability.RecordPresenceTransition("offline")
	return m.broadcast(ctx)
}

func (m *PresenceManager) OnlineUsers(ctx context.Context) ([]string, error) {
	return m.store.OnlineUsers(ctx)
}

func (m *PresenceManager) broadcast(ctx context.Context) error {
	users, err := m.store.OnlineUsers(ctx)
	if err != nil {
		return fmt.Errorf("presence snapshot: %w", err)
	}
	payload, err := json.Marshal(PresenceEvent{Type: "presence", Users: users})
	if err != nil {
		return err
	}
	if err := m.relay.Publish(ctx, SystemPresenceChannel, payload); err != nil {
		m.logger.ErrorContext(ctx, "presence broadcast failed", "error", err)
		return err
	}
	return nil
}

const (
	userSocketsKeyPrefix = "presence:sockets:"
	onlineUsersKey       = "presence:online"
)

// The scripts mutate the socket set, read its cardinality and update the
// online registry as one atomic unit, so any interleaving of connects and
// disconnects for the same user across instances leaves the registry
// agreeing with the set.
var addConnectionScript = redis.NewScript(`
redis.call('SADD', KEYS[1], ARGV[1])
local n = redis.call('SCARD', KEYS[1])
if n == 1 then
	redis.call('HSET', KEYS[2], ARGV[2], 'online')
end
return n
`)

var removeConnectionScript = redis.NewScript(`
redis.call('SREM', KEYS[1], ARGV[1])
local n = redis.call('SCARD', KEYS[1])
if n == 0 then
	redis.call('HDEL', KEYS[2], ARGV[2])
end
return n
`)

// RedisPresenceStore keeps a socket set per user and a global online hash,
// coupled through the scripts above.
type RedisPresenceStore struct {
	client redis.UniversalClient
}

func NewRedisPresenceStore(client redis.UniversalClient) *RedisPresenceStore {
	return &RedisPresenceStore{client: client}
}

func (s *RedisPresenceStore) AddConnection(ctx context.Context, userID, connID string) (int64, error) {
	keys := []string{userSocketsKeyPrefix + userID, onlineUsersKey}
	return addConnectionScript.Run(ctx, s.client, keys, connID, userID).Int64()
}

func (s *RedisPresenceStore) RemoveConnection(ctx context.Context, userID, connID string) (int64, error) {
	keys := []string{userSocketsKeyPrefix + userID, onlineUsersKey}
	return removeConnectionScript.Run(ctx, s.client, keys, connID, userID).Int64()
}

func (s *RedisPresenceStore) OnlineUsers(ctx context.Context) ([]string, error) {
	return s.client.HKeys(ctx, onlineUsersKey).Result()
}
