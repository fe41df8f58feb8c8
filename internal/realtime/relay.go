package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Channel names understood by the relay. The relay itself is payload-agnostic;
// these helpers only keep callers from fat-fingering the naming scheme.
const SystemPresenceChannel = "system_presence"

func DirectChannel(conversationID string) string { return "dm:" + conversationID }
func RoomChannel(roomID string) string           { return "room:" + roomID }

var ErrRelayUnavailable = errors.New("relay unavailable")

type Message struct {
	Channel string
	Payload []byte
}

type Subscription interface {
	// Messages yields relay messages in per-channel publish order. The
	// channel is closed when the subscription is torn down.
	Messages() <-chan Message
	Close() error
}

// Relay moves already-serialized events between publishers and subscribers.
// Delivery is at-most-once and best-effort: a subscriber that is not attached
// at publish time never sees the event, and there is no replay log.
type Relay interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

type RedisRelay struct {
	client redis.UniversalClient
}

func NewRedisRelay(client redis.UniversalClient) *RedisRelay {
	return &RedisRelay{client: client}
}

func (r *RedisRelay) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		observability.RecordRelayPublish(channelKind(channel), "error")
		return fmt.Errorf("%w: publish %s: %v", ErrRelayUnavailable, channel, err)
	}
	observability.RecordRelayPublish(channelKind(channel), "success")
	return nil
}

func (r *RedisRelay) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, channels...)
	// Force the SUBSCRIBE round-trip so a dead store fails the caller now
	// instead of surfacing as a silent, message-less subscription.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", ErrRelayUnavailable, err)
	}

	sub := &redisSubscription{
		ps:       ps,
		messages: make(chan Message),
		done:     make(chan struct{}),
	}
	go sub.pump(ps.Channel())
	return sub, nil
}

type redisSubscription struct {
	ps        *redis.PubSub
	messages  chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// pump forwards until the input closes or the subscription is closed. The
// send races Close so a subscriber that stops receiving before it closes
// does not strand the goroutine on a full channel.
func (s *redisSubscription) pump(in <-chan *redis.Message) {
	defer close(s.messages)
	for msg := range in {
		select {
		case s.messages <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.messages }

func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.ps.Close()
}

// PublishWithRetry retries transient publish failures a bounded number of
// times with linear backoff. Used by REST handlers; the websocket path never
// retries, it reports and closes the one affected connection instead.
func PublishWithRetry(ctx context.Context, relay Relay, channel string, payload []byte, attempts int, backoff time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = relay.Publish(ctx, channel, payload); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * backoff):
		}
	}
	return err
}

func channelKind(channel string) string {
	switch {
	case channel == SystemPresenceChannel:
		return "presence"
	case len(channel) > 3 && channel[:3] == "dm:":
		return "dm"
	case len(channel) > 5 && channel[:5] == "room:":
		return "room"
	default:
		return "other"
	}
}
