package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// streamMaxLen is the approximate maximum length for Redis streams, enforced
// via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

const (
	// EventsChannel carries live engine events to every API replica.
	EventsChannel = "ch:events"
	// EventsStream keeps recent engine events for replay.
	EventsStream = "stream:events"

	publishTimeout = 2 * time.Second
)

// SignalBus uses Redis Pub/Sub for live event fan-out and a Redis Stream for
// ordered replay. It is the engine's domain.EventPublisher when Redis is
// configured.
type SignalBus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client, logger *slog.Logger) *SignalBus {
	return &SignalBus{
		rdb:    c.Underlying(),
		logger: logger.With(slog.String("component", "signal_bus")),
	}
}

// PublishEvent fans ev out on EventsChannel and appends it to EventsStream.
// Failures are logged; engine code never blocks on observers.
func (sb *SignalBus) PublishEvent(ev domain.EngineEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		sb.logger.Warn("encode event", slog.String("kind", string(ev.Kind)), slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := sb.Publish(ctx, EventsChannel, payload); err != nil {
		sb.logger.Warn("publish event", slog.String("error", err.Error()))
	}
	if err := sb.StreamAppend(ctx, EventsStream, payload); err != nil {
		sb.logger.Warn("append event", slog.String("error", err.Error()))
	}
}

// SubscribeEvents decodes EventsChannel into engine events. Undecodable
// payloads are dropped.
func (sb *SignalBus) SubscribeEvents(ctx context.Context) (<-chan domain.EngineEvent, error) {
	raw, err := sb.Subscribe(ctx, EventsChannel)
	if err != nil {
		return nil, err
	}
	out := make(chan domain.EngineEvent, 128)
	go func() {
		defer close(out)
		for payload := range raw {
			ev, err := decodeEvent(payload)
			if err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func decodeEvent(payload []byte) (domain.EngineEvent, error) {
	var ev domain.EngineEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.EngineEvent{}, fmt.Errorf("redis: decode event: %w", err)
	}
	return ev, nil
}

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Redis Pub/Sub subscription and returns a read-only
// channel that emits raw byte payloads. The subscription is automatically
// closed when the context is cancelled; the returned channel is closed at
// that point as well.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// hasPattern returns true when the Redis channel includes glob-style
// wildcards, in which case PSubscribe must be used instead of Subscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends a payload to a Redis stream using XADD with an
// approximate MAXLEN of 10,000 entries for automatic trimming.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"payload": payload,
		},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead reads up to count messages from a Redis stream starting after
// lastID. Use "0" or "0-0" as lastID to read from the beginning, or "$" to
// read only new messages. It returns an empty slice (not an error) when no
// messages are available.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	args := &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
	}

	results, err := sb.rdb.XRead(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			payload, ok := msg.Values["payload"]
			if !ok {
				continue
			}

			var data []byte
			switch v := payload.(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}

			messages = append(messages, domain.StreamMessage{
				ID:      msg.ID,
				Payload: data,
			})
		}
	}

	return messages, nil
}

// RecentEvents returns up to n of the newest events on EventsStream, oldest
// first. The hub seeds its replay backlog from it so events published by
// other processes before this one started are replayed too.
func (sb *SignalBus) RecentEvents(ctx context.Context, n int) ([]domain.EngineEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	// XREAD is exclusive of its start ID: begin after the entry just older
	// than the n newest.
	tail, err := sb.rdb.XRevRangeN(ctx, EventsStream, "+", "-", int64(n+1)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis: recent events: %w", err)
	}
	after := "0"
	if len(tail) > n {
		after = tail[n].ID
	}
	msgs, err := sb.StreamRead(ctx, EventsStream, after, n)
	if err != nil {
		return nil, err
	}
	return decodeEvents(msgs), nil
}

// decodeEvents keeps the stream order and drops undecodable payloads.
func decodeEvents(msgs []domain.StreamMessage) []domain.EngineEvent {
	out := make([]domain.EngineEvent, 0, len(msgs))
	for _, m := range msgs {
		ev, err := decodeEvent(m.Payload)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Compile-time interface check.
var _ domain.EventPublisher = (*SignalBus)(nil)
