// Package bus is an at-most-once event bus: a room-scoped and
// player-scoped pub/sub fanout backed by an AMQP topic exchange. It
// intentionally carries no redelivery or persistence — a subscriber that
// misses a message resyncs via the Store's snapshot+replay endpoints
// rather than through bus-level guarantees.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/qingchang/werewolf-core/internal/types"
)

const exchangeName = "werewolf.events"

// Config configures the AMQP connection backing the bus.
type Config struct {
	URL    string
	Logger *slog.Logger
}

// Bus publishes committed events on room and player topics and lets
// callers subscribe to either.
type Bus struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// New dials the broker and declares the topic exchange events are
// published through.
func New(cfg Config) (*Bus, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("bus: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bus: declare exchange: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{conn: conn, channel: ch, logger: logger}, nil
}

func roomTopic(roomID string) string { return "room." + roomID + ".broadcast" }
func playerTopic(roomID, playerID string) string { return "room." + roomID + ".player." + playerID }

// PublishRoom fans an event out to every subscriber of the room-wide
// topic (public state, phase changes, chat).
func (b *Bus) PublishRoom(ctx context.Context, roomID string, ev types.ProjectedEvent) error {
	return b.publish(ctx, roomTopic(roomID), ev)
}

// PublishPlayer delivers an event only to the named player's private
// topic (role reveals, night results, investigation outcomes).
func (b *Bus) PublishPlayer(ctx context.Context, roomID, playerID string, ev types.ProjectedEvent) error {
	return b.publish(ctx, playerTopic(roomID, playerID), ev)
}

func (b *Bus) publish(ctx context.Context, routingKey string, ev types.ProjectedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	return b.channel.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Subscription is a live binding to one or more topics under a room. Close
// tears down the underlying queue; nothing further is delivered once
// Close returns.
type Subscription struct {
	ch     <-chan amqp.Delivery
	amqpCh *amqp.Channel
	mu     sync.Mutex
	closed bool
}

// Events exposes the decoded event stream. The channel closes when the
// subscription is closed or the connection drops.
func (s *Subscription) Events() <-chan types.ProjectedEvent {
	out := make(chan types.ProjectedEvent)
	go func() {
		defer close(out)
		for d := range s.ch {
			var ev types.ProjectedEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				continue
			}
			out <- ev
		}
	}()
	return out
}

// Close releases the subscription's exclusive queue.
func (s *Subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.amqpCh.Close()
}

// SubscribeRoom binds a fresh exclusive, auto-delete queue to every topic
// for roomID (both the room-wide broadcast and every player's private
// topic) — used by the websocket gateway, which performs its own
// per-viewer visibility projection on what it reads back.
func (b *Bus) SubscribeRoom(roomID string) (*Subscription, error) {
	return b.subscribe("room." + roomID + ".#")
}

// SubscribePlayer binds a queue to only one player's private topic.
func (b *Bus) SubscribePlayer(roomID, playerID string) (*Subscription, error) {
	return b.subscribe(playerTopic(roomID, playerID))
}

func (b *Bus) subscribe(pattern string) (*Subscription, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("bus: open subscriber channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: declare subscriber queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, pattern, exchangeName, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: bind subscriber queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: consume subscriber queue: %w", err)
	}
	return &Subscription{ch: deliveries, amqpCh: ch}, nil
}

// Close tears down the bus connection.
func (b *Bus) Close() error {
	if err := b.channel.Close(); err != nil {
		return err
	}
	return b.conn.Close()
}
