// Package publisher emits listing events to RabbitMQ.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"listing_watcher/internal/domain"
)

// Events are routed on a topic exchange as "<routing_key>.<action>"; the queue receives all of them.
const exchangeKind = "topic"

type RabbitMQ struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger = logger.With("component", "publisher")
	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"binding", cfg.RoutingKey+".#",
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

func declareTopology(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey+".#", cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	return nil
}

// ListingMessage is the JSON body of every published event.
type ListingMessage struct {
	Action    domain.ListingAction `json:"action"`
	Listing   domain.Listing       `json:"listing"`
	Timestamp time.Time            `json:"timestamp"`
}

// RoutingKey returns the key an event with action is published under.
func (r *RabbitMQ) RoutingKey(action domain.ListingAction) string {
	return r.routingKey + "." + string(action)
}

// Publish sends event and waits for the broker to confirm it.
func (r *RabbitMQ) Publish(ctx context.Context, event domain.ListingEvent) error {
	now := time.Now().UTC()
	body, err := json.Marshal(ListingMessage{
		Action:    event.Action,
		Listing:   event.Listing,
		Timestamp: now,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := r.RoutingKey(event.Action)

	r.mu.Lock()
	defer r.mu.Unlock()

	confirm, err := r.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		r.exchange,
		key,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Type:         string(event.Action),
			Headers: amqp.Table{
				"watch_id":   event.Listing.WatchID,
				"listing_id": event.Listing.ID,
			},
			Body:      body,
			Timestamp: now,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker rejected %s event for listing %d", event.Action, event.Listing.ID)
	}

	r.logger.Debug("published listing event",
		"watch_id", event.Listing.WatchID,
		"listing_id", event.Listing.ID,
		"routing_key", key,
	)
	return nil
}

// Connected reports whether the broker connection is still open.
func (r *RabbitMQ) Connected() bool {
	return r.conn != nil && !r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
