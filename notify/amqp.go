package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultExchange is the topic exchange notifications are published to.
	DefaultExchange = "dailycare.notifications"
	// DefaultQueue collects every notification for downstream device gateways.
	DefaultQueue = "dailycare.notifications.all"
)

// RoutingKey returns the routing key for a device, e.g. "notify.watch".
func RoutingKey(device string) string {
	return "notify." + device
}

// AMQPDispatcher publishes notifications to RabbitMQ. Device gateways bind
// their own queues to the exchange by routing key.
type AMQPDispatcher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	confirms chan amqp.Confirmation
	mu       sync.Mutex
}

// NewAMQPDispatcher dials url, declares a durable topic exchange and a
// catch-all queue, and enables publisher confirms.
func NewAMQPDispatcher(url, exchange string) (*AMQPDispatcher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	if _, err := ch.QueueDeclare(DefaultQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", DefaultQueue, err)
	}
	if err := ch.QueueBind(DefaultQueue, "notify.#", exchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue %s: %w", DefaultQueue, err)
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &AMQPDispatcher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
	}, nil
}

// Deliver publishes the notification and waits for the broker's confirm.
func (a *AMQPDispatcher) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	priority := uint8(0)
	switch n.Urgency {
	case UrgencyHigh:
		priority = 5
	case UrgencyCritical:
		priority = 9
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    n.ID,
		Timestamp:    n.CreatedAt,
		Priority:     priority,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}
	if err := a.ch.PublishWithContext(ctx, a.exchange, RoutingKey(n.Device), false, false, msg); err != nil {
		return fmt.Errorf("failed to publish notification %s: %w", n.ID, err)
	}

	select {
	case confirmed, ok := <-a.confirms:
		if !ok {
			return errors.New("channel closed before publish was confirmed")
		}
		if !confirmed.Ack {
			return fmt.Errorf("notification %s not confirmed by broker", n.ID)
		}
	case <-ctx.Done():
		return fmt.Errorf("waiting for publish confirm: %w", ctx.Err())
	}
	return nil
}

// Close closes the channel and connection.
func (a *AMQPDispatcher) Close() error {
	if err := a.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		a.conn.Close()
		return err
	}
	return a.conn.Close()
}
