package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeName is the topic exchange calendar events are published to.
const ExchangeName = "blade.calendar.events"

// RabbitMQPublisher publishes events to a durable RabbitMQ topic exchange.
type RabbitMQPublisher struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewRabbitMQPublisher dials RabbitMQ and declares the exchange.
func NewRabbitMQPublisher(url string, logger *slog.Logger) (*RabbitMQPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &RabbitMQPublisher{url: url, exchange: ExchangeName, logger: logger}
	if err := p.connect(); err != nil {
		return nil, err
	}
	logger.Info("rabbitmq publisher connected", "exchange", p.exchange)
	return p, nil
}

func (p *RabbitMQPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch
	return nil
}

// Publish sends a persistent JSON message. A closed connection is re-dialled once.
func (p *RabbitMQPublisher) Publish(ctx context.Context, pub Publication) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() || p.channel == nil || p.channel.IsClosed() {
		p.logger.Warn("rabbitmq connection closed, reconnecting")
		if err := p.connect(); err != nil {
			return err
		}
	}

	err := p.channel.PublishWithContext(ctx, p.exchange, pub.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    pub.MessageID.String(),
		Timestamp:    pub.OccurredAt,
		Body:         pub.Payload,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", pub.RoutingKey, err)
	}

	p.logger.Debug("message published", "routing_key", pub.RoutingKey, "message_id", pub.MessageID)
	return nil
}

// Close closes the channel and connection.
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.channel != nil && !p.channel.IsClosed() {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil && !p.conn.IsClosed() {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
