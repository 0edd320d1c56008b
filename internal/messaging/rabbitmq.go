package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	ExchangeName = "tenant.events"
	ExchangeType = "topic"
)

// ErrNotConfirmed is returned when the broker nacks a published event.
var ErrNotConfirmed = errors.New("event not confirmed by broker")

// Publisher sends lifecycle events to a durable topic exchange. The channel
// runs in confirm mode, so Publish returns only once the broker has taken
// responsibility for the event or ctx is done.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher dials rabbitmqURL, declares the exchange and enables confirms.
func NewPublisher(rabbitmqURL string, logger *zap.Logger) (*Publisher, error) {
	logger.Info("Connecting to RabbitMQ", zap.String("url", redactURL(rabbitmqURL)))

	conn, err := amqp.Dial(rabbitmqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := setupChannel(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("Connected to RabbitMQ", zap.String("exchange", ExchangeName))
	return &Publisher{
		conn:     conn,
		channel:  channel,
		exchange: ExchangeName,
		logger:   logger,
	}, nil
}

func setupChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	// durable, not auto-deleted, not internal, wait for the server
	if err := channel.ExchangeDeclare(ExchangeName, ExchangeType, true, false, false, false, nil); err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	return channel, nil
}

// Publish marshals eventData to JSON and waits for the broker confirmation.
func (p *Publisher) Publish(ctx context.Context, routingKey string, eventData interface{}) error {
	if p == nil || p.channel == nil {
		return nil
	}

	body, err := json.Marshal(eventData)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Type:         routingKey,
		AppId:        ServiceName,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    uuid.NewString(),
	}

	p.mu.Lock()
	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", routingKey, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for confirmation of %s: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("%s: %w", routingKey, ErrNotConfirmed)
	}

	p.logger.Debug("Published event", zap.String("routing_key", routingKey), zap.String("message_id", msg.MessageId))
	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var err error
	if p.channel != nil {
		err = multierr.Append(err, p.channel.Close())
	}
	if p.conn != nil {
		err = multierr.Append(err, p.conn.Close())
	}
	return err
}

// redactURL hides credentials in a broker URL for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "amqp://***"
	}
	return u.Redacted()
}
