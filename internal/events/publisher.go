package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/config"
)

// Publisher sends sweep events to the message broker. The routing key is
// the event type.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// RabbitMQPublisher publishes persistent JSON messages on the sweep exchange.
type RabbitMQPublisher struct {
	session  *session
	exchange string
	logger   *zap.Logger
}

// NewRabbitMQPublisher connects to the broker and declares the exchange.
func NewRabbitMQPublisher(cfg *config.RabbitMQConfig, logger *zap.Logger) (*RabbitMQPublisher, error) {
	logger = logger.Named("publisher")

	s := newSession(cfg, logger)
	if err := s.dial(); err != nil {
		return nil, err
	}
	logger.Info("Connected to RabbitMQ", zap.String("exchange", cfg.Exchange))

	return &RabbitMQPublisher{session: s, exchange: cfg.Exchange, logger: logger}, nil
}

// Publish sends event. It fails fast while the connection is being restored.
func (p *RabbitMQPublisher) Publish(ctx context.Context, event Event) error {
	channel, err := p.session.Channel()
	if err != nil {
		return err
	}

	msg, err := newPublishing(event)
	if err != nil {
		return err
	}
	if err := channel.PublishWithContext(ctx, p.exchange, msg.Type, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Type, err)
	}

	p.logger.Debug("Published event",
		zap.String("routing_key", msg.Type),
		zap.String("event_id", msg.MessageId),
		zap.Int("body_size", len(msg.Body)),
	)
	return nil
}

// Close closes the broker connection.
func (p *RabbitMQPublisher) Close() error {
	if err := p.session.Close(); err != nil {
		return fmt.Errorf("errors closing publisher: %w", err)
	}
	p.logger.Info("RabbitMQ publisher closed")
	return nil
}

// newPublishing encodes event and copies its envelope into the AMQP
// properties so consumers can route and deduplicate without decoding.
func newPublishing(event Event) (amqp.Publishing, error) {
	env := event.Envelope()
	if env.EventType == "" {
		return amqp.Publishing{}, fmt.Errorf("event without type")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal %s: %w", env.EventType, err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.EventID,
		Type:         env.EventType,
		AppId:        env.Source,
		Timestamp:    env.Timestamp,
		Body:         body,
	}, nil
}

// NoOpPublisher drops every event. Used when no broker is configured.
type NoOpPublisher struct{}

// NewNoOpPublisher creates a new no-op publisher.
func NewNoOpPublisher() *NoOpPublisher {
	return &NoOpPublisher{}
}

func (NoOpPublisher) Publish(ctx context.Context, event Event) error { return nil }

func (NoOpPublisher) Close() error { return nil }

var (
	_ Publisher = (*RabbitMQPublisher)(nil)
	_ Publisher = (*NoOpPublisher)(nil)
)
