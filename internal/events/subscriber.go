package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/config"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// EventHandler processes one message body received under routingKey.
type EventHandler func(routingKey string, body []byte) error

// Subscriber consumes command messages from the broker.
type Subscriber interface {
	Subscribe(ctx context.Context, routingKeys []string, handler EventHandler) error
	Close() error
}

// RabbitMQSubscriber consumes from a durable queue bound to the sweep
// exchange. Bindings and consumption are restored after reconnects.
type RabbitMQSubscriber struct {
	session  *session
	exchange string
	queue    string
	prefetch int
	logger   *zap.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	handler     EventHandler
	routingKeys []string
}

// NewRabbitMQSubscriber connects and declares the configured command queue.
func NewRabbitMQSubscriber(cfg *config.RabbitMQConfig, logger *zap.Logger) (*RabbitMQSubscriber, error) {
	sub := &RabbitMQSubscriber{
		exchange: cfg.Exchange,
		queue:    cfg.Queue,
		prefetch: cfg.PrefetchCount,
		logger:   logger.Named("subscriber"),
	}
	if sub.prefetch <= 0 {
		sub.prefetch = 10
	}

	sub.session = newSession(cfg, sub.logger)
	sub.session.setup = sub.declare
	sub.session.ready = sub.resume
	if err := sub.session.dial(); err != nil {
		return nil, err
	}

	sub.logger.Info("Connected to RabbitMQ for commands",
		zap.String("exchange", sub.exchange),
		zap.String("queue", sub.queue),
	)
	return sub, nil
}

// declare sets up the queue, QoS and every known binding on a fresh channel.
func (s *RabbitMQSubscriber) declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", s.queue, err)
	}
	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	s.mu.Lock()
	keys := s.routingKeys
	s.mu.Unlock()
	return s.bind(ch, keys)
}

func (s *RabbitMQSubscriber) bind(ch *amqp.Channel, keys []string) error {
	for _, key := range keys {
		if err := ch.QueueBind(s.queue, key, s.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", s.queue, key, err)
		}
	}
	return nil
}

// resume restarts consumption after a reconnect.
func (s *RabbitMQSubscriber) resume(ch *amqp.Channel) {
	s.mu.Lock()
	ctx, handler := s.ctx, s.handler
	s.mu.Unlock()

	if ctx != nil && handler != nil {
		go s.consume(ctx, ch, handler)
	}
}

// Subscribe binds routingKeys and consumes in the background until ctx is
// done or the subscriber is closed.
func (s *RabbitMQSubscriber) Subscribe(ctx context.Context, routingKeys []string, handler EventHandler) error {
	ch, err := s.session.Channel()
	if err != nil {
		return err
	}
	if err := s.bind(ch, routingKeys); err != nil {
		return err
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.handler = handler
	s.routingKeys = routingKeys
	consumeCtx := s.ctx
	s.mu.Unlock()

	s.logger.Info("Subscribed to routing keys",
		zap.Strings("routing_keys", routingKeys),
		zap.String("queue", s.queue),
	)

	go s.consume(consumeCtx, ch, handler)
	return nil
}

func (s *RabbitMQSubscriber) consume(ctx context.Context, ch *amqp.Channel, handler EventHandler) {
	msgs, err := ch.ConsumeWithContext(ctx, s.queue, "", false, false, false, false, nil)
	if err != nil {
		s.logger.Error("Failed to start consuming", zap.Error(err))
		return
	}

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				s.logger.Debug("Delivery channel closed", zap.String("queue", s.queue))
				return
			}
			s.settle(msg, processMessage(msg.RoutingKey, msg.Body, handler))

		case <-ctx.Done():
			return
		case <-s.session.Closed():
			return
		}
	}
}

// settle acks handled messages. Malformed commands are dropped; other
// failures are requeued once and dropped if they fail again.
func (s *RabbitMQSubscriber) settle(msg amqp.Delivery, err error) {
	fields := []zap.Field{
		zap.String("routing_key", msg.RoutingKey),
		zap.String("message_id", msg.MessageId),
	}

	switch {
	case err == nil:
		_ = msg.Ack(false)
	case errors.Is(err, domain.ErrInvalidInput):
		s.logger.Warn("Dropping invalid command", append(fields, zap.Error(err))...)
		_ = msg.Nack(false, false)
	case msg.Redelivered:
		s.logger.Error("Dropping command after retry", append(fields, zap.Error(err))...)
		_ = msg.Nack(false, false)
	default:
		s.logger.Warn("Requeueing command", append(fields, zap.Error(err))...)
		_ = msg.Nack(false, true)
	}
}

func processMessage(routingKey string, body []byte, handler EventHandler) error {
	if !json.Valid(body) {
		return fmt.Errorf("%w: invalid JSON in message body", domain.ErrInvalidInput)
	}
	if err := handler(routingKey, body); err != nil {
		return fmt.Errorf("handler error: %w", err)
	}
	return nil
}

// Close stops consumption and closes the connection.
func (s *RabbitMQSubscriber) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if err := s.session.Close(); err != nil {
		return fmt.Errorf("errors closing subscriber: %w", err)
	}
	s.logger.Info("RabbitMQ subscriber closed")
	return nil
}

// NoOpSubscriber never delivers anything.
type NoOpSubscriber struct{}

// NewNoOpSubscriber creates a new no-op subscriber.
func NewNoOpSubscriber() *NoOpSubscriber {
	return &NoOpSubscriber{}
}

func (NoOpSubscriber) Subscribe(ctx context.Context, routingKeys []string, handler EventHandler) error {
	return nil
}

func (NoOpSubscriber) Close() error { return nil }

var (
	_ Subscriber = (*RabbitMQSubscriber)(nil)
	_ Subscriber = (*NoOpSubscriber)(nil)
)
