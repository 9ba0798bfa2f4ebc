package events

import (
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/config"
)

var (
	// ErrClosed is returned when using a publisher or subscriber after Close.
	ErrClosed = errors.New("broker session is closed")

	errChannelUnavailable = errors.New("broker channel not available")
)

// session owns one AMQP connection and channel on the sweep exchange. After
// an unexpected close it re-dials with exponential backoff until Close.
type session struct {
	url      string
	exchange string
	delay    time.Duration
	maxWait  time.Duration
	logger   *zap.Logger

	// setup runs on every fresh channel before it is published.
	setup func(ch *amqp.Channel) error
	// ready runs after every successful dial, outside the lock.
	ready func(ch *amqp.Channel)

	mu        sync.RWMutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(cfg *config.RabbitMQConfig, logger *zap.Logger) *session {
	delay, maxWait := reconnectDelays(cfg)
	return &session{
		url:      cfg.URL,
		exchange: cfg.Exchange,
		delay:    delay,
		maxWait:  maxWait,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (s *session) dial() error {
	conn, channel, err := dial(s.url, s.exchange)
	if err != nil {
		return err
	}
	if s.setup != nil {
		if err := s.setup(channel); err != nil {
			channel.Close()
			conn.Close()
			return err
		}
	}

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		channel.Close()
		conn.Close()
		return ErrClosed
	default:
	}
	s.conn, s.channel = conn, channel
	s.mu.Unlock()

	go s.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	if s.ready != nil {
		s.ready(channel)
	}
	return nil
}

// watch blocks until the connection closes and re-dials when the close was
// not requested.
func (s *session) watch(closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed
	if !ok || amqpErr == nil {
		return
	}
	s.logger.Warn("RabbitMQ connection lost", zap.Error(amqpErr))

	s.mu.Lock()
	s.channel = nil
	s.mu.Unlock()

	delay := s.delay
	for {
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		err := s.dial()
		if err == nil {
			s.logger.Info("Reconnected to RabbitMQ", zap.String("exchange", s.exchange))
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		delay = nextDelay(delay, s.maxWait)
		s.logger.Warn("Reconnection failed",
			zap.Error(err),
			zap.Duration("next_attempt", delay),
		)
	}
}

// Channel returns the live channel.
func (s *session) Channel() (*amqp.Channel, error) {
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.channel == nil {
		return nil, errChannelUnavailable
	}
	return s.channel, nil
}

// Closed is closed once Close has been called.
func (s *session) Closed() <-chan struct{} {
	return s.done
}

func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()
		var errs []error
		if s.channel != nil {
			errs = append(errs, s.channel.Close())
		}
		if s.conn != nil {
			errs = append(errs, s.conn.Close())
		}
		s.channel, s.conn = nil, nil
		err = errors.Join(errs...)
	})
	return err
}

// dial opens a connection and channel and declares the topic exchange.
func dial(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return conn, channel, nil
}

// reconnectDelays returns the initial and maximum reconnect backoff.
func reconnectDelays(cfg *config.RabbitMQConfig) (time.Duration, time.Duration) {
	delay := 5 * time.Second
	maxWait := 30 * time.Second

	if d, err := time.ParseDuration(cfg.ReconnectDelay); err == nil && d > 0 {
		delay = d
	}
	if d, err := time.ParseDuration(cfg.MaxReconnectWait); err == nil && d > 0 {
		maxWait = d
	}
	return delay, maxWait
}

// nextDelay doubles delay up to maxWait.
func nextDelay(delay, maxWait time.Duration) time.Duration {
	return min(delay*2, maxWait)
}
