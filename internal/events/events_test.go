package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/eyupikiz-lgtm/QuantAup/internal/config"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

type published struct {
	key   string
	event Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{key: event.Envelope().EventType, event: event})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, len(p.events))
	for i, e := range p.events {
		keys[i] = e.key
	}
	return keys
}

func TestNoOpSubscriber(t *testing.T) {
	sub := NewNoOpSubscriber()

	err := sub.Subscribe(context.Background(), CommandRoutingKeys, func(routingKey string, body []byte) error {
		return nil
	})
	assert.NoError(t, err)
	assert.NoError(t, sub.Close())
}

func TestEmitterPublishesLifecycle(t *testing.T) {
	pub := &recordingPublisher{}
	em := NewEmitter(pub, zaptest.NewLogger(t))

	run := domain.NewSweepRun(domain.SweepRequest{Symbol: "AKBNK", Timeframe: domain.Timeframe1d})
	run.Result = &domain.OptimizationResult{BestScore: 0.9, Evaluated: 12, Total: 20, Partial: true}

	em.SweepStarted(run)
	em.SweepProgress(run.ID, domain.Progress{Completed: 3, Total: 20})
	em.SweepCompleted(run)
	em.SweepFailed(run, "boom")
	em.SweepCancelled(run)

	assert.Equal(t, []string{
		RoutingKeySweepStarted,
		RoutingKeySweepProgress,
		RoutingKeySweepCompleted,
		RoutingKeySweepFailed,
		RoutingKeySweepCancelled,
	}, pub.keys())

	completed, ok := pub.events[2].event.(*SweepCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, run.ID, completed.RunID)
	assert.InDelta(t, 0.9, completed.BestScore, 1e-12)
	assert.Equal(t, 12, completed.Evaluated)

	cancelled := pub.events[4].event.(*SweepCancelledEvent)
	assert.True(t, cancelled.Partial)

	body, err := json.Marshal(pub.events[1].event)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"completed":3`)
	assert.Contains(t, string(body), `"event_type":"sweep.progress"`)
}

func TestEmitterSwallowsPublishErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	em := NewEmitter(pub, zaptest.NewLogger(t))

	assert.NotPanics(t, func() {
		em.SweepStarted(domain.NewSweepRun(domain.SweepRequest{Symbol: "X"}))
	})
}

func TestBreakerPublisherTrips(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	b := NewBreakerPublisher(pub, BreakerSettings{
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Minute,
		HalfOpenRequests:    1,
	}, zaptest.NewLogger(t))

	ctx := context.Background()
	event := NewCancelSweepCommand(uuid.New())
	assert.Error(t, b.Publish(ctx, event))
	assert.Error(t, b.Publish(ctx, event))
	assert.Equal(t, gobreaker.StateOpen, b.State())

	pub.err = nil
	err := b.Publish(ctx, event)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Empty(t, pub.keys(), "open breaker must not reach the publisher")
}

type fakeCommands struct {
	submitted []domain.SweepRequest
	cancelled []uuid.UUID
	cancelErr error
}

func (f *fakeCommands) Submit(ctx context.Context, req domain.SweepRequest) (*domain.SweepRun, error) {
	f.submitted = append(f.submitted, req)
	return domain.NewSweepRun(req), nil
}

func (f *fakeCommands) Cancel(ctx context.Context, id uuid.UUID) error {
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

func TestCommandHandler(t *testing.T) {
	target := &fakeCommands{}
	handle := CommandHandler(context.Background(), target, zaptest.NewLogger(t))

	submit, err := json.Marshal(NewSubmitSweepCommand(domain.SweepRequest{Symbol: "AKBNK", Timeframe: domain.Timeframe1d}))
	require.NoError(t, err)
	require.NoError(t, handle(RoutingKeySweepSubmit, submit))
	require.Len(t, target.submitted, 1)
	assert.Equal(t, string(domain.SweepTriggerEvent), target.submitted[0].Trigger)

	id := uuid.New()
	cancel, err := json.Marshal(NewCancelSweepCommand(id))
	require.NoError(t, err)
	require.NoError(t, handle(RoutingKeySweepCancel, cancel))
	assert.Equal(t, []uuid.UUID{id}, target.cancelled)

	target.cancelErr = domain.NewNotFoundError("sweep_run", id.String())
	assert.NoError(t, handle(RoutingKeySweepCancel, cancel), "unknown runs are acknowledged")

	err = handle(RoutingKeySweepSubmit, []byte(`{"request":{}}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = handle(RoutingKeySweepCancel, []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = handle("sweep.unknown", []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestProcessMessageRejectsInvalidJSON(t *testing.T) {
	called := false
	err := processMessage("k", []byte("{not json"), func(string, []byte) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.False(t, called)
}

func TestNewPublishing(t *testing.T) {
	run := domain.NewSweepRun(domain.SweepRequest{Symbol: "AKBNK", Timeframe: domain.Timeframe1h})
	event := NewSweepFailedEvent(run, "no data")

	msg, err := newPublishing(event)
	require.NoError(t, err)
	assert.Equal(t, RoutingKeySweepFailed, msg.Type)
	assert.Equal(t, event.EventID, msg.MessageId)
	assert.Equal(t, "quantaup", msg.AppId)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.True(t, msg.Timestamp.Equal(event.Timestamp))

	var decoded SweepFailedEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, run.ID, decoded.RunID)
	assert.Equal(t, "no data", decoded.Error)

	_, err = newPublishing(&SweepFailedEvent{})
	assert.Error(t, err)
}

func TestReconnectBackoff(t *testing.T) {
	delay, maxWait := reconnectDelays(&config.RabbitMQConfig{ReconnectDelay: "2s", MaxReconnectWait: "5s"})
	assert.Equal(t, 2*time.Second, delay)
	assert.Equal(t, 5*time.Second, maxWait)

	delay = nextDelay(delay, maxWait)
	assert.Equal(t, 4*time.Second, delay)
	assert.Equal(t, 5*time.Second, nextDelay(delay, maxWait))

	delay, maxWait = reconnectDelays(&config.RabbitMQConfig{ReconnectDelay: "bogus"})
	assert.Equal(t, 5*time.Second, delay)
	assert.Equal(t, 30*time.Second, maxWait)
}

func TestSessionClose(t *testing.T) {
	s := newSession(&config.RabbitMQConfig{URL: "amqp://localhost", Exchange: "quantaup.events"}, zaptest.NewLogger(t))

	_, err := s.Channel()
	assert.ErrorIs(t, err, errChannelUnavailable)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Channel()
	assert.ErrorIs(t, err, ErrClosed)

	select {
	case <-s.Closed():
	default:
		t.Fatal("Closed channel not closed")
	}
}
