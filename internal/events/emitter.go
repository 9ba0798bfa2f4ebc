package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// publishTimeout bounds a single lifecycle publish.
const publishTimeout = 5 * time.Second

// Emitter publishes typed sweep lifecycle events. Publish failures are
// logged, not returned.
type Emitter struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewEmitter creates an Emitter over publisher.
func NewEmitter(publisher Publisher, logger *zap.Logger) *Emitter {
	if publisher == nil {
		publisher = NewNoOpPublisher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{publisher: publisher, logger: logger}
}

// SweepStarted publishes sweep.started.
func (e *Emitter) SweepStarted(run *domain.SweepRun) {
	e.publish(run.ID, NewSweepStartedEvent(run))
}

// SweepProgress publishes sweep.progress.
func (e *Emitter) SweepProgress(runID uuid.UUID, p domain.Progress) {
	e.publish(runID, NewSweepProgressEvent(runID, p))
}

// SweepCompleted publishes sweep.completed.
func (e *Emitter) SweepCompleted(run *domain.SweepRun) {
	e.publish(run.ID, NewSweepCompletedEvent(run))
}

// SweepFailed publishes sweep.failed.
func (e *Emitter) SweepFailed(run *domain.SweepRun, errMsg string) {
	e.publish(run.ID, NewSweepFailedEvent(run, errMsg))
}

// SweepCancelled publishes sweep.cancelled.
func (e *Emitter) SweepCancelled(run *domain.SweepRun) {
	e.publish(run.ID, NewSweepCancelledEvent(run))
}

func (e *Emitter) publish(runID uuid.UUID, event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("Failed to publish sweep event",
			zap.String("run_id", runID.String()),
			zap.String("routing_key", event.Envelope().EventType),
			zap.Error(err),
		)
	}
}
