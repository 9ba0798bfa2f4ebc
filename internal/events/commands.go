package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// SweepCommands executes sweep commands received from the broker.
type SweepCommands interface {
	Submit(ctx context.Context, req domain.SweepRequest) (*domain.SweepRun, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// CommandRoutingKeys lists the keys consumed by CommandHandler.
var CommandRoutingKeys = []string{RoutingKeySweepSubmit, RoutingKeySweepCancel}

// CommandHandler returns an EventHandler dispatching submit and cancel
// commands to target. Unknown keys and malformed bodies yield errors wrapping
// domain.ErrInvalidInput so the message is dropped, not requeued.
func CommandHandler(ctx context.Context, target SweepCommands, logger *zap.Logger) EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(routingKey string, body []byte) error {
		switch routingKey {
		case RoutingKeySweepSubmit:
			cmd, err := DecodeSubmitSweep(body)
			if err != nil {
				return err
			}
			if cmd.Request.Trigger == "" {
				cmd.Request.Trigger = string(domain.SweepTriggerEvent)
			}
			run, err := target.Submit(ctx, cmd.Request)
			if err != nil {
				return err
			}
			logger.Info("Sweep submitted from command",
				zap.String("event_id", cmd.EventID),
				zap.String("run_id", run.ID.String()),
			)
			return nil

		case RoutingKeySweepCancel:
			cmd, err := DecodeCancelSweep(body)
			if err != nil {
				return err
			}
			err = target.Cancel(ctx, cmd.RunID)
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrSweepNotCancellable) {
				logger.Info("Ignoring cancel command",
					zap.String("run_id", cmd.RunID.String()),
					zap.Error(err),
				)
				return nil
			}
			return err

		default:
			return fmt.Errorf("%w: unexpected routing key %q", domain.ErrInvalidInput, routingKey)
		}
	}
}
