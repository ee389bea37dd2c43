package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/SlavaLB/it-school/internal/broker"

	"github.com/wb-go/wbf/zlog"
)

// Worker drains delayed wake-up messages and hands the task ID to the
// executor. The executor's claim on the Postgres row, not the AMQP ack,
// is what prevents double execution.
type Worker struct {
	broker      *Broker
	processFunc broker.ProcessFunc
	done        chan struct{}
}

func NewWorker(b *Broker, processFunc broker.ProcessFunc) *Worker {
	return &Worker{
		broker:      b,
		processFunc: processFunc,
		done:        make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) {
	zlog.Logger.Info().Msg("Starting task worker")
	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Info().Msg("Worker context cancelled")
			return
		case <-w.done:
			zlog.Logger.Info().Msg("Worker stopped")
			return
		default:
			w.processMessages(ctx)
			time.Sleep(5 * time.Second)
		}
	}
}

func (w *Worker) Stop() {
	close(w.done)
}

func (w *Worker) processMessages(ctx context.Context) {
	deliveries, err := w.broker.WakeUps(ctx)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to consume wake-up messages")
		return
	}
	for delivery := range deliveries {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		default:
			var wakeUp struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(delivery.Body, &wakeUp); err != nil {
				zlog.Logger.Error().Err(err).Msg("Malformed wake-up message")
				delivery.Nack(false, false)
				continue
			}
			zlog.Logger.Info().Str("task_id", wakeUp.ID).Msg("Processing task")
			if err := w.processFunc(ctx, wakeUp.ID); err != nil {
				zlog.Logger.Error().Err(err).Str("task_id", wakeUp.ID).Msg("Failed to process task")
				delivery.Nack(false, false)
			} else {
				delivery.Ack(false)
			}
		}
	}
}
