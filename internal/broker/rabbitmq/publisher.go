package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	wbfrabbit "github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/zlog"
)

type Publisher struct {
	publisher *wbfrabbit.Publisher
}

func NewPublisher(client *wbfrabbit.RabbitClient) *Publisher {
	return &Publisher{
		publisher: wbfrabbit.NewPublisher(client, ExchangeName, "application/json"),
	}
}

// PublishDelayed sends a wake-up message that the queue withholds until the
// task's fire instant. The message carries only the task ID; the durable row
// in Postgres remains the source of truth.
func (p *Publisher) PublishDelayed(ctx context.Context, taskID string, delay time.Duration) error {
	payload := struct {
		ID string `json:"id"`
	}{
		ID: taskID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to marshal wake-up payload")
		return err
	}

	delayMs := int(delay.Milliseconds())
	if delayMs < 0 {
		delayMs = 0
	}
	headers := amqp.Table{"x-delay": delayMs}

	zlog.Logger.Info().Str("task_id", taskID).Int("delay_ms", delayMs).Msg("Publishing delayed wake-up")

	return p.publisher.Publish(ctx, body, RoutingKey, wbfrabbit.WithHeaders(headers))
}

func (b *Broker) Publisher() *Publisher {
	return NewPublisher(b.client)
}
