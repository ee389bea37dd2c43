package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/retry"
)

// WakeUps opens a consumer on the task queue. A delivery surfaces here only
// after its x-delay has elapsed; it is a hint that a task is due, and the
// receiver still has to win the store claim before executing anything.
func (b *Broker) WakeUps(ctx context.Context) (<-chan amqp.Delivery, error) {
	var deliveries <-chan amqp.Delivery
	err := retry.DoContext(ctx, b.retries, func() error {
		ch, err := b.client.GetChannel()
		if err != nil {
			return err
		}
		defer ch.Close()
		deliveries, err = ch.Consume(QueueName, "", false, false, false, false, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return deliveries, nil
}
