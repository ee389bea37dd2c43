package rabbitmq

import (
	"github.com/SlavaLB/it-school/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
	wbfrabbit "github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

const (
	ExchangeName = "delayed_lesson_tasks"
	QueueName    = "lesson_tasks"
	RoutingKey   = "fire"
)

type Broker struct {
	client  *wbfrabbit.RabbitClient
	retries retry.Strategy
}

// NewRabbitMQ declares the delayed-message topology: tasks published with an
// x-delay header surface on the queue only once the delay elapses.
func NewRabbitMQ(cfg *config.Config, retries retry.Strategy) *Broker {
	rabbitCfg := wbfrabbit.ClientConfig{
		URL:            cfg.RabbitMQDSN(),
		ConnectTimeout: cfg.RabbitMQ.ConnectTimeout,
		Heartbeat:      cfg.RabbitMQ.Heartbeat,
		ProducingStrat: retries,
		ConsumingStrat: retries,
	}
	client, err := wbfrabbit.NewClient(rabbitCfg)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to create RabbitMQ client")
	}
	ch, err := client.GetChannel()
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to get channel for declarations")
	}
	defer ch.Close()
	err = ch.ExchangeDeclare(ExchangeName, "x-delayed-message", true, false, false, false, amqp.Table{"x-delayed-type": "direct"})
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to declare exchange")
	}
	_, err = ch.QueueDeclare(QueueName, true, false, false, false, nil)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to declare queue")
	}
	err = ch.QueueBind(QueueName, RoutingKey, ExchangeName, false, nil)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to bind queue")
	}
	_, err = ch.QueueDeclare(QueueName+"_dlq", true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": RoutingKey,
		"x-message-ttl":             1000,
	})
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to declare DLQ")
	}
	return &Broker{client: client, retries: retries}
}

func (b *Broker) Close() error {
	zlog.Logger.Info().Msg("Closing RabbitMQ connection")
	return b.client.Close()
}
