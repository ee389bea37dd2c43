package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/SlavaLB/it-school/internal/clock"
	"github.com/SlavaLB/it-school/internal/domain"
	"github.com/SlavaLB/it-school/internal/sink"

	"github.com/wb-go/wbf/zlog"
)

const startStampLayout = "2006-01-02 15:04"

// Dispatcher is the SendReminder task body: format the notice and push it
// to whoever is listening right now. Retrying is the executor's job, so a
// hard broadcast error is returned as-is.
type Dispatcher struct {
	broadcaster Broadcaster
	clk         *clock.Clock
	channel     string
}

func New(broadcaster Broadcaster, clk *clock.Clock, channel string) *Dispatcher {
	return &Dispatcher{
		broadcaster: broadcaster,
		clk:         clk,
		channel:     channel,
	}
}

func (d *Dispatcher) HandleSend(ctx context.Context, payload domain.ReminderPayload) error {
	startAt, err := d.clk.ParseStart(payload.StartAt)
	if err != nil {
		return err
	}

	var message string
	if payload.IsEarlyNotice {
		message = fmt.Sprintf("🚨 Напоминание: через 5 минут начнется урок '%s'. Время начала: %s",
			payload.Title, startAt.Format(startStampLayout))
	} else {
		message = fmt.Sprintf("🚨 Урок '%s' начнется менее чем через 5 минут. Время начала: %s",
			payload.Title, startAt.Format(startStampLayout))
	}

	zlog.Logger.Info().
		Str("title", payload.Title).
		Str("channel", d.channel).
		Bool("is_early_notice", payload.IsEarlyNotice).
		Msg(message)

	if err := d.broadcaster.Broadcast(ctx, d.channel, message); err != nil {
		// The channel is a best-effort live broadcast, not a durable outbox:
		// a down transport does not fail the task.
		if errors.Is(err, sink.ErrDeliveryUnavailable) {
			zlog.Logger.Warn().Err(err).Str("channel", d.channel).Msg("Broadcast transport unavailable, reminder dropped")
			return nil
		}
		return fmt.Errorf("failed to broadcast reminder: %w", err)
	}
	return nil
}
