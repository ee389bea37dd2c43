package sink

import (
	"context"
	"errors"

	"github.com/wb-go/wbf/zlog"
)

// ErrDeliveryUnavailable marks a broadcast transport that is down. Callers
// treat it as a logged, non-fatal condition: the channel is best-effort.
var ErrDeliveryUnavailable = errors.New("broadcast transport unavailable")

type Broadcaster interface {
	Broadcast(ctx context.Context, channel, message string) error
}

// Fanout delivers the message through the live websocket hub and, when
// configured, duplicates it to a Telegram chat. Telegram is an auxiliary
// announce channel; its failures never fail the broadcast.
type Fanout struct {
	hub      Broadcaster
	telegram *Announcer
}

func NewFanout(hub Broadcaster, telegram *Announcer) *Fanout {
	return &Fanout{
		hub:      hub,
		telegram: telegram,
	}
}

func (f *Fanout) Broadcast(ctx context.Context, channel, message string) error {
	err := f.hub.Broadcast(ctx, channel, message)

	if f.telegram != nil {
		if tgErr := f.telegram.Announce(ctx, message); tgErr != nil {
			zlog.Logger.Warn().Err(tgErr).Str("channel", channel).Msg("Telegram announce failed")
		}
	}

	return err
}
