package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/SlavaLB/it-school/internal/clock"
	"github.com/SlavaLB/it-school/internal/domain"
	"github.com/SlavaLB/it-school/internal/sink"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroadcaster struct {
	channel string
	message string
	calls   int
	err     error
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, channel, message string) error {
	f.calls++
	f.channel = channel
	f.message = message
	return f.err
}

func newTestDispatcher(t *testing.T, err error) (*Dispatcher, *fakeBroadcaster) {
	t.Helper()
	clk, cerr := clock.New("Europe/Moscow")
	require.NoError(t, cerr)
	b := &fakeBroadcaster{err: err}
	return New(b, clk, "lessons"), b
}

func TestHandleSend_EarlyNotice(t *testing.T) {
	disp, b := newTestDispatcher(t, nil)

	err := disp.HandleSend(context.Background(), domain.ReminderPayload{
		Title:         "Math",
		StartAt:       "2025-01-10T10:00:00+03:00",
		IsEarlyNotice: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "lessons", b.channel)
	assert.Contains(t, b.message, "через 5 минут")
	assert.NotContains(t, b.message, "менее чем")
	assert.Contains(t, b.message, "Math")
	assert.Contains(t, b.message, "10:00")
}

func TestHandleSend_ImminentNotice(t *testing.T) {
	disp, b := newTestDispatcher(t, nil)

	err := disp.HandleSend(context.Background(), domain.ReminderPayload{
		Title:         "Math",
		StartAt:       "2025-01-10T10:00:00+03:00",
		IsEarlyNotice: false,
	})
	require.NoError(t, err)

	assert.Contains(t, b.message, "менее чем через 5 минут")
	assert.Contains(t, b.message, "Math")
}

func TestHandleSend_NormalizesStartToCanonicalZone(t *testing.T) {
	disp, b := newTestDispatcher(t, nil)

	// 07:00 UTC is 10:00 in Moscow.
	err := disp.HandleSend(context.Background(), domain.ReminderPayload{
		Title:         "Math",
		StartAt:       "2025-01-10T07:00:00Z",
		IsEarlyNotice: true,
	})
	require.NoError(t, err)
	assert.Contains(t, b.message, "10:00")
}

func TestHandleSend_DeliveryUnavailableIsNonFatal(t *testing.T) {
	disp, b := newTestDispatcher(t, sink.ErrDeliveryUnavailable)

	err := disp.HandleSend(context.Background(), domain.ReminderPayload{
		Title:         "Math",
		StartAt:       "2025-01-10T10:00:00+03:00",
		IsEarlyNotice: true,
	})
	require.NoError(t, err, "a down transport must not fail the task")
	assert.Equal(t, 1, b.calls)
}

func TestHandleSend_HardBroadcastErrorPropagates(t *testing.T) {
	disp, _ := newTestDispatcher(t, assert.AnError)

	err := disp.HandleSend(context.Background(), domain.ReminderPayload{
		Title:         "Math",
		StartAt:       "2025-01-10T10:00:00+03:00",
		IsEarlyNotice: true,
	})
	require.Error(t, err, "hard errors go back to the executor for retry")
}

func TestHandleSend_BadStartTime(t *testing.T) {
	disp, b := newTestDispatcher(t, nil)

	err := disp.HandleSend(context.Background(), domain.ReminderPayload{
		Title:   "Math",
		StartAt: "garbage",
	})
	require.Error(t, err)
	assert.Zero(t, b.calls)
}

func TestHandleSend_TimeFormat(t *testing.T) {
	disp, b := newTestDispatcher(t, nil)

	err := disp.HandleSend(context.Background(), domain.ReminderPayload{
		Title:         "Math",
		StartAt:       "2025-01-10T10:00:00+03:00",
		IsEarlyNotice: true,
	})
	require.NoError(t, err)

	start, _ := time.Parse(time.RFC3339, "2025-01-10T10:00:00+03:00")
	assert.Contains(t, b.message, start.Format("2006-01-02 15:04"))
}
