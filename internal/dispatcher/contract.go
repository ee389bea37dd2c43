package dispatcher

import "context"

type Broadcaster interface {
	Broadcast(ctx context.Context, channel, message string) error
}
