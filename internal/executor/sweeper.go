package executor

import (
	"context"
	"time"

	"github.com/wb-go/wbf/zlog"
)

// Sweeper periodically drains due tasks straight from the store. It backs
// up the broker wake-ups: a lost delayed message or an expired claim from a
// crashed worker is picked up here after the visibility timeout elapses.
type Sweeper struct {
	exec     *Executor
	interval time.Duration
	done     chan struct{}
}

func NewSweeper(exec *Executor, interval time.Duration) *Sweeper {
	return &Sweeper{
		exec:     exec,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	zlog.Logger.Info().Dur("interval", s.interval).Msg("Starting due-task sweeper")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Info().Msg("Sweeper context cancelled")
			return
		case <-s.done:
			zlog.Logger.Info().Msg("Sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) Stop() {
	close(s.done)
}

func (s *Sweeper) sweep(ctx context.Context) {
	for {
		processed, err := s.exec.ProcessNextDue(ctx)
		if err != nil {
			zlog.Logger.Error().Err(err).Msg("Sweep pass failed")
			return
		}
		if !processed {
			return
		}
	}
}
