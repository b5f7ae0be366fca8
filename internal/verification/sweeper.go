package verification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/smsauth/smsauth/internal/identity"
)

// Sweeper periodically clears expired codes. Failures are logged and never
// returned.
type Sweeper struct {
	repo     identity.Repository
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper builds a sweeper running every interval.
func NewSweeper(repo identity.Repository, clock clockwork.Clock, interval time.Duration, logger *slog.Logger) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{repo: repo, clock: clock, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("code sweeper started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("code sweeper stopped")
			return
		case <-ticker.Chan():
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and reports how many codes were cleared.
func (s *Sweeper) Sweep(ctx context.Context) (cleared int64) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("code sweep panicked", slog.String("panic", fmt.Sprint(p)))
			cleared = 0
		}
	}()

	n, err := s.repo.SweepExpired(ctx, s.clock.Now().UTC())
	if err != nil {
		s.logger.Warn("code sweep failed", slog.Any("error", err))
		return 0
	}
	if n > 0 {
		s.logger.Info("expired codes cleared", slog.Int64("count", n))
	}
	return n
}
