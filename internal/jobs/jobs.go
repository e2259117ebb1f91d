// Package jobs runs the periodic housekeeping: pending orders whose payment
// never arrived are cancelled after a TTL so stock queries stay honest.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type orderExpirer interface {
	ExpirePending(ctx context.Context, cutoff time.Time) (int64, error)
}

type Scheduler struct {
	cron   *cron.Cron
	orders orderExpirer
	ttl    time.Duration
	logger *slog.Logger
}

func NewScheduler(orders orderExpirer, ttl time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		orders: orders,
		ttl:    ttl,
		logger: logger,
	}
}

// Start registers the jobs and runs the scheduler until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, expireSpec string) error {
	if _, err := s.cron.AddFunc(expireSpec, func() { s.expirePendingOrders(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("job scheduler started", "expire_spec", expireSpec, "pending_ttl", s.ttl)

	go func() {
		<-ctx.Done()
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.logger.Info("job scheduler stopped")
	}()
	return nil
}

func (s *Scheduler) expirePendingOrders(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	n, err := s.orders.ExpirePending(ctx, cutoff)
	if err != nil {
		s.logger.Error("pending order expiry failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("expired pending orders", "count", n, "cutoff", cutoff)
	}
}
