package reservation

import (
	"context"
	"fmt"
	"time"

	"ms-ordering/internal/logger"
)

// Expirer expires whatever still holds stock past the cutoff and reports how
// many orders it touched.
type Expirer interface {
	ExpireStale(ctx context.Context, cutoff time.Time) (int, error)
}

// Sweeper periodically returns stock held by unpaid orders to the pool.
type Sweeper struct {
	Expirer  Expirer
	TTL      time.Duration
	Interval time.Duration
	Logger   *logger.Logger
	now      func() time.Time
}

func NewSweeper(expirer Expirer, ttl, interval time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		Expirer:  expirer,
		TTL:      ttl,
		Interval: interval,
		Logger:   log,
		now:      time.Now,
	}
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.TTL <= 0 || s.Interval <= 0 {
		s.Logger.Info("SWEEPER", "Reservation expiry disabled")
		return
	}
	s.Logger.Info("SWEEPER", fmt.Sprintf("Expiring reservations older than %s every %s", s.TTL, s.Interval))

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("SWEEPER", "Stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.Logger.Error("SWEEPER", fmt.Sprintf("Sweep failed: %v", err))
			}
		}
	}
}

// SweepOnce runs a single pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.TTL)
	n, err := s.Expirer.ExpireStale(ctx, cutoff)
	if n > 0 {
		s.Logger.Info("SWEEPER", fmt.Sprintf("Expired %d order(s) created before %s", n, cutoff.Format(time.RFC3339)))
	}
	return n, err
}
