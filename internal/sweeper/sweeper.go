package sweeper

import (
	"context"
	"time"

	"github.com/labstack/gommon/log"
)

type holdReconciler interface {
	ReconcileExpired(ctx context.Context) ([]uint64, error)
}

type orderExpirer interface {
	ExpirePending(ctx context.Context) ([]string, error)
}

// Sweeper is the authoritative expiry path.  Each pass gives lapsed
// holds back and then expires pending orders past their deadline, with
// or without connected clients.
type Sweeper struct {
	holds    holdReconciler
	orders   orderExpirer
	interval time.Duration
	logger   *log.Logger
}

func New(holds holdReconciler, orders orderExpirer, interval time.Duration, logger *log.Logger) *Sweeper {
	if logger == nil {
		logger = log.New("sweeper")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{holds: holds, orders: orders, interval: interval, logger: logger}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infof("sweeper started interval=%s", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one pass.  A failing step is logged and does not stop the
// other.
func (s *Sweeper) Tick(ctx context.Context) {
	start := time.Now()
	seats, err := s.holds.ReconcileExpired(ctx)
	if err != nil {
		s.logger.Errorf("reconcile holds failed: %v", err)
	}
	var orders []string
	if s.orders != nil {
		orders, err = s.orders.ExpirePending(ctx)
		if err != nil {
			s.logger.Errorf("expire pending orders failed: %v", err)
		}
	}
	for _, id := range orders {
		s.logger.Infof("order expired order=%s", id)
	}
	s.logger.Infof("sweep pass released_seats=%d expired_orders=%d took=%s", len(seats), len(orders), time.Since(start).Round(time.Millisecond))
}
