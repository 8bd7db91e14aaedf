package disputes

import (
	"context"
	"log/slog"
	"time"
)

// Timer periodically sweeps for disputes past their SLA window.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewTimer creates a new staleness sweep timer.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			stale, err := t.service.SweepStale(ctx)
			if err != nil {
				t.logger.Error("stale dispute sweep failed", "error", err)
				continue
			}
			if len(stale) > 0 {
				t.logger.Warn("stale disputes past SLA", "count", len(stale))
			}
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}
