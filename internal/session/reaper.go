package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Reaper periodically ends overdue sessions so that groups nobody polls do
// not keep a stale active session.
type Reaper struct {
	coordinator *Coordinator
	interval    time.Duration
	logger      *slog.Logger
}

// NewReaper creates a reaper. A non-positive interval uses constants.DefaultReapInterval.
func NewReaper(coordinator *Coordinator, interval time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = constants.DefaultReapInterval
	}
	if logger == nil {
		logger = coordinator.logger
	}
	return &Reaper{coordinator: coordinator, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	n, err := r.coordinator.ExpireOverdue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("session reaper sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		r.logger.Info("session reaper ended overdue sessions", "count", n)
	}
}
