package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/application"
)

type Sweeper interface {
	RunMaturationSweep(ctx context.Context) (application.SweepResult, error)
}

type MaturationWorker struct {
	logger   *slog.Logger
	sweeper  Sweeper
	interval time.Duration
}

func NewMaturationWorker(logger *slog.Logger, sweeper Sweeper, interval time.Duration) *MaturationWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &MaturationWorker{
		logger:   logger.With("module", "events.maturation_worker", "layer", "adapter"),
		sweeper:  sweeper,
		interval: interval,
	}
}

func (w *MaturationWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		res, err := w.sweeper.RunMaturationSweep(ctx)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			w.logger.ErrorContext(ctx, "maturation sweep failed",
				"operation", "sweep",
				"outcome", "failure",
				"scanned", res.Scanned,
				"confirmed", res.Confirmed,
				"failed", res.Failed,
				"error", err,
			)
		case res.Confirmed > 0:
			w.logger.InfoContext(ctx, "maturation sweep confirmed commissions",
				"operation", "sweep",
				"outcome", "success",
				"scanned", res.Scanned,
				"confirmed", res.Confirmed,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
