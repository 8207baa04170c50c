package settlement

import (
	"context"
	"log/slog"
	"time"
)

// SweepWorker periodically drives stale Created intents through capture.
// It closes the gap where a capture callback was lost entirely: the
// gateway's answer is the source of truth, and Settle being idempotent
// makes the retry safe.
type SweepWorker struct {
	service    *Service
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger
}

func NewSweepWorker(service *Service, interval, staleAfter time.Duration, logger *slog.Logger) *SweepWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepWorker{
		service:    service,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  50,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled.
func (w *SweepWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("reconciliation sweep started", "interval", w.interval, "stale_after", w.staleAfter)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) error {
	stale, err := w.service.orders.FindStaleCreated(ctx, w.staleAfter, w.batchSize)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	w.logger.Info("sweeping stale order intents", "count", len(stale))

	for _, intent := range stale {
		out, err := w.service.Capture(ctx, intent.OrderID)
		if err != nil {
			// Transient gateway trouble: leave the intent for the
			// next pass.
			w.logger.Warn("sweep capture failed",
				"order_id", intent.OrderID,
				"error", err,
			)
			continue
		}
		w.logger.Info("sweep resolved stale intent",
			"order_id", intent.OrderID,
			"outcome", string(out.Kind),
		)
	}
	return nil
}
