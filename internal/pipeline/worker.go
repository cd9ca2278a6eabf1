package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/valuation-pipeline/internal/model"
	"github.com/sells-group/valuation-pipeline/internal/store"
)

// Worker periodically sweeps for reports with work remaining and advances
// each one under a bounded concurrency limit. Overlapping sweeps are safe:
// the persisted in-flight job id keeps each report single-writer.
type Worker struct {
	orch     *Orchestrator
	interval time.Duration
	limit    int
}

// NewWorker constructs a worker sweeping at the given interval with at most
// limit concurrent advances.
func NewWorker(orch *Orchestrator, interval time.Duration, limit int) *Worker {
	if limit < 1 {
		limit = 1
	}
	return &Worker{orch: orch, interval: interval, limit: limit}
}

// Run sweeps until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			zap.L().Error("worker: sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep advances every pending or processing report once. A single report's
// failure is logged, never allowed to stop the sweep.
func (w *Worker) Sweep(ctx context.Context) error {
	var due []model.Report
	for _, status := range []model.ReportStatus{model.ReportStatusPending, model.ReportStatusProcessing} {
		rs, err := w.orch.store.ListReports(ctx, store.ReportFilter{Status: status})
		if err != nil {
			return err
		}
		due = append(due, rs...)
	}
	if len(due) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.limit)
	for _, r := range due {
		g.Go(func() error {
			res, err := w.orch.Advance(gctx, r.ID)
			if err != nil {
				zap.L().Warn("worker: advance failed",
					zap.String("report_id", r.ID), zap.Error(err))
				return nil
			}
			zap.L().Debug("worker: advanced",
				zap.String("report_id", r.ID),
				zap.String("status", string(res.Status)),
				zap.Int("pass", res.Pass))
			return nil
		})
	}
	return g.Wait()
}
