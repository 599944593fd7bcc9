package usecase

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"FinAlloc/internal/domain/models"
	applogger "FinAlloc/pkg/logger"
)

// ReEvaluateAll runs a drift evaluation for every stored portfolio. Each
// portfolio gets its own deadline and a failure never stops the sweep.
func (o *Orchestrator) ReEvaluateAll(ctx context.Context) models.SweepReport {
	report := models.SweepReport{StartedAt: o.now()}

	ids, err := o.portfolios.List(ctx)
	if err != nil {
		o.logger.Error("list portfolios", applogger.Error(err))
		report.Failed = map[string]string{"*": err.Error()}
		report.FinishedAt = o.now()
		return report
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(o.opts.SweepConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				o.fail(&report, id, ctx.Err())
				mu.Unlock()
				return nil
			}
			uctx, cancel := context.WithTimeout(ctx, o.opts.SweepTimeout)
			defer cancel()

			r, err := o.EvaluatePortfolio(uctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				o.fail(&report, id, err)
				return nil
			}
			report.Evaluated++
			if r.Plan != nil {
				report.Triggered++
			}
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = o.now()
	o.logger.Info("sweep finished",
		applogger.Int("portfolios", len(ids)),
		applogger.Int("evaluated", report.Evaluated),
		applogger.Int("triggered", report.Triggered),
		applogger.Int("failed", len(report.Failed)),
		applogger.Duration("elapsed_ms", report.FinishedAt.Sub(report.StartedAt)))
	if o.metrics != nil {
		o.metrics.RecordLatency("sweep", report.FinishedAt.Sub(report.StartedAt).Seconds())
	}
	return report
}

func (o *Orchestrator) fail(r *models.SweepReport, id string, err error) {
	if r.Failed == nil {
		r.Failed = make(map[string]string)
	}
	r.Failed[id] = err.Error()
	if o.metrics != nil {
		o.metrics.RecordError("sweep_portfolio")
	}
}

