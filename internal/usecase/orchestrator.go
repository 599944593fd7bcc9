package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	"FinAlloc/internal/services/drift"
	"FinAlloc/internal/services/features"
	"FinAlloc/internal/services/optimizer"
	"FinAlloc/internal/services/signals"
	applogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/util"
)

type OrchestratorOptions struct {
	MaxInFlight      int
	HistoryDays      int
	DefaultModel     string
	SweepTimeout     time.Duration
	SweepConcurrency int
	LockTTL          time.Duration

	// DefaultCashReserve applies when a request omits the reserve.
	DefaultCashReserve float64
}

func (o *OrchestratorOptions) applyDefaults() {
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 8
	}
	if o.HistoryDays <= 0 {
		o.HistoryDays = 365
	}
	if o.DefaultModel == "" {
		o.DefaultModel = "momentum"
	}
	if o.SweepTimeout <= 0 {
		o.SweepTimeout = 30 * time.Second
	}
	if o.SweepConcurrency <= 0 {
		o.SweepConcurrency = 4
	}
	if o.LockTTL <= 0 {
		o.LockTTL = time.Minute
	}
}

// Orchestrator sequences market data, signals, optimization and drift
// evaluation for on-demand requests and scheduled sweeps.
type Orchestrator struct {
	market     *MarketData
	engine     *signals.Engine
	optimizer  *optimizer.Optimizer
	monitor    *drift.Monitor
	portfolios domrepo.PortfolioStore
	publisher  domrepo.Publisher
	opts       OrchestratorOptions
	logger     *applogger.Logger
	metrics    domrepo.Metrics
	now        func() time.Time
}

func NewOrchestrator(
	market *MarketData,
	engine *signals.Engine,
	opt *optimizer.Optimizer,
	monitor *drift.Monitor,
	portfolios domrepo.PortfolioStore,
	publisher domrepo.Publisher,
	opts OrchestratorOptions,
	l *applogger.Logger,
	m domrepo.Metrics,
) *Orchestrator {
	opts.applyDefaults()
	if l == nil {
		l = applogger.Nop()
	}
	return &Orchestrator{
		market:     market,
		engine:     engine,
		optimizer:  opt,
		monitor:    monitor,
		portfolios: portfolios,
		publisher:  publisher,
		opts:       opts,
		logger:     l.Component("orchestrator"),
		metrics:    m,
		now:        time.Now,
	}
}

// symbolData is one symbol's fan-out result.
type symbolData struct {
	quote   models.Quote
	history models.HistoricalSeries
	sector  string
	stale   bool
	err     error
}

func (d *symbolData) usable() bool {
	return d.err == nil
}

// AnalyzeAndAllocate fetches data for every symbol, asks the models for
// signals and optimizes. Symbols without usable data are excluded and
// reported. When PortfolioID is set the allocation becomes that
// portfolio's target.
func (o *Orchestrator) AnalyzeAndAllocate(ctx context.Context, req models.AllocationRequest) (*models.AllocationResponse, error) {
	symbols := util.NormalizeSymbols(req.Symbols)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols", models.ErrInvalidConstraints)
	}
	req.Constraints.CashReserve = o.opts.DefaultCashReserve
	if req.CashReserve != nil {
		req.Constraints.CashReserve = *req.CashReserve
	}
	if err := req.Constraints.Validate(); err != nil {
		return nil, err
	}
	horizon := req.Horizon
	if horizon <= 0 {
		horizon = signals.DefaultHorizon
	}
	start := time.Now()

	data, err := o.collect(ctx, symbols, len(req.Constraints.SectorCaps) > 0)
	if err != nil {
		return nil, err
	}

	resp := &models.AllocationResponse{PortfolioID: req.PortfolioID}
	var usable []string
	returns := make(map[string][]float64, len(symbols))
	for _, s := range symbols {
		d := data[s]
		if !d.usable() {
			if resp.Excluded == nil {
				resp.Excluded = make(map[string]string)
			}
			resp.Excluded[s] = d.err.Error()
			continue
		}
		usable = append(usable, s)
		if d.stale {
			resp.Stale = append(resp.Stale, s)
		}
		returns[s] = features.SimpleReturns(d.history.Closes())
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("%w: %d symbols requested", models.ErrNoUsableData, len(symbols))
	}

	constraints := o.withSectors(req.Constraints, data)
	risk := optimizer.BuildRiskModel(usable, returns, horizon, o.optimizer.Shrinkage())

	sigs, modelErrs, err := o.signalsFor(ctx, usable, req.ModelIDs, horizon)
	if err != nil {
		return nil, err
	}
	if len(modelErrs) > 0 {
		resp.ModelErrors = make(map[string]string, len(modelErrs))
		for id, e := range modelErrs {
			resp.ModelErrors[id] = e.Error()
		}
	}

	var alloc *models.Allocation
	if len(sigs) == 0 && len(modelErrs) > 0 {
		alloc, err = o.optimizer.EqualWeight(usable, constraints, risk, "model unavailable: "+firstError(modelErrs))
	} else {
		alloc, err = o.optimizer.Optimize(usable, sigs, constraints, risk)
	}
	if err != nil {
		return nil, err
	}

	resp.Allocation = alloc
	resp.Signals = sigs
	resp.Regime = signals.MarketRegime(sigs)

	if req.PortfolioID != "" {
		if err := o.registerTarget(ctx, req, alloc); err != nil {
			return nil, err
		}
	}
	if o.metrics != nil {
		o.metrics.RecordLatency("analyze_allocate", time.Since(start).Seconds())
	}
	o.logger.Info("allocation produced",
		applogger.Int("symbols", len(usable)),
		applogger.Int("excluded", len(resp.Excluded)),
		applogger.String("status", string(alloc.Status)),
		applogger.Duration("elapsed_ms", time.Since(start)))
	return resp, nil
}

// collect runs the bounded fan-out. Per-symbol failures are recorded, not
// returned; only cancellation of ctx aborts the batch.
func (o *Orchestrator) collect(ctx context.Context, symbols []string, wantSectors bool) (map[string]*symbolData, error) {
	out := make(map[string]*symbolData, len(symbols))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxInFlight)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			d := o.fetchSymbol(gctx, sym, wantSectors)
			mu.Lock()
			out[sym] = d
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) fetchSymbol(ctx context.Context, sym string, wantSector bool) *symbolData {
	d := &symbolData{}
	q, qStale, qErr := o.market.LatestQuote(ctx, sym)
	h, hStale, hErr := o.market.History(ctx, sym, o.opts.HistoryDays)

	switch {
	case qErr != nil && hErr != nil:
		d.err = errors.Join(qErr, hErr)
		return d
	case qErr != nil && len(h.Bars) == 0:
		d.err = qErr
		return d
	case qErr != nil:
		o.logger.Debug("quote unavailable, using history", applogger.String("symbol", sym), applogger.Error(qErr))
	case hErr != nil:
		o.logger.Debug("history unavailable", applogger.String("symbol", sym), applogger.Error(hErr))
	}
	d.quote, d.history = q, h
	d.stale = qStale || hStale

	if wantSector {
		if f, _, err := o.market.Fundamentals(ctx, sym); err == nil {
			d.sector = f.Sector
		}
	}
	return d
}

// withSectors fills sector labels from fundamentals where the caller gave none.
func (o *Orchestrator) withSectors(c models.AllocationConstraint, data map[string]*symbolData) models.AllocationConstraint {
	if len(c.SectorCaps) == 0 {
		return c
	}
	sectors := make(map[string]string, len(data))
	for s, d := range data {
		if d.sector != "" {
			sectors[s] = d.sector
		}
	}
	for s, sec := range c.Sectors {
		sectors[s] = sec
	}
	c.Sectors = sectors
	return c
}

// signalsFor queries the requested models. ErrUnknownModel is returned to
// the caller; any other model failure is reported and leaves the model out.
func (o *Orchestrator) signalsFor(ctx context.Context, symbols, modelIDs []string, horizon int) ([]models.PredictionSignal, map[string]error, error) {
	if len(modelIDs) == 0 {
		modelIDs = []string{o.opts.DefaultModel}
	}
	res := o.engine.GenerateEnsemble(ctx, symbols, modelIDs, horizon)
	for _, err := range res.Errors {
		if errors.Is(err, models.ErrUnknownModel) {
			return nil, nil, err
		}
	}
	for id, err := range res.Errors {
		o.logger.Warn("model skipped", applogger.String("model", id), applogger.Error(err))
	}
	return res.Merged(), res.Errors, nil
}

func (o *Orchestrator) registerTarget(ctx context.Context, req models.AllocationRequest, alloc *models.Allocation) error {
	unlock, err := o.portfolios.Lock(ctx, req.PortfolioID, o.opts.LockTTL)
	if err != nil {
		return fmt.Errorf("lock portfolio %s: %w", req.PortfolioID, err)
	}
	defer unlock()

	p, err := o.portfolios.Get(ctx, req.PortfolioID)
	switch {
	case errors.Is(err, models.ErrPortfolioNotFound):
		p = &models.Portfolio{ID: req.PortfolioID, Holdings: map[string]float64{}}
	case err != nil:
		return fmt.Errorf("load portfolio %s: %w", req.PortfolioID, err)
	}

	p.TargetWeights = alloc.Weights
	p.CashReserve = alloc.CashReserve
	p.AllocationID = alloc.ID
	p.State = models.DriftStable
	if req.Holdings != nil {
		p.Holdings = req.Holdings
		p.Cash = req.Cash
	}
	p.UpdatedAt = o.now()
	if err := o.portfolios.Save(ctx, p); err != nil {
		return fmt.Errorf("save portfolio %s: %w", p.ID, err)
	}

	if o.publisher != nil {
		if err := o.publisher.PublishAllocation(ctx, p.ID, alloc); err != nil {
			o.logger.Warn("publish allocation failed", applogger.String("portfolio", p.ID), applogger.Error(err))
			if o.metrics != nil {
				o.metrics.RecordError("publish_allocation")
			}
		}
	}
	return nil
}

// EvaluatePortfolio runs one drift evaluation and persists the outcome.
func (o *Orchestrator) EvaluatePortfolio(ctx context.Context, id string) (*models.DriftReport, error) {
	unlock, err := o.portfolios.Lock(ctx, id, o.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock portfolio %s: %w", id, err)
	}
	defer unlock()

	p, err := o.portfolios.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	prices, err := o.prices(ctx, p)
	if err != nil {
		o.logger.Warn("drift evaluation aborted", applogger.String("portfolio", id), applogger.Error(err))
		return nil, err
	}
	report, err := o.monitor.Evaluate(p, prices, o.now())
	if err != nil {
		o.logger.Warn("drift evaluation failed", applogger.String("portfolio", id), applogger.Error(err))
		return nil, err
	}

	drift.Apply(p, report)
	if err := o.portfolios.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save portfolio %s: %w", id, err)
	}
	if o.publisher != nil {
		if err := o.publisher.PublishDriftReport(ctx, report); err != nil {
			o.logger.Warn("publish drift report failed", applogger.String("portfolio", id), applogger.Error(err))
		}
	}
	return report, nil
}

// prices fetches live quotes for held symbols. Missing quotes are left out
// so the monitor can report them. A cancelled or expired ctx is an error of
// its own rather than a set of missing quotes.
func (o *Orchestrator) prices(ctx context.Context, p *models.Portfolio) (map[string]float64, error) {
	out := make(map[string]float64, len(p.Holdings))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(o.opts.MaxInFlight)
	for sym, qty := range p.Holdings {
		if qty == 0 {
			continue
		}
		sym := sym
		g.Go(func() error {
			q, _, err := o.market.LatestQuote(ctx, sym)
			if err != nil || q.Price <= 0 {
				return nil
			}
			mu.Lock()
			out[sym] = q.Price
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("quotes for portfolio %s: %w", p.ID, err)
	}
	return out, nil
}

// Acknowledge marks the outstanding recommendation of a portfolio as seen.
func (o *Orchestrator) Acknowledge(ctx context.Context, id string) (models.DriftState, error) {
	unlock, err := o.portfolios.Lock(ctx, id, o.opts.LockTTL)
	if err != nil {
		return "", fmt.Errorf("lock portfolio %s: %w", id, err)
	}
	defer unlock()

	p, err := o.portfolios.Get(ctx, id)
	if err != nil {
		return "", err
	}
	st, err := o.monitor.Acknowledge(p.State)
	if err != nil {
		return p.State, err
	}
	p.State = st
	p.UpdatedAt = o.now()
	if err := o.portfolios.Save(ctx, p); err != nil {
		return "", fmt.Errorf("save portfolio %s: %w", id, err)
	}
	return st, nil
}

// Signals is the read-only signal query.
func (o *Orchestrator) Signals(ctx context.Context, symbols []string, modelID string, horizon int) (*models.SignalSet, error) {
	if modelID == "" {
		modelID = o.opts.DefaultModel
	}
	if horizon <= 0 {
		horizon = signals.DefaultHorizon
	}
	sigs, err := o.engine.GenerateSignals(ctx, util.NormalizeSymbols(symbols), modelID, horizon)
	if err != nil {
		return nil, err
	}
	return &models.SignalSet{
		ModelID:     modelID,
		Horizon:     horizon,
		Regime:      signals.MarketRegime(sigs),
		Signals:     sigs,
		GeneratedAt: o.now(),
	}, nil
}

// LatestDriftReport returns the last stored evaluation of a portfolio.
func (o *Orchestrator) LatestDriftReport(ctx context.Context, id string) (*models.DriftReport, error) {
	p, err := o.portfolios.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.LastReport == nil {
		return nil, fmt.Errorf("%w: no drift report for %s", models.ErrNotFound, id)
	}
	return p.LastReport, nil
}

// Models lists the registry states.
func (o *Orchestrator) Models() []models.ModelState { return o.engine.Registry().States() }

// SetModelState changes a model's lifecycle.
func (o *Orchestrator) SetModelState(id string, lifecycle models.ModelLifecycle, version string) (models.ModelState, error) {
	return o.engine.Registry().SetState(id, lifecycle, version)
}

// firstError renders the error of the lowest model id.
func firstError(errs map[string]error) string {
	ids := make([]string, 0, len(errs))
	for id := range errs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return errs[ids[0]].Error()
}
