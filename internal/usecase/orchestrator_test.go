package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	"FinAlloc/internal/repository"
	svccache "FinAlloc/internal/service/cache"
	"FinAlloc/internal/services/drift"
	"FinAlloc/internal/services/optimizer"
	"FinAlloc/internal/services/signals"
	pkgcache "FinAlloc/pkg/cache"
)

var errProviderDown = errors.New("all providers failed")

type fakeSource struct {
	mu      sync.Mutex
	quotes  map[string]float64
	broken  map[string]bool
	sectors map[string]string
	asOf    time.Time
	calls   int

	// quotes for hanging symbols block until release is closed
	hanging map[string]bool
	release chan struct{}
}

func newFakeSource(quotes map[string]float64) *fakeSource {
	return &fakeSource{
		quotes:  quotes,
		broken:  map[string]bool{},
		sectors: map[string]string{},
		asOf:    time.Now().Add(-time.Minute).UTC(),
		hanging: map[string]bool{},
		release: make(chan struct{}),
	}
}

func (f *fakeSource) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	f.mu.Lock()
	hang := f.hanging[symbol]
	f.mu.Unlock()
	if hang {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	px, ok := f.quotes[symbol]
	if !ok || f.broken[symbol] {
		return nil, fmt.Errorf("quote %s: %w", symbol, errProviderDown)
	}
	return &models.Quote{Symbol: symbol, Price: px, PreviousClose: px, AsOf: f.asOf, Provider: "fake"}, nil
}

func (f *fakeSource) History(_ context.Context, symbol string, p models.HistoryParams) (*models.HistoricalSeries, error) {
	f.mu.Lock()
	broken := f.broken[symbol]
	px := f.quotes[symbol]
	f.mu.Unlock()
	if broken || px == 0 {
		return nil, fmt.Errorf("history %s: %w", symbol, errProviderDown)
	}
	s := &models.HistoricalSeries{Symbol: symbol, Resolution: p.Resolution}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 90; i++ {
		c := px * (1 + 0.1*math.Sin(float64(i)*0.3+float64(len(symbol)+int(symbol[0]))))
		s.Bars = append(s.Bars, models.Bar{Timestamp: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c})
	}
	return s, nil
}

func (f *fakeSource) Fundamentals(_ context.Context, symbol string) (*models.Fundamentals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sec, ok := f.sectors[symbol]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", symbol, errProviderDown)
	}
	return &models.Fundamentals{Symbol: symbol, Sector: sec}, nil
}

type fixedModel struct {
	id      string
	returns map[string]float64
	err     error
}

func (m *fixedModel) ID() string { return m.id }

func (m *fixedModel) Predict(_ context.Context, symbols []string, horizon int) ([]models.PredictionSignal, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]models.PredictionSignal, 0, len(symbols))
	for _, s := range symbols {
		if r, ok := m.returns[s]; ok {
			out = append(out, models.PredictionSignal{Symbol: s, PredictedReturn: r, Confidence: 0.8, Horizon: horizon})
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu          sync.Mutex
	allocations map[string]*models.Allocation
	reports     []*models.DriftReport
}

func (p *recordingPublisher) PublishAllocation(_ context.Context, id string, a *models.Allocation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allocations == nil {
		p.allocations = map[string]*models.Allocation{}
	}
	p.allocations[id] = a
	return nil
}

func (p *recordingPublisher) PublishDriftReport(_ context.Context, r *models.DriftReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, r)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type harness struct {
	orch   *Orchestrator
	source *fakeSource
	market *MarketData
	store  *repository.MemoryPortfolioStore
	pub    *recordingPublisher
	reg    *signals.Registry
}

func newHarness(t *testing.T, quotes map[string]float64) *harness {
	t.Helper()
	src := newFakeSource(quotes)
	mem := pkgcache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	tiered := svccache.NewTiered(mem, svccache.Options{}, nil, nil)
	market := NewMarketData(src, tiered, repository.NewMemorySeriesStore(), nil, nil)

	reg := signals.NewRegistry()
	reg.Register(&fixedModel{id: "fixed", returns: map[string]float64{"AAPL": 0.04, "MSFT": 0.02, "XOM": -0.01}}, "fixed", models.ModelTrained, "1")
	reg.Register(&fixedModel{id: "cold"}, "fixed", models.ModelNotTrained, "")
	reg.Register(&fixedModel{id: "broken", err: errors.New("inference server down")}, "fixed", models.ModelTrained, "1")

	store := repository.NewMemoryPortfolioStore()
	t.Cleanup(func() { _ = store.Close() })
	pub := &recordingPublisher{}

	orch := NewOrchestrator(
		market,
		signals.NewEngine(reg, time.Second, nil),
		optimizer.New(optimizer.Options{}, nil, nil),
		drift.NewMonitor(drift.Options{Threshold: 0.05, HysteresisBand: 0.2}, nil, nil),
		store,
		pub,
		OrchestratorOptions{DefaultModel: "fixed", SweepTimeout: time.Second, DefaultCashReserve: 0.05},
		nil,
		nil,
	)
	return &harness{orch: orch, source: src, market: market, store: store, pub: pub, reg: reg}
}

func defaultConstraints() models.AllocationConstraint {
	return models.AllocationConstraint{
		DefaultBound: models.WeightBound{Min: 0, Max: 0.8},
		RiskTier:     models.RiskModerate,
	}
}

func TestAnalyzeAndAllocateExcludesUnusableSymbols(t *testing.T) {
	h := newHarness(t, map[string]float64{"AAPL": 180, "MSFT": 400, "XOM": 110})
	h.source.broken["XOM"] = true

	resp, err := h.orch.AnalyzeAndAllocate(context.Background(), models.AllocationRequest{
		Symbols:     []string{"aapl", "MSFT", "XOM", "NOPE", "AAPL"},
		Constraints: defaultConstraints(),
	})
	require.NoError(t, err)

	assert.Contains(t, resp.Excluded, "XOM")
	assert.Contains(t, resp.Excluded, "NOPE")
	require.NotNil(t, resp.Allocation)
	assert.Len(t, resp.Allocation.Weights, 2)
	assert.InDelta(t, 0.95, resp.Allocation.InvestedWeight(), 1e-6)
	assert.Equal(t, models.StatusOptimal, resp.Allocation.Status)
	for _, w := range resp.Allocation.Weights {
		assert.GreaterOrEqual(t, w, -1e-9)
		assert.LessOrEqual(t, w, 0.8+1e-9)
	}
	require.Len(t, resp.Signals, 2)
	assert.Equal(t, "AAPL", resp.Signals[0].Symbol)
	assert.Equal(t, models.RegimeBull, resp.Regime)
}

func TestAnalyzeAndAllocateNoUsableData(t *testing.T) {
	h := newHarness(t, map[string]float64{})
	_, err := h.orch.AnalyzeAndAllocate(context.Background(), models.AllocationRequest{
		Symbols:     []string{"AAPL", "MSFT"},
		Constraints: defaultConstraints(),
	})
	assert.ErrorIs(t, err, models.ErrNoUsableData)
}

func TestAnalyzeAndAllocateFallsBackWhenModelUnavailable(t *testing.T) {
	h := newHarness(t, map[string]float64{"AAPL": 180, "MSFT": 400})

	for _, id := range []string{"cold", "broken"} {
		resp, err := h.orch.AnalyzeAndAllocate(context.Background(), models.AllocationRequest{
			Symbols:     []string{"AAPL", "MSFT"},
			ModelIDs:    []string{id},
			Constraints: defaultConstraints(),
		})
		require.NoError(t, err, id)
		assert.Equal(t, models.StatusFallback, resp.Allocation.Status, id)
		assert.Contains(t, resp.ModelErrors, id)
		assert.InDelta(t, 0.475, resp.Allocation.Weights["AAPL"], 1e-6)
		assert.InDelta(t, 0.475, resp.Allocation.Weights["MSFT"], 1e-6)
	}

	var se *models.SignalError
	_, err := h.orch.Signals(context.Background(), []string{"AAPL"}, "cold", 5)
	require.True(t, errors.As(err, &se))
	assert.ErrorIs(t, err, models.ErrModelUnavailable)
}

func TestAnalyzeAndAllocateUnknownModel(t *testing.T) {
	h := newHarness(t, map[string]float64{"AAPL": 180})
	_, err := h.orch.AnalyzeAndAllocate(context.Background(), models.AllocationRequest{
		Symbols:     []string{"AAPL"},
		ModelIDs:    []string{"nope"},
		Constraints: defaultConstraints(),
	})
	assert.ErrorIs(t, err, models.ErrUnknownModel)
}

func TestAnalyzeAndAllocateRejectsInvalidConstraints(t *testing.T) {
	h := newHarness(t, map[string]float64{"AAPL": 180})
	full := 1.0
	_, err := h.orch.AnalyzeAndAllocate(context.Background(), models.AllocationRequest{
		Symbols:     []string{"AAPL"},
		Constraints: defaultConstraints(),
		CashReserve: &full,
	})
	assert.ErrorIs(t, err, models.ErrInvalidConstraints)

	_, err = h.orch.AnalyzeAndAllocate(context.Background(), models.AllocationRequest{Constraints: defaultConstraints()})
	assert.ErrorIs(t, err, models.ErrInvalidConstraints)
}

func TestAnalyzeAndAllocateFillsSectorsFromFundamentals(t *testing.T) {
	h := newHarness(t, map[string]float64{"AAPL": 180, "MSFT": 400, "XOM": 110})
	h.source.sectors = map[string]string{"AAPL": "tech", "MSFT": "tech", "XOM": "energy"}
	c := defaultConstraints()
	c.SectorCaps = map[string]float64{"tech": 0.5}

	resp, err := h.orch.AnalyzeAndAllocate(context.Background(), models.AllocationRequest{
		Symbols:     []string{"AAPL", "MSFT", "XOM"},
		Constraints: c,
	})
	require.NoError(t, err)
	tech := resp.Allocation.Weights["AAPL"] + resp.Allocation.Weights["MSFT"]
	assert.LessOrEqual(t, tech, 0.5+1e-6)
}

func TestAllocationRegistersPortfolioTarget(t *testing.T) {
	h := newHarness(t, map[string]float64{"AAPL": 180, "MSFT": 400})
	ctx := context.Background()

	resp, err := h.orch.AnalyzeAndAllocate(ctx, models.AllocationRequest{
		Symbols:     []string{"AAPL", "MSFT"},
		Constraints: defaultConstraints(),
		PortfolioID: "p1",
		Holdings:    map[string]float64{"AAPL": 10},
		Cash:        500,
	})
	require.NoError(t, err)

	p, err := h.store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, resp.Allocation.Weights, p.TargetWeights)
	assert.Equal(t, resp.Allocation.ID, p.AllocationID)
	assert.Equal(t, models.DriftStable, p.State)
	assert.Equal(t, 500.0, p.Cash)
	assert.Contains(t, h.pub.allocations, "p1")
}

func seedPortfolio(t *testing.T, h *harness, id string, holdings map[string]float64) {
	t.Helper()
	require.NoError(t, h.store.Save(context.Background(), &models.Portfolio{
		ID:            id,
		TargetWeights: map[string]float64{"AAPL": 0.5, "MSFT": 0.5},
		Holdings:      holdings,
		State:         models.DriftStable,
	}))
}

func TestEvaluatePortfolioLifecycle(t *testing.T) {
	h := newHarness(t, map[string]float64{"AAPL": 50, "MSFT": 50})
	ctx := context.Background()
	seedPortfolio(t, h, "p1", map[string]float64{"AAPL": 50, "MSFT": 50})

	r, err := h.orch.EvaluatePortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.InDelta(t, 0, r.AggregateDrift, 1e-12)
	assert.Nil(t, r.Plan)

	// a streamed trade moves AAPL to 56: weights 0.528/0.472, drift 5.66%
	updater := NewQuoteUpdater(h.market, nil)
	require.NoError(t, updater.Process(ctx, &domrepo.Trade{Symbol: "AAPL", Timestamp: time.Now().Unix(), Price: 56, Volume: 1}))

	r, err = h.orch.EvaluatePortfolio(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, r.Plan)
	assert.Equal(t, models.DriftRecommendationIssued, r.State)

	r, err = h.orch.EvaluatePortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, r.Plan)
	assert.Equal(t, 1, r.EpisodeID)

	st, err := h.orch.Acknowledge(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.DriftAcknowledged, st)

	last, err := h.orch.LatestDriftReport(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, last.ID)
	assert.Len(t, h.pub.reports, 3)

	_, err = h.orch.EvaluatePortfolio(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrPortfolioNotFound)
}

func TestAcknowledgeWithoutRecommendation(t *testing.T) {
	h := newHarness(t, map[string]float64{"AAPL": 50, "MSFT": 50})
	seedPortfolio(t, h, "p1", map[string]float64{"AAPL": 1})

	_, err := h.orch.Acknowledge(context.Background(), "p1")
	assert.ErrorIs(t, err, drift.ErrNothingToAcknowledge)

	_, err = h.orch.LatestDriftReport(context.Background(), "p1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReEvaluateAllIsolatesFailures(t *testing.T) {
	h := newHarness(t, map[string]float64{"AAPL": 50, "MSFT": 50})
	seedPortfolio(t, h, "ok", map[string]float64{"AAPL": 60, "MSFT": 40})
	seedPortfolio(t, h, "calm", map[string]float64{"AAPL": 50, "MSFT": 50})
	seedPortfolio(t, h, "bad", map[string]float64{"AAPL": 10, "DELISTED": 5})

	rep := h.orch.ReEvaluateAll(context.Background())
	assert.Equal(t, 2, rep.Evaluated)
	assert.Equal(t, 1, rep.Triggered)
	require.Contains(t, rep.Failed, "bad")
	assert.Contains(t, rep.Failed["bad"], "DELISTED")
	assert.False(t, rep.FinishedAt.Before(rep.StartedAt))
}

func TestReEvaluateAllTimesOutHangingPortfolio(t *testing.T) {
	h := newHarness(t, map[string]float64{"AAPL": 50, "MSFT": 50, "SLOW": 20})
	h.source.hanging["SLOW"] = true
	t.Cleanup(func() { close(h.source.release) })
	h.orch.opts.SweepTimeout = 100 * time.Millisecond
	seedPortfolio(t, h, "ok", map[string]float64{"AAPL": 60, "MSFT": 40})
	seedPortfolio(t, h, "slow", map[string]float64{"AAPL": 50, "SLOW": 10})

	start := time.Now()
	rep := h.orch.ReEvaluateAll(context.Background())
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, 1, rep.Evaluated)
	require.Contains(t, rep.Failed, "slow")
	assert.Contains(t, rep.Failed["slow"], context.DeadlineExceeded.Error())
	assert.NotContains(t, rep.Failed, "ok")

	p, err := h.store.Get(context.Background(), "ok")
	require.NoError(t, err)
	assert.NotNil(t, p.LastReport)
	p, err = h.store.Get(context.Background(), "slow")
	require.NoError(t, err)
	assert.Nil(t, p.LastReport)
}

func TestEvaluatePortfolioReportsCancellation(t *testing.T) {
	h := newHarness(t, map[string]float64{"AAPL": 50, "MSFT": 50})
	seedPortfolio(t, h, "p1", map[string]float64{"AAPL": 50, "MSFT": 50})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.orch.EvaluatePortfolio(ctx, "p1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeAndAllocateCashReserve(t *testing.T) {
	h := newHarness(t, map[string]float64{"AAPL": 180, "MSFT": 400})
	zero := 0.0

	resp, err := h.orch.AnalyzeAndAllocate(context.Background(), models.AllocationRequest{
		Symbols:     []string{"AAPL", "MSFT"},
		Constraints: defaultConstraints(),
		CashReserve: &zero,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, resp.Allocation.CashReserve)
	assert.InDelta(t, 1.0, resp.Allocation.InvestedWeight(), 1e-6)

	resp, err = h.orch.AnalyzeAndAllocate(context.Background(), models.AllocationRequest{
		Symbols:     []string{"AAPL", "MSFT"},
		Constraints: defaultConstraints(),
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.05, resp.Allocation.CashReserve, 1e-12)
	assert.InDelta(t, 0.95, resp.Allocation.InvestedWeight(), 1e-6)
}

func TestAnalyzeAndAllocateRiskParity(t *testing.T) {
	h := newHarness(t, map[string]float64{"AAPL": 180, "MSFT": 400, "XOM": 110})
	c := defaultConstraints()
	c.Method = models.MethodRiskParity

	resp, err := h.orch.AnalyzeAndAllocate(context.Background(), models.AllocationRequest{
		Symbols:     []string{"AAPL", "MSFT", "XOM"},
		Constraints: c,
	})
	require.NoError(t, err)
	assert.Equal(t, models.MethodRiskParity, resp.Allocation.Method)
	assert.InDelta(t, 0.95, resp.Allocation.InvestedWeight(), 1e-6)
	assert.Len(t, resp.Allocation.Weights, 3)
	for _, w := range resp.Allocation.Weights {
		assert.Greater(t, w, 0.0)
	}
}
