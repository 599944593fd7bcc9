package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	"FinAlloc/internal/repository"
	svccache "FinAlloc/internal/service/cache"
	pkgcache "FinAlloc/pkg/cache"
)

func newMarket(t *testing.T, src *fakeSource, series domrepo.SeriesStore) *MarketData {
	t.Helper()
	mem := pkgcache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	return NewMarketData(src, svccache.NewTiered(mem, svccache.Options{}, nil, nil), series, nil, nil)
}

func TestLatestQuoteIsCached(t *testing.T) {
	src := newFakeSource(map[string]float64{"AAPL": 180})
	m := newMarket(t, src, nil)
	ctx := context.Background()

	q, stale, err := m.LatestQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, 180.0, q.Price)

	_, _, err = m.LatestQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestApplyTradeOnlyAdvancesCachedQuotes(t *testing.T) {
	src := newFakeSource(map[string]float64{"AAPL": 180})
	m := newMarket(t, src, nil)
	ctx := context.Background()
	now := time.Now().Unix()

	_, applied, err := m.ApplyTrade(ctx, &domrepo.Trade{Symbol: "AAPL", Timestamp: now, Price: 181})
	require.NoError(t, err)
	assert.False(t, applied)

	_, _, err = m.LatestQuote(ctx, "AAPL")
	require.NoError(t, err)

	q, applied, err := m.ApplyTrade(ctx, &domrepo.Trade{Symbol: "AAPL", Timestamp: now, Price: 181})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 181.0, q.Price)
	assert.Equal(t, "stream", q.Provider)

	// an older print does not roll the quote back
	_, applied, err = m.ApplyTrade(ctx, &domrepo.Trade{Symbol: "AAPL", Timestamp: now - 3600, Price: 150})
	require.NoError(t, err)
	assert.False(t, applied)

	cached, ok := m.PeekQuote(ctx, "AAPL")
	require.True(t, ok)
	assert.Equal(t, 181.0, cached.Price)
}

func TestHistoryFallsBackToSeriesStore(t *testing.T) {
	src := newFakeSource(map[string]float64{"AAPL": 100})
	series := repository.NewMemorySeriesStore()
	m := newMarket(t, src, series)
	ctx := context.Background()

	// the fake's bars start in 2024; widen the window to cover them
	from := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	p := models.HistoryParams{Resolution: models.ResolutionDaily, From: from, To: to}

	s, _, err := m.HistoryRange(ctx, "AAPL", p)
	require.NoError(t, err)
	require.Len(t, s.Bars, 90)

	stored, err := series.Load(ctx, "AAPL", models.ResolutionDaily, from, to)
	require.NoError(t, err)
	assert.Len(t, stored.Bars, 90)

	// a different range misses the cache; with providers down the store serves it
	src.broken["AAPL"] = true
	p.To = to.Add(24 * time.Hour)
	s, _, err = m.HistoryRange(ctx, "AAPL", p)
	require.NoError(t, err)
	assert.Len(t, s.Bars, 90)

	_, _, err = m.HistoryRange(ctx, "MSFT", p)
	assert.ErrorIs(t, err, errProviderDown)
}
