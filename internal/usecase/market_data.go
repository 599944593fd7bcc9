package usecase

import (
	"context"
	"fmt"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	domsvc "FinAlloc/internal/domain/service"
	svccache "FinAlloc/internal/service/cache"
	applogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/util"
)

// MarketSource is the gateway surface the use cases read through.
type MarketSource interface {
	Quote(ctx context.Context, symbol string) (*models.Quote, error)
	History(ctx context.Context, symbol string, params models.HistoryParams) (*models.HistoricalSeries, error)
	Fundamentals(ctx context.Context, symbol string) (*models.Fundamentals, error)
}

// MarketData serves quotes, history and fundamentals through the tiered
// cache. Fetched history is appended to the series store, which also backs
// history reads when every provider fails.
type MarketData struct {
	source  MarketSource
	cache   *svccache.Tiered
	series  domrepo.SeriesStore
	logger  *applogger.Logger
	metrics domrepo.Metrics
	now     func() time.Time
}

func NewMarketData(source MarketSource, cache *svccache.Tiered, series domrepo.SeriesStore, l *applogger.Logger, m domrepo.Metrics) *MarketData {
	if l == nil {
		l = applogger.Nop()
	}
	return &MarketData{
		source:  source,
		cache:   cache,
		series:  series,
		logger:  l.Component("market_data"),
		metrics: m,
		now:     time.Now,
	}
}

// LatestQuote returns the cached or freshly fetched quote. The bool is true
// when the quote is stale.
func (d *MarketData) LatestQuote(ctx context.Context, symbol string) (models.Quote, bool, error) {
	key := svccache.Key(models.ClassQuote, symbol, "")
	res, err := svccache.GetOrFetch(ctx, d.cache, key, models.ClassQuote, func(ctx context.Context) (models.Quote, error) {
		q, err := d.source.Quote(ctx, symbol)
		if err != nil {
			return models.Quote{}, err
		}
		return *q, nil
	})
	if err != nil {
		return models.Quote{}, false, err
	}
	return res.Value, res.Stale, nil
}

// PeekQuote reads the cached quote without fetching.
func (d *MarketData) PeekQuote(ctx context.Context, symbol string) (models.Quote, bool) {
	res, ok := svccache.Peek[models.Quote](ctx, d.cache, svccache.Key(models.ClassQuote, symbol, ""), models.ClassQuote)
	return res.Value, ok
}

// ApplyTrade derives a newer quote from a streamed trade. Trades for symbols
// with no cached quote, or older than the cached one, are ignored.
func (d *MarketData) ApplyTrade(ctx context.Context, t *domrepo.Trade) (models.Quote, bool, error) {
	current, ok := d.PeekQuote(ctx, t.Symbol)
	if !ok {
		return models.Quote{}, false, nil
	}
	next := current.WithTrade(t.Price, time.Unix(t.Timestamp, 0).UTC())
	if !next.Supersedes(current) {
		return current, false, nil
	}
	next.Provider = "stream"
	if err := svccache.Put(ctx, d.cache, svccache.Key(models.ClassQuote, t.Symbol, ""), models.ClassQuote, next); err != nil {
		return models.Quote{}, false, fmt.Errorf("store live quote: %w", err)
	}
	return next, true, nil
}

// Invalidate forgets everything cached for symbol. Bars already in the
// series store are kept.
func (d *MarketData) Invalidate(ctx context.Context, symbol string) error {
	if err := d.cache.InvalidateSymbol(ctx, symbol); err != nil {
		return err
	}
	d.logger.Info("cache invalidated", applogger.String("symbol", symbol))
	return nil
}

// History returns daily bars covering the last days calendar days.
func (d *MarketData) History(ctx context.Context, symbol string, days int) (models.HistoricalSeries, bool, error) {
	from, to := util.DayRange(d.now(), days)
	return d.HistoryRange(ctx, symbol, models.HistoryParams{Resolution: models.ResolutionDaily, From: from, To: to})
}

// HistoryRange returns bars for an explicit range and resolution.
func (d *MarketData) HistoryRange(ctx context.Context, symbol string, p models.HistoryParams) (models.HistoricalSeries, bool, error) {
	if !domrepo.IsValidResolution(p.Resolution) {
		p.Resolution = domrepo.DefaultResolution()
	}
	params := fmt.Sprintf("%s|%d|%d", p.Resolution, p.From.Unix(), p.To.Unix())
	key := svccache.Key(models.ClassHistory, symbol, params)

	res, err := svccache.GetOrFetch(ctx, d.cache, key, models.ClassHistory, func(ctx context.Context) (models.HistoricalSeries, error) {
		return d.fetchHistory(ctx, symbol, p)
	})
	if err != nil {
		return models.HistoricalSeries{}, false, err
	}
	return res.Value, res.Stale, nil
}

func (d *MarketData) fetchHistory(ctx context.Context, symbol string, p models.HistoryParams) (models.HistoricalSeries, error) {
	s, err := d.source.History(ctx, symbol, p)
	if err != nil {
		if d.series == nil {
			return models.HistoricalSeries{}, err
		}
		stored, lerr := d.series.Load(ctx, symbol, p.Resolution, p.From, p.To)
		if lerr != nil || len(stored.Bars) == 0 {
			return models.HistoricalSeries{}, err
		}
		d.logger.Warn("providers failed, serving stored history",
			applogger.String("symbol", symbol),
			applogger.Int("bars", len(stored.Bars)),
			applogger.Error(err))
		return stored, nil
	}
	if d.series != nil && len(s.Bars) > 0 {
		if aerr := d.series.Append(ctx, *s); aerr != nil {
			d.logger.Warn("append series failed", applogger.String("symbol", symbol), applogger.Error(aerr))
			if d.metrics != nil {
				d.metrics.RecordError("series_append")
			}
		}
	}
	return *s, nil
}

// Fundamentals returns the company profile used for sector mapping.
func (d *MarketData) Fundamentals(ctx context.Context, symbol string) (models.Fundamentals, bool, error) {
	key := svccache.Key(models.ClassFundamentals, symbol, "")
	res, err := svccache.GetOrFetch(ctx, d.cache, key, models.ClassFundamentals, func(ctx context.Context) (models.Fundamentals, error) {
		f, err := d.source.Fundamentals(ctx, symbol)
		if err != nil {
			return models.Fundamentals{}, err
		}
		return *f, nil
	})
	if err != nil {
		return models.Fundamentals{}, false, err
	}
	return res.Value, res.Stale, nil
}

var _ domsvc.HistorySource = (*MarketData)(nil)
