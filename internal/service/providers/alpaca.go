package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"FinAlloc/internal/domain/models"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

const alpacaName = "alpaca"

// AlpacaData is the subset of *marketdata.Client used here.
type AlpacaData interface {
	GetLatestTrade(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error)
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// Alpaca serves quotes and bars from the Alpaca market data API. It has no
// fundamentals endpoint.
type Alpaca struct {
	data       AlpacaData
	configured bool
	now        func() time.Time
}

func NewAlpaca(apiKey, apiSecret string) *Alpaca {
	return &Alpaca{
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
		configured: apiKey != "" && apiSecret != "",
		now:        time.Now,
	}
}

// NewAlpacaWithClient wraps a pre-built data client.
func NewAlpacaWithClient(data AlpacaData) *Alpaca {
	return &Alpaca{data: data, configured: data != nil, now: time.Now}
}

func (a *Alpaca) Name() string    { return alpacaName }
func (a *Alpaca) Available() bool { return a.configured }

// alpacaErr classifies SDK errors, which only expose the status in the message.
func alpacaErr(class models.DataClass, symbol string, err error) error {
	msg := err.Error()
	kind := models.FetchUnavailable
	switch {
	case strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "too many requests"):
		kind = models.FetchRateLimited
	case strings.Contains(msg, "422") || strings.Contains(msg, "invalid symbol"):
		kind = models.FetchNotFound
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		kind = models.FetchTimeout
	}
	return &models.FetchError{Kind: kind, Provider: alpacaName, Class: class, Symbol: symbol, Err: err}
}

// Quote combines the latest trade with the two most recent daily bars.
func (a *Alpaca) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(alpacaName, models.ClassQuote, symbol, err)
	}
	trade, err := a.data.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return nil, alpacaErr(models.ClassQuote, symbol, err)
	}
	if trade == nil || trade.Price <= 0 {
		return nil, malformed(alpacaName, models.ClassQuote, symbol, fmt.Errorf("empty trade"))
	}

	now := a.now()
	bars, err := a.data.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     now.AddDate(0, 0, -7),
		End:       now,
	})
	if err != nil {
		return nil, alpacaErr(models.ClassQuote, symbol, err)
	}

	q := models.Quote{Symbol: symbol, Price: trade.Price, AsOf: trade.Timestamp.UTC(), Provider: alpacaName}
	if n := len(bars); n > 0 {
		today := bars[n-1]
		q.Open, q.High, q.Low = today.Open, today.High, today.Low
		if n > 1 {
			q.PreviousClose = bars[n-2].Close
			q.Change = q.Price - q.PreviousClose
			if q.PreviousClose > 0 {
				q.ChangePercent = q.Change / q.PreviousClose * 100
			}
		}
	}
	return &q, nil
}

func (a *Alpaca) History(ctx context.Context, symbol string, p models.HistoryParams) (*models.HistoricalSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(alpacaName, models.ClassHistory, symbol, err)
	}
	to := p.To
	if to.IsZero() {
		to = a.now()
	}
	from := p.From
	if from.IsZero() {
		from = to.AddDate(-1, 0, 0)
	}

	raw, err := a.data.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     from,
		End:       to,
	})
	if err != nil {
		return nil, alpacaErr(models.ClassHistory, symbol, err)
	}

	bars := make([]models.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, models.Bar{
			Timestamp: dayStart(b.Timestamp),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
		})
	}
	res := models.ResolutionDaily
	if p.Resolution == models.ResolutionWeekly {
		res = models.ResolutionWeekly
		bars = weekly(bars)
	}
	return &models.HistoricalSeries{Symbol: symbol, Resolution: res, Bars: bars}, nil
}

func (a *Alpaca) Fundamentals(_ context.Context, symbol string) (*models.Fundamentals, error) {
	return nil, unsupported(alpacaName, models.ClassFundamentals, symbol)
}
