package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"FinAlloc/internal/domain/models"
	xhttp "FinAlloc/pkg/http"
)

const finnhubName = "finnhub"

// Finnhub serves quotes, daily candles and company profiles from the Finnhub REST API.
type Finnhub struct {
	apiKey  string
	baseURL string
	client  *xhttp.Client
	now     func() time.Time
}

func NewFinnhub(apiKey, baseURL string, opts ...xhttp.ClientOption) *Finnhub {
	return &Finnhub{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  xhttp.NewClient(opts...),
		now:     time.Now,
	}
}

func (f *Finnhub) Name() string    { return finnhubName }
func (f *Finnhub) Available() bool { return f.apiKey != "" }

type finnhubQuote struct {
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	DP float64 `json:"dp"`
	H  float64 `json:"h"`
	L  float64 `json:"l"`
	O  float64 `json:"o"`
	PC float64 `json:"pc"`
	T  int64   `json:"t"`
}

type finnhubCandles struct {
	C []float64 `json:"c"`
	H []float64 `json:"h"`
	L []float64 `json:"l"`
	O []float64 `json:"o"`
	V []float64 `json:"v"`
	T []int64   `json:"t"`
	S string    `json:"s"`
}

type finnhubProfile struct {
	Ticker   string  `json:"ticker"`
	Name     string  `json:"name"`
	Industry string  `json:"finnhubIndustry"`
	Currency string  `json:"currency"`
	MktCap   float64 `json:"marketCapitalization"`
}

func (f *Finnhub) get(ctx context.Context, path string, params map[string]string, dest interface{}) error {
	q := map[string][]string{"token": {f.apiKey}}
	for k, v := range params {
		q[k] = []string{v}
	}
	return f.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         f.baseURL + path,
		QueryParams: q,
	}, dest)
}

func (f *Finnhub) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	var raw finnhubQuote
	if err := f.get(ctx, "/quote", map[string]string{"symbol": symbol}, &raw); err != nil {
		return nil, classify(finnhubName, models.ClassQuote, symbol, err)
	}
	// Finnhub answers unknown symbols with an all-zero body.
	if raw.C <= 0 || raw.T == 0 {
		return nil, notFound(finnhubName, models.ClassQuote, symbol, fmt.Errorf("empty quote"))
	}
	return &models.Quote{
		Symbol:        symbol,
		Price:         raw.C,
		Change:        raw.D,
		ChangePercent: raw.DP,
		High:          raw.H,
		Low:           raw.L,
		Open:          raw.O,
		PreviousClose: raw.PC,
		AsOf:          time.Unix(raw.T, 0).UTC(),
		Provider:      finnhubName,
	}, nil
}

func (f *Finnhub) History(ctx context.Context, symbol string, p models.HistoryParams) (*models.HistoricalSeries, error) {
	res := p.Resolution
	if res == "" {
		res = models.ResolutionDaily
	}
	to := p.To
	if to.IsZero() {
		to = f.now()
	}
	from := p.From
	if from.IsZero() {
		from = to.AddDate(-1, 0, 0)
	}

	var raw finnhubCandles
	err := f.get(ctx, "/stock/candle", map[string]string{
		"symbol":     symbol,
		"resolution": string(res),
		"from":       strconv.FormatInt(from.Unix(), 10),
		"to":         strconv.FormatInt(to.Unix(), 10),
	}, &raw)
	if err != nil {
		return nil, classify(finnhubName, models.ClassHistory, symbol, err)
	}
	if raw.S == "no_data" {
		return &models.HistoricalSeries{Symbol: symbol, Resolution: res}, nil
	}
	n := len(raw.T)
	if raw.S != "ok" || len(raw.C) != n || len(raw.O) != n || len(raw.H) != n || len(raw.L) != n {
		return nil, malformed(finnhubName, models.ClassHistory, symbol, fmt.Errorf("candle arrays inconsistent (status %q)", raw.S))
	}

	bars := make([]models.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = models.Bar{
			Timestamp: time.Unix(raw.T[i], 0).UTC(),
			Open:      raw.O[i],
			High:      raw.H[i],
			Low:       raw.L[i],
			Close:     raw.C[i],
		}
		if i < len(raw.V) {
			bars[i].Volume = raw.V[i]
		}
	}
	s := models.HistoricalSeries{Symbol: symbol, Resolution: res}.Merge(models.HistoricalSeries{Bars: bars})
	return &s, nil
}

func (f *Finnhub) Fundamentals(ctx context.Context, symbol string) (*models.Fundamentals, error) {
	var raw finnhubProfile
	if err := f.get(ctx, "/stock/profile2", map[string]string{"symbol": symbol}, &raw); err != nil {
		return nil, classify(finnhubName, models.ClassFundamentals, symbol, err)
	}
	if raw.Ticker == "" && raw.Name == "" {
		return nil, notFound(finnhubName, models.ClassFundamentals, symbol, fmt.Errorf("empty profile"))
	}
	return &models.Fundamentals{
		Symbol:    symbol,
		Name:      raw.Name,
		Sector:    raw.Industry,
		Industry:  raw.Industry,
		MarketCap: raw.MktCap * 1e6, // reported in millions
		Currency:  raw.Currency,
		Provider:  finnhubName,
	}, nil
}
