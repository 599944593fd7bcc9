package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"FinAlloc/internal/domain/models"
	xhttp "FinAlloc/pkg/http"

	"github.com/shopspring/decimal"
)

const alphaVantageName = "alphavantage"

var errAlphaVantageThrottled = errors.New("alpha vantage throttle notice")

// AlphaVantage serves GLOBAL_QUOTE, daily/weekly series and OVERVIEW.
// Numbers arrive as strings and are parsed through decimal to avoid float
// parsing surprises on values like "0.0000".
type AlphaVantage struct {
	apiKey  string
	baseURL string
	client  *xhttp.Client
}

func NewAlphaVantage(apiKey, baseURL string, opts ...xhttp.ClientOption) *AlphaVantage {
	return &AlphaVantage{apiKey: apiKey, baseURL: baseURL, client: xhttp.NewClient(opts...)}
}

func (a *AlphaVantage) Name() string    { return alphaVantageName }
func (a *AlphaVantage) Available() bool { return a.apiKey != "" }

// call fetches one function and returns the raw top-level object. Throttle
// notices come back as HTTP 200 with a "Note" or "Information" key.
func (a *AlphaVantage) call(ctx context.Context, class models.DataClass, symbol string, params map[string]string) (map[string]json.RawMessage, error) {
	q := map[string][]string{"apikey": {a.apiKey}, "symbol": {symbol}}
	for k, v := range params {
		q[k] = []string{v}
	}
	var body []byte
	if err := a.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         a.baseURL,
		QueryParams: q,
	}, &body); err != nil {
		return nil, classify(alphaVantageName, class, symbol, err)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, malformed(alphaVantageName, class, symbol, err)
	}
	for _, k := range []string{"Note", "Information"} {
		if msg, ok := top[k]; ok {
			return nil, &models.FetchError{
				Kind: models.FetchRateLimited, Provider: alphaVantageName, Class: class, Symbol: symbol,
				Err: fmt.Errorf("%w: %s", errAlphaVantageThrottled, strings.Trim(string(msg), `"`)),
			}
		}
	}
	if msg, ok := top["Error Message"]; ok {
		return nil, malformed(alphaVantageName, class, symbol, errors.New(strings.Trim(string(msg), `"`)))
	}
	return top, nil
}

func num(s string) (float64, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" || s == "None" || s == "-" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// fields parses the named string fields of m into floats.
func fields(m map[string]string, keys ...string) ([]float64, error) {
	out := make([]float64, len(keys))
	for i, k := range keys {
		v, err := num(m[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[i] = v
	}
	return out, nil
}

func (a *AlphaVantage) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	top, err := a.call(ctx, models.ClassQuote, symbol, map[string]string{"function": "GLOBAL_QUOTE"})
	if err != nil {
		return nil, err
	}
	var gq map[string]string
	if err := json.Unmarshal(top["Global Quote"], &gq); err != nil {
		return nil, malformed(alphaVantageName, models.ClassQuote, symbol, fmt.Errorf("missing Global Quote"))
	}
	// unknown symbols come back as an empty object
	if len(gq) == 0 {
		return nil, notFound(alphaVantageName, models.ClassQuote, symbol, fmt.Errorf("empty Global Quote"))
	}
	v, err := fields(gq, "02. open", "03. high", "04. low", "05. price", "08. previous close", "09. change", "10. change percent")
	if err != nil {
		return nil, malformed(alphaVantageName, models.ClassQuote, symbol, err)
	}
	if v[3] <= 0 {
		return nil, malformed(alphaVantageName, models.ClassQuote, symbol, fmt.Errorf("non-positive price"))
	}
	asOf, err := time.Parse("2006-01-02", gq["07. latest trading day"])
	if err != nil {
		return nil, malformed(alphaVantageName, models.ClassQuote, symbol, err)
	}
	return &models.Quote{
		Symbol:        symbol,
		Open:          v[0],
		High:          v[1],
		Low:           v[2],
		Price:         v[3],
		PreviousClose: v[4],
		Change:        v[5],
		ChangePercent: v[6],
		AsOf:          asOf.UTC(),
		Provider:      alphaVantageName,
	}, nil
}

func (a *AlphaVantage) History(ctx context.Context, symbol string, p models.HistoryParams) (*models.HistoricalSeries, error) {
	res := p.Resolution
	fn, key := "TIME_SERIES_DAILY", "Time Series (Daily)"
	if res == models.ResolutionWeekly {
		fn, key = "TIME_SERIES_WEEKLY", "Weekly Time Series"
	} else {
		res = models.ResolutionDaily
	}
	size := "compact"
	if !p.From.IsZero() && time.Since(p.From) > 100*24*time.Hour {
		size = "full"
	}

	top, err := a.call(ctx, models.ClassHistory, symbol, map[string]string{"function": fn, "outputsize": size})
	if err != nil {
		return nil, err
	}
	var series map[string]map[string]string
	if err := json.Unmarshal(top[key], &series); err != nil || series == nil {
		return nil, malformed(alphaVantageName, models.ClassHistory, symbol, fmt.Errorf("missing %q", key))
	}

	bars := make([]models.Bar, 0, len(series))
	for day, row := range series {
		ts, err := time.Parse("2006-01-02", day)
		if err != nil {
			return nil, malformed(alphaVantageName, models.ClassHistory, symbol, err)
		}
		v, err := fields(row, "1. open", "2. high", "3. low", "4. close", "5. volume")
		if err != nil {
			return nil, malformed(alphaVantageName, models.ClassHistory, symbol, err)
		}
		bars = append(bars, models.Bar{Timestamp: ts.UTC(), Open: v[0], High: v[1], Low: v[2], Close: v[3], Volume: v[4]})
	}
	s := models.HistoricalSeries{Symbol: symbol, Resolution: res}.
		Merge(models.HistoricalSeries{Bars: bars}).
		Range(p.From, p.To)
	return &s, nil
}

func (a *AlphaVantage) Fundamentals(ctx context.Context, symbol string) (*models.Fundamentals, error) {
	top, err := a.call(ctx, models.ClassFundamentals, symbol, map[string]string{"function": "OVERVIEW"})
	if err != nil {
		return nil, err
	}
	str := func(k string) string {
		var s string
		_ = json.Unmarshal(top[k], &s)
		return s
	}
	if str("Symbol") == "" {
		return nil, notFound(alphaVantageName, models.ClassFundamentals, symbol, fmt.Errorf("empty overview"))
	}
	mcap, err := num(str("MarketCapitalization"))
	if err != nil {
		return nil, malformed(alphaVantageName, models.ClassFundamentals, symbol, err)
	}
	return &models.Fundamentals{
		Symbol:    symbol,
		Name:      str("Name"),
		Sector:    str("Sector"),
		Industry:  str("Industry"),
		MarketCap: mcap,
		Currency:  str("Currency"),
		Provider:  alphaVantageName,
	}, nil
}
