package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"FinAlloc/internal/domain/models"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func kindOf(t *testing.T, err error) models.FetchErrorKind {
	t.Helper()
	k, ok := models.FetchKind(err)
	require.True(t, ok, "expected FetchError, got %v", err)
	return k
}

func TestFinnhubQuote(t *testing.T) {
	srv := serve(t, 200, `{"c":190.5,"d":1.5,"dp":0.79,"h":191,"l":188,"o":189,"pc":189,"t":1704207600}`)
	q, err := NewFinnhub("key", srv.URL).Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 190.5, q.Price)
	assert.Equal(t, 189.0, q.PreviousClose)
	assert.Equal(t, "finnhub", q.Provider)
	assert.Equal(t, int64(1704207600), q.AsOf.Unix())
}

func TestFinnhubErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   models.FetchErrorKind
	}{
		{"throttled", 429, `{"error":"API limit reached"}`, models.FetchRateLimited},
		{"server error", 502, `bad gateway`, models.FetchUnavailable},
		{"unknown symbol", 200, `{"c":0,"d":null,"dp":null,"h":0,"l":0,"o":0,"pc":0,"t":0}`, models.FetchNotFound},
		{"garbage", 200, `<html>`, models.FetchMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, tc.status, tc.body)
			_, err := NewFinnhub("key", srv.URL).Quote(context.Background(), "ZZZZ")
			assert.Equal(t, tc.want, kindOf(t, err))
		})
	}
}

func TestFinnhubHistory(t *testing.T) {
	srv := serve(t, 200, `{"s":"ok","t":[1704240000,1704153600],"o":[2,1],"h":[2,1],"l":[2,1],"c":[2.5,1.5],"v":[10,20]}`)
	s, err := NewFinnhub("key", srv.URL).History(context.Background(), "AAPL", models.HistoryParams{})
	require.NoError(t, err)
	require.Len(t, s.Bars, 2)
	assert.Equal(t, []float64{1.5, 2.5}, s.Closes(), "bars are sorted by time")
}

func TestFinnhubHistoryNoData(t *testing.T) {
	srv := serve(t, 200, `{"s":"no_data"}`)
	s, err := NewFinnhub("key", srv.URL).History(context.Background(), "AAPL", models.HistoryParams{})
	require.NoError(t, err)
	assert.Empty(t, s.Bars)
}

func TestFinnhubAvailability(t *testing.T) {
	assert.False(t, NewFinnhub("", "http://x").Available())
	assert.True(t, NewFinnhub("k", "http://x").Available())
}

func TestAlphaVantageThrottleNoticeIsRateLimited(t *testing.T) {
	srv := serve(t, 200, `{"Note":"Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute"}`)
	_, err := NewAlphaVantage("key", srv.URL).Quote(context.Background(), "IBM")
	assert.Equal(t, models.FetchRateLimited, kindOf(t, err))

	srv = serve(t, 200, `{"Information":"daily limit"}`)
	_, err = NewAlphaVantage("key", srv.URL).Fundamentals(context.Background(), "IBM")
	assert.Equal(t, models.FetchRateLimited, kindOf(t, err))
}

func TestAlphaVantageQuote(t *testing.T) {
	srv := serve(t, 200, `{"Global Quote":{"01. symbol":"IBM","02. open":"160.00","03. high":"162.50","04. low":"159.10","05. price":"161.2500","06. volume":"100","07. latest trading day":"2024-01-02","08. previous close":"160.00","09. change":"1.2500","10. change percent":"0.7813%"}}`)
	q, err := NewAlphaVantage("key", srv.URL).Quote(context.Background(), "IBM")
	require.NoError(t, err)
	assert.Equal(t, 161.25, q.Price)
	assert.InDelta(t, 0.7813, q.ChangePercent, 1e-9)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), q.AsOf)
}

func TestAlphaVantageHistoryAndErrorMessage(t *testing.T) {
	srv := serve(t, 200, `{"Meta Data":{},"Time Series (Daily)":{
		"2024-01-03":{"1. open":"2","2. high":"2","3. low":"2","4. close":"2","5. volume":"5"},
		"2024-01-02":{"1. open":"1","2. high":"1","3. low":"1","4. close":"1","5. volume":"5"}}}`)
	s, err := NewAlphaVantage("key", srv.URL).History(context.Background(), "IBM", models.HistoryParams{})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, s.Closes())

	srv = serve(t, 200, `{"Error Message":"Invalid API call"}`)
	_, err = NewAlphaVantage("key", srv.URL).History(context.Background(), "NOPE", models.HistoryParams{})
	assert.Equal(t, models.FetchMalformed, kindOf(t, err))
}

func TestAlphaVantageOverview(t *testing.T) {
	srv := serve(t, 200, `{"Symbol":"IBM","Name":"International Business Machines","Sector":"TECHNOLOGY","Industry":"COMPUTER","MarketCapitalization":"150000000000","Currency":"USD"}`)
	f, err := NewAlphaVantage("key", srv.URL).Fundamentals(context.Background(), "IBM")
	require.NoError(t, err)
	assert.Equal(t, "TECHNOLOGY", f.Sector)
	assert.Equal(t, 1.5e11, f.MarketCap)
}

type fakeAlpaca struct {
	trade *marketdata.Trade
	bars  []marketdata.Bar
	err   error
}

func (f *fakeAlpaca) GetLatestTrade(string, marketdata.GetLatestTradeRequest) (*marketdata.Trade, error) {
	return f.trade, f.err
}

func (f *fakeAlpaca) GetBars(string, marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	return f.bars, f.err
}

func TestAlpacaQuoteUsesPreviousDailyClose(t *testing.T) {
	d1 := time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC)
	fake := &fakeAlpaca{
		trade: &marketdata.Trade{Price: 110, Timestamp: d1.Add(26 * time.Hour)},
		bars: []marketdata.Bar{
			{Timestamp: d1, Open: 99, High: 101, Low: 98, Close: 100},
			{Timestamp: d1.Add(24 * time.Hour), Open: 101, High: 111, Low: 100, Close: 109},
		},
	}
	q, err := NewAlpacaWithClient(fake).Quote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, 100.0, q.PreviousClose)
	assert.Equal(t, 10.0, q.Change)
	assert.Equal(t, 111.0, q.High)
}

func TestAlpacaErrorsAndFundamentals(t *testing.T) {
	a := NewAlpacaWithClient(&fakeAlpaca{err: errors.New("status code 429: too many requests")})
	_, err := a.Quote(context.Background(), "SPY")
	assert.Equal(t, models.FetchRateLimited, kindOf(t, err))

	_, err = a.Fundamentals(context.Background(), "SPY")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestWeeklyResample(t *testing.T) {
	mon := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	var daily []models.Bar
	for i := 0; i < 7; i++ { // Mon..Fri, then Mon, Tue of the next week
		d := mon.AddDate(0, 0, i)
		if i >= 5 {
			d = mon.AddDate(0, 0, i+2)
		}
		daily = append(daily, models.Bar{Timestamp: d, Open: float64(i), High: float64(i + 1), Low: float64(i), Close: float64(i) + 0.5, Volume: 1})
	}
	w := weekly(daily)
	require.Len(t, w, 2)
	assert.Equal(t, 0.0, w[0].Open)
	assert.Equal(t, 4.5, w[0].Close)
	assert.Equal(t, 5.0, w[0].High)
	assert.Equal(t, 5.0, w[0].Volume)
	assert.Equal(t, 6.5, w[1].Close)
}

func TestUnknownSymbolIsNotFound(t *testing.T) {
	srv := serve(t, 200, `{"Global Quote":{}}`)
	_, err := NewAlphaVantage("key", srv.URL).Quote(context.Background(), "ZZZZ")
	assert.Equal(t, models.FetchNotFound, kindOf(t, err))

	srv = serve(t, 200, `{}`)
	_, err = NewFinnhub("key", srv.URL).Fundamentals(context.Background(), "ZZZZ")
	assert.Equal(t, models.FetchNotFound, kindOf(t, err))

	srv = serve(t, 200, `{"Global Quote":"oops"}`)
	_, err = NewAlphaVantage("key", srv.URL).Quote(context.Background(), "ZZZZ")
	assert.Equal(t, models.FetchMalformed, kindOf(t, err))
}
