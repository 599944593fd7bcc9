package models

import (
	"sort"
	"time"
)

// DataClass identifies the kind of market data a provider serves.
type DataClass string

const (
	ClassQuote        DataClass = "quote"
	ClassHistory      DataClass = "history"
	ClassFundamentals DataClass = "fundamentals"
	ClassAnalysis     DataClass = "analysis"
)

// Resolution is the bar width of a historical series.
type Resolution string

const (
	ResolutionDaily  Resolution = "D"
	ResolutionWeekly Resolution = "W"
)

// Quote is a point-in-time price snapshot. A newer Quote supersedes an older
// one for the same symbol; quotes are never mutated.
type Quote struct {
	Symbol        string    `json:"symbol" msgpack:"symbol"`
	Price         float64   `json:"price" msgpack:"price"`
	Change        float64   `json:"change" msgpack:"change"`
	ChangePercent float64   `json:"change_percent" msgpack:"change_percent"`
	High          float64   `json:"high" msgpack:"high"`
	Low           float64   `json:"low" msgpack:"low"`
	Open          float64   `json:"open" msgpack:"open"`
	PreviousClose float64   `json:"previous_close" msgpack:"previous_close"`
	AsOf          time.Time `json:"as_of" msgpack:"as_of"`
	Provider      string    `json:"provider" msgpack:"provider"`
}

// Supersedes reports whether q is newer than other for the same symbol.
func (q Quote) Supersedes(other Quote) bool {
	return q.Symbol == other.Symbol && q.AsOf.After(other.AsOf)
}

// WithTrade returns a new Quote derived from q at a later trade price.
func (q Quote) WithTrade(price float64, at time.Time) Quote {
	next := q
	next.Price = price
	next.AsOf = at
	if price > next.High {
		next.High = price
	}
	if next.Low == 0 || price < next.Low {
		next.Low = price
	}
	if q.PreviousClose > 0 {
		next.Change = price - q.PreviousClose
		next.ChangePercent = next.Change / q.PreviousClose * 100
	}
	return next
}

// Bar is one OHLCV candle.
type Bar struct {
	Timestamp time.Time `json:"t" msgpack:"t"`
	Open      float64   `json:"o" msgpack:"o"`
	High      float64   `json:"h" msgpack:"h"`
	Low       float64   `json:"l" msgpack:"l"`
	Close     float64   `json:"c" msgpack:"c"`
	Volume    float64   `json:"v" msgpack:"v"`
}

// HistoricalSeries is an append-only, timestamp-ordered bar sequence.
type HistoricalSeries struct {
	Symbol     string     `json:"symbol" msgpack:"symbol"`
	Resolution Resolution `json:"resolution" msgpack:"resolution"`
	Bars       []Bar      `json:"bars" msgpack:"bars"`
}

// Merge returns the union of s and other ordered by timestamp. Bars already
// present in s win over bars from other with the same timestamp.
func (s HistoricalSeries) Merge(other HistoricalSeries) HistoricalSeries {
	seen := make(map[int64]struct{}, len(s.Bars)+len(other.Bars))
	out := make([]Bar, 0, len(s.Bars)+len(other.Bars))
	for _, src := range [][]Bar{s.Bars, other.Bars} {
		for _, b := range src {
			k := b.Timestamp.Unix()
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	res := s.Resolution
	if res == "" {
		res = other.Resolution
	}
	sym := s.Symbol
	if sym == "" {
		sym = other.Symbol
	}
	return HistoricalSeries{Symbol: sym, Resolution: res, Bars: out}
}

// Range returns the bars with from <= t <= to. Zero bounds are open.
func (s HistoricalSeries) Range(from, to time.Time) HistoricalSeries {
	out := make([]Bar, 0, len(s.Bars))
	for _, b := range s.Bars {
		if !from.IsZero() && b.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && b.Timestamp.After(to) {
			continue
		}
		out = append(out, b)
	}
	return HistoricalSeries{Symbol: s.Symbol, Resolution: s.Resolution, Bars: out}
}

// Closes returns the close prices in order.
func (s HistoricalSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Last returns the most recent bar.
func (s HistoricalSeries) Last() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Fundamentals carries the company profile fields used for sector mapping.
type Fundamentals struct {
	Symbol    string  `json:"symbol" msgpack:"symbol"`
	Name      string  `json:"name" msgpack:"name"`
	Sector    string  `json:"sector" msgpack:"sector"`
	Industry  string  `json:"industry" msgpack:"industry"`
	MarketCap float64 `json:"market_cap" msgpack:"market_cap"`
	Currency  string  `json:"currency" msgpack:"currency"`
	Provider  string  `json:"provider" msgpack:"provider"`
}

// HistoryParams bounds a history request.
type HistoryParams struct {
	Resolution Resolution `json:"resolution"`
	From       time.Time  `json:"from"`
	To         time.Time  `json:"to"`
}

// Payload is the tagged result of a gateway fetch; exactly one of Quote,
// Series or Fundamentals is set according to Class.
type Payload struct {
	Class        DataClass
	Provider     string
	Quote        *Quote
	Series       *HistoricalSeries
	Fundamentals *Fundamentals
}
