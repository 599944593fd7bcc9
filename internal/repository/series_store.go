package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	pkgch "FinAlloc/pkg/clickhouse"
	applogger "FinAlloc/pkg/logger"
)

// MemorySeriesStore merges appended bars per symbol and resolution.
type MemorySeriesStore struct {
	mu     sync.RWMutex
	series map[string]models.HistoricalSeries
}

func NewMemorySeriesStore() *MemorySeriesStore {
	return &MemorySeriesStore{series: make(map[string]models.HistoricalSeries)}
}

func seriesKey(symbol string, res models.Resolution) string { return symbol + "|" + string(res) }

func (s *MemorySeriesStore) Append(_ context.Context, in models.HistoricalSeries) error {
	if in.Symbol == "" {
		return fmt.Errorf("append series: empty symbol")
	}
	if !domrepo.IsValidResolution(in.Resolution) {
		in.Resolution = domrepo.DefaultResolution()
	}
	key := seriesKey(in.Symbol, in.Resolution)
	s.mu.Lock()
	defer s.mu.Unlock()
	// newer fetches win over stored bars with the same timestamp
	s.series[key] = in.Merge(s.series[key])
	return nil
}

func (s *MemorySeriesStore) Load(_ context.Context, symbol string, res models.Resolution, from, to time.Time) (models.HistoricalSeries, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.series[seriesKey(symbol, res)]
	if !ok {
		return models.HistoricalSeries{Symbol: symbol, Resolution: res}, nil
	}
	return stored.Range(from, to), nil
}

// BarsSchema creates the bar table. ReplacingMergeTree keeps re-appended
// bars idempotent after merges; reads use FINAL.
func BarsSchema(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            symbol     LowCardinality(String),
            resolution LowCardinality(String),
            ts         DateTime64(3, 'UTC'),
            open       Float64,
            high       Float64,
            low        Float64,
            close      Float64,
            volume     Float64,
            inserted   DateTime DEFAULT now()
        ) ENGINE = ReplacingMergeTree(inserted)
        ORDER BY (symbol, resolution, ts)`, table)}
}

// CHSeriesStore persists bars in ClickHouse.
type CHSeriesStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHSeriesStore(ch *pkgch.Client, table string, l *applogger.Logger) *CHSeriesStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHSeriesStore{db: ch.DB(), table: table, l: l.Component("series_store")}
}

func (s *CHSeriesStore) Append(ctx context.Context, in models.HistoricalSeries) error {
	if len(in.Bars) == 0 {
		return nil
	}
	res := in.Resolution
	if !domrepo.IsValidResolution(res) {
		res = domrepo.DefaultResolution()
	}
	const chunkSize = 2000
	for start := 0; start < len(in.Bars); start += chunkSize {
		end := min(start+chunkSize, len(in.Bars))
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*8)
		for _, b := range in.Bars[start:end] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, in.Symbol, string(res), b.Timestamp.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		q := fmt.Sprintf("INSERT INTO %s (symbol, resolution, ts, open, high, low, close, volume) VALUES %s",
			s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse append bars error",
				applogger.String("symbol", in.Symbol),
				applogger.Int("bars", end-start),
				applogger.Error(err))
			return fmt.Errorf("append bars %s: %w", in.Symbol, err)
		}
	}
	return nil
}

func (s *CHSeriesStore) Load(ctx context.Context, symbol string, res models.Resolution, from, to time.Time) (models.HistoricalSeries, error) {
	start := time.Now()
	out := models.HistoricalSeries{Symbol: symbol, Resolution: res}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	q := fmt.Sprintf(`
        SELECT ts, open, high, low, close, volume
        FROM %s FINAL
        WHERE symbol = ? AND resolution = ? AND ts >= ? AND ts <= ?
        ORDER BY ts ASC`, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, string(res), from.UTC(), to.UTC())
	if err != nil {
		return out, fmt.Errorf("load bars %s: %w", symbol, err)
	}
	defer rows.Close()

	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return out, fmt.Errorf("scan bar: %w", err)
		}
		out.Bars = append(out.Bars, b)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse load bars ok",
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out.Bars)),
		applogger.Duration("duration_ms", time.Since(start)))
	return out, nil
}

var (
	_ domrepo.SeriesStore = (*MemorySeriesStore)(nil)
	_ domrepo.SeriesStore = (*CHSeriesStore)(nil)
)
