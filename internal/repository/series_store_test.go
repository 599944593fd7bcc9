package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinAlloc/internal/domain/models"
	pkgch "FinAlloc/pkg/clickhouse"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func bars(closes ...float64) []models.Bar {
	out := make([]models.Bar, len(closes))
	for i, c := range closes {
		out[i] = models.Bar{Timestamp: day0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 10}
	}
	return out
}

func TestMemorySeriesStoreMergesAndRanges(t *testing.T) {
	s := NewMemorySeriesStore()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, models.HistoricalSeries{Symbol: "AAPL", Resolution: models.ResolutionDaily, Bars: bars(1, 2, 3)}))
	// overlapping append replaces the shared days and extends the tail
	next := bars(0, 20, 30, 40)[1:]
	require.NoError(t, s.Append(ctx, models.HistoricalSeries{Symbol: "AAPL", Resolution: models.ResolutionDaily, Bars: next}))

	all, err := s.Load(ctx, "AAPL", models.ResolutionDaily, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 20, 30, 40}, all.Closes())

	mid, err := s.Load(ctx, "AAPL", models.ResolutionDaily, day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 30}, mid.Closes())

	none, err := s.Load(ctx, "MSFT", models.ResolutionDaily, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, none.Bars)

	assert.Error(t, s.Append(ctx, models.HistoricalSeries{}))
}

func TestCHSeriesStoreAppendAndLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewCHSeriesStore(pkgch.NewClientFromDB(db), "bars", nil)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO bars").
		WithArgs(
			"AAPL", "D", sqlmock.AnyArg(), 1.0, 1.0, 1.0, 1.0, 10.0,
			"AAPL", "D", sqlmock.AnyArg(), 2.0, 2.0, 2.0, 2.0, 10.0,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, s.Append(ctx, models.HistoricalSeries{Symbol: "AAPL", Resolution: models.ResolutionDaily, Bars: bars(1, 2)}))

	rows := sqlmock.NewRows([]string{"ts", "open", "high", "low", "close", "volume"}).
		AddRow(day0, 1.0, 1.5, 0.5, 1.2, 100.0).
		AddRow(day0.AddDate(0, 0, 1), 1.2, 1.6, 1.1, 1.4, 120.0)
	mock.ExpectQuery("SELECT ts, open, high, low, close, volume").
		WithArgs("AAPL", "D", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rows)

	got, err := s.Load(ctx, "AAPL", models.ResolutionDaily, day0, day0.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, []float64{1.2, 1.4}, got.Closes())
	assert.Equal(t, "AAPL", got.Symbol)
	require.NoError(t, mock.ExpectationsWereMet())
}
