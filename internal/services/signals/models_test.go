package signals

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinAlloc/internal/domain/models"
)

type fakeHistory struct {
	series map[string]models.HistoricalSeries
	err    error
}

func (f *fakeHistory) History(_ context.Context, symbol string, _ int) (models.HistoricalSeries, bool, error) {
	if f.err != nil {
		return models.HistoricalSeries{}, false, f.err
	}
	return f.series[symbol], false, nil
}

func trend(symbol string, n int, start, step float64) models.HistoricalSeries {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, n)
	for i := range bars {
		c := start + float64(i)*step
		bars[i] = models.Bar{Timestamp: base.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c}
	}
	return models.HistoricalSeries{Symbol: symbol, Resolution: models.ResolutionDaily, Bars: bars}
}

func TestMomentumModelScoresTrends(t *testing.T) {
	h := &fakeHistory{series: map[string]models.HistoricalSeries{
		"UP":    trend("UP", 120, 100, 0.5),
		"DOWN":  trend("DOWN", 120, 200, -0.5),
		"SHORT": trend("SHORT", 10, 100, 1),
	}}
	m := NewMomentumModel("momentum", h, 365)

	got, err := m.Predict(context.Background(), []string{"UP", "DOWN", "SHORT"}, 20)
	require.NoError(t, err)
	require.Len(t, got, 2)

	bySym := map[string]models.PredictionSignal{}
	for _, s := range got {
		bySym[s.Symbol] = s
	}
	assert.Greater(t, bySym["UP"].PredictedReturn, 0.0)
	assert.Less(t, bySym["DOWN"].PredictedReturn, 0.0)
	for _, s := range got {
		assert.GreaterOrEqual(t, s.Confidence, 0.0)
		assert.LessOrEqual(t, s.Confidence, 1.0)
		assert.Contains(t, s.Metadata, "momentum_1m")
		assert.Contains(t, s.Metadata, "rsi")
	}
}

func TestMomentumModelIsDeterministic(t *testing.T) {
	h := &fakeHistory{series: map[string]models.HistoricalSeries{"A": trend("A", 90, 50, 0.3)}}
	m := NewMomentumModel("momentum", h, 365)

	a, err := m.Predict(context.Background(), []string{"A"}, 10)
	require.NoError(t, err)
	b, err := m.Predict(context.Background(), []string{"A"}, 10)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMomentumModelAllHistoryFailed(t *testing.T) {
	m := NewMomentumModel("momentum", &fakeHistory{err: errors.New("down")}, 365)
	_, err := m.Predict(context.Background(), []string{"A", "B"}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
}

func TestRemoteModelPredict(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "/predict", r.URL.Path)
		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "lstm", req.ModelID)
		assert.Equal(t, 5, req.Horizon)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signals":[{"symbol":"AAPL","predicted_return":0.04,"confidence":0.7,"metadata":{"layer":"x"}}]}`))
	}))
	defer srv.Close()

	m := NewRemoteModel("lstm", NewHTTPServiceBase(srv.URL, time.Second))
	got, err := m.Predict(context.Background(), []string{"AAPL"}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Symbol)
	assert.Equal(t, 0.04, got[0].PredictedReturn)
	assert.Equal(t, "x", got[0].Metadata["layer"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestRemoteModelGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewRemoteModel("lstm", NewHTTPServiceBase(srv.URL, time.Second))
	_, err := m.Predict(context.Background(), []string{"AAPL"}, 5)
	assert.Error(t, err)
}
