package service

import (
	"context"

	"FinAlloc/internal/domain/models"
)

// Provider is one external market-data source. Implementations return
// *models.FetchError for every failure so the gateway can classify it.
type Provider interface {
	Name() string
	// Available is false when the provider is not configured (e.g. no credentials).
	Available() bool
	Quote(ctx context.Context, symbol string) (*models.Quote, error)
	History(ctx context.Context, symbol string, p models.HistoryParams) (*models.HistoricalSeries, error)
	Fundamentals(ctx context.Context, symbol string) (*models.Fundamentals, error)
}

// HistorySource is the read side the built-in models and the optimizer need.
type HistorySource interface {
	History(ctx context.Context, symbol string, days int) (models.HistoricalSeries, bool, error)
}
