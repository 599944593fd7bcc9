package repository

import (
	"context"
	"time"

	"FinAlloc/internal/domain/models"
)

// Trade is a single print from a streaming market feed.
type Trade struct {
	Symbol    string
	Timestamp int64 // unix seconds
	Price     float64
	Volume    float64
}

type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error
	Read(ctx context.Context) (<-chan *Trade, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Publisher hands finished results to the excluded persistence layer.
type Publisher interface {
	PublishAllocation(ctx context.Context, portfolioID string, a *models.Allocation) error
	PublishDriftReport(ctx context.Context, r *models.DriftReport) error
	Close() error
}

// PortfolioStore persists portfolios keyed by identifier.
type PortfolioStore interface {
	Get(ctx context.Context, id string) (*models.Portfolio, error)
	Save(ctx context.Context, p *models.Portfolio) error
	List(ctx context.Context) ([]string, error)
	// Lock serializes evaluations of one portfolio; the returned func releases it.
	Lock(ctx context.Context, id string, ttl time.Duration) (func(), error)
}

// SeriesStore keeps append-only historical bars.
type SeriesStore interface {
	Append(ctx context.Context, s models.HistoricalSeries) error
	Load(ctx context.Context, symbol string, res models.Resolution, from, to time.Time) (models.HistoricalSeries, error)
}

type Metrics interface {
	RecordMessageSent(backend, key string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordProviderCall(provider string, class models.DataClass, outcome string)
	RecordCacheLookup(class models.DataClass, outcome string)
	RecordOptimization(status models.OptimizerStatus)
	RecordDriftEvaluation(triggered bool)
}
