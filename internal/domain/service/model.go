package service

import (
	"context"

	"FinAlloc/internal/domain/models"
)

// Model is the fixed capability set every prediction model exposes. Identity
// and lifecycle live in the signal registry, not in the model.
type Model interface {
	ID() string
	Predict(ctx context.Context, symbols []string, horizon int) ([]models.PredictionSignal, error)
}
