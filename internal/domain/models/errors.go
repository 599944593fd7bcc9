package models

import (
	"errors"
	"fmt"
)

var (
	// ErrModelUnavailable is returned when a model is not in the trained state.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrUnknownModel is returned for a model id the registry does not know.
	ErrUnknownModel = errors.New("unknown model")
	// ErrOptimizationInfeasible means no weight vector satisfies the constraints.
	ErrOptimizationInfeasible = errors.New("optimization infeasible")
	// ErrInvalidConstraints is a configuration error; even equal weight cannot satisfy it.
	ErrInvalidConstraints = errors.New("invalid allocation constraints")
	// ErrNoUsableData means no requested symbol produced usable market data.
	ErrNoUsableData = errors.New("no usable market data")
	// ErrPortfolioNotFound is returned by portfolio stores.
	ErrPortfolioNotFound = errors.New("portfolio not found")
	// ErrNotFound is a generic read-model miss.
	ErrNotFound = errors.New("not found")
)

// SignalError wraps ErrModelUnavailable with the offending model state.
type SignalError struct {
	ModelID   string
	Lifecycle ModelLifecycle
	Err       error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("model %s (%s): %v", e.ModelID, e.Lifecycle, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }

// DriftEvaluationError isolates a single portfolio's failed evaluation.
type DriftEvaluationError struct {
	PortfolioID string
	Symbol      string
	Err         error
}

func (e *DriftEvaluationError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("drift evaluation %s: %s: %v", e.PortfolioID, e.Symbol, e.Err)
	}
	return fmt.Sprintf("drift evaluation %s: %v", e.PortfolioID, e.Err)
}

func (e *DriftEvaluationError) Unwrap() error { return e.Err }
