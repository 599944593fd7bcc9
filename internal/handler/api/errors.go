package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/services/drift"
	xhttp "FinAlloc/pkg/http"
)

// Retry-After hints for data outages. Provider budgets refill per minute.
const (
	retryRateLimited = time.Minute
	retryOutage      = 15 * time.Second
)

// toAppError maps domain errors onto the HTTP error contract. Data outages
// are retryable (503); unsatisfiable inputs are not (422).
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var (
		fe *models.FetchError
		de *models.DriftEvaluationError
		se *models.SignalError
	)
	switch {
	case errors.Is(err, models.ErrInvalidConstraints), errors.Is(err, models.ErrOptimizationInfeasible):
		return xhttp.UnprocessableError("ERR_CONSTRAINTS_UNSATISFIABLE", "constraints unsatisfiable, adjust inputs").WithError(err)
	case errors.Is(err, models.ErrUnknownModel):
		return xhttp.NotFoundError("unknown model").WithError(err)
	case errors.Is(err, models.ErrPortfolioNotFound), errors.Is(err, models.ErrNotFound) && !errors.As(err, &de):
		return xhttp.NotFoundError("not found").WithError(err)
	case errors.Is(err, drift.ErrNothingToAcknowledge):
		return xhttp.ConflictError("no outstanding recommendation").WithError(err)
	case errors.As(err, &fe) && fe.Kind == models.FetchNotFound:
		return xhttp.NotFoundError("unknown symbol").WithParam("symbol", fe.Symbol).WithError(err)
	case errors.As(err, &se):
		return xhttp.NewAppError("ERR_MODEL_UNAVAILABLE", "model_id", "model is not trained", http.StatusServiceUnavailable).
			WithParam("lifecycle", string(se.Lifecycle)).
			WithError(err)
	case errors.Is(err, models.ErrNoUsableData), errors.As(err, &fe), errors.As(err, &de),
		errors.Is(err, context.DeadlineExceeded):
		retry := retryOutage
		if fe != nil && fe.Kind == models.FetchRateLimited {
			retry = retryRateLimited
		}
		return xhttp.DataUnavailableError("data temporarily unavailable, retry").WithRetryAfter(retry).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
