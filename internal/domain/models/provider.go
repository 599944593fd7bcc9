package models

import (
	"errors"
	"fmt"
	"time"
)

// HealthState is the gateway's view of a provider.
type HealthState string

const (
	HealthHealthy     HealthState = "healthy"
	HealthDegraded    HealthState = "degraded"
	HealthUnavailable HealthState = "unavailable"
)

// ProviderRecord is a read-only snapshot of a provider's budget and health.
type ProviderRecord struct {
	Name                string        `json:"name"`
	Budget              int           `json:"budget"`
	RemainingBudget     int           `json:"remaining_budget"`
	Window              time.Duration `json:"window"`
	Health              HealthState   `json:"health"`
	ConsecutiveFailures uint32        `json:"consecutive_failures"`
	CooldownUntil       time.Time     `json:"cooldown_until,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
}

// FetchErrorKind classifies provider failures.
type FetchErrorKind string

const (
	FetchRateLimited FetchErrorKind = "rate_limited"
	FetchUnavailable FetchErrorKind = "unavailable"
	FetchMalformed   FetchErrorKind = "malformed"
	FetchTimeout     FetchErrorKind = "timeout"
	// FetchNotFound: the provider answered well-formed but does not know the symbol.
	FetchNotFound FetchErrorKind = "not_found"
)

// FetchError is returned by providers and by the gateway when no provider
// could serve a request.
type FetchError struct {
	Kind     FetchErrorKind
	Provider string
	Class    DataClass
	Symbol   string
	Err      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s %s from %s: %s", e.Class, e.Symbol, e.Provider, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError builds a FetchError.
func NewFetchError(kind FetchErrorKind, provider string, err error) *FetchError {
	return &FetchError{Kind: kind, Provider: provider, Err: err}
}

// FetchKind extracts the FetchErrorKind from err, if any.
func FetchKind(err error) (FetchErrorKind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}
