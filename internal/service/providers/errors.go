package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"FinAlloc/internal/domain/models"
	xhttp "FinAlloc/pkg/http"
)

// ErrUnsupported is wrapped when a provider does not serve a data class.
var ErrUnsupported = errors.New("not supported by provider")

// classify maps a transport or decoding failure onto a FetchError kind.
func classify(provider string, class models.DataClass, symbol string, err error) error {
	if err == nil {
		return nil
	}
	var fe *models.FetchError
	if errors.As(err, &fe) {
		fe.Provider, fe.Class, fe.Symbol = provider, class, symbol
		return fe
	}

	kind := models.FetchUnavailable
	var (
		se      *xhttp.StatusError
		netErr  net.Error
		synErr  *json.SyntaxError
		typeErr *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = models.FetchTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = models.FetchTimeout
	case errors.As(err, &se):
		switch {
		case se.Code == http.StatusTooManyRequests:
			kind = models.FetchRateLimited
		case se.Code >= 500, se.Code == http.StatusUnauthorized, se.Code == http.StatusForbidden:
			kind = models.FetchUnavailable
		default:
			kind = models.FetchMalformed
		}
	case errors.As(err, &synErr), errors.As(err, &typeErr):
		kind = models.FetchMalformed
	}
	return &models.FetchError{Kind: kind, Provider: provider, Class: class, Symbol: symbol, Err: err}
}

func malformed(provider string, class models.DataClass, symbol string, err error) error {
	return &models.FetchError{Kind: models.FetchMalformed, Provider: provider, Class: class, Symbol: symbol, Err: err}
}

func notFound(provider string, class models.DataClass, symbol string, err error) error {
	return &models.FetchError{Kind: models.FetchNotFound, Provider: provider, Class: class, Symbol: symbol, Err: err}
}

func unsupported(provider string, class models.DataClass, symbol string) error {
	return &models.FetchError{Kind: models.FetchUnavailable, Provider: provider, Class: class, Symbol: symbol, Err: ErrUnsupported}
}
