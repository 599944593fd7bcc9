package api

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	xhttp "FinAlloc/pkg/http"
	xlogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/util"
)

// MarketReader is the read path over the tiered cache.
type MarketReader interface {
	LatestQuote(ctx context.Context, symbol string) (models.Quote, bool, error)
	HistoryRange(ctx context.Context, symbol string, p models.HistoryParams) (models.HistoricalSeries, bool, error)
	Invalidate(ctx context.Context, symbol string) error
}

// ProviderLister exposes gateway health.
type ProviderLister interface {
	Providers() []models.ProviderRecord
}

type MarketEchoHandler struct {
	logger    *xlogger.Logger
	market    MarketReader
	providers ProviderLister
	now       func() time.Time
}

func NewMarketEchoHandler(logger *xlogger.Logger, market MarketReader, providers ProviderLister) *MarketEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &MarketEchoHandler{logger: logger, market: market, providers: providers, now: time.Now}
}

func (h *MarketEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/quotes/:symbol", h.Quote)
	g.GET("/history/:symbol", h.History)
	g.GET("/providers", h.Providers)
	g.DELETE("/cache/:symbol", h.Invalidate)
}

type quoteResponse struct {
	models.Quote
	Stale bool `json:"stale"`
}

type historyResponse struct {
	models.HistoricalSeries
	Stale bool `json:"stale"`
}

func (h *MarketEchoHandler) Quote(c echo.Context) error {
	req := &models.QuoteRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sym := util.NormalizeSymbols([]string{req.Symbol})
	if len(sym) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("symbol is required"))
	}

	q, stale, err := h.market.LatestQuote(c.Request().Context(), sym[0])
	if err != nil {
		h.logger.Error("quote error", xlogger.String("symbol", sym[0]), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, quoteResponse{Quote: q, Stale: stale})
}

// Invalidate drops a symbol's cached data so the next read goes to a provider.
func (h *MarketEchoHandler) Invalidate(c echo.Context) error {
	req := &models.QuoteRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sym := util.NormalizeSymbols([]string{req.Symbol})
	if len(sym) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("symbol is required"))
	}
	if err := h.market.Invalidate(c.Request().Context(), sym[0]); err != nil {
		h.logger.Error("invalidate error", xlogger.String("symbol", sym[0]), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("cache invalidation failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]string{"symbol": sym[0]})
}

func (h *MarketEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sym := util.NormalizeSymbols([]string{req.Symbol})
	if len(sym) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("symbol is required"))
	}

	from, to := util.DayRange(h.now(), req.Days)
	if t, ok := util.ParseTime(req.From); ok {
		from = t
	}
	if t, ok := util.ParseTime(req.To); ok {
		to = t
	}
	if !to.After(from) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("to must be after from"))
	}

	params := models.HistoryParams{Resolution: domrepo.NormalizeResolution(req.Resolution), From: from, To: to}
	s, stale, err := h.market.HistoryRange(c.Request().Context(), sym[0], params)
	if err != nil {
		h.logger.Error("history error", xlogger.String("symbol", sym[0]), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, historyResponse{HistoricalSeries: s, Stale: stale})
}

func (h *MarketEchoHandler) Providers(c echo.Context) error {
	rows := h.providers.Providers()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}
