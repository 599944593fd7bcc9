package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"FinAlloc/internal/domain/models"
	xhttp "FinAlloc/pkg/http"
	xlogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/util"
)

// Allocator is the orchestrator surface served over HTTP.
type Allocator interface {
	AnalyzeAndAllocate(ctx context.Context, req models.AllocationRequest) (*models.AllocationResponse, error)
	Signals(ctx context.Context, symbols []string, modelID string, horizon int) (*models.SignalSet, error)
	EvaluatePortfolio(ctx context.Context, id string) (*models.DriftReport, error)
	Acknowledge(ctx context.Context, id string) (models.DriftState, error)
	LatestDriftReport(ctx context.Context, id string) (*models.DriftReport, error)
	Models() []models.ModelState
	SetModelState(id string, lifecycle models.ModelLifecycle, version string) (models.ModelState, error)
}

type AllocationEchoHandler struct {
	logger *xlogger.Logger
	alloc  Allocator
}

func NewAllocationEchoHandler(logger *xlogger.Logger, alloc Allocator) *AllocationEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &AllocationEchoHandler{logger: logger, alloc: alloc}
}

func (h *AllocationEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/allocations", h.Allocate)
	g.GET("/signals", h.Signals)
	g.GET("/portfolios/:id/drift", h.Drift)
	g.POST("/portfolios/:id/evaluate", h.Evaluate)
	g.POST("/portfolios/:id/acknowledge", h.Acknowledge)
	g.GET("/models", h.Models)
	g.PUT("/models/:id/state", h.SetModelState)
}

func (h *AllocationEchoHandler) Allocate(c echo.Context) error {
	req := &models.AllocateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	modelIDs := req.ModelIDs
	if req.ModelID != "" {
		modelIDs = append([]string{req.ModelID}, modelIDs...)
	}
	resp, err := h.alloc.AnalyzeAndAllocate(c.Request().Context(), models.AllocationRequest{
		Symbols:  req.Symbols,
		ModelIDs: modelIDs,
		Horizon:  req.Horizon,
		Constraints: models.AllocationConstraint{
			Bounds:       req.Bounds,
			DefaultBound: models.WeightBound{Min: req.MinWeight, Max: req.MaxWeight},
			SectorCaps:   req.SectorCaps,
			Sectors:      req.Sectors,
			RiskTier:     models.RiskTier(req.RiskTier),
			Method:       models.AllocationMethod(req.Method),
		},
		CashReserve: req.CashReserve,
		PortfolioID: req.PortfolioID,
		Holdings:    req.Holdings,
		Cash:        req.Cash,
	})
	if err != nil {
		h.logger.Error("allocation failed", xlogger.Strings("symbols", req.Symbols), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, resp)
}

func (h *AllocationEchoHandler) Signals(c echo.Context) error {
	req := &models.SignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbols := util.SplitSymbols(req.Symbols)
	if len(symbols) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("symbols is required"))
	}
	set, err := h.alloc.Signals(c.Request().Context(), symbols, req.ModelID, req.Horizon)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, set)
}

func (h *AllocationEchoHandler) Drift(c echo.Context) error {
	req := &models.PortfolioRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	r, err := h.alloc.LatestDriftReport(c.Request().Context(), req.ID)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, r)
}

func (h *AllocationEchoHandler) Evaluate(c echo.Context) error {
	req := &models.PortfolioRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	r, err := h.alloc.EvaluatePortfolio(c.Request().Context(), req.ID)
	if err != nil {
		h.logger.Warn("evaluate failed", xlogger.String("portfolio", req.ID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, r)
}

func (h *AllocationEchoHandler) Acknowledge(c echo.Context) error {
	req := &models.PortfolioRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.alloc.Acknowledge(c.Request().Context(), req.ID)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, map[string]any{"portfolio_id": req.ID, "state": st})
}

func (h *AllocationEchoHandler) Models(c echo.Context) error {
	rows := h.alloc.Models()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *AllocationEchoHandler) SetModelState(c echo.Context) error {
	req := &models.ModelStateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.alloc.SetModelState(req.ID, models.ModelLifecycle(req.Lifecycle), req.Version)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	h.logger.Info("model state changed", xlogger.String("model", st.ModelID), xlogger.String("lifecycle", string(st.Lifecycle)))
	return xhttp.SuccessResponse(c, st)
}
