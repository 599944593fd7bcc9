package models

// Requests for the HTTP boundary. Defined in domain for consistency and reuse.

type QuoteRequest struct {
	Symbol string `param:"symbol" validate:"required,ticker"`
}

type HistoryRequest struct {
	Symbol     string `param:"symbol" validate:"required,ticker"`
	Days       int    `query:"days" default:"365" validate:"gte=2,lte=3650"`
	Resolution string `query:"resolution" default:"D" validate:"oneof=D W"`
	From       string `query:"from"`
	To         string `query:"to"`
}

type SignalsRequest struct {
	Symbols string `query:"symbols" validate:"required"`
	ModelID string `query:"model_id"`
	Horizon int    `query:"horizon" default:"20" validate:"gte=1,lte=252"`
}

type AllocateRequest struct {
	Symbols     []string               `json:"symbols" validate:"required,min=1,max=100,dive,required,ticker"`
	ModelID     string                 `json:"model_id"`
	ModelIDs    []string               `json:"model_ids"`
	Horizon     int                    `json:"horizon" default:"20" validate:"gte=1,lte=252"`
	RiskTier    string                 `json:"risk_tier" default:"moderate" validate:"oneof=conservative moderate aggressive"`
	CashReserve *float64               `json:"cash_reserve" validate:"omitempty,gte=0,lte=0.5"`
	Method      string                 `json:"method" default:"mean_variance" validate:"oneof=mean_variance risk_parity"`
	MinWeight   float64                `json:"min_weight" validate:"gte=0,lte=1,ltefield=MaxWeight"`
	MaxWeight   float64                `json:"max_weight" default:"0.4" validate:"gt=0,lte=1"`
	Bounds      map[string]WeightBound `json:"bounds"`
	SectorCaps  map[string]float64     `json:"sector_caps"`
	Sectors     map[string]string      `json:"sectors"`
	PortfolioID string                 `json:"portfolio_id" validate:"omitempty,max=64"`
	Holdings    map[string]float64     `json:"holdings"`
	Cash        float64                `json:"cash" validate:"gte=0"`
}

type PortfolioRequest struct {
	ID string `param:"id" validate:"required,max=64"`
}

type ModelStateRequest struct {
	ID        string `param:"id" validate:"required"`
	Lifecycle string `json:"lifecycle" validate:"required,oneof=not_trained training trained stale"`
	Version   string `json:"version"`
}
