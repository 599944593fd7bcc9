package signals

import (
	"context"
	"fmt"
	"time"

	"FinAlloc/internal/domain/models"
	domsvc "FinAlloc/internal/domain/service"
)

// RemoteModel delegates prediction to an HTTP model service.
type RemoteModel struct {
	id       string
	base     *HTTPServiceBase
	attempts int
}

func NewRemoteModel(id string, base *HTTPServiceBase) *RemoteModel {
	return &RemoteModel{id: id, base: base, attempts: 3}
}

func (m *RemoteModel) ID() string { return m.id }

type predictRequest struct {
	ModelID string   `json:"model_id"`
	Symbols []string `json:"symbols"`
	Horizon int      `json:"horizon"`
}

type predictResponse struct {
	Signals []struct {
		Symbol          string         `json:"symbol"`
		PredictedReturn float64        `json:"predicted_return"`
		Confidence      float64        `json:"confidence"`
		Metadata        map[string]any `json:"metadata"`
	} `json:"signals"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (m *RemoteModel) Predict(ctx context.Context, symbols []string, horizon int) ([]models.PredictionSignal, error) {
	var resp predictResponse
	req := predictRequest{ModelID: m.id, Symbols: symbols, Horizon: horizon}
	if err := m.base.PostJSONWithRetry(ctx, "/predict", req, &resp, m.attempts); err != nil {
		return nil, fmt.Errorf("remote model %s: %w", m.id, err)
	}
	out := make([]models.PredictionSignal, 0, len(resp.Signals))
	for _, s := range resp.Signals {
		out = append(out, models.PredictionSignal{
			Symbol:          s.Symbol,
			PredictedReturn: s.PredictedReturn,
			Confidence:      s.Confidence,
			Horizon:         horizon,
			GeneratedAt:     resp.GeneratedAt,
			Metadata:        s.Metadata,
		})
	}
	return out, nil
}

var _ domsvc.Model = (*RemoteModel)(nil)
