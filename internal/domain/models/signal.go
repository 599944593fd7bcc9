package models

import (
	"sort"
	"time"
)

// ModelLifecycle governs whether a model's output may be used.
type ModelLifecycle string

const (
	ModelNotTrained ModelLifecycle = "not_trained"
	ModelTraining   ModelLifecycle = "training"
	ModelTrained    ModelLifecycle = "trained"
	ModelStale      ModelLifecycle = "stale"
)

// Valid reports whether l is a known lifecycle state.
func (l ModelLifecycle) Valid() bool {
	switch l {
	case ModelNotTrained, ModelTraining, ModelTrained, ModelStale:
		return true
	}
	return false
}

// ModelState is the registry record for one model.
type ModelState struct {
	ModelID   string         `json:"model_id"`
	Type      string         `json:"type"`
	Lifecycle ModelLifecycle `json:"lifecycle"`
	Version   string         `json:"version,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// PredictionSignal is one model's return estimate for a symbol over a horizon.
// Metadata is opaque model output (e.g. factor attributions) and is passed
// through untouched.
type PredictionSignal struct {
	Symbol          string         `json:"symbol"`
	ModelID         string         `json:"model_id"`
	PredictedReturn float64        `json:"predicted_return"`
	Confidence      float64        `json:"confidence"`
	Horizon         int            `json:"horizon"`
	GeneratedAt     time.Time      `json:"generated_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// RankSignals orders signals by predicted return descending, then confidence
// descending, then symbol ascending. The input slice is sorted in place.
func RankSignals(signals []PredictionSignal) []PredictionSignal {
	sort.SliceStable(signals, func(i, j int) bool {
		a, b := signals[i], signals[j]
		if a.PredictedReturn != b.PredictedReturn {
			return a.PredictedReturn > b.PredictedReturn
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.ModelID < b.ModelID
	})
	return signals
}

// MarketRegime is a coarse direction label derived from a signal set.
type MarketRegime string

const (
	RegimeBull     MarketRegime = "bull"
	RegimeBear     MarketRegime = "bear"
	RegimeSideways MarketRegime = "sideways"
)

// SignalSet is the read-model returned to callers of the signal query.
type SignalSet struct {
	ModelID     string             `json:"model_id"`
	Horizon     int                `json:"horizon"`
	Regime      MarketRegime       `json:"regime"`
	Signals     []PredictionSignal `json:"signals"`
	GeneratedAt time.Time          `json:"generated_at"`
}
