package signals

import (
	"fmt"

	"FinAlloc/internal/domain/models"
	domsvc "FinAlloc/internal/domain/service"
	"FinAlloc/pkg/config"
)

// NewRegistryFromConfig builds the registry from the configured model list.
func NewRegistryFromConfig(cfg *config.Config, history domsvc.HistorySource) (*Registry, error) {
	reg := NewRegistry()
	for _, mc := range cfg.Signals.Models {
		var m domsvc.Model
		switch mc.Type {
		case "momentum":
			m = NewMomentumModel(mc.ID, history, cfg.Orchestrator.HistoryDays)
		case "remote":
			m = NewRemoteModel(mc.ID, NewHTTPServiceBase(mc.URL, cfg.Signals.Timeout))
		default:
			return nil, fmt.Errorf("model %s: unknown type %q", mc.ID, mc.Type)
		}
		reg.Register(m, mc.Type, models.ModelLifecycle(mc.State), mc.Version)
	}
	return reg, nil
}
