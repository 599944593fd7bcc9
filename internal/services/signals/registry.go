package signals

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"FinAlloc/internal/domain/models"
	domsvc "FinAlloc/internal/domain/service"
)

// Registry maps model ids to implementations and their lifecycle state.
type Registry struct {
	mu     sync.RWMutex
	models map[string]domsvc.Model
	states map[string]models.ModelState
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]domsvc.Model),
		states: make(map[string]models.ModelState),
		now:    time.Now,
	}
}

// Register adds or replaces a model. An invalid lifecycle is stored as not_trained.
func (r *Registry) Register(m domsvc.Model, typ string, lifecycle models.ModelLifecycle, version string) {
	if !lifecycle.Valid() {
		lifecycle = models.ModelNotTrained
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID()] = m
	r.states[m.ID()] = models.ModelState{
		ModelID:   m.ID(),
		Type:      typ,
		Lifecycle: lifecycle,
		Version:   version,
		UpdatedAt: r.now(),
	}
}

// Lookup returns the model and its current state.
func (r *Registry) Lookup(id string) (domsvc.Model, models.ModelState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return nil, models.ModelState{}, fmt.Errorf("%w: %q", models.ErrUnknownModel, id)
	}
	return m, r.states[id], nil
}

// SetState moves a model to a new lifecycle state. An empty version keeps
// the current one.
func (r *Registry) SetState(id string, lifecycle models.ModelLifecycle, version string) (models.ModelState, error) {
	if !lifecycle.Valid() {
		return models.ModelState{}, fmt.Errorf("invalid lifecycle %q", lifecycle)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok {
		return models.ModelState{}, fmt.Errorf("%w: %q", models.ErrUnknownModel, id)
	}
	st.Lifecycle = lifecycle
	if version != "" {
		st.Version = version
	}
	st.UpdatedAt = r.now()
	r.states[id] = st
	return st, nil
}

// States returns every model state ordered by id.
func (r *Registry) States() []models.ModelState {
	r.mu.RLock()
	out := make([]models.ModelState, 0, len(r.states))
	for _, st := range r.states {
		out = append(out, st)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}
