package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/domain/repository"
	"FinAlloc/internal/domain/service"
	"FinAlloc/internal/service/ratelimit"
	applogger "FinAlloc/pkg/logger"

	"github.com/sony/gobreaker/v2"
)

// ErrNoProvider is wrapped when no configured provider serves a data class.
var ErrNoProvider = errors.New("no provider configured")

// ProviderSetup registers one provider with its call budget.
type ProviderSetup struct {
	Provider service.Provider
	Budget   int
	Window   time.Duration
}

type Options struct {
	Priority         map[models.DataClass][]string
	MaxWait          time.Duration // longest a call may wait for budget
	CallTimeout      time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

type entry struct {
	setup   ProviderSetup
	breaker *gobreaker.CircuitBreaker[models.Payload]
}

// Gateway fans a fetch out over providers in priority order. Each provider
// has its own sliding-window budget and circuit breaker; failures move on to
// the next provider and only exhaustion of every candidate is an error.
type Gateway struct {
	entries  map[string]*entry
	priority map[models.DataClass][]string
	limiter  *ratelimit.Limiter
	opts     Options
	logger   *applogger.Logger
	metrics  repository.Metrics

	mu       sync.Mutex
	lastErr  map[string]string
	openedAt map[string]time.Time
}

// New registers every provider's budget on limiter. A nil limiter gets a
// fresh one on the wall clock.
func New(setups []ProviderSetup, limiter *ratelimit.Limiter, opts Options, l *applogger.Logger, m repository.Metrics) *Gateway {
	if limiter == nil {
		limiter = ratelimit.New()
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Minute
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if l == nil {
		l = applogger.Nop()
	}

	g := &Gateway{
		entries:  make(map[string]*entry, len(setups)),
		priority: opts.Priority,
		limiter:  limiter,
		opts:     opts,
		logger:   l.Component("gateway"),
		metrics:  m,
		lastErr:  make(map[string]string),
		openedAt: make(map[string]time.Time),
	}
	for _, s := range setups {
		name := s.Provider.Name()
		g.limiter.Configure(name, s.Budget, s.Window)
		g.entries[name] = &entry{setup: s, breaker: g.newBreaker(name)}
	}
	if g.priority == nil {
		g.priority = make(map[models.DataClass][]string)
	}
	return g
}

func (g *Gateway) newBreaker(name string) *gobreaker.CircuitBreaker[models.Payload] {
	threshold := uint32(g.opts.FailureThreshold)
	return gobreaker.NewCircuitBreaker[models.Payload](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     g.opts.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		// An unknown symbol says nothing about the provider's health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			kind, _ := models.FetchKind(err)
			return kind == models.FetchNotFound
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.mu.Lock()
			if to == gobreaker.StateOpen {
				g.openedAt[name] = time.Now()
			}
			g.mu.Unlock()
			g.logger.Warn("provider health changed",
				applogger.String("provider", name),
				applogger.String("from", from.String()),
				applogger.String("to", to.String()),
			)
		},
	})
}

// candidates returns configured providers for class, open breakers last. A
// half-open provider keeps its priority slot so its single trial call can close it.
func (g *Gateway) candidates(class models.DataClass) []*entry {
	var healthy, degraded []*entry
	for _, name := range g.priority[class] {
		e, ok := g.entries[name]
		if !ok || !e.setup.Provider.Available() {
			continue
		}
		if e.breaker.State() != gobreaker.StateOpen {
			healthy = append(healthy, e)
		} else {
			degraded = append(degraded, e)
		}
	}
	return append(healthy, degraded...)
}

// Fetch returns the first successful payload for (class, symbol). Providers
// in cool-down are tried last, outside their breaker, once every other
// candidate has failed.
func (g *Gateway) Fetch(ctx context.Context, class models.DataClass, symbol string, params models.HistoryParams) (models.Payload, error) {
	cands := g.candidates(class)
	if len(cands) == 0 {
		return models.Payload{}, &models.FetchError{Kind: models.FetchUnavailable, Provider: "gateway", Class: class, Symbol: symbol, Err: ErrNoProvider}
	}

	var (
		errs   []error
		kinds  = make(map[models.FetchErrorKind]int)
		failed int
	)
	for _, e := range cands {
		name := e.setup.Provider.Name()
		degraded := e.breaker.State() == gobreaker.StateOpen

		if err := g.limiter.Acquire(ctx, name, g.opts.MaxWait); err != nil {
			if ctx.Err() != nil {
				return models.Payload{}, ctx.Err()
			}
			g.record(name, class, "budget_exhausted")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			kinds[models.FetchRateLimited]++
			failed++
			continue
		}

		start := time.Now()
		attempt := func() (models.Payload, error) {
			cctx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
			defer cancel()
			return call(cctx, e.setup.Provider, class, symbol, params)
		}
		var (
			payload models.Payload
			err     error
		)
		if degraded {
			payload, err = attempt()
		} else {
			payload, err = e.breaker.Execute(attempt)
		}
		if g.metrics != nil {
			g.metrics.RecordLatency("provider_"+string(class), time.Since(start).Seconds())
		}
		if err == nil {
			if degraded {
				g.record(name, class, "ok_degraded")
				g.logger.Info("degraded provider served a fallback request",
					applogger.String("provider", name),
					applogger.String("class", string(class)),
				)
			} else {
				g.record(name, class, "ok")
			}
			return payload, nil
		}
		if ctx.Err() != nil {
			return models.Payload{}, ctx.Err()
		}

		kind, _ := models.FetchKind(err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || kind == "" {
			kind = models.FetchUnavailable
		}
		kinds[kind]++
		failed++
		g.record(name, class, string(kind))
		g.setLastErr(name, err)
		g.logger.Warn("provider fetch failed",
			applogger.String("provider", name),
			applogger.String("class", string(class)),
			applogger.String("symbol", symbol),
			applogger.String("kind", string(kind)),
			applogger.Bool("degraded", degraded),
			applogger.Error(err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}

	// uniform answers keep their kind: all throttled, or no provider knows the symbol
	kind := models.FetchUnavailable
	switch {
	case kinds[models.FetchRateLimited] == failed:
		kind = models.FetchRateLimited
	case kinds[models.FetchNotFound] == failed:
		kind = models.FetchNotFound
	}
	return models.Payload{}, &models.FetchError{Kind: kind, Provider: "gateway", Class: class, Symbol: symbol, Err: errors.Join(errs...)}
}

func call(ctx context.Context, p service.Provider, class models.DataClass, symbol string, params models.HistoryParams) (models.Payload, error) {
	out := models.Payload{Class: class, Provider: p.Name()}
	switch class {
	case models.ClassQuote:
		q, err := p.Quote(ctx, symbol)
		if err != nil {
			return out, err
		}
		out.Quote = q
	case models.ClassHistory:
		s, err := p.History(ctx, symbol, params)
		if err != nil {
			return out, err
		}
		out.Series = s
	case models.ClassFundamentals:
		f, err := p.Fundamentals(ctx, symbol)
		if err != nil {
			return out, err
		}
		out.Fundamentals = f
	default:
		return out, &models.FetchError{Kind: models.FetchMalformed, Provider: p.Name(), Class: class, Symbol: symbol, Err: fmt.Errorf("unsupported class %q", class)}
	}
	return out, nil
}

func (g *Gateway) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	p, err := g.Fetch(ctx, models.ClassQuote, symbol, models.HistoryParams{})
	if err != nil {
		return nil, err
	}
	return p.Quote, nil
}

func (g *Gateway) History(ctx context.Context, symbol string, params models.HistoryParams) (*models.HistoricalSeries, error) {
	p, err := g.Fetch(ctx, models.ClassHistory, symbol, params)
	if err != nil {
		return nil, err
	}
	return p.Series, nil
}

func (g *Gateway) Fundamentals(ctx context.Context, symbol string) (*models.Fundamentals, error) {
	p, err := g.Fetch(ctx, models.ClassFundamentals, symbol, models.HistoryParams{})
	if err != nil {
		return nil, err
	}
	return p.Fundamentals, nil
}

// Providers returns a snapshot of every registered provider, sorted by name.
func (g *Gateway) Providers() []models.ProviderRecord {
	out := make([]models.ProviderRecord, 0, len(g.entries))
	for name, e := range g.entries {
		// State() may fire OnStateChange, which takes g.mu.
		state := e.breaker.State()
		rec := models.ProviderRecord{
			Name:                name,
			Budget:              e.setup.Budget,
			RemainingBudget:     g.limiter.Remaining(name),
			Window:              e.setup.Window,
			ConsecutiveFailures: e.breaker.Counts().ConsecutiveFailures,
		}

		g.mu.Lock()
		rec.LastError = g.lastErr[name]
		openedAt, opened := g.openedAt[name]
		g.mu.Unlock()

		switch {
		case !e.setup.Provider.Available():
			rec.Health = models.HealthUnavailable
		case state == gobreaker.StateClosed:
			rec.Health = models.HealthHealthy
		default:
			rec.Health = models.HealthDegraded
			if opened {
				rec.CooldownUntil = openedAt.Add(g.opts.Cooldown)
			}
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (g *Gateway) record(provider string, class models.DataClass, outcome string) {
	if g.metrics != nil {
		g.metrics.RecordProviderCall(provider, class, outcome)
	}
}

func (g *Gateway) setLastErr(name string, err error) {
	g.mu.Lock()
	g.lastErr[name] = err.Error()
	g.mu.Unlock()
}
