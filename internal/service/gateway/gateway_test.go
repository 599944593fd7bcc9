package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/service/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name      string
	available bool
	calls     atomic.Int32
	fail      atomic.Pointer[models.FetchErrorKind]
	price     float64
}

func newFake(name string, price float64) *fakeProvider {
	return &fakeProvider{name: name, available: true, price: price}
}

func (f *fakeProvider) failWith(kind models.FetchErrorKind) { f.fail.Store(&kind) }
func (f *fakeProvider) heal() { f.fail.Store(nil) }

func (f *fakeProvider) Name() string    { return f.name }
func (f *fakeProvider) Available() bool { return f.available }

func (f *fakeProvider) err() error {
	if k := f.fail.Load(); k != nil {
		return &models.FetchError{Kind: *k, Provider: f.name, Err: errors.New("boom")}
	}
	return nil
}

func (f *fakeProvider) Quote(_ context.Context, symbol string) (*models.Quote, error) {
	f.calls.Add(1)
	if err := f.err(); err != nil {
		return nil, err
	}
	return &models.Quote{Symbol: symbol, Price: f.price, Provider: f.name, AsOf: time.Now()}, nil
}

func (f *fakeProvider) History(_ context.Context, symbol string, _ models.HistoryParams) (*models.HistoricalSeries, error) {
	f.calls.Add(1)
	if err := f.err(); err != nil {
		return nil, err
	}
	return &models.HistoricalSeries{Symbol: symbol}, nil
}

func (f *fakeProvider) Fundamentals(_ context.Context, symbol string) (*models.Fundamentals, error) {
	f.calls.Add(1)
	if err := f.err(); err != nil {
		return nil, err
	}
	return &models.Fundamentals{Symbol: symbol, Sector: "Technology"}, nil
}

func newGateway(cooldown time.Duration, setups ...ProviderSetup) *Gateway {
	return newGatewayWithLimiter(nil, cooldown, setups...)
}

func newGatewayWithLimiter(limiter *ratelimit.Limiter, cooldown time.Duration, setups ...ProviderSetup) *Gateway {
	names := make([]string, 0, len(setups))
	for _, s := range setups {
		names = append(names, s.Provider.Name())
	}
	return New(setups, limiter, Options{
		Priority: map[models.DataClass][]string{
			models.ClassQuote:        names,
			models.ClassHistory:      names,
			models.ClassFundamentals: names,
		},
		MaxWait:          0,
		CallTimeout:      time.Second,
		FailureThreshold: 3,
		Cooldown:         cooldown,
	}, nil, nil)
}

func health(g *Gateway, name string) models.HealthState {
	for _, r := range g.Providers() {
		if r.Name == name {
			return r.Health
		}
	}
	return ""
}

func TestFetchUsesPriorityOrder(t *testing.T) {
	a, b := newFake("a", 1), newFake("b", 2)
	g := newGateway(time.Minute, ProviderSetup{Provider: a}, ProviderSetup{Provider: b})

	q, err := g.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "a", q.Provider)
	assert.Equal(t, int32(0), b.calls.Load())
}

func TestFetchFallsBackWhenPrimaryFails(t *testing.T) {
	a, b := newFake("a", 1), newFake("b", 2)
	a.failWith(models.FetchUnavailable)
	g := newGateway(time.Minute, ProviderSetup{Provider: a}, ProviderSetup{Provider: b})

	q, err := g.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "b", q.Provider)
}

func TestUnconfiguredProviderIsSkipped(t *testing.T) {
	a, b := newFake("a", 1), newFake("b", 2)
	a.available = false
	g := newGateway(time.Minute, ProviderSetup{Provider: a}, ProviderSetup{Provider: b})

	q, err := g.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "b", q.Provider)
	assert.Equal(t, int32(0), a.calls.Load())
	assert.Equal(t, models.HealthUnavailable, health(g, "a"))
}

func TestBudgetExhaustionRoutesToNextProvider(t *testing.T) {
	a, b := newFake("a", 1), newFake("b", 2)
	g := newGateway(time.Minute,
		ProviderSetup{Provider: a, Budget: 2, Window: time.Hour},
		ProviderSetup{Provider: b},
	)

	for i := 0; i < 5; i++ {
		_, err := g.Quote(context.Background(), "AAPL")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), a.calls.Load(), "provider a never exceeds its budget")
	assert.Equal(t, int32(3), b.calls.Load())
	assert.Equal(t, models.HealthHealthy, health(g, "a"), "budget exhaustion is not a health failure")
}

func TestDegradesAfterConsecutiveFailuresAndRecovers(t *testing.T) {
	a, b := newFake("a", 1), newFake("b", 2)
	a.failWith(models.FetchTimeout)
	g := newGateway(50*time.Millisecond, ProviderSetup{Provider: a}, ProviderSetup{Provider: b})

	for i := 0; i < 3; i++ {
		_, err := g.Quote(context.Background(), "AAPL")
		require.NoError(t, err)
	}
	assert.Equal(t, models.HealthDegraded, health(g, "a"))

	// while open, a is not called at all
	_, err := g.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int32(3), a.calls.Load())

	a.heal()
	time.Sleep(80 * time.Millisecond)

	q, err := g.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "a", q.Provider, "the trial call after cool-down goes to the recovered provider")
	assert.Equal(t, models.HealthHealthy, health(g, "a"))
}

func TestMalformedPayloadsDegrade(t *testing.T) {
	a, b := newFake("a", 1), newFake("b", 2)
	a.failWith(models.FetchMalformed)
	g := newGateway(time.Minute, ProviderSetup{Provider: a}, ProviderSetup{Provider: b})

	for i := 0; i < 10; i++ {
		q, err := g.Quote(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.Equal(t, "b", q.Provider)
	}
	assert.Equal(t, models.HealthDegraded, health(g, "a"))
	assert.Equal(t, int32(3), a.calls.Load(), "a degraded provider is only a last resort")
}

func TestUnknownSymbolDoesNotDegrade(t *testing.T) {
	a, b := newFake("a", 1), newFake("b", 2)
	a.failWith(models.FetchNotFound)
	b.failWith(models.FetchNotFound)
	g := newGateway(time.Minute, ProviderSetup{Provider: a}, ProviderSetup{Provider: b})

	for i := 0; i < 5; i++ {
		_, err := g.Quote(context.Background(), "ZZZZ")
		require.Error(t, err)
		kind, _ := models.FetchKind(err)
		assert.Equal(t, models.FetchNotFound, kind)
	}
	assert.Equal(t, models.HealthHealthy, health(g, "a"))
	assert.Equal(t, models.HealthHealthy, health(g, "b"))
}

func TestDegradedProvidersAreLastResort(t *testing.T) {
	a, b := newFake("a", 1), newFake("b", 2)
	a.failWith(models.FetchUnavailable)
	b.failWith(models.FetchUnavailable)
	g := newGateway(time.Hour, ProviderSetup{Provider: a}, ProviderSetup{Provider: b})

	for i := 0; i < 3; i++ {
		_, err := g.Quote(context.Background(), "AAPL")
		require.Error(t, err)
	}
	require.Equal(t, models.HealthDegraded, health(g, "a"))
	require.Equal(t, models.HealthDegraded, health(g, "b"))

	// both recover long before the cool-down ends
	a.heal()
	b.heal()
	before := a.calls.Load()
	q, err := g.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "a", q.Provider)
	assert.Equal(t, before+1, a.calls.Load())
	assert.Equal(t, models.HealthDegraded, health(g, "a"), "the breaker still closes only through its own trial")
}

func TestHealthyProviderPreferredOverDegraded(t *testing.T) {
	a, b := newFake("a", 1), newFake("b", 2)
	a.failWith(models.FetchTimeout)
	g := newGateway(time.Hour, ProviderSetup{Provider: a}, ProviderSetup{Provider: b})
	for i := 0; i < 3; i++ {
		_, err := g.Quote(context.Background(), "AAPL")
		require.NoError(t, err)
	}
	a.heal()

	q, err := g.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "b", q.Provider)
	assert.Equal(t, int32(3), a.calls.Load())
}

func TestInjectedLimiterControlsBudget(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := ratelimit.NewWithClock(func() time.Time { return now })
	a, b := newFake("a", 1), newFake("b", 2)
	g := newGatewayWithLimiter(limiter, time.Minute,
		ProviderSetup{Provider: a, Budget: 1, Window: time.Minute},
		ProviderSetup{Provider: b},
	)

	q, err := g.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "a", q.Provider)
	q, err = g.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "b", q.Provider)
	assert.Equal(t, 0, limiter.Remaining("a"))

	now = now.Add(time.Minute + time.Second)
	q, err = g.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "a", q.Provider, "budget refills on the injected clock")
}

func TestAllProvidersFailing(t *testing.T) {
	a, b := newFake("a", 1), newFake("b", 2)
	a.failWith(models.FetchRateLimited)
	b.failWith(models.FetchRateLimited)
	g := newGateway(time.Minute, ProviderSetup{Provider: a}, ProviderSetup{Provider: b})

	_, err := g.Fundamentals(context.Background(), "AAPL")
	require.Error(t, err)
	kind, ok := models.FetchKind(err)
	require.True(t, ok)
	assert.Equal(t, models.FetchRateLimited, kind)

	b.failWith(models.FetchUnavailable)
	_, err = g.History(context.Background(), "AAPL", models.HistoryParams{})
	kind, _ = models.FetchKind(err)
	assert.Equal(t, models.FetchUnavailable, kind)
}

func TestNoProviderForClass(t *testing.T) {
	g := New(nil, nil, Options{}, nil, nil)
	_, err := g.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrNoProvider)
}
