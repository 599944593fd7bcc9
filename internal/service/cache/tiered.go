package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/domain/repository"
	pkgcache "FinAlloc/pkg/cache"
	applogger "FinAlloc/pkg/logger"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the freshness window per data class.
var DefaultTTL = map[models.DataClass]time.Duration{
	models.ClassQuote:        60 * time.Second,
	models.ClassAnalysis:     15 * time.Minute,
	models.ClassFundamentals: time.Hour,
	models.ClassHistory:      24 * time.Hour,
}

type Options struct {
	TTL map[models.DataClass]time.Duration
	// StaleRetention is how long an expired entry stays readable as a
	// fallback when a refresh fails.
	StaleRetention time.Duration
	Now            func() time.Time
}

// Tiered wraps a byte cache (memory, Redis or both) with per-class TTLs,
// single-flight refresh and stale-on-error fallback.
type Tiered struct {
	store   pkgcache.Service
	group   singleflight.Group
	ttl     map[models.DataClass]time.Duration
	stale   time.Duration
	now     func() time.Time
	logger  *applogger.Logger
	metrics repository.Metrics
}

type envelope struct {
	Value     []byte           `msgpack:"v"`
	CreatedAt time.Time        `msgpack:"t"`
	Class     models.DataClass `msgpack:"c"`
}

// Result is a cache read. Stale is set when Value outlived its TTL and was
// served because a refresh failed.
type Result[T any] struct {
	Value     T
	Stale     bool
	CreatedAt time.Time
}

func NewTiered(store pkgcache.Service, opts Options, l *applogger.Logger, m repository.Metrics) *Tiered {
	ttl := make(map[models.DataClass]time.Duration, len(DefaultTTL))
	for k, v := range DefaultTTL {
		ttl[k] = v
	}
	for k, v := range opts.TTL {
		if v > 0 {
			ttl[k] = v
		}
	}
	if opts.StaleRetention <= 0 {
		opts.StaleRetention = 72 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Tiered{
		store:   store,
		ttl:     ttl,
		stale:   opts.StaleRetention,
		now:     opts.Now,
		logger:  l.Component("cache"),
		metrics: m,
	}
}

// Key renders class:SYMBOL[:hash(params)].
func Key(class models.DataClass, symbol, params string) string {
	symbol = strings.ToUpper(symbol)
	if params == "" {
		return pkgcache.GenerateKey(string(class), symbol)
	}
	return pkgcache.GenerateKeyWithParams(string(class), symbol, pkgcache.HashKey(params))
}

// TTL returns the freshness window for class.
func (t *Tiered) TTL(class models.DataClass) time.Duration { return t.ttl[class] }

type lookup struct{ requireFresh bool }

type LookupOption func(*lookup)

// RequireFresh disables the stale fallback for one lookup.
func RequireFresh() LookupOption { return func(l *lookup) { l.requireFresh = true } }

func (t *Tiered) read(ctx context.Context, key string) (*envelope, bool) {
	raw, err := t.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, pkgcache.ErrCacheMiss) {
			t.logger.Warn("cache read failed", applogger.String("key", key), applogger.Error(err))
		}
		return nil, false
	}
	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		t.logger.Warn("cache entry corrupt", applogger.String("key", key), applogger.Error(err))
		_ = t.store.Delete(ctx, key)
		return nil, false
	}
	return &env, true
}

func (t *Tiered) fresh(env *envelope, class models.DataClass) bool {
	return t.now().Sub(env.CreatedAt) < t.ttl[class]
}

func (t *Tiered) write(ctx context.Context, key string, class models.DataClass, value []byte) (*envelope, error) {
	env := &envelope{Value: value, CreatedAt: t.now(), Class: class}
	raw, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	if err := t.store.Set(ctx, key, raw, t.ttl[class]+t.stale); err != nil {
		// A failed write still lets this caller use the fetched value.
		t.logger.Warn("cache write failed", applogger.String("key", key), applogger.Error(err))
	}
	return env, nil
}

func (t *Tiered) observe(class models.DataClass, outcome string) {
	if t.metrics != nil {
		t.metrics.RecordCacheLookup(class, outcome)
	}
}

func decode[T any](env *envelope, stale bool) (Result[T], error) {
	var v T
	if err := msgpack.Unmarshal(env.Value, &v); err != nil {
		return Result[T]{}, fmt.Errorf("decode cached %s: %w", env.Class, err)
	}
	return Result[T]{Value: v, Stale: stale, CreatedAt: env.CreatedAt}, nil
}

// GetOrFetch returns the cached value for key when fresh. Otherwise one
// caller per key runs fetch while concurrent callers wait for its result.
// If fetch fails and an expired entry is still retained, that entry is
// returned with Stale set, unless RequireFresh was passed.
func GetOrFetch[T any](ctx context.Context, t *Tiered, key string, class models.DataClass, fetch func(context.Context) (T, error), opts ...LookupOption) (Result[T], error) {
	var lo lookup
	for _, o := range opts {
		o(&lo)
	}

	cached, ok := t.read(ctx, key)
	if ok && t.fresh(cached, class) {
		t.observe(class, "hit")
		return decode[T](cached, false)
	}

	// The flight outlives any single waiter, so it ignores their cancellation.
	bg := context.WithoutCancel(ctx)
	ch := t.group.DoChan(key, func() (interface{}, error) {
		// Another flight may have refreshed the key since our read.
		if env, ok := t.read(bg, key); ok && t.fresh(env, class) {
			return env, nil
		}
		v, err := fetch(bg)
		if err != nil {
			return nil, err
		}
		raw, err := msgpack.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", class, err)
		}
		return t.write(bg, key, class, raw)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	case res = <-ch:
	}

	if res.Err == nil {
		t.observe(class, "miss")
		return decode[T](res.Val.(*envelope), false)
	}
	if ok && !lo.requireFresh {
		t.observe(class, "stale")
		t.logger.Warn("serving stale entry",
			applogger.String("key", key),
			applogger.Duration("age_ms", t.now().Sub(cached.CreatedAt)),
			applogger.Error(res.Err),
		)
		return decode[T](cached, true)
	}
	t.observe(class, "error")
	return Result[T]{}, res.Err
}

// Peek reads key without fetching. Found entries past their TTL are marked stale.
func Peek[T any](ctx context.Context, t *Tiered, key string, class models.DataClass) (Result[T], bool) {
	env, ok := t.read(ctx, key)
	if !ok {
		return Result[T]{}, false
	}
	r, err := decode[T](env, !t.fresh(env, class))
	if err != nil {
		return Result[T]{}, false
	}
	return r, true
}

// Put stores value as a fresh entry.
func Put[T any](ctx context.Context, t *Tiered, key string, class models.DataClass, value T) error {
	raw, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", class, err)
	}
	_, err = t.write(ctx, key, class, raw)
	return err
}

// Invalidate drops keys from every tier.
func (t *Tiered) Invalidate(ctx context.Context, keys ...string) error {
	return t.store.Delete(ctx, keys...)
}

// InvalidateSymbol drops every entry cached for symbol, whatever its class or
// parameters. Stale copies go too, so the next read must reach a provider.
func (t *Tiered) InvalidateSymbol(ctx context.Context, symbol string) error {
	var errs []error
	for _, class := range []models.DataClass{models.ClassQuote, models.ClassHistory, models.ClassFundamentals, models.ClassAnalysis} {
		base := Key(class, symbol, "")
		if err := t.store.Delete(ctx, base); err != nil {
			errs = append(errs, err)
		}
		if err := t.store.DeleteByPrefix(ctx, base+":"); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalidate %s: %w", symbol, err)
	}
	return nil
}
