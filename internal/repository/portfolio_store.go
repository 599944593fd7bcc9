package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	pkgcache "FinAlloc/pkg/cache"
)

const lockPoll = 20 * time.Millisecond

type locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// acquire polls TryLock until it succeeds or ctx is done.
func acquire(ctx context.Context, l locker, key string, ttl time.Duration) (func(), error) {
	t := time.NewTicker(lockPoll)
	defer t.Stop()
	for {
		ok, err := l.TryLock(ctx, key, ttl)
		if err != nil {
			return nil, fmt.Errorf("try lock %s: %w", key, err)
		}
		if ok {
			return func() { _ = l.Unlock(context.WithoutCancel(ctx), key) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func portfolioKey(id string) string { return "portfolio:" + id }

// MemoryPortfolioStore keeps portfolios in process. Records are stored
// encoded so callers never share maps with the store.
type MemoryPortfolioStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	locks *pkgcache.MemoryCache
}

func NewMemoryPortfolioStore() *MemoryPortfolioStore {
	return &MemoryPortfolioStore{
		data:  make(map[string][]byte),
		locks: pkgcache.NewMemoryCache(),
	}
}

func (s *MemoryPortfolioStore) Get(_ context.Context, id string) (*models.Portfolio, error) {
	s.mu.RLock()
	raw, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrPortfolioNotFound, id)
	}
	var p models.Portfolio
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode portfolio %s: %w", id, err)
	}
	return &p, nil
}

func (s *MemoryPortfolioStore) Save(_ context.Context, p *models.Portfolio) error {
	if p == nil || p.ID == "" {
		return errors.New("portfolio id is required")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode portfolio %s: %w", p.ID, err)
	}
	s.mu.Lock()
	s.data[p.ID] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryPortfolioStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	out := make([]string, 0, len(s.data))
	for id := range s.data {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (s *MemoryPortfolioStore) Lock(ctx context.Context, id string, ttl time.Duration) (func(), error) {
	return acquire(ctx, s.locks, portfolioKey(id), ttl)
}

func (s *MemoryPortfolioStore) Close() error { return s.locks.Close() }

// RedisPortfolioStore shares portfolios and their locks between processes.
// Ids are indexed in a Redis set so List does not scan the keyspace.
type RedisPortfolioStore struct {
	cache *pkgcache.RedisCache
}

func NewRedisPortfolioStore(c *pkgcache.RedisCache) *RedisPortfolioStore {
	return &RedisPortfolioStore{cache: c}
}

func (s *RedisPortfolioStore) indexKey() string { return s.cache.Key("portfolio_ids") }

func (s *RedisPortfolioStore) Get(ctx context.Context, id string) (*models.Portfolio, error) {
	raw, err := s.cache.Get(ctx, portfolioKey(id))
	if errors.Is(err, pkgcache.ErrCacheMiss) {
		return nil, fmt.Errorf("%w: %s", models.ErrPortfolioNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio %s: %w", id, err)
	}
	var p models.Portfolio
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode portfolio %s: %w", id, err)
	}
	return &p, nil
}

func (s *RedisPortfolioStore) Save(ctx context.Context, p *models.Portfolio) error {
	if p == nil || p.ID == "" {
		return errors.New("portfolio id is required")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode portfolio %s: %w", p.ID, err)
	}
	pipe := s.cache.Client().TxPipeline()
	pipe.Set(ctx, s.cache.Key(portfolioKey(p.ID)), raw, 0)
	pipe.SAdd(ctx, s.indexKey(), p.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save portfolio %s: %w", p.ID, err)
	}
	return nil
}

func (s *RedisPortfolioStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.cache.Client().SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list portfolios: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisPortfolioStore) Lock(ctx context.Context, id string, ttl time.Duration) (func(), error) {
	return acquire(ctx, s.cache, portfolioKey(id), ttl)
}

var (
	_ domrepo.PortfolioStore = (*MemoryPortfolioStore)(nil)
	_ domrepo.PortfolioStore = (*RedisPortfolioStore)(nil)
)
