package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	key      string
	value    []byte
	expireAt time.Time
}

// MemoryCache implements Service using in-memory storage with LRU eviction.
type MemoryCache struct {
	mutex   sync.Mutex
	data    map[string]*list.Element
	lru     *list.List // front = most recently used
	maxSize int
	now     func() time.Time
	locks   map[string]time.Time

	cleanupTicker *time.Ticker
	done          chan struct{}
	closeOnce     sync.Once
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
		Now:             time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		data:          make(map[string]*list.Element),
		lru:           list.New(),
		locks:         make(map[string]time.Time),
		maxSize:       cfg.MaxSize,
		now:           cfg.Now,
		cleanupTicker: time.NewTicker(cfg.CleanupInterval),
		done:          make(chan struct{}),
	}

	go mc.cleanupExpired()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value []byte, expiration time.Duration) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if expiration <= 0 {
		expiration = 7 * 24 * time.Hour
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	if el, ok := mc.data[key]; ok {
		item := el.Value.(*memoryItem)
		item.value = buf
		item.expireAt = mc.now().Add(expiration)
		mc.lru.MoveToFront(el)
		return nil
	}

	for len(mc.data) >= mc.maxSize && mc.lru.Len() > 0 {
		mc.removeElement(mc.lru.Back())
	}
	mc.data[key] = mc.lru.PushFront(&memoryItem{key: key, value: buf, expireAt: mc.now().Add(expiration)})
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	el, ok := mc.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	item := el.Value.(*memoryItem)
	if mc.now().After(item.expireAt) {
		mc.removeElement(el)
		return nil, ErrCacheMiss
	}
	mc.lru.MoveToFront(el)

	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		if el, ok := mc.data[key]; ok {
			mc.removeElement(el)
		}
	}
	return nil
}

func (mc *MemoryCache) DeleteByPrefix(_ context.Context, prefix string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for key, el := range mc.data {
		if strings.HasPrefix(key, prefix) {
			mc.removeElement(el)
		}
	}
	return nil
}

// TryLock keeps locks outside the LRU so eviction never drops a held lock.
func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := mc.now()
	if until, ok := mc.locks[key]; ok && !now.After(until) {
		return false, nil
	}
	mc.locks[key] = now.Add(ttl)
	return true, nil
}

func (mc *MemoryCache) Unlock(_ context.Context, key string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	delete(mc.locks, key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (mc *MemoryCache) Len() int {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	return len(mc.data)
}

func (mc *MemoryCache) removeElement(el *list.Element) {
	item := el.Value.(*memoryItem)
	delete(mc.data, item.key)
	mc.lru.Remove(el)
}

func (mc *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-mc.cleanupTicker.C:
			mc.mutex.Lock()
			now := mc.now()
			for _, el := range mc.data {
				if now.After(el.Value.(*memoryItem).expireAt) {
					mc.removeElement(el)
				}
			}
			for key, until := range mc.locks {
				if now.After(until) {
					delete(mc.locks, key)
				}
			}
			mc.mutex.Unlock()
		case <-mc.done:
			return
		}
	}
}

// Close stops the cleanup goroutine.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.cleanupTicker.Stop()
		close(mc.done)
	})
	return nil
}
