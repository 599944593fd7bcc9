package logger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestCollectorAggregatesDuplicates(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "ops.logs", Publisher: pub})

	fields := map[string]interface{}{"provider": "finnhub", "symbol": "AAPL"}
	c.AddLog("error", "fetch failed", fields, "gateway.go:10")
	c.AddLog("error", "fetch failed", map[string]interface{}{"symbol": "AAPL", "provider": "finnhub"}, "gateway.go:10")
	c.AddLog("error", "fetch failed", map[string]interface{}{"provider": "alpaca"}, "gateway.go:10")
	assert.Equal(t, 2, c.Pending())

	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	counts := map[int]int{}
	for _, e := range pub.batches[0] {
		counts[e.Count]++
	}
	assert.Equal(t, map[int]int{1: 1, 2: 1}, counts)
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	c.AddLog("error", "a", nil, "x")
	c.AddLog("error", "b", nil, "x")
	assert.Equal(t, 0, c.Pending())
	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Len(t, pub.batches[0], 2)
}

func TestCollectorReachesEarlierChildren(t *testing.T) {
	root := Nop()
	child := root.Component("gateway")

	pub := &capturePublisher{}
	root.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Publisher: pub})
	child.Error("provider down", String("provider", "finnhub"))
	require.NoError(t, root.Close())

	// detached: nothing more is collected
	child.Error("provider down again")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	require.Len(t, pub.batches[0], 1)
	assert.Equal(t, "provider down", pub.batches[0][0].Message)
	assert.Equal(t, "finnhub", pub.batches[0][0].Fields["provider"])
}
