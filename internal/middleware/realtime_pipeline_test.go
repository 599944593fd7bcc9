package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domrepo "FinAlloc/internal/domain/repository"
)

type recordingProc struct {
	mu    sync.Mutex
	fail  int
	seen  []*domrepo.Trade
	calls int
}

func (r *recordingProc) Process(_ context.Context, t *domrepo.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail > 0 {
		r.fail--
		return errors.New("downstream down")
	}
	r.seen = append(r.seen, t)
	return nil
}

func (r *recordingProc) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func trade(sym string, px float64) *domrepo.Trade {
	return &domrepo.Trade{Symbol: sym, Timestamp: time.Now().Unix(), Price: px, Volume: 1}
}

func TestPipelineRejectsInvalidTrades(t *testing.T) {
	p := NewRealtimePipeline(&recordingProc{}, nil, nil)
	for _, tr := range []*domrepo.Trade{
		nil,
		{Symbol: "", Timestamp: 1, Price: 1},
		{Symbol: "A", Timestamp: 0, Price: 1},
		{Symbol: "A", Timestamp: 1, Price: 0},
		{Symbol: "A", Timestamp: 1, Price: 1, Volume: -1},
	} {
		assert.ErrorIs(t, p.Process(context.Background(), tr), errInvalidTrade)
	}
}

func TestPipelineThrottlesPerSymbol(t *testing.T) {
	proc := &recordingProc{}
	p := NewRealtimePipeline(proc, nil, nil, WithMaxRPS(2))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Process(ctx, trade("AAPL", 100)))
	}
	require.NoError(t, p.Process(ctx, trade("MSFT", 300)))

	// burst of 2 for AAPL, MSFT has its own bucket
	assert.Equal(t, 3, proc.count())
}

func TestPipelineRetriesBufferedTrades(t *testing.T) {
	proc := &recordingProc{fail: 1}
	p := NewRealtimePipeline(proc, nil, nil, WithBackoff(time.Millisecond, 5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := p.Process(ctx, trade("AAPL", 100))
	require.Error(t, err)
	assert.Equal(t, 1, p.Buffered())

	p.Start(ctx)
	defer p.Stop()
	require.Eventually(t, func() bool { return proc.count() == 1 }, time.Second, 5*time.Millisecond)
}
