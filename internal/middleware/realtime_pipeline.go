package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	domrepo "FinAlloc/internal/domain/repository"
	applogger "FinAlloc/pkg/logger"
)

var errInvalidTrade = errors.New("invalid trade")

// Proc is the downstream the pipeline feeds.
type Proc interface {
	Process(ctx context.Context, t *domrepo.Trade) error
}

// RealtimePipeline sits between the market stream and the live quote
// updater. It validates trades, throttles each symbol and retries failed
// trades from a bounded buffer.
type RealtimePipeline struct {
	proc    Proc
	logger  *applogger.Logger
	metrics domrepo.Metrics

	perSymbol rate.Limit
	burst     int
	limiters  map[string]*rate.Limiter
	lmu       sync.Mutex

	bufCh   chan *domrepo.Trade
	stopCh  chan struct{}
	done    chan struct{}
	started bool
	mu      sync.Mutex

	backoffMin time.Duration
	backoffMax time.Duration
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS caps accepted trades per second for each symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.perSymbol = rate.Limit(n)
			p.burst = n
		}
	}
}

// WithBufferSize sets how many failed trades are held for retry.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufCh = make(chan *domrepo.Trade, n)
		}
	}
}

func WithBackoff(minWait, maxWait time.Duration) PipelineOption {
	return func(p *RealtimePipeline) {
		if minWait > 0 && maxWait >= minWait {
			p.backoffMin, p.backoffMax = minWait, maxWait
		}
	}
}

func NewRealtimePipeline(proc Proc, l *applogger.Logger, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	if l == nil {
		l = applogger.Nop()
	}
	p := &RealtimePipeline{
		proc:       proc,
		logger:     l.Component("realtime_pipeline"),
		metrics:    metrics,
		perSymbol:  20,
		burst:      20,
		limiters:   make(map[string]*rate.Limiter),
		bufCh:      make(chan *domrepo.Trade, 1000),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the retry loop for buffered trades.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.drain(ctx)
}

func (p *RealtimePipeline) drain(ctx context.Context) {
	defer close(p.done)
	backoff := p.backoffMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case t := <-p.bufCh:
			if err := p.proc.Process(ctx, t); err != nil {
				p.recordError("pipeline_retry")
				backoff = min(backoff*2, p.backoffMax)
				select {
				case <-time.After(backoff):
				case <-p.stopCh:
					return
				case <-ctx.Done():
					return
				}
				p.enqueue(t)
				continue
			}
			backoff = p.backoffMin
		}
	}
}

// Stop ends the retry loop and waits for it to exit.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.done
}

// Process validates and throttles t before handing it downstream. Throttled
// trades are dropped without error; failed ones are buffered for retry.
func (p *RealtimePipeline) Process(ctx context.Context, t *domrepo.Trade) error {
	start := time.Now()
	if err := validateTrade(t); err != nil {
		p.recordError("pipeline_validate")
		return err
	}
	if !p.limiter(t.Symbol).AllowN(start, 1) {
		p.recordError("pipeline_throttle")
		return nil
	}
	if err := p.proc.Process(ctx, t); err != nil {
		p.recordError("pipeline_process")
		p.enqueue(t)
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	}
	return nil
}

// Buffered reports the number of trades waiting for retry.
func (p *RealtimePipeline) Buffered() int { return len(p.bufCh) }

func (p *RealtimePipeline) enqueue(t *domrepo.Trade) {
	select {
	case p.bufCh <- t:
	default:
		p.recordError("pipeline_buffer_full")
		p.logger.Warn("retry buffer full, trade dropped", applogger.String("symbol", t.Symbol))
	}
}

func (p *RealtimePipeline) limiter(symbol string) *rate.Limiter {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	l, ok := p.limiters[symbol]
	if !ok {
		l = rate.NewLimiter(p.perSymbol, p.burst)
		p.limiters[symbol] = l
	}
	return l
}

func (p *RealtimePipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}

func validateTrade(t *domrepo.Trade) error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: nil", errInvalidTrade)
	case t.Symbol == "":
		return fmt.Errorf("%w: empty symbol", errInvalidTrade)
	case t.Timestamp <= 0:
		return fmt.Errorf("%w: timestamp %d", errInvalidTrade, t.Timestamp)
	case t.Price <= 0 || math.IsNaN(t.Price) || math.IsInf(t.Price, 0):
		return fmt.Errorf("%w: price %v", errInvalidTrade, t.Price)
	case t.Volume < 0:
		return fmt.Errorf("%w: volume %v", errInvalidTrade, t.Volume)
	}
	return nil
}
