package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	domrepo "FinAlloc/internal/domain/repository"
	mid "FinAlloc/internal/middleware"
	applogger "FinAlloc/pkg/logger"
)

var errStreamClosed = errors.New("stream closed")

// QuoteUpdater folds streamed trades into cached quotes.
type QuoteUpdater struct {
	market  *MarketData
	metrics domrepo.Metrics
}

func NewQuoteUpdater(market *MarketData, m domrepo.Metrics) *QuoteUpdater {
	return &QuoteUpdater{market: market, metrics: m}
}

func (u *QuoteUpdater) Process(ctx context.Context, t *domrepo.Trade) error {
	if t == nil {
		return fmt.Errorf("trade is nil")
	}
	q, applied, err := u.market.ApplyTrade(ctx, t)
	if err != nil {
		return err
	}
	if applied && u.metrics != nil {
		u.metrics.RecordLastPrice(q.Symbol, q.Price)
		u.metrics.RecordMessageSent("quote_cache", q.Symbol)
	}
	return nil
}

var _ mid.Proc = (*QuoteUpdater)(nil)

// LiveQuotes keeps cached quotes current from a market stream for a fixed
// watch list.
type LiveQuotes struct {
	stream  domrepo.MarketStream
	pipe    *mid.RealtimePipeline
	symbols []string
	logger  *applogger.Logger
	metrics domrepo.Metrics

	reconnectWait time.Duration
	stopped       atomic.Bool
	wg            sync.WaitGroup
}

func NewLiveQuotes(stream domrepo.MarketStream, pipe *mid.RealtimePipeline, symbols []string, l *applogger.Logger, m domrepo.Metrics) *LiveQuotes {
	if l == nil {
		l = applogger.Nop()
	}
	return &LiveQuotes{
		stream:        stream,
		pipe:          pipe,
		symbols:       symbols,
		logger:        l.Component("live_quotes"),
		metrics:       m,
		reconnectWait: time.Second,
	}
}

func (c *LiveQuotes) IsConnected() bool { return c.stream.IsConnected() }

// Start connects, subscribes and consumes until ctx is done.
func (c *LiveQuotes) Start(ctx context.Context) error {
	if len(c.symbols) == 0 {
		c.logger.Info("no symbols to watch, stream disabled")
		return nil
	}
	if err := c.stream.Connect(ctx); err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	if err := c.stream.Subscribe(ctx, c.symbols); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.pipe.Start(ctx)

	c.wg.Add(1)
	go c.run(ctx)
	c.logger.Info("streaming quotes", applogger.Strings("symbols", c.symbols))
	return nil
}

// run reads until the stream fails, then reconnects and reads again.
func (c *LiveQuotes) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil || c.stopped.Load() {
			return
		}
		c.logger.Warn("stream interrupted, reconnecting", applogger.Error(err))
		if c.metrics != nil {
			c.metrics.RecordError("stream")
		}
		for {
			rerr := c.stream.Reconnect(ctx)
			if rerr == nil {
				break
			}
			if ctx.Err() != nil || c.stopped.Load() {
				return
			}
			c.logger.Error("reconnect failed", applogger.Error(rerr))
			select {
			case <-time.After(c.reconnectWait):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *LiveQuotes) consume(ctx context.Context) error {
	trades, errs := c.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return err
		case t, ok := <-trades:
			if !ok {
				return errStreamClosed
			}
			if err := c.pipe.Process(ctx, t); err != nil {
				c.logger.Debug("trade not applied", applogger.String("symbol", t.Symbol), applogger.Error(err))
			}
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *LiveQuotes) Shutdown(ctx context.Context) error {
	c.stopped.Store(true)
	c.pipe.Stop()
	err := c.stream.Close()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
