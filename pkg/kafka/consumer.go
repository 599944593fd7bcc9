package kafka

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	applogger "FinAlloc/pkg/logger"
)

// MessageHandler handles messages from one topic. A nil error commits the
// offset; an error is retried with backoff and then dead-lettered.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerOption func(*ConsumerConfig)

type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	WorkerCount int
	BufferSize  int
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int
	Logger      *applogger.Logger
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		if groupID != "" {
			c.GroupID = groupID
		}
	}
}

func WithConsumerWorkers(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.WorkerCount = n
		}
	}
}

func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// WithConsumerRetry sets retry attempts after the first failure and the
// backoff range between them.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		if max >= 0 {
			c.RetryMax = max
		}
		if backoffMin > 0 {
			c.BackoffMin = backoffMin
		}
		if backoffMax > 0 {
			c.BackoffMax = backoffMax
		}
	}
}

func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) { c.Logger = l }
}

// Consumer reads registered topics through a shared worker pool. Messages
// of one partition are handled one at a time.
type Consumer struct {
	cfg    *ConsumerConfig
	logger *applogger.Logger
	hook   ConsumerHook

	handlers   map[string]MessageHandler
	readers    map[string]messageReader
	newReader  func(topic string) messageReader
	dlq        messageWriter
	msgs       chan kafka.Message
	cancel     context.CancelFunc
	readersWG  sync.WaitGroup
	workersWG  sync.WaitGroup
	stopOnce   sync.Once
	partMu     sync.Mutex
	partitions map[string]*sync.Mutex
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "finalloc",
		WorkerCount: 1,
		BufferSize:  16,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	l := cfg.Logger
	if l == nil {
		l = applogger.Nop()
	}

	c := &Consumer{
		cfg:        cfg,
		logger:     l.Component("kafka_consumer"),
		hook:       NoopHook{},
		handlers:   make(map[string]MessageHandler),
		readers:    make(map[string]messageReader),
		msgs:       make(chan kafka.Message, cfg.BufferSize),
		partitions: make(map[string]*sync.Mutex),
	}
	c.newReader = func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
		})
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	registerMetrics(nil)
	return c, nil
}

// WithConsumerHook installs lifecycle hooks. Call before Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, ok := c.handlers[h.Topic()]; ok {
		c.logger.Warn("handler already registered", applogger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

func (c *Consumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	ctx, c.cancel = context.WithCancel(ctx)

	for topic := range c.handlers {
		c.readers[topic] = c.newReader(topic)
	}
	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.workersWG.Add(1)
		go c.worker(ctx)
	}
	for topic, r := range c.readers {
		c.readersWG.Add(1)
		go c.read(ctx, topic, r)
	}
	c.logger.Info("started", applogger.Int("topics", len(c.handlers)), applogger.Int("workers", c.cfg.WorkerCount))
	return nil
}

func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		done := make(chan struct{})
		go func() {
			c.readersWG.Wait()
			close(c.msgs)
			c.workersWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("consumer stop: %w", ctx.Err())
		}
		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.logger.Warn("close reader", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
		c.logger.Info("stopped")
	})
	return err
}

func (c *Consumer) read(ctx context.Context, topic string, r messageReader) {
	defer c.readersWG.Done()
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("fetch failed", applogger.String("topic", topic), applogger.Error(err))
			if !sleepCtx(ctx, c.cfg.BackoffMin) {
				return
			}
			continue
		}
		if m.Topic == "" {
			m.Topic = topic
		}
		select {
		case c.msgs <- m:
			if consumerDepth != nil {
				consumerDepth.WithLabelValues(topic).Set(float64(len(c.msgs)))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) worker(ctx context.Context) {
	defer c.workersWG.Done()
	for m := range c.msgs {
		c.process(ctx, m)
	}
}

// process handles one message with retries and commits it on success or
// once it has been dead-lettered. Without a DLQ a failed message stays
// uncommitted and is redelivered after a rebalance.
func (c *Consumer) process(ctx context.Context, m kafka.Message) {
	h, ok := c.handlers[m.Topic]
	if !ok {
		return
	}
	pl := c.partitionLock(m.Topic, m.Partition)
	pl.Lock()
	defer pl.Unlock()

	start := time.Now()
	err := c.handleWithRetry(ctx, h, m)
	if consumerLatency != nil {
		consumerLatency.WithLabelValues(m.Topic).Observe(time.Since(start).Seconds())
	}

	result := "ok"
	commit := err == nil
	if err != nil {
		result = "error"
		c.hook.OnError(ctx, m.Topic, m, m.Value, err)
		c.logger.Error("message failed", applogger.String("topic", m.Topic),
			applogger.Int64("offset", m.Offset), applogger.Error(err))
		if c.dlq != nil {
			if derr := c.deadLetter(ctx, m, err); derr != nil {
				c.logger.Error("dead letter failed", applogger.String("topic", m.Topic), applogger.Error(derr))
			} else {
				result = "dead_lettered"
				commit = true
			}
		}
	}
	if consumerHandled != nil {
		consumerHandled.WithLabelValues(m.Topic, result).Inc()
	}
	if commit {
		if r := c.readers[m.Topic]; r != nil {
			c.commit(r, m)
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, h MessageHandler, m kafka.Message) error {
	var err error
	for attempt := 1; ; attempt++ {
		hctx, hm, data, berr := c.hook.BeforeHandle(ctx, m.Topic, m, m.Value)
		if berr != nil {
			return berr
		}
		err = safeHandle(hctx, h, data)
		c.hook.AfterHandle(hctx, m.Topic, hm, data, err)
		if err == nil || attempt > c.cfg.RetryMax || ctx.Err() != nil {
			return err
		}
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return err
		}
	}
}

func safeHandle(ctx context.Context, h MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, data)
}

func (c *Consumer) deadLetter(ctx context.Context, m kafka.Message, cause error) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return c.dlq.WriteMessages(wctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   m.Key,
		Value: m.Value,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(m.Topic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
}

func (c *Consumer) commit(r messageReader, m kafka.Message) {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, m)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.logger.Error("commit failed", applogger.String("topic", m.Topic), applogger.Int64("offset", m.Offset), applogger.Error(err))
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	key := fmt.Sprintf("%s/%d", topic, partition)
	c.partMu.Lock()
	defer c.partMu.Unlock()
	l, ok := c.partitions[key]
	if !ok {
		l = &sync.Mutex{}
		c.partitions[key] = l
	}
	return l
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := max
	if attempt < 31 {
		if d := min << uint(attempt-1); d > 0 && d < max {
			exp = d
		}
	}
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
