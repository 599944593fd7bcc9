package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/vmihailenco/msgpack/v5"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes encoded payloads. Byte and string payloads are sent
// as-is; anything else goes through the configured encoding.
type Producer struct {
	writer   messageWriter
	comp     string
	encoding string
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Encoding != EncodingJSON && cfg.Encoding != EncodingMsgpack {
		return nil, fmt.Errorf("unknown encoding %q", cfg.Encoding)
	}

	bal := kafka.Balancer(&kafka.LeastBytes{})
	if cfg.HashByKey {
		bal = &kafka.Hash{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     bal,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		BatchSize:    cfg.BatchSize,
		BatchBytes:   int64(cfg.BatchBytes),
		BatchTimeout: cfg.BatchTimeout,
		Async:        cfg.Async,
	}
	registerMetrics(cfg.Registerer)
	return &Producer{writer: w, comp: cfg.Compression, encoding: cfg.Encoding}, nil
}

// Publish sends one message to topic.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Key: key, Value: value}})
}

// PublishMessage sends a keyless message. It lets the producer ship log
// batches for the log collector.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.Publish(ctx, topic, nil, payload)
}

func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	start := time.Now()
	now := start.UTC()
	msgs := make([]kafka.Message, 0, len(messages))
	var size int64
	for _, m := range messages {
		v, err := p.encode(m.Value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", topic, err)
		}
		km := kafka.Message{Topic: topic, Key: m.Key, Value: v, Time: now}
		if p.encoding == EncodingMsgpack {
			km.Headers = []kafka.Header{{Key: "content-type", Value: []byte("application/msgpack")}}
		}
		msgs = append(msgs, km)
		size += int64(len(v))
	}

	err := p.writer.WriteMessages(ctx, msgs...)
	observePublish(topic, p.comp, size, len(msgs), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) encode(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	}
	if p.encoding == EncodingMsgpack {
		return msgpack.Marshal(v)
	}
	return json.Marshal(v)
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

type Message struct {
	Key   []byte
	Value interface{}
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}

var (
	metricsOnce sync.Once

	producerMessages *prometheus.CounterVec
	producerBytes    *prometheus.CounterVec
	producerLatency  *prometheus.HistogramVec
	consumerHandled  *prometheus.CounterVec
	consumerLatency  *prometheus.HistogramVec
	consumerDepth    *prometheus.GaugeVec
)

// registerMetrics registers the client collectors once per process. A nil
// registerer means the default one.
func registerMetrics(reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		producerMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finalloc_kafka_producer_messages_total",
			Help: "Messages published to Kafka",
		}, []string{"topic", "compression", "result"})
		producerBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finalloc_kafka_producer_bytes_total",
			Help: "Payload bytes published",
		}, []string{"topic"})
		producerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finalloc_kafka_producer_publish_seconds",
			Help:    "Publish latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
		consumerHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finalloc_kafka_consumer_messages_total",
			Help: "Messages handled by result",
		}, []string{"topic", "result"})
		consumerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finalloc_kafka_consumer_handle_seconds",
			Help:    "Handling time per message",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
		consumerDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finalloc_kafka_consumer_queue_depth",
			Help: "Messages waiting for a worker",
		}, []string{"topic"})

		for _, c := range []prometheus.Collector{
			producerMessages, producerBytes, producerLatency,
			consumerHandled, consumerLatency, consumerDepth,
		} {
			if err := reg.Register(c); err != nil {
				if _, dup := err.(prometheus.AlreadyRegisteredError); !dup {
					panic(err)
				}
			}
		}
	})
}

func observePublish(topic, comp string, size int64, count int, dur time.Duration, err error) {
	if producerMessages == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerMessages.WithLabelValues(topic, comp, result).Add(float64(count))
	producerBytes.WithLabelValues(topic).Add(float64(size))
	producerLatency.WithLabelValues(topic).Observe(dur.Seconds())
}
