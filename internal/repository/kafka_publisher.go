package repository

import (
	"context"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	pkgkafka "FinAlloc/pkg/kafka"
)

// KafkaPublisher emits allocations and drift reports keyed by portfolio id,
// so one portfolio's events stay ordered within a partition.
type KafkaPublisher struct {
	producer         *pkgkafka.Producer
	allocationsTopic string
	driftTopic       string
	metrics          domrepo.Metrics
}

func NewKafkaPublisher(producer *pkgkafka.Producer, allocationsTopic, driftTopic string, m domrepo.Metrics) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, allocationsTopic: allocationsTopic, driftTopic: driftTopic, metrics: m}
}

type allocationEvent struct {
	PortfolioID string             `json:"portfolio_id"`
	Allocation  *models.Allocation `json:"allocation"`
	PublishedAt time.Time          `json:"published_at"`
}

func (p *KafkaPublisher) PublishAllocation(ctx context.Context, portfolioID string, a *models.Allocation) error {
	err := p.producer.Publish(ctx, p.allocationsTopic, []byte(portfolioID), allocationEvent{
		PortfolioID: portfolioID,
		Allocation:  a,
		PublishedAt: time.Now().UTC(),
	})
	p.record(p.allocationsTopic, portfolioID, err)
	return err
}

func (p *KafkaPublisher) PublishDriftReport(ctx context.Context, r *models.DriftReport) error {
	err := p.producer.Publish(ctx, p.driftTopic, []byte(r.PortfolioID), r)
	p.record(p.driftTopic, r.PortfolioID, err)
	return err
}

func (p *KafkaPublisher) record(topic, key string, err error) {
	if p.metrics == nil {
		return
	}
	if err != nil {
		p.metrics.RecordError("publish_" + topic)
		return
	}
	p.metrics.RecordMessageSent("kafka", key)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishAllocation(context.Context, string, *models.Allocation) error { return nil }
func (NopPublisher) PublishDriftReport(context.Context, *models.DriftReport) error       { return nil }
func (NopPublisher) Close() error                                                         { return nil }

var (
	_ domrepo.Publisher = (*KafkaPublisher)(nil)
	_ domrepo.Publisher = NopPublisher{}
)
