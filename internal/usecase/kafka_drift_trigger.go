package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	pkgkafka "FinAlloc/pkg/kafka"
	applogger "FinAlloc/pkg/logger"
)

// DriftEvaluator is the orchestrator surface the trigger needs.
type DriftEvaluator interface {
	EvaluatePortfolio(ctx context.Context, id string) (*models.DriftReport, error)
}

// DriftTrigger evaluates one portfolio per message on the trigger topic.
// Messages are msgpack or JSON encoded {portfolio_id, requested_at}.
type DriftTrigger struct {
	topic   string
	eval    DriftEvaluator
	logger  *applogger.Logger
	metrics domrepo.Metrics
}

func NewDriftTrigger(topic string, eval DriftEvaluator, l *applogger.Logger, m domrepo.Metrics) *DriftTrigger {
	if l == nil {
		l = applogger.Nop()
	}
	return &DriftTrigger{topic: topic, eval: eval, logger: l.Component("drift_trigger"), metrics: m}
}

func (h *DriftTrigger) Topic() string { return h.topic }

type driftTriggerMessage struct {
	PortfolioID string `msgpack:"portfolio_id" json:"portfolio_id"`
	RequestedAt int64  `msgpack:"requested_at" json:"requested_at"`
}

// Handle returns an error only for failures worth a retry. Bad payloads,
// unknown portfolios and per-portfolio evaluation errors are logged and
// committed.
func (h *DriftTrigger) Handle(ctx context.Context, b []byte) error {
	m, err := decodeTrigger(b)
	if err != nil {
		h.recordError("trigger_decode")
		h.logger.Warn("drop drift trigger", applogger.Error(err))
		return nil
	}
	if m.RequestedAt > 0 && h.metrics != nil {
		h.metrics.RecordLatency("drift_trigger_lag", time.Since(time.Unix(m.RequestedAt, 0)).Seconds())
	}

	_, err = h.eval.EvaluatePortfolio(ctx, m.PortfolioID)
	var de *models.DriftEvaluationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &de), errors.Is(err, models.ErrPortfolioNotFound):
		h.recordError("trigger_evaluate")
		h.logger.Warn("drift trigger skipped",
			applogger.String("portfolio", m.PortfolioID),
			applogger.Error(err))
		return nil
	default:
		return fmt.Errorf("evaluate %s: %w", m.PortfolioID, err)
	}
}

func (h *DriftTrigger) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

func decodeTrigger(b []byte) (driftTriggerMessage, error) {
	var m driftTriggerMessage
	if len(b) > 0 && b[0] == '{' {
		if err := json.Unmarshal(b, &m); err != nil {
			return m, fmt.Errorf("decode trigger: %w", err)
		}
	} else if err := msgpack.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode trigger: %w", err)
	}
	m.PortfolioID = strings.TrimSpace(m.PortfolioID)
	if m.PortfolioID == "" {
		return m, errors.New("trigger without portfolio_id")
	}
	return m, nil
}

var _ pkgkafka.MessageHandler = (*DriftTrigger)(nil)
