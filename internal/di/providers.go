package di

import (
	"context"
	"fmt"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	domsvc "FinAlloc/internal/domain/service"
	"FinAlloc/internal/handler/api"
	mid "FinAlloc/internal/middleware"
	"FinAlloc/internal/repository"
	svccache "FinAlloc/internal/service/cache"
	"FinAlloc/internal/service/finnhub"
	"FinAlloc/internal/service/gateway"
	"FinAlloc/internal/service/providers"
	"FinAlloc/internal/service/ratelimit"
	"FinAlloc/internal/services/drift"
	"FinAlloc/internal/services/optimizer"
	"FinAlloc/internal/services/signals"
	"FinAlloc/internal/usecase"
	pkgcache "FinAlloc/pkg/cache"
	pkgch "FinAlloc/pkg/clickhouse"
	"FinAlloc/pkg/config"
	xhttp "FinAlloc/pkg/http"
	pkgkafka "FinAlloc/pkg/kafka"
	applogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/metrics"
	"FinAlloc/pkg/scheduler"
	"FinAlloc/pkg/server"
)

// Container is what the commands need: the full app for serve and the
// orchestrator for one-shot runs.
type Container struct {
	App          *server.App
	Orchestrator *usecase.Orchestrator
	Logger       *applogger.Logger
}

func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideRedis returns nil when Redis is disabled.
func ProvideRedis(cfg *config.Config) (*pkgcache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdle, 5*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideCacheStore picks memory-only or memory over Redis.
func ProvideCacheStore(cfg *config.Config, rc *pkgcache.RedisCache) pkgcache.Service {
	if rc == nil {
		return pkgcache.NewMemoryCache(
			pkgcache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize),
			pkgcache.WithMemoryCleanup(cfg.Cache.CleanupInterval),
		)
	}
	return pkgcache.NewLayeredCache(rc,
		pkgcache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
		pkgcache.WithLayeredL1TTL(cfg.Cache.TTL.Quote),
	)
}

func ProvideTieredCache(cfg *config.Config, store pkgcache.Service, l *applogger.Logger, m domrepo.Metrics) *svccache.Tiered {
	return svccache.NewTiered(store, svccache.Options{
		TTL: map[models.DataClass]time.Duration{
			models.ClassQuote:        cfg.Cache.TTL.Quote,
			models.ClassAnalysis:     cfg.Cache.TTL.Analysis,
			models.ClassFundamentals: cfg.Cache.TTL.Fundamentals,
			models.ClassHistory:      cfg.Cache.TTL.History,
		},
		StaleRetention: cfg.Cache.StaleRetention,
	}, l, m)
}

// ProvideRateLimiter holds every provider's call budget for the process.
func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

func ProvideGateway(cfg *config.Config, limiter *ratelimit.Limiter, l *applogger.Logger, m domrepo.Metrics) *gateway.Gateway {
	p := cfg.Providers
	setups := []gateway.ProviderSetup{
		{
			Provider: providers.NewFinnhub(p.Finnhub.APIKey, p.Finnhub.BaseURL, xhttp.WithTimeout(p.Finnhub.Timeout)),
			Budget:   p.Finnhub.Budget,
			Window:   p.Finnhub.Window,
		},
		{
			Provider: providers.NewAlphaVantage(p.AlphaVantage.APIKey, p.AlphaVantage.BaseURL, xhttp.WithTimeout(p.AlphaVantage.Timeout)),
			Budget:   p.AlphaVantage.Budget,
			Window:   p.AlphaVantage.Window,
		},
		{
			Provider: providers.NewAlpaca(p.Alpaca.APIKey, p.Alpaca.APISecret),
			Budget:   p.Alpaca.Budget,
			Window:   p.Alpaca.Window,
		},
	}
	return gateway.New(setups, limiter, gateway.Options{
		Priority: map[models.DataClass][]string{
			models.ClassQuote:        cfg.Gateway.Priority.Quote,
			models.ClassHistory:      cfg.Gateway.Priority.History,
			models.ClassFundamentals: cfg.Gateway.Priority.Fundamentals,
		},
		MaxWait:          cfg.Gateway.MaxWait,
		CallTimeout:      cfg.Gateway.CallTimeout,
		FailureThreshold: cfg.Gateway.FailureThreshold,
		Cooldown:         cfg.Gateway.Cooldown,
	}, l, m)
}

// ProvideClickHouse returns nil unless the series store is ClickHouse.
func ProvideClickHouse(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.Storage.Series != "clickhouse" {
		return nil, func() {}, nil
	}
	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func ProvideSeriesStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) (domrepo.SeriesStore, error) {
	if ch == nil {
		return repository.NewMemorySeriesStore(), nil
	}
	table := cfg.ClickHouse.Database + ".bars"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stmts := append([]string{"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database}, repository.BarsSchema(table)...)
	if err := ch.InitSchema(ctx, stmts); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return repository.NewCHSeriesStore(ch, table, l), nil
}

func ProvidePortfolioStore(cfg *config.Config, rc *pkgcache.RedisCache) domrepo.PortfolioStore {
	if rc == nil || cfg.Storage.Portfolios != "redis" {
		return repository.NewMemoryPortfolioStore()
	}
	return repository.NewRedisPortfolioStore(rc)
}

func ProvideMarketData(gw *gateway.Gateway, tiered *svccache.Tiered, series domrepo.SeriesStore, l *applogger.Logger, m domrepo.Metrics) *usecase.MarketData {
	return usecase.NewMarketData(gw, tiered, series, l, m)
}

func ProvideHistorySource(md *usecase.MarketData) domsvc.HistorySource { return md }

func ProvideSignalEngine(cfg *config.Config, history domsvc.HistorySource, l *applogger.Logger) (*signals.Engine, error) {
	reg, err := signals.NewRegistryFromConfig(cfg, history)
	if err != nil {
		return nil, fmt.Errorf("signal registry: %w", err)
	}
	return signals.NewEngine(reg, cfg.Signals.Timeout, l), nil
}

func ProvideOptimizer(cfg *config.Config, l *applogger.Logger, m domrepo.Metrics) *optimizer.Optimizer {
	o := cfg.Optimizer
	return optimizer.New(optimizer.Options{
		Shrinkage:     o.Shrinkage,
		SectorRelax:   o.SectorRelax,
		MaxIterations: o.MaxIterations,
		Tolerance:     o.Tolerance,
		RiskFreeRate:  o.RiskFreeRate,
	}, l, m)
}

func ProvideDriftMonitor(cfg *config.Config, l *applogger.Logger, m domrepo.Metrics) *drift.Monitor {
	d := cfg.Drift
	return drift.NewMonitor(drift.Options{
		Threshold:       d.Threshold,
		HysteresisBand:  d.HysteresisBand,
		MinDelta:        d.MinDelta,
		TransactionCost: d.TransactionCost,
	}, l, m)
}

// ProvideKafkaProducer returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	k := cfg.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithEncoding(k.Encoding),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithBatching(k.Producer.BatchSize, k.Producer.BatchBytes, k.Producer.Linger),
		pkgkafka.WithTimeouts(k.Producer.WriteTimeout, k.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(k.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

func ProvidePublisher(cfg *config.Config, producer *pkgkafka.Producer, m domrepo.Metrics) domrepo.Publisher {
	if producer == nil {
		return repository.NopPublisher{}
	}
	return repository.NewKafkaPublisher(producer, cfg.Kafka.Topics.Allocations, cfg.Kafka.Topics.Drift, m)
}

func ProvideOrchestrator(
	cfg *config.Config,
	market *usecase.MarketData,
	engine *signals.Engine,
	opt *optimizer.Optimizer,
	monitor *drift.Monitor,
	portfolios domrepo.PortfolioStore,
	pub domrepo.Publisher,
	l *applogger.Logger,
	m domrepo.Metrics,
) *usecase.Orchestrator {
	o := cfg.Orchestrator
	return usecase.NewOrchestrator(market, engine, opt, monitor, portfolios, pub, usecase.OrchestratorOptions{
		MaxInFlight:        o.MaxInFlight,
		HistoryDays:        o.HistoryDays,
		DefaultModel:       cfg.Signals.DefaultModel,
		SweepTimeout:       o.SweepTimeout,
		SweepConcurrency:   o.SweepConcurrency,
		DefaultCashReserve: o.DefaultCash,
	}, l, m)
}

// ProvideKafkaConsumer returns nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	k := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(k.GroupID),
		pkgkafka.WithConsumerWorkers(k.Workers),
		pkgkafka.WithConsumerBufferSize(k.BufferSize),
		pkgkafka.WithConsumerRetry(k.RetryMax, k.BackoffMin, k.BackoffMax),
		pkgkafka.WithConsumerDLQ(k.DLQTopic),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.TracingHook{Logger: l.Component("kafka_consumer"), Slow: 5 * time.Second})
	return consumer, nil
}

func ProvideDriftTrigger(cfg *config.Config, orch *usecase.Orchestrator, l *applogger.Logger, m domrepo.Metrics) *usecase.DriftTrigger {
	return usecase.NewDriftTrigger(cfg.Kafka.Topics.Trigger, orch, l, m)
}

// ProvideLiveQuotes returns nil when streaming is disabled.
func ProvideLiveQuotes(cfg *config.Config, market *usecase.MarketData, l *applogger.Logger, m domrepo.Metrics) *usecase.LiveQuotes {
	if !cfg.Stream.Enabled {
		return nil
	}
	stream := finnhub.NewStream(cfg.Providers.Finnhub.WebSocketURL, cfg.Providers.Finnhub.APIKey, l,
		finnhub.WithReconnectDelay(cfg.Stream.ReconnectDelay),
		finnhub.WithPingInterval(cfg.Stream.PingInterval),
	)
	pipe := mid.NewRealtimePipeline(usecase.NewQuoteUpdater(market, m), l, m,
		mid.WithMaxRPS(int(cfg.Stream.MaxRPS)),
		mid.WithBufferSize(2000),
	)
	return usecase.NewLiveQuotes(stream, pipe, cfg.Stream.Symbols, l, m)
}

// ProvideScheduler returns nil when no sweep schedule is configured.
func ProvideScheduler(cfg *config.Config, orch *usecase.Orchestrator, l *applogger.Logger) (*scheduler.Scheduler, error) {
	schedule := cfg.Orchestrator.SweepSchedule
	if schedule == "" {
		return nil, nil
	}
	s := scheduler.New(l, 0)
	err := s.AddJob(schedule, scheduler.JobFunc{JobName: "drift_sweep", Fn: func(ctx context.Context) error {
		r := orch.ReEvaluateAll(ctx)
		if len(r.Failed) > 0 {
			return fmt.Errorf("sweep: %d of %d portfolios failed", len(r.Failed), r.Evaluated+len(r.Failed))
		}
		return nil
	}})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, orch *usecase.Orchestrator, market *usecase.MarketData, gw *gateway.Gateway) *xhttp.Server {
	handlers := xhttp.Handlers{
		api.NewAllocationEchoHandler(l, orch),
		api.NewMarketEchoHandler(l, market, gw),
		api.NewSystemEchoHandler(l, gw),
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithMetricsPath(metricsPath),
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		opts = append(opts, xhttp.WithCORSOrigins(cfg.Server.CORSOrigins...))
	}
	return xhttp.NewServer(handlers, l, opts...)
}

func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	trigger *usecase.DriftTrigger,
	sched *scheduler.Scheduler,
	live *usecase.LiveQuotes,
) *server.App {
	if producer != nil && cfg.Logging.CollectTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval: cfg.Logging.CollectEvery,
			Topic:        cfg.Logging.CollectTopic,
			Publisher:    producer,
		})
	}
	opts := []server.Option{
		server.WithConsumer(consumer, trigger),
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		server.WithCloser(l),
	}
	if sched != nil {
		opts = append(opts, server.WithScheduler(sched))
	}
	if live != nil {
		opts = append(opts, server.WithRunner(live))
	}
	return server.New(srv, l, opts...)
}

func ProvideContainer(app *server.App, orch *usecase.Orchestrator, l *applogger.Logger) *Container {
	return &Container{App: app, Orchestrator: orch, Logger: l}
}
