package di

import (
	"context"
	"fmt"
	"time"

	domrepo "ClarityPull/internal/domain/repository"
	"ClarityPull/internal/handler/api"
	"ClarityPull/internal/handler/ws"
	"ClarityPull/internal/repository"
	"ClarityPull/internal/service/ratelimit"
	"ClarityPull/internal/service/upstream"
	"ClarityPull/internal/usecase"
	"ClarityPull/pkg/cache"
	pkgch "ClarityPull/pkg/clickhouse"
	"ClarityPull/pkg/config"
	xhttp "ClarityPull/pkg/http"
	pkgkafka "ClarityPull/pkg/kafka"
	applogger "ClarityPull/pkg/logger"
	"ClarityPull/pkg/metrics"
	"ClarityPull/pkg/server"
	"ClarityPull/pkg/sqlite"
)

const schemaTimeout = 30 * time.Second

// Poller is the dependency set of the command-line poller.
type Poller struct {
	Polls  *usecase.PollService
	Status *usecase.StatusTracker
	Store  *repository.Store
	Logger *applogger.Logger
}

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return l, l.Close, nil
}

// ProvideStore opens the configured backend and makes sure its schema exists.
func ProvideStore(cfg *config.Config, l *applogger.Logger) (*repository.Store, func(), error) {
	var (
		store   *repository.Store
		cleanup func()
	)
	switch cfg.Backend.Type {
	case "clickhouse":
		client, err := ProvideClickHouseClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		store = repository.NewStore(client.DB(), repository.ClickHouseDialect{})
		cleanup = func() {
			if err := client.Close(); err != nil {
				l.Warn("clickhouse close error", applogger.Error(err))
			}
		}
	default:
		client, err := sqlite.NewClient(
			sqlite.WithPath(cfg.SQLite.Path),
			sqlite.WithBusyTimeout(cfg.SQLite.BusyTimeout),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite client: %w", err)
		}
		store = repository.NewStore(client.DB(), repository.SQLiteDialect{})
		cleanup = func() {
			if err := client.Close(); err != nil {
				l.Warn("sqlite close error", applogger.Error(err))
			}
		}
	}
	store.SetLogger(l)

	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := store.InitSchema(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("%s schema: %w", cfg.Backend.Type, err)
	}
	l.Info("store ready", applogger.String("backend", cfg.Backend.Type))
	return store, cleanup, nil
}

// ProvideClickHouseClient creates a ClickHouse client and its database.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithMutationsSync(1),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database,
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse database: %w", err)
	}
	return client, nil
}

// ProvideCache returns a memory cache, or a short-lived memory layer over
// Redis when Redis is enabled so several pollers share leases.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (cache.Store, func(), error) {
	if !cfg.Redis.Enabled {
		mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize))
		return mc, func() { _ = mc.Close() }, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/2, 5*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	lc := cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
		cache.WithLayeredLocalTTL(cfg.Cache.LocalTTL),
	)
	l.Info("redis cache enabled", applogger.String("host", cfg.Redis.Host))
	return lc, func() {
		if err := lc.Close(); err != nil {
			l.Warn("cache close error", applogger.Error(err))
		}
	}, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is off.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithProducerLogger(l),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() {
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}, nil
}

// ProvideKafkaConsumer creates the poll-request consumer, or nil when Kafka is off.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

func ProvideHub(l *applogger.Logger) *ws.Hub {
	return ws.NewHub(l)
}

// ProvideEventPublisher always feeds the WebSocket hub and adds Kafka when
// a producer exists.
func ProvideEventPublisher(cfg *config.Config, hub *ws.Hub, producer *pkgkafka.Producer) domrepo.EventPublisher {
	pubs := repository.MultiPublisher{hub}
	if producer != nil {
		pubs = append(pubs, repository.NewKafkaPublisher(producer, cfg.Kafka.Topics.Alerts, cfg.Kafka.Topics.Status))
	}
	return pubs
}

func ProvideMarketDataSource(cfg *config.Config, l *applogger.Logger) domrepo.MarketDataSource {
	return upstream.New(cfg.Upstream.Host, cfg.Upstream.PathPrefix, cfg.Upstream.APIKey, cfg.Upstream.Timeout, l)
}

func ProvideStatusTracker(cfg *config.Config, store *repository.Store, pub domrepo.EventPublisher, c cache.Store, m domrepo.Metrics, l *applogger.Logger) *usecase.StatusTracker {
	return usecase.NewStatusTracker(store, pub, c, cfg.Polling.LeaseTTL, m, l)
}

func ProvideZoneRunTracker(cfg *config.Config, store *repository.Store, c cache.Store, l *applogger.Logger) *usecase.ZoneRunTracker {
	return usecase.NewZoneRunTracker(store, c, cfg.Cache.ZoneRunTTL, l)
}

func ProvideAlertDetector(store *repository.Store, pub domrepo.EventPublisher, m domrepo.Metrics, l *applogger.Logger) *usecase.AlertDetector {
	return usecase.NewAlertDetector(store, store, pub, m, l)
}

func ProvideOrchestrator(
	cfg *config.Config,
	store *repository.Store,
	source domrepo.MarketDataSource,
	status *usecase.StatusTracker,
	runs *usecase.ZoneRunTracker,
	alerts *usecase.AlertDetector,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.Orchestrator {
	retry := usecase.RetryPolicy{
		MaxAttempts:    cfg.Polling.MaxAttempts,
		BackoffInitial: cfg.Polling.BackoffInitial,
		BackoffMax:     cfg.Polling.BackoffMax,
		StoreRetries:   cfg.Polling.StoreRetries,
	}
	return usecase.NewOrchestrator(store, source, store, store, status, runs, alerts, m, cfg.Polling.Workers, retry, l)
}

func ProvidePollService(orch *usecase.Orchestrator, status *usecase.StatusTracker, store *repository.Store, l *applogger.Logger) *usecase.PollService {
	return usecase.NewPollService(orch, status, store, store, l)
}

func ProvideMarketReader(store *repository.Store, status *usecase.StatusTracker, runs *usecase.ZoneRunTracker, l *applogger.Logger) *usecase.MarketReader {
	return usecase.NewMarketReader(store, store, store, status, runs, l)
}

func ProvideKafkaPollHandler(cfg *config.Config, polls *usecase.PollService, m domrepo.Metrics, l *applogger.Logger) *usecase.KafkaPollHandler {
	return usecase.NewKafkaPollHandler(cfg.Kafka.Topics.PollRequests, polls, m, l)
}

// ProvideScheduler returns nil unless scheduled polling is enabled.
func ProvideScheduler(cfg *config.Config, polls *usecase.PollService, l *applogger.Logger) *usecase.Scheduler {
	if !cfg.Schedule.Enabled {
		return nil
	}
	return usecase.NewScheduler(polls, cfg.Schedule.Interval, cfg.Schedule.Mode, cfg.Schedule.Groups, l)
}

func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, reader *usecase.MarketReader, polls *usecase.PollService, hub *ws.Hub) *xhttp.Server {
	limiter := ratelimit.New(cfg.Ops.RateCapacity, cfg.Ops.RateRefillSec)
	return xhttp.NewServer(l,
		[]xhttp.Handler{
			api.NewMarketHandler(l, reader),
			api.NewOpsHandler(l, polls, limiter, cfg.Ops.APIKey),
			hub,
		},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithMetrics(cfg.Metrics.Enabled, cfg.Metrics.SlowThreshold),
	)
}

// ProvideApp creates the application server. Aggregated error logs are
// shipped to Kafka when both the collector and Kafka are enabled.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	polls *usecase.PollService,
	status *usecase.StatusTracker,
	hub *ws.Hub,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	pollHandler *usecase.KafkaPollHandler,
	scheduler *usecase.Scheduler,
) *server.App {
	cleanup := func() {}
	if cfg.LogCollector.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			Source:         "claritypull",
			TimeInterval:   cfg.LogCollector.Interval,
			CountThreshold: cfg.LogCollector.Threshold,
			Topic:          cfg.Kafka.Topics.Logs,
			Publisher:      producer,
		})
		cleanup = l.RemoveCollector
	}
	return server.New(cfg, l, httpServer, polls, status, hub, consumer, pollHandler, scheduler, cleanup)
}

// ProvidePollerPublisher publishes to Kafka only; the command-line poller
// has no WebSocket clients.
func ProvidePollerPublisher(cfg *config.Config, producer *pkgkafka.Producer) domrepo.EventPublisher {
	if producer == nil {
		return repository.NopPublisher{}
	}
	return repository.NewKafkaPublisher(producer, cfg.Kafka.Topics.Alerts, cfg.Kafka.Topics.Status)
}
