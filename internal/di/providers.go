package di

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"StockRisk/internal/domain/repository"
	"StockRisk/internal/handler/api"
	internalrepo "StockRisk/internal/repository"
	"StockRisk/internal/service/ratelimit"
	"StockRisk/internal/services/ml"
	"StockRisk/internal/usecase"
	"StockRisk/pkg/cache"
	pkgch "StockRisk/pkg/clickhouse"
	"StockRisk/pkg/config"
	xhttp "StockRisk/pkg/http"
	pkgkafka "StockRisk/pkg/kafka"
	"StockRisk/pkg/logger"
	"StockRisk/pkg/metrics"
	"StockRisk/pkg/objectstore"
	"StockRisk/pkg/queue"
	"StockRisk/pkg/server"
)

// ProvideLogger creates the application logger. Error logs are also shipped
// to Kafka when the collector is enabled.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	lgr, err := logger.New(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logging.Collector.Enabled && producer != nil {
		lgr.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collector.Interval,
			CountThreshold: cfg.Logging.Collector.Threshold,
			Topic:          cfg.Logging.Collector.Topic,
			Publisher:      producer,
		})
	}
	return lgr.With(logger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates a dedicated Prometheus registry with the Go and
// process collectors.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideRedisClient connects to Redis. It returns nil when Redis is disabled.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := cache.NewRedisClient(ctx,
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/2, 3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	return client, nil
}

// ProvideCache returns the in-process cache, layered over Redis when Redis
// is enabled. The retrain lock lives here too, so it is always non-nil.
func ProvideCache(cfg *config.Config, rdb *redis.Client) cache.Service {
	opts := []cache.MemoryOption{
		cache.WithMemoryMaxEntries(cfg.Prediction.CacheEntries),
		cache.WithMemoryDefaultTTL(cfg.Prediction.CacheTTL),
	}
	if rdb == nil {
		return cache.NewMemoryCache(opts...)
	}
	return cache.NewLayeredCache(cache.NewRedisCache(rdb, cfg.Redis.Prefix), opts...)
}

// ProvideQueue creates the Redis-backed job queue. It returns nil when the
// queue is disabled.
func ProvideQueue(cfg *config.Config, lgr *logger.Logger, rdb *redis.Client) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rdb == nil {
		return nil
	}
	return queue.NewRedisQueue(lgr, &queue.Config{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
		KeyPrefix:  cfg.Queue.KeyPrefix,
	}, rdb)
}

// ProvideJobPublisher exposes the queue to the HTTP layer. A nil queue
// yields a nil publisher, which disables /admin/retrain.
func ProvideJobPublisher(q *queue.RedisQueue) queue.Publisher {
	if q == nil {
		return nil
	}
	return q
}

// ProvideKafkaProducer creates a Kafka producer when something publishes:
// the kafka audit sink or the log collector.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	needed := slices.Contains(cfg.Audit.Sinks, "kafka") || cfg.Logging.Collector.Enabled
	if !needed || len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithClientID(cfg.Kafka.ClientID),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideClickHouseClient creates a ClickHouse client. It returns nil when
// ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddrs(cfg.ClickHouse.Addrs...),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideModelStore creates the on-disk artifact store.
func ProvideModelStore(cfg *config.Config, lgr *logger.Logger) *internalrepo.FSModelStore {
	return internalrepo.NewFSModelStore(cfg.Model.Dir, lgr)
}

// ProvideS3Mirror mirrors model versions to S3. It returns nil when S3 is
// disabled.
func ProvideS3Mirror(cfg *config.Config, store *internalrepo.FSModelStore, lgr *logger.Logger) (repository.ArtifactMirror, error) {
	if !cfg.S3.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := objectstore.NewS3Client(ctx, objectstore.Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		UsePathStyle:    cfg.S3.UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return internalrepo.NewS3ArtifactMirror(client, store, cfg.S3.Prefix, cfg.S3.Keep, lgr), nil
}

// ProvideRecorder fans prediction records out to every configured sink.
func ProvideRecorder(cfg *config.Config, lgr *logger.Logger, producer *pkgkafka.Producer) (repository.PredictionRecorder, error) {
	var sinks []repository.PredictionRecorder
	for _, name := range cfg.Audit.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, internalrepo.NewLogRecorder(lgr.With(logger.String("component", "audit"))))
		case "kafka":
			if producer == nil {
				return nil, fmt.Errorf("audit sink kafka: no producer configured")
			}
			sinks = append(sinks, internalrepo.NewKafkaRecorder(producer, cfg.Audit.Topic))
		case "sqlite":
			rec, err := internalrepo.NewSQLiteRecorder(cfg.SQLite.Path)
			if err != nil {
				return nil, fmt.Errorf("audit sink sqlite: %w", err)
			}
			sinks = append(sinks, rec)
		default:
			return nil, fmt.Errorf("unknown audit sink %q", name)
		}
	}
	return internalrepo.NewMultiRecorder(sinks...), nil
}

// ProvidePredictor creates the prediction use case in the Loading state.
func ProvidePredictor(
	cfg *config.Config,
	recorder repository.PredictionRecorder,
	m repository.Metrics,
	c cache.Service,
	lgr *logger.Logger,
) *usecase.RiskPredictor {
	var predCache cache.Service
	if cfg.Prediction.CacheEnabled {
		predCache = c
	}
	return usecase.NewRiskPredictor(usecase.PredictorConfig{
		BatchWorkers: cfg.Prediction.BatchWorkers,
		CacheTTL:     cfg.Prediction.CacheTTL,
	}, recorder, m, predCache, lgr)
}

// ProvideHandler creates the Echo route handler.
func ProvideHandler(cfg *config.Config, lgr *logger.Logger, predictor *usecase.RiskPredictor, jobs queue.Publisher) *api.RiskEchoHandler {
	return api.NewRiskEchoHandler(lgr, predictor, jobs, cfg.Prediction.MaxBatchSize)
}

// ProvideRateLimiter returns nil when rate limiting is off.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	if !cfg.Server.RateLimit.Enabled {
		return nil
	}
	return ratelimit.New(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSec)
}

// ProvideHTTPServer creates the HTTP server with the middleware chain.
func ProvideHTTPServer(
	cfg *config.Config,
	lgr *logger.Logger,
	h *api.RiskEchoHandler,
	limiter *ratelimit.Limiter,
	reg *prometheus.Registry,
) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithRequestTimeout(cfg.Server.RequestTimeout),
		xhttp.WithSlowRequestThreshold(cfg.Server.SlowRequest),
		xhttp.WithBodyLimit(cfg.Server.BodyLimit),
		xhttp.WithCORS(!cfg.Server.DisableCORS),
		xhttp.WithRegistry(reg),
	}
	if limiter != nil {
		opts = append(opts, xhttp.WithRateLimiter(limiter))
	}
	return xhttp.NewServer(lgr, h, opts...)
}

// ProvideAuditStore creates the ClickHouse prediction log. It returns nil
// unless audit ingest is on.
func ProvideAuditStore(cfg *config.Config, ch *pkgch.Client) repository.AuditStore {
	if !cfg.Audit.Ingest || ch == nil {
		return nil
	}
	return internalrepo.NewCHAuditStore(ch, "")
}

// ProvideAuditHandler buffers consumed prediction records into the audit
// store. It returns nil unless audit ingest is on.
func ProvideAuditHandler(cfg *config.Config, store repository.AuditStore, lgr *logger.Logger) *usecase.PredictionAuditHandler {
	if store == nil {
		return nil
	}
	return usecase.NewPredictionAuditHandler(
		cfg.Audit.Topic,
		store,
		cfg.Kafka.Consumer.BatchSize,
		cfg.Kafka.Consumer.FlushEvery,
		lgr.With(logger.String("component", "audit_ingest")),
	)
}

// ProvideAuditConsumer creates a Kafka consumer for the prediction topic.
// It returns nil unless audit ingest is on.
func ProvideAuditConsumer(cfg *config.Config, lgr *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Audit.Ingest {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(lgr,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideApp assembles the prediction service.
func ProvideApp(
	cfg *config.Config,
	lgr *logger.Logger,
	httpServer *xhttp.Server,
	predictor *usecase.RiskPredictor,
	store *internalrepo.FSModelStore,
	mirror repository.ArtifactMirror,
	recorder repository.PredictionRecorder,
	c cache.Service,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	consumer *pkgkafka.Consumer,
	auditHandler *usecase.PredictionAuditHandler,
	auditStore repository.AuditStore,
) *server.App {
	app := server.New(cfg, lgr, httpServer, predictor, store)
	app.SetMirror(mirror)
	app.SetAuditIngest(consumer, auditHandler, auditStore)
	// closed in reverse: the recorder may still publish through the producer
	if producer != nil {
		app.AddCloser("kafka producer", producer.Close)
	}
	if ch != nil {
		app.AddCloser("clickhouse", ch.Close)
	}
	app.AddCloser("cache", c.Close)
	app.AddCloser("recorder", recorder.Close)
	return app
}

// ProvideDatasetSource returns the training source named by source, or the
// configured default for "".
func ProvideDatasetSource(cfg *config.Config, ch *pkgch.Client, lgr *logger.Logger, source string) (repository.DatasetSource, error) {
	if source == "" {
		source = cfg.Training.Source
	}
	switch source {
	case "synthetic":
		return internalrepo.NewSyntheticSource(cfg.Training.Samples, cfg.Training.Seed), nil
	case "csv":
		if cfg.Training.CSVPath == "" {
			return nil, fmt.Errorf("dataset source csv: training.csv_path is not set")
		}
		return internalrepo.NewCSVSource(cfg.Training.CSVPath), nil
	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("dataset source clickhouse: clickhouse is disabled")
		}
		return internalrepo.NewCHDatasetSource(ch, cfg.Training.ClickHouseTable, cfg.Training.Samples, lgr), nil
	default:
		return nil, fmt.Errorf("unknown dataset source %q", source)
	}
}

// ProvideTrainerFactory builds trainers that share the store, mirror and
// metrics but may read from different sources.
func ProvideTrainerFactory(
	cfg *config.Config,
	ch *pkgch.Client,
	store *internalrepo.FSModelStore,
	mirror repository.ArtifactMirror,
	m repository.Metrics,
	lgr *logger.Logger,
) usecase.TrainerFactory {
	tcfg := usecase.TrainerConfig{
		Forest: ml.ForestParams{
			Trees:           cfg.Training.Trees,
			MaxDepth:        cfg.Training.MaxDepth,
			MinSamplesSplit: cfg.Training.MinSamplesSplit,
			MinSamplesLeaf:  cfg.Training.MinSamplesLeaf,
			Seed:            cfg.Training.Seed,
			Workers:         cfg.Training.Workers,
		},
		TestFraction: cfg.Training.TestFraction,
		SplitSeed:    cfg.Training.Seed,
		Timeout:      cfg.Training.Timeout,
	}
	if !cfg.Training.PublishToS3 {
		mirror = nil
	}
	return func(source string) (*usecase.Trainer, error) {
		src, err := ProvideDatasetSource(cfg, ch, lgr, source)
		if err != nil {
			return nil, err
		}
		return usecase.NewTrainer(tcfg, src, store, mirror, m, lgr.With(logger.String("source", src.Name()))), nil
	}
}

// ProvideRetrainJob guards retrain runs with a lock in the shared cache.
func ProvideRetrainJob(cfg *config.Config, factory usecase.TrainerFactory, c cache.Service, lgr *logger.Logger) *usecase.RetrainJob {
	return usecase.NewRetrainJob(factory, c, cfg.Queue.LockTTL, lgr)
}

// ProvideTrainerRuntime assembles the offline trainer process.
func ProvideTrainerRuntime(
	cfg *config.Config,
	lgr *logger.Logger,
	factory usecase.TrainerFactory,
	job *usecase.RetrainJob,
	q *queue.RedisQueue,
	c cache.Service,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
) *server.TrainerRuntime {
	rt := server.NewTrainerRuntime(cfg, lgr, factory, job, q)
	if producer != nil {
		rt.AddCloser("kafka producer", producer.Close)
	}
	if ch != nil {
		rt.AddCloser("clickhouse", ch.Close)
	}
	rt.AddCloser("cache", c.Close)
	return rt
}
