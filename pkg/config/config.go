package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"StockRisk/pkg/util"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development"`
	Server      ServerConfig     `yaml:"server"`
	Logging     LoggingConfig    `yaml:"logging"`
	Model       ModelConfig      `yaml:"model"`
	Training    TrainingConfig   `yaml:"training"`
	Prediction  PredictionConfig `yaml:"prediction"`
	Audit       AuditConfig      `yaml:"audit"`
	Redis       RedisConfig      `yaml:"redis"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	SQLite      SQLiteConfig     `yaml:"sqlite"`
	S3          S3Config         `yaml:"s3"`
	Queue       QueueConfig      `yaml:"queue"`
}

type ServerConfig struct {
	Host            string          `yaml:"host" default:"0.0.0.0"`
	Port            int             `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" default:"15s"`
	RequestTimeout  time.Duration   `yaml:"request_timeout" default:"5s"`
	SlowRequest     time.Duration   `yaml:"slow_request" default:"1s"`
	BodyLimit       string          `yaml:"body_limit" default:"2M"`
	DisableCORS     bool            `yaml:"disable_cors"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Capacity     float64 `yaml:"capacity" default:"50"`
	RefillPerSec float64 `yaml:"refill_per_sec" default:"25"`
}

type LoggingConfig struct {
	Level      string          `yaml:"level" default:"info"`
	Format     string          `yaml:"format" default:"console"`
	Output     string          `yaml:"output" default:"stdout"`
	TimeFormat string          `yaml:"time_format"`
	Collector  CollectorConfig `yaml:"collector"`
}

// CollectorConfig controls shipping aggregated error logs to Kafka.
type CollectorConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Topic     string        `yaml:"topic" default:"stockrisk.logs"`
	Interval  time.Duration `yaml:"interval" default:"30s"`
	Threshold int           `yaml:"threshold" default:"100"`
}

type ModelConfig struct {
	Dir     string `yaml:"dir" default:"./models"`
	Version string `yaml:"version" default:"latest"`
}

type TrainingConfig struct {
	Source          string        `yaml:"source" default:"synthetic"`
	Samples         int           `yaml:"samples" default:"2000"`
	Seed            uint64        `yaml:"seed" default:"42"`
	TestFraction    float64       `yaml:"test_fraction" default:"0.2"`
	CSVPath         string        `yaml:"csv_path"`
	ClickHouseTable string        `yaml:"clickhouse_table" default:"training_observations"`
	Trees           int           `yaml:"trees" default:"100"`
	MaxDepth        int           `yaml:"max_depth" default:"10"`
	MinSamplesSplit int           `yaml:"min_samples_split" default:"5"`
	MinSamplesLeaf  int           `yaml:"min_samples_leaf" default:"1"`
	Workers         int           `yaml:"workers"`
	Schedule        string        `yaml:"schedule"`
	PublishToS3     bool          `yaml:"publish_to_s3"`
	Timeout         time.Duration `yaml:"timeout" default:"30m"`
}

type PredictionConfig struct {
	MaxBatchSize int           `yaml:"max_batch_size" default:"100"`
	BatchWorkers int           `yaml:"batch_workers" default:"8"`
	CacheEnabled bool          `yaml:"cache_enabled"`
	CacheTTL     time.Duration `yaml:"cache_ttl" default:"10m"`
	CacheEntries int           `yaml:"cache_entries" default:"10000"`
}

// AuditConfig selects where per-prediction records go: log, kafka, sqlite.
type AuditConfig struct {
	Sinks []string `yaml:"sinks" default:"[\"log\"]"`
	Topic string   `yaml:"topic" default:"stockrisk.predictions"`
	// Ingest runs the Kafka -> ClickHouse audit consumer inside the app.
	Ingest bool `yaml:"ingest"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
	Prefix   string `yaml:"prefix" default:"stockrisk"`
}

type KafkaConfig struct {
	Brokers      []string            `yaml:"brokers"`
	ClientID     string              `yaml:"client_id" default:"stockrisk"`
	RequiredAcks int                 `yaml:"required_acks" default:"-1"`
	Compression  string              `yaml:"compression" default:"snappy"`
	Producer     KafkaProducerConfig `yaml:"producer"`
	Consumer     KafkaConsumerConfig `yaml:"consumer"`
}

type KafkaProducerConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" default:"3"`
	BatchSize    int           `yaml:"batch_size" default:"100"`
	Linger       time.Duration `yaml:"linger" default:"200ms"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	Async        bool          `yaml:"async"`
}

type KafkaConsumerConfig struct {
	GroupID    string        `yaml:"group_id" default:"stockrisk-audit"`
	Workers    int           `yaml:"workers" default:"2"`
	BufferSize int           `yaml:"buffer_size" default:"64"`
	RetryMax   int           `yaml:"retry_max" default:"3"`
	BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
	BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
	DLQTopic   string        `yaml:"dlq_topic"`
	BatchSize  int           `yaml:"batch_size" default:"500"`
	FlushEvery time.Duration `yaml:"flush_every" default:"2s"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Addrs            []string      `yaml:"addrs" default:"[\"localhost:9000\"]"`
	Database         string        `yaml:"database" default:"default"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" default:"./data/predictions.db"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region" default:"us-east-1"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	Prefix          string `yaml:"prefix" default:"models"`
	Keep            int    `yaml:"keep" default:"10"`
}

type QueueConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Workers    int           `yaml:"workers" default:"1"`
	RetryLimit int           `yaml:"retry_limit" default:"2"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"1m"`
	KeyPrefix  string        `yaml:"key_prefix" default:"stockrisk:queue"`
	LockTTL    time.Duration `yaml:"lock_ttl" default:"1h"`
}

var (
	datasetSources = []string{"synthetic", "csv", "clickhouse"}
	auditSinks     = []string{"log", "kafka", "sqlite"}
)

// Load reads and parses a YAML configuration file, fills defaults and
// validates. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (when present), the YAML file, then applies
// environment overrides before validating.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setList := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			*dst = util.SplitCSV(v)
		}
	}
	setBool := func(key string, dst *bool) {
		if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
			*dst = v
		}
	}

	setString("APP_ENV", &c.Environment)
	c.Server.Port = util.ParseIntDefault(os.Getenv("PORT"), c.Server.Port)
	if d, err := time.ParseDuration(os.Getenv("REQUEST_TIMEOUT")); err == nil {
		c.Server.RequestTimeout = d
	}
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FORMAT", &c.Logging.Format)
	setString("MODEL_DIR", &c.Model.Dir)
	setString("MODEL_VERSION", &c.Model.Version)
	setString("DATASET_SOURCE", &c.Training.Source)
	setString("DATASET_CSV", &c.Training.CSVPath)
	setString("TRAIN_SCHEDULE", &c.Training.Schedule)
	c.Prediction.MaxBatchSize = util.ParseIntDefault(os.Getenv("MAX_BATCH_SIZE"), c.Prediction.MaxBatchSize)
	setList("AUDIT_SINKS", &c.Audit.Sinks)

	setString("REDIS_ADDR", &c.Redis.Addr)
	setString("REDIS_PASSWORD", &c.Redis.Password)
	setBool("REDIS_ENABLED", &c.Redis.Enabled)

	setList("KAFKA_BROKERS", &c.Kafka.Brokers)

	setList("CLICKHOUSE_ADDRS", &c.ClickHouse.Addrs)
	setString("CLICKHOUSE_USER", &c.ClickHouse.User)
	setString("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	setBool("CLICKHOUSE_ENABLED", &c.ClickHouse.Enabled)

	setString("SQLITE_PATH", &c.SQLite.Path)

	setString("S3_BUCKET", &c.S3.Bucket)
	setString("S3_ENDPOINT", &c.S3.Endpoint)
	setString("AWS_REGION", &c.S3.Region)
	setString("AWS_ACCESS_KEY_ID", &c.S3.AccessKeyID)
	setString("AWS_SECRET_ACCESS_KEY", &c.S3.SecretAccessKey)
	setBool("S3_ENABLED", &c.S3.Enabled)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, a ...any) {
		errs = append(errs, fmt.Errorf(format, a...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		add("server.request_timeout must be positive")
	}
	if c.Model.Dir == "" {
		add("model.dir is required")
	}
	if c.Model.Version != "latest" && !util.IsVersion(c.Model.Version) {
		add("model.version must be 'latest' or %s, got %q", util.VersionLayout, c.Model.Version)
	}

	if !slices.Contains(datasetSources, c.Training.Source) {
		add("training.source must be one of %v, got %q", datasetSources, c.Training.Source)
	}
	if c.Training.Source == "csv" && c.Training.CSVPath == "" {
		add("training.csv_path is required for the csv source")
	}
	if c.Training.Source == "clickhouse" && !c.ClickHouse.Enabled {
		add("clickhouse.enabled is required for the clickhouse source")
	}
	if c.Training.TestFraction < 0 || c.Training.TestFraction >= 1 {
		add("training.test_fraction must be in [0,1), got %v", c.Training.TestFraction)
	}
	if c.Training.Trees <= 0 || c.Training.MaxDepth <= 0 || c.Training.MinSamplesSplit < 2 {
		add("training forest parameters must be positive and min_samples_split >= 2")
	}
	if c.Training.PublishToS3 && !c.S3.Enabled {
		add("s3.enabled is required when training.publish_to_s3 is set")
	}

	if c.Prediction.MaxBatchSize <= 0 {
		add("prediction.max_batch_size must be positive")
	}
	if c.Prediction.BatchWorkers <= 0 {
		add("prediction.batch_workers must be positive")
	}
	if c.Prediction.CacheEnabled && c.Prediction.CacheTTL <= 0 {
		add("prediction.cache_ttl must be positive when the cache is enabled")
	}

	for _, s := range c.Audit.Sinks {
		if !slices.Contains(auditSinks, s) {
			add("audit.sinks: unknown sink %q", s)
		}
	}
	needsKafka := slices.Contains(c.Audit.Sinks, "kafka") || c.Audit.Ingest || c.Logging.Collector.Enabled
	if needsKafka && len(c.Kafka.Brokers) == 0 {
		add("kafka.brokers is required by the kafka audit sink, audit ingest or the log collector")
	}
	if c.Audit.Ingest && !c.ClickHouse.Enabled {
		add("clickhouse.enabled is required for audit ingest")
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		add("redis.enabled is required by the retrain queue")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3.bucket is required when s3 is enabled")
	}

	return errors.Join(errs...)
}
