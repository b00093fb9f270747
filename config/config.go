package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Liqflow  LiqflowConfig  `yaml:"liqflow"`
	Channels ChannelsConfig `yaml:"channels"`
	Router   RouterConfig   `yaml:"router"`
	Source   SourceConfig   `yaml:"source"`
	Storage  StorageConfig  `yaml:"storage"`
	Velocity VelocityConfig `yaml:"velocity"`
	Risk     RiskConfig     `yaml:"risk"`
	Signal   SignalConfig   `yaml:"signal"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type LiqflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	RawBuffer int `yaml:"raw_buffer"`
}

type RouterConfig struct {
	MaxWorkers int `yaml:"max_workers"`
	// DedupCapacity bounds the number of remembered dedup keys.
	DedupCapacity int `yaml:"dedup_capacity"`
}

type SourceConfig struct {
	Binance     *CexSourceConfig         `yaml:"binance"`
	Bybit       *CexSourceConfig         `yaml:"bybit"`
	Okx         *CexSourceConfig         `yaml:"okx"`
	Kucoin      *KucoinSourceConfig      `yaml:"kucoin"`
	Hyperliquid *HyperliquidSourceConfig `yaml:"hyperliquid"`
}

type CexSourceConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Symbols        []string      `yaml:"symbols"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	StaleAfter     time.Duration `yaml:"stale_after"`
}

type KucoinSourceConfig struct {
	Enabled            bool          `yaml:"enabled"`
	URL                string        `yaml:"url"`
	Symbols            []string      `yaml:"symbols"`
	ReconnectDelay     time.Duration `yaml:"reconnect_delay"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	ReadBufferBytes    int           `yaml:"read_buffer_bytes"`
	ReadMessageBuffer  int           `yaml:"read_message_buffer"`
	WriteMessageBuffer int           `yaml:"write_message_buffer"`
}

type HyperliquidSourceConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	Vaults       []string      `yaml:"vaults"`
	Symbols      []string      `yaml:"symbols"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	// RequestsPerSecond bounds the aggregate poll rate across vaults.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
	// InvertSideInference flips the "vault buying means a short was
	// liquidated" heuristic should the venue semantics turn out reversed.
	InvertSideInference bool `yaml:"invert_side_inference"`
}

type StorageConfig struct {
	Buffer  BufferConfig  `yaml:"buffer"`
	Redis   RedisConfig   `yaml:"redis"`
	S3      S3Config      `yaml:"s3"`
	Writer  WriterConfig  `yaml:"writer"`
	Iceberg IcebergConfig `yaml:"iceberg"`
}

type BufferConfig struct {
	// CapacityPerSymbol is the hot ring buffer size per symbol.
	CapacityPerSymbol int `yaml:"capacity_per_symbol"`
}

type RedisConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	TTL     time.Duration `yaml:"ttl"`
	// MaxEvents caps the recent-event list cached per (exchange, symbol).
	MaxEvents int `yaml:"max_events"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type WriterConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// IcebergConfig controls local Iceberg-style table metadata for the parquet
// archive so query engines can discover flushed objects.
type IcebergConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	CatalogDir string `yaml:"catalog_dir"`
	TableName  string `yaml:"table_name"`
}

type VelocityConfig struct {
	// MaxWindow bounds per-symbol retained history; it must cover the
	// longest velocity window and the correlation window.
	MaxWindow         time.Duration `yaml:"max_window"`
	CorrelationWindow time.Duration `yaml:"correlation_window"`
	CorrelationBucket time.Duration `yaml:"correlation_bucket"`
	// CorrelationMinSamples is the minimum paired buckets before a pair is
	// reported at all.
	CorrelationMinSamples int `yaml:"correlation_min_samples"`
}

type RiskConfig struct {
	Weights    RiskWeights   `yaml:"weights"`
	Baselines  RiskBaselines `yaml:"baselines"`
	MinEvents  int           `yaml:"min_events"`
	Cooldown   time.Duration `yaml:"cooldown"`
}

// RiskWeights combines the four sub-scores; values are normalized at load so
// they only need to be positive. The defaults preserve the tuning the engine
// shipped with rather than inferring new ones.
type RiskWeights struct {
	Velocity     float64 `yaml:"velocity"`
	Acceleration float64 `yaml:"acceleration"`
	Correlation  float64 `yaml:"correlation"`
	Volume       float64 `yaml:"volume"`
}

// RiskBaselines scale raw measurements into [0,100] sub-scores. A velocity or
// acceleration at the baseline maps to a sub-score of 25 and saturates at four
// times the baseline; a volume at the baseline maps to 50.
type RiskBaselines struct {
	VelocityPerSecond  float64 `yaml:"velocity_per_second"`
	AccelerationPerSec float64 `yaml:"acceleration_per_sec"`
	VolumeUSD          float64 `yaml:"volume_usd"`
}

type SignalConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	MinLevel string   `yaml:"min_level"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Credentials come from the environment when present so config files can
	// stay secret-free.
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		config.Storage.Redis.URL = strings.TrimSpace(v)
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func defaultConfig() Config {
	return Config{
		Channels: ChannelsConfig{RawBuffer: 4096},
		Router: RouterConfig{
			MaxWorkers:    2,
			DedupCapacity: 65536,
		},
		Storage: StorageConfig{
			Buffer: BufferConfig{CapacityPerSymbol: 4096},
			Redis: RedisConfig{
				TTL:       5 * time.Minute,
				MaxEvents: 500,
			},
			Writer: WriterConfig{
				BatchSize:       500,
				FlushInterval:   time.Minute,
				QueueCapacity:   64,
				ShutdownTimeout: 10 * time.Second,
			},
			Iceberg: IcebergConfig{TableName: "liquidations"},
		},
		Velocity: VelocityConfig{
			MaxWindow:             time.Minute,
			CorrelationWindow:     time.Minute,
			CorrelationBucket:     time.Second,
			CorrelationMinSamples: 5,
		},
		Risk: RiskConfig{
			Weights: RiskWeights{
				Velocity:     0.30,
				Acceleration: 0.30,
				Correlation:  0.20,
				Volume:       0.20,
			},
			Baselines: RiskBaselines{
				VelocityPerSecond:  1.0,
				AccelerationPerSec: 0.5,
				VolumeUSD:          1_000_000,
			},
			MinEvents: 10,
			Cooldown:  30 * time.Second,
		},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Liqflow.Name == "" {
		return fmt.Errorf("liqflow.name is required")
	}
	if cfg.Liqflow.Version == "" {
		return fmt.Errorf("liqflow.version is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Router.MaxWorkers <= 0 {
		return fmt.Errorf("router.max_workers must be greater than 0")
	}
	if cfg.Router.DedupCapacity <= 0 {
		return fmt.Errorf("router.dedup_capacity must be greater than 0")
	}

	if !anySourceEnabled(cfg) {
		return fmt.Errorf("at least one source must be enabled")
	}

	if cfg.Storage.Buffer.CapacityPerSymbol <= 0 {
		return fmt.Errorf("storage.buffer.capacity_per_symbol must be greater than 0")
	}
	if cfg.Storage.Writer.BatchSize <= 0 {
		return fmt.Errorf("storage.writer.batch_size must be greater than 0")
	}
	if cfg.Storage.Writer.FlushInterval <= 0 {
		return fmt.Errorf("storage.writer.flush_interval must be greater than 0")
	}
	if cfg.Storage.Writer.QueueCapacity <= 0 {
		return fmt.Errorf("storage.writer.queue_capacity must be greater than 0")
	}

	if cfg.Velocity.MaxWindow <= 0 {
		return fmt.Errorf("velocity.max_window must be greater than 0")
	}
	if cfg.Velocity.CorrelationWindow > cfg.Velocity.MaxWindow {
		return fmt.Errorf("velocity.correlation_window must not exceed velocity.max_window")
	}
	if cfg.Velocity.CorrelationBucket <= 0 {
		return fmt.Errorf("velocity.correlation_bucket must be greater than 0")
	}
	if cfg.Velocity.CorrelationMinSamples <= 1 {
		return fmt.Errorf("velocity.correlation_min_samples must be greater than 1")
	}

	w := cfg.Risk.Weights
	if w.Velocity < 0 || w.Acceleration < 0 || w.Correlation < 0 || w.Volume < 0 {
		return fmt.Errorf("risk.weights must not be negative")
	}
	if w.Velocity+w.Acceleration+w.Correlation+w.Volume <= 0 {
		return fmt.Errorf("risk.weights must have a positive sum")
	}
	if cfg.Risk.Baselines.VelocityPerSecond <= 0 ||
		cfg.Risk.Baselines.AccelerationPerSec <= 0 ||
		cfg.Risk.Baselines.VolumeUSD <= 0 {
		return fmt.Errorf("risk.baselines must be greater than 0")
	}
	if cfg.Risk.Cooldown <= 0 {
		return fmt.Errorf("risk.cooldown must be greater than 0")
	}

	if hl := cfg.Source.Hyperliquid; hl != nil && hl.Enabled {
		if len(hl.Vaults) == 0 {
			return fmt.Errorf("source.hyperliquid.vaults is required when hyperliquid is enabled")
		}
		if hl.PollInterval <= 0 {
			return fmt.Errorf("source.hyperliquid.poll_interval must be greater than 0")
		}
		if hl.StaleAfter <= 0 {
			return fmt.Errorf("source.hyperliquid.stale_after must be greater than 0")
		}
	}

	if cfg.Storage.Iceberg.Enabled {
		if cfg.Storage.Iceberg.Path == "" {
			return fmt.Errorf("storage.iceberg.path is required when iceberg metadata is enabled")
		}
		if cfg.Storage.Iceberg.TableName == "" {
			return fmt.Errorf("storage.iceberg.table_name is required when iceberg metadata is enabled")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Signal.Enabled {
		if len(cfg.Signal.Brokers) == 0 {
			return fmt.Errorf("signal.brokers is required when signal publishing is enabled")
		}
		if cfg.Signal.Topic == "" {
			return fmt.Errorf("signal.topic is required when signal publishing is enabled")
		}
	}

	return nil
}

func anySourceEnabled(cfg *Config) bool {
	s := cfg.Source
	if s.Binance != nil && s.Binance.Enabled {
		return true
	}
	if s.Bybit != nil && s.Bybit.Enabled {
		return true
	}
	if s.Okx != nil && s.Okx.Enabled {
		return true
	}
	if s.Kucoin != nil && s.Kucoin.Enabled {
		return true
	}
	if s.Hyperliquid != nil && s.Hyperliquid.Enabled {
		return true
	}
	return false
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
