// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Index, Bridge, Store, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	Source      SourceConfig      `yaml:"source"`
	Index       IndexConfig       `yaml:"index"`
	Search      SearchConfig      `yaml:"search"`
	Chunks      ChunkConfig       `yaml:"chunks"`
	Store       StoreConfig       `yaml:"store"`
	ResultCache ResultCacheConfig `yaml:"resultCache"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Prefetch    PrefetchConfig    `yaml:"prefetch"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Analytics   AnalyticsConfig   `yaml:"analytics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	AllowOrigins    []string      `yaml:"allowOrigins"`
	// RatePerSec limits requests per client address; zero disables it.
	RatePerSec float64 `yaml:"ratePerSec"`
	RateBurst  int     `yaml:"rateBurst"`
	// AdminKeyHashes are hex SHA-256 digests of the keys accepted on
	// maintenance endpoints. Empty leaves them open.
	AdminKeyHashes []string `yaml:"adminKeyHashes"`
}

// PostgresConfig holds PostgreSQL connection parameters for the document
// source.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SearchEvents  string `yaml:"searchEvents"`
	CorpusUpdated string `yaml:"corpusUpdated"`
}

// RedisConfig holds Redis connection parameters for the snapshot store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// SourceConfig selects where the document snapshot comes from.
// Kind is one of "http", "postgres" or "file".
type SourceConfig struct {
	Kind    string        `yaml:"kind"`
	URL     string        `yaml:"url"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
	Watch   bool          `yaml:"watch"`
}

// IndexConfig controls field boosts and the canonical author ordering used
// when sorting results.
type IndexConfig struct {
	TitleBoost   float64  `yaml:"titleBoost"`
	AuthorBoost  float64  `yaml:"authorBoost"`
	SectionBoost float64  `yaml:"sectionBoost"`
	TextBoost    float64  `yaml:"textBoost"`
	AuthorOrder  []string `yaml:"authorOrder"`
}

// SearchConfig controls query limits and snippet size.
type SearchConfig struct {
	MinQueryLength int `yaml:"minQueryLength"`
	DefaultLimit   int `yaml:"defaultLimit"`
	MaxResults     int `yaml:"maxResults"`
	FragmentSize   int `yaml:"fragmentSize"`
}

// ChunkConfig controls how long a loaded work chunk stays resident.
type ChunkConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
}

// StoreConfig selects the persistent snapshot backend. Backend is one of
// "sqlite", "redis" or "none".
type StoreConfig struct {
	Backend string        `yaml:"backend"`
	Path    string        `yaml:"path"`
	TTL     time.Duration `yaml:"ttl"`
}

// ResultCacheConfig bounds the in-memory result cache.
type ResultCacheConfig struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// BridgeConfig selects how the engine is executed. Mode is one of
// "worker" (in-process goroutine), "remote" (searchworker over TCP) or
// "inline".
type BridgeConfig struct {
	Mode       string        `yaml:"mode"`
	RemoteAddr string        `yaml:"remoteAddr"`
	Timeout    time.Duration `yaml:"timeout"`
}

// PrefetchConfig controls speculative chunk loading.
type PrefetchConfig struct {
	Enabled     bool    `yaml:"enabled"`
	MaxWorks    int     `yaml:"maxWorks"`
	Concurrency int     `yaml:"concurrency"`
	RatePerSec  float64 `yaml:"ratePerSec"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// AnalyticsConfig controls persistence of aggregated search statistics.
// Snapshots go to the postgres database when Persist is set.
type AnalyticsConfig struct {
	Persist          bool          `yaml:"persist"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case "http":
		if c.Source.URL == "" {
			return fmt.Errorf("source.url is required for http source")
		}
	case "file":
		if c.Source.Path == "" {
			return fmt.Errorf("source.path is required for file source")
		}
	case "postgres":
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	switch c.Store.Backend {
	case "sqlite", "redis", "none":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Bridge.Mode {
	case "worker", "inline":
	case "remote":
		if c.Bridge.RemoteAddr == "" {
			return fmt.Errorf("bridge.remoteAddr is required for remote mode")
		}
	default:
		return fmt.Errorf("unknown bridge mode %q", c.Bridge.Mode)
	}
	if c.Analytics.Persist && c.Analytics.SnapshotInterval <= 0 {
		return fmt.Errorf("analytics.snapshotInterval must be positive when persist is set")
	}
	if c.Search.MinQueryLength < 1 {
		return fmt.Errorf("search.minQueryLength must be positive")
	}
	return nil
}

// Default returns a Config with defaults for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
			AllowOrigins:    []string{"*"},
			RatePerSec:      20,
			RateBurst:       40,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "biblioteca",
			User:            "biblioteca",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "obras-search",
			Topics: KafkaTopics{
				SearchEvents:  "search-events",
				CorpusUpdated: "corpus-updated",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Source: SourceConfig{
			Kind:    "http",
			URL:     "http://localhost:3000/api/search/documents",
			Timeout: 20 * time.Second,
		},
		Index: IndexConfig{
			TitleBoost:   10,
			AuthorBoost:  8,
			SectionBoost: 6,
			TextBoost:    1,
			AuthorOrder: []string{
				"Bahá'u'lláh",
				"El Báb",
				"'Abdu'l-Bahá",
				"Shoghi Effendi",
				"Casa Universal de Justicia",
				"Recopilaciones",
			},
		},
		Search: SearchConfig{
			MinQueryLength: 3,
			DefaultLimit:   20,
			MaxResults:     200,
			FragmentSize:   200,
		},
		Chunks: ChunkConfig{
			TTL:             5 * time.Minute,
			CleanupInterval: time.Minute,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "data/search-cache.db",
			TTL:     24 * time.Hour,
		},
		ResultCache: ResultCacheConfig{
			Capacity: 100,
			TTL:      5 * time.Minute,
		},
		Bridge: BridgeConfig{
			Mode:    "worker",
			Timeout: 30 * time.Second,
		},
		Prefetch: PrefetchConfig{
			Enabled:     true,
			MaxWorks:    3,
			Concurrency: 2,
			RatePerSec:  4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Analytics: AnalyticsConfig{
			SnapshotInterval: 5 * time.Minute,
		},
	}
}

// applyEnvOverrides reads OS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("OS_SERVER_ADMIN_KEY_HASHES"); v != "" {
		cfg.Server.AdminKeyHashes = strings.Split(v, ",")
	}
	if v := os.Getenv("OS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("OS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("OS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("OS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("OS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("OS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("OS_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("OS_ANALYTICS_PERSIST"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Analytics.Persist = b
		}
	}
	if v := os.Getenv("OS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("OS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("OS_SOURCE_KIND"); v != "" {
		cfg.Source.Kind = v
	}
	if v := os.Getenv("OS_SOURCE_URL"); v != "" {
		cfg.Source.URL = v
	}
	if v := os.Getenv("OS_SOURCE_PATH"); v != "" {
		cfg.Source.Path = v
	}
	if v := os.Getenv("OS_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("OS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("OS_BRIDGE_MODE"); v != "" {
		cfg.Bridge.Mode = v
	}
	if v := os.Getenv("OS_BRIDGE_REMOTE_ADDR"); v != "" {
		cfg.Bridge.RemoteAddr = v
	}
	if v := os.Getenv("OS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
