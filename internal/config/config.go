package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Bus         BusConfig         `yaml:"bus"`
	Outbox      OutboxConfig      `yaml:"outbox"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Service     ServiceConfig     `yaml:"service"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

const (
	BusKafka = "kafka"
	BusRedis = "redis"
)

type BusConfig struct {
	// Driver selects the cross-service bus: kafka or redis.
	Driver        string `yaml:"driver"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type IdempotencyConfig struct {
	TTL time.Duration `yaml:"ttl"`
	// Strict rejects commands while the cache is down. Only an explicit
	// false turns it off.
	Strict bool `yaml:"strict"`
}

type ServiceConfig struct {
	// ConflictRetries of 0 disables retrying after a version conflict.
	ConflictRetries int `yaml:"conflict_retries"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default is the configuration keys fall back to when the yaml omits them.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Bus:    BusConfig{Driver: BusKafka, ChannelPrefix: "events"},
		Outbox: OutboxConfig{Interval: time.Second, BatchSize: 100},
		Idempotency: IdempotencyConfig{
			TTL:    24 * time.Hour,
			Strict: true,
		},
		Service:   ServiceConfig{ConflictRetries: 3},
		RateLimit: RateLimitConfig{RPS: 50},
		Log:       LogConfig{Level: "info"},
	}
}

// Load decodes the yaml file over Default, so omitted keys keep their
// defaults while explicit zero values such as strict: false or
// conflict_retries: 0 are honoured. A local .env and environment overrides
// are applied next.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	// a missing .env is normal outside local development
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		c.Postgres.DSN = dsn
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		c.Postgres.DSN = c.Postgres.DSN + " password=" + pw
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if driver := os.Getenv("BUS_DRIVER"); driver != "" {
		c.Bus.Driver = driver
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Bus.Driver == "" {
		c.Bus.Driver = BusKafka
	}
	if c.Bus.ChannelPrefix == "" {
		c.Bus.ChannelPrefix = "events"
	}
	if c.Outbox.Interval <= 0 {
		c.Outbox.Interval = time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Idempotency.TTL <= 0 {
		c.Idempotency.TTL = 24 * time.Hour
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = c.RateLimit.RPS * 2
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects settings the binaries cannot start with.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("config: postgres.dsn is required")
	}
	switch c.Bus.Driver {
	case BusKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("config: kafka bus needs brokers and topic")
		}
	case BusRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis bus needs redis.addr")
		}
	default:
		return fmt.Errorf("config: unknown bus driver %q", c.Bus.Driver)
	}
	if c.Service.ConflictRetries < 0 {
		return fmt.Errorf("config: service.conflict_retries must not be negative")
	}
	if c.Outbox.MaxRetries < 0 {
		return fmt.Errorf("config: outbox.max_retries must not be negative")
	}
	return nil
}
