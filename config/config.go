package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

type (
	Config struct {
		App        `json:"app"        toml:"app"`
		HTTP       `json:"http"       toml:"http"`
		DB         `json:"db"         toml:"db"`
		Log        `json:"logger"     toml:"logger"`
		Assignment `json:"assignment" toml:"assignment"`
		Wallet     `json:"wallet"     toml:"wallet"`
		Retry      `json:"retry"      toml:"retry"`
		Gateway    `json:"gateway"    toml:"gateway"`
		Redis      `json:"redis"      toml:"redis"`
		Kafka      `json:"kafka"      toml:"kafka"`
	}

	App struct {
		Name        string `json:"name"        toml:"name"        env:"APP_NAME"`
		Environment string `json:"environment" toml:"environment" env:"ENV_NAME" env-default:"dev"`
		Debug       bool   `json:"debug"       toml:"debug"       env:"DEBUG"    env-default:"false"`
	}

	HTTP struct {
		Port string `json:"port" toml:"port" env:"HTTP_PORT" env-default:"8080"`
	}

	DB struct {
		Driver            string `json:"driver"              toml:"driver"              env:"DB_DRIVER"            env-default:"postgres"`
		DatabaseURL       string `json:"database_url"        toml:"database_url"        env:"DATABASE_URL"`
		BoltPath          string `json:"bolt_path"           toml:"bolt_path"           env:"BOLT_PATH"            env-default:"pickup.db"`
		PoolMax           int32  `json:"pool_max"            toml:"pool_max"            env:"PG_POOL_MAX"          env-default:"10"`
		ConnectTimeout    int    `json:"connect_timeout"     toml:"connect_timeout"     env:"PG_POOL_CONN_TIMEOUT" env-default:"5"`
		HealthCheckPeriod int    `json:"health_check_period" toml:"health_check_period" env:"PG_POOL_HEALTHCHECK"  env-default:"1"`
		MigrationsPath    string `json:"migrations_path"     toml:"migrations_path"     env:"MIGRATIONS_PATH"`
	}

	Log struct {
		Level slog.Level `json:"level" toml:"level" env:"LOG_LEVEL"`
	}

	Assignment struct {
		DefaultTTL     time.Duration `json:"default_ttl"     toml:"default_ttl"     env:"ASSIGNMENT_DEFAULT_TTL"    env-default:"90s"`
		MaxTTL         time.Duration `json:"max_ttl"         toml:"max_ttl"         env:"ASSIGNMENT_MAX_TTL"        env-default:"30m"`
		SweepInterval  time.Duration `json:"sweep_interval"  toml:"sweep_interval"  env:"ASSIGNMENT_SWEEP_INTERVAL" env-default:"15s"`
		SweepBatch     int           `json:"sweep_batch"     toml:"sweep_batch"     env:"ASSIGNMENT_SWEEP_BATCH"    env-default:"100"`
		ClaimableLimit int           `json:"claimable_limit" toml:"claimable_limit" env:"CLAIMABLE_LIMIT"           env-default:"50"`
	}

	Wallet struct {
		Currency string `json:"currency" toml:"currency" env:"WALLET_CURRENCY" env-default:"INR"`
	}

	Retry struct {
		MaxAttempts     int           `json:"max_attempts"     toml:"max_attempts"     env:"RETRY_MAX_ATTEMPTS"     env-default:"3"`
		InitialInterval time.Duration `json:"initial_interval" toml:"initial_interval" env:"RETRY_INITIAL_INTERVAL" env-default:"50ms"`
		MaxInterval     time.Duration `json:"max_interval"     toml:"max_interval"     env:"RETRY_MAX_INTERVAL"     env-default:"1s"`
	}

	Gateway struct {
		StripeAPIKey string `json:"stripe_api_key" toml:"stripe_api_key" env:"STRIPE_API_KEY"`
		Sandbox      bool   `json:"sandbox"        toml:"sandbox"        env:"GATEWAY_SANDBOX" env-default:"false"`
	}

	Redis struct {
		Addr     string        `json:"addr"     toml:"addr"     env:"REDIS_ADDR"`
		Password string        `json:"password" toml:"password" env:"REDIS_PASSWORD"`
		LockKey  string        `json:"lock_key" toml:"lock_key" env:"REDIS_LOCK_KEY" env-default:"scrap-pickup:assignment-sweeper"`
		LockTTL  time.Duration `json:"lock_ttl" toml:"lock_ttl" env:"REDIS_LOCK_TTL" env-default:"30s"`
	}

	Kafka struct {
		Brokers []string `json:"brokers" toml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
		Topic   string   `json:"topic"   toml:"topic"   env:"KAFKA_TOPIC"   env-default:"scrap-pickup.events"`
	}
)

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	_, b, _, _ := runtime.Caller(0)
	basePath := filepath.Dir(b)

	configTomlPath := filepath.Join(basePath, "config.toml")
	err := cleanenv.ReadConfig(configTomlPath, cfg)
	if err != nil {
		configJsonPath := filepath.Join(basePath, "config.json")
		err = cleanenv.ReadConfig(configJsonPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	err = cleanenv.ReadEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("env read error: %w", err)
	}

	if err = cfg.validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.DatabaseURL == "" {
			return fmt.Errorf("db.database_url is required for the %s driver", DriverPostgres)
		}
	case DriverBolt:
		if c.DB.BoltPath == "" {
			return fmt.Errorf("db.bolt_path is required for the %s driver", DriverBolt)
		}
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}

	if c.Assignment.DefaultTTL <= 0 || c.Assignment.MaxTTL < c.Assignment.DefaultTTL {
		return fmt.Errorf("assignment ttl out of range: default %s, max %s", c.Assignment.DefaultTTL, c.Assignment.MaxTTL)
	}
	if c.Assignment.SweepInterval <= 0 || c.Assignment.SweepBatch <= 0 {
		return fmt.Errorf("assignment sweep out of range: interval %s, batch %d", c.Assignment.SweepInterval, c.Assignment.SweepBatch)
	}
	return nil
}
