package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/roberthayford/nutlip-transaction-bus/pkg/enums"
)

const EnvPrefix = "NUTLIP"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Store backend kinds.
const (
	StoreBackendFile   = "file"
	StoreBackendSQLite = "sqlite"
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

type Config struct {
	App   AppConfig
	Store StoreConfig
	Redis RedisConfig
	Sync  SyncConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Store.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"NUTLIP_APP_ENV" default:"dev"`
	LogLevel     string `envconfig:"NUTLIP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"NUTLIP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type StoreConfig struct {
	Backend    string `envconfig:"NUTLIP_STORE_BACKEND" default:"file"`
	Dir        string `envconfig:"NUTLIP_STORE_DIR" default:".nutlip"`
	SQLitePath string `envconfig:"NUTLIP_STORE_SQLITE_PATH" default:".nutlip/bus.db"`
}

func (s StoreConfig) validate() error {
	switch s.Backend {
	case StoreBackendFile, StoreBackendSQLite, StoreBackendRedis, StoreBackendMemory:
		return nil
	}
	return fmt.Errorf("unknown store backend %q", s.Backend)
}

type RedisConfig struct {
	URL          string        `envconfig:"NUTLIP_REDIS_URL"`
	Address      string        `envconfig:"NUTLIP_REDIS_ADDR"`
	Password     string        `envconfig:"NUTLIP_REDIS_PASSWORD"`
	DB           int           `envconfig:"NUTLIP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NUTLIP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"NUTLIP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"NUTLIP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NUTLIP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NUTLIP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// SyncConfig tunes the reconciliation poll fallback. Interactive stages such
// as completion-date negotiation poll on the short interval; everything else
// uses the background cadence.
type SyncConfig struct {
	InteractivePollInterval time.Duration `envconfig:"NUTLIP_SYNC_INTERACTIVE_POLL" default:"1s"`
	BackgroundPollInterval  time.Duration `envconfig:"NUTLIP_SYNC_BACKGROUND_POLL" default:"30s"`
}

// PollIntervalFor resolves the poll interval for the given stage. An empty
// stage means the consumer watches the whole transaction and gets the
// interactive cadence.
func (s SyncConfig) PollIntervalFor(stage enums.Stage) time.Duration {
	if stage == "" || stage.Interactive() {
		return s.InteractivePollInterval
	}
	return s.BackgroundPollInterval
}
