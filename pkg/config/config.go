package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix is handed to envconfig when processing the environment.
	EnvPrefix = "VELARA"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "VELARA_DB_DSN"
	EnvDBHost = "VELARA_DB_HOST"
	EnvDBUser = "VELARA_DB_USER"
	EnvDBName = "VELARA_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Cron         CronConfig
	Sweeper      SweeperConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"VELARA_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"VELARA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VELARA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"VELARA_SERVICE_KIND" default:"cron-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"VELARA_DB_DSN"`
	Driver string `envconfig:"VELARA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"VELARA_DB_HOST"`
	LegacyPort     int    `envconfig:"VELARA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"VELARA_DB_USER"`
	LegacyPassword string `envconfig:"VELARA_DB_PASSWORD"`
	LegacyName     string `envconfig:"VELARA_DB_NAME"`
	LegacySSLMode  string `envconfig:"VELARA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VELARA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VELARA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VELARA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VELARA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"VELARA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"VELARA_REDIS_ADDR"`
	Password     string        `envconfig:"VELARA_REDIS_PASSWORD"`
	DB           int           `envconfig:"VELARA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VELARA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VELARA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VELARA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VELARA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VELARA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"VELARA_CRON_INTERVAL" default:"24h"`
}

// SweeperConfig controls the stale-order expiry job.
type SweeperConfig struct {
	ThresholdDays int `envconfig:"VELARA_SWEEPER_THRESHOLD_DAYS" default:"10"`
}

func (s SweeperConfig) Threshold() time.Duration {
	days := s.ThresholdDays
	if days <= 0 {
		days = 10
	}
	return time.Duration(days) * 24 * time.Hour
}

type GCPConfig struct {
	ProjectID              string `envconfig:"VELARA_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"VELARA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"VELARA_PUBSUB_DOMAIN_TOPIC" default:"velara-domain-events"`
	DomainSubscription string `envconfig:"VELARA_PUBSUB_DOMAIN_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"VELARA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"VELARA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"VELARA_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"VELARA_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
