package config

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full runtime configuration, loaded from LICENSELOCK_*
// environment variables.
type Config struct {
	Profile string `envconfig:"PROFILE" default:"dev" validate:"oneof=dev staging prod"`

	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`

	OperatorKey string `envconfig:"OPERATOR_KEY" validate:"required,min=16"`
	TokenPepper string `envconfig:"TOKEN_PEPPER" validate:"required,min=16"`
	BcryptCost  int    `envconfig:"BCRYPT_COST" default:"12" validate:"min=4,max=31"`

	DatabaseDriver string        `envconfig:"DATABASE_DRIVER" default:"postgres" validate:"oneof=postgres sqlite"`
	DatabaseDSN    string        `envconfig:"DATABASE_DSN" validate:"required"`
	StorageTimeout time.Duration `envconfig:"STORAGE_TIMEOUT" default:"5s" validate:"min=100ms"`

	// RedisAddr empty means the in-memory abuse detector and the durable
	// rate limiter are used instead of their Redis counterparts.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	SessionTTL      time.Duration `envconfig:"SESSION_TTL" default:"24h" validate:"min=1m"`
	LoginRateLimit  int64         `envconfig:"LOGIN_RATE_LIMIT" default:"10" validate:"min=1"`
	LoginRateWindow time.Duration `envconfig:"LOGIN_RATE_WINDOW" default:"1m" validate:"min=1s"`

	AbuseThreshold int           `envconfig:"ABUSE_THRESHOLD" default:"5" validate:"min=1"`
	AbuseWindow    time.Duration `envconfig:"ABUSE_WINDOW" default:"15m" validate:"min=1s"`

	// LicenseSweepInterval enables the reporting-only expiry sweep when > 0.
	// Entitlement correctness never depends on the sweep.
	LicenseSweepInterval time.Duration `envconfig:"LICENSE_SWEEP_INTERVAL" default:"0"`

	OTELServiceName           string        `envconfig:"OTEL_SERVICE_NAME" default:"licenselock"`
	OTELEnvironment           string        `envconfig:"OTEL_ENVIRONMENT" default:"dev"`
	OTELExporterOTLPEndpoint  string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	OTELExporterOTLPInsecure  bool          `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	OTELMetricsEnabled        bool          `envconfig:"OTEL_METRICS_ENABLED" default:"false"`
	OTELTracesEnabled         bool          `envconfig:"OTEL_TRACES_ENABLED" default:"false"`
	OTELLogsEnabled           bool          `envconfig:"OTEL_LOGS_ENABLED" default:"false"`
	OTELMetricsExportInterval time.Duration `envconfig:"OTEL_METRICS_EXPORT_INTERVAL" default:"30s"`
}

const envPrefix = "licenselock"

// Load reads and validates the configuration. Outcomes are recorded as a
// metric so misconfigured rollouts are visible before traffic hits them.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		err = fmt.Errorf("parse environment: %w", err)
		recordConfigValidationEvent(ctx, cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	if err := validator.New().Struct(&cfg); err != nil {
		err = fmt.Errorf("validate config: %w", err)
		recordConfigValidationEvent(ctx, cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, cfg.Profile, "success", "none")
	return &cfg, nil
}

// RedisEnabled reports whether the Redis-backed components should be wired.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }
