package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	pkgconfig "github.com/tejasdc/starter-stack/pkg/config"
	"github.com/tejasdc/starter-stack/pkg/database"
	"github.com/tejasdc/starter-stack/pkg/middleware"
	"github.com/tejasdc/starter-stack/pkg/tracing"
)

// ServiceName identifies this service in logs, metrics and traces.
const ServiceName = "starter-api"

// Config holds all configuration for the API server.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort        int           `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// PostgreSQL. DATABASE_URL wins over the individual parts.
	DatabaseURL    string        `env:"DATABASE_URL"`
	PostgresHost   string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort   int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser   string        `env:"POSTGRES_USER" envDefault:"postgres"`
	PostgresPass   string        `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	PostgresDB     string        `env:"POSTGRES_DB" envDefault:"starter"`
	PostgresSSL    string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBPoolSize     int           `env:"DATABASE_POOL_SIZE" envDefault:"10"`
	DBMinConns     int           `env:"DB_MIN_CONNS" envDefault:"1"`
	SlowQueryMs    int           `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`
	MigrateOnStart bool          `env:"MIGRATE_ON_START" envDefault:"true"`
	HealthTimeout  time.Duration `env:"HEALTH_CHECK_TIMEOUT" envDefault:"5s"`
	TouchTimeout   time.Duration `env:"TOUCH_TIMEOUT" envDefault:"2s"`

	// Redis backs the rate limiter. Without it the limiter is in-process.
	RedisURL           string `env:"REDIS_URL"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"0"`

	// Kafka. Events are disabled when no brokers are configured.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// CORS
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	// Tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
	OTELInsecure   bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`

	// pprof is mounted only when at least one CIDR is allowed.
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadFrom(nil)
}

// LoadFrom reads configuration from environ, or from the process environment
// when environ is nil.
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadFrom(cfg, environ); err != nil {
		return nil, fmt.Errorf("load api config: %w", err)
	}
	cfg.CORSOrigins = compact(cfg.CORSOrigins)
	cfg.KafkaBrokers = compact(cfg.KafkaBrokers)
	cfg.PprofAllowedCIDRs = compact(cfg.PprofAllowedCIDRs)
	return cfg, nil
}

// Validate implements pkgconfig.Validator.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.DBPoolSize < 1 {
		return fmt.Errorf("DATABASE_POOL_SIZE must be at least 1, got %d", c.DBPoolSize)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBPoolSize {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DATABASE_POOL_SIZE (%d), got %d", c.DBPoolSize, c.DBMinConns)
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative, got %d", c.RateLimitPerMinute)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1, got %g", c.OTELSampleRate)
	}
	if c.TouchTimeout <= 0 {
		return fmt.Errorf("TOUCH_TIMEOUT must be positive, got %s", c.TouchTimeout)
	}
	if _, err := c.PprofAllowlist(); err != nil {
		return fmt.Errorf("PPROF_ALLOWED_CIDRS: %w", err)
	}
	return nil
}

// PprofAllowlist returns the networks allowed to reach /debug/pprof. Empty
// means the endpoints are not mounted.
func (c *Config) PprofAllowlist() ([]netip.Prefix, error) {
	return middleware.ParseAllowlist(c.PprofAllowedCIDRs)
}

// Postgres returns the connection settings for database.NewPostgresPool.
func (c *Config) Postgres() database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.URL = c.DatabaseURL
	pg.Host = c.PostgresHost
	pg.Port = c.PostgresPort
	pg.User = c.PostgresUser
	pg.Password = c.PostgresPass
	pg.DBName = c.PostgresDB
	pg.SSLMode = c.PostgresSSL
	pg.MaxConns = int32(c.DBPoolSize)
	pg.MinConns = int32(c.DBMinConns)
	return pg
}

// Tracing returns the OpenTelemetry settings for tracing.InitTracer.
func (c *Config) Tracing() tracing.Config {
	tc := tracing.DefaultConfig(ServiceName)
	tc.Environment = c.Environment
	tc.OTLPEndpoint = c.OTELEndpoint
	tc.SampleRate = c.OTELSampleRate
	tc.Insecure = c.OTELInsecure
	tc.Enabled = c.OTELEnabled
	return tc
}

// SlowQueryThreshold returns the slow query logging threshold.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryMs) * time.Millisecond
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
