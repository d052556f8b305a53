package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/caseload/pkg/database"
	"github.com/platinummonkey/caseload/pkg/documents"
	"github.com/platinummonkey/caseload/pkg/firms"
	"github.com/platinummonkey/caseload/pkg/middleware"
	"github.com/platinummonkey/caseload/pkg/observability"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "CASELOAD_"

// Blob storage backends
const (
	BlobFilesystem = "filesystem"
	BlobS3         = "s3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Redis         RedisConfig         `yaml:"redis"`
	Blob          BlobConfig          `yaml:"blob"`
	Limits        LimitsConfig        `yaml:"limits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`

	// Health/metrics server (separate port for k8s probes)
	MetricsPort string `yaml:"metrics_port"`
}

// DatabaseConfig holds the Postgres pool settings
type DatabaseConfig struct {
	URL         string        `yaml:"url"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// RedisConfig configures the shared rate limiter. An empty URL selects the
// in-memory limiter.
type RedisConfig struct {
	URL             string        `yaml:"url"`
	RateLimit       int           `yaml:"rate_limit"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
}

// BlobConfig selects and configures document blob storage
type BlobConfig struct {
	Type         string `yaml:"type"`
	Root         string `yaml:"root"`
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// LimitsConfig holds trial ceilings and the catalog cache TTL
type LimitsConfig struct {
	TrialDays             int           `yaml:"trial_days"`
	TrialMaxUsers         int           `yaml:"trial_max_users"`
	TrialStoragePerUserGB int           `yaml:"trial_storage_per_user_gb"`
	CatalogTTL            time.Duration `yaml:"catalog_ttl"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
}

// SchedulerConfig configures the maintenance sweeper
type SchedulerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SweepSpec string `yaml:"sweep_spec"`

	// AuditRetention of zero keeps audit events forever
	AuditRetention time.Duration `yaml:"audit_retention"`
}

// Default returns the built-in configuration
func Default() *Config {
	db := database.DefaultConfig()
	limits := firms.DefaultLimitsConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			MetricsPort:     "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  100 << 20,
		},
		Database: DatabaseConfig{
			MaxConns:    db.MaxConns,
			MinConns:    db.MinConns,
			Timeout:     db.Timeout,
			MaxLifetime: db.MaxLifetime,
		},
		Auth: AuthConfig{
			Issuer:   "caseload",
			TokenTTL: 24 * time.Hour,
		},
		Redis: RedisConfig{
			RateLimit:       1000,
			RateLimitWindow: time.Minute,
		},
		Blob: BlobConfig{
			Type: BlobFilesystem,
			Root: "./data/blobs",
		},
		Limits: LimitsConfig{
			TrialDays:             limits.TrialDays,
			TrialMaxUsers:         limits.TrialMaxUsers,
			TrialStoragePerUserGB: limits.TrialStoragePerUserGB,
			CatalogTTL:            5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          observability.FormatJSON,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "caseload",
			OTelServiceVersion: "dev",
			OTelInsecure:       true,
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			SweepSpec:      "@every 1h",
			AuditRetention: 365 * 24 * time.Hour,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CASELOAD_CONFIG_FILE (if any), then environment variables, and validates
// the result
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(EnvPrefix + "CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields whose variable is set; the current value is the
// default
func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("HOST", s.Host)
	s.Port = getEnv("PORT", s.Port)
	s.MetricsPort = getEnv("METRICS_PORT", s.MetricsPort)
	s.ReadTimeout = getEnvDuration("READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxUploadBytes = getEnvInt64("MAX_UPLOAD_BYTES", s.MaxUploadBytes)
	s.CORSOrigins = getEnvList("CORS_ORIGINS", s.CORSOrigins)

	d := &c.Database
	d.URL = getEnv("DATABASE_URL", d.URL)
	d.MaxConns = getEnvInt("DATABASE_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvInt("DATABASE_MIN_CONNS", d.MinConns)
	d.Timeout = getEnvDuration("DATABASE_TIMEOUT", d.Timeout)
	d.MaxLifetime = getEnvDuration("DATABASE_MAX_LIFETIME", d.MaxLifetime)

	a := &c.Auth
	a.JWTSecret = getEnv("JWT_SECRET", a.JWTSecret)
	a.Issuer = getEnv("JWT_ISSUER", a.Issuer)
	a.TokenTTL = getEnvDuration("TOKEN_TTL", a.TokenTTL)

	r := &c.Redis
	r.URL = getEnv("REDIS_URL", r.URL)
	r.RateLimit = getEnvInt("RATE_LIMIT", r.RateLimit)
	r.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", r.RateLimitWindow)

	b := &c.Blob
	b.Type = getEnv("BLOB_TYPE", b.Type)
	b.Root = getEnv("BLOB_ROOT", b.Root)
	b.Bucket = getEnv("S3_BUCKET", b.Bucket)
	b.Region = getEnv("S3_REGION", b.Region)
	b.Endpoint = getEnv("S3_ENDPOINT", b.Endpoint)
	b.AccessKey = getEnv("S3_ACCESS_KEY", b.AccessKey)
	b.SecretKey = getEnv("S3_SECRET_KEY", b.SecretKey)
	b.UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", b.UsePathStyle)

	l := &c.Limits
	l.TrialDays = getEnvInt("TRIAL_DAYS", l.TrialDays)
	l.TrialMaxUsers = getEnvInt("TRIAL_MAX_USERS", l.TrialMaxUsers)
	l.TrialStoragePerUserGB = getEnvInt("TRIAL_STORAGE_PER_USER_GB", l.TrialStoragePerUserGB)
	l.CatalogTTL = getEnvDuration("CATALOG_TTL", l.CatalogTTL)

	o := &c.Observability
	o.LogLevel = getEnv("LOG_LEVEL", o.LogLevel)
	o.LogFormat = getEnv("LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool("METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("OTEL_INSECURE", o.OTelInsecure)

	sc := &c.Scheduler
	sc.Enabled = getEnvBool("SCHEDULER_ENABLED", sc.Enabled)
	sc.SweepSpec = getEnv("SWEEP_SPEC", sc.SweepSpec)
	sc.AuditRetention = getEnvDuration("AUDIT_RETENTION", sc.AuditRetention)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Server.MetricsPort == "" {
		return errors.New("metrics port is required")
	}
	if c.Server.Port == c.Server.MetricsPort {
		return errors.New("server port and metrics port must be different")
	}

	if c.Database.URL == "" {
		return errors.New("database URL is required")
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("JWT secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("JWT secret must be at least 32 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("token TTL must be positive")
	}

	switch c.Blob.Type {
	case BlobFilesystem:
		if c.Blob.Root == "" {
			return errors.New("blob root is required for filesystem storage")
		}
	case BlobS3:
		if c.Blob.Bucket == "" {
			return errors.New("S3 bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("invalid blob type: %s (must be filesystem or s3)", c.Blob.Type)
	}

	if c.Limits.TrialDays < 0 || c.Limits.TrialMaxUsers < 0 || c.Limits.TrialStoragePerUserGB < 0 {
		return errors.New("trial limits must not be negative")
	}

	if !observability.ValidFormat(c.Observability.LogFormat) {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	if c.Scheduler.Enabled && c.Scheduler.SweepSpec == "" {
		return errors.New("sweep schedule is required when the scheduler is enabled")
	}
	if c.Scheduler.AuditRetention < 0 {
		return errors.New("audit retention must not be negative")
	}
	return nil
}

// DatabasePool converts to the pool settings used by database.Open
func (c *Config) DatabasePool() database.Config {
	pool := database.DefaultConfig()
	pool.URL = c.Database.URL
	pool.MaxConns = c.Database.MaxConns
	pool.MinConns = c.Database.MinConns
	pool.Timeout = c.Database.Timeout
	pool.MaxLifetime = c.Database.MaxLifetime
	return pool
}

// FirmLimits converts to the guard's trial ceilings
func (c *Config) FirmLimits() firms.LimitsConfig {
	return firms.LimitsConfig{
		TrialDays:             c.Limits.TrialDays,
		TrialMaxUsers:         c.Limits.TrialMaxUsers,
		TrialStoragePerUserGB: c.Limits.TrialStoragePerUserGB,
	}
}

// S3 converts to the S3 blob store settings
func (c *Config) S3() documents.S3Config {
	return documents.S3Config{
		Bucket:       c.Blob.Bucket,
		Region:       c.Blob.Region,
		Endpoint:     c.Blob.Endpoint,
		AccessKey:    c.Blob.AccessKey,
		SecretKey:    c.Blob.SecretKey,
		UsePathStyle: c.Blob.UsePathStyle,
	}
}

// UserRateLimit converts to the per-user limiter settings
func (c *Config) UserRateLimit() *middleware.RateLimitConfig {
	rl := middleware.PerUserRateLimitConfig()
	if c.Redis.RateLimit > 0 {
		rl.RequestsPerWindow = c.Redis.RateLimit
	}
	if c.Redis.RateLimitWindow > 0 {
		rl.WindowDuration = c.Redis.RateLimitWindow
	}
	return rl
}

// OTel converts to the OpenTelemetry settings
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
