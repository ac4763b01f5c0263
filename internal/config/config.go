package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Database   DatabaseConfig  `yaml:"database"`
	Redis      RedisConfig     `yaml:"redis"`
	WhatsApp   WhatsAppConfig  `yaml:"whatsapp"`
	Quota      QuotaConfig     `yaml:"quota"`
	RateLimits map[string]int  `yaml:"rate_limits"` // channel type -> sends per second
	Queue      QueueConfig     `yaml:"queue"`
	Dispatch   DispatchConfig  `yaml:"dispatch"`
	Blacklist  BlacklistConfig `yaml:"blacklist"`
	Scheduler  SchedulerConfig `yaml:"scheduler"`
	Phone      PhoneConfig     `yaml:"phone"`
	Storage    StorageConfig   `yaml:"storage"`
	Logging    LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	APIOnly        bool     `yaml:"api_only"` // skip the embedded dispatch pool and scheduler in cmd/server
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "0.0.0.0"
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL                string `yaml:"url"`
	MaxOpenConns       int    `yaml:"max_open_conns"`
	MaxIdleConns       int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMin int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the connection lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMin) * time.Minute
}

// RedisConfig holds Redis connection settings. An empty URL disables every
// Redis-backed component and the in-process fallbacks are used instead.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// WhatsAppConfig holds WhatsApp Cloud API credentials
type WhatsAppConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIVersion     string `yaml:"api_version"`
	PhoneNumberID  string `yaml:"phone_number_id"`
	AccessToken    string `yaml:"access_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-send provider timeout
func (c WhatsAppConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// QuotaConfig holds the billing service connection used for allowance checks.
// An empty BaseURL means unlimited allowance.
type QuotaConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the HTTP timeout for quota calls
func (c QuotaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// QueueConfig holds campaign job queue policy
type QueueConfig struct {
	MaxAttempts              int `yaml:"max_attempts"`
	BaseBackoffSeconds       int `yaml:"base_backoff_seconds"`
	VisibilityTimeoutSeconds int `yaml:"visibility_timeout_seconds"`
	RetainCompleted          int `yaml:"retain_completed"`
	RetainFailed             int `yaml:"retain_failed"`
	RecoveryIntervalSeconds  int `yaml:"recovery_interval_seconds"`
}

// BaseBackoff returns the first retry delay
func (c QueueConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffSeconds) * time.Second
}

// VisibilityTimeout returns how long a claimed job stays invisible
func (c QueueConfig) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutSeconds) * time.Second
}

// RecoveryInterval returns how often expired leases are reclaimed
func (c QueueConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSeconds) * time.Second
}

// DispatchConfig holds worker pool and send loop settings
type DispatchConfig struct {
	Workers                int     `yaml:"workers"`
	PollIntervalMillis     int     `yaml:"poll_interval_ms"`
	SendRetries            int     `yaml:"send_retries"`
	SendRetryBackoffMillis int     `yaml:"send_retry_backoff_ms"`
	ProgressEvery          int     `yaml:"progress_every"`
	BreakerRatio           float64 `yaml:"breaker_ratio"`
	AcquireTimeoutSeconds  int     `yaml:"acquire_timeout_seconds"`
}

// PollInterval returns the idle wait between empty dequeues
func (c DispatchConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// SendRetryBackoff returns the first in-place retry delay
func (c DispatchConfig) SendRetryBackoff() time.Duration {
	return time.Duration(c.SendRetryBackoffMillis) * time.Millisecond
}

// AcquireTimeout bounds a single rate limiter wait
func (c DispatchConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutSeconds) * time.Second
}

// BlacklistConfig holds blacklist cache and escalation settings
type BlacklistConfig struct {
	CacheTTLSeconds   int  `yaml:"cache_ttl_seconds"`
	AutoThreshold     int  `yaml:"auto_threshold"`
	LookupConcurrency int  `yaml:"lookup_concurrency"`
	StrictLookups     bool `yaml:"strict_lookups"` // block instead of allow when the store fails
}

// CacheTTL returns the lookup cache lifetime
func (c BlacklistConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// SchedulerConfig holds deferred campaign settings
type SchedulerConfig struct {
	IntervalSeconds          int `yaml:"interval_seconds"`
	ReconcileIntervalMinutes int `yaml:"reconcile_interval_minutes"`
	GraceMinutes             int `yaml:"grace_minutes"`
	HorizonDays              int `yaml:"horizon_days"`
}

// Interval returns the due-schedule poll interval
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ReconcileInterval returns how often overdue schedules are reconciled
func (c SchedulerConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalMinutes) * time.Minute
}

// Grace returns how late a missed schedule may still fire
func (c SchedulerConfig) Grace() time.Duration {
	return time.Duration(c.GraceMinutes) * time.Minute
}

// Horizon returns the furthest allowed target time
func (c SchedulerConfig) Horizon() time.Duration {
	return time.Duration(c.HorizonDays) * 24 * time.Hour
}

// PhoneConfig holds normalization defaults
type PhoneConfig struct {
	DefaultCountryCode string   `yaml:"default_country_code"`
	MobilePrefixes     []string `yaml:"mobile_prefixes"`
}

// StorageConfig selects persistence and object storage
type StorageConfig struct {
	Driver     string `yaml:"driver"` // "postgres" or "memory"
	S3Region   string `yaml:"s3_region"`
	S3Bucket   string `yaml:"s3_bucket"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	// SeedTemplates is a YAML file of templates loaded into the memory
	// template store.
	SeedTemplates string `yaml:"seed_templates"`
}

// LoggingConfig controls the structured logger
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is enabled (default true)
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied and no file.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

func (cfg *Config) setDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMin == 0 {
		cfg.Database.ConnMaxLifetimeMin = 5
	}
	if cfg.WhatsApp.BaseURL == "" {
		cfg.WhatsApp.BaseURL = "https://graph.facebook.com"
	}
	if cfg.WhatsApp.APIVersion == "" {
		cfg.WhatsApp.APIVersion = "v19.0"
	}
	if cfg.WhatsApp.TimeoutSeconds == 0 {
		cfg.WhatsApp.TimeoutSeconds = 15
	}
	if cfg.Quota.TimeoutSeconds == 0 {
		cfg.Quota.TimeoutSeconds = 10
	}
	if cfg.Quota.MaxRetries == 0 {
		cfg.Quota.MaxRetries = 3
	}
	if len(cfg.RateLimits) == 0 {
		cfg.RateLimits = map[string]int{"marketing": 50, "utility": 100}
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.BaseBackoffSeconds == 0 {
		cfg.Queue.BaseBackoffSeconds = 5
	}
	if cfg.Queue.VisibilityTimeoutSeconds == 0 {
		cfg.Queue.VisibilityTimeoutSeconds = 300
	}
	if cfg.Queue.RetainCompleted == 0 {
		cfg.Queue.RetainCompleted = 100
	}
	if cfg.Queue.RetainFailed == 0 {
		cfg.Queue.RetainFailed = 500
	}
	if cfg.Queue.RecoveryIntervalSeconds == 0 {
		cfg.Queue.RecoveryIntervalSeconds = 60
	}
	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 4
	}
	if cfg.Dispatch.PollIntervalMillis == 0 {
		cfg.Dispatch.PollIntervalMillis = 1000
	}
	if cfg.Dispatch.SendRetries == 0 {
		cfg.Dispatch.SendRetries = 2
	}
	if cfg.Dispatch.SendRetryBackoffMillis == 0 {
		cfg.Dispatch.SendRetryBackoffMillis = 1000
	}
	if cfg.Dispatch.ProgressEvery == 0 {
		cfg.Dispatch.ProgressEvery = 10
	}
	if cfg.Dispatch.BreakerRatio == 0 {
		cfg.Dispatch.BreakerRatio = 0.5
	}
	if cfg.Dispatch.AcquireTimeoutSeconds == 0 {
		cfg.Dispatch.AcquireTimeoutSeconds = 30
	}
	if cfg.Blacklist.CacheTTLSeconds == 0 {
		cfg.Blacklist.CacheTTLSeconds = 300
	}
	if cfg.Blacklist.AutoThreshold == 0 {
		cfg.Blacklist.AutoThreshold = 3
	}
	if cfg.Blacklist.LookupConcurrency == 0 {
		cfg.Blacklist.LookupConcurrency = 8
	}
	if cfg.Scheduler.IntervalSeconds == 0 {
		cfg.Scheduler.IntervalSeconds = 60
	}
	if cfg.Scheduler.ReconcileIntervalMinutes == 0 {
		cfg.Scheduler.ReconcileIntervalMinutes = 60
	}
	if cfg.Scheduler.GraceMinutes == 0 {
		cfg.Scheduler.GraceMinutes = 10
	}
	if cfg.Scheduler.HorizonDays == 0 {
		cfg.Scheduler.HorizonDays = 365
	}
	if cfg.Phone.DefaultCountryCode == "" {
		cfg.Phone.DefaultCountryCode = "57"
	}
	if len(cfg.Phone.MobilePrefixes) == 0 {
		cfg.Phone.MobilePrefixes = []string{"3"}
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "postgres"
	}
	if cfg.Storage.S3Region == "" {
		cfg.Storage.S3Region = "us-east-1"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads config from file and overrides with environment variables
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = Default()
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("WHATSAPP_TOKEN"); v != "" {
		cfg.WhatsApp.AccessToken = v
	}
	if v := os.Getenv("WHATSAPP_PHONE_NUMBER_ID"); v != "" {
		cfg.WhatsApp.PhoneNumberID = v
	}
	if v := os.Getenv("WHATSAPP_BASE_URL"); v != "" {
		cfg.WhatsApp.BaseURL = v
	}
	if v := os.Getenv("QUOTA_BASE_URL"); v != "" {
		cfg.Quota.BaseURL = v
	}
	if v := os.Getenv("QUOTA_API_KEY"); v != "" {
		cfg.Quota.APIKey = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.S3Region = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("TEMPLATES_FILE"); v != "" {
		cfg.Storage.SeedTemplates = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_API_ONLY"); v != "" {
		cfg.Server.APIOnly, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("DISPATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.Workers = n
		}
	}

	return cfg, nil
}
