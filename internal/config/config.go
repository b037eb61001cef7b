// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"club-entitlements/internal/domain/model"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"`   // trace|debug|info|warn|error
	Format   string `yaml:"format" env:"LOG_FORMAT"` // json|console
	Sampling bool   `yaml:"sampling"`                // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port" env:"HTTP_PORT"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	TenantHeader   string        `yaml:"tenant_header"`
	// per-tenant write requests per minute on subscription routes
	TenantWriteLimit int `yaml:"tenant_write_limit"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url" env:"DATABASE_URL"`
	MaxConns int32  `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate" env:"DATABASE_MIGRATE"`
}

type RedisConfig struct {
	URL      string `yaml:"url" env:"REDIS_URL"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
}

type CacheConfig struct {
	Backend   string        `yaml:"backend"` // memory|redis
	TTL       time.Duration `yaml:"ttl"`
	MatrixTTL time.Duration `yaml:"matrix_ttl"` // in-process plan matrix, capped at TTL
	Shards    int           `yaml:"shards"`
}

type PaddleConfig struct {
	APIKey        string `yaml:"api_key" env:"PADDLE_API_KEY"`
	WebhookSecret string `yaml:"webhook_secret" env:"PADDLE_WEBHOOK_SECRET"`
	Sandbox       bool   `yaml:"sandbox"`
}

type SandboxGatewayConfig struct {
	WebhookSecret string `yaml:"webhook_secret" env:"SANDBOX_WEBHOOK_SECRET"`
	PeriodDays    int    `yaml:"period_days"`
}

type BillingConfig struct {
	Gateway            string               `yaml:"gateway" env:"BILLING_GATEWAY"` // sandbox|paddle
	CallTimeout        time.Duration        `yaml:"call_timeout"`
	ProrateUpgrades    bool                 `yaml:"prorate_upgrades"`
	SignatureTolerance time.Duration        `yaml:"signature_tolerance"`
	Paddle             PaddleConfig         `yaml:"paddle"`
	Sandbox            SandboxGatewayConfig `yaml:"sandbox"`
}

type PlanConfig struct {
	Code          string `yaml:"code"`
	Name          string `yaml:"name"`
	Tier          int    `yaml:"tier"`
	PriceID       string `yaml:"price_id"`
	MonthlyAmount int64  `yaml:"monthly_amount"`
	Currency      string `yaml:"currency"`
}

type LifecycleConfig struct {
	Cooldown         time.Duration `yaml:"cooldown"`
	PastDueThreshold int           `yaml:"past_due_threshold"`
}

type SchedulerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	RunOnStart  bool          `yaml:"run_on_start"`
}

type AdminConfig struct {
	APIKey    string        `yaml:"api_key" env:"ADMIN_API_KEY"`
	JWTSecret string        `yaml:"jwt_secret" env:"ADMIN_JWT_SECRET"`
	JWTTTL    time.Duration `yaml:"jwt_ttl"`
}

type WebhookConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	MaxBodyBytes  int64   `yaml:"max_body_bytes"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Billing   BillingConfig   `yaml:"billing"`
	Plans     []PlanConfig    `yaml:"plans"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Admin     AdminConfig     `yaml:"admin"`
	Webhook   WebhookConfig   `yaml:"webhook"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, then applies .env and process
// environment overrides.
func LoadConfig(path string, dev bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes YAML, applies env overrides and defaults, and validates.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 15 * time.Second
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = 20 * time.Second
	}
	if cfg.HTTP.TenantHeader == "" {
		cfg.HTTP.TenantHeader = "X-Tenant-ID"
	}
	if cfg.HTTP.TenantWriteLimit <= 0 {
		cfg.HTTP.TenantWriteLimit = 30
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Cache.Backend = strings.ToLower(cfg.Cache.Backend)
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	cfg.Cache.TTL = normalizeTTL(cfg.Cache.TTL)
	if cfg.Cache.MatrixTTL <= 0 {
		cfg.Cache.MatrixTTL = time.Minute
	}
	if cfg.Cache.MatrixTTL > cfg.Cache.TTL {
		cfg.Cache.MatrixTTL = cfg.Cache.TTL
	}
	if cfg.Cache.Shards <= 0 {
		cfg.Cache.Shards = 16
	}
	cfg.Billing.Gateway = strings.ToLower(cfg.Billing.Gateway)
	if cfg.Billing.Gateway == "" {
		cfg.Billing.Gateway = "sandbox"
	}
	if cfg.Billing.CallTimeout <= 0 {
		cfg.Billing.CallTimeout = 10 * time.Second
	}
	if cfg.Billing.SignatureTolerance <= 0 {
		cfg.Billing.SignatureTolerance = 5 * time.Minute
	}
	if cfg.Billing.Sandbox.PeriodDays <= 0 {
		cfg.Billing.Sandbox.PeriodDays = 30
	}
	if cfg.Lifecycle.Cooldown <= 0 {
		cfg.Lifecycle.Cooldown = 24 * time.Hour
	}
	if cfg.Lifecycle.PastDueThreshold <= 0 {
		cfg.Lifecycle.PastDueThreshold = 3
	}
	if cfg.Scheduler.Interval <= 0 {
		cfg.Scheduler.Interval = 24 * time.Hour
	}
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 500
	}
	if cfg.Scheduler.Concurrency <= 0 {
		cfg.Scheduler.Concurrency = 4
	}
	if cfg.Scheduler.LockTTL <= 0 {
		cfg.Scheduler.LockTTL = 30 * time.Minute
	}
	if cfg.Admin.JWTTTL <= 0 {
		cfg.Admin.JWTTTL = 30 * time.Minute
	}
	if cfg.Webhook.RatePerSecond <= 0 {
		cfg.Webhook.RatePerSecond = 50
	}
	if cfg.Webhook.Burst <= 0 {
		cfg.Webhook.Burst = 100
	}
	if cfg.Webhook.MaxBodyBytes <= 0 {
		cfg.Webhook.MaxBodyBytes = 1 << 20
	}
}

// Minimal validation
func (cfg *Config) validate() error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Cache.Backend != "memory" && cfg.Cache.Backend != "redis" {
		return fmt.Errorf("cache.backend %q is not supported", cfg.Cache.Backend)
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	switch cfg.Billing.Gateway {
	case "sandbox":
		if cfg.Billing.Sandbox.WebhookSecret == "" {
			return errors.New("billing.sandbox.webhook_secret is required")
		}
	case "paddle":
		if cfg.Billing.Paddle.APIKey == "" || cfg.Billing.Paddle.WebhookSecret == "" {
			return errors.New("billing.paddle.api_key and billing.paddle.webhook_secret are required")
		}
	default:
		return fmt.Errorf("billing.gateway %q is not supported", cfg.Billing.Gateway)
	}
	if len(cfg.Plans) == 0 {
		return errors.New("plans must not be empty")
	}
	if _, err := cfg.PlanCatalog(); err != nil {
		return fmt.Errorf("plans: %w", err)
	}
	if cfg.Admin.JWTSecret == "" {
		return errors.New("admin.jwt_secret is required")
	}
	return nil
}

// PlanCatalog builds the tier-ordered plan catalog from the plans section.
func (cfg *Config) PlanCatalog() (*model.PlanCatalog, error) {
	plans := make([]model.Plan, 0, len(cfg.Plans))
	for _, p := range cfg.Plans {
		plans = append(plans, model.Plan{
			Code:          model.PlanCode(p.Code),
			Name:          p.Name,
			Tier:          p.Tier,
			PriceID:       p.PriceID,
			MonthlyAmount: p.MonthlyAmount,
			Currency:      p.Currency,
		})
	}
	return model.NewPlanCatalog(plans)
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Minute
	}
	return d
}
