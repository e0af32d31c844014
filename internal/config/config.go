package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/climatecredit/credit-engine/internal/cost"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLIMATECREDIT"

// maxTimeoutSecs caps every outbound call timeout.
const maxTimeoutSecs = 30

// Config holds the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Groq      GroqConfig      `yaml:"groq" mapstructure:"groq"`
	AI        AIConfig        `yaml:"ai" mapstructure:"ai"`
	Climate   ClimateConfig   `yaml:"climate" mapstructure:"climate"`
	Policy    PolicyConfig    `yaml:"policy" mapstructure:"policy"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the assessment repository.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GroqConfig holds Groq API settings.
type GroqConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AIConfig configures the provider chain.
type AIConfig struct {
	ProviderOrder []string      `yaml:"provider_order" mapstructure:"provider_order"`
	TimeoutSecs   int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Circuit       CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// CircuitConfig configures per-provider circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ClimateConfig configures the live climate source.
type ClimateConfig struct {
	LiveEnabled  bool        `yaml:"live_enabled" mapstructure:"live_enabled"`
	ForecastURL  string      `yaml:"forecast_url" mapstructure:"forecast_url"`
	GeocodeURL   string      `yaml:"geocode_url" mapstructure:"geocode_url"`
	TimeoutSecs  int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimitRPS float64     `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	Retry        RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures retries of transient upstream failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
}

// PolicyConfig locates the scoring policy. An empty path selects the
// built-in policy.
type PolicyConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Groq      map[string]ModelPricing `yaml:"groq" mapstructure:"groq"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// CORSConfig configures cross-origin access to the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// BatchConfig configures the batch assess command.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// Validate checks the settings a command mode depends on. Modes are
// "serve", "assess" and "batch".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "assess":
	case "batch":
		if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 32 {
			errs = append(errs, "batch.concurrency must be between 1 and 32")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for driver "+c.Store.Driver)
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be memory, sqlite or postgres", c.Store.Driver))
	}

	for _, name := range c.AI.ProviderOrder {
		if name != cost.ProviderClaude && name != cost.ProviderGroq {
			errs = append(errs, fmt.Sprintf("ai.provider_order: unknown provider %q", name))
		}
	}
	if c.AI.Circuit.FailureThreshold < 1 {
		errs = append(errs, "ai.circuit.failure_threshold must be >= 1")
	}
	if c.Climate.RateLimitRPS < 0 {
		errs = append(errs, "climate.rate_limit_rps must be >= 0")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// AITimeout returns the per-attempt provider timeout, capped at 30s.
func (c *Config) AITimeout() time.Duration {
	return capSecs(c.AI.TimeoutSecs)
}

// ClimateTimeout returns the live climate timeout, capped at 30s.
func (c *Config) ClimateTimeout() time.Duration {
	return capSecs(c.Climate.TimeoutSecs)
}

func capSecs(secs int) time.Duration {
	if secs <= 0 || secs > maxTimeoutSecs {
		secs = maxTimeoutSecs
	}
	return time.Duration(secs) * time.Second
}

// Rates merges configured pricing over the default rates.
func (p PricingConfig) Rates() cost.Rates {
	rates := cost.DefaultRates()
	for model, mp := range p.Anthropic {
		rates.Anthropic[model] = cost.ModelRate(mp)
	}
	for model, mp := range p.Groq {
		rates.Groq[model] = cost.ModelRate(mp)
	}
	return rates
}

// Load reads configuration from .env, config.yaml and the environment.
// Environment variables win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names the deployment already uses.
	binds := map[string][]string{
		"anthropic.key":      {"ANTHROPIC_API_KEY", "CLAUDE_API_KEY"},
		"groq.key":           {"GROQ_API_KEY"},
		"server.port":        {"PORT"},
		"store.database_url": {"DATABASE_URL"},
	}
	for key, legacy := range binds {
		names := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, legacy...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("server.port", 3001)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("ai.provider_order", []string{cost.ProviderClaude, cost.ProviderGroq})
	v.SetDefault("ai.timeout_secs", maxTimeoutSecs)
	v.SetDefault("ai.circuit.failure_threshold", 5)
	v.SetDefault("ai.circuit.reset_timeout_secs", 30)
	v.SetDefault("climate.live_enabled", true)
	v.SetDefault("climate.forecast_url", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("climate.geocode_url", "https://api.bigdatacloud.net/data/reverse-geocode-client")
	v.SetDefault("climate.timeout_secs", maxTimeoutSecs)
	v.SetDefault("climate.rate_limit_rps", 5)
	v.SetDefault("climate.retry.max_attempts", 2)
	v.SetDefault("climate.retry.initial_backoff_ms", 500)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("batch.concurrency", 4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
