package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Shopify   ShopifyConfig
	Routing   RoutingConfig
	DryRun    bool
	Redis     RedisConfig
	Kafka     KafkaConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name    string
	Env     string
	Port    string `validate:"numeric"`
	Version string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64 `validate:"gt=0"`
	// RequestTimeout bounds one webhook invocation, including polling waits
	RequestTimeout time.Duration `validate:"gt=0"`
	TrustedProxies []string
}

// ShopifyConfig holds the platform connection settings
type ShopifyConfig struct {
	ShopDomain     string
	APIVersion     string
	ClientID       string
	ClientSecret   string
	AccessToken    string // static token for custom apps; bypasses the grant
	WebhookSecret  string
	TimeoutSeconds int `validate:"gt=0"`
}

// RoutingConfig holds the shipping method routing rules
type RoutingConfig struct {
	AccumulateMethods []string `validate:"min=1,dive,required"`
	ExpressMethods    []string `validate:"min=1,dive,required"`
	HoldReasonNote    string
	PollSchedule      []time.Duration `validate:"min=1,dive,gte=0"`
}

// RedisConfig holds Redis connection settings for merge claims
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	ClaimTTL time.Duration `validate:"gt=0"`
}

// KafkaConfig holds the outcome stream settings
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
	// PublishTimeout bounds one outcome delivery on the webhook path
	PublishTimeout time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 `validate:"gte=0,lte=1"`
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SHIPMERGE_ prefix (e.g., SHIPMERGE_SHOPIFY_WEBHOOK_SECRET)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("SHIPMERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	schedule, err := parseSchedule(getList(v, "routing.poll_schedule"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name:    v.GetString("app.name"),
			Env:     v.GetString("app.env"),
			Port:    v.GetString("app.port"),
			Version: v.GetString("app.version"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			RequestTimeout: v.GetDuration("http.request_timeout"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Shopify: ShopifyConfig{
			ShopDomain:     v.GetString("shopify.shop_domain"),
			APIVersion:     v.GetString("shopify.api_version"),
			ClientID:       v.GetString("shopify.client_id"),
			ClientSecret:   v.GetString("shopify.client_secret"),
			AccessToken:    v.GetString("shopify.access_token"),
			WebhookSecret:  v.GetString("shopify.webhook_secret"),
			TimeoutSeconds: v.GetInt("shopify.timeout_seconds"),
		},
		Routing: RoutingConfig{
			AccumulateMethods: getList(v, "routing.accumulate_methods"),
			ExpressMethods:    getList(v, "routing.express_methods"),
			HoldReasonNote:    v.GetString("routing.hold_reason_note"),
			PollSchedule:      schedule,
		},
		DryRun: v.GetBool("dry_run"),
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			ClaimTTL: v.GetDuration("redis.claim_ttl"),
		},
		Kafka: KafkaConfig{
			Enabled:        v.GetBool("kafka.enabled"),
			Brokers:        getList(v, "kafka.brokers"),
			Topic:          v.GetString("kafka.topic"),
			PublishTimeout: v.GetDuration("kafka.publish_timeout"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
		},
	}

	// Apply defaults for empty values
	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// getList reads a TOML array or a comma-separated env value
func getList(v *viper.Viper, key string) []string {
	if s, ok := v.Get(key).(string); ok {
		return splitList([]string{s})
	}
	return splitList(v.GetStringSlice(key))
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func parseSchedule(parts []string) ([]time.Duration, error) {
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, fmt.Errorf("routing.poll_schedule: invalid duration %q: %w", p, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "shipmerge"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.App.Version == "" {
		cfg.App.Version = "dev"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	// Polling may wait ~37s, so writes need more headroom than reads
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 90 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 2 << 20 // 2MB
	}
	if cfg.HTTP.RequestTimeout == 0 {
		cfg.HTTP.RequestTimeout = 80 * time.Second
	}
	if cfg.Shopify.APIVersion == "" {
		cfg.Shopify.APIVersion = "2024-10"
	}
	if cfg.Shopify.TimeoutSeconds == 0 {
		cfg.Shopify.TimeoutSeconds = 30
	}
	if len(cfg.Routing.AccumulateMethods) == 0 {
		cfg.Routing.AccumulateMethods = []string{"Consolidated Shipping"}
	}
	if len(cfg.Routing.ExpressMethods) == 0 {
		cfg.Routing.ExpressMethods = []string{"Express Shipping"}
	}
	if cfg.Routing.HoldReasonNote == "" {
		cfg.Routing.HoldReasonNote = "Held for consolidated shipping"
	}
	if len(cfg.Routing.PollSchedule) == 0 {
		cfg.Routing.PollSchedule = []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second}
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.ClaimTTL == 0 {
		cfg.Redis.ClaimTTL = 15 * time.Minute
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "shipmerge.outcomes"
	}
	if cfg.Kafka.PublishTimeout == 0 {
		cfg.Kafka.PublishTimeout = 2 * time.Second
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
}

var structValidator = validator.New()

// validate performs validation on the configuration
func (c *Config) validate() error {
	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("config: %s failed %q validation", strings.TrimPrefix(e.Namespace(), "Config."), e.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}

	if c.HTTP.RequestTimeout >= c.HTTP.WriteTimeout {
		return fmt.Errorf("http.request_timeout (%s) must be shorter than http.write_timeout (%s)",
			c.HTTP.RequestTimeout, c.HTTP.WriteTimeout)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if c.Shopify.AccessToken == "" && (c.Shopify.ClientID == "") != (c.Shopify.ClientSecret == "") {
		return fmt.Errorf("shopify.client_id and shopify.client_secret must be set together")
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Shopify.WebhookSecret == "" {
			return fmt.Errorf("shopify.webhook_secret is required in production")
		}
		if c.Shopify.ShopDomain == "" {
			return fmt.Errorf("shopify.shop_domain is required in production")
		}
		if c.Shopify.AccessToken == "" && c.Shopify.ClientID == "" {
			return fmt.Errorf("shopify.access_token or client credentials are required in production")
		}
	}

	return nil
}

// Addr returns the HTTP listen address
func (c *AppConfig) Addr() string {
	return ":" + c.Port
}

// IsProduction returns true in the production environment
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}
