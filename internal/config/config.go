package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "AGORA"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "agora.db"
	defaultLogLevel        = "info"
	defaultCookieName      = "agora_session"
	defaultIssuer          = "agora"
	defaultTokenTTLMinutes = 60 * 24
	defaultRedisStream     = "agora:notifications"
	defaultPageLimit       = 20
	defaultMaxPageLimit    = 100
	defaultTraceSampling   = 1.0
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	AuthSigningSecret string
	AuthIssuer        string
	AuthCookieName    string
	AuthTokenTTL      time.Duration
	RedisAddress      string
	RedisStream       string
	DefaultPageLimit  int
	MaxPageLimit      int
	AllowedOrigins    []string
	TracingEndpoint   string
	TracingSampling   float64
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("notify.redis_address", "")
	configViper.SetDefault("notify.redis_stream", defaultRedisStream)
	configViper.SetDefault("pagination.default_limit", defaultPageLimit)
	configViper.SetDefault("pagination.max_limit", defaultMaxPageLimit)
	configViper.SetDefault("tracing.otlp_endpoint", "")
	configViper.SetDefault("tracing.sample_ratio", defaultTraceSampling)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		AuthIssuer:        configViper.GetString("auth.issuer"),
		AuthCookieName:    configViper.GetString("auth.cookie_name"),
		AuthTokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		RedisAddress:      strings.TrimSpace(configViper.GetString("notify.redis_address")),
		RedisStream:       configViper.GetString("notify.redis_stream"),
		DefaultPageLimit:  configViper.GetInt("pagination.default_limit"),
		MaxPageLimit:      configViper.GetInt("pagination.max_limit"),
		AllowedOrigins:    splitOrigins(configViper.GetStringSlice("http.allowed_origins")),
		TracingEndpoint:   strings.TrimSpace(configViper.GetString("tracing.otlp_endpoint")),
		TracingSampling:   configViper.GetFloat64("tracing.sample_ratio"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.AuthTokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.RedisAddress != "" && strings.TrimSpace(c.RedisStream) == "" {
		return fmt.Errorf("notify.redis_stream is required when notify.redis_address is set")
	}
	if c.MaxPageLimit <= 0 {
		return fmt.Errorf("pagination.max_limit must be positive")
	}
	if c.DefaultPageLimit <= 0 || c.DefaultPageLimit > c.MaxPageLimit {
		return fmt.Errorf("pagination.default_limit must be between 1 and pagination.max_limit")
	}
	if c.TracingSampling < 0 || c.TracingSampling > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}

// splitOrigins accepts both list values and a single comma separated env value.
func splitOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
