// Package config holds process settings (viper), the runtime SystemConfig record
// with its TTL cache, and the hot-reloading file manager.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings are process-level options read once at startup
type Settings struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	ConfigDir   string `mapstructure:"config_dir"`

	HTTP struct {
		Port            int           `mapstructure:"port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"http"`

	Store struct {
		Backend    string `mapstructure:"backend"` // memory | postgres | sqlite3
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"store"`

	Postgres struct {
		Host           string `mapstructure:"host"`
		Port           int    `mapstructure:"port"`
		User           string `mapstructure:"user"`
		Password       string `mapstructure:"password"`
		Database       string `mapstructure:"database"`
		SSLMode        string `mapstructure:"sslmode"`
		MaxConnections int    `mapstructure:"max_connections"`
	} `mapstructure:"postgres"`

	Redis struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Embedding struct {
		Provider          string        `mapstructure:"provider"` // http | openai
		BaseURL           string        `mapstructure:"base_url"`
		APIKey            string        `mapstructure:"api_key"`
		Timeout           time.Duration `mapstructure:"timeout"`
		RequestsPerSecond float64       `mapstructure:"requests_per_second"`
		Burst             int           `mapstructure:"burst"`
		MaxRetries        uint64        `mapstructure:"max_retries"`
		LocalCacheSize    int           `mapstructure:"local_cache_size"`
		RedisCache        bool          `mapstructure:"redis_cache"`
	} `mapstructure:"embedding"`

	SystemConfig struct {
		Source string `mapstructure:"source"` // store | file
	} `mapstructure:"system_config"`

	RateLimit struct {
		Backend string `mapstructure:"backend"` // count | redis
	} `mapstructure:"ratelimit"`

	Vectors struct {
		DuplicatePolicy string `mapstructure:"duplicate_policy"` // allow | update
	} `mapstructure:"vectors"`

	Auth struct {
		JWTSecret  string `mapstructure:"jwt_secret"`
		AdminToken string `mapstructure:"admin_token"`
	} `mapstructure:"auth"`

	Temporal struct {
		Enabled     bool   `mapstructure:"enabled"`
		Host        string `mapstructure:"host"`
		Namespace   string `mapstructure:"namespace"`
		TaskQueue   string `mapstructure:"task_queue"`
		CleanupCron string `mapstructure:"cleanup_cron"`
	} `mapstructure:"temporal"`

	Tracing struct {
		Enabled      bool   `mapstructure:"enabled"`
		ServiceName  string `mapstructure:"service_name"`
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	} `mapstructure:"tracing"`
}

// envBindings maps settings keys to the environment variables deployments already use
var envBindings = map[string][]string{
	"environment":                   {"ENVIRONMENT"},
	"log_level":                     {"LOG_LEVEL"},
	"config_dir":                    {"CONFIG_DIR"},
	"http.port":                     {"HTTP_PORT"},
	"store.backend":                 {"STORE_BACKEND"},
	"store.sqlite_path":             {"SQLITE_PATH"},
	"postgres.host":                 {"POSTGRES_HOST"},
	"postgres.port":                 {"POSTGRES_PORT"},
	"postgres.user":                 {"POSTGRES_USER"},
	"postgres.password":             {"POSTGRES_PASSWORD"},
	"postgres.database":             {"POSTGRES_DB"},
	"postgres.sslmode":              {"POSTGRES_SSLMODE"},
	"redis.host":                    {"REDIS_HOST"},
	"redis.port":                    {"REDIS_PORT"},
	"redis.password":                {"REDIS_PASSWORD"},
	"embedding.provider":            {"EMBEDDING_PROVIDER"},
	"embedding.base_url":            {"EMBEDDING_BASE_URL", "LLM_SERVICE_URL"},
	"embedding.api_key":             {"EMBEDDING_API_KEY", "OPENAI_API_KEY"},
	"embedding.requests_per_second": {"EMBEDDING_RPS"},
	"embedding.redis_cache":         {"EMBEDDING_REDIS_CACHE"},
	"system_config.source":          {"SYSTEM_CONFIG_SOURCE"},
	"ratelimit.backend":             {"RATELIMIT_BACKEND"},
	"vectors.duplicate_policy":      {"VECTOR_DUPLICATE_POLICY"},
	"auth.jwt_secret":               {"JWT_SECRET"},
	"auth.admin_token":              {"ADMIN_TOKEN"},
	"temporal.enabled":              {"TEMPORAL_ENABLED"},
	"temporal.host":                 {"TEMPORAL_HOST"},
	"temporal.namespace":            {"TEMPORAL_NAMESPACE"},
	"temporal.task_queue":           {"TEMPORAL_TASK_QUEUE"},
	"temporal.cleanup_cron":         {"VECTOR_CLEANUP_CRON"},
	"tracing.enabled":               {"TRACING_ENABLED"},
	"tracing.otlp_endpoint":         {"OTEL_EXPORTER_OTLP_ENDPOINT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("config_dir", "/app/config")
	v.SetDefault("http.port", 8081)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("store.backend", "postgres")
	v.SetDefault("store.sqlite_path", "brandrag.db")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "brandrag")
	v.SetDefault("postgres.database", "brandrag")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_connections", 25)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("embedding.provider", "http")
	v.SetDefault("embedding.base_url", "http://llm-service:8000")
	v.SetDefault("embedding.timeout", 10*time.Second)
	v.SetDefault("embedding.requests_per_second", 20.0)
	v.SetDefault("embedding.burst", 10)
	v.SetDefault("embedding.max_retries", 2)
	v.SetDefault("embedding.local_cache_size", 2048)
	v.SetDefault("embedding.redis_cache", true)
	v.SetDefault("system_config.source", "store")
	v.SetDefault("ratelimit.backend", "count")
	v.SetDefault("vectors.duplicate_policy", "allow")
	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "brandrag-maintenance")
	v.SetDefault("temporal.cleanup_cron", "0 3 * * *")
	v.SetDefault("tracing.service_name", "brandrag")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
}

// Load reads CONFIG_PATH (default /app/config/brandrag.yaml) with environment
// overrides. A missing file is not an error; defaults and env still apply.
func Load() (*Settings, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "/app/config/brandrag.yaml"
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks enumerated settings
func (s *Settings) Validate() error {
	oneOf := func(name, val string, allowed ...string) error {
		for _, a := range allowed {
			if val == a {
				return nil
			}
		}
		return fmt.Errorf("%s: unsupported value %q (want one of %s)", name, val, strings.Join(allowed, ", "))
	}
	return errors.Join(
		oneOf("store.backend", s.Store.Backend, "memory", "postgres", "sqlite3"),
		oneOf("embedding.provider", s.Embedding.Provider, "http", "openai"),
		oneOf("system_config.source", s.SystemConfig.Source, "store", "file"),
		oneOf("ratelimit.backend", s.RateLimit.Backend, "count", "redis"),
		oneOf("vectors.duplicate_policy", s.Vectors.DuplicatePolicy, "allow", "update"),
	)
}

// RedisAddr returns host:port
func (s *Settings) RedisAddr() string {
	return fmt.Sprintf("%s:%d", s.Redis.Host, s.Redis.Port)
}
