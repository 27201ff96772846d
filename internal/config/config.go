package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	LLM      LLMConfig      `mapstructure:"llm"`
	ReportAI ReportAIConfig `mapstructure:"report_ai"`
	Clamd    ClamdConfig    `mapstructure:"clamd"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket"`
}

// LLMConfig 描述大模型供应商接入配置。
// provider 取值 deepseek 或 qwen，通用字段可被供应商专属字段覆盖。
type LLMConfig struct {
	Provider string            `mapstructure:"provider"`
	APIKey   string            `mapstructure:"api_key"`
	BaseURL  string            `mapstructure:"base_url"`
	Model    string            `mapstructure:"model"`
	Deepseek LLMProviderConfig `mapstructure:"deepseek"`
	Qwen     LLMProviderConfig `mapstructure:"qwen"`
}

// LLMProviderConfig 为单个供应商的覆盖配置。
type LLMProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// ReportAIConfig 控制报告生成是否使用 AI 润色。
type ReportAIConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ClamdConfig contains the optional virus-scanner address used on uploads.
type ClamdConfig struct {
	Addr string `mapstructure:"addr"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Resolve 返回当前 provider 的有效接入参数，供应商专属字段优先。
func (l LLMConfig) Resolve() (provider, apiKey, baseURL, model string) {
	provider = l.Provider
	apiKey, baseURL, model = l.APIKey, l.BaseURL, l.Model

	var override LLMProviderConfig
	switch provider {
	case "deepseek":
		override = l.Deepseek
	case "qwen":
		override = l.Qwen
	}
	if override.APIKey != "" {
		apiKey = override.APIKey
	}
	if override.BaseURL != "" {
		baseURL = override.BaseURL
	}
	if override.Model != "" {
		model = override.Model
	}
	return provider, apiKey, baseURL, model
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "aimian")
	v.SetDefault("database.user", "aimian")
	v.SetDefault("database.password", "aimian")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "resumes")
	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.deepseek.base_url", "https://api.deepseek.com")
	v.SetDefault("llm.deepseek.model", "deepseek-chat")
	v.SetDefault("llm.qwen.base_url", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	v.SetDefault("llm.qwen.model", "qwen-plus")
	v.SetDefault("report_ai.enabled", false)
	v.SetDefault("clamd.addr", "")
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                "API_PORT",
		"database.host":           "DATABASE_HOST",
		"database.port":           "DATABASE_PORT",
		"database.name":           "POSTGRES_DB",
		"database.user":           "POSTGRES_USER",
		"database.password":       "POSTGRES_PASSWORD",
		"database.sslmode":        "DATABASE_SSLMODE",
		"redis.host":              "REDIS_HOST",
		"redis.port":              "REDIS_PORT",
		"minio.endpoint":          "MINIO_ENDPOINT",
		"minio.access_key_id":     "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key": "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":           "MINIO_USE_SSL",
		"minio.bucket":            "MINIO_BUCKET",
		"llm.provider":            "LLM_PROVIDER",
		"llm.api_key":             "LLM_API_KEY",
		"llm.base_url":            "LLM_BASE_URL",
		"llm.model":               "LLM_MODEL",
		"llm.deepseek.api_key":    "LLM_DEEPSEEK_API_KEY",
		"llm.deepseek.base_url":   "LLM_DEEPSEEK_BASE_URL",
		"llm.deepseek.model":      "LLM_DEEPSEEK_MODEL",
		"llm.qwen.api_key":        "LLM_QWEN_API_KEY",
		"llm.qwen.base_url":       "LLM_QWEN_BASE_URL",
		"llm.qwen.model":          "LLM_QWEN_MODEL",
		"report_ai.enabled":       "REPORT_AI_ENABLED",
		"clamd.addr":              "CLAMD_ADDR",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	// LLM 配置允许为空：未配置时在调用点报上游错误，而不是阻止启动。
	switch cfg.LLM.Provider {
	case "", "deepseek", "qwen":
	default:
		return fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
	return nil
}
