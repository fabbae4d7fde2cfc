// Package config loads runtime configuration from defaults, an optional
// config file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Addr           string
	DatabaseDSN    string
	RequestTimeout time.Duration

	Embed EmbedConfig
	Chat  ChatConfig
	Cache CacheConfig

	Related SearchConfig
	Search  SearchConfig

	PreviewLength     int
	DisplayDateLayout string
	PersistTimeout    time.Duration

	LogLevel  string
	LogFormat string
}

type EmbedConfig struct {
	Provider   string
	APIBase    string
	APIKey     string
	Model      string
	Dimensions int
	// QueryCacheSize bounds the in-process memo of query embeddings; 0 disables it.
	QueryCacheSize int
}

type ChatConfig struct {
	Provider    string
	APIBase     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type CacheConfig struct {
	Backend       string // memory | redis
	TTL           time.Duration
	SweepInterval time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type SearchConfig struct {
	TopK        int
	MaxDistance float64
}

var defaults = map[string]any{
	"addr":                   ":8000",
	"database_dsn":           "data/memox.db",
	"request_timeout":        "120s",
	"embed_provider":         "openai",
	"embed_api_base":         "https://api.siliconflow.cn/v1",
	"embed_api_key":          "",
	"embed_model":            "Qwen/Qwen3-Embedding-4B",
	"embed_dimensions":       2560,
	"query_embed_cache_size": 256,
	"chat_provider":          "openai",
	"chat_api_base":          "https://api.siliconflow.cn/v1",
	"chat_api_key":           "",
	"chat_model":             "deepseek-ai/DeepSeek-V3",
	"answer_max_tokens":      1024,
	"answer_temperature":     0.3,
	"ollama_url":             "http://localhost:11434",
	"cache_backend":          "memory",
	"cache_ttl":              "24h",
	"cache_sweep_interval":   "10m",
	"redis_addr":             "localhost:6379",
	"redis_password":         "",
	"redis_db":               0,
	"related_top_k":          10,
	"related_max_distance":   0.5,
	"search_top_k":           30,
	"search_max_distance":    0.4,
	"preview_length":         150,
	"display_date_layout":    "2006-01-02 15:04",
	"persist_timeout":        "10s",
	"log_level":              "info",
	"log_format":             "text",
}

// Load reads configuration. path may be empty; when set, the file must exist.
// Environment variables use the upper-case key names (EMBED_MODEL, ...).
func Load(path string) (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", k, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) Config {
	embedBase := v.GetString("embed_api_base")
	if v.GetString("embed_provider") == "ollama" {
		embedBase = v.GetString("ollama_url")
	}
	chatBase := v.GetString("chat_api_base")
	if v.GetString("chat_provider") == "ollama" {
		chatBase = strings.TrimSuffix(v.GetString("ollama_url"), "/") + "/v1"
	}

	return Config{
		Addr:           v.GetString("addr"),
		DatabaseDSN:    v.GetString("database_dsn"),
		RequestTimeout: v.GetDuration("request_timeout"),
		Embed: EmbedConfig{
			Provider:       v.GetString("embed_provider"),
			APIBase:        embedBase,
			APIKey:         v.GetString("embed_api_key"),
			Model:          v.GetString("embed_model"),
			Dimensions:     v.GetInt("embed_dimensions"),
			QueryCacheSize: v.GetInt("query_embed_cache_size"),
		},
		Chat: ChatConfig{
			Provider:    v.GetString("chat_provider"),
			APIBase:     chatBase,
			APIKey:      v.GetString("chat_api_key"),
			Model:       v.GetString("chat_model"),
			MaxTokens:   v.GetInt("answer_max_tokens"),
			Temperature: v.GetFloat64("answer_temperature"),
		},
		Cache: CacheConfig{
			Backend:       v.GetString("cache_backend"),
			TTL:           v.GetDuration("cache_ttl"),
			SweepInterval: v.GetDuration("cache_sweep_interval"),
			RedisAddr:     v.GetString("redis_addr"),
			RedisPassword: v.GetString("redis_password"),
			RedisDB:       v.GetInt("redis_db"),
		},
		Related: SearchConfig{
			TopK:        v.GetInt("related_top_k"),
			MaxDistance: v.GetFloat64("related_max_distance"),
		},
		Search: SearchConfig{
			TopK:        v.GetInt("search_top_k"),
			MaxDistance: v.GetFloat64("search_max_distance"),
		},
		PreviewLength:     v.GetInt("preview_length"),
		DisplayDateLayout: v.GetString("display_date_layout"),
		PersistTimeout:    v.GetDuration("persist_timeout"),
		LogLevel:          v.GetString("log_level"),
		LogFormat:         v.GetString("log_format"),
	}
}

// Validate rejects values the retrieval core cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Embed.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("embed_dimensions must be positive, got %d", c.Embed.Dimensions))
	}
	for name, s := range map[string]SearchConfig{"related": c.Related, "search": c.Search} {
		if s.TopK <= 0 {
			errs = append(errs, fmt.Errorf("%s_top_k must be positive, got %d", name, s.TopK))
		}
		if s.MaxDistance <= 0 {
			errs = append(errs, fmt.Errorf("%s_max_distance must be positive, got %v", name, s.MaxDistance))
		}
	}
	if c.Chat.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("answer_max_tokens must not be negative, got %d", c.Chat.MaxTokens))
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		errs = append(errs, fmt.Errorf("answer_temperature must be within [0, 2], got %v", c.Chat.Temperature))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache_ttl must be positive, got %s", c.Cache.TTL))
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache_backend must be memory or redis, got %q", c.Cache.Backend))
	}
	return errors.Join(errs...)
}
