package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Provider  ProviderConfig  `yaml:"provider"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Log       LogConfig       `yaml:"log"`
	APIKey    string          `yaml:"api_key" env:"LINGUACHAT_API_KEY"` // 可选，为空则不验证
}

type ServerConfig struct {
	Port int    `yaml:"port" env:"PORT"`
	Mode string `yaml:"mode" env:"GIN_MODE"` // debug/test/release
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"DATABASE_PATH"`
}

type WebSocketConfig struct {
	PingInterval int `yaml:"ping_interval"`
	PongTimeout  int `yaml:"pong_timeout"`
}

// ProviderConfig 模型服务配置，密钥通常只通过环境变量注入
type ProviderConfig struct {
	APIKey      string  `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL     string  `yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model       string  `yaml:"model" env:"OPENAI_MODEL"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     int     `yaml:"timeout"` // 秒
	MaxRetries  int     `yaml:"max_retries"`
}

type RateLimitConfig struct {
	MaxRequests   int `yaml:"max_requests"`
	Window        int `yaml:"window"`         // 秒
	SweepInterval int `yaml:"sweep_interval"` // 秒

	// memory/redis
	Backend   string `yaml:"backend" env:"RATE_LIMIT_BACKEND"`
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"APP_URL" envSeparator:","`
}

type LogConfig struct {
	Mode string `yaml:"mode" env:"LOG_MODE"` // development/production
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 6543, Mode: "release"},
		Database: DatabaseConfig{Path: "./data.db"},
		WebSocket: WebSocketConfig{
			PingInterval: 30,
			PongTimeout:  10,
		},
		Provider: ProviderConfig{
			Model:       "gpt-4-turbo-preview",
			Temperature: 0.7,
			MaxTokens:   500,
			Timeout:     60,
			MaxRetries:  2,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   10,
			Window:        60,
			SweepInterval: 300,
			Backend:       "memory",
		},
		CORS: CORSConfig{AllowedOrigins: []string{"*"}},
		Log:  LogConfig{Mode: "production"},
	}
}

// Load 从文件加载配置，以默认值为基础覆盖，最后叠加环境变量。
// path 为空时只使用默认值和环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.RedisAddr == "" {
			return fmt.Errorf("rate_limit.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown rate_limit.backend %q", c.RateLimit.Backend)
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive")
	}
	return nil
}

func (r RateLimitConfig) WindowDuration() time.Duration {
	return time.Duration(r.Window) * time.Second
}

func (r RateLimitConfig) SweepDuration() time.Duration {
	if r.SweepInterval <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(r.SweepInterval) * time.Second
}

func (p ProviderConfig) TimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}
