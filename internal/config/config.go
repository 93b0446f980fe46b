package config

import (
	"fmt"
	"time"
)

// Config is the root configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server" json:"server"`
	LLM     LLMConfig     `mapstructure:"llm" json:"llm"`
	Redis   RedisConfig   `mapstructure:"redis" json:"redis"`
	Tools   ToolsConfig   `mapstructure:"tools" json:"tools"`
	Agent   AgentConfig   `mapstructure:"agent" json:"agent"`
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
}

// ServerConfig holds API server settings
type ServerConfig struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// LLMConfig holds model provider settings
type LLMConfig struct {
	Provider    string  `mapstructure:"provider" json:"provider"`
	Model       string  `mapstructure:"model" json:"model"`
	APIKey      string  `mapstructure:"api_key" json:"api_key"`
	Temperature float64 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`
}

// RedisConfig holds the key-value store settings. An empty addr disables
// Redis; caching and rate limiting then degrade to no-ops.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"password"`
	DB       int    `mapstructure:"db" json:"db"`
}

// ToolsConfig holds tool-server settings
type ToolsConfig struct {
	ServerURL       string `mapstructure:"server_url" json:"server_url"`
	CallTimeoutSecs int    `mapstructure:"call_timeout_secs" json:"call_timeout_secs"`
	RefreshSchedule string `mapstructure:"refresh_schedule" json:"refresh_schedule"`
}

// AgentConfig holds orchestrator loop settings
type AgentConfig struct {
	MaxRounds        int `mapstructure:"max_rounds" json:"max_rounds"`
	ModelTimeoutSecs int `mapstructure:"model_timeout_secs" json:"model_timeout_secs"`
	CacheTTLSecs     int `mapstructure:"cache_ttl_secs" json:"cache_ttl_secs"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level   string `mapstructure:"level" json:"level"`
	File    string `mapstructure:"file" json:"file"`
	Console bool   `mapstructure:"console" json:"console"`
	Pretty  bool   `mapstructure:"pretty" json:"pretty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			Temperature: 0.2,
			MaxTokens:   4096,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Tools: ToolsConfig{
			ServerURL:       "http://localhost:9000/mcp",
			CallTimeoutSecs: 15,
			RefreshSchedule: "@every 5m",
		},
		Agent: AgentConfig{
			MaxRounds:        10,
			ModelTimeoutSecs: 30,
			CacheTTLSecs:     300,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}

// Validate checks the configuration for fatal problems. A missing LLM API
// key is the one error that must stop startup; everything else degrades.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (set MINERVA_LLM_API_KEY)")
	}
	if c.LLM.Provider != "openai" && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported llm.provider: %s", c.LLM.Provider)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	return nil
}

// CallTimeout returns the tool call timeout as a duration.
func (c *ToolsConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

// ModelTimeout returns the model call timeout as a duration.
func (c *AgentConfig) ModelTimeout() time.Duration {
	return time.Duration(c.ModelTimeoutSecs) * time.Second
}

// CacheTTL returns the tool result cache TTL as a duration.
func (c *AgentConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}
