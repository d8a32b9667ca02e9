// Package config loads process-wide configuration from an optional YAML file
// layered under environment variables, and wires up logging.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values. Credentials are read once here and
// handed to adapter constructors; adapters never touch the environment.
type Config struct {
	// Provider credentials
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	TogetherAPIKey  string `yaml:"together_api_key"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	AWSRegion       string `yaml:"aws_region"`

	// Local daemon endpoints
	OllamaHost  string `yaml:"ollama_host"`
	VLLMBaseURL string `yaml:"vllm_base_url"`
	VLLMAPIKey  string `yaml:"vllm_api_key"`

	// In-process model
	LocalModelPath   string `yaml:"local_model_path"`
	LocalContextSize int    `yaml:"local_context_size"`
	LocalGPULayers   int    `yaml:"local_gpu_layers"`

	// Generation defaults
	DefaultModel string  `yaml:"default_model"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	Seed         int     `yaml:"seed"`

	// Retry policy for transient provider failures
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryInitialWait time.Duration `yaml:"retry_initial_wait"`
	RetryMaxWait     time.Duration `yaml:"retry_max_wait"`
	RetryMultiplier  float64       `yaml:"retry_multiplier"`

	// Conversation store (optional)
	StoreEnabled       bool   `yaml:"store_enabled"`
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`

	// Server
	ServerPort string `yaml:"server_port"`

	// Logging
	LogFile string `yaml:"log_file"`

	// LogLevelName is the textual level from file/env, parsed into LogLevel.
	LogLevelName string     `yaml:"log_level"`
	LogLevel     slog.Level `yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		OllamaHost:  "http://localhost:11434",
		VLLMBaseURL: "http://localhost:8001/v1",

		LocalContextSize: 4096,

		DefaultModel: "openai:gpt-4o",
		MaxTokens:    1024,

		RetryMaxAttempts: 3,
		RetryInitialWait: 2 * time.Second,
		RetryMaxWait:     30 * time.Second,
		RetryMultiplier:  2.0,

		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "parley",
		SurrealDBDatabase:  "chat",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",

		ServerPort: "8585",

		LogFile:      "/tmp/parley.log",
		LogLevelName: "INFO",
		LogLevel:     slog.LevelInfo,
	}
}

// Load reads configuration: defaults, then the YAML file (if present), then
// environment variables. Env wins over file, file wins over defaults.
func Load() (Config, error) {
	return load(configFilePath())
}

func load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	return cfg, nil
}

// configFilePath returns the config file location: PARLEY_CONFIG override or
// ~/.config/parley/config.yaml.
func configFilePath() string {
	if p := os.Getenv("PARLEY_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "parley", "config.yaml")
}

func (c *Config) applyEnv() {
	setStr(&c.OpenAIAPIKey, "OPENAI_API_KEY")
	setStr(&c.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setStr(&c.TogetherAPIKey, "TOGETHER_API_KEY")
	setStr(&c.GeminiAPIKey, "GEMINI_API_KEY")
	setStr(&c.AWSRegion, "AWS_REGION")

	setStr(&c.OllamaHost, "OLLAMA_HOST")
	setStr(&c.VLLMBaseURL, "PARLEY_VLLM_BASE_URL")
	setStr(&c.VLLMAPIKey, "PARLEY_VLLM_API_KEY")

	setStr(&c.LocalModelPath, "PARLEY_LOCAL_MODEL_PATH")
	setInt(&c.LocalContextSize, "PARLEY_LOCAL_CONTEXT_SIZE")
	setInt(&c.LocalGPULayers, "PARLEY_LOCAL_GPU_LAYERS")

	setStr(&c.DefaultModel, "PARLEY_MODEL")
	setFloat(&c.Temperature, "PARLEY_TEMPERATURE")
	setInt(&c.MaxTokens, "PARLEY_MAX_TOKENS")
	setInt(&c.Seed, "PARLEY_SEED")

	setInt(&c.RetryMaxAttempts, "PARLEY_RETRY_MAX_ATTEMPTS")
	setDuration(&c.RetryInitialWait, "PARLEY_RETRY_INITIAL_WAIT")
	setDuration(&c.RetryMaxWait, "PARLEY_RETRY_MAX_WAIT")

	setBool(&c.StoreEnabled, "PARLEY_STORE_ENABLED")
	setStr(&c.SurrealDBURL, "SURREALDB_URL")
	setStr(&c.SurrealDBNamespace, "SURREALDB_NAMESPACE")
	setStr(&c.SurrealDBDatabase, "SURREALDB_DATABASE")
	setStr(&c.SurrealDBUser, "SURREALDB_USER")
	setStr(&c.SurrealDBPass, "SURREALDB_PASS")

	setStr(&c.ServerPort, "PARLEY_SERVER_PORT")

	setStr(&c.LogFile, "PARLEY_LOG_FILE")
	setStr(&c.LogLevelName, "PARLEY_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val == "true" || val == "1"
	}
}

func setDuration(dst *time.Duration, key string) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
