// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.inkwell/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider selection, chat model, embedder model
//   - Storage: PostgreSQL connection
//   - Retrieval: chunking, similarity floor, top-k
//   - Pipeline: worker pool, retries, raw input retention
//   - Queue: NATS connection
//   - Server: listen address, CORS
//
// Sensitive data (the PostgreSQL password) is never logged; see MarshalJSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidChunking indicates the chunk size or overlap is out of range.
	ErrInvalidChunking = errors.New("invalid chunking")

	// ErrInvalidRetrieval indicates the similarity floor or top-k is out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval")

	// ErrInvalidHistory indicates the history window limits are out of range.
	ErrInvalidHistory = errors.New("invalid history window")

	// ErrInvalidPipeline indicates the pipeline worker or retry settings are out of range.
	ErrInvalidPipeline = errors.New("invalid pipeline")

	// ErrInvalidPostgres indicates the PostgreSQL settings are invalid.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")

	// ErrInvalidNATSURL indicates the NATS URL is invalid.
	ErrInvalidNATSURL = errors.New("invalid NATS URL")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidListenAddr indicates the server listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

const (
	// DefaultGeminiModel is the default Gemini chat model.
	DefaultGeminiModel = "gemini-2.5-flash"

	// DefaultGeminiEmbedderModel outputs 3072 dimensions by default but
	// supports truncation to 768 via OutputDimensionality. The pgvector
	// schema uses 768; see embed.VectorDimension.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultOllamaModel is the default Ollama chat model.
	DefaultOllamaModel = "llama3.3"

	// DefaultOllamaEmbedderModel is the default Ollama embedder model.
	DefaultOllamaEmbedderModel = "nomic-embed-text"
)

// Config stores application configuration.
// Sensitive fields are explicitly masked in MarshalJSON; when adding a
// new secret field, update that method.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"` // "gemini" (default) or "ollama"
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Chunking configuration
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Retrieval configuration
	SimilarityFloor float64 `mapstructure:"similarity_floor" json:"similarity_floor"`
	RetrievalTopK   int     `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`

	// Conversation history window
	HistoryMaxTurns int `mapstructure:"history_max_turns" json:"history_max_turns"`
	HistoryMaxChars int `mapstructure:"history_max_chars" json:"history_max_chars"`

	// Async pipeline configuration. ResumableJobKinds lists the job
	// kinds the startup recovery sweep may re-enqueue; stranded jobs
	// of any other kind are marked failed.
	PipelineWorkers    int      `mapstructure:"pipeline_workers" json:"pipeline_workers"`
	PipelineMaxRetries int      `mapstructure:"pipeline_max_retries" json:"pipeline_max_retries"`
	RetainRawPages     bool     `mapstructure:"retain_raw_pages" json:"retain_raw_pages"`
	ResumableJobKinds  []string `mapstructure:"resumable_job_kinds" json:"resumable_job_kinds"`

	// Queue configuration
	NATSURL string `mapstructure:"nats_url" json:"nats_url"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Server configuration (serve mode only)
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".inkwell")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, the defaults carry.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when set, wins over the individual postgres_* keys.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", DefaultGeminiModel)
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)

	viper.SetDefault("ollama_host", "http://localhost:11434")

	viper.SetDefault("chunk_size", 1000)
	viper.SetDefault("chunk_overlap", 150)

	viper.SetDefault("similarity_floor", 0.3)
	viper.SetDefault("retrieval_top_k", 5)

	viper.SetDefault("history_max_turns", 20)
	viper.SetDefault("history_max_chars", 8000)

	viper.SetDefault("pipeline_workers", 4)
	viper.SetDefault("pipeline_max_retries", 3)
	viper.SetDefault("retain_raw_pages", true)
	viper.SetDefault("resumable_job_kinds", []string{"content"})

	viper.SetDefault("nats_url", "nats://localhost:4222")

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "inkwell")
	viper.SetDefault("postgres_password", "inkwell_dev_password")
	viper.SetDefault("postgres_db_name", "inkwell")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via Viper; Validate
// only checks its presence when the provider needs it.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "INKWELL_PROVIDER")
	mustBind("model_name", "INKWELL_MODEL_NAME")
	mustBind("embedder_model", "INKWELL_EMBEDDER_MODEL")
	mustBind("ollama_host", "INKWELL_OLLAMA_HOST")
	mustBind("nats_url", "INKWELL_NATS_URL")
	mustBind("listen_addr", "INKWELL_LISTEN_ADDR")
	mustBind("cors_origins", "INKWELL_CORS_ORIGINS")
	mustBind("retain_raw_pages", "INKWELL_RETAIN_RAW_PAGES")
	mustBind("resumable_job_kinds", "INKWELL_RESUMABLE_JOB_KINDS")
}

// parseDatabaseURL overrides the postgres_* fields from DATABASE_URL
// when it is set.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if port := u.Port(); port != "" {
		if _, err := fmt.Sscanf(port, "%d", &c.PostgresPort); err != nil {
			return fmt.Errorf("parse port %q: %w", port, err)
		}
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		c.PostgresDBName = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// PostgresURL returns the connection URL for pgx.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost, c.PostgresPort, c.PostgresDBName, c.PostgresSSLMode)
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8
// characters or fewer are fully masked; longer ones keep the first and
// last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3".
// A ModelName that already contains "/" is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	if c.Provider == ProviderOllama {
		return ProviderOllama + "/" + c.ModelName
	}
	return "googleai/" + c.ModelName
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
