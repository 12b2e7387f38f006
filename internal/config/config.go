// Package config provides configuration loading for InsureGuide.
//
// Configuration is resolved in layers: built-in defaults, an optional YAML
// file, then environment variables (a .env file is honoured). Command-line
// flags are applied last by the binary. The resulting Config is passed
// explicitly to every component that needs it.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/InsureGuide/internal/util"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete InsureGuide configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Cache     CacheConfig     `yaml:"cache"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Flow      FlowConfig      `yaml:"flow"`
	Store     StoreConfig     `yaml:"store"`
	API       APIConfig       `yaml:"api"`
	StateDir  string          `yaml:"state_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// LLMConfig configures the language model client.
type LLMConfig struct {
	APIKey  string `yaml:"-"`
	BaseURL string `yaml:"base_url"`
	// Model is the primary chat model.
	Model string `yaml:"model"`
	// BackupModel is used by rate-limit and timeout recovery.
	BackupModel string  `yaml:"backup_model"`
	Temperature float64 `yaml:"temperature"`
	// RecoveryTemperature is used when retrying a low-confidence result.
	RecoveryTemperature float64       `yaml:"recovery_temperature"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	// AggregateModels, when set, generate the final recommendation in parallel
	// and merge the answers with an aggregation prompt.
	AggregateModels []string `yaml:"aggregate_models"`
	EmbeddingModel  string   `yaml:"embedding_model"`
	// MaxPromptTokens bounds the simplified prompt used after a timeout.
	MaxPromptTokens int `yaml:"max_prompt_tokens"`
}

// CacheConfig configures the LLM response cache.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Size      int           `yaml:"size"`
	TTL       time.Duration `yaml:"ttl"`
	RedisAddr string        `yaml:"redis_addr"`
}

// RetrievalConfig configures the policy document stores.
type RetrievalConfig struct {
	// Backend is "chromem" or "pgvector".
	Backend            string `yaml:"backend"`
	PersistPath        string `yaml:"persist_path"`
	PostgresDSN        string `yaml:"postgres_dsn"`
	PolicyCollection   string `yaml:"policy_collection"`
	SummaryCollection  string `yaml:"summary_collection"`
	TopK               int    `yaml:"top_k"`
	RerankTopN         int    `yaml:"rerank_top_n"`
	RerankConcurrency  int    `yaml:"rerank_concurrency"`
	ChunkTokens        int    `yaml:"chunk_tokens"`
	ChunkOverlapTokens int    `yaml:"chunk_overlap_tokens"`
	// RerankTimeout bounds reranking; on expiry the search order is kept.
	RerankTimeout time.Duration `yaml:"rerank_timeout"`
	// WebSearchModel is a search-enabled chat model used when the policy
	// documents cannot answer a question.
	WebSearchModel string `yaml:"web_search_model"`
}

// FlowConfig bounds the conversation engine.
type FlowConfig struct {
	// MaxReasks is how many invalid replies one field tolerates before the
	// user is sent back to the main menu.
	MaxReasks int `yaml:"max_reasks"`
	// MaxIterations caps synchronous transitions within one turn.
	MaxIterations int           `yaml:"max_iterations"`
	TurnTimeout   time.Duration `yaml:"turn_timeout"`
	// ConfidenceThreshold is the lowest accepted intent confidence.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// ConflictMargin is the confidence gap under which two intents conflict.
	ConflictMargin float64 `yaml:"conflict_margin"`
	MaxCompare     int     `yaml:"max_compare"`
	// Precheck enables the LLM reply pre-check at onboarding and preference prompts.
	Precheck bool `yaml:"precheck"`
	// ExtractionTimeout bounds the background profile extraction.
	ExtractionTimeout time.Duration `yaml:"extraction_timeout"`
	// RateLimitBackoff is the wait before each backup-model attempt.
	RateLimitBackoff []time.Duration `yaml:"rate_limit_backoff"`
	// SessionTTL is how long an untouched session is kept. Zero keeps
	// sessions forever.
	SessionTTL time.Duration `yaml:"session_ttl"`
	// SweepSchedule is the cron expression of the idle session sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
	// JobPollInterval is how often queued background jobs are picked up.
	JobPollInterval time.Duration `yaml:"job_poll_interval"`
}

// StoreConfig configures session persistence.
type StoreConfig struct {
	// DSN is a Postgres URL or an SQLite file path. Empty keeps sessions in memory.
	DSN string `yaml:"dsn"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:               "gpt-4o-mini",
			BackupModel:         "gpt-4o",
			Temperature:         0.2,
			RecoveryTemperature: 0.4,
			RequestTimeout:      60 * time.Second,
			EmbeddingModel:      "text-embedding-3-small",
			MaxPromptTokens:     1024,
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    512,
			TTL:     30 * time.Minute,
		},
		Retrieval: RetrievalConfig{
			Backend:            "chromem",
			PolicyCollection:   "policies",
			SummaryCollection:  "policy_summaries",
			TopK:               5,
			RerankTopN:         2,
			RerankConcurrency:  4,
			ChunkTokens:        800,
			ChunkOverlapTokens: 100,
			RerankTimeout:      20 * time.Second,
			WebSearchModel:     "gpt-4o-mini-search-preview",
		},
		Flow: FlowConfig{
			MaxReasks:           5,
			MaxIterations:       50,
			TurnTimeout:         300 * time.Second,
			ConfidenceThreshold: 0.5,
			ConflictMargin:      0.1,
			MaxCompare:          5,
			Precheck:            true,
			ExtractionTimeout:   60 * time.Second,
			RateLimitBackoff:    []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
			SessionTTL:          7 * 24 * time.Hour,
			SweepSchedule:       "@every 1h",
			JobPollInterval:     2 * time.Second,
		},
		API: APIConfig{
			Addr: ":8080",
		},
		StateDir: "/var/lib/insureguide",
		LogLevel: "info",
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if c.LLM.RecoveryTemperature < 0 || c.LLM.RecoveryTemperature > 2 {
		return fmt.Errorf("llm.recovery_temperature must be between 0 and 2")
	}
	if c.LLM.MaxPromptTokens <= 0 {
		return fmt.Errorf("llm.max_prompt_tokens must be positive")
	}
	switch c.Retrieval.Backend {
	case "chromem":
	case "pgvector":
		if c.Retrieval.PostgresDSN == "" {
			return fmt.Errorf("retrieval.postgres_dsn is required for the pgvector backend")
		}
	default:
		return fmt.Errorf("retrieval.backend must be chromem or pgvector, got %q", c.Retrieval.Backend)
	}
	if c.Retrieval.TopK <= 0 || c.Retrieval.RerankTopN <= 0 {
		return fmt.Errorf("retrieval.top_k and retrieval.rerank_top_n must be positive")
	}
	if c.Retrieval.ChunkOverlapTokens >= c.Retrieval.ChunkTokens {
		return fmt.Errorf("retrieval.chunk_overlap_tokens must be smaller than retrieval.chunk_tokens")
	}
	if c.Flow.MaxReasks <= 0 {
		return fmt.Errorf("flow.max_reasks must be positive")
	}
	if c.Flow.MaxIterations <= 0 {
		return fmt.Errorf("flow.max_iterations must be positive")
	}
	if c.Flow.TurnTimeout <= 0 {
		return fmt.Errorf("flow.turn_timeout must be positive")
	}
	if c.Flow.ConfidenceThreshold < 0 || c.Flow.ConfidenceThreshold > 1 {
		return fmt.Errorf("flow.confidence_threshold must be between 0 and 1")
	}
	if c.Flow.MaxCompare < 1 {
		return fmt.Errorf("flow.max_compare must be at least 1")
	}
	if c.Flow.SessionTTL < 0 {
		return fmt.Errorf("flow.session_ttl must not be negative")
	}
	if c.Flow.SessionTTL > 0 && c.Flow.SweepSchedule == "" {
		return fmt.Errorf("flow.sweep_schedule is required when flow.session_ttl is set")
	}
	if c.Flow.JobPollInterval <= 0 {
		return fmt.Errorf("flow.job_poll_interval must be positive")
	}
	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return fmt.Errorf("cache.size must be positive when the cache is enabled")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Load resolves the configuration from defaults, the optional YAML file at
// path and the environment.
func Load(path string) (*Config, error) {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		slog.Debug("config.Load: no .env file loaded", "error", err)
	}

	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		slog.Debug("config.Load: config file applied", "path", path)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides configuration values from environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	setString(&c.LLM.BaseURL, "OPENAI_BASE_URL")
	setString(&c.LLM.Model, "INSUREGUIDE_MODEL")
	setString(&c.LLM.BackupModel, "INSUREGUIDE_BACKUP_MODEL")
	if v := os.Getenv("INSUREGUIDE_AGGREGATE_MODELS"); v != "" {
		c.LLM.AggregateModels = splitList(v)
	}
	if v, ok := util.ParseFloatEnv("INSUREGUIDE_TEMPERATURE"); ok {
		c.LLM.Temperature = v
	}
	if v, ok := util.ParseDurationEnv("INSUREGUIDE_LLM_TIMEOUT"); ok {
		c.LLM.RequestTimeout = v
	}

	c.Cache.Enabled = util.ParseBoolEnv("INSUREGUIDE_CACHE_ENABLED", c.Cache.Enabled)
	setString(&c.Cache.RedisAddr, "INSUREGUIDE_REDIS_ADDR")

	setString(&c.Retrieval.Backend, "INSUREGUIDE_RETRIEVAL_BACKEND")
	setString(&c.Retrieval.PersistPath, "INSUREGUIDE_VECTOR_PATH")
	setString(&c.Retrieval.PostgresDSN, "INSUREGUIDE_VECTOR_DSN")
	setString(&c.Retrieval.WebSearchModel, "INSUREGUIDE_WEB_SEARCH_MODEL")

	if v, ok := util.ParseIntEnv("INSUREGUIDE_MAX_REASKS"); ok {
		c.Flow.MaxReasks = v
	}
	if v, ok := util.ParseDurationEnv("INSUREGUIDE_TURN_TIMEOUT"); ok {
		c.Flow.TurnTimeout = v
	}
	c.Flow.Precheck = util.ParseBoolEnv("INSUREGUIDE_PRECHECK", c.Flow.Precheck)
	if v, ok := util.ParseDurationEnv("INSUREGUIDE_SESSION_TTL"); ok {
		c.Flow.SessionTTL = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DSN = v
	}
	setString(&c.Store.DSN, "INSUREGUIDE_DB_DSN")
	setString(&c.API.Addr, "INSUREGUIDE_ADDR")
	setString(&c.StateDir, "INSUREGUIDE_STATE_DIR")
	setString(&c.LogLevel, "INSUREGUIDE_LOG_LEVEL")
}

// SlogLevel maps the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
