// ABOUTME: Centralized configuration for the chatlake pipeline
// ABOUTME: Defaults, then an optional YAML file, then environment variables, then validation
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider kinds
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Similarity methods
const (
	SimilarityEmbedding = "embedding"
	SimilarityLexical   = "lexical"
)

// Config holds all configuration for the pipeline
type Config struct {
	// Storage settings
	DataDir         string `yaml:"data_dir"`
	DBPath          string `yaml:"db_path"`
	InlineThreshold int64  `yaml:"inline_threshold"`

	// Provider settings
	Provider       string        `yaml:"provider"`
	BaseURL        string        `yaml:"base_url"`
	OpenAIKey      string        `yaml:"-"`
	ChatModel      string        `yaml:"chat_model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxEmbedTokens int           `yaml:"max_embed_tokens"`

	// Ingestion settings
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleBatchAfter   time.Duration `yaml:"stale_batch_after"`

	// Segmentation settings
	SegmentWindow          int     `yaml:"segment_window"`
	SegmentThreshold       float64 `yaml:"segment_threshold"`
	MinSegmentMessages     int     `yaml:"min_segment_messages"`
	MaxSegmentMessages     int     `yaml:"max_segment_messages"`
	MinSubstantiveMessages int     `yaml:"min_substantive_messages"`
	MinConversationChars   int     `yaml:"min_conversation_chars"`

	// Embedding cache settings
	CheckpointSize int `yaml:"checkpoint_size"`

	// Clustering settings
	ProjectionDims      int     `yaml:"projection_dims"`
	ProjectionNeighbors int     `yaml:"projection_neighbors"`
	MinClusterSize      int     `yaml:"min_cluster_size"`
	MinSamples          int     `yaml:"min_samples"`
	ClusterSeed         uint64  `yaml:"cluster_seed"`
	AutoAcceptThreshold float64 `yaml:"auto_accept_threshold"`
	LLMNaming           bool    `yaml:"llm_naming"`

	// Similarity settings
	SimilarityMethod    string  `yaml:"similarity_method"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	SimilarityTopK      int     `yaml:"similarity_top_k"`

	// Drift settings
	DriftWindow           time.Duration `yaml:"drift_window"`
	DriftLookback         time.Duration `yaml:"drift_lookback"`
	DriftMinConversations int           `yaml:"drift_min_conversations"`

	// Observability settings
	LogMode     string `yaml:"log_mode"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns a Config populated with built-in defaults only.
func Defaults() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		DataDir:         dataDir,
		DBPath:          filepath.Join(dataDir, "chatlake.db"),
		InlineThreshold: 64 * 1024,

		Provider:       ProviderOpenAI,
		ChatModel:      "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		RetryDelay:     2 * time.Second,
		MaxEmbedTokens: 2048,

		HeartbeatInterval: 10 * time.Second,
		StaleBatchAfter:   time.Hour,

		SegmentWindow:          4,
		SegmentThreshold:       0.55,
		MinSegmentMessages:     3,
		MaxSegmentMessages:     50,
		MinSubstantiveMessages: 4,
		MinConversationChars:   120,

		CheckpointSize: 50,

		ProjectionDims:      15,
		ProjectionNeighbors: 15,
		MinClusterSize:      5,
		MinSamples:          5,
		ClusterSeed:         42,
		AutoAcceptThreshold: 0,

		SimilarityMethod:    SimilarityEmbedding,
		SimilarityThreshold: 0.5,
		SimilarityTopK:      10,

		DriftWindow:           30 * 24 * time.Hour,
		DriftLookback:         365 * 24 * time.Hour,
		DriftMinConversations: 3,

		LogMode:  "dev",
		LogLevel: "info",
	}
}

// Load reads configuration: defaults, then the YAML file named by
// CHATLAKE_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CHATLAKE_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	return cfg, cfg.Validate()
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("CHATLAKE_DATA_DIR", c.DataDir)
	if os.Getenv("CHATLAKE_DATA_DIR") != "" && os.Getenv("CHATLAKE_DB") == "" {
		c.DBPath = filepath.Join(c.DataDir, "chatlake.db")
	}
	c.DBPath = getEnv("CHATLAKE_DB", c.DBPath)
	c.InlineThreshold = int64(getEnvInt("CHATLAKE_INLINE_THRESHOLD", int(c.InlineThreshold)))

	c.Provider = getEnv("CHATLAKE_PROVIDER", c.Provider)
	c.BaseURL = getEnv("CHATLAKE_PROVIDER_URL", c.BaseURL)
	c.OpenAIKey = getEnv("OPENAI_API_KEY", c.OpenAIKey)
	c.ChatModel = getEnv("CHATLAKE_CHAT_MODEL", c.ChatModel)
	c.EmbeddingModel = getEnv("CHATLAKE_EMBEDDING_MODEL", c.EmbeddingModel)
	c.Timeout = getEnvDuration("CHATLAKE_PROVIDER_TIMEOUT", c.Timeout)
	c.MaxRetries = getEnvInt("CHATLAKE_MAX_RETRIES", c.MaxRetries)
	c.RetryDelay = getEnvDuration("CHATLAKE_RETRY_DELAY", c.RetryDelay)
	c.MaxEmbedTokens = getEnvInt("CHATLAKE_MAX_EMBED_TOKENS", c.MaxEmbedTokens)

	c.HeartbeatInterval = getEnvDuration("CHATLAKE_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.StaleBatchAfter = getEnvDuration("CHATLAKE_STALE_BATCH_AFTER", c.StaleBatchAfter)

	c.SegmentWindow = getEnvInt("CHATLAKE_SEGMENT_WINDOW", c.SegmentWindow)
	c.SegmentThreshold = getEnvFloat("CHATLAKE_SEGMENT_THRESHOLD", c.SegmentThreshold)
	c.MinSegmentMessages = getEnvInt("CHATLAKE_MIN_SEGMENT_MESSAGES", c.MinSegmentMessages)
	c.MaxSegmentMessages = getEnvInt("CHATLAKE_MAX_SEGMENT_MESSAGES", c.MaxSegmentMessages)
	c.MinSubstantiveMessages = getEnvInt("CHATLAKE_MIN_SUBSTANTIVE_MESSAGES", c.MinSubstantiveMessages)
	c.MinConversationChars = getEnvInt("CHATLAKE_MIN_CONVERSATION_CHARS", c.MinConversationChars)

	c.CheckpointSize = getEnvInt("CHATLAKE_CHECKPOINT_SIZE", c.CheckpointSize)

	c.ProjectionDims = getEnvInt("CHATLAKE_PROJECTION_DIMS", c.ProjectionDims)
	c.ProjectionNeighbors = getEnvInt("CHATLAKE_PROJECTION_NEIGHBORS", c.ProjectionNeighbors)
	c.MinClusterSize = getEnvInt("CHATLAKE_MIN_CLUSTER_SIZE", c.MinClusterSize)
	c.MinSamples = getEnvInt("CHATLAKE_MIN_SAMPLES", c.MinSamples)
	c.ClusterSeed = uint64(getEnvInt("CHATLAKE_CLUSTER_SEED", int(c.ClusterSeed)))
	c.AutoAcceptThreshold = getEnvFloat("CHATLAKE_AUTO_ACCEPT_THRESHOLD", c.AutoAcceptThreshold)
	c.LLMNaming = getEnvBool("CHATLAKE_LLM_NAMING", c.LLMNaming)

	c.SimilarityMethod = getEnv("CHATLAKE_SIMILARITY_METHOD", c.SimilarityMethod)
	c.SimilarityThreshold = getEnvFloat("CHATLAKE_SIMILARITY_THRESHOLD", c.SimilarityThreshold)
	c.SimilarityTopK = getEnvInt("CHATLAKE_SIMILARITY_TOP_K", c.SimilarityTopK)

	c.DriftWindow = getEnvDuration("CHATLAKE_DRIFT_WINDOW", c.DriftWindow)
	c.DriftLookback = getEnvDuration("CHATLAKE_DRIFT_LOOKBACK", c.DriftLookback)
	c.DriftMinConversations = getEnvInt("CHATLAKE_DRIFT_MIN_CONVERSATIONS", c.DriftMinConversations)

	c.LogMode = getEnv("CHATLAKE_LOG_MODE", c.LogMode)
	c.LogLevel = getEnv("CHATLAKE_LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = getEnv("CHATLAKE_METRICS_ADDR", c.MetricsAddr)
}

func (c *Config) Validate() error {
	if c.Provider != ProviderOpenAI && c.Provider != ProviderOllama {
		return fmt.Errorf("CHATLAKE_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderOllama, c.Provider)
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("CHATLAKE_MAX_RETRIES must be 0-10, got %d", c.MaxRetries)
	}
	if err := unitInterval("CHATLAKE_SEGMENT_THRESHOLD", c.SegmentThreshold); err != nil {
		return err
	}
	if err := unitInterval("CHATLAKE_AUTO_ACCEPT_THRESHOLD", c.AutoAcceptThreshold); err != nil {
		return err
	}
	if err := unitInterval("CHATLAKE_SIMILARITY_THRESHOLD", c.SimilarityThreshold); err != nil {
		return err
	}
	if c.SegmentWindow <= 0 {
		return fmt.Errorf("CHATLAKE_SEGMENT_WINDOW must be positive, got %d", c.SegmentWindow)
	}
	if c.MinSegmentMessages <= 0 {
		return fmt.Errorf("CHATLAKE_MIN_SEGMENT_MESSAGES must be positive, got %d", c.MinSegmentMessages)
	}
	if c.MaxSegmentMessages < 2*c.MinSegmentMessages {
		return fmt.Errorf("CHATLAKE_MAX_SEGMENT_MESSAGES (%d) must be at least twice CHATLAKE_MIN_SEGMENT_MESSAGES (%d)",
			c.MaxSegmentMessages, c.MinSegmentMessages)
	}
	if c.CheckpointSize <= 0 {
		return fmt.Errorf("CHATLAKE_CHECKPOINT_SIZE must be positive, got %d", c.CheckpointSize)
	}
	if c.ProjectionDims <= 0 || c.ProjectionNeighbors <= 0 {
		return fmt.Errorf("projection dims and neighbors must be positive, got %d/%d", c.ProjectionDims, c.ProjectionNeighbors)
	}
	if c.MinClusterSize < 2 || c.MinSamples < 1 {
		return fmt.Errorf("min cluster size must be >= 2 and min samples >= 1, got %d/%d", c.MinClusterSize, c.MinSamples)
	}
	if c.SimilarityMethod != SimilarityEmbedding && c.SimilarityMethod != SimilarityLexical {
		return fmt.Errorf("CHATLAKE_SIMILARITY_METHOD must be %q or %q, got %q", SimilarityEmbedding, SimilarityLexical, c.SimilarityMethod)
	}
	if c.SimilarityTopK <= 0 {
		return fmt.Errorf("CHATLAKE_SIMILARITY_TOP_K must be positive, got %d", c.SimilarityTopK)
	}
	if c.DriftWindow <= 0 || c.DriftLookback < c.DriftWindow {
		return fmt.Errorf("drift window must be positive and not exceed the lookback, got %v/%v", c.DriftWindow, c.DriftLookback)
	}
	if c.StaleBatchAfter <= 0 || c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval and stale window must be positive, got %v/%v", c.HeartbeatInterval, c.StaleBatchAfter)
	}
	return nil
}

// DefaultDataDir returns the default data directory following the XDG spec.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ".local/share/chatlake"
		}
		dataHome = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataHome, "chatlake")
}

func unitInterval(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be 0-1, got %f", name, v)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v == "true" || v == "1"
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
