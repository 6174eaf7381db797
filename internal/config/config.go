// Package config handles murmur configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/murmur/config.yaml, /etc/murmur/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "murmur", "config.yaml"))
	}

	paths = append(paths, "/etc/murmur/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all murmur configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Models     ModelsConfig     `yaml:"models"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Policy     PolicyConfig     `yaml:"policy"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the ops HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // default: 8520
}

// MQTTConfig defines the chat transport broker connection.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`      // e.g. mqtt://localhost:1883
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"` // topic segment, default "murmur"
}

// ModelsConfig defines the LLM endpoint used by the pipeline stages.
type ModelsConfig struct {
	OllamaURL string `yaml:"ollama_url"` // e.g. http://localhost:11434
	Default   string `yaml:"default"`    // model name for judge/plan/args/evaluate/summary
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Model   string `yaml:"model"`   // embedding model name (e.g. nomic-embed-text)
	BaseURL string `yaml:"baseurl"` // Ollama URL (defaults to models.ollama_url)
}

// RerankConfig defines the optional fine-ranking stage. A missing API
// key disables the stage rather than failing retrieval.
type RerankConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BaseURL    string `yaml:"baseurl"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	CandidateK int    `yaml:"candidate_k"` // coarse shortlist size; <=0 keeps all
	TopN       int    `yaml:"top_n"`       // fine shortlist size; <=0 keeps all
}

// PolicyConfig defines the reply gating knobs.
type PolicyConfig struct {
	ReplyThreshold   float64       `yaml:"reply_threshold"`    // probability floor, default 0.6
	MinReplyInterval time.Duration `yaml:"min_reply_interval"` // hard floor between replies per sender
	MaxConcurrent    int           `yaml:"max_concurrent"`     // in-flight runs per sender
	BundleWindow     time.Duration `yaml:"bundle_window"`      // quiet period before a bundle closes
	BundleMax        time.Duration `yaml:"bundle_max"`         // force-close age
}

// PipelineConfig defines execution bounds for a run.
type PipelineConfig struct {
	StepTimeout  time.Duration `yaml:"step_timeout"`  // per-attempt tool deadline
	MaxRetries   int           `yaml:"max_retries"`   // extra attempts after the first failure
	MaxReplans   int           `yaml:"max_replans"`   // evaluator replan cycles before forced failure
	MaxParallel  int           `yaml:"max_parallel"`  // concurrently running steps per run
	RetryBackoff time.Duration `yaml:"retry_backoff"` // base backoff, doubled per attempt
}

// WorkspaceConfig defines the directory the read_file tool may serve.
// If Path is empty the tool is not registered.
type WorkspaceConfig struct {
	Path string `yaml:"path"`
}

// Load reads and parses the config file at path, applies defaults, and
// validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8520
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "murmur"
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Models.Default == "" {
		c.Models.Default = "qwen3:8b"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "nomic-embed-text"
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Models.OllamaURL
	}
	if c.Rerank.CandidateK == 0 {
		c.Rerank.CandidateK = 12
	}
	if c.Rerank.TopN == 0 {
		c.Rerank.TopN = 5
	}
	if c.Policy.ReplyThreshold == 0 {
		c.Policy.ReplyThreshold = 0.6
	}
	if c.Policy.MinReplyInterval == 0 {
		c.Policy.MinReplyInterval = 20 * time.Second
	}
	if c.Policy.MaxConcurrent == 0 {
		c.Policy.MaxConcurrent = 1
	}
	if c.Policy.BundleWindow == 0 {
		c.Policy.BundleWindow = 3 * time.Second
	}
	if c.Policy.BundleMax == 0 {
		c.Policy.BundleMax = 15 * time.Second
	}
	if c.Pipeline.StepTimeout == 0 {
		c.Pipeline.StepTimeout = 60 * time.Second
	}
	if c.Pipeline.MaxRetries == 0 {
		c.Pipeline.MaxRetries = 2
	}
	if c.Pipeline.MaxReplans == 0 {
		c.Pipeline.MaxReplans = 2
	}
	if c.Pipeline.MaxParallel == 0 {
		c.Pipeline.MaxParallel = 3
	}
	if c.Pipeline.RetryBackoff == 0 {
		c.Pipeline.RetryBackoff = 2 * time.Second
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
}

func (c *Config) validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.Policy.ReplyThreshold < 0 || c.Policy.ReplyThreshold > 1 {
		return fmt.Errorf("policy.reply_threshold must be in [0,1], got %v", c.Policy.ReplyThreshold)
	}
	if c.Policy.BundleMax < c.Policy.BundleWindow {
		return fmt.Errorf("policy.bundle_max (%v) must be >= policy.bundle_window (%v)",
			c.Policy.BundleMax, c.Policy.BundleWindow)
	}
	if c.Rerank.Enabled && c.Rerank.BaseURL == "" {
		return fmt.Errorf("rerank.baseurl is required when rerank.enabled is true")
	}
	return nil
}
