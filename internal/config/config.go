package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tamnguyenvan/vision-counter/pkg/hub"
	"github.com/tamnguyenvan/vision-counter/pkg/ollama"
)

// Config holds the application configuration
type Config struct {
	Model    ModelConfig    `json:"model"`
	Proposer ProposerConfig `json:"proposer"`
	Output   OutputConfig   `json:"output"`
	Log      LogConfig      `json:"log"`
}

// ModelConfig selects the counting model and how it runs
type ModelConfig struct {
	Location       string `json:"location"`
	CacheDir       string `json:"cache_dir"`
	LibraryPath    string `json:"library_path"`
	UseCUDA        bool   `json:"use_cuda"`
	CUDADeviceID   int    `json:"cuda_device_id"`
	IntraOpThreads int    `json:"intra_op_threads"`
	PoolSize       int    `json:"pool_size"`
	OutputName     string `json:"output_name"`
}

// ProposerConfig configures the vision backend used to propose exemplars
type ProposerConfig struct {
	Backend string `json:"backend"`
	URL     string `json:"url"`
	Model   string `json:"model"`
	MaxDim  int    `json:"max_dim"`
	Quality int    `json:"quality"`
}

// OutputConfig holds configuration for heatmap output
type OutputConfig struct {
	DefaultFormat string `json:"default_format"`
	Quality       int    `json:"quality"`
	Lossless      bool   `json:"lossless"`
}

// LogConfig controls logging
type LogConfig struct {
	Level string `json:"level"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Location: hub.DefaultWeightsURL,
			CacheDir: hub.DefaultCacheDir(),
			PoolSize: 1,
		},
		Proposer: ProposerConfig{
			Backend: "ollama",
			URL:     ollama.DefaultURL,
			Model:   "qwen2.5vl:7b",
			MaxDim:  1024,
			Quality: 85,
		},
		Output: OutputConfig{
			DefaultFormat: "png",
			Quality:       90,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Fields missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model.Location) == "" {
		return fmt.Errorf("model.location cannot be empty")
	}

	if c.Model.PoolSize < 1 {
		return fmt.Errorf("model.pool_size must be at least 1")
	}

	if c.Model.IntraOpThreads < 0 {
		return fmt.Errorf("model.intra_op_threads cannot be negative")
	}

	if c.Model.CUDADeviceID < 0 {
		return fmt.Errorf("model.cuda_device_id cannot be negative")
	}

	switch c.Proposer.Backend {
	case "ollama", "llamacpp":
	default:
		return fmt.Errorf("proposer.backend must be ollama or llamacpp, got %q", c.Proposer.Backend)
	}

	if c.Proposer.Quality < 1 || c.Proposer.Quality > 100 {
		return fmt.Errorf("proposer.quality must be between 1 and 100")
	}

	switch c.Output.DefaultFormat {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("output.default_format must be png, jpg or webp, got %q", c.Output.DefaultFormat)
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "vision-counter", "config.json")
}
