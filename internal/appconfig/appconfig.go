// Package appconfig assembles the expkit configuration from project and
// home config files plus the environment.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RobinCoderZhao/experience-kit/internal/api"
	"github.com/RobinCoderZhao/experience-kit/internal/flow"
	"github.com/RobinCoderZhao/experience-kit/pkg/change"
	"github.com/RobinCoderZhao/experience-kit/pkg/config"
	"github.com/RobinCoderZhao/experience-kit/pkg/detect"
	"github.com/RobinCoderZhao/experience-kit/pkg/llm"
	"github.com/RobinCoderZhao/experience-kit/pkg/notify"
	"github.com/RobinCoderZhao/experience-kit/pkg/storage"
)

// Config is the whole expkit configuration.
type Config struct {
	LLM       llm.Config      `yaml:"llm" toml:"llm"`
	Detection DetectionConfig `yaml:"detection" toml:"detection"`
	Flow      FlowConfig      `yaml:"flow" toml:"flow"`
	Storage   storage.Config  `yaml:"storage" toml:"storage"`
	Notify    NotifyConfig    `yaml:"notify" toml:"notify"`
	Server    api.Config      `yaml:"server" toml:"server"`
}

// DetectionConfig tunes change detection.
type DetectionConfig struct {
	Debounce   time.Duration     `yaml:"debounce" toml:"debounce" env:"EXPKIT_DEBOUNCE"`
	Thresholds change.Thresholds `yaml:"thresholds" toml:"thresholds"`
}

// FlowConfig tunes sessions.
type FlowConfig struct {
	ReEnrichAfterReAnalysis bool               `yaml:"reenrich_after_reanalysis" toml:"reenrich_after_reanalysis"`
	FailurePolicy           flow.FailurePolicy `yaml:"failure_policy" toml:"failure_policy" env:"EXPKIT_FAILURE_POLICY"`
	// Categories limits what re-analysis may assign. Empty allows anything.
	Categories []string `yaml:"categories" toml:"categories"`
}

// NotifyConfig holds notification channels beyond the log.
type NotifyConfig struct {
	Webhook notify.WebhookConfig `yaml:"webhook" toml:"webhook"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		LLM: llm.DefaultConfig(),
		Detection: DetectionConfig{
			Debounce:   detect.DefaultDebounce,
			Thresholds: change.DefaultThresholds(),
		},
		Flow: FlowConfig{
			FailurePolicy: flow.RetryOnFailure,
		},
		Storage: storage.Config{
			Path:        filepath.Join(home, ".expkit", "reports.db"),
			BusyTimeout: 5 * time.Second,
		},
		Server: api.Config{
			Addr:     ":8080",
			TokenTTL: 24 * time.Hour,
		},
	}
}

// Candidates returns the files Load tries, in order.
func Candidates() []string {
	paths := []string{".expkit.yaml", ".expkit.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".expkit.yaml"))
	}
	return paths
}

// Load reads the first config file that exists. An explicit path, when not
// empty, is used instead of the search and must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := config.Load(path, &cfg); err != nil {
			return cfg, err
		}
		return finish(cfg)
	}

	for _, candidate := range Candidates() {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if err := config.Load(candidate, &cfg); err != nil {
			return cfg, err
		}
		return finish(cfg)
	}

	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return finish(cfg)
}

func finish(cfg Config) (Config, error) {
	// Environment variable overrides
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = key
	}

	if err := cfg.Detection.Thresholds.Validate(); err != nil {
		return cfg, fmt.Errorf("detection thresholds: %w", err)
	}
	if cfg.Flow.FailurePolicy != "" && !cfg.Flow.FailurePolicy.Valid() {
		return cfg, fmt.Errorf("unknown failure policy %q", cfg.Flow.FailurePolicy)
	}
	return cfg, nil
}

// LLMEnabled reports whether a model is configured. Ollama runs without a key.
func (c Config) LLMEnabled() bool {
	return c.LLM.Provider == llm.Ollama || c.LLM.APIKey != ""
}

// FlowSettings converts the file settings into a session config.
func (c Config) FlowSettings() flow.Config {
	fc := flow.DefaultConfig()
	if c.Detection.Debounce > 0 {
		fc.Debounce = c.Detection.Debounce
	}
	fc.Thresholds = c.Detection.Thresholds
	if c.Flow.FailurePolicy != "" {
		fc.FailurePolicy = c.Flow.FailurePolicy
	}
	fc.ReEnrichAfterReAnalysis = c.Flow.ReEnrichAfterReAnalysis
	return fc
}
