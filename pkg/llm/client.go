// Package llm is a small client for chat-completion style language models.
// It speaks the OpenAI chat API (and compatible gateways) and the Ollama chat
// API, retrying transient failures with exponential backoff.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider names a backend.
type Provider string

const (
	OpenAI Provider = "openai"
	// Compatible is any gateway that implements the OpenAI chat API.
	Compatible Provider = "compatible"
	Ollama     Provider = "ollama"
)

// Config holds configuration for an LLM client.
type Config struct {
	Provider    Provider      `yaml:"provider" toml:"provider" json:"provider" env:"LLM_PROVIDER"`
	Model       string        `yaml:"model" toml:"model" json:"model" env:"LLM_MODEL"`
	APIKey      string        `yaml:"api_key" toml:"api_key" json:"-" env:"LLM_API_KEY"`
	BaseURL     string        `yaml:"base_url" toml:"base_url" json:"base_url" env:"LLM_BASE_URL"`
	MaxRetries  int           `yaml:"max_retries" toml:"max_retries" json:"max_retries"`
	Timeout     time.Duration `yaml:"timeout" toml:"timeout" json:"timeout" env:"LLM_TIMEOUT"`
	MaxTokens   int           `yaml:"max_tokens" toml:"max_tokens" json:"max_tokens"`
	Temperature float64       `yaml:"temperature" toml:"temperature" json:"temperature"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:    OpenAI,
		Model:       "gpt-4o-mini",
		MaxRetries:  3,
		Timeout:     60 * time.Second,
		MaxTokens:   2048,
		Temperature: 0.2,
	}
}

// Client is the interface the enrichment collaborators talk to.
type Client interface {
	// Generate sends a prompt and returns the model's reply.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// GenerateJSON asks for a JSON reply and decodes it into out.
	GenerateJSON(ctx context.Context, req *Request, out any) error

	Provider() Provider
	Close() error
}

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Request holds the parameters for one generation.
type Request struct {
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	JSONMode    bool      `json:"json_mode,omitempty"`
}

// Usage is the token accounting reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response holds the result of a generation.
type Response struct {
	Content      string        `json:"content"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        Usage         `json:"usage"`
	Model        string        `json:"model"`
	Latency      time.Duration `json:"latency"`
}

// NewClient creates a client for cfg.Provider, wrapped with retries for
// remote backends.
func NewClient(cfg Config) (Client, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	switch cfg.Provider {
	case OpenAI, "":
		return newOpenAIClient(cfg, OpenAI)
	case Compatible:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("base_url is required for provider %q", Compatible)
		}
		return newOpenAIClient(cfg, Compatible)
	case Ollama:
		return newOllamaClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// withDefaults fills generation knobs the request leaves unset.
func (cfg Config) withDefaults(req *Request) (maxTokens int, temperature float64) {
	maxTokens, temperature = req.MaxTokens, req.Temperature
	if maxTokens <= 0 {
		maxTokens = cfg.MaxTokens
	}
	if temperature <= 0 {
		temperature = cfg.Temperature
	}
	return maxTokens, temperature
}

// conversation prepends the system prompt, if any, to the request messages.
func conversation(req *Request) []Message {
	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	return append(msgs, req.Messages...)
}
