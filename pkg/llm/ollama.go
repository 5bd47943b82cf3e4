package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ollamaClient talks to a local Ollama server. It is not wrapped with
// retries.
type ollamaClient struct {
	cfg  Config
	http *http.Client
	base string
}

func newOllamaClient(cfg Config) (Client, error) {
	base := "http://localhost:11434"
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	return &ollamaClient{
		cfg:  cfg,
		base: base,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message         Message `json:"message"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

func (c *ollamaClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	maxTokens, temperature := c.cfg.withDefaults(req)
	oReq := ollamaRequest{
		Model:    c.cfg.Model,
		Messages: conversation(req),
		Options:  &ollamaOptions{Temperature: temperature, NumPredict: maxTokens},
	}
	if req.JSONMode {
		oReq.Format = "json"
	}

	data, err := postJSON(ctx, c.http, Ollama, c.base+"/api/chat", nil, oReq, func(body []byte) string {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil {
			return e.Error
		}
		return ""
	})
	if err != nil {
		return nil, err
	}

	var oResp ollamaResponse
	if err := json.Unmarshal(data, &oResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &Response{
		Content:      stripThinkTags(oResp.Message.Content),
		FinishReason: oResp.DoneReason,
		Usage:        Usage{PromptTokens: oResp.PromptEvalCount, CompletionTokens: oResp.EvalCount},
		Model:        c.cfg.Model,
		Latency:      time.Since(start),
	}, nil
}

func (c *ollamaClient) GenerateJSON(ctx context.Context, req *Request, out any) error {
	req.JSONMode = true
	resp, err := c.Generate(ctx, req)
	if err != nil {
		return err
	}
	return decodeJSON(resp.Content, out)
}

func (c *ollamaClient) Provider() Provider { return Ollama }
func (c *ollamaClient) Close() error       { return nil }
