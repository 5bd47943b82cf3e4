package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const openaiBaseURL = "https://api.openai.com/v1"

// openaiClient talks to the OpenAI chat completions endpoint or any gateway
// that implements it.
type openaiClient struct {
	cfg      Config
	provider Provider
	http     *http.Client
	base     string
}

func newOpenAIClient(cfg Config, provider Provider) (Client, error) {
	if cfg.APIKey == "" && provider == OpenAI {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	base := openaiBaseURL
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	c := &openaiClient{
		cfg:      cfg,
		provider: provider,
		base:     base,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
	return wrapWithRetry(c, cfg.MaxRetries), nil
}

type openaiRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openaiResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage  `json:"usage"`
	Model string `json:"model"`
}

func openaiErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		return e.Error.Message
	}
	return ""
}

func (c *openaiClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	maxTokens, temperature := c.cfg.withDefaults(req)
	oReq := openaiRequest{
		Model:       c.cfg.Model,
		Messages:    conversation(req),
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	if req.JSONMode {
		oReq.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	headers := map[string]string{}
	if c.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	data, err := postJSON(ctx, c.http, c.provider, c.base+"/chat/completions", headers, oReq, openaiErrorMessage)
	if err != nil {
		return nil, err
	}

	var oResp openaiResponse
	if err := json.Unmarshal(data, &oResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(oResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := oResp.Choices[0]
	return &Response{
		Content:      stripThinkTags(choice.Message.Content),
		FinishReason: choice.FinishReason,
		Usage:        oResp.Usage,
		Model:        oResp.Model,
		Latency:      time.Since(start),
	}, nil
}

func (c *openaiClient) GenerateJSON(ctx context.Context, req *Request, out any) error {
	req.JSONMode = true
	resp, err := c.Generate(ctx, req)
	if err != nil {
		return err
	}
	return decodeJSON(resp.Content, out)
}

func (c *openaiClient) Provider() Provider { return c.provider }
func (c *openaiClient) Close() error       { return nil }
