package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/RobinCoderZhao/experience-kit/internal/appconfig"
	"github.com/RobinCoderZhao/experience-kit/internal/enrich"
	"github.com/RobinCoderZhao/experience-kit/pkg/llm"
	"github.com/RobinCoderZhao/experience-kit/pkg/notify"
)

// collaborators are the AI pieces a session talks to.
type collaborators struct {
	enricher   enrich.Enricher
	reAnalyzer enrich.ReAnalyzer
	client     llm.Client
}

func (c *collaborators) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// newCollaborators builds LLM-backed collaborators, or a passthrough enricher
// and no re-analysis when no model is configured.
func newCollaborators(cfg appconfig.Config) (*collaborators, error) {
	if !cfg.LLMEnabled() {
		slog.Warn("no LLM configured; enrichment is a passthrough and re-analysis is off")
		return &collaborators{enricher: enrich.Passthrough{}}, nil
	}
	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	return &collaborators{
		enricher:   enrich.NewLLMEnricher(client),
		reAnalyzer: enrich.NewLLMReAnalyzer(client, cfg.Flow.Categories),
		client:     client,
	}, nil
}

// newDispatcher registers the log channel and, when configured, the webhook.
func newDispatcher(cfg appconfig.Config) *notify.Dispatcher {
	d := notify.NewDispatcher()
	d.Register(notify.NewLogNotifier(slog.Default()))
	if cfg.Notify.Webhook.URL != "" {
		d.Register(notify.NewWebhookNotifier(cfg.Notify.Webhook))
	}
	return d
}

func readAnswers(path string) ([]enrich.Answer, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := readText(path)
	if err != nil {
		return nil, err
	}
	var answers []enrich.Answer
	if err := json.Unmarshal([]byte(raw), &answers); err != nil {
		return nil, fmt.Errorf("parse answers %s: %w", path, err)
	}
	return answers, nil
}
