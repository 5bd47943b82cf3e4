package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/RobinCoderZhao/experience-kit/pkg/llm"
	"github.com/RobinCoderZhao/experience-kit/pkg/segment"
)

// LLMEnricher asks a language model to weave question answers and
// attributes into the user's text without changing the user's words.
type LLMEnricher struct {
	client llm.Client
	logger *slog.Logger
}

// NewLLMEnricher creates an enricher backed by client.
func NewLLMEnricher(client llm.Client) *LLMEnricher {
	return &LLMEnricher{client: client, logger: slog.Default()}
}

type enrichReply struct {
	EnrichedText string              `json:"enrichedText"`
	Highlights   []segment.Highlight `json:"highlights"`
}

// Enrich implements Enricher.
func (e *LLMEnricher) Enrich(ctx context.Context, in EnrichInput) (*EnrichResult, error) {
	prompt, err := enrichPrompt(in)
	if err != nil {
		return nil, err
	}

	var reply enrichReply
	if err := e.client.GenerateJSON(ctx, &llm.Request{
		System:   enrichSystemPrompt,
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	}, &reply); err != nil {
		return nil, fmt.Errorf("enrich report: %w", err)
	}
	if strings.TrimSpace(reply.EnrichedText) == "" {
		return nil, fmt.Errorf("enrich report: empty enriched text")
	}

	res := &EnrichResult{EnrichedText: reply.EnrichedText}
	for _, h := range reply.Highlights {
		if strings.TrimSpace(h.Text) == "" {
			continue
		}
		res.Highlights = append(res.Highlights, segment.Highlight{Text: h.Text, Source: cleanSource(h.Source)})
	}
	normalizeResult(in.OriginalText, res)

	e.logger.Debug("report enriched",
		"original_len", len(in.OriginalText),
		"enriched_len", len(res.EnrichedText),
		"highlights", len(res.Highlights))
	return res, nil
}

func enrichPrompt(in EnrichInput) (string, error) {
	var sb strings.Builder
	sb.WriteString("Original report:\n")
	sb.WriteString(in.OriginalText)
	sb.WriteString("\n\n")
	if len(in.Answers) > 0 {
		sb.WriteString("Answers to clarifying questions:\n")
		for _, a := range in.Answers {
			label := a.Label
			if label == "" {
				label = a.QuestionID
			}
			fmt.Fprintf(&sb, "- [%s] %s => %s\n", label, a.Question, a.Value)
		}
		sb.WriteString("\n")
	}
	if len(in.Attributes) > 0 {
		attrs, err := json.Marshal(in.Attributes)
		if err != nil {
			return "", fmt.Errorf("marshal attributes: %w", err)
		}
		sb.WriteString("Extracted attributes (JSON):\n")
		sb.Write(attrs)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// cleanSource drops sources with an unknown type and clamps confidence to
// 0..100.
func cleanSource(src *segment.Source) *segment.Source {
	if src == nil || (src.Type != segment.SourceQuestion && src.Type != segment.SourceAttribute) {
		return nil
	}
	cp := *src
	cp.Confidence = min(max(cp.Confidence, 0), 100)
	return &cp
}

// LLMReAnalyzer asks a language model to refresh category and attributes
// for edited text.
type LLMReAnalyzer struct {
	client     llm.Client
	categories []string
	logger     *slog.Logger
}

// NewLLMReAnalyzer creates a re-analyzer. When categories is non-empty the
// model's category is restricted to it.
func NewLLMReAnalyzer(client llm.Client, categories []string) *LLMReAnalyzer {
	return &LLMReAnalyzer{client: client, categories: categories, logger: slog.Default()}
}

// ReAnalyze implements ReAnalyzer.
func (r *LLMReAnalyzer) ReAnalyze(ctx context.Context, in ReAnalysisInput) (*ReAnalysisResult, error) {
	payload, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal re-analysis input: %w", err)
	}

	system := reAnalysisSystemPrompt
	if len(r.categories) > 0 {
		system += "\nAllowed categories: " + strings.Join(r.categories, ", ") + "."
	}

	var res ReAnalysisResult
	if err := r.client.GenerateJSON(ctx, &llm.Request{
		System:   system,
		Messages: []llm.Message{{Role: "user", Content: string(payload)}},
	}, &res); err != nil {
		return nil, fmt.Errorf("re-analyze report: %w", err)
	}

	if res.Category != "" {
		norm := NormalizeCategory(res.Category, r.categories)
		if norm == "" {
			r.logger.Warn("model returned unknown category, keeping current", "category", res.Category)
		}
		res.Category = norm
	}
	return &res, nil
}

const enrichSystemPrompt = `You help people write clear first-hand experience reports.

Rewrite the report so it also states the facts given in the answers and attributes.
Rules:
1. Never remove, reorder or change any word of the original report, including punctuation.
2. Only insert new sentences or clauses, each separated from existing text by a space.
3. Keep the user's voice and tense. Do not invent facts that were not provided.

Reply with JSON:
{
  "enrichedText": "the full report with your insertions",
  "highlights": [
    {
      "text": "one inserted span, exactly as it appears in enrichedText",
      "source": {"type": "question" or "attribute", "label": "short label", "questionText": "the question, if any", "value": "the fact used", "confidence": 0-100}
    }
  ]
}`

const reAnalysisSystemPrompt = `You classify first-hand experience reports.

The user edited their report. Compare currentText with originalText and decide
whether the category or any attribute changed. Only return attributes whose
value is new or different; omit everything that still holds.

Reply with JSON:
{
  "category": "new category, or empty if unchanged",
  "attributes": {"name": "value"}
}`
