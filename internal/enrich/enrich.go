// Package enrich defines the AI collaborators of a report session: the
// enrichment call that adds detail to the user's text and the incremental
// re-analysis call that refreshes category and attributes after an edit.
package enrich

import (
	"context"
	"strings"

	"github.com/RobinCoderZhao/experience-kit/pkg/segment"
)

// Answer is the user's reply to a clarifying question.
type Answer struct {
	QuestionID string `json:"questionId,omitempty"`
	Question   string `json:"question"`
	Label      string `json:"label,omitempty"`
	Value      string `json:"value"`
}

// EnrichInput is what the enrichment call sees.
type EnrichInput struct {
	OriginalText string         `json:"originalText"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Answers      []Answer       `json:"answers,omitempty"`
}

// EnrichResult is the enrichment reply. When Segments is set the caller may
// adopt it directly instead of diffing.
type EnrichResult struct {
	EnrichedText string                `json:"enrichedText"`
	Highlights   []segment.Highlight   `json:"highlights,omitempty"`
	Segments     []segment.TextSegment `json:"segments,omitempty"`
}

// Derive returns the segment sequence for original.
func (r *EnrichResult) Derive(original string) ([]segment.TextSegment, error) {
	if len(r.Segments) > 0 {
		return segment.Adopt(original, r.Segments)
	}
	return segment.Build(original, r.EnrichedText, r.Highlights)
}

// Enricher adds AI detail to a report.
type Enricher interface {
	Enrich(ctx context.Context, in EnrichInput) (*EnrichResult, error)
}

// ReAnalysisInput is what the re-analysis call sees.
type ReAnalysisInput struct {
	OriginalText string         `json:"originalText"`
	CurrentText  string         `json:"currentText"`
	Category     string         `json:"category,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Answers      []Answer       `json:"answers,omitempty"`
}

// ReAnalysisResult holds the refreshed fields. An empty Category leaves the
// current one in place.
type ReAnalysisResult struct {
	Category   string         `json:"category,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ReAnalyzer recomputes category and attributes for edited text.
type ReAnalyzer interface {
	ReAnalyze(ctx context.Context, in ReAnalysisInput) (*ReAnalysisResult, error)
}

// MergeAttributes returns existing with incoming folded in. New keys are
// added and keys present in incoming with a non-nil value are overwritten.
// No key of existing is ever dropped. Neither argument is modified.
func MergeAttributes(existing, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

// NormalizeCategory maps a model's category onto the allowed list, ignoring
// case and separators. It returns "" when nothing matches. An empty allowed
// list accepts any non-empty category as is.
func NormalizeCategory(category string, allowed []string) string {
	category = strings.TrimSpace(category)
	if category == "" || len(allowed) == 0 {
		return category
	}
	key := categoryKey(category)
	for _, a := range allowed {
		if categoryKey(a) == key {
			return a
		}
	}
	return ""
}

func categoryKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(s))
}

// Passthrough is an Enricher that adds nothing. Sessions started without a
// model use it so the original text becomes a single original segment.
type Passthrough struct{}

func (Passthrough) Enrich(_ context.Context, in EnrichInput) (*EnrichResult, error) {
	return &EnrichResult{EnrichedText: in.OriginalText}, nil
}
