// Package segment tracks the provenance of displayed text as an ordered
// sequence of spans: the user's original words, AI insertions, and AI
// insertions the user has since edited.
package segment

import "strings"

// Type is the provenance of a segment.
type Type string

const (
	Original   Type = "original"
	AIAdded    Type = "ai-added"
	UserEdited Type = "user-edited"
)

// Valid reports whether t is a known segment type.
func (t Type) Valid() bool {
	switch t {
	case Original, AIAdded, UserEdited:
		return true
	}
	return false
}

// SourceType says what kind of AI output produced a segment.
type SourceType string

const (
	SourceQuestion  SourceType = "question"
	SourceAttribute SourceType = "attribute"
)

// Source explains why the AI inserted a segment.
type Source struct {
	Type         SourceType `json:"type"`
	Label        string     `json:"label"`
	QuestionText string     `json:"questionText,omitempty"`
	Value        string     `json:"value,omitempty"`
	Confidence   float64    `json:"confidence,omitempty"` // 0-100
}

// TextSegment is a contiguous span of the displayed text. An empty Text is a
// tombstone: the segment was removed but keeps its position for undo.
type TextSegment struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Type   Type    `json:"type"`
	Source *Source `json:"source,omitempty"`
}

// Tombstone reports whether the segment has been removed.
func (s TextSegment) Tombstone() bool {
	return s.Text == ""
}

// Removable reports whether the one-click remove affordance applies.
func (s TextSegment) Removable() bool {
	return s.Type == AIAdded && s.Text != ""
}

// Highlight maps a span of enriched text to the answer or attribute it came from.
type Highlight struct {
	Text   string  `json:"text"`
	Source *Source `json:"source,omitempty"`
}

// Join concatenates the text of segs in order.
func Join(segs []TextSegment) string {
	var sb strings.Builder
	for _, s := range segs {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// OriginalText concatenates only the original-type segments of segs.
func OriginalText(segs []TextSegment) string {
	var sb strings.Builder
	for _, s := range segs {
		if s.Type == Original {
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

func cloneSegments(segs []TextSegment) []TextSegment {
	out := make([]TextSegment, len(segs))
	for i, s := range segs {
		if s.Source != nil {
			src := *s.Source
			s.Source = &src
		}
		out[i] = s
	}
	return out
}
