// Package change classifies an edit between two text snapshots and decides
// whether AI-derived fields computed from the first snapshot are now stale.
package change

import (
	"fmt"

	"github.com/RobinCoderZhao/experience-kit/pkg/differ"
)

// Type describes the character of an edit.
type Type string

const (
	TypoFix      Type = "typo-fix"
	MinorEdit    Type = "minor-edit"
	Addition     Type = "addition"
	Deletion     Type = "deletion"
	MajorRewrite Type = "major-rewrite"
)

// Severity is the risk that category and attributes no longer match the text.
type Severity string

const (
	Minor    Severity = "minor"
	Moderate Severity = "moderate"
	Major    Severity = "major"
)

// TextChange is the classification of one edit.
type TextChange struct {
	WordsAdded      int      `json:"wordsAdded"`
	WordsDeleted    int      `json:"wordsDeleted"`
	Type            Type     `json:"type"`
	Severity        Severity `json:"severity"`
	NeedsReAnalysis bool     `json:"needsReAnalysis"`
}

// Total returns the number of words touched by the edit.
func (c TextChange) Total() int {
	return c.WordsAdded + c.WordsDeleted
}

// Thresholds are the tuning knobs of the classifier.
type Thresholds struct {
	// TypoMaxWords is the largest total word delta still treated as a typo fix.
	TypoMaxWords int `yaml:"typo_max_words" toml:"typo_max_words" json:"typo_max_words" env:"EXPKIT_TYPO_MAX_WORDS"`
	// DirectionalRatio is how many times larger one side must be than the
	// other for an edit to count as a pure addition or deletion.
	DirectionalRatio int `yaml:"directional_ratio" toml:"directional_ratio" json:"directional_ratio" env:"EXPKIT_DIRECTIONAL_RATIO"`
	// DirectionalMinWords is the minimum size of a pure addition or deletion.
	DirectionalMinWords int `yaml:"directional_min_words" toml:"directional_min_words" json:"directional_min_words" env:"EXPKIT_DIRECTIONAL_MIN_WORDS"`
	// MajorRewriteMinWords is the total delta at which an edit is a rewrite.
	MajorRewriteMinWords int `yaml:"major_rewrite_min_words" toml:"major_rewrite_min_words" json:"major_rewrite_min_words" env:"EXPKIT_MAJOR_REWRITE_MIN_WORDS"`
}

// Default thresholds.
const (
	DefaultTypoMaxWords         = 2
	DefaultDirectionalRatio     = 2
	DefaultDirectionalMinWords  = 5
	DefaultMajorRewriteMinWords = 20
)

// DefaultThresholds returns the product defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TypoMaxWords:         DefaultTypoMaxWords,
		DirectionalRatio:     DefaultDirectionalRatio,
		DirectionalMinWords:  DefaultDirectionalMinWords,
		MajorRewriteMinWords: DefaultMajorRewriteMinWords,
	}
}

// Validate rejects negative thresholds.
func (t Thresholds) Validate() error {
	for name, v := range map[string]int{
		"typo_max_words":          t.TypoMaxWords,
		"directional_ratio":       t.DirectionalRatio,
		"directional_min_words":   t.DirectionalMinWords,
		"major_rewrite_min_words": t.MajorRewriteMinWords,
	} {
		if v < 0 {
			return fmt.Errorf("threshold %s must not be negative, got %d", name, v)
		}
	}
	return nil
}

// Classifier maps word deltas to a TextChange.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier creates a classifier with the given thresholds.
func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{thresholds: t}
}

// Thresholds returns the classifier's thresholds.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Classify diffs current against baseline and classifies the edit.
func (c *Classifier) Classify(baseline, current string) TextChange {
	stats := differ.Count(differ.DiffWords(baseline, current))
	return c.FromCounts(stats.Additions, stats.Deletions)
}

// FromCounts classifies an edit of the given size. Rules are checked in
// order and the first match wins.
func (c *Classifier) FromCounts(added, deleted int) TextChange {
	t := c.thresholds
	ch := TextChange{WordsAdded: added, WordsDeleted: deleted}

	switch {
	case added+deleted <= t.TypoMaxWords:
		ch.Type = TypoFix
	case deleted > added*t.DirectionalRatio && deleted >= t.DirectionalMinWords:
		ch.Type = Deletion
	case added > deleted*t.DirectionalRatio && added >= t.DirectionalMinWords:
		ch.Type = Addition
	case added+deleted >= t.MajorRewriteMinWords:
		ch.Type = MajorRewrite
	default:
		ch.Type = MinorEdit
	}

	ch.Severity = SeverityOf(ch.Type)
	ch.NeedsReAnalysis = ch.Severity != Minor
	return ch
}

// SeverityOf maps a change type to its severity.
func SeverityOf(t Type) Severity {
	switch t {
	case Addition, Deletion:
		return Moderate
	case MajorRewrite:
		return Major
	default:
		return Minor
	}
}

// Classify classifies with the default thresholds.
func Classify(baseline, current string) TextChange {
	return NewClassifier(DefaultThresholds()).Classify(baseline, current)
}
