package change

import (
	"strings"
	"testing"
)

func TestClassify_PunctuationIsTypo(t *testing.T) {
	got := Classify("The sky was clear.", "The sky was clear!")
	if got.Type != TypoFix || got.Severity != Minor || got.NeedsReAnalysis {
		t.Fatalf("unexpected classification: %+v", got)
	}
	if got.Total() > DefaultTypoMaxWords {
		t.Fatalf("expected at most %d words touched, got %d", DefaultTypoMaxWords, got.Total())
	}
}

func TestClassify_LongAddition(t *testing.T) {
	base := "I saw lights in the sky."
	words := make([]string, 25)
	for i := range words {
		words[i] = "more"
	}
	got := Classify(base, base+" "+strings.Join(words, " "))

	if got.WordsAdded != 25 || got.WordsDeleted != 0 {
		t.Fatalf("unexpected counts: %+v", got)
	}
	if got.Type != Addition && got.Type != MajorRewrite {
		t.Fatalf("expected addition or major-rewrite, got %s", got.Type)
	}
	if got.Severity == Minor || !got.NeedsReAnalysis {
		t.Fatalf("expected re-analysis, got %+v", got)
	}
}

func TestClassify_DeleteEverything(t *testing.T) {
	got := Classify("The craft hovered silently above the trees", "")
	if got.Type != Deletion || got.Severity != Moderate || !got.NeedsReAnalysis {
		t.Fatalf("unexpected classification: %+v", got)
	}
	if got.WordsDeleted != 7 {
		t.Fatalf("expected 7 deleted words, got %d", got.WordsDeleted)
	}
}

func TestClassify_Identical(t *testing.T) {
	got := Classify("same words", "same words")
	if got.Total() != 0 || got.Type != TypoFix || got.NeedsReAnalysis {
		t.Fatalf("unexpected classification: %+v", got)
	}
}

func TestFromCounts(t *testing.T) {
	c := NewClassifier(DefaultThresholds())
	tests := []struct {
		name           string
		added, deleted int
		wantType       Type
		wantSeverity   Severity
	}{
		{"nothing", 0, 0, TypoFix, Minor},
		{"two words", 1, 1, TypoFix, Minor},
		{"small mixed edit", 2, 2, MinorEdit, Minor},
		{"addition", 6, 1, Addition, Moderate},
		{"addition below minimum", 4, 0, MinorEdit, Minor},
		{"deletion", 0, 5, Deletion, Moderate},
		{"deletion wins over rewrite", 1, 30, Deletion, Moderate},
		{"balanced rewrite", 12, 10, MajorRewrite, Major},
		{"ratio not exceeded", 10, 5, MinorEdit, Minor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.FromCounts(tt.added, tt.deleted)
			if got.Type != tt.wantType {
				t.Errorf("type = %s, want %s", got.Type, tt.wantType)
			}
			if got.Severity != tt.wantSeverity {
				t.Errorf("severity = %s, want %s", got.Severity, tt.wantSeverity)
			}
			if got.NeedsReAnalysis != (tt.wantSeverity != Minor) {
				t.Errorf("needsReAnalysis = %v for severity %s", got.NeedsReAnalysis, got.Severity)
			}
		})
	}
}

func TestCustomThresholds(t *testing.T) {
	c := NewClassifier(Thresholds{TypoMaxWords: 0, DirectionalRatio: 1, DirectionalMinWords: 1, MajorRewriteMinWords: 3})
	if got := c.FromCounts(1, 0); got.Type != Addition {
		t.Fatalf("expected addition with loose thresholds, got %s", got.Type)
	}
	if got := c.FromCounts(2, 2); got.Type != MajorRewrite {
		t.Fatalf("expected major-rewrite, got %s", got.Type)
	}
}

func TestThresholds_Validate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	bad := DefaultThresholds()
	bad.DirectionalRatio = -1
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for negative ratio")
	}
}
