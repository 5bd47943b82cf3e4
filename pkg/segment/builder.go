package segment

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/RobinCoderZhao/experience-kit/pkg/differ"
)

// Build derives segments from a word diff between the user's original text
// and the enriched text. Equal runs become original segments, inserted runs
// become ai-added segments whose source is looked up in highlights.
//
// Enrichment may only add words. A diff that deletes any of the original text
// returns an *InvariantViolation and no segments.
func Build(original, enriched string, highlights []Highlight) ([]TextSegment, error) {
	ops := differ.DiffWords(original, enriched)
	pool := newHighlightPool(highlights)

	var segs []TextSegment
	for _, op := range ops {
		switch op.Kind {
		case differ.Equal:
			text := op.Text()
			if n := len(segs); n > 0 && segs[n-1].Type == Original {
				segs[n-1].Text += text
				continue
			}
			segs = append(segs, TextSegment{ID: newID(), Text: text, Type: Original})
		case differ.Insert:
			segs = append(segs, pool.resolve(op.Text())...)
		case differ.Delete:
			return nil, violation("build", "enrichment removed original text %q", op.Text())
		}
	}
	return segs, nil
}

// Adopt accepts segments computed by the enrichment collaborator. Missing ids
// are filled in; the original-type segments must still spell out original.
func Adopt(original string, segs []TextSegment) ([]TextSegment, error) {
	out := cloneSegments(segs)
	for i := range out {
		if !out[i].Type.Valid() {
			return nil, violation("adopt", "segment %d has unknown type %q", i, out[i].Type)
		}
		if out[i].ID == "" {
			out[i].ID = newID()
		}
	}
	if got := OriginalText(out); got != original {
		return nil, violation("adopt", "original segments spell %q, want %q", got, original)
	}
	return out, nil
}

func newID() string {
	return uuid.NewString()
}

// highlightPool hands out each highlight's source at most once.
type highlightPool struct {
	items []Highlight
	used  []bool
}

func newHighlightPool(items []Highlight) *highlightPool {
	return &highlightPool{items: items, used: make([]bool, len(items))}
}

// resolve turns one inserted run into one or more ai-added segments.
func (p *highlightPool) resolve(text string) []TextSegment {
	if strings.TrimSpace(text) == "" {
		return []TextSegment{{ID: newID(), Text: text, Type: AIAdded}}
	}
	if i := p.find(func(h string) bool { return h == text }); i >= 0 {
		return []TextSegment{p.take(i, text)}
	}
	norm := normalize(text)
	if i := p.find(func(h string) bool { return normalize(h) == norm }); i >= 0 {
		return []TextSegment{p.take(i, text)}
	}
	if parts := p.split(text); len(parts) > 1 {
		return parts
	}
	if i := p.find(func(h string) bool {
		hn := normalize(h)
		return hn != "" && (strings.Contains(norm, hn) || strings.Contains(hn, norm))
	}); i >= 0 {
		return []TextSegment{p.take(i, text)}
	}
	return []TextSegment{{ID: newID(), Text: text, Type: AIAdded}}
}

func (p *highlightPool) find(match func(string) bool) int {
	for i, h := range p.items {
		if !p.used[i] && match(h.Text) {
			return i
		}
	}
	return -1
}

func (p *highlightPool) take(i int, text string) TextSegment {
	p.used[i] = true
	seg := TextSegment{ID: newID(), Text: text, Type: AIAdded}
	if src := p.items[i].Source; src != nil {
		cp := *src
		seg.Source = &cp
	}
	return seg
}

// split partitions text into consecutive unused highlights, each part keeping
// the whitespace in front of it. Trailing whitespace goes to the last part.
// It returns nil unless the whole text is covered.
func (p *highlightPool) split(text string) []TextSegment {
	type part struct {
		idx  int
		text string
	}
	var parts []part
	claimed := make(map[int]bool)
	rest := text
	for strings.TrimSpace(rest) != "" {
		lead := len(rest) - len(strings.TrimLeftFunc(rest, unicode.IsSpace))
		body := rest[lead:]
		best := -1
		for i, h := range p.items {
			ht := strings.TrimSpace(h.Text)
			if p.used[i] || claimed[i] || ht == "" || !strings.HasPrefix(body, ht) {
				continue
			}
			if best < 0 || len(ht) > len(strings.TrimSpace(p.items[best].Text)) {
				best = i
			}
		}
		if best < 0 {
			return nil
		}
		end := lead + len(strings.TrimSpace(p.items[best].Text))
		parts = append(parts, part{idx: best, text: rest[:end]})
		claimed[best] = true
		rest = rest[end:]
	}
	if len(parts) < 2 {
		return nil
	}
	parts[len(parts)-1].text += rest

	segs := make([]TextSegment, 0, len(parts))
	for _, pt := range parts {
		segs = append(segs, p.take(pt.idx, pt.text))
	}
	return segs
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
