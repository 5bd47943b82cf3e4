package enrich

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/RobinCoderZhao/experience-kit/pkg/segment"
)

// hasMarkup reports whether s looks like it carries HTML tags.
func hasMarkup(s string) bool {
	return strings.ContainsRune(s, '<')
}

// StripMarkup reduces model output that wrapped insertions in HTML to plain
// text. Text inside <mark> elements is returned as highlights. A mark whose
// data-source is "question" or "attribute" gets a source labelled by
// data-label, with data-question and data-value when present; any other mark
// stays unsourced. Entities are decoded; scripts and
// styles are dropped; <br> becomes a newline. Text outside tags is kept
// byte for byte.
func StripMarkup(s string) (string, []segment.Highlight) {
	z := html.NewTokenizer(strings.NewReader(s))
	var (
		out   strings.Builder
		marks []segment.Highlight
		mark  *strings.Builder
		src   *segment.Source
		skip  int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return s, nil
			}
			return out.String(), marks
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := string(z.Text())
			out.WriteString(text)
			if mark != nil {
				mark.WriteString(text)
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script, atom.Style:
				if tok.Type == html.StartTagToken {
					skip++
				}
			case atom.Br:
				out.WriteByte('\n')
				if mark != nil {
					mark.WriteByte('\n')
				}
			case atom.Mark:
				mark = &strings.Builder{}
				src = markSource(tok)
			}
		case html.EndTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script, atom.Style:
				if skip > 0 {
					skip--
				}
			case atom.Mark:
				if mark != nil && strings.TrimSpace(mark.String()) != "" {
					marks = append(marks, segment.Highlight{Text: mark.String(), Source: src})
				}
				mark, src = nil, nil
			}
		}
	}
}

func markSource(tok html.Token) *segment.Source {
	typ := segment.SourceType(attr(tok, "data-source"))
	if typ != segment.SourceQuestion && typ != segment.SourceAttribute {
		return nil
	}
	return &segment.Source{
		Type:         typ,
		Label:        attr(tok, "data-label"),
		QuestionText: attr(tok, "data-question"),
		Value:        attr(tok, "data-value"),
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// normalizeResult strips markup from the enriched text unless the user's own
// text contains markup characters, in which case tags are part of the report.
// Highlights found in <mark> elements are appended when the model did not
// already list the same text.
func normalizeResult(original string, r *EnrichResult) {
	if hasMarkup(original) || !hasMarkup(r.EnrichedText) {
		return
	}
	text, marks := StripMarkup(r.EnrichedText)
	r.EnrichedText = text
	for i := range r.Highlights {
		r.Highlights[i].Text, _ = StripMarkup(r.Highlights[i].Text)
	}
	for _, m := range marks {
		if !containsHighlight(r.Highlights, m.Text) {
			r.Highlights = append(r.Highlights, m)
		}
	}
}

func containsHighlight(hs []segment.Highlight, text string) bool {
	want := strings.TrimSpace(text)
	for _, h := range hs {
		if strings.TrimSpace(h.Text) == want {
			return true
		}
	}
	return false
}
