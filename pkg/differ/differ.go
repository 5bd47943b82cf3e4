// Package differ provides word-level diffing for comparing text versions.
//
// Text is tokenized into alternating runs of non-whitespace and whitespace, so
// joining the tokens of every op reproduces the input byte-for-byte and an
// inserted clause keeps the space that separates it from its neighbours.
package differ

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind is the kind of a diff op.
type Kind string

const (
	Equal  Kind = "equal"
	Insert Kind = "insert"
	Delete Kind = "delete"
)

// Op is one contiguous run of tokens sharing the same kind.
type Op struct {
	Kind   Kind     `json:"kind"`
	Tokens []string `json:"words"`
}

// Text joins the op's tokens.
func (o Op) Text() string {
	return strings.Join(o.Tokens, "")
}

// WordCount returns the number of non-whitespace tokens in the op.
func (o Op) WordCount() int {
	n := 0
	for _, t := range o.Tokens {
		if !isSpaceToken(t) {
			n++
		}
	}
	return n
}

// Stats holds word counts of changes.
type Stats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// Total returns additions plus deletions.
func (s Stats) Total() int {
	return s.Additions + s.Deletions
}

// Summary returns a human-readable summary of the counts.
func (s Stats) Summary() string {
	if s.Total() == 0 {
		return "No changes detected"
	}
	return fmt.Sprintf("%d words added, %d words deleted", s.Additions, s.Deletions)
}

// Tokenize splits text into alternating word and whitespace tokens.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	var tokens []string
	start := 0
	inSpace := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if i == 0 {
			inSpace = space
			continue
		}
		if space != inSpace {
			tokens = append(tokens, text[start:i])
			start = i
			inSpace = space
		}
	}
	return append(tokens, text[start:])
}

// maxTableCells bounds the full LCS table. Larger inputs are split in half
// until the pieces fit, which keeps memory linear in the input size.
const maxTableCells = 1 << 22

// DiffWords computes the ordered equal/insert/delete ops that turn baseline
// into candidate. Matching tokens are taken as equal greedily from the start
// of the text; when skipping either side is equally good, the delete comes
// first. The result is deterministic for identical inputs.
//
// The common prefix and suffix are always equal. What remains between them is
// aligned with a full table when it fits in maxTableCells and otherwise with
// a divide-and-conquer split, which still finds a longest common subsequence.
func DiffWords(baseline, candidate string) []Op {
	a := Tokenize(baseline)
	b := Tokenize(candidate)

	p := 0
	for p < len(a) && p < len(b) && a[p] == b[p] {
		p++
	}
	s := 0
	for s < len(a)-p && s < len(b)-p && a[len(a)-1-s] == b[len(b)-1-s] {
		s++
	}

	ops := appendOp(nil, Equal, a[:p]...)
	ops = diffMiddle(ops, a[p:len(a)-s], b[p:len(b)-s])
	return appendOp(ops, Equal, a[len(a)-s:]...)
}

func diffMiddle(ops []Op, a, b []string) []Op {
	switch {
	case len(a) == 0:
		return appendOp(ops, Insert, b...)
	case len(b) == 0:
		return appendOp(ops, Delete, a...)
	case (len(a)+1)*(len(b)+1) <= maxTableCells:
		return diffTable(ops, a, b)
	case len(a) == 1:
		for j, t := range b {
			if t == a[0] {
				ops = appendOp(ops, Insert, b[:j]...)
				ops = appendOp(ops, Equal, t)
				return appendOp(ops, Insert, b[j+1:]...)
			}
		}
		ops = appendOp(ops, Delete, a...)
		return appendOp(ops, Insert, b...)
	}

	mid := len(a) / 2
	fwd := prefixLCSRow(a[:mid], b)
	bwd := suffixLCSRow(a[mid:], b)
	k, best := 0, int32(-1)
	for j := range fwd {
		if n := fwd[j] + bwd[j]; n > best {
			k, best = j, n
		}
	}
	ops = diffMiddle(ops, a[:mid], b[:k])
	return diffMiddle(ops, a[mid:], b[k:])
}

func diffTable(ops []Op, a, b []string) []Op {
	lcs := suffixLCS(a, b)
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			ops = appendOp(ops, Equal, a[i])
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = appendOp(ops, Delete, a[i])
			i++
		default:
			ops = appendOp(ops, Insert, b[j])
			j++
		}
	}
	ops = appendOp(ops, Delete, a[i:]...)
	return appendOp(ops, Insert, b[j:]...)
}

// Count totals the words added and deleted by ops.
func Count(ops []Op) Stats {
	var s Stats
	for _, op := range ops {
		switch op.Kind {
		case Insert:
			s.Additions += op.WordCount()
		case Delete:
			s.Deletions += op.WordCount()
		}
	}
	return s
}

// Join rebuilds one side of the diff: with the candidate side, equal and
// insert ops are kept; otherwise equal and delete ops.
func Join(ops []Op, candidate bool) string {
	var sb strings.Builder
	for _, op := range ops {
		switch {
		case op.Kind == Equal,
			candidate && op.Kind == Insert,
			!candidate && op.Kind == Delete:
			sb.WriteString(op.Text())
		}
	}
	return sb.String()
}

// suffixLCS returns t where t[i][j] is the LCS length of a[i:] and b[j:].
func suffixLCS(a, b []string) [][]int32 {
	m, n := len(a), len(b)
	t := make([][]int32, m+1)
	cells := make([]int32, (m+1)*(n+1))
	for i := range t {
		t[i] = cells[i*(n+1) : (i+1)*(n+1)]
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			switch {
			case a[i] == b[j]:
				t[i][j] = t[i+1][j+1] + 1
			case t[i+1][j] >= t[i][j+1]:
				t[i][j] = t[i+1][j]
			default:
				t[i][j] = t[i][j+1]
			}
		}
	}
	return t
}

// prefixLCSRow returns r where r[j] is the LCS length of a and b[:j].
func prefixLCSRow(a, b []string) []int32 {
	prev := make([]int32, len(b)+1)
	cur := make([]int32, len(b)+1)
	for i := range a {
		cur[0] = 0
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev
}

// suffixLCSRow returns r where r[j] is the LCS length of a and b[j:].
func suffixLCSRow(a, b []string) []int32 {
	n := len(b)
	prev := make([]int32, n+1)
	cur := make([]int32, n+1)
	for i := len(a) - 1; i >= 0; i-- {
		cur[n] = 0
		for j := n - 1; j >= 0; j-- {
			switch {
			case a[i] == b[j]:
				cur[j] = prev[j+1] + 1
			case prev[j] >= cur[j+1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j+1]
			}
		}
		prev, cur = cur, prev
	}
	return prev
}

func appendOp(ops []Op, kind Kind, tokens ...string) []Op {
	if len(tokens) == 0 {
		return ops
	}
	if n := len(ops); n > 0 && ops[n-1].Kind == kind {
		ops[n-1].Tokens = append(ops[n-1].Tokens, tokens...)
		return ops
	}
	return append(ops, Op{Kind: kind, Tokens: append([]string(nil), tokens...)})
}

func isSpaceToken(t string) bool {
	r, _ := utf8.DecodeRuneInString(t)
	return unicode.IsSpace(r)
}
