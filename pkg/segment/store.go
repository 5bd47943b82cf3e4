package segment

import (
	"strings"
	"sync"
	"time"

	"github.com/RobinCoderZhao/experience-kit/pkg/differ"
)

// UndoEntry records the text a removal replaced with a tombstone.
type UndoEntry struct {
	SegmentID    string    `json:"segmentId"`
	PreviousText string    `json:"previousText"`
	At           time.Time `json:"timestamp"`
}

// Store holds the current segment sequence and its undo stack. Segments keep
// their position for the lifetime of a sequence; removal and undo mutate a
// segment's text in place.
type Store struct {
	mu       sync.Mutex
	segments []TextSegment
	index    map[string]int
	undo     []UndoEntry
	now      func() time.Time
}

// NewStore creates a store holding a copy of segs.
func NewStore(segs []TextSegment) *Store {
	s := &Store{now: time.Now}
	s.replace(segs)
	return s
}

// Replace swaps in a freshly built sequence and clears the undo stack.
func (s *Store) Replace(segs []TextSegment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replace(segs)
}

func (s *Store) replace(segs []TextSegment) {
	s.segments = cloneSegments(segs)
	s.reindex()
	s.undo = nil
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.segments))
	for i, seg := range s.segments {
		s.index[seg.ID] = i
	}
}

// Segments returns a copy of the current sequence, tombstones included.
func (s *Store) Segments() []TextSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSegments(s.segments)
}

// Segment returns a copy of the segment with the given id.
func (s *Store) Segment(id string) (TextSegment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return TextSegment{}, false
	}
	return cloneSegments(s.segments[i : i+1])[0], true
}

// CurrentText is what the user currently sees.
func (s *Store) CurrentText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Join(s.segments)
}

// RemoveSegment tombstones an ai-added segment and records it for undo.
// Other segment types and already removed segments are left alone and
// reported as false. An unknown id is an invariant violation.
func (s *Store) RemoveSegment(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return false, violation("remove", "unknown segment %q", id)
	}
	seg := &s.segments[i]
	if !seg.Removable() {
		return false, nil
	}
	s.undo = append(s.undo, UndoEntry{SegmentID: id, PreviousText: seg.Text, At: s.now()})
	seg.Text = ""
	return true, nil
}

// Undo restores the most recently removed segment. It reports false when
// there is nothing to undo.
func (s *Store) Undo() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.undo)
	if n == 0 {
		return false, nil
	}
	entry := s.undo[n-1]
	i, ok := s.index[entry.SegmentID]
	if !ok {
		return false, violation("undo", "unknown segment %q", entry.SegmentID)
	}
	s.undo = s.undo[:n-1]
	s.segments[i].Text = entry.PreviousText
	return true, nil
}

// UndoDepth returns the number of removals that can be undone.
func (s *Store) UndoDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undo)
}

// ResetUndo drops the undo history.
func (s *Store) ResetUndo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.undo = nil
}

// MarkUserEdited moves an ai-added segment to user-edited. The transition is
// one-way; other types are unchanged.
func (s *Store) MarkUserEdited(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return violation("mark", "unknown segment %q", id)
	}
	if s.segments[i].Type == AIAdded {
		s.segments[i].Type = UserEdited
	}
	return nil
}

// CommitEdit folds a live edit of the current text into the segments. Every
// ai-added segment the edit touches becomes user-edited; their ids are
// returned. Only edits inside an ai-added span touch it: typing on a span
// boundary joins a neighbouring span that is not ai-added, or starts a new
// original segment when both neighbours are ai-added or missing. Text that
// replaces deleted words goes to the span the words were deleted from.
func (s *Store) CommitEdit(text string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := Join(s.segments)
	if text == old {
		return nil, nil
	}

	// Byte ranges of the live (non-tombstone) segments in old.
	type span struct {
		seg        int
		start, end int
	}
	var spans []span
	off := 0
	for i, seg := range s.segments {
		if seg.Text == "" {
			continue
		}
		spans = append(spans, span{seg: i, start: off, end: off + len(seg.Text)})
		off += len(seg.Text)
	}

	next := make([]strings.Builder, len(s.segments))
	touched := make(map[int]bool)
	// New original text keyed by the segment index it goes after; -1 is the
	// front of the sequence.
	orphans := make(map[int]*strings.Builder)

	owner := func(pos int) int {
		before, after := -1, -1
		for k, sp := range spans {
			switch {
			case sp.start < pos && pos < sp.end:
				return k
			case sp.end == pos:
				before = k
			case sp.start == pos && after < 0:
				after = k
			}
		}
		for _, k := range []int{before, after} {
			if k >= 0 && s.segments[spans[k].seg].Type != AIAdded {
				return k
			}
		}
		return -1
	}

	pos := 0
	replaced := -1 // span whose words the previous delete op ended in
	for _, op := range differ.DiffWords(old, text) {
		chunk := op.Text()
		switch op.Kind {
		case differ.Insert:
			k := replaced
			if k < 0 {
				k = owner(pos)
			}
			if k < 0 {
				at := s.lastSegmentBefore(pos)
				if orphans[at] == nil {
					orphans[at] = &strings.Builder{}
				}
				orphans[at].WriteString(chunk)
				continue
			}
			next[spans[k].seg].WriteString(chunk)
			touched[spans[k].seg] = true
		case differ.Equal, differ.Delete:
			end := pos + len(chunk)
			replaced = -1
			for k, sp := range spans {
				lo, hi := max(pos, sp.start), min(end, sp.end)
				if lo >= hi {
					continue
				}
				if op.Kind == differ.Equal {
					next[sp.seg].WriteString(old[lo:hi])
				} else {
					touched[sp.seg] = true
					replaced = k
				}
			}
			pos = end
		}
	}

	prev := cloneSegments(s.segments)
	var edited []string
	for i := range s.segments {
		if s.segments[i].Text == "" {
			continue
		}
		s.segments[i].Text = next[i].String()
		if touched[i] && s.segments[i].Type == AIAdded {
			s.segments[i].Type = UserEdited
			edited = append(edited, s.segments[i].ID)
		}
	}
	if len(orphans) > 0 {
		out := make([]TextSegment, 0, len(s.segments)+len(orphans))
		add := func(at int) {
			if b := orphans[at]; b != nil {
				out = append(out, TextSegment{ID: newID(), Text: b.String(), Type: Original})
			}
		}
		add(-1)
		for i, seg := range s.segments {
			out = append(out, seg)
			add(i)
		}
		s.segments = out
		s.reindex()
	}

	if got := Join(s.segments); got != text {
		s.segments = prev
		s.reindex()
		return nil, violation("commit", "folded edit spells %q, want %q", got, text)
	}
	return edited, nil
}

// lastSegmentBefore returns the index of the last segment whose text ends at
// or before pos in the joined text, or -1.
func (s *Store) lastSegmentBefore(pos int) int {
	at, off := -1, 0
	for i, seg := range s.segments {
		if off > pos || (seg.Text != "" && off+len(seg.Text) > pos) {
			break
		}
		off += len(seg.Text)
		at = i
	}
	return at
}
