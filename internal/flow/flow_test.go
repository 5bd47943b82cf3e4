package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RobinCoderZhao/experience-kit/internal/enrich"
	"github.com/RobinCoderZhao/experience-kit/internal/store"
	"github.com/RobinCoderZhao/experience-kit/pkg/change"
	"github.com/RobinCoderZhao/experience-kit/pkg/detect"
	"github.com/RobinCoderZhao/experience-kit/pkg/notify"
	"github.com/RobinCoderZhao/experience-kit/pkg/segment"
)

const (
	sighting = "I saw lights in the sky."
	duration = " It lasted about ten minutes."
)

type mockEnricher struct {
	enrichFn func(ctx context.Context, in enrich.EnrichInput) (*enrich.EnrichResult, error)
	calls    []enrich.EnrichInput
}

func (m *mockEnricher) Enrich(ctx context.Context, in enrich.EnrichInput) (*enrich.EnrichResult, error) {
	m.calls = append(m.calls, in)
	return m.enrichFn(ctx, in)
}

func durationEnricher() *mockEnricher {
	return &mockEnricher{enrichFn: func(ctx context.Context, in enrich.EnrichInput) (*enrich.EnrichResult, error) {
		return &enrich.EnrichResult{
			EnrichedText: in.OriginalText + duration,
			Highlights: []segment.Highlight{{
				Text:   duration,
				Source: &segment.Source{Type: segment.SourceQuestion, Label: "Duration", Value: "ten minutes"},
			}},
		}, nil
	}}
}

type mockReAnalyzer struct {
	reAnalyzeFn func(ctx context.Context, in enrich.ReAnalysisInput) (*enrich.ReAnalysisResult, error)
}

func (m *mockReAnalyzer) ReAnalyze(ctx context.Context, in enrich.ReAnalysisInput) (*enrich.ReAnalysisResult, error) {
	return m.reAnalyzeFn(ctx, in)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recordingNotifier) Dispatch(ctx context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Kind
	for _, m := range r.msgs {
		out = append(out, m.Kind)
	}
	return out
}

type recordingSaver struct {
	saved []*store.Report
}

func (r *recordingSaver) Save(ctx context.Context, rep *store.Report) error {
	r.saved = append(r.saved, rep)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Debounce = time.Hour
	return cfg
}

func startFlow(t *testing.T, opts ...Option) (*Flow, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	opts = append([]Option{WithNotifier(n)}, opts...)
	f, err := Start(context.Background(), testConfig(), durationEnricher(), Input{
		SessionID:    "s1",
		OriginalText: sighting,
		Category:     "sighting",
		Attributes:   map[string]any{"duration": "ten minutes", "color": "white"},
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f, n
}

func longEdit(base string) string {
	return base + strings.Repeat(" The craft moved fast.", 5)
}

func TestFlow_EndToEndRemoveAndUndo(t *testing.T) {
	f, _ := startFlow(t)
	require.Equal(t, sighting+duration, f.CurrentText())

	snap := f.Snapshot()
	require.True(t, snap.Enriched)
	require.Len(t, snap.Segments, 2)
	ai := snap.Segments[1]
	require.Equal(t, segment.AIAdded, ai.Type)
	require.Equal(t, "Duration", ai.Source.Label)

	ok, err := f.RemoveSegment(ai.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sighting, f.CurrentText())

	ok, err = f.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sighting+duration, f.CurrentText())
}

func TestFlow_RemovalIsNotReportedAsUserDeletion(t *testing.T) {
	f, n := startFlow(t)
	ai := f.Snapshot().Segments[1]

	_, err := f.RemoveSegment(ai.ID)
	require.NoError(t, err)
	f.HandleTextChange(f.CurrentText())
	f.TriggerAnalysis()

	require.Empty(t, n.kinds())
	require.Equal(t, detect.Idle.String(), f.Snapshot().State)
}

func TestFlow_EnrichmentFailureFallsBackToOriginal(t *testing.T) {
	failing := &mockEnricher{enrichFn: func(context.Context, enrich.EnrichInput) (*enrich.EnrichResult, error) {
		return nil, errors.New("connection reset")
	}}
	f, err := Start(context.Background(), testConfig(), failing, Input{OriginalText: sighting})
	require.NoError(t, err)
	defer f.Close()

	snap := f.Snapshot()
	require.False(t, snap.Enriched)
	require.NotEmpty(t, snap.LastError)
	require.NotEmpty(t, snap.SessionID)
	require.Len(t, snap.Segments, 1)
	require.Equal(t, segment.Original, snap.Segments[0].Type)
	require.Equal(t, sighting, f.CurrentText())
}

func TestFlow_EnrichmentThatDeletesIsRejected(t *testing.T) {
	deleting := &mockEnricher{enrichFn: func(context.Context, enrich.EnrichInput) (*enrich.EnrichResult, error) {
		return &enrich.EnrichResult{EnrichedText: "I saw lights."}, nil
	}}
	f, err := Start(context.Background(), testConfig(), deleting, Input{OriginalText: sighting})
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, sighting, f.CurrentText())
	require.False(t, f.Snapshot().Enriched)
}

func TestStart_RejectsEmptyText(t *testing.T) {
	_, err := Start(context.Background(), testConfig(), nil, Input{})
	require.Error(t, err)
}

func TestFlow_CommitMinorEditEmitsToast(t *testing.T) {
	f, n := startFlow(t)

	edited := "I saw lights in the sky. It lasted about twenty minutes."
	ids, err := f.Commit(edited)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.Equal(t, []notify.Kind{notify.Toast}, n.kinds())
	require.Equal(t, edited, f.CurrentText())

	snap := f.Snapshot()
	require.Equal(t, segment.UserEdited, snap.Segments[1].Type)
	require.NotNil(t, snap.Segments[1].Source, "source is kept for traceability")
	require.Equal(t, detect.Idle.String(), snap.State)
}

func TestFlow_CommitLargeEditAsksForReAnalysis(t *testing.T) {
	f, n := startFlow(t)

	_, err := f.Commit(longEdit(f.CurrentText()))
	require.NoError(t, err)
	require.Equal(t, []notify.Kind{notify.Modal}, n.kinds())

	snap := f.Snapshot()
	require.Equal(t, detect.AwaitingUserDecision.String(), snap.State)
	require.NotNil(t, snap.PendingChange)
	require.True(t, snap.PendingChange.NeedsReAnalysis)
	require.Equal(t, "s1", n.msgs[0].SessionID)
}

func TestFlow_AcceptReAnalysis(t *testing.T) {
	var got enrich.ReAnalysisInput
	ra := &mockReAnalyzer{reAnalyzeFn: func(ctx context.Context, in enrich.ReAnalysisInput) (*enrich.ReAnalysisResult, error) {
		got = in
		return &enrich.ReAnalysisResult{Category: "aerial", Attributes: map[string]any{"speed": "fast", "color": nil}}, nil
	}}
	f, n := startFlow(t, WithReAnalyzer(ra))

	ai := f.Snapshot().Segments[1]
	ok, err := f.RemoveSegment(ai.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, f.Snapshot().UndoDepth)

	_, err = f.Commit(strings.Repeat("The craft moved fast. ", 5) + sighting)
	require.NoError(t, err)
	require.Equal(t, detect.AwaitingUserDecision.String(), f.Snapshot().State)

	require.NoError(t, f.AcceptReAnalysis(context.Background()))
	require.Equal(t, sighting, got.OriginalText)
	require.Equal(t, "sighting", got.Category)

	snap := f.Snapshot()
	require.Equal(t, "aerial", snap.Category)
	require.Equal(t, map[string]any{"duration": "ten minutes", "color": "white", "speed": "fast"}, snap.Attributes)
	require.Equal(t, detect.Idle.String(), snap.State)
	require.Zero(t, snap.UndoDepth, "undo history is cleared by a successful re-analysis")
	require.Contains(t, n.kinds(), notify.Status)
}

func TestFlow_ReAnalysisInFlightRejectsSecondRequest(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	ra := &mockReAnalyzer{reAnalyzeFn: func(ctx context.Context, in enrich.ReAnalysisInput) (*enrich.ReAnalysisResult, error) {
		close(entered)
		<-release
		return &enrich.ReAnalysisResult{}, nil
	}}
	f, _ := startFlow(t, WithReAnalyzer(ra))

	done := make(chan error, 1)
	go func() { done <- f.AcceptReAnalysis(context.Background()) }()
	<-entered

	require.ErrorIs(t, f.AcceptReAnalysis(context.Background()), ErrReAnalysisInFlight)
	require.True(t, f.Snapshot().ReAnalyzing)

	close(release)
	require.NoError(t, <-done)
	require.False(t, f.Snapshot().ReAnalyzing)
}

func TestFlow_ReAnalysisFailureKeepsState(t *testing.T) {
	for _, tt := range []struct {
		policy    FailurePolicy
		wantState detect.State
	}{
		{RetryOnFailure, detect.AwaitingUserDecision},
		{DismissOnFailure, detect.Idle},
	} {
		t.Run(string(tt.policy), func(t *testing.T) {
			ra := &mockReAnalyzer{reAnalyzeFn: func(context.Context, enrich.ReAnalysisInput) (*enrich.ReAnalysisResult, error) {
				return nil, errors.New("503 service unavailable")
			}}
			cfg := testConfig()
			cfg.FailurePolicy = tt.policy
			f, err := Start(context.Background(), cfg, durationEnricher(), Input{
				OriginalText: sighting,
				Category:     "sighting",
				Attributes:   map[string]any{"color": "white"},
			}, WithReAnalyzer(ra))
			require.NoError(t, err)
			defer f.Close()

			_, err = f.Commit(longEdit(f.CurrentText()))
			require.NoError(t, err)
			before := f.Snapshot()

			require.Error(t, f.AcceptReAnalysis(context.Background()))

			after := f.Snapshot()
			require.Equal(t, tt.wantState.String(), after.State)
			require.Equal(t, before.Segments, after.Segments)
			require.Equal(t, before.Category, after.Category)
			require.Equal(t, before.Attributes, after.Attributes)
			require.NotEmpty(t, after.LastError)
		})
	}
}

func TestFlow_ReEnrichAfterReAnalysis(t *testing.T) {
	enricher := durationEnricher()
	ra := &mockReAnalyzer{reAnalyzeFn: func(context.Context, enrich.ReAnalysisInput) (*enrich.ReAnalysisResult, error) {
		return &enrich.ReAnalysisResult{}, nil
	}}
	cfg := testConfig()
	cfg.ReEnrichAfterReAnalysis = true
	f, err := Start(context.Background(), cfg, enricher, Input{OriginalText: sighting}, WithReAnalyzer(ra))
	require.NoError(t, err)
	defer f.Close()

	words := "I saw two lights in the sky."
	_, err = f.Commit(words + duration)
	require.NoError(t, err)
	require.NoError(t, f.AcceptReAnalysis(context.Background()))

	require.Len(t, enricher.calls, 2)
	require.Equal(t, words, enricher.calls[1].OriginalText, "only the user's words are re-enriched")
	require.Equal(t, words+duration, f.CurrentText())

	segs := f.Snapshot().Segments
	require.Equal(t, words, segment.OriginalText(segs))
	require.Len(t, segs, 2)
	require.Equal(t, segment.AIAdded, segs[1].Type)
	require.Equal(t, duration, segs[1].Text)
}

func TestFlow_ReEnrichKeepsUserEditedText(t *testing.T) {
	enricher := durationEnricher()
	ra := &mockReAnalyzer{reAnalyzeFn: func(context.Context, enrich.ReAnalysisInput) (*enrich.ReAnalysisResult, error) {
		return &enrich.ReAnalysisResult{}, nil
	}}
	cfg := testConfig()
	cfg.ReEnrichAfterReAnalysis = true
	f, err := Start(context.Background(), cfg, enricher, Input{OriginalText: sighting}, WithReAnalyzer(ra))
	require.NoError(t, err)
	defer f.Close()

	edited := sighting + " It lasted about twenty minutes."
	_, err = f.Commit(edited)
	require.NoError(t, err)
	before := f.Snapshot().Segments
	require.NoError(t, f.AcceptReAnalysis(context.Background()))

	require.Len(t, enricher.calls, 1)
	require.Equal(t, edited, f.CurrentText())
	require.Equal(t, before, f.Snapshot().Segments)
}

func TestFlow_RemoveWhilePromptOpenThenAccept(t *testing.T) {
	ra := &mockReAnalyzer{reAnalyzeFn: func(context.Context, enrich.ReAnalysisInput) (*enrich.ReAnalysisResult, error) {
		return &enrich.ReAnalysisResult{Category: "aerial"}, nil
	}}
	f, _ := startFlow(t, WithReAnalyzer(ra))
	ai := f.Snapshot().Segments[1]

	edited := longEdit(f.CurrentText())
	_, err := f.Commit(edited)
	require.NoError(t, err)
	require.Equal(t, detect.AwaitingUserDecision.String(), f.Snapshot().State)

	ok, err := f.RemoveSegment(ai.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, detect.AwaitingUserDecision.String(), f.Snapshot().State, "the prompt stays open")

	require.NoError(t, f.AcceptReAnalysis(context.Background()))

	snap := f.Snapshot()
	require.NotContains(t, snap.CurrentText, duration)
	require.NotContains(t, segment.OriginalText(snap.Segments), duration)
	require.Equal(t, strings.Replace(edited, duration, "", 1), snap.CurrentText)
	require.Equal(t, detect.Idle.String(), snap.State)
}

func TestFlow_UndoWhilePromptOpenThenAccept(t *testing.T) {
	ra := &mockReAnalyzer{reAnalyzeFn: func(context.Context, enrich.ReAnalysisInput) (*enrich.ReAnalysisResult, error) {
		return &enrich.ReAnalysisResult{}, nil
	}}
	f, _ := startFlow(t, WithReAnalyzer(ra))
	ai := f.Snapshot().Segments[1]

	ok, err := f.RemoveSegment(ai.ID)
	require.NoError(t, err)
	require.True(t, ok)

	edited := longEdit(f.CurrentText())
	_, err = f.Commit(edited)
	require.NoError(t, err)
	require.Equal(t, detect.AwaitingUserDecision.String(), f.Snapshot().State)

	ok, err = f.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.AcceptReAnalysis(context.Background()))

	snap := f.Snapshot()
	require.Contains(t, snap.CurrentText, duration)
	require.NotContains(t, segment.OriginalText(snap.Segments), duration)
	seg, found := segmentByID(snap.Segments, ai.ID)
	require.True(t, found)
	require.Equal(t, segment.AIAdded, seg.Type, "restored text keeps its ai label")
	require.Equal(t, duration, seg.Text)
}

func segmentByID(segs []segment.TextSegment, id string) (segment.TextSegment, bool) {
	for _, s := range segs {
		if s.ID == id {
			return s, true
		}
	}
	return segment.TextSegment{}, false
}

func TestFlow_NoReAnalyzer(t *testing.T) {
	f, _ := startFlow(t)
	require.ErrorIs(t, f.AcceptReAnalysis(context.Background()), ErrNoReAnalyzer)
}

func TestFlow_SkipAndDismiss(t *testing.T) {
	f, n := startFlow(t)
	edited := longEdit(f.CurrentText())

	_, err := f.Commit(edited)
	require.NoError(t, err)
	f.DismissReAnalysis()
	require.Equal(t, detect.Idle.String(), f.Snapshot().State)

	// The baseline did not move, so the same edit is reported again.
	require.True(t, f.TriggerAnalysis())
	require.Equal(t, []notify.Kind{notify.Modal, notify.Modal}, n.kinds())

	f.SkipReAnalysis()
	require.True(t, f.TriggerAnalysis())
	require.Len(t, n.kinds(), 2, "skipped staleness must not be reported again")
}

func TestFlow_Handlers(t *testing.T) {
	f, _ := startFlow(t)
	var changes []change.TextChange
	f.OnReAnalysisNeeded(func(ch change.TextChange) { changes = append(changes, ch) })

	f.HandleTextChange(longEdit(f.CurrentText()))
	require.True(t, f.TriggerAnalysis())
	require.Len(t, changes, 1)
	require.Equal(t, change.Addition, changes[0].Type)
}

func TestFlow_FlushAndClose(t *testing.T) {
	saver := &recordingSaver{}
	f, _ := startFlow(t, WithSaver(saver))

	require.NoError(t, f.Flush(context.Background()))
	require.Len(t, saver.saved, 1)
	rep := saver.saved[0]
	require.Equal(t, "s1", rep.SessionID)
	require.Equal(t, sighting, rep.OriginalText)
	require.Equal(t, rep.CurrentText, segment.Join(rep.Segments))

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	_, err := f.Commit("anything")
	require.ErrorIs(t, err, ErrClosed)
	_, err = f.RemoveSegment("x")
	require.ErrorIs(t, err, ErrClosed)
	require.False(t, f.TriggerAnalysis())
}
