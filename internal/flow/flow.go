// Package flow hosts one report submission session. It owns the segment
// store and the change detection controller, runs enrichment and
// re-analysis through the enrich collaborators, and turns detection
// decisions into notifications.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/RobinCoderZhao/experience-kit/internal/enrich"
	"github.com/RobinCoderZhao/experience-kit/internal/store"
	"github.com/RobinCoderZhao/experience-kit/pkg/change"
	"github.com/RobinCoderZhao/experience-kit/pkg/detect"
	"github.com/RobinCoderZhao/experience-kit/pkg/notify"
	"github.com/RobinCoderZhao/experience-kit/pkg/segment"
)

var (
	// ErrReAnalysisInFlight is returned when a re-analysis is requested while
	// another one is running. Requests are never queued.
	ErrReAnalysisInFlight = errors.New("re-analysis already in progress")
	// ErrNoReAnalyzer is returned when the session has no re-analysis
	// collaborator.
	ErrNoReAnalyzer = errors.New("re-analysis not configured")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// FailurePolicy decides where the controller goes when re-analysis fails.
type FailurePolicy string

const (
	// RetryOnFailure keeps the prompt open so the user can try again.
	RetryOnFailure FailurePolicy = "retry"
	// DismissOnFailure closes the prompt and keeps the old baseline.
	DismissOnFailure FailurePolicy = "dismiss"
)

// Valid reports whether p is a known policy.
func (p FailurePolicy) Valid() bool {
	return p == RetryOnFailure || p == DismissOnFailure
}

// Config tunes a session.
type Config struct {
	Debounce                time.Duration
	Thresholds              change.Thresholds
	FailurePolicy           FailurePolicy
	ReEnrichAfterReAnalysis bool
	// NotifyTimeout bounds each notification dispatch.
	NotifyTimeout time.Duration
}

// DefaultConfig returns the product defaults.
func DefaultConfig() Config {
	return Config{
		Debounce:      detect.DefaultDebounce,
		Thresholds:    change.DefaultThresholds(),
		FailurePolicy: RetryOnFailure,
		NotifyTimeout: 10 * time.Second,
	}
}

// Input is a new report.
type Input struct {
	SessionID    string
	OriginalText string
	Category     string
	Attributes   map[string]any
	Answers      []enrich.Answer
}

// Notifier receives session notifications. *notify.Dispatcher implements it.
type Notifier interface {
	Dispatch(ctx context.Context, msg notify.Message) error
}

// Saver persists flushed sessions. *store.Store implements it.
type Saver interface {
	Save(ctx context.Context, r *store.Report) error
}

// Option configures a Flow.
type Option func(*Flow)

// WithReAnalyzer sets the re-analysis collaborator.
func WithReAnalyzer(r enrich.ReAnalyzer) Option {
	return func(f *Flow) { f.reAnalyzer = r }
}

// WithNotifier sets where decision events are sent.
func WithNotifier(n Notifier) Option {
	return func(f *Flow) { f.notifier = n }
}

// WithSaver sets where Flush writes.
func WithSaver(s Saver) Option {
	return func(f *Flow) { f.saver = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Flow) {
		if l != nil {
			f.logger = l
		}
	}
}

// Flow is one submission session.
type Flow struct {
	id         string
	cfg        Config
	enricher   enrich.Enricher
	reAnalyzer enrich.ReAnalyzer
	notifier   Notifier
	saver      Saver
	logger     *slog.Logger

	segments *segment.Store
	detector *detect.Controller
	inflight *semaphore.Weighted
	running  atomic.Bool

	mu         sync.Mutex
	original   string
	category   string
	attributes map[string]any
	answers    []enrich.Answer
	enriched   bool
	lastError  string
	createdAt  time.Time
	closed     bool
}

// Start creates a session for in and runs the initial enrichment. When the
// enricher fails, or its reply would delete any of the user's words, the
// session starts from the original text as a single original segment.
func Start(ctx context.Context, cfg Config, enricher enrich.Enricher, in Input, opts ...Option) (*Flow, error) {
	if in.OriginalText == "" {
		return nil, fmt.Errorf("start session: empty report text")
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if !cfg.FailurePolicy.Valid() {
		cfg.FailurePolicy = RetryOnFailure
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	if enricher == nil {
		enricher = enrich.Passthrough{}
	}
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}

	f := &Flow{
		id:         in.SessionID,
		cfg:        cfg,
		enricher:   enricher,
		logger:     slog.Default(),
		inflight:   semaphore.NewWeighted(1),
		original:   in.OriginalText,
		category:   in.Category,
		attributes: enrich.MergeAttributes(nil, in.Attributes),
		answers:    append([]enrich.Answer(nil), in.Answers...),
		createdAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("session", f.id)

	segs, err := f.enrich(ctx, in.OriginalText)
	if err != nil {
		f.lastError = err.Error()
		segs = []segment.TextSegment{{ID: uuid.NewString(), Text: in.OriginalText, Type: segment.Original}}
	} else {
		f.enriched = true
	}
	f.segments = segment.NewStore(segs)

	f.detector = detect.New(f.segments.CurrentText(),
		detect.WithDebounce(cfg.Debounce),
		detect.WithClassifier(change.NewClassifier(cfg.Thresholds)),
		detect.WithLogger(f.logger),
	)
	f.detector.OnChangeDetected(f.changeDetected)
	f.detector.OnReAnalysisNeeded(f.reAnalysisNeeded)

	f.logger.Info("session started", "enriched", f.enriched, "segments", len(segs))
	return f, nil
}

// enrich runs the enricher on base and derives segments. Failures are
// logged; invariant violations at Error level.
func (f *Flow) enrich(ctx context.Context, base string) ([]segment.TextSegment, error) {
	f.mu.Lock()
	in := enrich.EnrichInput{
		OriginalText: base,
		Attributes:   enrich.MergeAttributes(nil, f.attributes),
		Answers:      append([]enrich.Answer(nil), f.answers...),
	}
	f.mu.Unlock()

	res, err := f.enricher.Enrich(ctx, in)
	if err != nil {
		f.logger.Warn("enrichment failed, keeping current text", "error", err)
		return nil, err
	}
	segs, err := res.Derive(base)
	if err != nil {
		if errors.Is(err, segment.ErrInvariantViolation) {
			f.logger.Error("enrichment rejected", "error", err)
		} else {
			f.logger.Warn("enrichment unusable", "error", err)
		}
		return nil, err
	}
	return segs, nil
}

// ID returns the session id.
func (f *Flow) ID() string { return f.id }

// HandleTextChange feeds a live edit to the change detector.
func (f *Flow) HandleTextChange(text string) {
	f.detector.HandleTextChange(text)
}

// TriggerAnalysis forces an immediate classification of the live text.
func (f *Flow) TriggerAnalysis() bool {
	return f.detector.TriggerAnalysis()
}

// Commit folds the live text into the segments, as on blur, and then
// classifies it. It returns the ids of ai-added segments the edit turned
// into user-edited ones.
func (f *Flow) Commit(text string) ([]string, error) {
	if f.isClosed() {
		return nil, ErrClosed
	}
	edited, err := f.segments.CommitEdit(text)
	if err != nil {
		f.logger.Error("commit rejected", "error", err)
		return nil, err
	}
	if len(edited) > 0 {
		f.logger.Debug("segments edited by user", "ids", edited)
	}
	f.detector.HandleTextChange(text)
	f.detector.TriggerAnalysis()
	return edited, nil
}

// OnChangeDetected registers a handler for minor changes.
func (f *Flow) OnChangeDetected(h detect.Handler) {
	f.detector.OnChangeDetected(h)
}

// OnReAnalysisNeeded registers a handler for changes that call for
// re-analysis.
func (f *Flow) OnReAnalysisNeeded(h detect.Handler) {
	f.detector.OnReAnalysisNeeded(h)
}

// RemoveSegment removes an ai-added segment. See segment.Store.RemoveSegment.
func (f *Flow) RemoveSegment(id string) (bool, error) {
	if f.isClosed() {
		return false, ErrClosed
	}
	before := f.segments.CurrentText()
	ok, err := f.segments.RemoveSegment(id)
	if err != nil {
		f.logger.Error("remove segment rejected", "segment", id, "error", err)
		return false, err
	}
	if ok {
		f.followSegments(before)
	}
	return ok, nil
}

// Undo restores the most recently removed segment.
func (f *Flow) Undo() (bool, error) {
	if f.isClosed() {
		return false, ErrClosed
	}
	before := f.segments.CurrentText()
	ok, err := f.segments.Undo()
	if err != nil {
		f.logger.Error("undo rejected", "error", err)
		return false, err
	}
	if ok {
		f.followSegments(before)
	}
	return ok, nil
}

// followSegments keeps the detector in step with a removal or undo. When
// idle the baseline moves too, so AI text the user took out is not reported
// as their own deletion. Otherwise only the buffer follows, which keeps an
// open prompt open and stops a later commit of the buffer from bringing the
// removed text back. Uncommitted typing is left alone.
func (f *Flow) followSegments(before string) {
	if f.detector.Buffer() != before {
		return
	}
	current := f.segments.CurrentText()
	if f.detector.State() == detect.Idle {
		f.detector.ResetTo(current)
		return
	}
	f.detector.ReplaceBuffer(before, current)
}

// CurrentText returns the text the segments spell out.
func (f *Flow) CurrentText() string {
	return f.segments.CurrentText()
}

// AcceptReAnalysis runs the re-analysis collaborator on the current text.
// A second call while one is running fails with ErrReAnalysisInFlight. On
// failure nothing changes and the controller follows the failure policy.
func (f *Flow) AcceptReAnalysis(ctx context.Context) error {
	if f.reAnalyzer == nil {
		return ErrNoReAnalyzer
	}
	if f.isClosed() {
		return ErrClosed
	}
	if !f.inflight.TryAcquire(1) {
		return ErrReAnalysisInFlight
	}
	defer f.inflight.Release(1)
	f.running.Store(true)
	defer f.running.Store(false)

	// The live buffer may hold typing that was never committed.
	if buf := f.detector.Buffer(); buf != f.segments.CurrentText() {
		if _, err := f.segments.CommitEdit(buf); err != nil {
			f.logger.Error("commit before re-analysis rejected", "error", err)
			return err
		}
	}
	current := f.segments.CurrentText()

	f.mu.Lock()
	in := enrich.ReAnalysisInput{
		OriginalText: f.original,
		CurrentText:  current,
		Category:     f.category,
		Attributes:   enrich.MergeAttributes(nil, f.attributes),
		Answers:      append([]enrich.Answer(nil), f.answers...),
	}
	f.mu.Unlock()

	start := time.Now()
	res, err := f.reAnalyzer.ReAnalyze(ctx, in)
	if err != nil {
		f.reAnalysisFailed(err)
		return fmt.Errorf("re-analyze session %s: %w", f.id, err)
	}

	f.mu.Lock()
	if res.Category != "" {
		f.category = res.Category
	}
	f.attributes = enrich.MergeAttributes(f.attributes, res.Attributes)
	f.lastError = ""
	category := f.category
	f.mu.Unlock()

	if f.cfg.ReEnrichAfterReAnalysis {
		f.reEnrich(ctx)
	}
	f.segments.ResetUndo()
	f.detector.ResetTo(f.segments.CurrentText())

	f.logger.Info("re-analysis applied", "category", category, "attributes", len(res.Attributes), "duration", time.Since(start))
	f.notify(notify.Message{Kind: notify.Status, Title: "Analysis updated", Body: "Category: " + category})
	return nil
}

// reEnrich rebuilds the segments from the user's own words, so earlier AI
// text is regenerated rather than relabelled as original. A user-edited span
// belongs to neither side, so its presence keeps the current segments.
func (f *Flow) reEnrich(ctx context.Context) {
	segs := f.segments.Segments()
	for _, s := range segs {
		if s.Type == segment.UserEdited && !s.Tombstone() {
			f.logger.Info("re-enrichment skipped, report has user-edited ai text", "segment", s.ID)
			return
		}
	}
	rebuilt, err := f.enrich(ctx, segment.OriginalText(segs))
	if err != nil {
		return
	}
	f.segments.Replace(rebuilt)
}

func (f *Flow) reAnalysisFailed(err error) {
	f.mu.Lock()
	f.lastError = err.Error()
	f.mu.Unlock()

	f.logger.Warn("re-analysis failed, keeping previous analysis", "policy", f.cfg.FailurePolicy, "error", err)
	if f.cfg.FailurePolicy == DismissOnFailure {
		f.detector.Dismiss()
	}
	f.notify(notify.Message{Kind: notify.Status, Title: "Re-analysis failed", Body: "Your report was kept as it is."})
}

// SkipReAnalysis accepts the current text as the new baseline without
// re-analysis, so the same staleness is not reported again.
func (f *Flow) SkipReAnalysis() {
	f.detector.ResetDetection()
}

// DismissReAnalysis closes the prompt and keeps the baseline; later edits
// are still compared against it.
func (f *Flow) DismissReAnalysis() {
	f.detector.Dismiss()
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	SessionID     string                `json:"sessionId"`
	OriginalText  string                `json:"originalText"`
	CurrentText   string                `json:"currentText"`
	Category      string                `json:"category,omitempty"`
	Attributes    map[string]any        `json:"attributes,omitempty"`
	Segments      []segment.TextSegment `json:"segments"`
	UndoDepth     int                   `json:"undoDepth"`
	State         string                `json:"state"`
	PendingChange *change.TextChange    `json:"pendingChange,omitempty"`
	ReAnalyzing   bool                  `json:"reAnalyzing"`
	Enriched      bool                  `json:"enriched"`
	LastError     string                `json:"lastError,omitempty"`
}

// Snapshot returns the session state.
func (f *Flow) Snapshot() Snapshot {
	segs := f.segments.Segments()
	s := Snapshot{
		SessionID:   f.id,
		CurrentText: segment.Join(segs),
		Segments:    segs,
		UndoDepth:   f.segments.UndoDepth(),
		State:       f.detector.State().String(),
	}
	if ch, ok := f.detector.PendingChange(); ok {
		s.PendingChange = &ch
	}
	s.ReAnalyzing = f.running.Load()

	f.mu.Lock()
	defer f.mu.Unlock()
	s.OriginalText = f.original
	s.Category = f.category
	s.Attributes = enrich.MergeAttributes(nil, f.attributes)
	s.Enriched = f.enriched
	s.LastError = f.lastError
	return s
}

// Flush writes the session to the saver, if one is configured.
func (f *Flow) Flush(ctx context.Context) error {
	if f.saver == nil {
		return nil
	}
	snap := f.Snapshot()
	f.mu.Lock()
	r := &store.Report{
		SessionID:    f.id,
		OriginalText: snap.OriginalText,
		CurrentText:  snap.CurrentText,
		Category:     snap.Category,
		Attributes:   snap.Attributes,
		Answers:      append([]enrich.Answer(nil), f.answers...),
		Segments:     snap.Segments,
		CreatedAt:    f.createdAt,
	}
	f.mu.Unlock()

	if err := f.saver.Save(ctx, r); err != nil {
		return fmt.Errorf("flush session %s: %w", f.id, err)
	}
	f.logger.Debug("session flushed")
	return nil
}

// Close stops change detection. It is safe to call more than once.
func (f *Flow) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	f.detector.Close()
	f.logger.Info("session closed")
	return nil
}

func (f *Flow) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Flow) changeDetected(ch change.TextChange) {
	f.notify(notify.Message{
		Kind:   notify.Toast,
		Title:  "Change detected",
		Body:   summary(ch),
		Change: &ch,
	})
}

func (f *Flow) reAnalysisNeeded(ch change.TextChange) {
	f.notify(notify.Message{
		Kind:   notify.Modal,
		Title:  "Update the analysis?",
		Body:   summary(ch) + ". The category and details may no longer match your report.",
		Change: &ch,
	})
}

func (f *Flow) notify(msg notify.Message) {
	if f.notifier == nil {
		return
	}
	msg.SessionID = f.id
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.NotifyTimeout)
	defer cancel()
	if err := f.notifier.Dispatch(ctx, msg); err != nil {
		f.logger.Warn("notification failed", "kind", msg.Kind, "error", err)
	}
}

func summary(ch change.TextChange) string {
	return fmt.Sprintf("%s: %d words added, %d words deleted", ch.Type, ch.WordsAdded, ch.WordsDeleted)
}
