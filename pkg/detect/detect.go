// Package detect watches a live text buffer and decides, after a quiet
// period or an explicit commit, whether an edit makes earlier AI analysis
// stale.
package detect

import (
	"log/slog"
	"sync"
	"time"

	"github.com/RobinCoderZhao/experience-kit/pkg/change"
)

// DefaultDebounce is the quiet period before a classification runs.
const DefaultDebounce = 2 * time.Second

// State is the controller's position in the detection cycle.
type State int

const (
	Idle State = iota
	Pending
	Classifying
	AwaitingUserDecision
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Classifying:
		return "classifying"
	case AwaitingUserDecision:
		return "awaiting-user-decision"
	default:
		return "unknown"
	}
}

// Handler receives a classified change.
type Handler func(change.TextChange)

// Option configures a Controller.
type Option func(*Controller)

// WithDebounce sets the quiet period. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithClassifier replaces the default-threshold classifier.
func WithClassifier(cl *change.Classifier) Option {
	return func(c *Controller) {
		if cl != nil {
			c.classifier = cl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Controller is a debounced state machine over one text buffer. At most one
// timer is live at a time; every new edit cancels and restarts it.
type Controller struct {
	classifier *change.Classifier
	debounce   time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	state    State
	baseline string
	buffer   string
	timer    *time.Timer
	gen      uint64 // bumped whenever the live timer is replaced or cancelled
	rerun    bool   // an edit arrived while classifying
	closed   bool
	last     *change.TextChange

	onChange     []Handler
	onReAnalysis []Handler
}

// New creates an idle controller whose baseline and buffer are baseline.
func New(baseline string, opts ...Option) *Controller {
	c := &Controller{
		classifier: change.NewClassifier(change.DefaultThresholds()),
		debounce:   DefaultDebounce,
		logger:     slog.Default(),
		baseline:   baseline,
		buffer:     baseline,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChangeDetected registers a handler for changes that do not need
// re-analysis.
func (c *Controller) OnChangeDetected(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, h)
}

// OnReAnalysisNeeded registers a handler for changes that make the analysis
// stale. After it fires the controller waits for Reset, ResetTo or Dismiss.
func (c *Controller) OnReAnalysisNeeded(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReAnalysis = append(c.onReAnalysis, h)
}

// HandleTextChange records a live edit.
func (c *Controller) HandleTextChange(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.buffer = text
	switch c.state {
	case Idle, Pending:
		c.arm()
	case Classifying:
		c.rerun = true
	case AwaitingUserDecision:
		// buffer only
	}
}

// ReplaceBuffer swaps the latest text from old to text without arming the
// timer or moving the baseline. Hosts use it when they change the text
// themselves, as when an AI span is removed. It reports false, and changes
// nothing, when the buffer no longer holds old.
func (c *Controller) ReplaceBuffer(old, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.buffer != old {
		return false
	}
	c.buffer = text
	return true
}

// TriggerAnalysis classifies immediately, skipping the debounce. It reports
// false when a classification is running, a decision is awaited, or the
// controller is closed.
func (c *Controller) TriggerAnalysis() bool {
	c.mu.Lock()
	if c.closed || c.state == Classifying || c.state == AwaitingUserDecision {
		c.mu.Unlock()
		return false
	}
	c.cancel()
	c.run()
	return true
}

// ResetDetection returns to Idle with the current buffer as the new baseline.
func (c *Controller) ResetDetection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetTo(c.buffer)
}

// ResetTo returns to Idle with text as both baseline and buffer.
func (c *Controller) ResetTo(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer = text
	c.resetTo(text)
}

func (c *Controller) resetTo(text string) {
	c.cancel()
	c.baseline = text
	c.state = Idle
	c.rerun = false
	c.last = nil
}

// Dismiss returns to Idle and keeps the baseline, so the next edit is still
// compared against it.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
	c.state = Idle
	c.rerun = false
}

// Close cancels the timer. Nothing is classified or emitted afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cancel()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Baseline returns the text changes are compared against.
func (c *Controller) Baseline() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseline
}

// Buffer returns the latest text seen.
func (c *Controller) Buffer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer
}

// PendingChange returns the change awaiting a user decision, if any.
func (c *Controller) PendingChange() (change.TextChange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != AwaitingUserDecision || c.last == nil {
		return change.TextChange{}, false
	}
	return *c.last, true
}

// arm (re)starts the debounce timer. Caller holds mu.
func (c *Controller) arm() {
	c.cancel()
	gen := c.gen
	c.timer = time.AfterFunc(c.debounce, func() { c.fire(gen) })
	c.state = Pending
}

// cancel stops the live timer. A timer that already fired sees a newer
// generation and does nothing. Caller holds mu.
func (c *Controller) cancel() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.state != Pending {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.run()
}

// run classifies baseline against buffer. It is entered with mu held and
// returns with mu released; handlers run unlocked.
func (c *Controller) run() {
	c.state = Classifying
	c.rerun = false
	baseline, buffer := c.baseline, c.buffer
	c.mu.Unlock()

	var ch change.TextChange
	changed := baseline != buffer
	if changed {
		ch = c.classifier.Classify(baseline, buffer)
	}

	c.mu.Lock()
	if c.closed || c.state != Classifying {
		// closed, reset or dismissed while classifying
		c.mu.Unlock()
		return
	}

	var handlers []Handler
	switch {
	case !changed:
		c.state = Idle
	case ch.NeedsReAnalysis:
		c.state = AwaitingUserDecision
		c.last = &ch
		c.rerun = false
		handlers = append(handlers, c.onReAnalysis...)
	default:
		c.state = Idle
		handlers = append(handlers, c.onChange...)
	}
	if c.rerun && c.state == Idle {
		c.arm()
	}
	c.rerun = false
	c.mu.Unlock()

	if changed {
		c.logger.Debug("change classified",
			"type", ch.Type, "severity", ch.Severity,
			"added", ch.WordsAdded, "deleted", ch.WordsDeleted)
	}
	for _, h := range handlers {
		if c.isClosed() {
			return
		}
		h(ch)
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
