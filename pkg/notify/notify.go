// Package notify fans out change-detection decisions to the channels a host
// has registered: logs, webhooks and live event streams.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RobinCoderZhao/experience-kit/pkg/change"
)

// Channel names a notifier.
type Channel string

const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
	ChannelStream  Channel = "stream"
)

// Kind is how a host should surface a message.
type Kind string

const (
	// Toast is informational and needs no answer.
	Toast Kind = "toast"
	// Modal asks the user to accept, skip or dismiss a re-analysis.
	Modal Kind = "modal"
	// Status reports the outcome of a re-analysis or enrichment.
	Status Kind = "status"
)

// Message is one notification.
type Message struct {
	Kind      Kind               `json:"kind"`
	SessionID string             `json:"sessionId"`
	Title     string             `json:"title"`
	Body      string             `json:"body,omitempty"`
	Change    *change.TextChange `json:"change,omitempty"`
}

// Notifier delivers messages to one channel.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
	Channel() Channel
}

// Dispatcher sends every message to all registered notifiers.
type Dispatcher struct {
	mu        sync.RWMutex
	notifiers map[Channel]Notifier
	logger    *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		notifiers: make(map[Channel]Notifier),
		logger:    slog.Default(),
	}
}

// Register adds n, replacing any notifier on the same channel.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Channel()] = n
}

// Channels returns the registered channels.
func (d *Dispatcher) Channels() []Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Channel, 0, len(d.notifiers))
	for ch := range d.notifiers {
		out = append(out, ch)
	}
	return out
}

// Dispatch sends msg to every notifier. Failures are logged and joined; one
// failing channel does not stop the others.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) error {
	d.mu.RLock()
	notifiers := make([]Notifier, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		notifiers = append(notifiers, n)
	}
	d.mu.RUnlock()

	var errs []error
	for _, n := range notifiers {
		if err := n.Send(ctx, msg); err != nil {
			d.logger.Warn("notification failed", "channel", n.Channel(), "session", msg.SessionID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Channel(), err))
			continue
		}
		d.logger.Debug("notification sent", "channel", n.Channel(), "kind", msg.Kind, "title", msg.Title)
	}
	return errors.Join(errs...)
}

// LogNotifier writes messages to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier on logger, or slog.Default when nil.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Channel() Channel { return ChannelLog }

func (l *LogNotifier) Send(ctx context.Context, msg Message) error {
	attrs := []any{"kind", msg.Kind, "session", msg.SessionID, "title", msg.Title}
	if msg.Change != nil {
		attrs = append(attrs,
			"type", msg.Change.Type,
			"severity", msg.Change.Severity,
			"added", msg.Change.WordsAdded,
			"deleted", msg.Change.WordsDeleted,
		)
	}
	l.logger.InfoContext(ctx, "notification", attrs...)
	return nil
}
