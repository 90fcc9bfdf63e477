package notification

import (
	"context"
	"log/slog"
	"sync"
)

const (
	// KindUOMeConfirmed tells a borrower a confirmed UOMe awaits acceptance.
	KindUOMeConfirmed = "uome_confirmed"
	// KindUOMeAccepted tells a lender the borrower accepted.
	KindUOMeAccepted = "uome_accepted"
)

// Message describes a notification payload. Destination is a member key.
type Message struct {
	Kind        string
	GroupID     string
	UOMeID      string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.InfoContext(ctx, "notification",
		"kind", message.Kind,
		"group_id", message.GroupID,
		"uome_id", message.UOMeID,
		"destination", message.Destination,
		"body", message.Body,
	)
	return nil
}

// Recorder keeps every message in memory. Tests use it to assert delivery.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Send implements Notifier.
func (r *Recorder) Send(_ context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
