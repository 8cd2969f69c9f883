package bus

import "context"

type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySuccess
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeveritySuccess:
		return "success"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Notification is a short user-facing notice addressed to one chat.
type Notification struct {
	ChatID   int64
	Severity Severity
	Text     string
}

type Notifier interface {
	Notify(ctx context.Context, sev Severity, text string)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(ctx context.Context, sev Severity, text string)

func (f NotifierFunc) Notify(ctx context.Context, sev Severity, text string) { f(ctx, sev, text) }

// ChatNotifier queues notices for a single chat onto the delivery channel.
type ChatNotifier struct {
	chatID int64
	ch     chan<- Notification
}

func ForChat(chatID int64, ch chan<- Notification) *ChatNotifier {
	return &ChatNotifier{chatID: chatID, ch: ch}
}

// Notify blocks until the notice is queued or ctx is done; in the latter
// case the notice is dropped.
func (c *ChatNotifier) Notify(ctx context.Context, sev Severity, text string) {
	select {
	case c.ch <- Notification{ChatID: c.chatID, Severity: sev, Text: text}:
	case <-ctx.Done():
	}
}
