package notify

import (
	"log/slog"
)

// Notifier reports failures that need operator attention.
// Notify is fire-and-forget: it must not block meaningfully and must not panic.
type Notifier interface {
	Notify(summary, details string, cause error)
}

// Log writes notifications to a slog.Logger at error level.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(summary, details string, cause error) {
	lg := l.Logger
	if lg == nil {
		lg = slog.Default()
	}
	attrs := []any{slog.String("details", details)}
	if cause != nil {
		attrs = append(attrs, slog.Any("error", cause))
	}
	lg.Error(summary, attrs...)
}

// Func adapts a function to Notifier.
type Func func(summary, details string, cause error)

func (f Func) Notify(summary, details string, cause error) { f(summary, details, cause) }

// Multi fans a notification out to every notifier. A panicking notifier does not stop the others.
type Multi []Notifier

func (m Multi) Notify(summary, details string, cause error) {
	for _, n := range m {
		if n == nil {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			n.Notify(summary, details, cause)
		}()
	}
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(string, string, error) {}
