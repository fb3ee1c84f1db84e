// Package notify abstracts user-facing desktop notifications. The daemon
// only depends on the Notifier interface; OS toast backends plug in from
// outside this repository.
package notify

import "log/slog"

// Notifier delivers a short user-facing notification.
type Notifier interface {
	Send(title, message string)
}

// Log is the default Notifier: it writes notifications to the structured
// log instead of the desktop.
type Log struct {
	Logger *slog.Logger
}

// NewLog creates a log-backed notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{Logger: logger}
}

// Send logs the notification at info level.
func (l *Log) Send(title, message string) {
	l.Logger.Info("notification",
		slog.String("title", title),
		slog.String("message", message),
	)
}

// Discard is a Notifier that drops everything. Useful in tests.
type Discard struct{}

// Send does nothing.
func (Discard) Send(string, string) {}
