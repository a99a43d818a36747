// Package toast shows short-lived notifications to the player.
package toast

import "log/slog"

// Toaster displays a transient message.
type Toaster interface {
	Show(text string)
}

// Func adapts a function to a Toaster.
type Func func(text string)

// Show calls f(text).
func (f Func) Show(text string) {
	f(text)
}

// Log writes toasts to a logger. Used when no screen is attached.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Toaster backed by logger.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Show logs the toast text.
func (t *Log) Show(text string) {
	t.logger.Info("Toast", "text", text)
}

// Multi forwards every toast to each Toaster in order.
type Multi []Toaster

// Show forwards text.
func (m Multi) Show(text string) {
	for _, t := range m {
		t.Show(text)
	}
}
