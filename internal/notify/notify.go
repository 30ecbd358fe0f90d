// ABOUTME: Out-of-band notification sinks for errors and confirmations
// ABOUTME: Log sink (slog), colored console sink (fatih/color) and a fan-out combinator

// Package notify implements the notification sinks the session controller
// reports unexpected errors and confirmations to.
package notify

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/completion"
)

// Sink receives fire-and-forget notifications.
type Sink interface {
	ReportError(err error, context string)
	ReportSuccess(message string)
}

// LogSink writes notifications to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink. Pass nil logger for default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "notify")}
}

func (s *LogSink) ReportError(err error, context string) {
	s.logger.Error(context, "error", err)
}

func (s *LogSink) ReportSuccess(message string) {
	s.logger.Info(message)
}

// ConsoleSink prints notifications for a terminal user.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleSink creates a console sink writing to out.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

func (s *ConsoleSink) ReportError(err error, context string) {
	red := color.New(color.FgRed, color.Bold)

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "%s %s: %s\n", red.Sprint("✗"), context, Describe(err))
}

func (s *ConsoleSink) ReportSuccess(message string) {
	green := color.New(color.FgGreen)

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "%s %s\n", green.Sprint("✓"), message)
}

// Describe returns the text a user should see for err. Backend errors carry
// their own user-facing message; anything else falls back to err.Error().
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var backendErr *completion.BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Message
	}
	return err.Error()
}

// Multi fans every notification out to each sink in order.
type Multi []Sink

func (m Multi) ReportError(err error, context string) {
	for _, s := range m {
		s.ReportError(err, context)
	}
}

func (m Multi) ReportSuccess(message string) {
	for _, s := range m {
		s.ReportSuccess(message)
	}
}
