// ABOUTME: Local completion transport that streams the last user message back word by word
// ABOUTME: Used by the CLI and tests in place of a remote backend; honors context cancellation

package completion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/coven-chat/internal/conversation"
)

// DefaultEchoDelay is the pause between chunks when none is configured.
const DefaultEchoDelay = 40 * time.Millisecond

// errorPrefix makes the echo backend fail with a BackendError, which is
// handy for exercising the error path from the REPL.
const errorPrefix = "/error"

// Echo is a Transport that replies with the last user message.
type Echo struct {
	Delay  time.Duration
	logger *slog.Logger
}

// NewEcho creates an echo transport. Pass nil logger for default.
func NewEcho(delay time.Duration, logger *slog.Logger) *Echo {
	if logger == nil {
		logger = slog.Default()
	}
	if delay < 0 {
		delay = DefaultEchoDelay
	}
	return &Echo{
		Delay:  delay,
		logger: logger.With("component", "echo"),
	}
}

// SendStreamed writes the reply to deltas one word at a time. It stops early
// when ctx is cancelled and never writes to deltas after returning.
func (e *Echo) SendStreamed(ctx context.Context, req *Request, deltas chan<- string) (*Summary, error) {
	input := lastUserContent(req.Messages)
	if rest, ok := strings.CutPrefix(input, errorPrefix); ok {
		msg := strings.TrimSpace(rest)
		if msg == "" {
			msg = "The echo backend was asked to fail."
		}
		return nil, &BackendError{Code: "echo_error", Message: msg}
	}

	reply := echoReply(input)
	chunks := strings.SplitAfter(reply, " ")

	e.logger.Debug("streaming echo reply", "model", req.Model, "chunks", len(chunks))

	sent := 0
	for _, chunk := range chunks {
		if chunk == "" {
			continue
		}
		select {
		case deltas <- chunk:
			sent++
		case <-ctx.Done():
			return &Summary{Model: req.Model, FinishReason: FinishCancelled, Chunks: sent}, ctx.Err()
		}
		if e.Delay > 0 {
			select {
			case <-time.After(e.Delay):
			case <-ctx.Done():
				return &Summary{Model: req.Model, FinishReason: FinishCancelled, Chunks: sent}, ctx.Err()
			}
		}
	}

	return &Summary{Model: req.Model, FinishReason: FinishStop, Chunks: sent}, nil
}

func lastUserContent(msgs []conversation.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == conversation.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func echoReply(input string) string {
	if strings.TrimSpace(input) == "" {
		return "I didn't catch that."
	}
	return fmt.Sprintf("Echo: %s", input)
}
