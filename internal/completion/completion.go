// ABOUTME: Request, summary and error types shared by completion transports
// ABOUTME: BackendError is the one failure kind whose text is shown to the user in the chat

// Package completion defines the contract between the session controller and
// a streaming completion backend.
package completion

import (
	"github.com/2389/coven-chat/internal/conversation"
)

// Request is one streamed completion call. Messages starts with the system
// preamble and already excludes error-typed history.
type Request struct {
	Model    string
	Messages []conversation.ChatMessage
}

// Summary describes a finished completion.
type Summary struct {
	Model        string
	FinishReason string
	Chunks       int
}

// Finish reasons reported in Summary.
const (
	FinishStop      = "stop"
	FinishCancelled = "cancelled"
)

// BackendError is a structured failure reported by the backend whose Message
// is safe to show to the user.
type BackendError struct {
	Code    string
	Message string
}

func (e *BackendError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}
