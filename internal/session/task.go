// ABOUTME: Task represents one in-flight streamed completion owned by the controller
// ABOUTME: Carries its own conversation snapshot and working list so it can finish after navigation

package session

import (
	"context"

	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/store"
)

// Outcome describes how a task ended.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeCompleted
	OutcomeCancelled
	OutcomeBackendError
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeBackendError:
		return "backend_error"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Task is a running completion. Its fields other than id, done and cancel are
// guarded by the owning controller's mutex until done is closed.
type Task struct {
	id     string
	conv   *store.Conversation
	base   []conversation.ChatMessage
	msgs   []conversation.ChatMessage
	cancel context.CancelFunc
	done   chan struct{}

	outcome Outcome
	err     error
	saveErr error
}

// ID returns the task's unique id.
func (t *Task) ID() string { return t.id }

// ConversationID returns the id of the conversation the task writes to.
func (t *Task) ConversationID() int64 { return t.conv.ID }

// Done is closed once the task has finished and its result is persisted.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcome reports how the task ended. It is OutcomePending until Done is closed.
func (t *Task) Outcome() Outcome {
	select {
	case <-t.done:
		return t.outcome
	default:
		return OutcomePending
	}
}

// Err returns the transport error, if any, once the task is done.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// SaveErr returns the error from persisting the final list, if any.
func (t *Task) SaveErr() error {
	select {
	case <-t.done:
		return t.saveErr
	default:
		return nil
	}
}

// Messages returns the task's final list once done.
func (t *Task) Messages() []conversation.ChatMessage {
	select {
	case <-t.done:
		return conversation.CloneMessages(t.msgs)
	default:
		return nil
	}
}
