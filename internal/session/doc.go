// Package session implements the streaming session controller.
//
// # States
//
// A Controller is Idle (no conversation), Active (a conversation is loaded)
// or Streaming (a completion is outstanding). Submit moves it to Streaming;
// the stream's end, cancellation or failure moves it back to Active.
//
// # Streaming
//
// Each Submit starts a Task. The task owns a bounded delta channel which the
// Transport writes into; one reconciler goroutine drains it in order and
// merges every delta into the task's working list with ApplyDelta. When the
// transport returns, the outcome decides the final list:
//
//   - success: the reconciled list
//   - *completion.BackendError: the list plus an error-typed assistant message
//   - cancellation: whatever was reconciled before the transport stopped
//   - any other error: the list as it was before the call, and the error goes
//     to the Sink
//
// The final list is persisted once, on a context detached from the caller's
// so that a cancelled stream still commits. Intermediate deltas only live in
// memory.
//
// # Navigation
//
// StartNew and Select cancel a running task. The task keeps its own copy of
// the conversation and still persists its partial reply there. Select reads
// and decodes the record before touching visible state, so the controller
// never shows a half-loaded conversation.
package session
