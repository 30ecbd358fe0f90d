// ABOUTME: Pure reconciliation of one streamed delta into a message list
// ABOUTME: Always returns a fresh list so observers can compare by identity

package session

import (
	"github.com/2389/coven-chat/internal/conversation"
)

// ApplyDelta merges delta into msgs. If the last message is from the user,
// delta starts a new assistant message; otherwise it is appended to the last
// message's content. msgs is never modified. An empty msgs has nothing to
// attach the delta to, so it is returned unchanged with ok == false.
func ApplyDelta(msgs []conversation.ChatMessage, delta string) (next []conversation.ChatMessage, ok bool) {
	n := len(msgs)
	if n == 0 {
		return msgs, false
	}

	last := msgs[n-1]
	if last.Role == conversation.RoleUser {
		next = make([]conversation.ChatMessage, n+1)
		copy(next, msgs)
		next[n] = conversation.ChatMessage{
			ID:      n + 1,
			Role:    conversation.RoleAssistant,
			Type:    conversation.MessageNormal,
			Content: delta,
		}
		return next, true
	}

	next = make([]conversation.ChatMessage, n)
	copy(next, msgs)
	last.Content += delta
	next[n-1] = last
	return next, true
}

// replayable drops error-typed messages, which are shown to the user but
// never sent back to the backend.
func replayable(msgs []conversation.ChatMessage) []conversation.ChatMessage {
	out := make([]conversation.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Type == conversation.MessageError {
			continue
		}
		out = append(out, m)
	}
	return out
}
