// ABOUTME: Tests for delta reconciliation and history replay filtering
// ABOUTME: Pure functions, no controller or store involved

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/conversation"
)

func userOnly() []conversation.ChatMessage {
	return []conversation.ChatMessage{
		{ID: 1, Role: conversation.RoleUser, Type: conversation.MessageNormal, Content: "hi"},
	}
}

func TestApplyDelta_FirstDeltaStartsAssistantMessage(t *testing.T) {
	start := userOnly()

	afterHello, ok := ApplyDelta(start, "Hello")
	require.True(t, ok)
	afterWorld, ok := ApplyDelta(afterHello, " world")
	require.True(t, ok)

	require.Len(t, afterWorld, 2)
	assert.Equal(t, conversation.ChatMessage{
		ID:      2,
		Role:    conversation.RoleAssistant,
		Type:    conversation.MessageNormal,
		Content: "Hello world",
	}, afterWorld[1])
	assert.Equal(t, "hi", afterWorld[0].Content)
}

func TestApplyDelta_NeverMutatesInput(t *testing.T) {
	start := userOnly()
	afterHello, _ := ApplyDelta(start, "Hello")
	_, _ = ApplyDelta(afterHello, " world")

	assert.Len(t, start, 1)
	assert.Equal(t, "Hello", afterHello[1].Content)
}

func TestApplyDelta_ReturnsNewListEachTime(t *testing.T) {
	afterHello, _ := ApplyDelta(userOnly(), "Hello")
	afterWorld, _ := ApplyDelta(afterHello, "!")
	assert.NotSame(t, &afterHello[0], &afterWorld[0])
}

func TestApplyDelta_EmptyListIsRejected(t *testing.T) {
	next, ok := ApplyDelta(nil, "orphan")
	assert.False(t, ok)
	assert.Empty(t, next)

	next, ok = ApplyDelta([]conversation.ChatMessage{}, "orphan")
	assert.False(t, ok)
	assert.Empty(t, next)
}

func TestReplayable_DropsErrorMessages(t *testing.T) {
	msgs := []conversation.ChatMessage{
		{ID: 1, Role: conversation.RoleUser, Type: conversation.MessageNormal, Content: "q1"},
		{ID: 2, Role: conversation.RoleAssistant, Type: conversation.MessageError, Content: "rate limited"},
		{ID: 3, Role: conversation.RoleUser, Type: conversation.MessageNormal, Content: "q2"},
	}

	got := replayable(msgs)
	require.Len(t, got, 2)
	assert.Equal(t, "q1", got[0].Content)
	assert.Equal(t, "q2", got[1].Content)
}
