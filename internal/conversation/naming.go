// ABOUTME: Helpers used when a conversation is first created
// ABOUTME: Title derivation, system prompt resolution and clock-derived conversation ids

package conversation

import (
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

// FallbackInstructions is the system prompt used when neither the user nor
// the application configures one.
const FallbackInstructions = "You are a helpful assistant. Answer clearly and concisely."

// DefaultMaxTitleLength bounds DeriveTitle when the caller passes a non-positive max.
const DefaultMaxTitleLength = 50

// DeriveTitle builds a conversation title from the first user message:
// leading whitespace is dropped, only the first line is kept, and the result
// is cut to at most max runes.
func DeriveTitle(text string, max int) string {
	if max <= 0 {
		max = DefaultMaxTitleLength
	}

	title := strings.TrimLeftFunc(text, unicode.IsSpace)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.TrimRight(title, "\r")

	runes := []rune(title)
	if len(runes) > max {
		title = string(runes[:max])
	}
	return title
}

// ResolveSystemPrompt returns the first candidate that is not blank, or
// FallbackInstructions if every candidate is blank.
func ResolveSystemPrompt(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return FallbackInstructions
}

var lastID atomic.Int64

// NewID returns a conversation id derived from now in unix milliseconds.
// Ids are strictly increasing within the process even when called twice in
// the same millisecond.
func NewID(now time.Time) int64 {
	candidate := now.UnixMilli()
	for {
		prev := lastID.Load()
		next := candidate
		if next <= prev {
			next = prev + 1
		}
		if lastID.CompareAndSwap(prev, next) {
			return next
		}
	}
}
