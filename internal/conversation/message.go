// ABOUTME: Chat message types and the codec that serializes a message list into a conversation record
// ABOUTME: Decoding failures surface as DecodeError so callers can tell corruption from an empty list

package conversation

import (
	"encoding/json"
	"fmt"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageType marks whether a message is ordinary content or a rendered error.
type MessageType string

const (
	MessageNormal MessageType = "normal"
	MessageError  MessageType = "error"
)

// Attachment is an opaque file reference. The file payload lives elsewhere.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
}

// ChatMessage is one entry in a conversation's message list.
type ChatMessage struct {
	ID          int          `json:"id"`
	Role        Role         `json:"role"`
	Type        MessageType  `json:"messageType"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// CloneMessages returns a deep copy of msgs, attachments included.
// A nil input yields an empty, non-nil slice.
func CloneMessages(msgs []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.Attachments != nil {
			out[i].Attachments = append([]Attachment(nil), m.Attachments...)
		}
	}
	return out
}

// Codec converts a message list to and from the text stored in
// store.Conversation.Messages.
type Codec interface {
	Encode(msgs []ChatMessage) (string, error)
	Decode(data string) ([]ChatMessage, error)
	// Empty is the encoding of an empty list.
	Empty() string
}

// DecodeError reports stored message text that could not be parsed.
type DecodeError struct {
	ConversationID int64
	Err            error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding messages of conversation %d: %v", e.ConversationID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// JSONCodec stores a message list as a JSON array.
type JSONCodec struct{}

func (JSONCodec) Encode(msgs []ChatMessage) (string, error) {
	if msgs == nil {
		msgs = []ChatMessage{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode rejects anything that is not a JSON array, including the empty
// string and "null".
func (JSONCodec) Decode(data string) ([]ChatMessage, error) {
	var msgs []ChatMessage
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		return nil, fmt.Errorf("message list is not an array: %q", truncate(data, 32))
	}
	return msgs, nil
}

func (JSONCodec) Empty() string { return "[]" }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
