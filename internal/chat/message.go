// Package chat holds the canonical conversation model shared by all provider
// adapters: roles, messages with optional image attachments, and the
// streaming message lifecycle.
package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string { return string(r) }

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Attachment is a raw image payload with its declared MIME type.
type Attachment struct {
	MIME string `json:"mime"`
	Data []byte `json:"data"`
}

// Message is one conversational turn. A message is immutable once appended to
// a conversation, with one exception: an assistant message created by
// NewStreamingMessage accumulates fragments until Finalize is called.
type Message struct {
	ID        string       `json:"id"`
	Role      Role         `json:"role"`
	Text      string       `json:"text"`
	Images    []Attachment `json:"images,omitempty"`
	CreatedAt time.Time    `json:"created_at"`

	// Streaming state; zero-valued for batch messages.
	streaming bool
	buf       strings.Builder
}

// NewMessage constructs a finalized message, validating the role/attachment
// contract: only user messages may carry attachments, and text must be
// non-empty for everything except a streaming assistant placeholder.
func NewMessage(role Role, text string, images ...Attachment) (*Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if len(images) > 0 && role != RoleUser {
		return nil, fmt.Errorf("%w: attachments are only allowed on user messages, got role %q", ErrValidation, role)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty text for %s message", ErrValidation, role)
	}
	for i, img := range images {
		if img.MIME == "" || len(img.Data) == 0 {
			return nil, fmt.Errorf("%w: attachment %d missing mime type or data", ErrValidation, i)
		}
	}
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Images:    images,
		CreatedAt: time.Now(),
	}, nil
}

// NewUserMessage constructs a user message with optional image attachments.
func NewUserMessage(text string, images ...Attachment) (*Message, error) {
	return NewMessage(RoleUser, text, images...)
}

// NewSystemMessage constructs a system message.
func NewSystemMessage(text string) (*Message, error) {
	return NewMessage(RoleSystem, text)
}

// NewStreamingMessage constructs an empty assistant message in streaming
// state. Its text grows via AppendFragment and freezes on Finalize.
func NewStreamingMessage() *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		CreatedAt: time.Now(),
		streaming: true,
	}
}

// Streaming reports whether the message still accepts fragments.
func (m *Message) Streaming() bool { return m.streaming }

// AppendFragment concatenates fragment onto a streaming message.
// Appending to a finalized message is a state error.
func (m *Message) AppendFragment(fragment string) error {
	if !m.streaming {
		return fmt.Errorf("%w: append to finalized message %s", ErrState, m.ID)
	}
	m.buf.WriteString(fragment)
	return nil
}

// Finalize freezes a streaming message, merging accumulated fragments into
// Text. Calling Finalize on an already-final message is a no-op.
func (m *Message) Finalize() {
	if !m.streaming {
		return
	}
	m.Text = m.buf.String()
	m.buf.Reset()
	m.streaming = false
}

// DisplayText returns the text to render: the accumulated fragments while
// streaming, the frozen text afterwards.
func (m *Message) DisplayText() string {
	if m.streaming {
		return m.buf.String()
	}
	return m.Text
}

// EstimateTokens gives a rough token count (~4 characters per token).
func (m *Message) EstimateTokens() int {
	return (len(m.DisplayText()) + 3) / 4
}
