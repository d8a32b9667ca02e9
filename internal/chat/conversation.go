package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Conversation is an ordered message history, oldest first. A conversation is
// owned by exactly one chat session; it is not safe for concurrent use.
type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Messages  []*Message `json:"messages"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewConversation creates an empty conversation with a generated ID.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a finalized message to the history. Streaming messages must be
// finalized first; appending one is a state error.
func (c *Conversation) Append(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrValidation)
	}
	if msg.Streaming() {
		return fmt.Errorf("%w: cannot append message %s while streaming", ErrState, msg.ID)
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	c.updateTitle(msg)
	return nil
}

// Last returns the most recent message, or nil for an empty history.
func (c *Conversation) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// Len returns the number of messages in the history.
func (c *Conversation) Len() int { return len(c.Messages) }

// ValidateForGeneration checks the trailing-role invariant: a generation
// request may only be issued when the last message is from the user.
func (c *Conversation) ValidateForGeneration() error {
	last := c.Last()
	if last == nil {
		return fmt.Errorf("%w: cannot generate from an empty conversation", ErrState)
	}
	if last.Role != RoleUser {
		return fmt.Errorf("%w: trailing message must be from user, got %q", ErrState, last.Role)
	}
	return nil
}

// History returns a snapshot copy of the message slice. The messages
// themselves are shared; they are immutable once appended.
func (c *Conversation) History() []*Message {
	out := make([]*Message, len(c.Messages))
	copy(out, c.Messages)
	return out
}

// updateTitle derives the title from the first user message.
func (c *Conversation) updateTitle(msg *Message) {
	if c.Title != "" || msg.Role != RoleUser {
		return
	}
	const maxTitle = 50
	runes := []rune(msg.Text)
	if len(runes) > maxTitle {
		c.Title = string(runes[:maxTitle-3]) + "..."
		return
	}
	c.Title = msg.Text
}
