package store

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/parley/internal/chat"
	"github.com/raphaelgruber/parley/internal/session"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

var _ session.Store = (*Client)(nil)

// ConversationRecord is a persisted conversation row.
type ConversationRecord struct {
	ID      surrealmodels.RecordID `json:"id"`
	Title   string                 `json:"title"`
	Model   *string                `json:"model,omitempty"`
	Created time.Time              `json:"created"`
	Updated time.Time              `json:"updated"`
}

// ImageRecord is a persisted attachment.
type ImageRecord struct {
	MIME string `json:"mime"`
	Data []byte `json:"data"`
}

// MessageRecord is a persisted message row. Seq preserves append order within
// a conversation independent of clock resolution.
type MessageRecord struct {
	ID           surrealmodels.RecordID `json:"id"`
	Conversation string                 `json:"conversation"`
	Role         string                 `json:"role"`
	Text         string                 `json:"text"`
	Seq          int                    `json:"seq"`
	Images       []ImageRecord          `json:"images,omitempty"`
	Created      time.Time              `json:"created"`
}

// RecordIDString extracts the string ID from a SurrealDB RecordID.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// SaveConversation upserts the conversation row. Safe to call on every turn.
func (c *Client) SaveConversation(ctx context.Context, conv *chat.Conversation) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("conversation", $id) SET
			title = $title,
			updated = time::now()
	`, map[string]any{
		"id":    conv.ID,
		"title": conv.Title,
	})
	if err != nil {
		return fmt.Errorf("save conversation: %w", wrapQueryError(err))
	}
	return nil
}

// AppendMessage persists one finalized message and bumps the conversation's
// updated timestamp. The sequence number continues from the highest stored.
func (c *Client) AppendMessage(ctx context.Context, conversationID string, msg *chat.Message) error {
	if msg.Streaming() {
		return fmt.Errorf("append message: %w: message %s not finalized", chat.ErrState, msg.ID)
	}

	images := make([]ImageRecord, 0, len(msg.Images))
	for _, img := range msg.Images {
		images = append(images, ImageRecord{MIME: img.MIME, Data: img.Data})
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		LET $n = (SELECT VALUE count() FROM message WHERE conversation = $conv GROUP ALL)[0] ?? 0;
		CREATE type::record("message", $id) SET
			conversation = $conv,
			role = $role,
			text = $text,
			seq = $n,
			images = $images;
		UPDATE type::record("conversation", $conv) SET updated = time::now();
	`, map[string]any{
		"id":     msg.ID,
		"conv":   conversationID,
		"role":   msg.Role.String(),
		"text":   msg.Text,
		"images": images,
	})
	if err != nil {
		return fmt.Errorf("append message: %w", wrapQueryError(err))
	}
	return nil
}

// ListConversations returns the most recently updated conversations.
func (c *Client) ListConversations(ctx context.Context, limit int) ([]ConversationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	results, err := surrealdb.Query[[]ConversationRecord](ctx, c.db, `
		SELECT * FROM conversation ORDER BY updated DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []ConversationRecord{}, nil
	}
	return (*results)[0].Result, nil
}

// LoadConversation rebuilds a conversation with its messages in append order.
func (c *Client) LoadConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	convResults, err := surrealdb.Query[[]ConversationRecord](ctx, c.db, `
		SELECT * FROM type::record("conversation", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", wrapQueryError(err))
	}
	if convResults == nil || len(*convResults) == 0 || len((*convResults)[0].Result) == 0 {
		return nil, fmt.Errorf("load conversation %s: %w", id, ErrNotFound)
	}
	rec := (*convResults)[0].Result[0]

	msgResults, err := surrealdb.Query[[]MessageRecord](ctx, c.db, `
		SELECT * FROM message WHERE conversation = $conv ORDER BY seq ASC
	`, map[string]any{"conv": id})
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", wrapQueryError(err))
	}

	conv := &chat.Conversation{
		ID:        id,
		Title:     rec.Title,
		CreatedAt: rec.Created,
		UpdatedAt: rec.Updated,
	}
	if msgResults != nil && len(*msgResults) > 0 {
		for _, m := range (*msgResults)[0].Result {
			msgID, err := RecordIDString(m.ID)
			if err != nil {
				return nil, fmt.Errorf("load messages: %w", err)
			}
			images := make([]chat.Attachment, 0, len(m.Images))
			for _, img := range m.Images {
				images = append(images, chat.Attachment{MIME: img.MIME, Data: img.Data})
			}
			conv.Messages = append(conv.Messages, &chat.Message{
				ID:        msgID,
				Role:      chat.Role(m.Role),
				Text:      m.Text,
				Images:    images,
				CreatedAt: m.Created,
			})
		}
	}
	return conv, nil
}

// DeleteConversation removes a conversation and all its messages.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE message WHERE conversation = $id;
		DELETE type::record("conversation", $id);
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", wrapQueryError(err))
	}
	return nil
}
