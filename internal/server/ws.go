package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/parley/internal/chat"
	"github.com/raphaelgruber/parley/internal/provider"
	"github.com/raphaelgruber/parley/internal/session"
	"github.com/raphaelgruber/parley/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local front-end only
	},
}

// clientFrame is a message from the browser. Only "send" is defined. A
// conversation_id on the first send frame resumes that stored conversation.
type clientFrame struct {
	Type           string            `json:"type"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Text           string            `json:"text,omitempty"`
	Model          string            `json:"model,omitempty"`
	Attachments    []attachmentFrame `json:"attachments,omitempty"`
}

// attachmentFrame carries an attachment; Data is base64 in the JSON encoding.
type attachmentFrame struct {
	MIME string `json:"mime"`
	Data []byte `json:"data"`
}

// serverFrame is a message to the browser: a reply fragment, turn completion,
// or an error that ends the turn.
type serverFrame struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

// handleWS runs one conversation per WebSocket connection. The model and
// conversation are fixed by the first send frame (model falling back to the
// configured default); later values are ignored. The conversation, fresh or
// resumed, is exclusively owned by this socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var sess *session.Session
	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		if frame.Type != "send" {
			s.writeError(conn, chat.ErrValidation, "unknown frame type "+frame.Type)
			continue
		}

		if sess == nil {
			model := frame.Model
			if model == "" {
				model = s.cfg.DefaultModel
			}
			opts := session.Options{
				Params:    provider.Params{MaxTokens: s.cfg.MaxTokens},
				Stream:    true,
				Collector: s.collector,
				Store:     s.store,
				Logger:    s.logger,
			}
			if frame.ConversationID != "" {
				sess, err = s.resumeSession(r.Context(), frame.ConversationID, model, opts)
			} else {
				sess, err = session.NewFromRegistry(s.registry, model, opts)
			}
			if err != nil {
				s.writeError(conn, err, err.Error())
				sess = nil
				continue
			}
		}

		s.serveTurn(r.Context(), conn, sess, frame)
	}
}

// resumeSession reloads a stored conversation so the socket continues it.
func (s *Server) resumeSession(ctx context.Context, conversationID, model string, opts session.Options) (*session.Session, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: conversation store disabled", chat.ErrConfiguration)
	}
	conv, err := s.store.LoadConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown conversation %q", chat.ErrValidation, conversationID)
		}
		return nil, err
	}
	return session.ResumeFromRegistry(s.registry, model, conv, opts)
}

func (s *Server) serveTurn(ctx context.Context, conn *websocket.Conn, sess *session.Session, frame clientFrame) {
	attachments := make([]chat.Attachment, 0, len(frame.Attachments))
	for _, att := range frame.Attachments {
		attachments = append(attachments, chat.Attachment{MIME: att.MIME, Data: att.Data})
	}

	userMsg, err := chat.NewUserMessage(frame.Text, attachments...)
	if err != nil {
		s.writeError(conn, err, err.Error())
		return
	}

	turn, err := sess.Send(ctx, userMsg)
	if err != nil {
		s.writeError(conn, err, err.Error())
		return
	}

	for {
		frag, err := turn.Stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.writeError(conn, err, err.Error())
			return
		}
		if err := conn.WriteJSON(serverFrame{Type: "fragment", Text: frag}); err != nil {
			s.logger.Warn("websocket write failed", "error", err)
			_ = turn.Stream.Close()
			return
		}
	}

	final := turn.Stream.Message()
	done := serverFrame{Type: "done"}
	if final != nil {
		done.MessageID = final.ID
		done.Text = final.Text
	}
	if err := conn.WriteJSON(done); err != nil {
		s.logger.Warn("websocket write failed", "error", err)
	}
}

func (s *Server) writeError(conn *websocket.Conn, err error, msg string) {
	if writeErr := conn.WriteJSON(serverFrame{
		Type:  "error",
		Error: msg,
		Code:  errorCode(err),
	}); writeErr != nil {
		s.logger.Warn("websocket write failed", "error", writeErr)
	}
}

// errorCode maps the error taxonomy onto wire codes.
func errorCode(err error) string {
	var pe *chat.ProviderError
	switch {
	case errors.As(err, &pe):
		return "provider"
	case errors.Is(err, chat.ErrValidation):
		return "validation"
	case errors.Is(err, chat.ErrState):
		return "state"
	case errors.Is(err, chat.ErrConfiguration):
		return "configuration"
	case errors.Is(err, chat.ErrResource):
		return "resource"
	}
	return "internal"
}
