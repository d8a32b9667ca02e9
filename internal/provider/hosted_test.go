package provider

import (
	"errors"
	"testing"

	"github.com/raphaelgruber/parley/internal/chat"
	"github.com/tmc/langchaingo/llms"
)

func TestToLangchainMessages(t *testing.T) {
	sys, _ := chat.NewSystemMessage("be brief")
	user, _ := chat.NewUserMessage("what is in this image?",
		chat.Attachment{MIME: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}})
	asst, _ := chat.NewMessage(chat.RoleAssistant, "a cat")

	msgs, err := toLangchainMessages([]*chat.Message{sys, user, asst})
	if err != nil {
		t.Fatalf("toLangchainMessages() error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}

	wantRoles := []llms.ChatMessageType{
		llms.ChatMessageTypeSystem,
		llms.ChatMessageTypeHuman,
		llms.ChatMessageTypeAI,
	}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Errorf("message %d role = %v, want %v", i, msgs[i].Role, want)
		}
	}

	// User message carries text part plus one binary image part.
	if len(msgs[1].Parts) != 2 {
		t.Fatalf("user message has %d parts, want 2", len(msgs[1].Parts))
	}
	bin, ok := msgs[1].Parts[1].(llms.BinaryContent)
	if !ok {
		t.Fatalf("part 1 is %T, want llms.BinaryContent", msgs[1].Parts[1])
	}
	if bin.MIMEType != "image/jpeg" {
		t.Errorf("binary part mime = %q", bin.MIMEType)
	}
}

func TestResponseMessage(t *testing.T) {
	tests := []struct {
		name    string
		resp    *llms.ContentResponse
		want    string
		wantErr bool
	}{
		{
			name: "single choice",
			resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "hello"}}},
			want: "hello",
		},
		{name: "nil response", resp: nil, wantErr: true},
		{name: "no choices", resp: &llms.ContentResponse{}, wantErr: true},
		{
			name:    "empty content",
			resp:    &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: ""}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := responseMessage("openai", tt.resp)
			if tt.wantErr {
				var pe *chat.ProviderError
				if !errors.As(err, &pe) {
					t.Fatalf("error = %v, want *chat.ProviderError", err)
				}
				if pe.Provider != "openai" {
					t.Errorf("provider tag = %q", pe.Provider)
				}
				return
			}
			if err != nil {
				t.Fatalf("responseMessage() error: %v", err)
			}
			if msg.Text != tt.want {
				t.Errorf("Text = %q, want %q", msg.Text, tt.want)
			}
			if msg.Role != chat.RoleAssistant {
				t.Errorf("Role = %q, want assistant", msg.Role)
			}
		})
	}
}

func TestRenderPrompt(t *testing.T) {
	sys, _ := chat.NewSystemMessage("be brief")
	user, _ := chat.NewUserMessage("hi")

	prompt, err := renderPrompt([]*chat.Message{sys, user})
	if err != nil {
		t.Fatalf("renderPrompt() error: %v", err)
	}
	want := "<|begin_of_text|>" +
		"<|start_header_id|>system<|end_header_id|>\n\nbe brief<|eot_id|>" +
		"<|start_header_id|>user<|end_header_id|>\n\nhi<|eot_id|>" +
		"<|start_header_id|>assistant<|end_header_id|>\n\n"
	if prompt != want {
		t.Errorf("renderPrompt() = %q, want %q", prompt, want)
	}
}

func TestRenderPrompt_RejectsAttachments(t *testing.T) {
	user, _ := chat.NewUserMessage("look",
		chat.Attachment{MIME: "image/png", Data: []byte{1, 2, 3}})

	_, err := renderPrompt([]*chat.Message{user})
	if !errors.Is(err, chat.ErrValidation) {
		t.Errorf("renderPrompt() with image = %v, want ErrValidation", err)
	}
}
