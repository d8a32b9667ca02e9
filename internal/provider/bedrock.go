package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/raphaelgruber/parley/internal/chat"
)

// BedrockAdapter is a hosted-API adapter for AWS Bedrock's Converse API.
// Credentials come from the standard AWS chain, resolved once at
// construction. Safe for concurrent use.
type BedrockAdapter struct {
	client *bedrockruntime.Client
	model  string
}

var _ Adapter = (*BedrockAdapter)(nil)

// NewBedrock creates a Bedrock adapter. A missing region is a configuration
// error; credential resolution failures surface here, not at first send.
func NewBedrock(ctx context.Context, region, model string) (*BedrockAdapter, error) {
	if region == "" {
		return nil, fmt.Errorf("%w: AWS region required for bedrock models", chat.ErrConfiguration)
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", chat.ErrConfiguration, err)
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("%w: resolve aws credentials: %v", chat.ErrConfiguration, err)
	}
	return &BedrockAdapter{
		client: bedrockruntime.NewFromConfig(cfg),
		model:  model,
	}, nil
}

// Name returns the adapter family name.
func (a *BedrockAdapter) Name() string { return "bedrock" }

// Generate runs one Converse call, or ConverseStream when streaming.
func (a *BedrockAdapter) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	messages, system, err := toConverseMessages(req.History)
	if err != nil {
		return nil, err
	}

	inference := &types.InferenceConfiguration{
		Temperature: aws.Float32(float32(req.Params.Temperature)),
	}
	if req.Params.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(int32(req.Params.MaxTokens))
	}

	if !req.Stream {
		out, err := a.client.Converse(ctx, &bedrockruntime.ConverseInput{
			ModelId:         aws.String(a.model),
			Messages:        messages,
			System:          system,
			InferenceConfig: inference,
		})
		if err != nil {
			return nil, chat.NewProviderError("bedrock", 0, err)
		}
		text, err := converseOutputText(out.Output)
		if err != nil {
			return nil, err
		}
		msg, err := chat.NewMessage(chat.RoleAssistant, text)
		if err != nil {
			return nil, err
		}
		return &GenerationResult{Message: msg}, nil
	}

	out, err := a.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(a.model),
		Messages:        messages,
		System:          system,
		InferenceConfig: inference,
	})
	if err != nil {
		return nil, chat.NewProviderError("bedrock", 0, err)
	}

	stream := NewStream()
	go func() {
		es := out.GetStream()
		defer es.Close()

		for event := range es.Events() {
			delta, ok := event.(*types.ConverseStreamOutputMemberContentBlockDelta)
			if !ok {
				continue
			}
			text, ok := delta.Value.Delta.(*types.ContentBlockDeltaMemberText)
			if !ok {
				continue
			}
			if !stream.Push(text.Value) {
				return
			}
		}
		if err := es.Err(); err != nil {
			stream.Finish(chat.NewProviderError("bedrock", 0, err))
			return
		}
		stream.Finish(nil)
	}()

	return &GenerationResult{Stream: stream}, nil
}

// toConverseMessages splits history into Converse messages and system blocks.
// Bedrock keeps system prompts out of the message array.
func toConverseMessages(history []*chat.Message) ([]types.Message, []types.SystemContentBlock, error) {
	var messages []types.Message
	var system []types.SystemContentBlock

	for _, msg := range history {
		switch msg.Role {
		case chat.RoleSystem:
			system = append(system, &types.SystemContentBlockMemberText{Value: msg.Text})
			continue
		case chat.RoleUser, chat.RoleAssistant:
		default:
			return nil, nil, fmt.Errorf("%w: unmappable role %q", chat.ErrValidation, msg.Role)
		}

		role := types.ConversationRoleUser
		if msg.Role == chat.RoleAssistant {
			role = types.ConversationRoleAssistant
		}

		content := []types.ContentBlock{
			&types.ContentBlockMemberText{Value: msg.Text},
		}
		for _, img := range msg.Images {
			format, err := imageFormat(img.MIME)
			if err != nil {
				return nil, nil, err
			}
			content = append(content, &types.ContentBlockMemberImage{
				Value: types.ImageBlock{
					Format: format,
					Source: &types.ImageSourceMemberBytes{Value: img.Data},
				},
			})
		}
		messages = append(messages, types.Message{Role: role, Content: content})
	}

	return messages, system, nil
}

// imageFormat maps a declared MIME type onto Bedrock's image format enum.
func imageFormat(mime string) (types.ImageFormat, error) {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, nil
	case "image/png":
		return types.ImageFormatPng, nil
	case "image/gif":
		return types.ImageFormatGif, nil
	case "image/webp":
		return types.ImageFormatWebp, nil
	}
	return "", fmt.Errorf("%w: unsupported image mime type %q for bedrock", chat.ErrValidation, mime)
}

// converseOutputText extracts the assistant text from a batch Converse
// response.
func converseOutputText(out types.ConverseOutput) (string, error) {
	msg, ok := out.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", chat.NewProviderError("bedrock", 0, fmt.Errorf("unexpected output type %T", out))
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	if sb.Len() == 0 {
		return "", chat.NewProviderError("bedrock", 0, fmt.Errorf("empty completion content"))
	}
	return sb.String(), nil
}
