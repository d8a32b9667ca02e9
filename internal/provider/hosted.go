package provider

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/parley/internal/chat"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// TogetherBaseURL is Together's OpenAI-compatible endpoint.
const TogetherBaseURL = "https://api.together.xyz/v1"

// vllmPlaceholderKey satisfies the OpenAI-compatible wire protocol of local
// daemons that require a bearer token without checking it.
const vllmPlaceholderKey = "EMPTY"

// LangchainAdapter serves both the hosted-API and local-daemon families: the
// two share the chat-completion wire contract and differ only in endpoint and
// credential requirements. Safe for concurrent use; each Generate call is an
// independent network request.
type LangchainAdapter struct {
	family string
	llm    llms.Model
	model  string
}

// Compile-time check that LangchainAdapter implements Adapter.
var _ Adapter = (*LangchainAdapter)(nil)

// NewOpenAI creates a hosted adapter for the OpenAI API. A missing key is a
// configuration error, detected before any network call.
func NewOpenAI(apiKey, model string) (*LangchainAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key required", chat.ErrConfiguration)
	}
	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return &LangchainAdapter{family: "openai", llm: llm, model: model}, nil
}

// NewAnthropic creates a hosted adapter for the Anthropic API.
func NewAnthropic(apiKey, model string) (*LangchainAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: Anthropic API key required", chat.ErrConfiguration)
	}
	llm, err := anthropic.New(
		anthropic.WithToken(apiKey),
		anthropic.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create anthropic client: %w", err)
	}
	return &LangchainAdapter{family: "anthropic", llm: llm, model: model}, nil
}

// NewTogether creates a hosted adapter for Together's OpenAI-compatible API.
// The together: namespace prefix is already stripped from model.
func NewTogether(apiKey, model string) (*LangchainAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: Together API key required", chat.ErrConfiguration)
	}
	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithModel(model),
		openai.WithBaseURL(TogetherBaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("create together client: %w", err)
	}
	return &LangchainAdapter{family: "together", llm: llm, model: model}, nil
}

// NewGemini creates a hosted adapter for the Google Gemini API. The client
// holds a background connection, so construction takes the registry context.
func NewGemini(ctx context.Context, apiKey, model string) (*LangchainAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: Gemini API key required", chat.ErrConfiguration)
	}
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &LangchainAdapter{family: "gemini", llm: llm, model: model}, nil
}

// NewOllama creates a local-daemon adapter against an Ollama server.
// No credential is required.
func NewOllama(host, model string) (*LangchainAdapter, error) {
	llm, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(host),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &LangchainAdapter{family: "ollama", llm: llm, model: model}, nil
}

// NewVLLM creates a local-daemon adapter against a vLLM (or any other
// OpenAI-compatible) endpoint. The wire protocol demands a bearer token, so a
// placeholder is sent when none is configured; it is never validated.
func NewVLLM(baseURL, apiKey, model string) (*LangchainAdapter, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: vLLM base URL required", chat.ErrConfiguration)
	}
	if apiKey == "" {
		apiKey = vllmPlaceholderKey
	}
	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithModel(model),
		openai.WithBaseURL(baseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("create vllm client: %w", err)
	}
	return &LangchainAdapter{family: "vllm", llm: llm, model: model}, nil
}

// Name returns the adapter family name.
func (a *LangchainAdapter) Name() string { return a.family }

// Generate runs one chat completion. In streaming mode each network chunk is
// exposed as a fragment in arrival order.
func (a *LangchainAdapter) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	messages, err := toLangchainMessages(req.History)
	if err != nil {
		return nil, err
	}

	opts := []llms.CallOption{
		llms.WithTemperature(req.Params.Temperature),
	}
	if req.Params.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.Params.MaxTokens))
	}
	if req.Params.Seed != 0 {
		opts = append(opts, llms.WithSeed(req.Params.Seed))
	}

	if !req.Stream {
		resp, err := a.llm.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return nil, chat.NewProviderError(a.family, 0, err)
		}
		msg, err := responseMessage(a.family, resp)
		if err != nil {
			return nil, err
		}
		return &GenerationResult{Message: msg}, nil
	}

	stream := NewStream()
	opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if !stream.Push(string(chunk)) {
			// Consumer closed the stream; stop feeding it.
			return context.Canceled
		}
		return nil
	}))

	go func() {
		_, err := a.llm.GenerateContent(ctx, messages, opts...)
		if err != nil && err != context.Canceled {
			stream.Finish(chat.NewProviderError(a.family, 0, err))
			return
		}
		stream.Finish(nil)
	}()

	return &GenerationResult{Stream: stream}, nil
}

// toLangchainMessages maps canonical history onto langchaingo content parts.
// Images travel as inline binary parts, which langchaingo encodes per
// provider convention (base64 data URL or provider image block).
func toLangchainMessages(history []*chat.Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(history))
	for _, msg := range history {
		var role llms.ChatMessageType
		switch msg.Role {
		case chat.RoleUser:
			role = llms.ChatMessageTypeHuman
		case chat.RoleAssistant:
			role = llms.ChatMessageTypeAI
		case chat.RoleSystem:
			role = llms.ChatMessageTypeSystem
		default:
			return nil, fmt.Errorf("%w: unmappable role %q", chat.ErrValidation, msg.Role)
		}

		parts := []llms.ContentPart{llms.TextPart(msg.Text)}
		for _, img := range msg.Images {
			parts = append(parts, llms.BinaryPart(img.MIME, img.Data))
		}
		out = append(out, llms.MessageContent{Role: role, Parts: parts})
	}
	return out, nil
}

// responseMessage extracts the single assistant message from a batch
// response. An empty choice list or empty content is a malformed payload.
func responseMessage(family string, resp *llms.ContentResponse) (*chat.Message, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, chat.NewProviderError(family, 0, fmt.Errorf("no response choices"))
	}
	content := resp.Choices[0].Content
	if content == "" {
		return nil, chat.NewProviderError(family, 0, fmt.Errorf("empty completion content"))
	}
	msg, err := chat.NewMessage(chat.RoleAssistant, content)
	if err != nil {
		return nil, err
	}
	return msg, nil
}
