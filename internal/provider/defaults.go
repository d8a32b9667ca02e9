package provider

import (
	"context"

	"github.com/raphaelgruber/parley/internal/config"
)

// NewDefaultRegistry builds the registry with every adapter family the
// process supports. Registration order is fixed here, which makes prefix
// tie-breaking deterministic across runs. Unprefixed identifiers fall back to
// the hosted OpenAI family with the identifier verbatim as the model name.
//
// The in-process adapter is constructed at most once and cached: weights stay
// resident for the process lifetime and must not be reloaded per turn.
func NewDefaultRegistry(ctx context.Context, cfg config.Config) *Registry {
	r := NewRegistry()

	openaiFactory := func(id ModelID) (Adapter, error) {
		return NewOpenAI(cfg.OpenAIAPIKey, id.Name)
	}

	r.Register("openai", openaiFactory)
	// "hosted" is the generic remote namespace; it routes to the default
	// hosted family.
	r.Register("hosted", openaiFactory)
	r.Register("anthropic", func(id ModelID) (Adapter, error) {
		return NewAnthropic(cfg.AnthropicAPIKey, id.Name)
	})
	r.Register("together", func(id ModelID) (Adapter, error) {
		return NewTogether(cfg.TogetherAPIKey, id.Name)
	})
	r.Register("gemini", func(id ModelID) (Adapter, error) {
		return NewGemini(ctx, cfg.GeminiAPIKey, id.Name)
	})
	r.Register("bedrock", func(id ModelID) (Adapter, error) {
		return NewBedrock(ctx, cfg.AWSRegion, id.Name)
	})
	r.Register("ollama", func(id ModelID) (Adapter, error) {
		return NewOllama(cfg.OllamaHost, id.Name)
	})
	r.Register("vllm", func(id ModelID) (Adapter, error) {
		return NewVLLM(cfg.VLLMBaseURL, cfg.VLLMAPIKey, id.Name)
	})

	r.Register("local", cachedFactory(func(id ModelID) (Adapter, error) {
		// The configured path wins; otherwise the identifier names the
		// weights file directly, e.g. local:/models/llama-3.1-8b.gguf.
		path := cfg.LocalModelPath
		if path == "" {
			path = id.Name
		}
		return NewLocal(path, LocalOptions{
			ContextSize: cfg.LocalContextSize,
			GPULayers:   cfg.LocalGPULayers,
		})
	}))

	r.SetFallback(openaiFactory)
	return r
}
