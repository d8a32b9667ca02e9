package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/raphaelgruber/parley/internal/chat"
)

// LocalOptions configure the in-process model runtime.
type LocalOptions struct {
	// ContextSize is the token window handed to llama.cpp. Zero selects
	// DefaultLocalContext.
	ContextSize int

	// GPULayers is the number of layers offloaded to the GPU, 0 for CPU-only.
	GPULayers int
}

// DefaultLocalContext is the context window used when none is configured.
const DefaultLocalContext = 4096

// localMaxTokens bounds generation when the request does not set a limit,
// matching the original front-end's 1024-token cap for resident models.
const localMaxTokens = 1024

// LocalAdapter runs inference in-process against resident llama.cpp weights.
// Loading is expensive, so the adapter is constructed once per process and
// reused across generation calls. The resident model is process-wide shared
// state: Generate calls are serialized through a single generation slot
// because concurrent inference against one model instance is not safe.
type LocalAdapter struct {
	model *llama.LLama
	path  string

	// genSlot serializes inference across all sessions targeting this model.
	genSlot sync.Mutex
}

var _ Adapter = (*LocalAdapter)(nil)

// NewLocal loads model weights from path and keeps them resident for the
// adapter's lifetime. Load failures (missing path, incompatible hardware,
// out of memory) are resource errors.
func NewLocal(path string, opts LocalOptions) (*LocalAdapter, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: local model path required", chat.ErrConfiguration)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: model weights not found at %s: %v", chat.ErrResource, path, err)
	}

	ctxSize := opts.ContextSize
	if ctxSize <= 0 {
		ctxSize = DefaultLocalContext
	}

	model, err := llama.New(
		path,
		llama.SetContext(ctxSize),
		llama.SetGPULayers(opts.GPULayers),
		llama.EnableF16Memory,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: load model %s: %v", chat.ErrResource, path, err)
	}

	return &LocalAdapter{model: model, path: path}, nil
}

// Name returns the adapter family name.
func (a *LocalAdapter) Name() string { return "local" }

// Close releases the resident weights.
func (a *LocalAdapter) Close() {
	a.genSlot.Lock()
	defer a.genSlot.Unlock()
	if a.model != nil {
		a.model.Free()
		a.model = nil
	}
}

// Generate runs the decoding loop, emitting each decoded token as a fragment
// as the loop advances. The call holds the generation slot until decoding
// completes; closing the stream early stops fragment delivery but lets the
// loop run out, mirroring the non-cancellable backend contract.
func (a *LocalAdapter) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	prompt, err := renderPrompt(req.History)
	if err != nil {
		return nil, err
	}

	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = localMaxTokens
	}
	// llama.cpp rejects a zero temperature; clamp like the original did for
	// resident models.
	temperature := req.Params.Temperature
	if temperature < 0.01 {
		temperature = 0.01
	}

	predictOpts := []llama.PredictOption{
		llama.SetTokens(maxTokens),
		llama.SetTemperature(float32(temperature)),
		llama.SetStopWords("<|eot_id|>"),
	}
	if req.Params.Seed != 0 {
		predictOpts = append(predictOpts, llama.SetSeed(req.Params.Seed))
	}

	if !req.Stream {
		a.genSlot.Lock()
		defer a.genSlot.Unlock()
		if a.model == nil {
			return nil, fmt.Errorf("%w: local model already closed", chat.ErrResource)
		}
		out, err := a.model.Predict(prompt, predictOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: inference failed: %v", chat.ErrResource, err)
		}
		msg, err := chat.NewMessage(chat.RoleAssistant, strings.TrimSpace(out))
		if err != nil {
			return nil, err
		}
		return &GenerationResult{Message: msg}, nil
	}

	stream := NewStream()
	go func() {
		a.genSlot.Lock()
		defer a.genSlot.Unlock()
		if a.model == nil {
			stream.Finish(fmt.Errorf("%w: local model already closed", chat.ErrResource))
			return
		}

		opts := append(predictOpts, llama.SetTokenCallback(func(token string) bool {
			stream.Push(token)
			// Keep decoding even if the consumer went away; the decoding
			// loop is not cancellable mid-flight.
			return true
		}))
		if _, err := a.model.Predict(prompt, opts...); err != nil {
			stream.Finish(fmt.Errorf("%w: inference failed: %v", chat.ErrResource, err))
			return
		}
		stream.Finish(nil)
	}()

	return &GenerationResult{Stream: stream}, nil
}

// renderPrompt lays history out in the llama-3 instruct chat template. The
// resident text model takes no image input, so attachments are rejected
// rather than silently dropped.
func renderPrompt(history []*chat.Message) (string, error) {
	var sb strings.Builder
	sb.WriteString("<|begin_of_text|>")
	for _, msg := range history {
		if len(msg.Images) > 0 {
			return "", fmt.Errorf("%w: in-process model does not accept image attachments", chat.ErrValidation)
		}
		sb.WriteString("<|start_header_id|>")
		sb.WriteString(msg.Role.String())
		sb.WriteString("<|end_header_id|>\n\n")
		sb.WriteString(msg.Text)
		sb.WriteString("<|eot_id|>")
	}
	sb.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return sb.String(), nil
}
