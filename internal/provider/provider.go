// Package provider translates the canonical conversation model to and from
// backend wire formats. It defines the adapter capability set, the streaming
// fragment sequence, and the prefix registry that routes model identifiers to
// adapter families.
package provider

import (
	"context"
	"strings"

	"github.com/raphaelgruber/parley/internal/chat"
)

// Params are the sampling parameters snapshotted into a generation request.
type Params struct {
	Temperature float64
	MaxTokens   int
	Seed        int
}

// GenerationRequest is an immutable snapshot handed to an adapter. Adapters
// must not mutate the history or the params.
type GenerationRequest struct {
	// History is the full conversation, oldest first, trailing user message
	// last. Messages are finalized and treated as read-only.
	History []*chat.Message

	// Model is the provider-native model name, namespace prefix stripped.
	Model string

	Params Params

	// Stream selects incremental fragment delivery over a single message.
	Stream bool
}

// GenerationResult carries either a completed assistant message (batch mode)
// or a fragment stream (streaming mode). Exactly one field is set.
type GenerationResult struct {
	Message *chat.Message
	Stream  *Stream
}

// Adapter is the capability set every backend family implements.
type Adapter interface {
	// Name returns the adapter family name used in provider errors.
	Name() string

	// Generate runs one completion over the request snapshot. Backend
	// failures are surfaced as *chat.ProviderError; adapters never retry
	// internally, retry policy belongs to the session.
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// ModelID is a parsed model identifier: an optional namespace prefix and the
// provider-native remainder.
type ModelID struct {
	Namespace string
	Name      string
	Raw       string
}

// ParseModelID splits an identifier on the first colon. Identifiers without a
// colon have an empty namespace and pass through verbatim as the name.
func ParseModelID(s string) ModelID {
	if ns, name, ok := strings.Cut(s, ":"); ok {
		return ModelID{Namespace: ns, Name: name, Raw: s}
	}
	return ModelID{Name: s, Raw: s}
}
