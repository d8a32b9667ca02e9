package provider

import (
	"fmt"
	"sync"

	"github.com/raphaelgruber/parley/internal/chat"
)

// Factory constructs an adapter for a parsed model identifier. Construction
// performs the eager configuration checks (credentials, weights path) so a
// bad identifier fails before the session ever issues a request.
type Factory func(id ModelID) (Adapter, error)

// Registry maps namespace prefixes to adapter factories. Resolution is by
// longest-prefix match on the identifier's namespace; equal-length ties go to
// the first-registered entry. Registration order is fixed at process start,
// which keeps resolution deterministic across runs.
type Registry struct {
	entries  []registryEntry
	fallback Factory
}

type registryEntry struct {
	prefix  string
	factory Factory
}

// NewRegistry creates an empty registry with no fallback.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a namespace prefix and its factory. Prefixes are matched
// against the portion of the identifier before the first colon.
func (r *Registry) Register(prefix string, factory Factory) {
	r.entries = append(r.entries, registryEntry{prefix: prefix, factory: factory})
}

// SetFallback installs the factory used for identifiers that match no
// registered namespace. Without a fallback such identifiers are unknown.
func (r *Registry) SetFallback(factory Factory) {
	r.fallback = factory
}

// Namespaces returns the registered prefixes in registration order.
func (r *Registry) Namespaces() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.prefix
	}
	return out
}

// Resolve constructs the adapter responsible for identifier. The namespace
// must match a registered prefix; identifiers without a matching namespace go
// to the fallback with the identifier verbatim as the model name. Resolution
// failure is chat.ErrUnknownModel.
func (r *Registry) Resolve(identifier string) (Adapter, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: empty model identifier", chat.ErrConfiguration)
	}

	id := ParseModelID(identifier)

	var best *registryEntry
	for i := range r.entries {
		e := &r.entries[i]
		if !matchesNamespace(id.Namespace, e.prefix) {
			continue
		}
		// Longest prefix wins; strict > keeps first-registered on ties.
		if best == nil || len(e.prefix) > len(best.prefix) {
			best = e
		}
	}

	if best != nil {
		adapter, err := best.factory(ModelID{Namespace: best.prefix, Name: id.Name, Raw: id.Raw})
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", identifier, err)
		}
		return adapter, nil
	}

	if r.fallback != nil {
		// No namespace claimed the identifier: hand the raw string to the
		// fallback as the provider-native model name.
		adapter, err := r.fallback(ModelID{Name: id.Raw, Raw: id.Raw})
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", identifier, err)
		}
		return adapter, nil
	}

	return nil, fmt.Errorf("%w: %q", chat.ErrUnknownModel, identifier)
}

// cachedFactory wraps factory so the adapter is constructed at most once.
// Concurrent resolutions block until the first construction finishes and then
// share the instance. A failed construction is not cached; a later resolve
// retries it.
func cachedFactory(factory Factory) Factory {
	var mu sync.Mutex
	var cached Adapter
	return func(id ModelID) (Adapter, error) {
		mu.Lock()
		defer mu.Unlock()
		if cached != nil {
			return cached, nil
		}
		adapter, err := factory(id)
		if err != nil {
			return nil, err
		}
		cached = adapter
		return cached, nil
	}
}

// matchesNamespace reports whether the identifier's namespace selects the
// registered prefix. A registered prefix matches when it equals the declared
// namespace or is a prefix of it (the longest such prefix wins overall).
func matchesNamespace(namespace, prefix string) bool {
	if namespace == "" {
		return false
	}
	if namespace == prefix {
		return true
	}
	return len(prefix) < len(namespace) && namespace[:len(prefix)] == prefix
}
