package chat

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the chat core.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrValidation indicates malformed message or conversation construction.
	// Never retried; a programmer-contract violation.
	ErrValidation = errors.New("validation error")

	// ErrState indicates an illegal session transition or an attempt to
	// mutate a finalized message.
	ErrState = errors.New("state error")

	// ErrConfiguration indicates unusable configuration detected at
	// construction time (missing credential, unresolvable model).
	ErrConfiguration = errors.New("configuration error")

	// ErrUnknownModel indicates no registered adapter family claims the
	// model identifier. It wraps ErrConfiguration so construction-time
	// checks can treat both uniformly.
	ErrUnknownModel = fmt.Errorf("%w: unknown model", ErrConfiguration)

	// ErrResource indicates a local model load or capacity failure.
	ErrResource = errors.New("resource error")
)

// ProviderError describes a failed backend call. Provider names the adapter
// family, Status carries the raw provider status when one exists (HTTP code
// or provider error code string).
type ProviderError struct {
	Provider string
	Status   int
	Err      error

	// transient marks errors worth retrying (timeouts, rate limits).
	transient bool
}

// NewProviderError wraps err with provider context, classifying it as
// transient or permanent from the status code and error text.
func NewProviderError(provider string, status int, err error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Status:    status,
		Err:       err,
		transient: classifyTransient(status, err),
	}
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying.
func (e *ProviderError) Transient() bool { return e.transient }

// transientFragments are error-text markers for retryable failures emitted by
// providers that do not surface a structured status.
var transientFragments = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"overloaded",
	"temporarily unavailable",
	"service unavailable",
}

func classifyTransient(status int, err error) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	}
	if status >= 400 && status < 500 {
		// Remaining 4xx are caller errors, never retryable.
		return false
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range transientFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is a ProviderError classified transient.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return false
}
