// Package session orchestrates one logical conversation: it owns the
// history, drives the resolved adapter per turn, applies retry policy to
// transient provider failures, and exposes a uniform streaming-or-batch
// result to the caller.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/raphaelgruber/parley/internal/chat"
	"github.com/raphaelgruber/parley/internal/metrics"
	"github.com/raphaelgruber/parley/internal/provider"
)

// Store persists finalized turns. Persistence is best-effort: store failures
// are logged, never surfaced as turn failures.
type Store interface {
	SaveConversation(ctx context.Context, conv *chat.Conversation) error
	AppendMessage(ctx context.Context, conversationID string, msg *chat.Message) error
}

// RetryPolicy bounds the exponential backoff applied to transient provider
// errors. MaxAttempts counts the initial call plus retries.
type RetryPolicy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy matches the front-end's historical 3-attempt behavior.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		InitialWait: 2 * time.Second,
		MaxWait:     30 * time.Second,
		Multiplier:  2.0,
	}
}

// Options configure a session at construction.
type Options struct {
	Params    provider.Params
	Stream    bool
	Retry     RetryPolicy
	Collector *metrics.Collector // optional
	Store     Store              // optional
	Logger    *slog.Logger       // optional, defaults to slog.Default()
	System    string             // optional system prompt, becomes message zero
}

// Session owns one conversation and one resolved adapter. A session
// processes one Send to completion (finalize or failure) before accepting
// the next; it is not meant to be shared across goroutines.
type Session struct {
	conv    *chat.Conversation
	adapter provider.Adapter
	model   string
	opts    Options
	logger  *slog.Logger

	mu   sync.Mutex
	busy bool
}

// Turn is the session-level generation result: a finalized assistant message
// in batch mode, or a consume-once fragment stream in streaming mode.
type Turn struct {
	Message *chat.Message
	Stream  *TurnStream
}

// New creates a session around an already-resolved adapter.
func New(adapter provider.Adapter, model string, opts Options) (*Session, error) {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conv := chat.NewConversation()
	if opts.System != "" {
		sys, err := chat.NewSystemMessage(opts.System)
		if err != nil {
			return nil, err
		}
		if err := conv.Append(sys); err != nil {
			return nil, err
		}
	}

	return &Session{
		conv:    conv,
		adapter: adapter,
		model:   model,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Resume creates a session that continues an existing conversation, typically
// one loaded from the store. The System option is ignored; the loaded history
// already carries its leading messages.
func Resume(adapter provider.Adapter, model string, conv *chat.Conversation, opts Options) (*Session, error) {
	if conv == nil {
		return nil, fmt.Errorf("%w: nil conversation", chat.ErrValidation)
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		conv:    conv,
		adapter: adapter,
		model:   model,
		opts:    opts,
		logger:  logger,
	}, nil
}

// ResumeFromRegistry resolves identifier and continues conv with the adapter.
func ResumeFromRegistry(r *provider.Registry, identifier string, conv *chat.Conversation, opts Options) (*Session, error) {
	adapter, err := r.Resolve(identifier)
	if err != nil {
		return nil, err
	}
	return Resume(adapter, identifier, conv, opts)
}

// NewFromRegistry resolves identifier and builds a session around the
// adapter. Unresolvable identifiers and missing credentials fail here, at
// construction, never at first generation.
func NewFromRegistry(r *provider.Registry, identifier string, opts Options) (*Session, error) {
	adapter, err := r.Resolve(identifier)
	if err != nil {
		return nil, err
	}
	return New(adapter, identifier, opts)
}

// Conversation returns the session's history for display. Callers must not
// mutate it.
func (s *Session) Conversation() *chat.Conversation { return s.conv }

// Model returns the model identifier the session was built for.
func (s *Session) Model() string { return s.model }

// Send appends userMsg to the history and generates the assistant reply.
// Transient provider errors are retried with bounded exponential backoff; on
// exhaustion or any permanent error the user message stays in the history and
// no assistant message is appended, so the user may edit and resubmit.
func (s *Session) Send(ctx context.Context, userMsg *chat.Message) (*Turn, error) {
	if userMsg == nil {
		return nil, fmt.Errorf("%w: nil message", chat.ErrValidation)
	}
	if userMsg.Role != chat.RoleUser {
		return nil, fmt.Errorf("%w: send requires a user message, got %q", chat.ErrState, userMsg.Role)
	}
	if userMsg.Streaming() {
		return nil, fmt.Errorf("%w: cannot send an unfinalized message", chat.ErrState)
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: previous send still in progress", chat.ErrState)
	}
	s.busy = true
	s.mu.Unlock()

	if err := s.conv.Append(userMsg); err != nil {
		s.release()
		return nil, err
	}
	if err := s.conv.ValidateForGeneration(); err != nil {
		s.release()
		return nil, err
	}
	s.persist(ctx, userMsg)

	req := provider.GenerationRequest{
		History: s.conv.History(),
		Model:   s.model,
		Params:  s.opts.Params,
		Stream:  s.opts.Stream,
	}

	if !req.Stream {
		return s.sendBatch(ctx, req)
	}
	return s.sendStreaming(ctx, req)
}

func (s *Session) sendBatch(ctx context.Context, req provider.GenerationRequest) (*Turn, error) {
	start := time.Now()

	var result *provider.GenerationResult
	err := s.withRetry(ctx, func() error {
		var genErr error
		result, genErr = s.adapter.Generate(ctx, req)
		return genErr
	})
	if err != nil {
		s.release()
		return nil, err
	}

	if err := s.conv.Append(result.Message); err != nil {
		s.release()
		return nil, err
	}
	s.persist(ctx, result.Message)
	s.record(metrics.OpGenerate, start, req.History, result.Message)
	s.release()

	return &Turn{Message: result.Message}, nil
}

func (s *Session) sendStreaming(ctx context.Context, req provider.GenerationRequest) (*Turn, error) {
	start := time.Now()

	// Wait for the first fragment (or completion) before handing the stream
	// to the caller: failures ahead of any output are still retryable, a
	// started fragment sequence is not restartable.
	var stream *provider.Stream
	var first string
	var eof bool
	err := s.withRetry(ctx, func() error {
		result, genErr := s.adapter.Generate(ctx, req)
		if genErr != nil {
			return genErr
		}
		frag, recvErr := result.Stream.Recv()
		switch recvErr {
		case nil:
			stream, first, eof = result.Stream, frag, false
			return nil
		case io.EOF:
			stream, first, eof = result.Stream, "", true
			return nil
		default:
			_ = result.Stream.Close()
			return recvErr
		}
	})
	if err != nil {
		s.release()
		return nil, err
	}

	ts := &TurnStream{
		session: s,
		inner:   stream,
		pending: chat.NewStreamingMessage(),
		started: start,
	}
	if eof {
		ts.peekEOF = true
	} else {
		ts.first = first
		ts.hasPeek = true
	}
	return &Turn{Stream: ts}, nil
}

// withRetry runs op, retrying transient provider errors with the session's
// backoff policy. Permanent errors propagate immediately.
func (s *Session) withRetry(ctx context.Context, op func() error) error {
	policy := s.opts.Retry

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialWait
	bo.MaxInterval = policy.MaxWait
	bo.Multiplier = policy.Multiplier
	bo.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if chat.IsTransient(err) {
			s.logger.Warn("transient provider failure",
				"provider", s.adapter.Name(),
				"model", s.model,
				"attempt", attempt,
				"error", err,
			)
			if s.opts.Collector != nil {
				s.opts.Collector.RecordTiming(metrics.OpRetry, 0)
			}
			return err
		}
		return backoff.Permanent(err)
	}

	maxRetries := uint64(policy.MaxAttempts - 1)
	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
}

func (s *Session) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Session) persist(ctx context.Context, msg *chat.Message) {
	if s.opts.Store == nil {
		return
	}
	if s.conv.Len() <= 2 {
		// First turns also create the conversation record.
		if err := s.opts.Store.SaveConversation(ctx, s.conv); err != nil {
			s.logger.Warn("failed to save conversation", "conversation", s.conv.ID, "error", err)
		}
	}
	if err := s.opts.Store.AppendMessage(ctx, s.conv.ID, msg); err != nil {
		s.logger.Warn("failed to persist message", "conversation", s.conv.ID, "message", msg.ID, "error", err)
	}
}

func (s *Session) record(op string, start time.Time, history []*chat.Message, reply *chat.Message) {
	if s.opts.Collector == nil {
		return
	}
	var promptTokens int64
	for _, m := range history {
		promptTokens += int64(m.EstimateTokens())
	}
	s.opts.Collector.RecordGeneration(op, time.Since(start), promptTokens, int64(reply.EstimateTokens()))
}
