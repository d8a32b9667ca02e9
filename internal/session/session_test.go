package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/parley/internal/chat"
	"github.com/raphaelgruber/parley/internal/metrics"
	"github.com/raphaelgruber/parley/internal/provider"
)

// scriptedAdapter returns one canned outcome per Generate call.
type scriptedAdapter struct {
	calls    int
	outcomes []func(req provider.GenerationRequest) (*provider.GenerationResult, error)
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Generate(_ context.Context, req provider.GenerationRequest) (*provider.GenerationResult, error) {
	if a.calls >= len(a.outcomes) {
		return nil, errors.New("unexpected extra call")
	}
	out := a.outcomes[a.calls]
	a.calls++
	return out(req)
}

func batchReply(text string) func(provider.GenerationRequest) (*provider.GenerationResult, error) {
	return func(provider.GenerationRequest) (*provider.GenerationResult, error) {
		msg, _ := chat.NewMessage(chat.RoleAssistant, text)
		return &provider.GenerationResult{Message: msg}, nil
	}
}

func streamReply(fragments ...string) func(provider.GenerationRequest) (*provider.GenerationResult, error) {
	return func(provider.GenerationRequest) (*provider.GenerationResult, error) {
		s := provider.NewStream()
		go func() {
			for _, f := range fragments {
				s.Push(f)
			}
			s.Finish(nil)
		}()
		return &provider.GenerationResult{Stream: s}, nil
	}
}

func failWith(err error) func(provider.GenerationRequest) (*provider.GenerationResult, error) {
	return func(provider.GenerationRequest) (*provider.GenerationResult, error) {
		return nil, err
	}
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
		Multiplier:  1.5,
	}
}

func transientErr() error {
	return chat.NewProviderError("scripted", 429, errors.New("rate limited"))
}

func permanentErr() error {
	return chat.NewProviderError("scripted", 401, errors.New("bad key"))
}

func mustUser(t *testing.T, text string) *chat.Message {
	t.Helper()
	msg, err := chat.NewUserMessage(text)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestSend_Batch(t *testing.T) {
	adapter := &scriptedAdapter{outcomes: []func(provider.GenerationRequest) (*provider.GenerationResult, error){
		batchReply("hello there"),
	}}
	s, err := New(adapter, "scripted:x", Options{Retry: fastRetry(3)})
	if err != nil {
		t.Fatal(err)
	}

	turn, err := s.Send(context.Background(), mustUser(t, "hi"))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if turn.Message == nil || turn.Message.Text != "hello there" {
		t.Fatalf("turn message = %+v", turn.Message)
	}
	if got := s.Conversation().Len(); got != 2 {
		t.Errorf("history length = %d, want 2", got)
	}
}

func TestSend_RetriesTransientThenSucceeds(t *testing.T) {
	adapter := &scriptedAdapter{outcomes: []func(provider.GenerationRequest) (*provider.GenerationResult, error){
		failWith(transientErr()),
		failWith(transientErr()),
		batchReply("finally"),
	}}
	collector := metrics.NewCollector()
	s, err := New(adapter, "scripted:x", Options{Retry: fastRetry(3), Collector: collector})
	if err != nil {
		t.Fatal(err)
	}

	turn, err := s.Send(context.Background(), mustUser(t, "hi"))
	if err != nil {
		t.Fatalf("Send() error after transient failures: %v", err)
	}
	if turn.Message.Text != "finally" {
		t.Errorf("Text = %q", turn.Message.Text)
	}
	if adapter.calls != 3 {
		t.Errorf("adapter called %d times, want 3", adapter.calls)
	}
	// Exactly one assistant message despite the retries.
	if got := s.Conversation().Len(); got != 2 {
		t.Errorf("history length = %d, want 2", got)
	}
	if got := collector.TakeSnapshot().Operations[metrics.OpRetry].Count; got != 2 {
		t.Errorf("retry count = %d, want 2", got)
	}
}

func TestSend_RetryExhaustionKeepsUserMessage(t *testing.T) {
	adapter := &scriptedAdapter{outcomes: []func(provider.GenerationRequest) (*provider.GenerationResult, error){
		failWith(transientErr()),
		failWith(transientErr()),
		failWith(transientErr()),
	}}
	s, err := New(adapter, "scripted:x", Options{Retry: fastRetry(3)})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Send(context.Background(), mustUser(t, "hi"))
	var pe *chat.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Send() error = %v, want *chat.ProviderError", err)
	}
	if adapter.calls != 3 {
		t.Errorf("adapter called %d times, want 3", adapter.calls)
	}

	conv := s.Conversation()
	if conv.Len() != 1 {
		t.Fatalf("history length = %d, want just the user message", conv.Len())
	}
	if conv.Last().Role != chat.RoleUser {
		t.Errorf("trailing role = %q, want user", conv.Last().Role)
	}
}

func TestSend_PermanentErrorNotRetried(t *testing.T) {
	adapter := &scriptedAdapter{outcomes: []func(provider.GenerationRequest) (*provider.GenerationResult, error){
		failWith(permanentErr()),
	}}
	s, err := New(adapter, "scripted:x", Options{Retry: fastRetry(5)})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Send(context.Background(), mustUser(t, "hi")); err == nil {
		t.Fatal("Send() succeeded, want permanent error")
	}
	if adapter.calls != 1 {
		t.Errorf("adapter called %d times, want 1", adapter.calls)
	}
}

func TestSend_RejectsNonUserMessage(t *testing.T) {
	adapter := &scriptedAdapter{}
	s, err := New(adapter, "scripted:x", Options{})
	if err != nil {
		t.Fatal(err)
	}

	asst, _ := chat.NewMessage(chat.RoleAssistant, "nope")
	_, err = s.Send(context.Background(), asst)
	if !errors.Is(err, chat.ErrState) {
		t.Fatalf("Send() error = %v, want ErrState", err)
	}
	if s.Conversation().Len() != 0 {
		t.Errorf("history changed on rejected send")
	}
}

func TestSend_Streaming(t *testing.T) {
	adapter := &scriptedAdapter{outcomes: []func(provider.GenerationRequest) (*provider.GenerationResult, error){
		streamReply("Hel", "lo"),
	}}
	s, err := New(adapter, "scripted:x", Options{Stream: true, Retry: fastRetry(3)})
	if err != nil {
		t.Fatal(err)
	}

	turn, err := s.Send(context.Background(), mustUser(t, "hi"))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if turn.Stream == nil {
		t.Fatal("streaming send returned no stream")
	}

	var got []string
	for {
		frag, err := turn.Stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv() error: %v", err)
		}
		got = append(got, frag)
	}

	if len(got) != 2 || got[0] != "Hel" || got[1] != "lo" {
		t.Errorf("fragments = %v", got)
	}
	final := turn.Stream.Message()
	if final == nil || final.Text != "Hello" {
		t.Fatalf("final message = %+v, want Hello", final)
	}
	conv := s.Conversation()
	if conv.Len() != 2 || conv.Last() != final {
		t.Errorf("finalized reply not appended to history")
	}
}

func TestSend_StreamingRetriesBeforeFirstFragment(t *testing.T) {
	adapter := &scriptedAdapter{outcomes: []func(provider.GenerationRequest) (*provider.GenerationResult, error){
		failWith(transientErr()),
		streamReply("ok"),
	}}
	s, err := New(adapter, "scripted:x", Options{Stream: true, Retry: fastRetry(3)})
	if err != nil {
		t.Fatal(err)
	}

	turn, err := s.Send(context.Background(), mustUser(t, "hi"))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	frag, err := turn.Stream.Recv()
	if err != nil || frag != "ok" {
		t.Fatalf("Recv() = %q, %v", frag, err)
	}
	if _, err := turn.Stream.Recv(); err != io.EOF {
		t.Fatalf("second Recv() = %v, want io.EOF", err)
	}
	if adapter.calls != 2 {
		t.Errorf("adapter called %d times, want 2", adapter.calls)
	}
}

func TestSend_MidStreamErrorDiscardsPartial(t *testing.T) {
	adapter := &scriptedAdapter{outcomes: []func(provider.GenerationRequest) (*provider.GenerationResult, error){
		func(provider.GenerationRequest) (*provider.GenerationResult, error) {
			st := provider.NewStream()
			go func() {
				st.Push("partial")
				st.Finish(chat.NewProviderError("scripted", 500, errors.New("connection reset")))
			}()
			return &provider.GenerationResult{Stream: st}, nil
		},
	}}
	s, err := New(adapter, "scripted:x", Options{Stream: true, Retry: fastRetry(3)})
	if err != nil {
		t.Fatal(err)
	}

	turn, err := s.Send(context.Background(), mustUser(t, "hi"))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if frag, err := turn.Stream.Recv(); err != nil || frag != "partial" {
		t.Fatalf("Recv() = %q, %v", frag, err)
	}
	if _, err := turn.Stream.Recv(); err == nil || err == io.EOF {
		t.Fatalf("Recv() after failure = %v, want mid-stream error", err)
	}

	// Partial reply dropped, user message kept, session usable again.
	if got := s.Conversation().Len(); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
	if adapter.calls != 1 {
		t.Errorf("mid-stream errors must not be retried, adapter called %d times", adapter.calls)
	}
}

func TestSend_BusyWhileStreamUnconsumed(t *testing.T) {
	adapter := &scriptedAdapter{outcomes: []func(provider.GenerationRequest) (*provider.GenerationResult, error){
		streamReply("a", "b"),
		streamReply("unused"),
	}}
	s, err := New(adapter, "scripted:x", Options{Stream: true, Retry: fastRetry(3)})
	if err != nil {
		t.Fatal(err)
	}

	turn, err := s.Send(context.Background(), mustUser(t, "first"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Send(context.Background(), mustUser(t, "second")); !errors.Is(err, chat.ErrState) {
		t.Fatalf("concurrent Send() = %v, want ErrState", err)
	}

	if err := turn.Stream.Close(); err != nil {
		t.Fatal(err)
	}
	// Closed stream released the slot even though the reply was dropped.
	if _, err := s.Send(context.Background(), mustUser(t, "third")); errors.Is(err, chat.ErrState) {
		t.Fatalf("Send() after Close still busy: %v", err)
	}
}

func TestSend_StreamingTokenAccountingExcludesReply(t *testing.T) {
	// The reply is much larger than the prompt so a miscount shows up.
	reply := strings.Repeat("streamed reply text ", 20)
	adapter := &scriptedAdapter{outcomes: []func(provider.GenerationRequest) (*provider.GenerationResult, error){
		streamReply(reply),
	}}
	collector := metrics.NewCollector()
	s, err := New(adapter, "scripted:x", Options{Stream: true, Retry: fastRetry(3), Collector: collector})
	if err != nil {
		t.Fatal(err)
	}

	userMsg := mustUser(t, "hi")
	wantPrompt := int64(userMsg.EstimateTokens())

	turn, err := s.Send(context.Background(), userMsg)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	for {
		if _, err := turn.Stream.Recv(); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Recv() error: %v", err)
		}
	}

	op := collector.TakeSnapshot().Operations[metrics.OpStream]
	if op.TotalPromptTokens != wantPrompt {
		t.Errorf("prompt tokens = %d, want %d (reply must not count toward the prompt)",
			op.TotalPromptTokens, wantPrompt)
	}
	if want := int64(turn.Stream.Message().EstimateTokens()); op.TotalCompletionTokens != want {
		t.Errorf("completion tokens = %d, want %d", op.TotalCompletionTokens, want)
	}
}

func TestResume_ContinuesLoadedHistory(t *testing.T) {
	adapter := &scriptedAdapter{outcomes: []func(provider.GenerationRequest) (*provider.GenerationResult, error){
		func(req provider.GenerationRequest) (*provider.GenerationResult, error) {
			if len(req.History) != 3 {
				return nil, errors.New("loaded history missing from request")
			}
			return batchReply("continued")(req)
		},
	}}

	conv := chat.NewConversation()
	for _, m := range []struct {
		role chat.Role
		text string
	}{
		{chat.RoleUser, "earlier question"},
		{chat.RoleAssistant, "earlier answer"},
	} {
		msg, err := chat.NewMessage(m.role, m.text)
		if err != nil {
			t.Fatal(err)
		}
		if err := conv.Append(msg); err != nil {
			t.Fatal(err)
		}
	}

	s, err := Resume(adapter, "scripted:x", conv, Options{Retry: fastRetry(3)})
	if err != nil {
		t.Fatal(err)
	}
	turn, err := s.Send(context.Background(), mustUser(t, "follow-up"))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if turn.Message.Text != "continued" {
		t.Errorf("Text = %q", turn.Message.Text)
	}
	if got := s.Conversation().Len(); got != 4 {
		t.Errorf("history length = %d, want 4", got)
	}
}

func TestResume_NilConversation(t *testing.T) {
	if _, err := Resume(&scriptedAdapter{}, "scripted:x", nil, Options{}); !errors.Is(err, chat.ErrValidation) {
		t.Errorf("Resume(nil) error = %v, want ErrValidation", err)
	}
}

func TestSend_SystemPromptLeadsHistory(t *testing.T) {
	adapter := &scriptedAdapter{outcomes: []func(provider.GenerationRequest) (*provider.GenerationResult, error){
		func(req provider.GenerationRequest) (*provider.GenerationResult, error) {
			if len(req.History) != 2 || req.History[0].Role != chat.RoleSystem {
				return nil, errors.New("system prompt missing from request history")
			}
			return batchReply("ok")(req)
		},
	}}
	s, err := New(adapter, "scripted:x", Options{System: "be brief", Retry: fastRetry(3)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Send(context.Background(), mustUser(t, "hi")); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
}

func TestNewFromRegistry_UnknownModel(t *testing.T) {
	r := provider.NewRegistry()
	_, err := NewFromRegistry(r, "nope:model", Options{})
	if !errors.Is(err, chat.ErrUnknownModel) {
		t.Errorf("NewFromRegistry() error = %v, want ErrUnknownModel", err)
	}
}
