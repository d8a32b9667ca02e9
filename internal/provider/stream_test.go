package provider

import (
	"errors"
	"io"
	"testing"
	"time"
)

func TestStream_FragmentsInOrderThenEOF(t *testing.T) {
	s := NewStream()
	go func() {
		for _, frag := range []string{"Hel", "lo", ", ", "world"} {
			if !s.Push(frag) {
				t.Error("Push returned false with open consumer")
				return
			}
		}
		s.Finish(nil)
	}()

	got, err := s.drain()
	if err != nil {
		t.Fatalf("drain() error: %v", err)
	}
	if got != "Hello, world" {
		t.Errorf("drain() = %q, want %q", got, "Hello, world")
	}

	// The sequence is not restartable: further Recv stays at EOF.
	if _, err := s.Recv(); err != io.EOF {
		t.Errorf("Recv() after EOF = %v, want io.EOF", err)
	}
}

func TestStream_EmptySequence(t *testing.T) {
	s := NewStream()
	go s.Finish(nil)

	if _, err := s.Recv(); err != io.EOF {
		t.Errorf("Recv() on empty stream = %v, want io.EOF", err)
	}
}

func TestStream_ProducerError(t *testing.T) {
	wantErr := errors.New("upstream went away")
	s := NewStream()
	go func() {
		s.Push("partial")
		s.Finish(wantErr)
	}()

	frag, err := s.Recv()
	if err != nil || frag != "partial" {
		t.Fatalf("Recv() = (%q, %v), want (partial, nil)", frag, err)
	}
	if _, err := s.Recv(); !errors.Is(err, wantErr) {
		t.Errorf("Recv() = %v, want %v", err, wantErr)
	}
	// Terminal: subsequent Recv does not block or yield data.
	if _, err := s.Recv(); err != io.EOF {
		t.Errorf("Recv() after terminal error = %v, want io.EOF", err)
	}
}

func TestStream_CloseUnblocksProducer(t *testing.T) {
	s := NewStream()
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overfill the buffer; Push must return false after Close instead
		// of blocking forever.
		for i := 0; i < streamBuffer*2; i++ {
			if !s.Push("x") {
				return
			}
		}
		t.Error("Push never observed Close")
	}()

	_ = s.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer still blocked after Close")
	}

	if _, err := s.Recv(); err != io.EOF {
		t.Errorf("Recv() after Close = %v, want io.EOF", err)
	}
}

func TestParseModelID(t *testing.T) {
	tests := []struct {
		in            string
		wantNamespace string
		wantName      string
	}{
		{"openai:gpt-4o", "openai", "gpt-4o"},
		{"together:meta-llama/Llama-Vision-Free", "together", "meta-llama/Llama-Vision-Free"},
		{"local:/models/llama.gguf", "local", "/models/llama.gguf"},
		{"gpt-4o", "", "gpt-4o"},
		{"", "", ""},
	}
	for _, tt := range tests {
		id := ParseModelID(tt.in)
		if id.Namespace != tt.wantNamespace || id.Name != tt.wantName {
			t.Errorf("ParseModelID(%q) = {%q %q}, want {%q %q}",
				tt.in, id.Namespace, id.Name, tt.wantNamespace, tt.wantName)
		}
		if id.Raw != tt.in {
			t.Errorf("ParseModelID(%q).Raw = %q", tt.in, id.Raw)
		}
	}
}
