package session

import (
	"context"
	"io"
	"time"

	"github.com/raphaelgruber/parley/internal/chat"
	"github.com/raphaelgruber/parley/internal/metrics"
	"github.com/raphaelgruber/parley/internal/provider"
)

// TurnStream delivers one assistant reply fragment by fragment. On normal
// completion the accumulated message is finalized and appended to the
// session history; on a mid-stream error or early Close the partial reply is
// discarded and the history keeps only the user message. Either way the
// session accepts the next Send afterwards.
type TurnStream struct {
	session *Session
	inner   *provider.Stream
	pending *chat.Message
	started time.Time

	first   string
	hasPeek bool
	peekEOF bool
	done    bool
	final   *chat.Message
}

// Recv returns the next fragment. io.EOF marks normal completion; any other
// error is terminal and means the partial reply was discarded.
func (t *TurnStream) Recv() (string, error) {
	if t.done {
		return "", io.EOF
	}

	if t.hasPeek {
		t.hasPeek = false
		if err := t.pending.AppendFragment(t.first); err != nil {
			t.fail()
			return "", err
		}
		return t.first, nil
	}
	if t.peekEOF {
		t.finish()
		return "", io.EOF
	}

	frag, err := t.inner.Recv()
	switch {
	case err == io.EOF:
		t.finish()
		return "", io.EOF
	case err != nil:
		t.fail()
		return "", err
	}
	if err := t.pending.AppendFragment(frag); err != nil {
		t.fail()
		return "", err
	}
	return frag, nil
}

// Message returns the finalized assistant reply after Recv returned io.EOF,
// nil before completion or after a failed stream.
func (t *TurnStream) Message() *chat.Message { return t.final }

// Close discards the stream. A partially consumed reply is dropped rather
// than appended to the history.
func (t *TurnStream) Close() error {
	if t.done {
		return nil
	}
	t.fail()
	return nil
}

func (t *TurnStream) finish() {
	t.done = true
	_ = t.inner.Close()

	t.pending.Finalize()
	s := t.session
	// Prompt snapshot before the reply joins the history.
	prompt := s.conv.History()
	if err := s.conv.Append(t.pending); err != nil {
		s.logger.Warn("failed to append assistant reply", "error", err)
		s.release()
		return
	}
	t.final = t.pending
	// The generation context may already be done once the last fragment
	// arrives; persistence is independent of it.
	s.persist(context.Background(), t.pending)
	s.record(metrics.OpStream, t.started, prompt, t.pending)
	s.release()
}

func (t *TurnStream) fail() {
	t.done = true
	_ = t.inner.Close()
	t.session.release()
}
