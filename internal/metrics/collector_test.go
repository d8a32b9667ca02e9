package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCollector_RecordGeneration(t *testing.T) {
	c := NewCollector()

	c.RecordGeneration(OpGenerate, 100*time.Millisecond, 50, 20)
	c.RecordGeneration(OpGenerate, 300*time.Millisecond, 150, 80)

	snap := c.TakeSnapshot()
	op, ok := snap.Operations[OpGenerate]
	if !ok {
		t.Fatal("generate operation missing from snapshot")
	}

	if op.Count != 2 {
		t.Errorf("Count = %d, want 2", op.Count)
	}
	if op.MinTimeMs != 100 || op.MaxTimeMs != 300 {
		t.Errorf("min/max = %d/%d, want 100/300", op.MinTimeMs, op.MaxTimeMs)
	}
	if op.AvgTimeMs != 200 {
		t.Errorf("AvgTimeMs = %v, want 200", op.AvgTimeMs)
	}
	if op.TotalPromptTokens != 200 || op.TotalCompletionTokens != 100 {
		t.Errorf("tokens = %d/%d, want 200/100", op.TotalPromptTokens, op.TotalCompletionTokens)
	}
	if op.AvgCompletionTokens != 50 {
		t.Errorf("AvgCompletionTokens = %v, want 50", op.AvgCompletionTokens)
	}
}

func TestCollector_EmptySnapshot(t *testing.T) {
	c := NewCollector()
	snap := c.TakeSnapshot()
	if len(snap.Operations) != 0 {
		t.Errorf("empty collector produced %d operations", len(snap.Operations))
	}
	if snap.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %v", snap.UptimeSeconds)
	}
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordTiming(OpStream, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	snap := c.TakeSnapshot()
	if got := snap.Operations[OpStream].Count; got != 1000 {
		t.Errorf("Count = %d, want 1000", got)
	}
}
