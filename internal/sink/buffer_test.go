// ABOUTME: Tests for the jitter buffer
// ABOUTME: Covers ordering, gap accounting, late drops, and overflow trimming
package sink

import (
	"testing"

	"github.com/roomtone/roomtone-go/internal/config"
)

func TestOrderedByPlayTime(t *testing.T) {
	b := NewBuffer(nil)
	// Out of order arrival, all in the future.
	b.Insert(2, 140, []byte{2}, 0)
	b.Insert(0, 100, []byte{0}, 0)
	b.Insert(1, 120, []byte{1}, 0)

	want := []uint32{0, 1, 2}
	for _, seq := range want {
		e, ok := b.PopDue(1000)
		if !ok {
			t.Fatalf("missing entry for seq %d", seq)
		}
		if e.Sequence != seq {
			t.Errorf("popped seq %d, want %d", e.Sequence, seq)
		}
	}
}

func TestTieBrokenBySequence(t *testing.T) {
	b := NewBuffer(nil)
	b.Insert(5, 100, nil, 0)
	b.Insert(3, 100, nil, 0)
	b.Insert(4, 100, nil, 0)

	for _, want := range []uint32{3, 4, 5} {
		e, ok := b.PopDue(1000)
		if !ok || e.Sequence != want {
			t.Errorf("popped %v (ok=%v), want seq %d", e.Sequence, ok, want)
		}
	}
}

func TestPopDueRespectsDeadline(t *testing.T) {
	b := NewBuffer(nil)
	b.Insert(0, 100, nil, 0)

	if _, ok := b.PopDue(99); ok {
		t.Error("popped before the play deadline")
	}
	if _, ok := b.PopDue(100); !ok {
		t.Error("did not pop at the play deadline")
	}
	if b.Len() != 0 {
		t.Errorf("len = %d after drain", b.Len())
	}
}

func TestGapAccounting(t *testing.T) {
	b := NewBuffer(nil)
	// Play times 1ms apart keep the span well under MaxBufferMs, so no
	// overflow trim adds to the dropped count.
	for seq := uint32(0); seq < 20; seq++ {
		b.Insert(seq, float64(100+seq), nil, 0)
	}
	// Sequences 20..29 lost in transit.
	b.Insert(30, 100+30, nil, 0)

	st := b.Stats()
	if st.Dropped != 10 {
		t.Errorf("dropped = %d, want 10", st.Dropped)
	}

	// The next in-order chunk reports no further loss.
	b.Insert(31, 100+31, nil, 0)
	if st := b.Stats(); st.Dropped != 10 {
		t.Errorf("dropped = %d after in-order resume, want 10", st.Dropped)
	}
}

func TestLateChunkDropped(t *testing.T) {
	b := NewBuffer(nil)
	if b.Insert(0, 100, nil, 150) {
		t.Error("late chunk accepted")
	}
	st := b.Stats()
	if st.Late != 1 {
		t.Errorf("late = %d, want 1", st.Late)
	}
	if st.Buffered != 0 {
		t.Errorf("buffered = %d, want 0", st.Buffered)
	}

	// A late chunk still advances the gap tracker.
	b.Insert(3, 300, nil, 0)
	if st := b.Stats(); st.Dropped != 2 {
		t.Errorf("dropped = %d, want 2 for the gap 1..2", st.Dropped)
	}
}

func TestOverflowTrimsOldest(t *testing.T) {
	b := NewBuffer(nil)
	n := config.MaxBufferMs/config.ChunkDurationMs + 10
	for seq := 0; seq < n; seq++ {
		b.Insert(uint32(seq), float64(1000+seq*config.ChunkDurationMs), nil, 0)
	}

	st := b.Stats()
	if st.SpanMs > config.MaxBufferMs {
		t.Errorf("span = %v, want <= %d", st.SpanMs, config.MaxBufferMs)
	}
	if st.Dropped == 0 {
		t.Error("overflow should count dropped chunks")
	}

	// The head must be one of the newer entries, not sequence 0.
	e, ok := b.PopDue(1e9)
	if !ok || e.Sequence == 0 {
		t.Errorf("head seq = %d (ok=%v), oldest should have been trimmed", e.Sequence, ok)
	}
}

func TestNextPlayAt(t *testing.T) {
	b := NewBuffer(nil)
	if _, ok := b.NextPlayAt(); ok {
		t.Error("NextPlayAt on empty buffer reported an entry")
	}
	b.Insert(0, 250, nil, 0)
	if at, ok := b.NextPlayAt(); !ok || at != 250 {
		t.Errorf("NextPlayAt = %v (ok=%v), want 250", at, ok)
	}
}
