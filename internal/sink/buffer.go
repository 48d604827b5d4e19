// ABOUTME: Jitter buffer: holds decoded audio chunks ordered by scheduled play time
// ABOUTME: Accounts for sequence gaps, drops late and overflow chunks, trims from the front
package sink

import (
	"sort"
	"sync"

	"github.com/roomtone/roomtone-go/internal/config"
	"go.uber.org/zap"
)

// Entry is one buffered chunk with its scheduled local play time.
type Entry struct {
	PlayAt   float64
	Sequence uint32
	Data     []byte
}

// BufferStats is a point-in-time view of the buffer.
type BufferStats struct {
	Buffered int
	SpanMs   float64
	Dropped  uint64
	Late     uint64
}

// Buffer orders chunks by (PlayAt, Sequence). Insert drops chunks whose
// play time has already passed and trims the oldest entries when the
// buffered span exceeds the maximum.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	lastSeq int64
	dropped uint64
	late    uint64
	logger  *zap.Logger
}

// NewBuffer creates an empty buffer.
func NewBuffer(logger *zap.Logger) *Buffer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffer{lastSeq: -1, logger: logger}
}

// Insert files one chunk. now is the local clock used for the late
// check. Returns false when the chunk was dropped as late.
func (b *Buffer) Insert(seq uint32, playAt float64, data []byte, now float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Gap accounting first: a lost chunk is lost whether or not this
	// one ends up playable.
	if b.lastSeq >= 0 {
		gap := int64(seq) - b.lastSeq - 1
		if gap > 0 {
			b.dropped += uint64(gap)
			b.logger.Warn("sequence gap",
				zap.Int64("expected", b.lastSeq+1),
				zap.Uint32("got", seq),
				zap.Int64("lost", gap))
		}
	}
	b.lastSeq = int64(seq)

	if playAt <= now {
		b.late++
		if b.late%100 == 1 {
			b.logger.Warn("dropping late chunk",
				zap.Uint32("sequence", seq),
				zap.Float64("late_ms", now-playAt),
				zap.Uint64("late_total", b.late))
		}
		return false
	}

	i := sort.Search(len(b.entries), func(i int) bool {
		e := b.entries[i]
		if e.PlayAt != playAt {
			return e.PlayAt > playAt
		}
		return e.Sequence > seq
	})
	b.entries = append(b.entries, Entry{})
	copy(b.entries[i+1:], b.entries[i:])
	b.entries[i] = Entry{PlayAt: playAt, Sequence: seq, Data: data}

	// Overflow trims from the front: the oldest audio is the least
	// worth keeping once the buffer is this far behind.
	for b.span() > config.MaxBufferMs {
		b.entries = b.entries[1:]
		b.dropped++
	}

	return true
}

// PopDue removes and returns the head entry if its play time has
// arrived. The second return is false when nothing is due.
func (b *Buffer) PopDue(now float64) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 || b.entries[0].PlayAt > now {
		return Entry{}, false
	}
	e := b.entries[0]
	b.entries = b.entries[1:]
	return e, true
}

// Len returns the number of buffered chunks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// NextPlayAt returns the head entry's play time. The second return is
// false when the buffer is empty.
func (b *Buffer) NextPlayAt() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return 0, false
	}
	return b.entries[0].PlayAt, true
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Buffered: len(b.entries),
		SpanMs:   b.span(),
		Dropped:  b.dropped,
		Late:     b.late,
	}
}

// span is the play-time distance between head and tail. Caller holds mu.
func (b *Buffer) span() float64 {
	if len(b.entries) < 2 {
		return 0
	}
	return b.entries[len(b.entries)-1].PlayAt - b.entries[0].PlayAt
}
