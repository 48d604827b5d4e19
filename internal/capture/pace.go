// ABOUTME: Pacing wrapper that throttles a byte stream to the session's PCM rate
// ABOUTME: Keeps pre-recorded and generated sources from racing ahead of real time
package capture

import (
	"io"
	"time"

	"github.com/roomtone/roomtone-go/internal/config"
)

// pacedReader delays each read until the elapsed wall time covers the
// bytes already delivered at the PCM byte rate, so delivery runs at most
// one read ahead of real time. Sleeping before the read, not after,
// keeps the trailing partial block timely.
type pacedReader struct {
	r        io.ReadCloser
	start    time.Time
	consumed int64
}

func newPacedReader(r io.ReadCloser) *pacedReader {
	return &pacedReader{r: r, start: time.Now()}
}

func (p *pacedReader) Read(buf []byte) (int, error) {
	budget := time.Duration(p.consumed) * time.Second / time.Duration(config.BytesPerSecond)
	if ahead := budget - time.Since(p.start); ahead > 0 {
		time.Sleep(ahead)
	}
	n, err := p.r.Read(buf)
	p.consumed += int64(n)
	return n, err
}

func (p *pacedReader) Close() error {
	return p.r.Close()
}
