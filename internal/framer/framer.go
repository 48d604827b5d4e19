// ABOUTME: Re-chunks a capture byte stream into fixed-size PCM frames
// ABOUTME: Lossless and ordered; a trailing partial block is flushed at stream end
package framer

import "io"

// Framer slices an opaque byte stream into size-byte blocks. It holds a
// single partially-filled buffer between calls.
type Framer struct {
	r    io.Reader
	size int
	buf  []byte
	n    int
	err  error
}

// New creates a framer emitting size-byte blocks from r.
func New(r io.Reader, size int) *Framer {
	return &Framer{r: r, size: size, buf: make([]byte, size)}
}

// Next returns the next block. All blocks are exactly the configured
// size except possibly the last one, which carries whatever remained
// when the stream ended. After the stream is drained Next returns the
// terminal error (io.EOF on a clean end).
func (f *Framer) Next() ([]byte, error) {
	for f.n < f.size {
		if f.err != nil {
			if f.n > 0 {
				block := make([]byte, f.n)
				copy(block, f.buf[:f.n])
				f.n = 0
				return block, nil
			}
			return nil, f.err
		}
		m, err := f.r.Read(f.buf[f.n:])
		f.n += m
		if err != nil {
			f.err = err
		}
	}

	block := make([]byte, f.size)
	copy(block, f.buf)
	f.n = 0
	return block, nil
}
