// ABOUTME: Sine wave test source, paced to real time
// ABOUTME: Same sample written to both channels at half amplitude
package capture

import (
	"math"

	"github.com/roomtone/roomtone-go/internal/config"
)

// toneSource generates an endless sine wave. Reads block until real
// time has caught up with the bytes produced so far.
type toneSource struct {
	*pacedReader
}

type toneGenerator struct {
	frequency   float64
	sampleIndex uint64
}

func newToneSource(frequency float64) *toneSource {
	return &toneSource{pacedReader: newPacedReader(&toneGenerator{frequency: frequency})}
}

func (g *toneGenerator) Read(p []byte) (int, error) {
	frames := len(p) / config.BytesPerSample
	for i := 0; i < frames; i++ {
		t := float64(g.sampleIndex+uint64(i)) / float64(config.SampleRate)
		sample := math.Sin(2 * math.Pi * g.frequency * t)
		pcm := int16(sample * 32767.0 * 0.5)
		for ch := 0; ch < config.Channels; ch++ {
			off := i*config.BytesPerSample + ch*2
			p[off] = byte(pcm)
			p[off+1] = byte(pcm >> 8)
		}
	}
	g.sampleIndex += uint64(frames)
	return frames * config.BytesPerSample, nil
}

func (g *toneGenerator) Close() error { return nil }
