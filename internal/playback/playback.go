// ABOUTME: Audio playback using the oto library
// ABOUTME: PCM bytes are piped into an oto player sized for about 100ms of buffering
package playback

import (
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/roomtone/roomtone-go/internal/config"
	"go.uber.org/zap"
)

// Writer accepts interleaved S16LE PCM and plays or discards it.
type Writer interface {
	Write(p []byte) (int, error)
	Close() error
}

// Output plays PCM through the default audio device via oto.
type Output struct {
	otoCtx *oto.Context
	player *oto.Player
	pw     *io.PipeWriter
}

// Open initializes the audio device. device is advisory only; oto
// always opens the platform default, so a non-empty value is logged
// and otherwise ignored.
func Open(device string, logger *zap.Logger) (*Output, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if device != "" {
		logger.Info("output device selection not supported, using default",
			zap.String("requested", device))
	}

	op := &oto.NewContextOptions{
		SampleRate:   config.SampleRate,
		ChannelCount: config.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	}

	otoCtx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("creating audio context failed: %w", err)
	}
	<-readyChan

	pr, pw := io.Pipe()
	player := otoCtx.NewPlayer(pr)
	player.Play()

	logger.Info("audio output initialized",
		zap.Int("sample_rate", config.SampleRate),
		zap.Int("channels", config.Channels))

	return &Output{otoCtx: otoCtx, player: player, pw: pw}, nil
}

// Write queues PCM bytes for playback.
func (o *Output) Write(p []byte) (int, error) {
	return o.pw.Write(p)
}

// Close stops playback and releases the device.
func (o *Output) Close() error {
	o.pw.Close()
	return o.player.Close()
}

// Null discards everything written to it. Tests and receive-only runs
// use it in place of a real device.
type Null struct{}

func (Null) Write(p []byte) (int, error) { return len(p), nil }
func (Null) Close() error                { return nil }
