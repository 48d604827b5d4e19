// ABOUTME: Capture sources: test tone, raw file, stdin, and ffmpeg device capture
// ABOUTME: Every source yields interleaved S16LE at the session rate; tone and file are paced here
package capture

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/roomtone/roomtone-go/internal/config"
	"go.uber.org/zap"
)

// Open resolves a device string to a PCM byte stream:
//
//	""            440Hz test tone
//	"tone"        440Hz test tone
//	"tone:880"    test tone at the given frequency
//	"-"           raw S16LE from stdin, read as fast as it arrives
//	"file:x.raw"  raw S16LE file, paced to real time
//	path          existing file treated as raw S16LE, otherwise an ffmpeg input
func Open(device string, logger *zap.Logger) (io.ReadCloser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch {
	case device == "tone" || strings.HasPrefix(device, "tone:"):
		freq := 440.0
		if rest, ok := strings.CutPrefix(device, "tone:"); ok {
			f, err := strconv.ParseFloat(rest, 64)
			if err != nil || f <= 0 {
				return nil, fmt.Errorf("invalid tone frequency %q", rest)
			}
			freq = f
		}
		logger.Info("capturing test tone", zap.Float64("frequency_hz", freq))
		return newToneSource(freq), nil

	case device == "-":
		logger.Info("capturing from stdin")
		return os.Stdin, nil

	case strings.HasPrefix(device, "file:"):
		return openFile(strings.TrimPrefix(device, "file:"), logger)

	case device == "":
		logger.Info("no capture device given, using test tone")
		return newToneSource(440), nil

	default:
		if _, err := os.Stat(device); err == nil {
			return openFile(device, logger)
		}
		return openFFmpeg(device, logger)
	}
}

func openFile(path string, logger *zap.Logger) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening capture file failed: %w", err)
	}
	logger.Info("capturing from file", zap.String("path", path))
	return newPacedReader(f), nil
}

// openFFmpeg spawns ffmpeg to pull from a system capture device and
// convert to the session PCM format. ffmpeg paces the output itself.
func openFFmpeg(device string, logger *zap.Logger) (io.ReadCloser, error) {
	cmd := exec.Command("ffmpeg",
		"-loglevel", "error",
		"-f", "pulse",
		"-i", device,
		"-f", "s16le",
		"-ar", strconv.Itoa(config.SampleRate),
		"-ac", strconv.Itoa(config.Channels),
		"-")
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg pipe failed: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg failed: %w", err)
	}

	logger.Info("capturing via ffmpeg",
		zap.String("device", device),
		zap.Int("pid", cmd.Process.Pid))

	return &ffmpegSource{cmd: cmd, stdout: stdout}, nil
}

type ffmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func (f *ffmpegSource) Read(p []byte) (int, error) {
	return f.stdout.Read(p)
}

func (f *ffmpegSource) Close() error {
	f.stdout.Close()
	if f.cmd.Process != nil {
		f.cmd.Process.Kill()
	}
	return f.cmd.Wait()
}
