// ABOUTME: Broadcast loop: frames the capture stream and fans chunks out to ready sinks
// ABOUTME: Each frame is stamped and encoded once; per-sink failures never stall the loop
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/roomtone/roomtone-go/internal/config"
	"github.com/roomtone/roomtone-go/internal/framer"
	"github.com/roomtone/roomtone-go/internal/protocol"
	"go.uber.org/zap"
)

// broadcastLoop reads fixed-size blocks from the capture stream and
// sends each one to every ready sink. The timestamp is stamped when the
// block leaves the framer, before encoding, so it marks capture time
// rather than send time.
func (s *Server) broadcastLoop(ctx context.Context) error {
	fr := framer.New(s.capture, config.BytesPerChunk)

	for {
		block, err := fr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("capture stream ended",
					zap.Uint32("frames", atomic.LoadUint32(&s.seq)))
				return nil
			}
			if ctx.Err() != nil {
				// Shutdown closed the capture stream under us.
				return nil
			}
			return fmt.Errorf("capture read failed: %w", err)
		}

		ts := s.clock.NowMs()
		seq := atomic.LoadUint32(&s.seq)
		atomic.AddUint32(&s.seq, 1)

		if s.State() == StateListening && s.sinkCount() > 0 {
			s.setState(StateStreaming)
			s.logger.Info("streaming started", zap.Int("sinks", s.sinkCount()))
		}

		payload, err := protocol.Encode(protocol.AudioChunk{
			Timestamp: ts,
			Sequence:  seq,
			Data:      block,
		})
		if err != nil {
			return fmt.Errorf("encoding audio chunk failed: %w", err)
		}

		for _, rec := range s.snapshotReady() {
			if err := rec.send(payload); err != nil {
				rec.sendErrs.Add(1)
				s.logger.Warn("sending audio chunk failed",
					zap.String("sink", rec.id),
					zap.Uint32("sequence", seq),
					zap.Error(err))
			}
		}
	}
}
