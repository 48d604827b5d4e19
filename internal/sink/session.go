// ABOUTME: Sink session: dials a source, syncs clocks, buffers and schedules playout
// ABOUTME: One goroutine each for receive, sync cadence, playout, and stats reporting
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/roomtone/roomtone-go/internal/clock"
	"github.com/roomtone/roomtone-go/internal/config"
	"github.com/roomtone/roomtone-go/internal/playback"
	"github.com/roomtone/roomtone-go/internal/protocol"
	"github.com/roomtone/roomtone-go/internal/timesync"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrProtocolMismatch is returned when the source's session descriptor
// announces PCM parameters this build cannot play. The session closes;
// reconnecting will not help until one side changes.
var ErrProtocolMismatch = errors.New("incompatible stream parameters")

// State is the sink lifecycle.
type State int32

const (
	StateDialing State = iota
	StateDescriptorPending
	StateSyncing
	StateReady
	StatePlaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateDescriptorPending:
		return "descriptor_pending"
	case StateSyncing:
		return "syncing"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	writeTimeout   = 10 * time.Second
	syncTick       = 100 * time.Millisecond
	idlePoll       = 5 * time.Millisecond
	dispatchPoll   = 1 * time.Millisecond
	statsInterval  = time.Second
	minStartChunks = 2
)

// Config holds sink configuration.
type Config struct {
	URL      string
	ClientID string
}

// Stats is a point-in-time view of the session.
type Stats struct {
	State  State
	Buffer BufferStats
	Sync   timesync.Stats
	Played uint64
}

// Session is one sink connection to a source.
type Session struct {
	cfg    Config
	logger *zap.Logger
	clock  *clock.Clock
	out    playback.Writer

	conn    *websocket.Conn
	writeMu sync.Mutex

	est    *timesync.Estimator
	buffer *Buffer

	readySent atomic.Bool
	played    atomic.Uint64
	state     atomic.Int32
}

// NewSession creates a session that will play received audio on out.
// A nil out leaves the session receive-only, which tests use.
func NewSession(cfg Config, out playback.Writer, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	return &Session{
		cfg:    cfg,
		logger: logger.With(zap.String("client_id", cfg.ClientID)),
		clock:  clock.New(),
		out:    out,
		est:    timesync.NewEstimator(logger),
		buffer: NewBuffer(logger),
	}
}

// Run dials the source and drives the session until ctx is cancelled or
// the connection fails. A clean remote close returns nil.
func (s *Session) Run(ctx context.Context) error {
	s.setState(StateDialing)
	s.logger.Info("connecting", zap.String("url", s.cfg.URL))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	s.conn = conn
	s.setState(StateDescriptorPending)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return s.readLoop(ctx)
	})
	g.Go(func() error { return s.syncLoop(ctx) })
	g.Go(func() error { return s.playoutLoop(ctx) })
	g.Go(func() error { return s.statsLoop(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		conn.Close()
		return nil
	})

	err = g.Wait()
	s.setState(StateClosed)
	if s.out != nil {
		s.out.Close()
	}
	s.logger.Info("session closed", zap.Uint64("played", s.played.Load()))
	return err
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
		t4 := s.clock.NowMs()

		msg, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn("dropping malformed message", zap.Error(err))
			continue
		}

		switch m := msg.(type) {
		case protocol.ServerInfo:
			if err := s.acceptDescriptor(m); err != nil {
				return err
			}
		case protocol.SyncResponse:
			s.acceptSync(m, t4)
		case protocol.AudioChunk:
			s.acceptChunk(m, t4)
		case protocol.ErrorMessage:
			s.logger.Warn("source reported error", zap.String("message", m.Message))
		default:
			s.logger.Warn("dropping unexpected message", zap.String("tag", msg.Tag()))
		}
	}
}

func (s *Session) acceptDescriptor(info protocol.ServerInfo) error {
	if info.SampleRate != config.SampleRate ||
		info.Channels != config.Channels ||
		info.BitDepth != config.BitDepth ||
		info.ChunkDurationMs != config.ChunkDurationMs {
		s.logger.Error("stream parameters not supported",
			zap.Int("sample_rate", info.SampleRate),
			zap.Int("channels", info.Channels),
			zap.Int("bit_depth", info.BitDepth),
			zap.Int("chunk_ms", info.ChunkDurationMs))
		return fmt.Errorf("%w: %dHz/%dch/%dbit/%dms", ErrProtocolMismatch,
			info.SampleRate, info.Channels, info.BitDepth, info.ChunkDurationMs)
	}
	s.logger.Info("session descriptor accepted",
		zap.Int("sample_rate", info.SampleRate),
		zap.Int("chunk_ms", info.ChunkDurationMs))
	s.setState(StateSyncing)
	return nil
}

func (s *Session) acceptSync(resp protocol.SyncResponse, t4 float64) {
	sample := s.est.AddExchange(resp.T1, resp.T2, resp.T3, t4)
	s.logger.Debug("sync sample",
		zap.Float64("offset_ms", sample.Offset),
		zap.Float64("rtt_ms", sample.RTT))

	if s.readySent.CompareAndSwap(false, true) {
		if err := s.send(protocol.ClientReady{ClientID: s.cfg.ClientID}); err != nil {
			s.logger.Warn("sending ready failed", zap.Error(err))
			s.readySent.Store(false)
			return
		}
		s.setState(StateReady)
		s.logger.Info("clock converged",
			zap.Float64("offset_ms", sample.Offset),
			zap.Float64("rtt_ms", sample.RTT))
	}
}

func (s *Session) acceptChunk(chunk protocol.AudioChunk, now float64) {
	if !s.est.Converged() {
		// No usable clock mapping yet; scheduling would be a guess.
		return
	}
	playAt := s.est.SourceToLocal(chunk.Timestamp) + config.TargetBufferMs
	s.buffer.Insert(chunk.Sequence, playAt, chunk.Data, now)

	if s.State() == StateReady && s.out != nil && s.buffer.Len() >= minStartChunks {
		s.setState(StatePlaying)
		s.logger.Info("playback started", zap.Int("buffered", s.buffer.Len()))
	}
}

// syncLoop sends sync requests whenever the estimator wants a fresh
// sample. The tick is much shorter than the sync interval, so before the
// first response a request goes out every tick, and a stale estimate is
// refreshed within one tick of going stale.
func (s *Session) syncLoop(ctx context.Context) error {
	ticker := time.NewTicker(syncTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if s.State() == StateDescriptorPending || s.State() == StateDialing {
			continue
		}
		now := s.clock.NowMs()
		if !s.est.NeedsResync(now) {
			continue
		}
		if err := s.send(protocol.SyncRequest{T1: s.clock.NowMs()}); err != nil {
			s.logger.Warn("sending sync request failed", zap.Error(err))
		}
	}
}

// playoutLoop dispatches due chunks to the output. It polls on a short
// timer rather than sleeping to the exact deadline so a late-arriving
// earlier chunk can still jump the queue.
func (s *Session) playoutLoop(ctx context.Context) error {
	timer := time.NewTimer(idlePoll)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		delay := idlePoll
		if s.out != nil && s.State() == StatePlaying {
			now := s.clock.NowMs()
			if e, ok := s.buffer.PopDue(now); ok {
				if _, err := s.out.Write(e.Data); err != nil {
					return fmt.Errorf("playback write failed: %w", err)
				}
				s.played.Add(1)
				delay = dispatchPoll
			}
		}
		timer.Reset(delay)
	}
}

func (s *Session) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		st := s.Stats()
		s.logger.Info("session stats",
			zap.String("state", st.State.String()),
			zap.Int("buffered", st.Buffer.Buffered),
			zap.Float64("span_ms", st.Buffer.SpanMs),
			zap.Uint64("dropped", st.Buffer.Dropped),
			zap.Uint64("late", st.Buffer.Late),
			zap.Float64("offset_ms", st.Sync.Offset),
			zap.Float64("drift_ms_per_s", st.Sync.Drift),
			zap.Uint64("played", st.Played))
	}
}

func (s *Session) send(m protocol.Message) error {
	payload, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Stats returns a snapshot for logs and tests.
func (s *Session) Stats() Stats {
	return Stats{
		State:  s.State(),
		Buffer: s.buffer.Stats(),
		Sync:   s.est.Snapshot(),
		Played: s.played.Load(),
	}
}
