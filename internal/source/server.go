// ABOUTME: Source node: WebSocket listener, sink table, and per-sink receive loops
// ABOUTME: Emits the session descriptor on connect and services sync requests inline
package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/roomtone/roomtone-go/internal/clock"
	"github.com/roomtone/roomtone-go/internal/config"
	"github.com/roomtone/roomtone-go/internal/discovery"
	"github.com/roomtone/roomtone-go/internal/protocol"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the source lifecycle: Idle until the listener is bound,
// Listening until capture has produced a frame with at least one sink
// registered, then Streaming until capture ends.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

const sendTimeout = 10 * time.Second

// Config holds source configuration.
type Config struct {
	Port      int
	Name      string
	Advertise bool
}

// Stats is a point-in-time view of the source, for logs and tests.
type Stats struct {
	State        State
	Sinks        int
	ReadySinks   int
	NextSequence uint32
	SendErrors   uint64
}

// Server is the source node. It owns the capture stream, the sink
// table, and the broadcast loop.
type Server struct {
	cfg     Config
	logger  *zap.Logger
	clock   *clock.Clock
	capture io.ReadCloser

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	sinks map[string]*sinkRecord

	// Owned by the broadcast loop
	seq uint32

	state atomic.Int32
}

// sinkRecord tracks one connected sink. The write mutex serializes the
// broadcast loop and the receive loop's sync responses on the same
// connection.
type sinkRecord struct {
	id       string
	conn     *websocket.Conn
	writeMu  sync.Mutex
	ready    atomic.Bool
	sendErrs atomic.Uint64
}

func (r *sinkRecord) send(payload []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	return r.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// New creates a source around an open capture stream. The caller keeps
// ownership of binding and lifecycle via Run; tests can drive the
// handler directly with Handler.
func New(cfg Config, capture io.ReadCloser, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		clock:   clock.New(),
		capture: capture,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sinks: make(map[string]*sinkRecord),
	}
}

// Handler returns the HTTP handler that upgrades sink connections.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	return mux
}

// Run binds the listener and drives the accept and broadcast tasks
// until ctx is cancelled or the capture stream ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("bind failed: %w", err)
	}

	s.setState(StateListening)
	s.logger.Info("source listening", zap.Int("port", s.cfg.Port))

	var mdns *discovery.Manager
	if s.cfg.Advertise {
		mdns = discovery.NewManager(discovery.Config{
			ServiceName: s.cfg.Name,
			Port:        s.cfg.Port,
			SourceMode:  true,
		}, s.logger)
		if err := mdns.Advertise(); err != nil {
			s.logger.Warn("mdns advertisement failed", zap.Error(err))
		}
	}

	httpServer := &http.Server{Handler: s.Handler()}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.Serve(ln); err != http.ErrServerClosed {
			return fmt.Errorf("serve failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer cancel()
		return s.broadcastLoop(ctx)
	})

	g.Go(func() error { return s.statsLoop(ctx) })

	g.Go(func() error {
		<-ctx.Done()
		// Unblock the broadcast loop's pending capture read, then
		// stop accepting and close live sink connections.
		s.capture.Close()
		if mdns != nil {
			mdns.Stop()
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			httpServer.Close()
		}
		s.closeAllSinks()
		return nil
	})

	err = g.Wait()
	s.setState(StateIdle)
	s.logger.Info("source stopped")
	return err
}

// handleWebSocket upgrades a sink connection and runs its receive loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.handleConnection(conn)
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	rec := &sinkRecord{id: uuid.NewString(), conn: conn}
	s.addSink(rec)
	defer s.removeSink(rec.id)

	logger := s.logger.With(zap.String("sink", rec.id))
	logger.Info("sink connected", zap.String("remote", conn.RemoteAddr().String()))

	info := protocol.ServerInfo{
		SampleRate:      config.SampleRate,
		Channels:        config.Channels,
		BitDepth:        config.BitDepth,
		ChunkDurationMs: config.ChunkDurationMs,
		ServerStartTime: s.clock.NowMs(),
	}
	payload, err := protocol.Encode(info)
	if err != nil {
		logger.Error("encoding session descriptor failed", zap.Error(err))
		return
	}
	if err := rec.send(payload); err != nil {
		logger.Warn("sending session descriptor failed", zap.Error(err))
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("sink read failed", zap.Error(err))
			}
			logger.Info("sink disconnected",
				zap.Bool("was_ready", rec.ready.Load()),
				zap.Uint64("send_errors", rec.sendErrs.Load()))
			return
		}
		// Stamp receipt before decoding so t2 excludes parse time.
		t2 := s.clock.NowMs()

		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("dropping malformed message", zap.Error(err))
			continue
		}

		switch m := msg.(type) {
		case protocol.SyncRequest:
			// Responded to before the next dequeue on this channel,
			// keeping t3-t2 to protocol processing only.
			s.serviceSync(rec, logger, m, t2)
		case protocol.ClientReady:
			if rec.ready.CompareAndSwap(false, true) {
				logger.Info("sink ready", zap.String("client_id", m.ClientID))
			}
		case protocol.ErrorMessage:
			logger.Warn("sink reported error", zap.String("message", m.Message))
		default:
			logger.Warn("dropping unexpected message", zap.String("tag", msg.Tag()))
		}
	}
}

func (s *Server) serviceSync(rec *sinkRecord, logger *zap.Logger, req protocol.SyncRequest, t2 float64) {
	resp := protocol.SyncResponse{T1: req.T1, T2: t2, T3: s.clock.NowMs()}
	payload, err := protocol.Encode(resp)
	if err != nil {
		logger.Error("encoding sync response failed", zap.Error(err))
		return
	}
	if err := rec.send(payload); err != nil {
		rec.sendErrs.Add(1)
		logger.Warn("sending sync response failed", zap.Error(err))
	}
}

func (s *Server) addSink(rec *sinkRecord) {
	s.mu.Lock()
	s.sinks[rec.id] = rec
	s.mu.Unlock()
}

func (s *Server) removeSink(id string) {
	s.mu.Lock()
	delete(s.sinks, id)
	s.mu.Unlock()
}

func (s *Server) closeAllSinks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.sinks {
		rec.conn.Close()
	}
}

// snapshotReady copies the ready sinks so broadcast iterates without
// holding the table lock across sends.
func (s *Server) snapshotReady() []*sinkRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ready := make([]*sinkRecord, 0, len(s.sinks))
	for _, rec := range s.sinks {
		if rec.ready.Load() {
			ready = append(ready, rec)
		}
	}
	return ready
}

func (s *Server) sinkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sinks)
}

func (s *Server) setState(st State) {
	s.state.Store(int32(st))
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Stats returns a snapshot for logs and tests.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ready := 0
	var sendErrs uint64
	for _, rec := range s.sinks {
		if rec.ready.Load() {
			ready++
		}
		sendErrs += rec.sendErrs.Load()
	}
	return Stats{
		State:        s.State(),
		Sinks:        len(s.sinks),
		ReadySinks:   ready,
		NextSequence: atomic.LoadUint32(&s.seq),
		SendErrors:   sendErrs,
	}
}

// statsLoop logs a source snapshot once per second, including per-sink
// send error counts for any sink that has failed a write.
func (s *Server) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		st := s.Stats()
		s.logger.Info("source stats",
			zap.String("state", st.State.String()),
			zap.Int("sinks", st.Sinks),
			zap.Int("ready", st.ReadySinks),
			zap.Uint32("next_sequence", st.NextSequence),
			zap.Uint64("send_errors", st.SendErrors))

		s.mu.RLock()
		for _, rec := range s.sinks {
			if n := rec.sendErrs.Load(); n > 0 {
				s.logger.Warn("sink send errors",
					zap.String("sink", rec.id),
					zap.Uint64("send_errors", n))
			}
		}
		s.mu.RUnlock()
	}
}
