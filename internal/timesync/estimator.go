// ABOUTME: NTP-style clock offset and drift estimation over a bounded sample window
// ABOUTME: RTT-weighted offset keeps jitter outliers in the window without letting them dominate
package timesync

import (
	"math"
	"sync"

	"github.com/roomtone/roomtone-go/internal/config"
	"go.uber.org/zap"
)

// Sample is the result of one sync exchange. Offset follows the
// convention source_time = local_time + offset.
type Sample struct {
	Offset  float64
	RTT     float64
	AtLocal float64
}

// Stats is a point-in-time snapshot of the estimator.
type Stats struct {
	Offset     float64
	RTT        float64
	Drift      float64 // ms of offset change per second of local time
	LastSyncAt float64
	Converged  bool
	Samples    int
}

// Estimator maintains {offset, rtt, drift} from timestamp round-trips.
// Converged latches true on the first accepted sample and never
// regresses within a session.
type Estimator struct {
	mu         sync.Mutex
	samples    []Sample
	offset     float64
	rtt        float64
	drift      float64
	lastSyncAt float64
	converged  bool
	logger     *zap.Logger
}

// NewEstimator creates an empty estimator.
func NewEstimator(logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{logger: logger}
}

// ComputeExchange derives one sample's offset and RTT from the four
// exchange timestamps: t1 sink send, t2 source receive, t3 source send,
// t4 sink receive.
func ComputeExchange(t1, t2, t3, t4 float64) (offset, rtt float64) {
	rtt = (t4 - t1) - (t3 - t2)
	offset = ((t2 - t1) + (t3 - t4)) / 2
	return offset, rtt
}

// AddExchange folds one completed exchange into the window. t4 doubles
// as the sample's local acceptance time.
func (e *Estimator) AddExchange(t1, t2, t3, t4 float64) Sample {
	offset, rtt := ComputeExchange(t1, t2, t3, t4)
	s := Sample{Offset: offset, RTT: rtt, AtLocal: t4}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.samples = append(e.samples, s)
	if len(e.samples) > config.SyncSamples {
		e.samples = e.samples[len(e.samples)-config.SyncSamples:]
	}

	e.offset = weightedOffset(e.samples)
	e.rtt = rtt
	e.drift = driftSlope(e.samples)
	e.lastSyncAt = t4
	e.converged = true

	if math.Abs(e.drift) > config.MaxDriftMs {
		e.logger.Warn("clock drift above threshold",
			zap.Float64("drift_ms_per_s", e.drift),
			zap.Float64("offset_ms", e.offset))
	}

	return s
}

// SourceToLocal converts a source timestamp to the local clock.
func (e *Estimator) SourceToLocal(sourceTime float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sourceTime - e.offset
}

// NeedsResync reports whether a sync exchange should be initiated:
// before convergence, or when the last accepted sample is older than
// the sync interval.
func (e *Estimator) NeedsResync(localNow float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.converged || localNow-e.lastSyncAt > config.SyncIntervalMs
}

// Converged reports whether at least one sample has been accepted.
func (e *Estimator) Converged() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.converged
}

// Snapshot returns the current aggregates.
func (e *Estimator) Snapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Offset:     e.offset,
		RTT:        e.rtt,
		Drift:      e.drift,
		LastSyncAt: e.lastSyncAt,
		Converged:  e.converged,
		Samples:    len(e.samples),
	}
}

// weightedOffset is the RTT-weighted mean of the window. Weight is
// 1/max(rtt, 0.1ms) so low-RTT samples dominate without discarding
// high-RTT outliers.
func weightedOffset(samples []Sample) float64 {
	var num, den float64
	for _, s := range samples {
		w := 1 / math.Max(s.RTT, 0.1)
		num += w * s.Offset
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// driftSlope fits offset against local sample time by ordinary least
// squares and scales the slope from ms/ms to ms/s. Diagnostic only;
// playout relies on buffer headroom rather than drift pre-correction.
func driftSlope(samples []Sample) float64 {
	n := float64(len(samples))
	if n < 2 {
		return 0
	}
	var meanX, meanY float64
	for _, s := range samples {
		meanX += s.AtLocal
		meanY += s.Offset
	}
	meanX /= n
	meanY /= n

	var cov, varX float64
	for _, s := range samples {
		dx := s.AtLocal - meanX
		cov += dx * (s.Offset - meanY)
		varX += dx * dx
	}
	if varX == 0 {
		return 0
	}
	return cov / varX * 1000
}
