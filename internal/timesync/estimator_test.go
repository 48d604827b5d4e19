// ABOUTME: Tests for offset/RTT/drift estimation
// ABOUTME: Exercises the exchange math, the RTT weighting, and the resync cadence
package timesync

import (
	"math"
	"testing"

	"github.com/roomtone/roomtone-go/internal/config"
)

func TestComputeExchangeSymmetricPath(t *testing.T) {
	// Sink clock 500ms behind the source, 20ms each way.
	offset, rtt := ComputeExchange(0, 520, 521, 41)
	if math.Abs(offset-500) > 1e-9 {
		t.Errorf("offset = %v, want 500", offset)
	}
	if math.Abs(rtt-40) > 1e-9 {
		t.Errorf("rtt = %v, want 40", rtt)
	}
}

func TestComputeExchangeInstantaneous(t *testing.T) {
	offset, rtt := ComputeExchange(0, 500, 500, 0)
	if offset != 500 {
		t.Errorf("offset = %v, want 500", offset)
	}
	if rtt != 0 {
		t.Errorf("rtt = %v, want 0", rtt)
	}
}

func TestRTTNonNegativeOnSymmetricDelays(t *testing.T) {
	for _, oneWay := range []float64{0, 0.5, 5, 50} {
		_, rtt := ComputeExchange(100, 600+oneWay, 601+oneWay, 101+2*oneWay)
		if rtt < 0 {
			t.Errorf("rtt = %v for one-way %v, want >= 0", rtt, oneWay)
		}
	}
}

func TestSourceToLocal(t *testing.T) {
	e := NewEstimator(nil)
	e.AddExchange(0, 500, 500, 0)
	if got := e.SourceToLocal(520); got != 20 {
		t.Errorf("SourceToLocal(520) = %v, want 20", got)
	}
}

func TestConvergedLatches(t *testing.T) {
	e := NewEstimator(nil)
	if e.Converged() {
		t.Fatal("converged before any sample")
	}
	e.AddExchange(0, 10, 10, 2)
	if !e.Converged() {
		t.Fatal("not converged after a sample")
	}
	// More samples never reset it.
	for i := 0; i < 2*config.SyncSamples; i++ {
		e.AddExchange(float64(i), float64(i)+10, float64(i)+10, float64(i)+2)
		if !e.Converged() {
			t.Fatal("convergence regressed")
		}
	}
}

func TestWindowBounded(t *testing.T) {
	e := NewEstimator(nil)
	for i := 0; i < 3*config.SyncSamples; i++ {
		e.AddExchange(float64(i), float64(i)+100, float64(i)+100, float64(i)+4)
	}
	if n := e.Snapshot().Samples; n != config.SyncSamples {
		t.Errorf("window size = %d, want %d", n, config.SyncSamples)
	}
}

func TestLowRTTSamplesDominate(t *testing.T) {
	e := NewEstimator(nil)
	// One clean sample at offset 100, then jittery ones near offset 140
	// whose RTT is 100x larger.
	e.AddExchange(0, 100.5, 100.5, 1)
	for i := 1; i < config.SyncSamples; i++ {
		at := float64(i * 10)
		e.AddExchange(at, at+190, at+190, at+100)
	}
	got := e.Snapshot().Offset
	if math.Abs(got-100) > 5 {
		t.Errorf("weighted offset = %v, want near 100", got)
	}
}

func TestWeightedOffsetEmptyAndSingle(t *testing.T) {
	if got := weightedOffset(nil); got != 0 {
		t.Errorf("empty window offset = %v, want 0", got)
	}
	if got := weightedOffset([]Sample{{Offset: 7, RTT: 3}}); got != 7 {
		t.Errorf("single-sample offset = %v, want 7", got)
	}
}

func TestDriftSlope(t *testing.T) {
	// Offset grows 1ms every 1000ms of local time: slope 1 ms/s.
	samples := []Sample{
		{Offset: 0, AtLocal: 0},
		{Offset: 1, AtLocal: 1000},
		{Offset: 2, AtLocal: 2000},
		{Offset: 3, AtLocal: 3000},
	}
	if got := driftSlope(samples); math.Abs(got-1) > 1e-9 {
		t.Errorf("drift = %v, want 1", got)
	}
}

func TestDriftSlopeDegenerate(t *testing.T) {
	if got := driftSlope([]Sample{{Offset: 5, AtLocal: 1}}); got != 0 {
		t.Errorf("single-sample drift = %v, want 0", got)
	}
	same := []Sample{{Offset: 1, AtLocal: 9}, {Offset: 2, AtLocal: 9}}
	if got := driftSlope(same); got != 0 {
		t.Errorf("zero-variance drift = %v, want 0", got)
	}
}

func TestNeedsResync(t *testing.T) {
	e := NewEstimator(nil)
	if !e.NeedsResync(0) {
		t.Error("fresh estimator should want a sync")
	}
	e.AddExchange(0, 50, 50, 10)
	if e.NeedsResync(10 + config.SyncIntervalMs - 1) {
		t.Error("should not resync inside the interval")
	}
	if !e.NeedsResync(10 + config.SyncIntervalMs + 1) {
		t.Error("should resync after the interval")
	}
}

func TestSnapshotTracksLastExchange(t *testing.T) {
	e := NewEstimator(nil)
	e.AddExchange(0, 100, 100, 6)
	st := e.Snapshot()
	if st.LastSyncAt != 6 {
		t.Errorf("lastSyncAt = %v, want 6", st.LastSyncAt)
	}
	if st.RTT != 6 {
		t.Errorf("rtt = %v, want 6", st.RTT)
	}
	if st.Samples != 1 {
		t.Errorf("samples = %d, want 1", st.Samples)
	}
}
