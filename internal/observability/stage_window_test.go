package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := NewStageWindow(8)
	w.Observe(StageFetch, 500)
	w.Observe(StageFetch, 700)
	w.Observe(StageFetch, 900)
	w.Observe("", 100)
	w.Observe(StageSend, -1)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageFetch {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageFetch)
	}
	if s.Samples != 3 || s.LastMS != 900 || s.MaxMS != 900 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 1500 {
		t.Fatalf("TargetP95MS = %.2f, want 1500", s.TargetP95MS)
	}
}

func TestStageWindowWrapsAtCapacity(t *testing.T) {
	w := NewStageWindow(2)
	for _, v := range []float64{10, 20, 30} {
		w.Observe(StagePolicy, v)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25 (oldest sample evicted)", s.AvgMS)
	}
}

func TestMetricsRecordOnPrivateRegistry(t *testing.T) {
	m := NewMetricsWith("test", prometheus.NewRegistry())
	m.Tick("processed")
	m.Tick("processed")
	m.Record("dispatched", 3)
	m.Record("dispatched", 0)
	m.SetCursor(121)
	m.ObserveStage(StageSend, 40*time.Millisecond)

	if got := testutil.ToFloat64(m.Ticks.WithLabelValues("processed")); got != 2 {
		t.Fatalf("ticks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Records.WithLabelValues("dispatched")); got != 3 {
		t.Fatalf("records = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.Cursor); got != 121 {
		t.Fatalf("cursor = %v, want 121", got)
	}
	if snap := m.StageSnapshot(); len(snap.Stages) != 1 || snap.Stages[0].LastMS != 40 {
		t.Fatalf("stage snapshot = %+v", snap)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Tick("idle")
	m.Part("sent")
	m.PersistFailed()
	m.ObserveStage(StageFetch, time.Second)
	if snap := m.StageSnapshot(); len(snap.Stages) != 0 {
		t.Fatalf("expected empty snapshot")
	}
}
