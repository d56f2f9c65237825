package observability

import "testing"

func TestTurnStageWindowSnapshot(t *testing.T) {
	w := newTurnStageWindow(8)
	w.Observe(StageFirstDelta, 100)
	w.Observe(StageFirstDelta, 300)
	w.Observe(StageFirstDelta, 500)
	w.ObserveIndicator("segment_split")
	w.ObserveIndicator("segment_split")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageFirstDelta {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageFirstDelta)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 500 {
		t.Fatalf("LastMS = %.2f, want 500", s.LastMS)
	}
	if s.P50MS != 300 {
		t.Fatalf("P50MS = %.2f, want 300", s.P50MS)
	}
	if s.P95MS <= 300 || s.P95MS > 500 {
		t.Fatalf("P95MS = %.2f, want (300,500]", s.P95MS)
	}
	if s.TargetP95MS != 600 {
		t.Fatalf("TargetP95MS = %.2f, want 600", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "segment_split" {
		t.Fatalf("Indicators[0].Name = %q, want %q", snap.Indicators[0].Name, "segment_split")
	}
	if snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0].Count = %d, want %d", snap.Indicators[0].Count, 2)
	}
}

func TestTurnStageWindowWrapsRing(t *testing.T) {
	w := newTurnStageWindow(4)
	for i := 1; i <= 6; i++ {
		w.Observe(StageTurnTotal, float64(i*100))
	}
	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 4 {
		t.Fatalf("Samples = %d, want ring capacity 4", s.Samples)
	}
	if s.LastMS != 600 {
		t.Fatalf("LastMS = %.2f, want 600", s.LastMS)
	}
}
