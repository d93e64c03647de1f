package peaks

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/tallyworks/tallyd/internal/counter/domain"
)

func TestRecordDayMonotonic(t *testing.T) {
	tr := NewTracker()
	rng := rand.New(rand.NewSource(7))

	var max int64
	for i := 0; i < 200; i++ {
		v := rng.Int63n(1000)
		tr.RecordDay("Sellersburg_Certified_Center", v)
		if v > max {
			max = v
		}
		if got := tr.Get("Sellersburg_Certified_Center").PeakDay; got != max {
			t.Fatalf("after offering %d: peak = %d, want %d", v, got, max)
		}
	}
}

func TestTieKeepsExistingRecord(t *testing.T) {
	tr := NewTracker()
	tr.RecordDay("A", 50)
	tr.RecordDay("A", 50)
	tr.RecordWindow("A", 120)
	tr.RecordWindow("A", 119)

	snap := tr.Get("A")
	if snap.PeakDay != 50 || snap.PeakWeekly != 120 {
		t.Fatalf("snap = %+v, want {50 120}", snap)
	}
}

func TestRecomputeFromSeriesWindow(t *testing.T) {
	days := map[string]int64{}
	// Ten days ramping 10..100; the best 7-entry window is the last one,
	// 40+50+...+100 = 490, and the best day is 100.
	for i := 0; i < 10; i++ {
		days[fmt.Sprintf("2024-01-%02d", i+1)] = int64((i + 1) * 10)
	}

	tr := NewTracker()
	tr.RecomputeFromSeries(map[string]map[string]int64{"A": days})

	snap := tr.Get("A")
	if snap.PeakDay != 100 {
		t.Fatalf("peak day = %d, want 100", snap.PeakDay)
	}
	if snap.PeakWeekly != 490 {
		t.Fatalf("peak weekly = %d, want 490", snap.PeakWeekly)
	}
}

func TestRecomputeShortSeriesUsesAllDays(t *testing.T) {
	tr := NewTracker()
	tr.RecomputeFromSeries(map[string]map[string]int64{
		"B": {"2024-01-01": 5, "2024-01-02": 7, "2024-01-03": 4},
	})

	snap := tr.Get("B")
	if snap.PeakDay != 7 {
		t.Fatalf("peak day = %d, want 7", snap.PeakDay)
	}
	if snap.PeakWeekly != 16 {
		t.Fatalf("peak weekly = %d, want 16", snap.PeakWeekly)
	}
}

func TestRecomputeNeverLowers(t *testing.T) {
	tr := NewTracker()
	tr.RecordDay("A", 500)
	tr.RecordWindow("A", 900)

	tr.RecomputeFromSeries(map[string]map[string]int64{
		"A": {"2024-01-01": 10, "2024-01-02": 20},
	})

	snap := tr.Get("A")
	if snap.PeakDay != 500 || snap.PeakWeekly != 900 {
		t.Fatalf("snap = %+v, want {500 900}", snap)
	}
}

func TestMergeDurableRaiseOnly(t *testing.T) {
	tr := NewTracker()
	tr.RecordDay("A", 40)
	tr.RecordWindow("A", 60)

	tr.MergeDurable([]domain.FacilityPeak{
		{Facility: "A", PeakDay: 30, PeakWeekly: 100},
		{Facility: "B", PeakDay: 12, PeakWeekly: 12},
	})

	if snap := tr.Get("A"); snap.PeakDay != 40 || snap.PeakWeekly != 100 {
		t.Fatalf("A = %+v, want {40 100}", snap)
	}
	if snap := tr.Get("B"); snap.PeakDay != 12 || snap.PeakWeekly != 12 {
		t.Fatalf("B = %+v, want {12 12}", snap)
	}
}

func TestResetClearsRecords(t *testing.T) {
	tr := NewTracker()
	tr.RecordDay("A", 99)
	tr.Reset()

	if snap := tr.Get("A"); snap.PeakDay != 0 || snap.PeakWeekly != 0 {
		t.Fatalf("after reset: %+v, want zeros", snap)
	}
	if len(tr.Snapshot()) != 0 {
		t.Fatal("snapshot not empty after reset")
	}
}
