package broadcast

import (
	"testing"
	"time"

	"github.com/tallyworks/tallyd/internal/counter/domain"
	"github.com/tallyworks/tallyd/internal/counter/peaks"
	"github.com/tallyworks/tallyd/internal/counter/state"
	"github.com/tallyworks/tallyd/internal/topology"
)

func TestBuildViewZeroFillsTopology(t *testing.T) {
	st := state.NewStore()
	tr := peaks.NewTracker()
	tr.RecordDay("Sellersburg_Certified_Center", 1000)

	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	st.ApplyDelta(domain.Key{Facility: "Sellersburg_Certified_Center", Line: "FTN", Date: "2024-01-01"}, 1000, at)

	view := buildView("2024-01-01", st, tr, topology.DefaultTopology())

	if view.Counts["Sellersburg_Certified_Center"]["FTN"] != 1000 {
		t.Fatalf("counts = %v", view.Counts)
	}
	if view.Counts["Sellersburg_Certified_Center"]["RTO"] != 0 {
		t.Fatal("idle line missing from view")
	}
	if view.Counts["Columbus_Operations"]["FTN"] != 0 {
		t.Fatal("idle facility missing from view")
	}
	if got := len(view.Hourly["Lexington_Refurb"]["WHL"]); got != 24 {
		t.Fatalf("idle line has %d hourly buckets, want 24", got)
	}
	if view.Hourly["Sellersburg_Certified_Center"]["FTN"][9] != 1000 {
		t.Fatalf("hourly = %v", view.Hourly["Sellersburg_Certified_Center"]["FTN"])
	}
	if view.Total != 1000 {
		t.Fatalf("total = %d, want 1000", view.Total)
	}
	if view.Peaks["Sellersburg_Certified_Center"].PeakDay != 1000 {
		t.Fatalf("peaks = %v", view.Peaks)
	}
}

func TestBuildViewTargetPercentRounds(t *testing.T) {
	st := state.NewStore()
	at := time.Now()
	// 1999 of 4000 is 49.975 percent, which rounds to 50.
	st.ApplyDelta(domain.Key{Facility: "Sellersburg_Certified_Center", Line: "FTN", Date: "2024-01-01"}, 1999, at)

	view := buildView("2024-01-01", st, peaks.NewTracker(), topology.DefaultTopology())

	if got := view.TargetPct["Sellersburg_Certified_Center"]; got != 50 {
		t.Fatalf("target pct = %d, want 50", got)
	}
	if got := view.TargetPct["Columbus_Operations"]; got != 0 {
		t.Fatalf("idle facility pct = %d, want 0", got)
	}
}

func TestBuildViewKeepsRetiredFacilities(t *testing.T) {
	st := state.NewStore()
	st.ApplyDelta(domain.Key{Facility: "Closed_Plant", Line: "FTN", Date: "2024-01-01"}, 7, time.Now())

	view := buildView("2024-01-01", st, peaks.NewTracker(), topology.DefaultTopology())

	if view.Counts["Closed_Plant"]["FTN"] != 7 {
		t.Fatal("counts recorded under a retired facility dropped from view")
	}
	if len(view.Hourly["Closed_Plant"]["FTN"]) != 24 {
		t.Fatal("retired facility missing hourly buckets")
	}
}
