package broadcast

import (
	"sort"
	"testing"
)

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry(nil)
	a := &recordSink{}
	b := &recordSink{}

	idA := reg.Add(a, "2024-01-01")
	idB := reg.Add(b, "2024-01-01")
	if reg.Count() != 2 {
		t.Fatalf("count = %d, want 2", reg.Count())
	}

	reg.SetDate(idB, "2023-12-31")
	dates := reg.ActiveDates()
	sort.Strings(dates)
	if len(dates) != 2 || dates[0] != "2023-12-31" || dates[1] != "2024-01-01" {
		t.Fatalf("active dates = %v", dates)
	}

	if date, ok := reg.Date(idA); !ok || date != "2024-01-01" {
		t.Fatalf("Date(idA) = %q, %v", date, ok)
	}

	byDate := reg.SinksByDate()
	if len(byDate["2024-01-01"]) != 1 || len(byDate["2023-12-31"]) != 1 {
		t.Fatalf("sinks by date = %v", byDate)
	}

	reg.Remove(idA)
	reg.Remove(idB)
	if reg.Count() != 0 {
		t.Fatalf("count after removal = %d, want 0", reg.Count())
	}
	if len(reg.ActiveDates()) != 0 {
		t.Fatal("active dates should be empty")
	}

	// Removing twice or touching unknown ids is harmless.
	reg.Remove(idA)
	reg.SetDate("nope", "2024-01-01")
}
