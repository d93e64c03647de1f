package topology

import (
	"errors"
	"fmt"
	"strings"
)

// Topology describes the fixed set of facilities and production lines the
// engine accepts events for, plus each facility's daily production target.
type Topology struct {
	Facilities []Facility `mapstructure:"facilities"`
}

type Facility struct {
	Name        string   `mapstructure:"name"`
	DailyTarget int64    `mapstructure:"dailyTarget"`
	Lines       []string `mapstructure:"lines"`
}

func DefaultTopology() Topology {
	return Topology{
		Facilities: []Facility{
			{Name: "Sellersburg_Certified_Center", DailyTarget: 4000, Lines: []string{"FTN", "RTO"}},
			{Name: "Columbus_Operations", DailyTarget: 2500, Lines: []string{"FTN"}},
			{Name: "Lexington_Refurb", DailyTarget: 1800, Lines: []string{"RTO", "WHL"}},
		},
	}
}

func (t Topology) HasFacility(name string) bool {
	for _, f := range t.Facilities {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (t Topology) HasLine(facility, line string) bool {
	for _, f := range t.Facilities {
		if f.Name != facility {
			continue
		}
		for _, l := range f.Lines {
			if l == line {
				return true
			}
		}
		return false
	}
	return false
}

// Target returns the facility's daily production target, or zero when the
// facility is unknown or has no target configured.
func (t Topology) Target(facility string) int64 {
	for _, f := range t.Facilities {
		if f.Name == facility {
			return f.DailyTarget
		}
	}
	return 0
}

func (t Topology) FacilityNames() []string {
	names := make([]string, 0, len(t.Facilities))
	for _, f := range t.Facilities {
		names = append(names, f.Name)
	}
	return names
}

func validateTopology(t Topology) error {
	if len(t.Facilities) == 0 {
		return errors.New("topology.facilities cannot be empty")
	}
	seen := make(map[string]struct{}, len(t.Facilities))
	for _, f := range t.Facilities {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return errors.New("topology facility name cannot be empty")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate facility %q", name)
		}
		seen[name] = struct{}{}
		if len(f.Lines) == 0 {
			return fmt.Errorf("facility %q has no lines", name)
		}
		lines := make(map[string]struct{}, len(f.Lines))
		for _, l := range f.Lines {
			line := strings.TrimSpace(l)
			if line == "" {
				return fmt.Errorf("facility %q has an empty line name", name)
			}
			if _, dup := lines[line]; dup {
				return fmt.Errorf("facility %q has duplicate line %q", name, line)
			}
			lines[line] = struct{}{}
		}
		if f.DailyTarget < 0 {
			return fmt.Errorf("facility %q has a negative daily target", name)
		}
	}
	return nil
}
