package projection

import (
	"fmt"
	"math"
	"testing"

	"planline/internal/domain"
)

// uniformGrid builds n periods with the same hours for every listed skill.
func uniformGrid(n int, hours map[string]float64) domain.CapacityGrid {
	var g domain.CapacityGrid
	for i := 0; i < n; i++ {
		g.Periods = append(g.Periods, domain.Period{Index: i, PeriodID: fmt.Sprintf("p%d", i), Label: fmt.Sprintf("Sprint %d", i+1)})
		for _, skill := range sortedKeys(hours) {
			g.Cells = append(g.Cells, domain.CapacityCell{
				PeriodIndex:    i,
				Skill:          skill,
				TotalHours:     hours[skill],
				AvailableHours: hours[skill],
			})
		}
	}
	return g
}

func backlog(id string, priority int, demand map[string]float64) domain.WorkItem {
	return domain.WorkItem{ID: id, Title: "Item " + id, Status: domain.StatusBacklog, Priority: priority, SkillDemand: demand}
}

func committed(id string, priority, start, duration int, demand map[string]float64) domain.WorkItem {
	it := backlog(id, priority, demand)
	it.Status = domain.StatusScheduled
	it.ScheduledStart = domain.IntPtr(start)
	it.DurationPeriods = domain.IntPtr(duration)
	return it
}

func edges(pairs ...string) domain.OrchestrationGraph {
	var g domain.OrchestrationGraph
	for i := 0; i+1 < len(pairs); i += 2 {
		g.Edges = append(g.Edges, domain.DependencyEdge{FromItemID: pairs[i], ToItemID: pairs[i+1]})
	}
	return g
}

func mustItem(t *testing.T, s domain.Scenario, id string) domain.ProjectedItem {
	t.Helper()
	it, ok := s.Item(id)
	if !ok {
		t.Fatalf("item %s missing from scenario", id)
	}
	return it
}

func assertWindow(t *testing.T, it domain.ProjectedItem, start, duration int) {
	t.Helper()
	if it.Status != domain.StatusScheduled || it.StartPeriod == nil || it.DurationPeriods == nil {
		t.Fatalf("%s not scheduled: %+v", it.ItemID, it)
	}
	if *it.StartPeriod != start || *it.DurationPeriods != duration {
		t.Fatalf("%s window = (%d,%d), want (%d,%d)", it.ItemID, *it.StartPeriod, *it.DurationPeriods, start, duration)
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func assertConserved(t *testing.T, g domain.CapacityGrid) {
	t.Helper()
	for _, c := range g.Cells {
		if !approx(c.AllocatedHours+c.AvailableHours, c.TotalHours) {
			t.Fatalf("cell %d/%s: allocated %.4f + available %.4f != total %.4f", c.PeriodIndex, c.Skill, c.AllocatedHours, c.AvailableHours, c.TotalHours)
		}
		if c.AllocatedHours > c.TotalHours+1e-9 {
			t.Fatalf("cell %d/%s over-allocated", c.PeriodIndex, c.Skill)
		}
	}
}
