// Package projection is the scenario projection engine: it orders work items
// over a dependency graph, packs them into a period-by-skill capacity grid and
// reports gaps and structural violations. It performs no I/O.
package projection

import (
	"sort"

	"planline/internal/domain"
)

// Projector implements the three projection operations. It holds no state;
// every call works on its own copies of the inputs.
type Projector struct{}

func New() Projector { return Projector{} }

// ProjectFullSchedule orders the backlog and allocates everything it can.
func (Projector) ProjectFullSchedule(items []domain.WorkItem, grid domain.CapacityGrid, graph domain.OrchestrationGraph) domain.Scenario {
	return project(NewWorkingSet(items, graph), grid)
}

// ProjectChange applies one change and projects the resulting working set.
func (Projector) ProjectChange(items []domain.WorkItem, grid domain.CapacityGrid, graph domain.OrchestrationGraph, change domain.ProposedChange) domain.Scenario {
	return project(ApplyChange(NewWorkingSet(items, graph), change), grid)
}

// WhatIf folds every change into the working set and projects once.
func (Projector) WhatIf(items []domain.WorkItem, grid domain.CapacityGrid, graph domain.OrchestrationGraph, changes []domain.ProposedChange) domain.Scenario {
	return project(ApplyChanges(NewWorkingSet(items, graph), changes), grid)
}

func dedupe(items []domain.WorkItem) []domain.WorkItem {
	seen := make(map[string]bool, len(items))
	out := make([]domain.WorkItem, 0, len(items))
	for _, it := range items {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	return out
}

func project(ws WorkingSet, grid domain.CapacityGrid) domain.Scenario {
	items := dedupe(ws.Items)
	byID := make(map[string]domain.WorkItem, len(items))
	known := make(map[string]bool, len(items))
	for _, it := range items {
		byID[it.ID] = it
		known[it.ID] = true
	}
	ordering := Order(items, ws.Graph)
	g := indexGraph(known, ws.Graph)
	ledger := NewLedger(grid)

	windows := make(map[string]Window, len(items))
	var overcommits []domain.Violation
	for _, id := range commitOrder(ordering) {
		it := byID[id]
		// An item with no skill demand is never placed, pinned or not.
		if !it.Committed() || len(it.Skills()) == 0 {
			continue
		}
		pl := Place(it, ledger, *it.ScheduledStart, it.DurationPeriods)
		windows[id] = pl.Window
		if len(pl.Shortfall) > 0 {
			overcommits = append(overcommits, overcommitViolation(id, pl.Shortfall))
		}
	}

	for _, id := range ordering.Sequence {
		it := byID[id]
		if it.Committed() {
			continue
		}
		from, ready := earliestStart(id, g, windows)
		if !ready {
			continue
		}
		if w, ok := Schedule(it, ledger, from); ok {
			windows[id] = w
		}
	}

	projected := make([]domain.ProjectedItem, 0, len(items))
	for _, it := range items {
		p := domain.ProjectedItem{ItemID: it.ID, Title: it.Title, Status: domain.StatusBacklog}
		if w, ok := windows[it.ID]; ok {
			p.Status = domain.StatusScheduled
			p.StartPeriod = domain.IntPtr(w.Start)
			p.DurationPeriods = domain.IntPtr(w.Duration)
		}
		projected = append(projected, p)
	}
	violations, satisfied := Detect(projected, ordering, ws.Graph)
	for i := range projected {
		projected[i].DependenciesSatisfied = satisfied[projected[i].ItemID]
	}
	violations = append(violations, overcommits...)
	sortViolations(violations)
	if violations == nil {
		violations = []domain.Violation{}
	}

	summary := domain.Summary{TotalItems: len(items), TotalAllocatedHours: ledger.AllocatedHours()}
	for _, p := range projected {
		if p.Status == domain.StatusScheduled {
			summary.ScheduledItems++
		}
	}
	summary.UnscheduledItems = summary.TotalItems - summary.ScheduledItems

	return domain.Scenario{
		ProjectedItems:       projected,
		CapacityGrid:         ledger.Grid(),
		CapacityGaps:         CapacityGaps(items, grid),
		StructuralViolations: violations,
		Summary:              summary,
	}
}

// commitOrder lists orderable items first, then the unorderable ones by id.
func commitOrder(o Ordering) []string {
	ids := append([]string(nil), o.Sequence...)
	var rest []string
	for _, group := range o.Cycles {
		rest = append(rest, group...)
	}
	rest = append(rest, o.Blocked...)
	sort.Strings(rest)
	return append(ids, rest...)
}

// earliestStart is the first period after every predecessor's window. An item
// whose predecessor has no window is not ready.
func earliestStart(id string, g graphIndex, windows map[string]Window) (int, bool) {
	from := 0
	for _, pred := range g.pred[id] {
		w, ok := windows[pred]
		if !ok {
			return 0, false
		}
		from = max(from, w.End())
	}
	return from, true
}
