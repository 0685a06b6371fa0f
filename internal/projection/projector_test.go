package projection

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"planline/internal/domain"
)

func TestProjectFullScheduleBacklog(t *testing.T) {
	t.Parallel()
	grid := uniformGrid(6, map[string]float64{"backend": 100})
	items := []domain.WorkItem{
		backlog("A", 1, map[string]float64{"backend": 150}),
		backlog("B", 2, map[string]float64{"backend": 80}),
		backlog("C", 3, map[string]float64{"backend": 200}),
	}
	s := New().ProjectFullSchedule(items, grid, domain.OrchestrationGraph{})

	if s.Summary.ScheduledItems != 3 || s.Summary.UnscheduledItems != 0 || s.Summary.TotalItems != 3 {
		t.Fatalf("summary = %+v", s.Summary)
	}
	assertWindow(t, mustItem(t, s, "A"), 0, 2)
	assertWindow(t, mustItem(t, s, "B"), 1, 2)
	assertWindow(t, mustItem(t, s, "C"), 2, 3)
	if len(s.CapacityGaps) != 0 {
		t.Fatalf("gaps = %+v, want none", s.CapacityGaps)
	}
	if !approx(s.Summary.TotalAllocatedHours, 430) {
		t.Fatalf("allocated = %v, want 430", s.Summary.TotalAllocatedHours)
	}
	assertConserved(t, s.CapacityGrid)
}

func TestProjectFullScheduleInfeasibleItem(t *testing.T) {
	t.Parallel()
	grid := uniformGrid(2, map[string]float64{"backend": 50})
	s := New().ProjectFullSchedule([]domain.WorkItem{backlog("big", 1, map[string]float64{"backend": 200})}, grid, domain.OrchestrationGraph{})

	if s.Summary.UnscheduledItems != 1 {
		t.Fatalf("summary = %+v", s.Summary)
	}
	want := []domain.CapacityGap{{Skill: "backend", Demand: 200, Capacity: 100, Gap: -100}}
	if diff := cmp.Diff(want, s.CapacityGaps); diff != "" {
		t.Fatalf("gaps mismatch (-want +got):\n%s", diff)
	}
	if it := mustItem(t, s, "big"); it.Status != domain.StatusBacklog || it.StartPeriod != nil {
		t.Fatalf("big = %+v", it)
	}
}

func TestProjectChangeSurfacesTimingViolation(t *testing.T) {
	t.Parallel()
	grid := uniformGrid(4, map[string]float64{"backend": 100})
	items := []domain.WorkItem{
		committed("A", 5, 2, 2, map[string]float64{"backend": 10}),
		committed("B", 3, 0, 1, map[string]float64{"backend": 10}),
	}
	s := New().ProjectChange(items, grid, edges("A", "B"), domain.Reprioritize("A", 1))

	want := []domain.Violation{{
		Kind:       domain.ViolationDependencyTiming,
		ItemIDs:    []string{"A", "B"},
		FromItemID: "A",
		ToItemID:   "B",
		Message:    "B starts in period 0 before A ends (period 4)",
	}}
	if diff := cmp.Diff(want, s.StructuralViolations); diff != "" {
		t.Fatalf("violations mismatch (-want +got):\n%s", diff)
	}
	if mustItem(t, s, "B").DependenciesSatisfied {
		t.Fatal("B should not have dependencies satisfied")
	}
	if !mustItem(t, s, "A").DependenciesSatisfied {
		t.Fatal("A has no dependencies and should be satisfied")
	}
	assertWindow(t, mustItem(t, s, "A"), 2, 2)
	assertWindow(t, mustItem(t, s, "B"), 0, 1)
}

func TestProjectChangeSurfacesCycle(t *testing.T) {
	t.Parallel()
	grid := uniformGrid(4, map[string]float64{"backend": 100})
	items := []domain.WorkItem{
		backlog("X", 1, map[string]float64{"backend": 10}),
		backlog("Y", 2, map[string]float64{"backend": 10}),
	}
	for _, change := range []domain.ProposedChange{domain.Reprioritize("X", 9), domain.Reprioritize("Y", 0)} {
		s := New().ProjectChange(items, grid, edges("X", "Y", "Y", "X"), change)
		if len(s.StructuralViolations) != 1 {
			t.Fatalf("violations = %+v", s.StructuralViolations)
		}
		v := s.StructuralViolations[0]
		if v.Kind != domain.ViolationDependencyCycle {
			t.Fatalf("kind = %s", v.Kind)
		}
		if diff := cmp.Diff([]string{"X", "Y"}, v.ItemIDs); diff != "" {
			t.Fatalf("cycle ids mismatch (-want +got):\n%s", diff)
		}
		for _, id := range []string{"X", "Y"} {
			it := mustItem(t, s, id)
			if it.DependenciesSatisfied || it.Status != domain.StatusBacklog {
				t.Fatalf("%s = %+v", id, it)
			}
		}
	}
}

func TestProjectFullScheduleEmpty(t *testing.T) {
	t.Parallel()
	s := New().ProjectFullSchedule(nil, uniformGrid(2, map[string]float64{"backend": 10}), domain.OrchestrationGraph{})
	if s.Summary.TotalItems != 0 || len(s.ProjectedItems) != 0 || len(s.CapacityGaps) != 0 || len(s.StructuralViolations) != 0 {
		t.Fatalf("scenario = %+v", s)
	}
	if s.ProjectedItems == nil || s.CapacityGaps == nil || s.StructuralViolations == nil {
		t.Fatal("empty collections must be non-nil")
	}
}

func TestProjectEmptyDemandStaysUnscheduled(t *testing.T) {
	t.Parallel()
	s := New().ProjectFullSchedule([]domain.WorkItem{backlog("idle", 1, map[string]float64{})}, uniformGrid(4, map[string]float64{"backend": 1000}), domain.OrchestrationGraph{})
	if s.Summary.UnscheduledItems != 1 || mustItem(t, s, "idle").Status != domain.StatusBacklog {
		t.Fatalf("scenario = %+v", s)
	}
	if !mustItem(t, s, "idle").DependenciesSatisfied {
		t.Fatal("item without dependencies should be satisfied")
	}
}

func TestPinnedEmptyDemandStaysUnscheduled(t *testing.T) {
	t.Parallel()
	grid := uniformGrid(4, map[string]float64{"backend": 100})

	s := New().ProjectChange([]domain.WorkItem{backlog("E", 1, map[string]float64{})}, grid, domain.OrchestrationGraph{}, domain.ScheduleItem("E", 0, nil))
	e := mustItem(t, s, "E")
	if e.Status != domain.StatusBacklog || e.StartPeriod != nil || e.DurationPeriods != nil {
		t.Fatalf("E = %+v", e)
	}
	want := domain.Summary{TotalItems: 1, ScheduledItems: 0, UnscheduledItems: 1}
	if diff := cmp.Diff(want, s.Summary); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}

	s = New().ProjectFullSchedule([]domain.WorkItem{committed("F", 1, 1, 2, map[string]float64{})}, grid, domain.OrchestrationGraph{})
	f := mustItem(t, s, "F")
	if f.Status != domain.StatusBacklog || f.StartPeriod != nil {
		t.Fatalf("F = %+v", f)
	}
	if s.Summary.ScheduledItems != 0 || len(s.StructuralViolations) != 0 {
		t.Fatalf("scenario = %+v", s)
	}
}

func TestProjectEmptyGrid(t *testing.T) {
	t.Parallel()
	s := New().ProjectFullSchedule([]domain.WorkItem{backlog("a", 1, map[string]float64{"backend": 1})}, domain.CapacityGrid{}, domain.OrchestrationGraph{})
	if s.Summary.UnscheduledItems != 1 || len(s.CapacityGaps) != 1 {
		t.Fatalf("scenario = %+v", s)
	}
}

func TestDependentStartsAfterPredecessor(t *testing.T) {
	t.Parallel()
	grid := uniformGrid(4, map[string]float64{"backend": 100})
	items := []domain.WorkItem{
		backlog("B", 1, map[string]float64{"backend": 50}),
		backlog("A", 2, map[string]float64{"backend": 150}),
	}
	s := New().ProjectFullSchedule(items, grid, edges("A", "B"))
	assertWindow(t, mustItem(t, s, "A"), 0, 2)
	// period 1 still has 50h free, but B must wait for A's window to end.
	assertWindow(t, mustItem(t, s, "B"), 2, 1)
	if len(s.StructuralViolations) != 0 {
		t.Fatalf("violations = %+v", s.StructuralViolations)
	}
}

func TestDependentOfUnscheduledItemStaysInBacklog(t *testing.T) {
	t.Parallel()
	grid := uniformGrid(2, map[string]float64{"backend": 100})
	items := []domain.WorkItem{
		backlog("A", 1, map[string]float64{"backend": 1000}),
		backlog("B", 2, map[string]float64{"backend": 10}),
		backlog("C", 3, map[string]float64{"backend": 10}),
	}
	s := New().ProjectFullSchedule(items, grid, edges("A", "B", "ghost", "C"))
	b := mustItem(t, s, "B")
	if b.Status != domain.StatusBacklog || b.DependenciesSatisfied {
		t.Fatalf("B = %+v", b)
	}
	c := mustItem(t, s, "C")
	if c.Status != domain.StatusScheduled || !c.DependenciesSatisfied {
		t.Fatalf("C with a dependency on an absent id = %+v", c)
	}
}

func TestPriorityOrderWithoutDependencies(t *testing.T) {
	t.Parallel()
	grid := uniformGrid(2, map[string]float64{"backend": 100})
	items := []domain.WorkItem{
		backlog("low", 9, map[string]float64{"backend": 100}),
		backlog("high", 1, map[string]float64{"backend": 100}),
	}
	s := New().ProjectFullSchedule(items, grid, domain.OrchestrationGraph{})
	assertWindow(t, mustItem(t, s, "high"), 0, 1)
	assertWindow(t, mustItem(t, s, "low"), 1, 1)
	if s.ProjectedItems[0].ItemID != "low" {
		t.Fatalf("projected items should keep working-set order, got %s first", s.ProjectedItems[0].ItemID)
	}
}

func TestPreCommittedConsumesBeforeBacklog(t *testing.T) {
	t.Parallel()
	grid := uniformGrid(2, map[string]float64{"backend": 100})
	items := []domain.WorkItem{
		backlog("first", 0, map[string]float64{"backend": 100}),
		committed("fixed", 5, 0, 1, map[string]float64{"backend": 100}),
	}
	s := New().ProjectFullSchedule(items, grid, domain.OrchestrationGraph{})
	assertWindow(t, mustItem(t, s, "fixed"), 0, 1)
	assertWindow(t, mustItem(t, s, "first"), 1, 1)
}

func TestPreCommittedOvercommitIsReported(t *testing.T) {
	t.Parallel()
	grid := uniformGrid(2, map[string]float64{"backend": 100})
	items := []domain.WorkItem{committed("fixed", 1, 1, 1, map[string]float64{"backend": 130})}
	s := New().ProjectFullSchedule(items, grid, domain.OrchestrationGraph{})
	if len(s.StructuralViolations) != 1 || s.StructuralViolations[0].Kind != domain.ViolationCapacityOvercommit {
		t.Fatalf("violations = %+v", s.StructuralViolations)
	}
	assertWindow(t, mustItem(t, s, "fixed"), 1, 1)
	assertConserved(t, s.CapacityGrid)
}

func TestScheduleChangePinsItem(t *testing.T) {
	t.Parallel()
	grid := uniformGrid(5, map[string]float64{"backend": 100})
	items := []domain.WorkItem{
		backlog("A", 1, map[string]float64{"backend": 100}),
		backlog("B", 2, map[string]float64{"backend": 150}),
	}
	s := New().ProjectChange(items, grid, domain.OrchestrationGraph{}, domain.ScheduleItem("B", 3, nil))
	assertWindow(t, mustItem(t, s, "B"), 3, 2)
	assertWindow(t, mustItem(t, s, "A"), 0, 1)
}

func TestRemoveChangeDropsEdges(t *testing.T) {
	t.Parallel()
	grid := uniformGrid(3, map[string]float64{"backend": 100})
	items := []domain.WorkItem{
		backlog("A", 1, map[string]float64{"backend": 100}),
		backlog("B", 2, map[string]float64{"backend": 100}),
	}
	s := New().ProjectChange(items, grid, edges("A", "B", "B", "A"), domain.RemoveItem("A"))
	if s.Summary.TotalItems != 1 || len(s.StructuralViolations) != 0 {
		t.Fatalf("scenario = %+v", s)
	}
	assertWindow(t, mustItem(t, s, "B"), 0, 1)
}

func TestInputsAreNotMutated(t *testing.T) {
	t.Parallel()
	grid := uniformGrid(3, map[string]float64{"backend": 100})
	items := []domain.WorkItem{
		backlog("A", 1, map[string]float64{"backend": 150}),
		backlog("B", 2, map[string]float64{"backend": 50}),
	}
	graph := edges("A", "B")
	gridBefore := uniformGrid(3, map[string]float64{"backend": 100})
	itemsBefore := []domain.WorkItem{items[0].Clone(), items[1].Clone()}
	graphBefore := edges("A", "B")

	New().WhatIf(items, grid, graph, []domain.ProposedChange{
		domain.Reprioritize("A", 7),
		domain.ScheduleItem("B", 2, domain.IntPtr(1)),
		domain.RemoveItem("A"),
	})

	if diff := cmp.Diff(gridBefore, grid); diff != "" {
		t.Fatalf("grid mutated (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(itemsBefore, items); diff != "" {
		t.Fatalf("items mutated (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(graphBefore, graph); diff != "" {
		t.Fatalf("graph mutated (-before +after):\n%s", diff)
	}
}

func portfolio() ([]domain.WorkItem, domain.CapacityGrid, domain.OrchestrationGraph) {
	items := []domain.WorkItem{
		backlog("api", 2, map[string]float64{"backend": 120, "qa": 20}),
		backlog("ui", 3, map[string]float64{"frontend": 90, "design": 30}),
		backlog("auth", 1, map[string]float64{"backend": 60}),
		committed("infra", 4, 1, 2, map[string]float64{"backend": 40}),
		backlog("launch", 5, map[string]float64{"qa": 40, "frontend": 10}),
		backlog("docs", 6, map[string]float64{}),
	}
	grid := uniformGrid(6, map[string]float64{"backend": 80, "frontend": 60, "design": 20, "qa": 30})
	graph := edges("auth", "api", "api", "launch", "ui", "launch")
	return items, grid, graph
}

func TestDeterminism(t *testing.T) {
	t.Parallel()
	items, grid, graph := portfolio()
	first := New().ProjectFullSchedule(items, grid, graph)
	for i := 0; i < 5; i++ {
		again := New().ProjectFullSchedule(items, grid, graph)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("run %d differs (-first +again):\n%s", i, diff)
		}
	}
	assertConserved(t, first.CapacityGrid)
	for _, e := range graph.Edges {
		from, to := mustItem(t, first, e.FromItemID), mustItem(t, first, e.ToItemID)
		if from.StartPeriod == nil || to.StartPeriod == nil {
			continue
		}
		if *to.StartPeriod < *from.StartPeriod+*from.DurationPeriods {
			t.Fatalf("%s starts before %s ends", e.ToItemID, e.FromItemID)
		}
	}
}

func TestWhatIfNoChangesEqualsFullSchedule(t *testing.T) {
	t.Parallel()
	items, grid, graph := portfolio()
	full := New().ProjectFullSchedule(items, grid, graph)
	whatIf := New().WhatIf(items, grid, graph, nil)
	if diff := cmp.Diff(full, whatIf); diff != "" {
		t.Fatalf("WhatIf([]) differs from full schedule (-full +whatif):\n%s", diff)
	}
}

func TestWhatIfComposition(t *testing.T) {
	t.Parallel()
	items, grid, graph := portfolio()
	cases := map[string][2]domain.ProposedChange{
		"add then reprioritize": {
			domain.AddItem(backlog("hotfix", 0, map[string]float64{"backend": 70})),
			domain.Reprioritize("ui", 0),
		},
		"pin then remove": {
			domain.ScheduleItem("api", 3, nil),
			domain.RemoveItem("auth"),
		},
		"link then unlink": {
			domain.Link("launch", "docs"),
			domain.Unlink("ui", "launch"),
		},
	}
	p := New()
	for name, cs := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			batched := p.WhatIf(items, grid, graph, cs[:])
			step := ApplyChange(NewWorkingSet(items, graph), cs[0])
			sequential := p.ProjectChange(step.Items, grid, step.Graph, cs[1])
			if diff := cmp.Diff(batched.ProjectedItems, sequential.ProjectedItems); diff != "" {
				t.Fatalf("projected items differ (-batched +sequential):\n%s", diff)
			}
			if diff := cmp.Diff(batched.CapacityGrid, sequential.CapacityGrid); diff != "" {
				t.Fatalf("grids differ (-batched +sequential):\n%s", diff)
			}
			assertConserved(t, batched.CapacityGrid)
		})
	}
}

func TestApplyChangeAddReplacesExistingID(t *testing.T) {
	t.Parallel()
	ws := NewWorkingSet([]domain.WorkItem{backlog("a", 1, nil), backlog("b", 2, nil)}, domain.OrchestrationGraph{})
	out := ApplyChange(ws, domain.AddItem(backlog("a", 9, map[string]float64{"qa": 1})))
	if len(out.Items) != 2 || out.Items[0].Priority != 9 {
		t.Fatalf("items = %+v", out.Items)
	}
	if ws.Items[0].Priority != 1 {
		t.Fatal("ApplyChange mutated its input")
	}
	if got := ApplyChange(ws, domain.Reprioritize("missing", 3)); len(got.Items) != 2 {
		t.Fatalf("unknown id should be a no-op: %+v", got.Items)
	}
}

func TestApplyChangeUnknownKindPanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown change kind")
		}
	}()
	ApplyChange(WorkingSet{}, domain.ProposedChange{Kind: "explode"})
}
