package projection

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"planline/internal/domain"
)

func TestOrderPriorityAndTieBreak(t *testing.T) {
	t.Parallel()
	items := []domain.WorkItem{
		backlog("c", 2, nil),
		backlog("b", 1, nil),
		backlog("a", 2, nil),
		backlog("d", 0, nil),
	}
	got := Order(items, domain.OrchestrationGraph{})
	want := Ordering{Sequence: []string{"d", "b", "a", "c"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Order mismatch (-want +got):\n%s", diff)
	}
}

func TestOrderRespectsDependencies(t *testing.T) {
	t.Parallel()
	items := []domain.WorkItem{
		backlog("build", 1, nil),
		backlog("design", 5, nil),
		backlog("docs", 2, nil),
	}
	// design must precede build even though build has the better priority.
	got := Order(items, edges("design", "build"))
	want := []string{"docs", "design", "build"}
	if diff := cmp.Diff(want, got.Sequence); diff != "" {
		t.Fatalf("sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestOrderIgnoresUnknownAndDuplicateEdges(t *testing.T) {
	t.Parallel()
	items := []domain.WorkItem{backlog("a", 1, nil), backlog("b", 2, nil)}
	got := Order(items, edges("ghost", "a", "a", "b", "a", "b", "b", "gone"))
	if diff := cmp.Diff([]string{"a", "b"}, got.Sequence); diff != "" {
		t.Fatalf("sequence mismatch (-want +got):\n%s", diff)
	}
	if len(got.Cycles) != 0 || len(got.Blocked) != 0 {
		t.Fatalf("unexpected cycles %v blocked %v", got.Cycles, got.Blocked)
	}
}

func TestOrderCyclesAndBlocked(t *testing.T) {
	t.Parallel()
	items := []domain.WorkItem{
		backlog("x", 1, nil),
		backlog("y", 1, nil),
		backlog("z", 1, nil),
		backlog("solo", 3, nil),
		backlog("loop", 1, nil),
	}
	got := Order(items, edges("x", "y", "y", "x", "y", "z", "loop", "loop"))
	want := Ordering{
		Sequence: []string{"solo"},
		Cycles:   [][]string{{"loop"}, {"x", "y"}},
		Blocked:  []string{"z"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Order mismatch (-want +got):\n%s", diff)
	}
}

func TestOrderEmpty(t *testing.T) {
	t.Parallel()
	got := Order(nil, edges("a", "b"))
	if len(got.Sequence) != 0 || len(got.Cycles) != 0 {
		t.Fatalf("Order(nil) = %+v", got)
	}
}
