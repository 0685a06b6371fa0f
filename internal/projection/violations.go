package projection

import (
	"fmt"
	"sort"
	"strings"

	"planline/internal/domain"
)

// Detect inspects projected items against the graph. It returns the
// structural violations and, per item, whether its dependencies are satisfied.
func Detect(projected []domain.ProjectedItem, ordering Ordering, graph domain.OrchestrationGraph) ([]domain.Violation, map[string]bool) {
	byID := make(map[string]domain.ProjectedItem, len(projected))
	known := make(map[string]bool, len(projected))
	satisfied := make(map[string]bool, len(projected))
	for _, p := range projected {
		byID[p.ItemID] = p
		known[p.ItemID] = true
		satisfied[p.ItemID] = true
	}
	g := indexGraph(known, graph)

	var out []domain.Violation
	for _, group := range ordering.Cycles {
		out = append(out, domain.Violation{
			Kind:    domain.ViolationDependencyCycle,
			ItemIDs: append([]string(nil), group...),
			Message: fmt.Sprintf("dependency cycle between %s", strings.Join(group, ", ")),
		})
		for _, id := range group {
			satisfied[id] = false
		}
	}
	for _, id := range ordering.Blocked {
		satisfied[id] = false
	}

	for _, from := range sortedKeys(g.succ) {
		fp := byID[from]
		for _, to := range g.succ[from] {
			tp := byID[to]
			if !scheduled(fp) {
				// predecessor never lands, so the successor cannot start
				satisfied[to] = false
				continue
			}
			if !scheduled(tp) {
				continue
			}
			end := *fp.StartPeriod + *fp.DurationPeriods
			if *tp.StartPeriod < end {
				out = append(out, domain.Violation{
					Kind:       domain.ViolationDependencyTiming,
					ItemIDs:    []string{from, to},
					FromItemID: from,
					ToItemID:   to,
					Message:    fmt.Sprintf("%s starts in period %d before %s ends (period %d)", to, *tp.StartPeriod, from, end),
				})
				satisfied[to] = false
			}
		}
	}
	sortViolations(out)
	return out, satisfied
}

func scheduled(p domain.ProjectedItem) bool {
	return p.Status == domain.StatusScheduled && p.StartPeriod != nil && p.DurationPeriods != nil
}

func overcommitViolation(id string, shortfall map[string]float64) domain.Violation {
	parts := make([]string, 0, len(shortfall))
	for _, skill := range sortedKeys(shortfall) {
		parts = append(parts, fmt.Sprintf("%s %.2fh", skill, shortfall[skill]))
	}
	return domain.Violation{
		Kind:    domain.ViolationCapacityOvercommit,
		ItemIDs: []string{id},
		Message: fmt.Sprintf("fixed window of %s cannot absorb demand: short %s", id, strings.Join(parts, ", ")),
	}
}

func sortViolations(vs []domain.Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.ItemIDs[0] != b.ItemIDs[0] {
			return a.ItemIDs[0] < b.ItemIDs[0]
		}
		if a.FromItemID != b.FromItemID {
			return a.FromItemID < b.FromItemID
		}
		return a.ToItemID < b.ToItemID
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
