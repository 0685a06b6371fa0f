package projection

import (
	"planline/internal/domain"
)

// CapacityGaps compares total demand per skill across every item with total
// supply across every period, independent of where scheduling landed.
func CapacityGaps(items []domain.WorkItem, grid domain.CapacityGrid) []domain.CapacityGap {
	demand := map[string]float64{}
	for _, it := range items {
		for skill, hours := range it.SkillDemand {
			if hours > 0 {
				demand[skill] += hours
			}
		}
	}
	supply := map[string]float64{}
	for _, c := range grid.Cells {
		supply[c.Skill] += c.TotalHours
	}
	gaps := []domain.CapacityGap{}
	for _, skill := range sortedKeys(demand) {
		if demand[skill] > supply[skill]+hoursEpsilon {
			gaps = append(gaps, domain.CapacityGap{
				Skill:    skill,
				Demand:   demand[skill],
				Capacity: supply[skill],
				Gap:      supply[skill] - demand[skill],
			})
		}
	}
	return gaps
}
