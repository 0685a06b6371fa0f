package domain

import (
	"errors"
	"fmt"
	"sort"
)

// Work item statuses.
const (
	StatusBacklog   = "backlog"
	StatusScheduled = "scheduled"
)

// WorkItem is a unit of potential work. Dependencies mirrors the orchestration
// graph for display only; ordering always comes from OrchestrationGraph.
type WorkItem struct {
	ID              string             `json:"id" validate:"required"`
	Title           string             `json:"title" required:"false"`
	Status          string             `json:"status" required:"false" enum:"backlog,scheduled" validate:"omitempty,oneof=backlog scheduled"`
	SkillDemand     map[string]float64 `json:"skill_demand,omitempty" validate:"dive,keys,required,endkeys,gte=0"`
	Dependencies    []string           `json:"dependencies,omitempty"`
	Priority        int                `json:"priority" required:"false"`
	ScheduledStart  *int               `json:"scheduled_start,omitempty" validate:"omitempty,gte=0"`
	DurationPeriods *int               `json:"duration_periods,omitempty" validate:"omitempty,gte=1"`
}

// Committed reports whether the item enters a projection with a fixed start.
func (w WorkItem) Committed() bool {
	return w.Status == StatusScheduled && w.ScheduledStart != nil
}

// Clone returns a deep copy of the item.
func (w WorkItem) Clone() WorkItem {
	out := w
	if w.SkillDemand != nil {
		out.SkillDemand = make(map[string]float64, len(w.SkillDemand))
		for k, v := range w.SkillDemand {
			out.SkillDemand[k] = v
		}
	}
	if w.Dependencies != nil {
		out.Dependencies = append([]string(nil), w.Dependencies...)
	}
	out.ScheduledStart = copyInt(w.ScheduledStart)
	out.DurationPeriods = copyInt(w.DurationPeriods)
	return out
}

// Skills returns demanded skills with positive hours, sorted.
func (w WorkItem) Skills() []string {
	skills := make([]string, 0, len(w.SkillDemand))
	for skill, hours := range w.SkillDemand {
		if hours > 0 {
			skills = append(skills, skill)
		}
	}
	sort.Strings(skills)
	return skills
}

type Period struct {
	Index    int    `json:"index" validate:"gte=0"`
	PeriodID string `json:"period_id" validate:"required"`
	Label    string `json:"label" required:"false"`
}

type CapacityCell struct {
	PeriodIndex    int     `json:"period_index" validate:"gte=0"`
	Skill          string  `json:"skill" validate:"required"`
	TotalHours     float64 `json:"total_hours" validate:"gte=0"`
	AllocatedHours float64 `json:"allocated_hours" required:"false" validate:"gte=0"`
	AvailableHours float64 `json:"available_hours" required:"false"`
}

// CapacityGrid is the supply side of a projection.
type CapacityGrid struct {
	Periods []Period       `json:"periods"`
	Cells   []CapacityCell `json:"cells"`
}

// Validate reports structural problems that the projection engine treats as
// programming errors.
func (g CapacityGrid) Validate() error {
	for i, p := range g.Periods {
		if p.Index != i {
			return fmt.Errorf("period %d has index %d; indices must be contiguous from 0", i, p.Index)
		}
	}
	seen := make(map[string]bool, len(g.Cells))
	for _, c := range g.Cells {
		if c.PeriodIndex < 0 || c.PeriodIndex >= len(g.Periods) {
			return fmt.Errorf("cell %s references unknown period %d", c.Skill, c.PeriodIndex)
		}
		if c.Skill == "" {
			return errors.New("cell skill is required")
		}
		key := fmt.Sprintf("%d|%s", c.PeriodIndex, c.Skill)
		if seen[key] {
			return fmt.Errorf("duplicate cell for period %d skill %s", c.PeriodIndex, c.Skill)
		}
		seen[key] = true
		if c.TotalHours < 0 || c.AllocatedHours < 0 {
			return fmt.Errorf("cell %d/%s has negative hours", c.PeriodIndex, c.Skill)
		}
		if c.AllocatedHours > c.TotalHours {
			return fmt.Errorf("cell %d/%s allocates %.2fh of %.2fh", c.PeriodIndex, c.Skill, c.AllocatedHours, c.TotalHours)
		}
	}
	return nil
}

type DependencyEdge struct {
	FromItemID string `json:"from_item_id" validate:"required"`
	ToItemID   string `json:"to_item_id" validate:"required"`
}

// OrchestrationGraph holds edges meaning From must finish before To starts.
type OrchestrationGraph struct {
	Edges []DependencyEdge `json:"edges"`
}

// Violation kinds.
const (
	ViolationDependencyCycle    = "dependency_cycle"
	ViolationDependencyTiming   = "dependency_timing"
	ViolationCapacityOvercommit = "capacity_overcommit"
)

type ProjectedItem struct {
	ItemID                string `json:"item_id"`
	Title                 string `json:"title"`
	Status                string `json:"status" enum:"backlog,scheduled"`
	StartPeriod           *int   `json:"start_period,omitempty"`
	DurationPeriods       *int   `json:"duration_periods,omitempty"`
	DependenciesSatisfied bool   `json:"dependencies_satisfied"`
}

type CapacityGap struct {
	Skill    string  `json:"skill"`
	Demand   float64 `json:"demand"`
	Capacity float64 `json:"capacity"`
	Gap      float64 `json:"gap"`
}

type Violation struct {
	Kind       string   `json:"kind" enum:"dependency_cycle,dependency_timing,capacity_overcommit"`
	ItemIDs    []string `json:"item_ids"`
	FromItemID string   `json:"from_item_id,omitempty"`
	ToItemID   string   `json:"to_item_id,omitempty"`
	Message    string   `json:"message"`
}

type Summary struct {
	TotalItems          int     `json:"total_items"`
	ScheduledItems      int     `json:"scheduled_items"`
	UnscheduledItems    int     `json:"unscheduled_items"`
	TotalAllocatedHours float64 `json:"total_allocated_hours"`
}

// Scenario is the immutable result of one projection.
type Scenario struct {
	ProjectedItems       []ProjectedItem `json:"projected_items"`
	CapacityGrid         CapacityGrid    `json:"capacity_grid"`
	CapacityGaps         []CapacityGap   `json:"capacity_gaps"`
	StructuralViolations []Violation     `json:"structural_violations"`
	Summary              Summary         `json:"summary"`
}

// Item returns the projected item with the given id.
func (s Scenario) Item(id string) (ProjectedItem, bool) {
	for _, it := range s.ProjectedItems {
		if it.ItemID == id {
			return it, true
		}
	}
	return ProjectedItem{}, false
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }
