// Package planfile reads offline projection inputs from YAML so a scenario can
// be computed without a workspace database.
package planfile

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"planline/internal/domain"
	"planline/internal/projection"
)

// Plan is the document shape of a plan file.
type Plan struct {
	Name     string   `yaml:"name"`
	Items    []Item   `yaml:"items" validate:"dive"`
	Capacity Capacity `yaml:"capacity"`
	Edges    []Edge   `yaml:"edges" validate:"dive"`
	Changes  []Change `yaml:"changes" validate:"dive"`
}

type Item struct {
	ID       string             `yaml:"id" validate:"required"`
	Title    string             `yaml:"title"`
	Priority int                `yaml:"priority"`
	Demand   map[string]float64 `yaml:"demand" validate:"dive,keys,required,endkeys,gte=0"`
	Start    *int               `yaml:"start" validate:"omitempty,gte=0"`
	Duration *int               `yaml:"duration" validate:"omitempty,gte=1"`
	After    []string           `yaml:"after"`
}

// Capacity lists periods and either uniform hours per skill or explicit
// cells. Cells override the uniform value for their period and skill.
type Capacity struct {
	Periods []string           `yaml:"periods" validate:"dive,required"`
	Hours   map[string]float64 `yaml:"hours" validate:"dive,keys,required,endkeys,gte=0"`
	Cells   []Cell             `yaml:"cells" validate:"dive"`
}

type Cell struct {
	Period    int     `yaml:"period" validate:"gte=0"`
	Skill     string  `yaml:"skill" validate:"required"`
	Total     float64 `yaml:"total" validate:"gte=0"`
	Allocated float64 `yaml:"allocated" validate:"gte=0"`
}

type Edge struct {
	From string `yaml:"from" validate:"required"`
	To   string `yaml:"to" validate:"required"`
}

type Change struct {
	Kind     string `yaml:"kind" validate:"required,oneof=add remove schedule reprioritize link unlink"`
	Item     *Item  `yaml:"item"`
	ItemID   string `yaml:"item_id"`
	Start    *int   `yaml:"start"`
	Duration *int   `yaml:"duration"`
	Priority *int   `yaml:"priority"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a plan document, rejecting unknown fields.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid plan yaml: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	if _, err := p.Grid(); err != nil {
		return nil, err
	}
	for i, c := range p.Changes {
		if err := c.proposed().Validate(); err != nil {
			return nil, fmt.Errorf("change %d: %w", i, err)
		}
	}
	return &p, nil
}

func (it Item) workItem() domain.WorkItem {
	w := domain.WorkItem{
		ID:              it.ID,
		Title:           it.Title,
		Status:          domain.StatusBacklog,
		SkillDemand:     it.Demand,
		Priority:        it.Priority,
		Dependencies:    it.After,
		ScheduledStart:  it.Start,
		DurationPeriods: it.Duration,
	}
	if it.Start != nil {
		w.Status = domain.StatusScheduled
	}
	return w.Clone()
}

func (c Change) proposed() domain.ProposedChange {
	pc := domain.ProposedChange{
		Kind:            domain.ChangeKind(c.Kind),
		ItemID:          c.ItemID,
		StartPeriod:     c.Start,
		DurationPeriods: c.Duration,
		Priority:        c.Priority,
		FromItemID:      c.From,
		ToItemID:        c.To,
	}
	if c.Item != nil {
		w := c.Item.workItem()
		pc.Item = &w
	}
	return pc
}

// WorkItems converts the plan's items.
func (p Plan) WorkItems() []domain.WorkItem {
	out := make([]domain.WorkItem, 0, len(p.Items))
	for _, it := range p.Items {
		out = append(out, it.workItem())
	}
	return out
}

// Graph merges the edges list with each item's after list.
func (p Plan) Graph() domain.OrchestrationGraph {
	g := domain.OrchestrationGraph{Edges: []domain.DependencyEdge{}}
	for _, e := range p.Edges {
		g.Edges = append(g.Edges, domain.DependencyEdge{FromItemID: e.From, ToItemID: e.To})
	}
	for _, it := range p.Items {
		for _, pred := range it.After {
			g.Edges = append(g.Edges, domain.DependencyEdge{FromItemID: pred, ToItemID: it.ID})
		}
	}
	return g
}

// Grid expands the capacity section into a validated grid.
func (p Plan) Grid() (domain.CapacityGrid, error) {
	grid := domain.CapacityGrid{Periods: []domain.Period{}, Cells: []domain.CapacityCell{}}
	for i, id := range p.Capacity.Periods {
		grid.Periods = append(grid.Periods, domain.Period{Index: i, PeriodID: id, Label: id})
	}
	cells := map[string]domain.CapacityCell{}
	keyOf := func(period int, skill string) string { return fmt.Sprintf("%06d|%s", period, skill) }
	for i := range grid.Periods {
		for skill, hours := range p.Capacity.Hours {
			cells[keyOf(i, skill)] = domain.CapacityCell{PeriodIndex: i, Skill: skill, TotalHours: hours}
		}
	}
	for _, c := range p.Capacity.Cells {
		cells[keyOf(c.Period, c.Skill)] = domain.CapacityCell{PeriodIndex: c.Period, Skill: c.Skill, TotalHours: c.Total, AllocatedHours: c.Allocated}
	}
	keys := make([]string, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c := cells[k]
		c.AvailableHours = c.TotalHours - c.AllocatedHours
		grid.Cells = append(grid.Cells, c)
	}
	if err := grid.Validate(); err != nil {
		return grid, fmt.Errorf("invalid capacity: %w", err)
	}
	return grid, nil
}

// ProposedChanges converts the plan's changes.
func (p Plan) ProposedChanges() []domain.ProposedChange {
	out := make([]domain.ProposedChange, 0, len(p.Changes))
	for _, c := range p.Changes {
		out = append(out, c.proposed())
	}
	return out
}

// Run projects the plan: a full schedule when it has no changes, a what-if
// over all of them otherwise.
func Run(p *Plan, projector projection.Projector) (string, domain.Scenario, error) {
	grid, err := p.Grid()
	if err != nil {
		return "", domain.Scenario{}, err
	}
	if len(p.Changes) == 0 {
		return domain.ScenarioKindFull, projector.ProjectFullSchedule(p.WorkItems(), grid, p.Graph()), nil
	}
	return domain.ScenarioKindWhatIf, projector.WhatIf(p.WorkItems(), grid, p.Graph(), p.ProposedChanges()), nil
}
