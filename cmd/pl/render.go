package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"planline/internal/domain"
)

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func row(cols ...any) table.Row { return table.Row(cols) }

func printScenario(rec domain.ScenarioRecord) error {
	if viper.GetBool("json") {
		return printJSON(rec)
	}
	s := rec.Scenario
	fmt.Printf("Scenario %s (%s)\n", rec.ID, rec.Kind)

	items := newTable()
	items.SetTitle("Projected items")
	items.AppendHeader(row("ID", "Title", "Status", "Start", "Duration", "Dependencies OK"))
	for _, it := range s.ProjectedItems {
		items.AppendRow(row(it.ItemID, it.Title, it.Status, optInt(it.StartPeriod), optInt(it.DurationPeriods), it.DependenciesSatisfied))
	}
	items.Render()

	if len(s.CapacityGaps) > 0 {
		gaps := newTable()
		gaps.SetTitle("Capacity gaps")
		gaps.AppendHeader(row("Skill", "Demand", "Capacity", "Gap"))
		for _, g := range s.CapacityGaps {
			gaps.AppendRow(row(g.Skill, formatHours(g.Demand), formatHours(g.Capacity), formatHours(g.Gap)))
		}
		gaps.Render()
	}

	if len(s.StructuralViolations) > 0 {
		vs := newTable()
		vs.SetTitle("Violations")
		vs.AppendHeader(row("Kind", "Items", "Message"))
		for _, v := range s.StructuralViolations {
			vs.AppendRow(row(v.Kind, strings.Join(v.ItemIDs, ","), v.Message))
		}
		vs.Render()
	}

	fmt.Printf("Items: %d  scheduled: %d  unscheduled: %d  allocated: %sh\n",
		s.Summary.TotalItems, s.Summary.ScheduledItems, s.Summary.UnscheduledItems, formatHours(s.Summary.TotalAllocatedHours))
	return nil
}

// renderGrid prints one row per period with a column per skill.
func renderGrid(grid domain.CapacityGrid) {
	skillSet := map[string]bool{}
	for _, c := range grid.Cells {
		skillSet[c.Skill] = true
	}
	skills := make([]string, 0, len(skillSet))
	for skill := range skillSet {
		skills = append(skills, skill)
	}
	sort.Strings(skills)
	cells := map[string]domain.CapacityCell{}
	for _, c := range grid.Cells {
		cells[fmt.Sprintf("%d|%s", c.PeriodIndex, c.Skill)] = c
	}

	tw := newTable()
	header := row("#", "Period")
	for _, skill := range skills {
		header = append(header, skill+" (avail/total)")
	}
	tw.AppendHeader(header)
	for _, p := range grid.Periods {
		r := row(p.Index, p.PeriodID)
		for _, skill := range skills {
			c, ok := cells[fmt.Sprintf("%d|%s", p.Index, skill)]
			if !ok {
				r = append(r, "-")
				continue
			}
			r = append(r, formatHours(c.AvailableHours)+"/"+formatHours(c.TotalHours))
		}
		tw.AppendRow(r)
	}
	tw.Render()
}
