package projection

import (
	"fmt"

	"planline/internal/domain"
)

// hoursEpsilon absorbs float drift when fractional hours are split across periods.
const hoursEpsilon = 1e-9

type cellKey struct {
	period int
	skill  string
}

// Ledger is a call-scoped copy of a capacity grid.
type Ledger struct {
	periods []domain.Period
	cells   []domain.CapacityCell
	index   map[cellKey]int
}

// NewLedger copies grid into a ledger. It panics on malformed grids; callers
// that accept external input run CapacityGrid.Validate first.
func NewLedger(grid domain.CapacityGrid) *Ledger {
	if err := grid.Validate(); err != nil {
		panic(fmt.Sprintf("projection: malformed capacity grid: %v", err))
	}
	l := &Ledger{
		periods: append([]domain.Period(nil), grid.Periods...),
		cells:   make([]domain.CapacityCell, len(grid.Cells)),
		index:   make(map[cellKey]int, len(grid.Cells)),
	}
	for i, c := range grid.Cells {
		c.AvailableHours = c.TotalHours - c.AllocatedHours
		l.cells[i] = c
		l.index[cellKey{c.PeriodIndex, c.Skill}] = i
	}
	return l
}

func (l *Ledger) PeriodCount() int { return len(l.periods) }

// Available returns the free hours for skill in one period.
func (l *Ledger) Available(period int, skill string) float64 {
	i, ok := l.index[cellKey{period, skill}]
	if !ok {
		return 0
	}
	c := l.cells[i]
	return c.TotalHours - c.AllocatedHours
}

// AvailableFrom sums the free hours for skill at or after period.
func (l *Ledger) AvailableFrom(period int, skill string) float64 {
	if period < 0 {
		period = 0
	}
	var sum float64
	for p := period; p < len(l.periods); p++ {
		sum += l.Available(p, skill)
	}
	return sum
}

// TotalSupply sums TotalHours for skill over every period.
func (l *Ledger) TotalSupply(skill string) float64 {
	var sum float64
	for _, c := range l.cells {
		if c.Skill == skill {
			sum += c.TotalHours
		}
	}
	return sum
}

// Consume allocates exactly hours. Requesting more than Available reports is a
// defect in the caller and panics.
func (l *Ledger) Consume(period int, skill string, hours float64) {
	if hours <= 0 {
		return
	}
	i, ok := l.index[cellKey{period, skill}]
	if !ok {
		panic(fmt.Sprintf("projection: consume %.4fh of %s in period %d: no capacity cell", hours, skill, period))
	}
	c := &l.cells[i]
	avail := c.TotalHours - c.AllocatedHours
	if hours > avail+hoursEpsilon {
		panic(fmt.Sprintf("projection: consume %.4fh of %s in period %d exceeds %.4fh available", hours, skill, period, avail))
	}
	c.AllocatedHours += hours
	if c.AllocatedHours > c.TotalHours {
		c.AllocatedHours = c.TotalHours
	}
}

// Grid returns a new grid reflecting the ledger's allocations.
func (l *Ledger) Grid() domain.CapacityGrid {
	out := domain.CapacityGrid{
		Periods: append([]domain.Period{}, l.periods...),
		Cells:   make([]domain.CapacityCell, len(l.cells)),
	}
	for i, c := range l.cells {
		c.AvailableHours = c.TotalHours - c.AllocatedHours
		out.Cells[i] = c
	}
	return out
}

// AllocatedHours sums allocations over every cell.
func (l *Ledger) AllocatedHours() float64 {
	var sum float64
	for _, c := range l.cells {
		sum += c.AllocatedHours
	}
	return sum
}
