package projection

import (
	"planline/internal/domain"
)

// Window is a contiguous run of periods occupied by an item.
type Window struct {
	Start    int
	Duration int
}

// End is the first period after the window.
func (w Window) End() int { return w.Start + w.Duration }

type take struct {
	period int
	skill  string
	hours  float64
}

// Schedule searches for the earliest start at or after fromPeriod where every
// demanded skill can be satisfied, consumes the capacity and returns the
// window. The duration is the span of the bottleneck skill.
func Schedule(item domain.WorkItem, l *Ledger, fromPeriod int) (Window, bool) {
	skills := item.Skills()
	if len(skills) == 0 {
		return Window{}, false
	}
	if fromPeriod < 0 {
		fromPeriod = 0
	}
	for start := fromPeriod; start < l.PeriodCount(); start++ {
		if exhausted(item, skills, l, start) {
			return Window{}, false
		}
		if !startsWork(skills, l, start) {
			continue
		}
		takes, duration, ok := walk(item, skills, l, start)
		if !ok {
			continue
		}
		for _, t := range takes {
			l.Consume(t.period, t.skill, t.hours)
		}
		return Window{Start: start, Duration: duration}, true
	}
	return Window{}, false
}

// exhausted reports that no start at or after start can satisfy some skill.
func exhausted(item domain.WorkItem, skills []string, l *Ledger, start int) bool {
	for _, skill := range skills {
		if l.AvailableFrom(start, skill)+hoursEpsilon < item.SkillDemand[skill] {
			return true
		}
	}
	return false
}

func startsWork(skills []string, l *Ledger, start int) bool {
	for _, skill := range skills {
		if l.Available(start, skill) > hoursEpsilon {
			return true
		}
	}
	return false
}

// walk accumulates each skill left to right from start without consuming.
func walk(item domain.WorkItem, skills []string, l *Ledger, start int) ([]take, int, bool) {
	var (
		takes    []take
		duration int
	)
	for _, skill := range skills {
		remaining := item.SkillDemand[skill]
		span := 0
		for p := start; p < l.PeriodCount() && remaining > hoursEpsilon; p++ {
			span++
			got := min(l.Available(p, skill), remaining)
			if got <= 0 {
				continue
			}
			takes = append(takes, take{period: p, skill: skill, hours: got})
			remaining -= got
		}
		if remaining > hoursEpsilon {
			return nil, 0, false
		}
		duration = max(duration, span)
	}
	return takes, duration, true
}

// Placement is the outcome of a fixed-window allocation.
type Placement struct {
	Window Window
	// Shortfall holds demanded hours per skill the window could not absorb.
	Shortfall map[string]float64
}

// Place allocates item at a fixed start without searching. With a nil
// duration the window is sized by the bottleneck skill, running to the end of
// the grid when demand cannot be met. Capacity is never over-consumed; the
// unabsorbed remainder is reported as shortfall.
func Place(item domain.WorkItem, l *Ledger, start int, duration *int) Placement {
	skills := item.Skills()
	limit := l.PeriodCount()
	if duration != nil {
		limit = min(limit, start+*duration)
	}
	pl := Placement{Window: Window{Start: start}}
	span := 0
	for _, skill := range skills {
		remaining := item.SkillDemand[skill]
		walked := 0
		for p := start; p < limit && remaining > hoursEpsilon; p++ {
			walked++
			got := min(l.Available(p, skill), remaining)
			if got <= 0 {
				continue
			}
			l.Consume(p, skill, got)
			remaining -= got
		}
		if remaining > hoursEpsilon {
			if pl.Shortfall == nil {
				pl.Shortfall = map[string]float64{}
			}
			pl.Shortfall[skill] = remaining
		}
		span = max(span, walked)
	}
	switch {
	case duration != nil:
		pl.Window.Duration = *duration
	case span > 0:
		pl.Window.Duration = span
	default:
		pl.Window.Duration = 1
	}
	return pl
}
