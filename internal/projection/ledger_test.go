package projection

import (
	"testing"

	"planline/internal/domain"
)

func TestLedgerConsume(t *testing.T) {
	t.Parallel()
	grid := uniformGrid(3, map[string]float64{"backend": 100})
	l := NewLedger(grid)

	l.Consume(1, "backend", 40)
	if got := l.Available(1, "backend"); !approx(got, 60) {
		t.Fatalf("Available(1) = %v, want 60", got)
	}
	if got := l.AvailableFrom(1, "backend"); !approx(got, 160) {
		t.Fatalf("AvailableFrom(1) = %v, want 160", got)
	}
	if got := l.TotalSupply("backend"); !approx(got, 300) {
		t.Fatalf("TotalSupply = %v, want 300", got)
	}
	out := l.Grid()
	assertConserved(t, out)
	if grid.Cells[1].AllocatedHours != 0 {
		t.Fatalf("caller grid mutated: %+v", grid.Cells[1])
	}
}

func TestLedgerConsumeOverAvailablePanics(t *testing.T) {
	t.Parallel()
	l := NewLedger(uniformGrid(1, map[string]float64{"backend": 10}))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when consuming more than available")
		}
	}()
	l.Consume(0, "backend", 10.5)
}

func TestLedgerUnknownSkillHasNoSupply(t *testing.T) {
	t.Parallel()
	l := NewLedger(uniformGrid(2, map[string]float64{"backend": 10}))
	if got := l.AvailableFrom(0, "design"); got != 0 {
		t.Fatalf("AvailableFrom(design) = %v, want 0", got)
	}
}

func TestLedgerEmptyGrid(t *testing.T) {
	t.Parallel()
	l := NewLedger(domain.CapacityGrid{})
	if l.PeriodCount() != 0 || l.AvailableFrom(0, "backend") != 0 {
		t.Fatal("empty grid should have zero supply")
	}
	if g := l.Grid(); len(g.Cells) != 0 || len(g.Periods) != 0 {
		t.Fatalf("empty grid round trip = %+v", g)
	}
}

func TestLedgerMalformedGridPanics(t *testing.T) {
	t.Parallel()
	cases := map[string]domain.CapacityGrid{
		"gap in indices": {Periods: []domain.Period{{Index: 0, PeriodID: "a"}, {Index: 2, PeriodID: "b"}}},
		"unknown period": {
			Periods: []domain.Period{{Index: 0, PeriodID: "a"}},
			Cells:   []domain.CapacityCell{{PeriodIndex: 3, Skill: "backend", TotalHours: 1}},
		},
		"over allocated": {
			Periods: []domain.Period{{Index: 0, PeriodID: "a"}},
			Cells:   []domain.CapacityCell{{PeriodIndex: 0, Skill: "backend", TotalHours: 1, AllocatedHours: 2}},
		},
	}
	for name, grid := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic for %s", name)
				}
			}()
			NewLedger(grid)
		})
	}
}
