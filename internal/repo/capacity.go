package repo

import (
	"context"
	"database/sql"

	"planline/internal/domain"
)

// ReplaceCapacity overwrites the portfolio's periods and cells.
func (r Repo) ReplaceCapacity(ctx context.Context, tx *sql.Tx, portfolioID string, grid domain.CapacityGrid) error {
	ex := r.exec(tx)
	if _, err := ex.ExecContext(ctx, `DELETE FROM capacity_cells WHERE portfolio_id=?`, portfolioID); err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, `DELETE FROM periods WHERE portfolio_id=?`, portfolioID); err != nil {
		return err
	}
	for _, p := range grid.Periods {
		if _, err := ex.ExecContext(ctx, `INSERT INTO periods(portfolio_id,idx,period_id,label) VALUES (?,?,?,?)`,
			portfolioID, p.Index, p.PeriodID, nullable(p.Label)); err != nil {
			return err
		}
	}
	for _, c := range grid.Cells {
		if _, err := ex.ExecContext(ctx, `INSERT INTO capacity_cells(portfolio_id,period_idx,skill,total_hours,allocated_hours) VALUES (?,?,?,?,?)`,
			portfolioID, c.PeriodIndex, c.Skill, c.TotalHours, c.AllocatedHours); err != nil {
			return err
		}
	}
	return nil
}

// Grid loads the stored capacity grid. An unset grid is empty, not an error.
func (r Repo) Grid(ctx context.Context, portfolioID string) (domain.CapacityGrid, error) {
	grid := domain.CapacityGrid{Periods: []domain.Period{}, Cells: []domain.CapacityCell{}}
	rows, err := r.DB.QueryContext(ctx, `SELECT idx,period_id,COALESCE(label,'') FROM periods WHERE portfolio_id=? ORDER BY idx`, portfolioID)
	if err != nil {
		return grid, err
	}
	for rows.Next() {
		var p domain.Period
		if err := rows.Scan(&p.Index, &p.PeriodID, &p.Label); err != nil {
			rows.Close()
			return grid, err
		}
		grid.Periods = append(grid.Periods, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return grid, err
	}

	rows, err = r.DB.QueryContext(ctx, `SELECT period_idx,skill,total_hours,allocated_hours FROM capacity_cells WHERE portfolio_id=? ORDER BY period_idx, skill`, portfolioID)
	if err != nil {
		return grid, err
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.CapacityCell
		if err := rows.Scan(&c.PeriodIndex, &c.Skill, &c.TotalHours, &c.AllocatedHours); err != nil {
			return grid, err
		}
		c.AvailableHours = c.TotalHours - c.AllocatedHours
		grid.Cells = append(grid.Cells, c)
	}
	return grid, rows.Err()
}
