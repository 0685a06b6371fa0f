package repo

import (
	"context"
	"database/sql"
	"sort"

	"planline/internal/domain"
)

// ItemRecord is a work item plus its owning portfolio and timestamps.
type ItemRecord struct {
	domain.WorkItem
	PortfolioID string `json:"portfolio_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

func (r Repo) InsertItem(ctx context.Context, tx *sql.Tx, rec ItemRecord) error {
	_, err := r.exec(tx).ExecContext(ctx, `INSERT INTO work_items(id,portfolio_id,title,status,priority,scheduled_start,duration_periods,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.PortfolioID, rec.Title, rec.Status, rec.Priority, nullableInt(rec.ScheduledStart), nullableInt(rec.DurationPeriods), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return err
	}
	return r.replaceDemand(ctx, tx, rec.ID, rec.SkillDemand)
}

func (r Repo) UpdateItem(ctx context.Context, tx *sql.Tx, rec ItemRecord) error {
	res, err := r.exec(tx).ExecContext(ctx, `UPDATE work_items SET title=?, status=?, priority=?, scheduled_start=?, duration_periods=?, updated_at=? WHERE id=?`,
		rec.Title, rec.Status, rec.Priority, nullableInt(rec.ScheduledStart), nullableInt(rec.DurationPeriods), rec.UpdatedAt, rec.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return r.replaceDemand(ctx, tx, rec.ID, rec.SkillDemand)
}

func (r Repo) replaceDemand(ctx context.Context, tx *sql.Tx, itemID string, demand map[string]float64) error {
	ex := r.exec(tx)
	if _, err := ex.ExecContext(ctx, `DELETE FROM item_skill_demand WHERE item_id=?`, itemID); err != nil {
		return err
	}
	skills := make([]string, 0, len(demand))
	for skill := range demand {
		skills = append(skills, skill)
	}
	sort.Strings(skills)
	for _, skill := range skills {
		if _, err := ex.ExecContext(ctx, `INSERT INTO item_skill_demand(item_id,skill,hours) VALUES (?,?,?)`, itemID, skill, demand[skill]); err != nil {
			return err
		}
	}
	return nil
}

// DeleteItem removes the item; demand rows and edges cascade.
func (r Repo) DeleteItem(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(tx).ExecContext(ctx, `DELETE FROM work_items WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const itemColumns = `id,portfolio_id,title,status,priority,scheduled_start,duration_periods,created_at,updated_at`

func scanItem(scan func(dest ...any) error) (ItemRecord, error) {
	var (
		rec      ItemRecord
		start    sql.NullInt64
		duration sql.NullInt64
	)
	if err := scan(&rec.ID, &rec.PortfolioID, &rec.Title, &rec.Status, &rec.Priority, &start, &duration, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return rec, err
	}
	if start.Valid {
		rec.ScheduledStart = domain.IntPtr(int(start.Int64))
	}
	if duration.Valid {
		rec.DurationPeriods = domain.IntPtr(int(duration.Int64))
	}
	return rec, nil
}

func (r Repo) GetItem(ctx context.Context, tx *sql.Tx, id string) (ItemRecord, error) {
	q := r.query(tx)
	rec, err := scanItem(q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	demand, err := r.demand(ctx, q, `SELECT item_id,skill,hours FROM item_skill_demand WHERE item_id=?`, id)
	if err != nil {
		return rec, err
	}
	rec.SkillDemand = demand[id]
	deps, err := r.predecessors(ctx, q, `SELECT from_item_id,to_item_id FROM item_dependencies WHERE to_item_id=? ORDER BY from_item_id`, id)
	if err != nil {
		return rec, err
	}
	rec.Dependencies = deps[id]
	return rec, nil
}

// ListItems returns the portfolio's items in creation order with demand and
// dependencies filled in.
func (r Repo) ListItems(ctx context.Context, portfolioID string) ([]ItemRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE portfolio_id=? ORDER BY created_at, id`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ItemRecord
	for rows.Next() {
		rec, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	demand, err := r.demand(ctx, r.DB, `SELECT d.item_id,d.skill,d.hours FROM item_skill_demand d JOIN work_items w ON w.id=d.item_id WHERE w.portfolio_id=?`, portfolioID)
	if err != nil {
		return nil, err
	}
	deps, err := r.predecessors(ctx, r.DB, `SELECT from_item_id,to_item_id FROM item_dependencies WHERE portfolio_id=? ORDER BY from_item_id`, portfolioID)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].SkillDemand = demand[res[i].ID]
		res[i].Dependencies = deps[res[i].ID]
	}
	return res, nil
}

func (r Repo) demand(ctx context.Context, q querier, query string, arg any) (map[string]map[string]float64, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]map[string]float64{}
	for rows.Next() {
		var (
			itemID, skill string
			hours         float64
		)
		if err := rows.Scan(&itemID, &skill, &hours); err != nil {
			return nil, err
		}
		if out[itemID] == nil {
			out[itemID] = map[string]float64{}
		}
		out[itemID][skill] = hours
	}
	return out, rows.Err()
}

func (r Repo) predecessors(ctx context.Context, q querier, query string, arg any) (map[string][]string, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		out[to] = append(out[to], from)
	}
	return out, rows.Err()
}

func (r Repo) InsertDependency(ctx context.Context, tx *sql.Tx, portfolioID string, edge domain.DependencyEdge) error {
	_, err := r.exec(tx).ExecContext(ctx, `INSERT OR IGNORE INTO item_dependencies(portfolio_id,from_item_id,to_item_id) VALUES (?,?,?)`,
		portfolioID, edge.FromItemID, edge.ToItemID)
	return err
}

func (r Repo) DeleteDependency(ctx context.Context, tx *sql.Tx, edge domain.DependencyEdge) error {
	res, err := r.exec(tx).ExecContext(ctx, `DELETE FROM item_dependencies WHERE from_item_id=? AND to_item_id=?`, edge.FromItemID, edge.ToItemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Graph returns the portfolio's orchestration graph ordered by (from, to).
func (r Repo) Graph(ctx context.Context, portfolioID string) (domain.OrchestrationGraph, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT from_item_id,to_item_id FROM item_dependencies WHERE portfolio_id=? ORDER BY from_item_id, to_item_id`, portfolioID)
	if err != nil {
		return domain.OrchestrationGraph{}, err
	}
	defer rows.Close()
	g := domain.OrchestrationGraph{Edges: []domain.DependencyEdge{}}
	for rows.Next() {
		var e domain.DependencyEdge
		if err := rows.Scan(&e.FromItemID, &e.ToItemID); err != nil {
			return g, err
		}
		g.Edges = append(g.Edges, e)
	}
	return g, rows.Err()
}
