package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"planline/internal/domain"
)

func (r Repo) InsertScenario(ctx context.Context, tx *sql.Tx, rec domain.ScenarioRecord) error {
	var changes any
	if len(rec.Changes) > 0 {
		data, err := json.Marshal(rec.Changes)
		if err != nil {
			return fmt.Errorf("marshal changes: %w", err)
		}
		changes = string(data)
	}
	data, err := json.Marshal(rec.Scenario)
	if err != nil {
		return fmt.Errorf("marshal scenario: %w", err)
	}
	_, err = r.exec(tx).ExecContext(ctx, `INSERT INTO scenarios(id,portfolio_id,kind,changes_json,scenario_json,actor_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		rec.ID, rec.PortfolioID, rec.Kind, changes, string(data), rec.ActorID, rec.CreatedAt)
	return err
}

const scenarioColumns = `id,portfolio_id,kind,changes_json,scenario_json,actor_id,created_at`

func scanScenario(scan func(dest ...any) error) (domain.ScenarioRecord, error) {
	var (
		rec      domain.ScenarioRecord
		changes  sql.NullString
		scenario string
	)
	if err := scan(&rec.ID, &rec.PortfolioID, &rec.Kind, &changes, &scenario, &rec.ActorID, &rec.CreatedAt); err != nil {
		return rec, err
	}
	if changes.Valid && changes.String != "" {
		if err := json.Unmarshal([]byte(changes.String), &rec.Changes); err != nil {
			return rec, fmt.Errorf("decode scenario %s changes: %w", rec.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(scenario), &rec.Scenario); err != nil {
		return rec, fmt.Errorf("decode scenario %s: %w", rec.ID, err)
	}
	return rec, nil
}

func (r Repo) GetScenario(ctx context.Context, id string) (domain.ScenarioRecord, error) {
	rec, err := scanScenario(r.DB.QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	return rec, err
}

// ListScenarios returns stored scenarios newest first. Kind filters when set.
func (r Repo) ListScenarios(ctx context.Context, portfolioID, kind string, limit int) ([]domain.ScenarioRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + scenarioColumns + ` FROM scenarios WHERE portfolio_id=?`
	args := []any{portfolioID}
	if kind != "" {
		query += ` AND kind=?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScenarioRecord
	for rows.Next() {
		rec, err := scanScenario(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
