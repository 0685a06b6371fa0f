package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
)

// Inputs is everything a projection reads from storage.
type Inputs struct {
	Items []domain.WorkItem
	Grid  domain.CapacityGrid
	Graph domain.OrchestrationGraph
}

// LoadInputs reads the portfolio's items, capacity and graph.
func (e Engine) LoadInputs(ctx context.Context, portfolioID string) (Inputs, error) {
	if _, err := e.Repo.GetPortfolio(ctx, portfolioID); err != nil {
		return Inputs{}, err
	}
	records, err := e.Repo.ListItems(ctx, portfolioID)
	if err != nil {
		return Inputs{}, fmt.Errorf("load items: %w", err)
	}
	grid, err := e.Repo.Grid(ctx, portfolioID)
	if err != nil {
		return Inputs{}, fmt.Errorf("load capacity: %w", err)
	}
	graph, err := e.Repo.Graph(ctx, portfolioID)
	if err != nil {
		return Inputs{}, fmt.Errorf("load graph: %w", err)
	}
	in := Inputs{Items: make([]domain.WorkItem, 0, len(records)), Grid: grid, Graph: graph}
	for _, rec := range records {
		in.Items = append(in.Items, rec.WorkItem)
	}
	if err := grid.Validate(); err != nil {
		return in, fmt.Errorf("stored capacity grid: %w", err)
	}
	return in, nil
}

func (e Engine) ProjectFullSchedule(ctx context.Context, portfolioID, actorID string) (domain.ScenarioRecord, error) {
	return e.project(ctx, portfolioID, domain.ScenarioKindFull, nil, actorID)
}

func (e Engine) ProjectChange(ctx context.Context, portfolioID string, change domain.ProposedChange, actorID string) (domain.ScenarioRecord, error) {
	return e.project(ctx, portfolioID, domain.ScenarioKindChange, []domain.ProposedChange{change}, actorID)
}

func (e Engine) WhatIf(ctx context.Context, portfolioID string, changes []domain.ProposedChange, actorID string) (domain.ScenarioRecord, error) {
	return e.project(ctx, portfolioID, domain.ScenarioKindWhatIf, changes, actorID)
}

// CheckChanges validates change payloads before they reach the projector.
func (e Engine) CheckChanges(changes []domain.ProposedChange) error {
	cfg, err := e.config()
	if err != nil {
		return err
	}
	for i, c := range changes {
		if err := c.Validate(); err != nil {
			return invalid("change %d: %v", i, err)
		}
		if c.Kind == domain.ChangeAdd {
			item := c.Item.Clone()
			if item.Status == "" {
				item.Status = domain.StatusBacklog
			}
			if err := e.checkItem(cfg, item); err != nil {
				return fmt.Errorf("change %d: %w", i, err)
			}
		}
	}
	return nil
}

func (e Engine) project(ctx context.Context, portfolioID, kind string, changes []domain.ProposedChange, actorID string) (domain.ScenarioRecord, error) {
	cfg, err := e.config()
	if err != nil {
		return domain.ScenarioRecord{}, err
	}
	if err := e.CheckChanges(changes); err != nil {
		return domain.ScenarioRecord{}, err
	}
	in, err := e.LoadInputs(ctx, portfolioID)
	if err != nil {
		return domain.ScenarioRecord{}, err
	}

	started := time.Now()
	var scenario domain.Scenario
	switch kind {
	case domain.ScenarioKindFull:
		scenario = e.Projector.ProjectFullSchedule(in.Items, in.Grid, in.Graph)
	case domain.ScenarioKindChange:
		scenario = e.Projector.ProjectChange(in.Items, in.Grid, in.Graph, changes[0])
	default:
		scenario = e.Projector.WhatIf(in.Items, in.Grid, in.Graph, changes)
	}
	took := time.Since(started)
	e.Metrics.RecordProjection(portfolioID, kind, scenario, took)

	rec := domain.ScenarioRecord{
		ID:          uuid.NewString(),
		PortfolioID: portfolioID,
		Kind:        kind,
		Changes:     changes,
		Scenario:    scenario,
		ActorID:     actorID,
		CreatedAt:   e.timestamp(),
	}
	e.Log.Info().
		Str("portfolio", portfolioID).
		Str("kind", kind).
		Str("scenario", rec.ID).
		Int("changes", len(changes)).
		Int("items", scenario.Summary.TotalItems).
		Int("scheduled", scenario.Summary.ScheduledItems).
		Int("violations", len(scenario.StructuralViolations)).
		Float64("allocated_hours", scenario.Summary.TotalAllocatedHours).
		Dur("took", took).
		Msg("projection computed")

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	if cfg.Projection.StoreScenarios {
		if err := e.Repo.InsertScenario(ctx, tx, rec); err != nil {
			return rec, fmt.Errorf("store scenario: %w", err)
		}
	}
	if err := e.Events.Append(ctx, tx, events.ScenarioProjected, portfolioID, "scenario", rec.ID, actorID, events.EventPayload{
		"kind":       kind,
		"changes":    len(changes),
		"scheduled":  scenario.Summary.ScheduledItems,
		"violations": len(scenario.StructuralViolations),
		"stored":     cfg.Projection.StoreScenarios,
	}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return rec, nil
}

func (e Engine) GetScenario(ctx context.Context, id string) (domain.ScenarioRecord, error) {
	return e.Repo.GetScenario(ctx, id)
}

func (e Engine) ListScenarios(ctx context.Context, portfolioID, kind string, limit int) ([]domain.ScenarioRecord, error) {
	if _, err := e.Repo.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	return e.Repo.ListScenarios(ctx, portfolioID, kind, limit)
}

// Items lists the portfolio's items with demand and dependencies.
func (e Engine) Items(ctx context.Context, portfolioID string) ([]repo.ItemRecord, error) {
	if _, err := e.Repo.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	return e.Repo.ListItems(ctx, portfolioID)
}
