package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/projection"
	"planline/internal/repo"
	"planline/internal/telemetry"
)

// ErrInvalidInput marks caller mistakes: malformed items, grids or changes.
var ErrInvalidInput = errors.New("invalid input")

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Now       func() time.Time
	Projector projection.Projector
	Metrics   *telemetry.Metrics
	Log       zerolog.Logger
	Validate  *validator.Validate
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{Now: time.Now},
		Config:    cfg,
		Now:       time.Now,
		Projector: projection.New(),
		Log:       zerolog.Nop(),
		Validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) validate(v any) error {
	validate := e.Validate
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	if err := validate.Struct(v); err != nil {
		return invalid("%v", err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func (e Engine) config() (*config.Config, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	return e.Config, nil
}

// ForPortfolio returns a copy of e bound to the portfolio's stored config.
func (e Engine) ForPortfolio(ctx context.Context, portfolioID string) (Engine, error) {
	if _, err := e.Repo.GetPortfolio(ctx, portfolioID); err != nil {
		return e, err
	}
	cfg, err := e.Repo.GetPortfolioConfig(ctx, portfolioID)
	if err != nil {
		return e, fmt.Errorf("portfolio %s config: %w", portfolioID, err)
	}
	e.Config = cfg
	e.Log = e.Log.With().Str("portfolio", portfolioID).Logger()
	return e, nil
}

// InitPortfolio creates a portfolio with the engine's config (or defaults).
func (e Engine) InitPortfolio(ctx context.Context, portfolioID, description, actorID string) (domain.Portfolio, error) {
	if strings.TrimSpace(portfolioID) == "" {
		return domain.Portfolio{}, invalid("portfolio id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Portfolio{}, err
	}
	defer tx.Rollback()

	p := domain.Portfolio{
		ID:          portfolioID,
		Status:      "active",
		Description: description,
		CreatedAt:   e.timestamp(),
	}
	if err := e.Repo.InsertPortfolio(ctx, tx, p); err != nil {
		return domain.Portfolio{}, fmt.Errorf("insert portfolio: %w", err)
	}
	cfg := config.Default(portfolioID)
	if e.Config != nil {
		copied := *e.Config
		cfg = &copied
	}
	if err := e.Repo.UpsertPortfolioConfig(ctx, tx, p.ID, cfg); err != nil {
		return domain.Portfolio{}, fmt.Errorf("insert portfolio config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.PortfolioCreated, p.ID, "portfolio", p.ID, actorID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Portfolio{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Portfolio{}, err
	}
	e.Log.Info().Str("portfolio", p.ID).Msg("portfolio created")
	return p, nil
}

// ItemCreateOptions are parameters for creating a work item.
type ItemCreateOptions struct {
	ID              string
	PortfolioID     string
	Title           string
	SkillDemand     map[string]float64
	Priority        *int
	Status          string
	ScheduledStart  *int
	DurationPeriods *int
	DependsOn       []string
	ActorID         string
}

func (e Engine) CreateItem(ctx context.Context, opts ItemCreateOptions) (repo.ItemRecord, error) {
	cfg, err := e.config()
	if err != nil {
		return repo.ItemRecord{}, err
	}
	if opts.PortfolioID == "" {
		return repo.ItemRecord{}, invalid("portfolio is required")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return repo.ItemRecord{}, invalid("title is required")
	}
	if _, err := e.Repo.GetPortfolio(ctx, opts.PortfolioID); err != nil {
		return repo.ItemRecord{}, err
	}
	now := e.timestamp()
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.PortfolioID+"|"+opts.Title+"|"+now)).String()
	}
	priority := cfg.Planning.DefaultPriority
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	status := opts.Status
	if status == "" {
		status = domain.StatusBacklog
		if opts.ScheduledStart != nil {
			status = domain.StatusScheduled
		}
	}
	rec := repo.ItemRecord{
		WorkItem: domain.WorkItem{
			ID:              id,
			Title:           opts.Title,
			Status:          status,
			SkillDemand:     opts.SkillDemand,
			Priority:        priority,
			ScheduledStart:  opts.ScheduledStart,
			DurationPeriods: opts.DurationPeriods,
		},
		PortfolioID: opts.PortfolioID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.checkItem(cfg, rec.WorkItem); err != nil {
		return repo.ItemRecord{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return repo.ItemRecord{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertItem(ctx, tx, rec); err != nil {
		return repo.ItemRecord{}, fmt.Errorf("insert item: %w", err)
	}
	for _, dep := range opts.DependsOn {
		if err := e.addDependencyTx(ctx, tx, opts.PortfolioID, domain.DependencyEdge{FromItemID: dep, ToItemID: id}, opts.ActorID); err != nil {
			return repo.ItemRecord{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.ItemCreated, opts.PortfolioID, "item", id, opts.ActorID, events.EventPayload{
		"title":    rec.Title,
		"status":   rec.Status,
		"priority": rec.Priority,
		"demand":   rec.SkillDemand,
	}); err != nil {
		return repo.ItemRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return repo.ItemRecord{}, err
	}
	return e.Repo.GetItem(ctx, nil, id)
}

// checkItem applies struct validation plus the rules that span fields.
func (e Engine) checkItem(cfg *config.Config, it domain.WorkItem) error {
	if err := e.validate(it); err != nil {
		return err
	}
	if it.Status == domain.StatusScheduled && it.ScheduledStart == nil {
		return invalid("item %s is scheduled without scheduled_start", it.ID)
	}
	for skill := range it.SkillDemand {
		if !cfg.KnownSkill(skill) {
			return invalid("skill %q is not in the skills catalog", skill)
		}
	}
	return nil
}

// ItemUpdateOptions patches an item; nil fields are left unchanged.
type ItemUpdateOptions struct {
	ID              string
	Title           *string
	Priority        *int
	SkillDemand     map[string]float64
	Status          *string
	ScheduledStart  *int
	DurationPeriods *int
	Unschedule      bool
	ActorID         string
}

func (e Engine) UpdateItem(ctx context.Context, opts ItemUpdateOptions) (repo.ItemRecord, error) {
	cfg, err := e.config()
	if err != nil {
		return repo.ItemRecord{}, err
	}
	rec, err := e.Repo.GetItem(ctx, nil, opts.ID)
	if err != nil {
		return rec, err
	}
	changed := map[string]any{}
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return rec, invalid("title must not be empty")
		}
		rec.Title = *opts.Title
		changed["title"] = rec.Title
	}
	if opts.Priority != nil {
		rec.Priority = *opts.Priority
		changed["priority"] = rec.Priority
	}
	if opts.SkillDemand != nil {
		rec.SkillDemand = opts.SkillDemand
		changed["demand"] = rec.SkillDemand
	}
	if opts.ScheduledStart != nil {
		rec.ScheduledStart = opts.ScheduledStart
		rec.Status = domain.StatusScheduled
		changed["scheduled_start"] = *rec.ScheduledStart
	}
	if opts.DurationPeriods != nil {
		rec.DurationPeriods = opts.DurationPeriods
		changed["duration_periods"] = *rec.DurationPeriods
	}
	if opts.Status != nil {
		rec.Status = *opts.Status
	}
	if opts.Unschedule || rec.Status == domain.StatusBacklog {
		rec.Status = domain.StatusBacklog
		rec.ScheduledStart = nil
		rec.DurationPeriods = nil
	}
	changed["status"] = rec.Status
	if err := e.checkItem(cfg, rec.WorkItem); err != nil {
		return rec, err
	}
	rec.UpdatedAt = e.timestamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateItem(ctx, tx, rec); err != nil {
		return rec, fmt.Errorf("update item: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ItemUpdated, rec.PortfolioID, "item", rec.ID, opts.ActorID, events.EventPayload(changed)); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return e.Repo.GetItem(ctx, nil, rec.ID)
}

// DeleteItem removes an item together with every edge touching it.
func (e Engine) DeleteItem(ctx context.Context, itemID, actorID string) error {
	rec, err := e.Repo.GetItem(ctx, nil, itemID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteItem(ctx, tx, itemID); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ItemDeleted, rec.PortfolioID, "item", itemID, actorID, events.EventPayload{"title": rec.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

// AddDependency records that from must finish before to starts. Cycles are
// accepted here and reported by projections.
func (e Engine) AddDependency(ctx context.Context, portfolioID string, edge domain.DependencyEdge, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.addDependencyTx(ctx, tx, portfolioID, edge, actorID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) addDependencyTx(ctx context.Context, tx *sql.Tx, portfolioID string, edge domain.DependencyEdge, actorID string) error {
	if err := e.validate(edge); err != nil {
		return err
	}
	if edge.FromItemID == edge.ToItemID {
		return invalid("item %s cannot depend on itself", edge.FromItemID)
	}
	for _, id := range []string{edge.FromItemID, edge.ToItemID} {
		it, err := e.Repo.GetItem(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("item %s: %w", id, err)
			}
			return err
		}
		if it.PortfolioID != portfolioID {
			return invalid("item %s is not in portfolio %s", id, portfolioID)
		}
	}
	if err := e.Repo.InsertDependency(ctx, tx, portfolioID, edge); err != nil {
		return fmt.Errorf("insert dependency: %w", err)
	}
	return e.Events.Append(ctx, tx, events.DependencyAdded, portfolioID, "item", edge.ToItemID, actorID, events.EventPayload{
		"from_item_id": edge.FromItemID,
		"to_item_id":   edge.ToItemID,
	})
}

func (e Engine) RemoveDependency(ctx context.Context, portfolioID string, edge domain.DependencyEdge, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteDependency(ctx, tx, edge); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.DependencyRemoved, portfolioID, "item", edge.ToItemID, actorID, events.EventPayload{
		"from_item_id": edge.FromItemID,
		"to_item_id":   edge.ToItemID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// SetCapacity replaces the portfolio's capacity grid.
func (e Engine) SetCapacity(ctx context.Context, portfolioID string, grid domain.CapacityGrid, actorID string) (domain.CapacityGrid, error) {
	cfg, err := e.config()
	if err != nil {
		return grid, err
	}
	if _, err := e.Repo.GetPortfolio(ctx, portfolioID); err != nil {
		return grid, err
	}
	if len(grid.Periods) > cfg.Planning.MaxPeriods {
		return grid, invalid("grid has %d periods; max_periods is %d", len(grid.Periods), cfg.Planning.MaxPeriods)
	}
	for _, p := range grid.Periods {
		if err := e.validate(p); err != nil {
			return grid, err
		}
	}
	for _, c := range grid.Cells {
		if err := e.validate(c); err != nil {
			return grid, err
		}
	}
	if err := grid.Validate(); err != nil {
		return grid, invalid("%v", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return grid, err
	}
	defer tx.Rollback()
	if err := e.Repo.ReplaceCapacity(ctx, tx, portfolioID, grid); err != nil {
		return grid, fmt.Errorf("replace capacity: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.CapacityReplaced, portfolioID, "capacity", portfolioID, actorID, events.EventPayload{
		"periods": len(grid.Periods),
		"cells":   len(grid.Cells),
	}); err != nil {
		return grid, err
	}
	if err := tx.Commit(); err != nil {
		return grid, err
	}
	return e.Repo.Grid(ctx, portfolioID)
}
