package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
)

// ResolvePortfolioAndConfig picks the active portfolio and ensures it and its
// config exist in the DB, seeding defaults if missing. It prefers the
// override, then a single-portfolio DB. A missing portfolio is created.
func ResolvePortfolioAndConfig(ctx context.Context, workspace, portfolioOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	portfolioID := portfolioOverride
	if portfolioID == "" {
		if p, err := r.SinglePortfolio(ctx); err == nil {
			portfolioID = p.ID
		} else {
			return "", nil, fmt.Errorf("portfolio not specified; use --portfolio")
		}
	}
	seedCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	if seedCfg == nil {
		seedCfg = config.Default(portfolioID)
	}

	if _, err := r.GetPortfolio(ctx, portfolioID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createPortfolio(ctx, r, portfolioID, seedCfg, actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetPortfolioConfig(ctx, portfolioID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := r.UpsertPortfolioConfig(ctx, nil, portfolioID, seedCfg); err != nil {
			return "", nil, fmt.Errorf("seed portfolio config: %w", err)
		}
		cfg = seedCfg
	}
	cfg.Portfolio.ID = portfolioID
	return portfolioID, cfg, nil
}

func createPortfolio(ctx context.Context, r repo.Repo, portfolioID string, seedCfg *config.Config, actorID string) error {
	if actorID == "" {
		actorID = "local-user"
	}
	now := time.Now().UTC()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p := domain.Portfolio{ID: portfolioID, Status: "active", CreatedAt: now.Format(time.RFC3339)}
	if err := r.InsertPortfolio(ctx, tx, p); err != nil {
		return fmt.Errorf("insert portfolio: %w", err)
	}
	if err := r.UpsertPortfolioConfig(ctx, tx, portfolioID, seedCfg); err != nil {
		return fmt.Errorf("insert portfolio config: %w", err)
	}
	w := events.Writer{Now: func() time.Time { return now }}
	if err := w.Append(ctx, tx, events.PortfolioCreated, portfolioID, "portfolio", portfolioID, actorID, events.EventPayload{"status": p.Status, "seeded": true}); err != nil {
		return err
	}
	return tx.Commit()
}
