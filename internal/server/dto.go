package server

import (
	"sort"

	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/repo"
)

// Request payloads

type CreatePortfolioRequest struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

type UpdatePortfolioRequest struct {
	Status      string  `json:"status,omitempty" enum:"active,paused,archived"`
	Description *string `json:"description,omitempty"`
}

type CreateItemRequest struct {
	ID              *string            `json:"id,omitempty"`
	Title           string             `json:"title"`
	SkillDemand     map[string]float64 `json:"skill_demand,omitempty"`
	Priority        *int               `json:"priority,omitempty"`
	ScheduledStart  *int               `json:"scheduled_start,omitempty" minimum:"0"`
	DurationPeriods *int               `json:"duration_periods,omitempty" minimum:"1"`
	DependsOn       []string           `json:"depends_on,omitempty"`
}

type UpdateItemRequest struct {
	Title           *string            `json:"title,omitempty"`
	Priority        *int               `json:"priority,omitempty"`
	SkillDemand     map[string]float64 `json:"skill_demand,omitempty"`
	Status          *string            `json:"status,omitempty" enum:"backlog,scheduled"`
	ScheduledStart  *int               `json:"scheduled_start,omitempty" minimum:"0"`
	DurationPeriods *int               `json:"duration_periods,omitempty" minimum:"1"`
	Unschedule      bool               `json:"unschedule,omitempty"`
}

type DependencyRequest struct {
	FromItemID string `json:"from_item_id"`
	ToItemID   string `json:"to_item_id"`
}

type CapacityRequest struct {
	Periods []domain.Period       `json:"periods"`
	Cells   []domain.CapacityCell `json:"cells"`
}

type ProjectChangeRequest struct {
	Change domain.ProposedChange `json:"change"`
}

type WhatIfRequest struct {
	Changes []domain.ProposedChange `json:"changes"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Responses

type PortfolioResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type PortfolioConfigResponse struct {
	PortfolioID     string   `json:"portfolio_id"`
	Skills          []string `json:"skills"`
	DefaultPriority int      `json:"default_priority"`
	MaxPeriods      int      `json:"max_periods"`
	StoreScenarios  bool     `json:"store_scenarios"`
	StrictSkills    bool     `json:"strict_skills"`
}

type ItemResponse struct {
	ID              string             `json:"id"`
	PortfolioID     string             `json:"portfolio_id"`
	Title           string             `json:"title"`
	Status          string             `json:"status"`
	Priority        int                `json:"priority"`
	SkillDemand     map[string]float64 `json:"skill_demand"`
	Dependencies    []string           `json:"dependencies"`
	ScheduledStart  *int               `json:"scheduled_start,omitempty"`
	DurationPeriods *int               `json:"duration_periods,omitempty"`
	CreatedAt       string             `json:"created_at" format:"date-time"`
	UpdatedAt       string             `json:"updated_at" format:"date-time"`
}

type GraphResponse struct {
	Edges []domain.DependencyEdge `json:"edges"`
}

type ScenarioListResponse struct {
	Items []domain.ScenarioRecord `json:"items"`
}

type EventResponse struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	PortfolioID string `json:"portfolio_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func portfolioResponse(p domain.Portfolio) PortfolioResponse {
	return PortfolioResponse{
		ID:          p.ID,
		Status:      p.Status,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

func configResponse(cfg *config.Config) PortfolioConfigResponse {
	skills := make([]string, 0, len(cfg.Skills.Catalog))
	for skill := range cfg.Skills.Catalog {
		skills = append(skills, skill)
	}
	sort.Strings(skills)
	return PortfolioConfigResponse{
		PortfolioID:     cfg.Portfolio.ID,
		Skills:          skills,
		DefaultPriority: cfg.Planning.DefaultPriority,
		MaxPeriods:      cfg.Planning.MaxPeriods,
		StoreScenarios:  cfg.Projection.StoreScenarios,
		StrictSkills:    cfg.Projection.StrictSkills,
	}
}

func itemResponse(rec repo.ItemRecord) ItemResponse {
	resp := ItemResponse{
		ID:              rec.ID,
		PortfolioID:     rec.PortfolioID,
		Title:           rec.Title,
		Status:          rec.Status,
		Priority:        rec.Priority,
		SkillDemand:     rec.SkillDemand,
		Dependencies:    nonNilSlice(rec.Dependencies),
		ScheduledStart:  rec.ScheduledStart,
		DurationPeriods: rec.DurationPeriods,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	if resp.SkillDemand == nil {
		resp.SkillDemand = map[string]float64{}
	}
	return resp
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:          e.ID,
		TS:          e.TS,
		Type:        e.Type,
		PortfolioID: e.PortfolioID,
		EntityKind:  e.EntityKind,
		EntityID:    e.EntityID,
		ActorID:     e.ActorID,
		Payload:     e.Payload,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
