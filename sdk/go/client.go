package planlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Planline HTTP API client.
type Client struct {
	BaseURL     string
	PortfolioID string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, portfolioID string) *Client {
	return &Client{
		BaseURL:     baseURL,
		PortfolioID: portfolioID,
		Timeout:     10 * time.Second,
	}
}

// Change is a proposed change (partial). Only the fields of Kind are sent.
type Change struct {
	Kind            string    `json:"kind"`
	Item            *WorkItem `json:"item,omitempty"`
	ItemID          string    `json:"item_id,omitempty"`
	StartPeriod     *int      `json:"start_period,omitempty"`
	DurationPeriods *int      `json:"duration_periods,omitempty"`
	Priority        *int      `json:"priority,omitempty"`
	FromItemID      string    `json:"from_item_id,omitempty"`
	ToItemID        string    `json:"to_item_id,omitempty"`
}

// WorkItem is the item payload of an add change.
type WorkItem struct {
	ID          string             `json:"id"`
	Title       string             `json:"title,omitempty"`
	Priority    int                `json:"priority"`
	SkillDemand map[string]float64 `json:"skill_demand,omitempty"`
}

// ProjectedItem is one item's place in a scenario.
type ProjectedItem struct {
	ItemID                string `json:"item_id"`
	Title                 string `json:"title"`
	Status                string `json:"status"`
	StartPeriod           *int   `json:"start_period,omitempty"`
	DurationPeriods       *int   `json:"duration_periods,omitempty"`
	DependenciesSatisfied bool   `json:"dependencies_satisfied"`
}

// Violation is a structural finding.
type Violation struct {
	Kind    string   `json:"kind"`
	ItemIDs []string `json:"item_ids"`
	Message string   `json:"message"`
}

// CapacityGap is per-skill demand beyond supply.
type CapacityGap struct {
	Skill    string  `json:"skill"`
	Demand   float64 `json:"demand"`
	Capacity float64 `json:"capacity"`
	Gap      float64 `json:"gap"`
}

// Scenario represents a projection result (partial; the grid is omitted).
type Scenario struct {
	ProjectedItems       []ProjectedItem `json:"projected_items"`
	CapacityGaps         []CapacityGap   `json:"capacity_gaps"`
	StructuralViolations []Violation     `json:"structural_violations"`
	Summary              Summary         `json:"summary"`
}

// Summary holds scenario counts.
type Summary struct {
	TotalItems          int     `json:"total_items"`
	ScheduledItems      int     `json:"scheduled_items"`
	UnscheduledItems    int     `json:"unscheduled_items"`
	TotalAllocatedHours float64 `json:"total_allocated_hours"`
}

// ScenarioRecord is a stored scenario.
type ScenarioRecord struct {
	ID          string   `json:"id"`
	PortfolioID string   `json:"portfolio_id"`
	Kind        string   `json:"kind"`
	Changes     []Change `json:"changes,omitempty"`
	Scenario    Scenario `json:"scenario"`
	CreatedAt   string   `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ProjectFull projects the portfolio's full schedule.
func (c *Client) ProjectFull(ctx context.Context) (ScenarioRecord, error) {
	var resp ScenarioRecord
	err := c.do(ctx, http.MethodPost, c.portfolioPath("projections/full"), nil, &resp)
	return resp, err
}

// ProjectChange projects a single change.
func (c *Client) ProjectChange(ctx context.Context, change Change) (ScenarioRecord, error) {
	var resp ScenarioRecord
	err := c.do(ctx, http.MethodPost, c.portfolioPath("projections/change"), map[string]any{"change": change}, &resp)
	return resp, err
}

// WhatIf projects a sequence of changes.
func (c *Client) WhatIf(ctx context.Context, changes []Change) (ScenarioRecord, error) {
	if changes == nil {
		changes = []Change{}
	}
	var resp ScenarioRecord
	err := c.do(ctx, http.MethodPost, c.portfolioPath("projections/what-if"), map[string]any{"changes": changes}, &resp)
	return resp, err
}

// GetScenario fetches a stored scenario by id.
func (c *Client) GetScenario(ctx context.Context, id string) (ScenarioRecord, error) {
	var resp ScenarioRecord
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/scenarios/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) portfolioPath(p string) string {
	portfolio := url.PathEscape(c.PortfolioID)
	return fmt.Sprintf("v0/portfolios/%s/%s", portfolio, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
