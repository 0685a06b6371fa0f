package planlinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWhatIfSendsChangesWithBearer(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody struct {
		Changes []Change `json:"changes"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		start := 0
		json.NewEncoder(w).Encode(ScenarioRecord{
			ID:   "sc-1",
			Kind: "what_if",
			Scenario: Scenario{
				ProjectedItems: []ProjectedItem{{ItemID: "B", Status: "scheduled", StartPeriod: &start}},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "core")
	c.BearerToken = "tok"
	prio := 0
	rec, err := c.WhatIf(context.Background(), []Change{
		{Kind: "unlink", FromItemID: "A", ToItemID: "B"},
		{Kind: "reprioritize", ItemID: "B", Priority: &prio},
	})
	if err != nil {
		t.Fatalf("what-if: %v", err)
	}
	if gotPath != "/v0/portfolios/core/projections/what-if" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if len(gotBody.Changes) != 2 || gotBody.Changes[1].Priority == nil || *gotBody.Changes[1].Priority != 0 {
		t.Fatalf("unexpected changes sent: %+v", gotBody.Changes)
	}
	if rec.ID != "sc-1" || len(rec.Scenario.ProjectedItems) != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestGetScenarioReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/scenarios/missing" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("X-Actor-Id") != "alice" {
			t.Errorf("expected actor header")
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"not_found","message":"not found"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "core")
	c.ActorID = "alice"
	_, err := c.GetScenario(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
}
