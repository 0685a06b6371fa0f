package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/telemetry"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("planline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	if _, err := e.InitPortfolio(context.Background(), cfg.Portfolio.ID, "", "tester"); err != nil {
		t.Fatalf("init portfolio: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			AllowLegacyActorHeader: true,
			EnableDevLogin:         true,
		},
		Metrics: telemetry.NewMetrics(),
		Log:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func actor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %T: %v (%s)", out, err, string(data))
	}
	return out
}

func seedPlan(t *testing.T, srv *testServer) {
	t.Helper()
	client := srv.Client()
	base := srv.URL + "/v0/portfolios/planline"
	res, body := doJSON(t, client, http.MethodPut, base+"/capacity", map[string]any{
		"periods": []map[string]any{
			{"index": 0, "period_id": "2024-W01"},
			{"index": 1, "period_id": "2024-W02"},
			{"index": 2, "period_id": "2024-W03"},
		},
		"cells": []map[string]any{
			{"period_index": 0, "skill": "backend", "total_hours": 100},
			{"period_index": 1, "skill": "backend", "total_hours": 100},
			{"period_index": 2, "skill": "backend", "total_hours": 100},
		},
	}, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put capacity status %d: %s", res.StatusCode, string(body))
	}
	for _, it := range []map[string]any{
		{"id": "A", "title": "API", "priority": 1, "skill_demand": map[string]float64{"backend": 100}},
		{"id": "B", "title": "Billing", "priority": 2, "skill_demand": map[string]float64{"backend": 100}, "depends_on": []string{"A"}},
	} {
		res, body := doJSON(t, client, http.MethodPost, base+"/items", it, actor("alice"))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create item %v status %d: %s", it["id"], res.StatusCode, string(body))
		}
	}
}

func TestHealthIsOpenAndAPIRequiresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/portfolios", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(body))
	}
	env := decode[apiError](t, body)
	if env.Body.Code != "unauthorized" {
		t.Fatalf("unexpected error code %q", env.Body.Code)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/portfolios", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(body))
	}
}

func TestDevLoginTokenAuthenticates(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "bob"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(body))
	}
	login := decode[DevLoginResponse](t, body)
	if login.Token == "" {
		t.Fatalf("expected token")
	}
	auth := map[string]string{"Authorization": "Bearer " + login.Token}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/portfolios/planline/items", map[string]any{
		"title":        "Signed",
		"skill_demand": map[string]float64{"design": 10},
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create item status %d: %s", res.StatusCode, string(body))
	}
	item := decode[ItemResponse](t, body)
	if item.Status != domain.StatusBacklog || item.Priority != 100 {
		t.Fatalf("unexpected item defaults: %+v", item)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/portfolios/planline/events?entity_kind=item", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(body))
	}
	evts := decode[[]EventResponse](t, body)
	if len(evts) != 1 || evts[0].ActorID != "bob" {
		t.Fatalf("expected one item event by bob, got %+v", evts)
	}
}

func TestProjectionEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	seedPlan(t, srv)
	base := srv.URL + "/v0/portfolios/planline"

	res, body := doJSON(t, client, http.MethodPost, base+"/projections/full", nil, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("full projection status %d: %s", res.StatusCode, string(body))
	}
	full := decode[domain.ScenarioRecord](t, body)
	if full.Kind != domain.ScenarioKindFull {
		t.Fatalf("unexpected kind %q", full.Kind)
	}
	b, ok := full.Scenario.Item("B")
	if !ok || b.StartPeriod == nil || *b.StartPeriod != 1 {
		t.Fatalf("expected B at period 1, got %+v", b)
	}
	if full.Scenario.Summary.TotalAllocatedHours != 200 {
		t.Fatalf("expected 200 allocated hours, got %v", full.Scenario.Summary.TotalAllocatedHours)
	}

	res, body = doJSON(t, client, http.MethodPost, base+"/projections/what-if", map[string]any{
		"changes": []map[string]any{
			{"kind": "unlink", "from_item_id": "A", "to_item_id": "B"},
			{"kind": "reprioritize", "item_id": "B", "priority": 0},
		},
	}, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("what-if status %d: %s", res.StatusCode, string(body))
	}
	whatIf := decode[domain.ScenarioRecord](t, body)
	b, _ = whatIf.Scenario.Item("B")
	a, _ := whatIf.Scenario.Item("A")
	if b.StartPeriod == nil || *b.StartPeriod != 0 || a.StartPeriod == nil || *a.StartPeriod != 1 {
		t.Fatalf("expected B before A after what-if, got A=%+v B=%+v", a, b)
	}

	res, body = doJSON(t, client, http.MethodGet, base+"/dependencies", nil, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dependencies status %d: %s", res.StatusCode, string(body))
	}
	if graph := decode[GraphResponse](t, body); len(graph.Edges) != 1 {
		t.Fatalf("what-if must not persist changes, got edges %+v", graph.Edges)
	}

	res, body = doJSON(t, client, http.MethodGet, base+"/scenarios?kind=what_if", nil, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list scenarios status %d: %s", res.StatusCode, string(body))
	}
	list := decode[ScenarioListResponse](t, body)
	if len(list.Items) != 1 || list.Items[0].ID != whatIf.ID {
		t.Fatalf("unexpected scenario list %+v", list.Items)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/scenarios/"+full.ID, nil, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get scenario status %d: %s", res.StatusCode, string(body))
	}
	if got := decode[domain.ScenarioRecord](t, body); got.ID != full.ID || len(got.Scenario.ProjectedItems) != 2 {
		t.Fatalf("unexpected stored scenario %+v", got)
	}
}

func TestProjectChangeReportsViolations(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	seedPlan(t, srv)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/portfolios/planline/projections/change", map[string]any{
		"change": map[string]any{"kind": "link", "from_item_id": "B", "to_item_id": "A"},
	}, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("change projection status %d: %s", res.StatusCode, string(body))
	}
	rec := decode[domain.ScenarioRecord](t, body)
	found := false
	for _, v := range rec.Scenario.StructuralViolations {
		if v.Kind == domain.ViolationDependencyCycle {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected cycle violation, got %+v", rec.Scenario.StructuralViolations)
	}
	if rec.Scenario.Summary.ScheduledItems != 0 {
		t.Fatalf("cycle members must stay unscheduled, got %+v", rec.Scenario.Summary)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	seedPlan(t, srv)
	base := srv.URL + "/v0/portfolios/planline"

	cases := []struct {
		name   string
		method string
		url    string
		body   any
		status int
		code   string
	}{
		{"unknown portfolio", http.MethodGet, srv.URL + "/v0/portfolios/nope", nil, http.StatusNotFound, "not_found"},
		{"unknown item", http.MethodGet, base + "/items/zzz", nil, http.StatusNotFound, "not_found"},
		{"self dependency", http.MethodPost, base + "/dependencies", map[string]any{"from_item_id": "A", "to_item_id": "A"}, http.StatusBadRequest, "bad_request"},
		{"dependency on unknown item", http.MethodPost, base + "/dependencies", map[string]any{"from_item_id": "A", "to_item_id": "zzz"}, http.StatusNotFound, "not_found"},
		{"duplicate item", http.MethodPost, base + "/items", map[string]any{"id": "A", "title": "again"}, http.StatusConflict, "conflict"},
		{"malformed change", http.MethodPost, base + "/projections/change", map[string]any{"change": map[string]any{"kind": "schedule", "item_id": "A"}}, http.StatusBadRequest, "bad_request"},
		{"bad capacity", http.MethodPut, base + "/capacity", map[string]any{
			"periods": []map[string]any{{"index": 1, "period_id": "p1"}},
			"cells":   []map[string]any{},
		}, http.StatusBadRequest, "bad_request"},
		{"unknown scenario", http.MethodGet, srv.URL + "/v0/scenarios/missing", nil, http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, body := doJSON(t, client, tc.method, tc.url, tc.body, actor("alice"))
			if res.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, res.StatusCode, string(body))
			}
			env := decode[apiError](t, body)
			if env.Body.Code != tc.code {
				t.Fatalf("expected code %q, got %q (%s)", tc.code, env.Body.Code, string(body))
			}
		})
	}
}

func TestItemLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	seedPlan(t, srv)
	base := srv.URL + "/v0/portfolios/planline"

	res, body := doJSON(t, client, http.MethodPatch, base+"/items/B", map[string]any{"scheduled_start": 2, "duration_periods": 1}, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch item status %d: %s", res.StatusCode, string(body))
	}
	item := decode[ItemResponse](t, body)
	if item.Status != domain.StatusScheduled || item.ScheduledStart == nil || *item.ScheduledStart != 2 {
		t.Fatalf("unexpected scheduled item %+v", item)
	}

	res, body = doJSON(t, client, http.MethodGet, base+"/items?status=scheduled", nil, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list items status %d: %s", res.StatusCode, string(body))
	}
	if items := decode[[]ItemResponse](t, body); len(items) != 1 || items[0].ID != "B" {
		t.Fatalf("expected only B scheduled, got %+v", items)
	}

	res, body = doJSON(t, client, http.MethodDelete, base+"/items/A", nil, actor("alice"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete item status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, base+"/dependencies", nil, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dependencies status %d: %s", res.StatusCode, string(body))
	}
	if graph := decode[GraphResponse](t, body); len(graph.Edges) != 0 {
		t.Fatalf("expected edges removed with item, got %+v", graph.Edges)
	}
}

func TestMetricsAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d: %s", res.StatusCode, string(body))
	}
	if !strings.Contains(string(body), "planline_http_requests_total") {
		t.Fatalf("metrics missing request counter")
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("openapi not json: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v0/portfolios/{portfolio_id}/projections/what-if"]; !ok {
		t.Fatalf("openapi missing what-if path")
	}
}
