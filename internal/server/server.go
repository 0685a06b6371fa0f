package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/repo"
	"planline/internal/telemetry"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Metrics  *telemetry.Metrics
	Log      zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"portfolio not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Planline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	e := cfg.Engine
	if e.Metrics == nil {
		e.Metrics = cfg.Metrics
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(cfg.Log, cfg.Metrics))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Log))
	hcfg := huma.DefaultConfig("Planline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	router.Handle("/metrics", cfg.Metrics.Handler())
	registerHealth(group)
	registerPortfolios(group, e)
	registerItems(group, e)
	registerDependencies(group, e)
	registerCapacity(group, e)
	registerProjections(group, e)
	registerScenarios(group, e)
	registerEvents(group, e)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// requestLogger logs each request and feeds the HTTP metrics.
func requestLogger(log zerolog.Logger, m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			took := time.Since(started)
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordRequest(r.Method, route, status, took)
			evt := log.Debug()
			if status >= http.StatusInternalServerError {
				evt = log.Error()
			}
			evt.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("took", took).
				Msg("request")
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrInvalidInput) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unique constraint"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var doc []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if doc == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Planline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// bind resolves the portfolio and returns the engine bound to its config.
func bind(ctx context.Context, e engine.Engine, portfolioID string) (engine.Engine, huma.StatusError) {
	bound, err := e.ForPortfolio(ctx, portfolioID)
	if err != nil {
		return e, handleError(err)
	}
	return bound, nil
}

func registerPortfolios(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-portfolio",
		Method:        http.MethodPost,
		Path:          "/portfolios",
		Summary:       "Create portfolio",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreatePortfolioRequest `json:"body"`
	}) (*struct {
		Body PortfolioResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(input.Body.ID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		p, err := e.InitPortfolio(ctx, input.Body.ID, desc, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PortfolioResponse `json:"body"`
		}{Body: portfolioResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-portfolios",
		Method:      http.MethodGet,
		Path:        "/portfolios",
		Summary:     "List portfolios",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PortfolioResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListPortfolios(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]PortfolioResponse, 0, len(items))
		for _, p := range items {
			out = append(out, portfolioResponse(p))
		}
		return &struct {
			Body []PortfolioResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-portfolio",
		Method:      http.MethodGet,
		Path:        "/portfolios/{portfolio_id}",
		Summary:     "Get portfolio",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PortfolioID string `path:"portfolio_id"`
	}) (*struct {
		Body PortfolioResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetPortfolio(ctx, input.PortfolioID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PortfolioResponse `json:"body"`
		}{Body: portfolioResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-portfolio",
		Method:      http.MethodPatch,
		Path:        "/portfolios/{portfolio_id}",
		Summary:     "Update portfolio",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PortfolioID string                 `path:"portfolio_id"`
		Body        UpdatePortfolioRequest `json:"body"`
	}) (*struct {
		Body PortfolioResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.UpdatePortfolio(ctx, input.PortfolioID, input.Body.Status, input.Body.Description); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetPortfolio(ctx, input.PortfolioID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PortfolioResponse `json:"body"`
		}{Body: portfolioResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-portfolio-config",
		Method:      http.MethodGet,
		Path:        "/portfolios/{portfolio_id}/config",
		Summary:     "Get portfolio config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PortfolioID string `path:"portfolio_id"`
	}) (*struct {
		Body PortfolioConfigResponse `json:"body"`
	}, error) {
		bound, herr := bind(ctx, e, input.PortfolioID)
		if herr != nil {
			return nil, herr
		}
		return &struct {
			Body PortfolioConfigResponse `json:"body"`
		}{Body: configResponse(bound.Config)}, nil
	})
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-item",
		Method:        http.MethodPost,
		Path:          "/portfolios/{portfolio_id}/items",
		Summary:       "Create work item",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		PortfolioID string            `path:"portfolio_id"`
		Body        CreateItemRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bound, herr := bind(ctx, e, input.PortfolioID)
		if herr != nil {
			return nil, herr
		}
		opts := engine.ItemCreateOptions{
			PortfolioID:     input.PortfolioID,
			Title:           input.Body.Title,
			SkillDemand:     input.Body.SkillDemand,
			Priority:        input.Body.Priority,
			ScheduledStart:  input.Body.ScheduledStart,
			DurationPeriods: input.Body.DurationPeriods,
			DependsOn:       input.Body.DependsOn,
			ActorID:         actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		rec, err := bound.CreateItem(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/portfolios/{portfolio_id}/items",
		Summary:     "List work items",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PortfolioID string `path:"portfolio_id"`
		Status      string `query:"status" enum:"backlog,scheduled"`
	}) (*struct {
		Body []ItemResponse `json:"body"`
	}, error) {
		records, err := e.Items(ctx, input.PortfolioID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ItemResponse, 0, len(records))
		for _, rec := range records {
			if input.Status != "" && rec.Status != input.Status {
				continue
			}
			out = append(out, itemResponse(rec))
		}
		return &struct {
			Body []ItemResponse `json:"body"`
		}{Body: out}, nil
	})

	type itemPath struct {
		PortfolioID string `path:"portfolio_id"`
		ItemID      string `path:"item_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/portfolios/{portfolio_id}/items/{item_id}",
		Summary:     "Get work item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		rec, herr := itemInPortfolio(ctx, e, input.PortfolioID, input.ItemID)
		if herr != nil {
			return nil, herr
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-item",
		Method:      http.MethodPatch,
		Path:        "/portfolios/{portfolio_id}/items/{item_id}",
		Summary:     "Update work item",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		PortfolioID string            `path:"portfolio_id"`
		ItemID      string            `path:"item_id"`
		Body        UpdateItemRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, herr := itemInPortfolio(ctx, e, input.PortfolioID, input.ItemID); herr != nil {
			return nil, herr
		}
		bound, herr := bind(ctx, e, input.PortfolioID)
		if herr != nil {
			return nil, herr
		}
		rec, err := bound.UpdateItem(ctx, engine.ItemUpdateOptions{
			ID:              input.ItemID,
			Title:           input.Body.Title,
			Priority:        input.Body.Priority,
			SkillDemand:     input.Body.SkillDemand,
			Status:          input.Body.Status,
			ScheduledStart:  input.Body.ScheduledStart,
			DurationPeriods: input.Body.DurationPeriods,
			Unschedule:      input.Body.Unschedule,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-item",
		Method:        http.MethodDelete,
		Path:          "/portfolios/{portfolio_id}/items/{item_id}",
		Summary:       "Delete work item and its dependencies",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, herr := itemInPortfolio(ctx, e, input.PortfolioID, input.ItemID); herr != nil {
			return nil, herr
		}
		if err := e.DeleteItem(ctx, input.ItemID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func itemInPortfolio(ctx context.Context, e engine.Engine, portfolioID, itemID string) (repo.ItemRecord, huma.StatusError) {
	rec, err := e.Repo.GetItem(ctx, nil, itemID)
	if err != nil {
		return rec, handleError(err)
	}
	if rec.PortfolioID != portfolioID {
		return rec, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("item %s not in portfolio %s", itemID, portfolioID), nil)
	}
	return rec, nil
}

func registerDependencies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-dependencies",
		Method:      http.MethodGet,
		Path:        "/portfolios/{portfolio_id}/dependencies",
		Summary:     "List dependency edges",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PortfolioID string `path:"portfolio_id"`
	}) (*struct {
		Body GraphResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetPortfolio(ctx, input.PortfolioID); err != nil {
			return nil, handleError(err)
		}
		g, err := e.Repo.Graph(ctx, input.PortfolioID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GraphResponse `json:"body"`
		}{Body: GraphResponse{Edges: nonNilSlice(g.Edges)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-dependency",
		Method:        http.MethodPost,
		Path:          "/portfolios/{portfolio_id}/dependencies",
		Summary:       "Add dependency edge",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		PortfolioID string            `path:"portfolio_id"`
		Body        DependencyRequest `json:"body"`
	}) (*struct {
		Body domain.DependencyEdge `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		edge := domain.DependencyEdge{FromItemID: input.Body.FromItemID, ToItemID: input.Body.ToItemID}
		if err := e.AddDependency(ctx, input.PortfolioID, edge, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DependencyEdge `json:"body"`
		}{Body: edge}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-dependency",
		Method:        http.MethodDelete,
		Path:          "/portfolios/{portfolio_id}/dependencies/{from_item_id}/{to_item_id}",
		Summary:       "Remove dependency edge",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PortfolioID string `path:"portfolio_id"`
		FromItemID  string `path:"from_item_id"`
		ToItemID    string `path:"to_item_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		edge := domain.DependencyEdge{FromItemID: input.FromItemID, ToItemID: input.ToItemID}
		if err := e.RemoveDependency(ctx, input.PortfolioID, edge, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerCapacity(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-capacity",
		Method:      http.MethodGet,
		Path:        "/portfolios/{portfolio_id}/capacity",
		Summary:     "Get capacity grid",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PortfolioID string `path:"portfolio_id"`
	}) (*struct {
		Body domain.CapacityGrid `json:"body"`
	}, error) {
		if _, err := e.Repo.GetPortfolio(ctx, input.PortfolioID); err != nil {
			return nil, handleError(err)
		}
		grid, err := e.Repo.Grid(ctx, input.PortfolioID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CapacityGrid `json:"body"`
		}{Body: grid}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-capacity",
		Method:      http.MethodPut,
		Path:        "/portfolios/{portfolio_id}/capacity",
		Summary:     "Replace capacity grid",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		PortfolioID string          `path:"portfolio_id"`
		Body        CapacityRequest `json:"body"`
	}) (*struct {
		Body domain.CapacityGrid `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bound, herr := bind(ctx, e, input.PortfolioID)
		if herr != nil {
			return nil, herr
		}
		grid, err := bound.SetCapacity(ctx, input.PortfolioID, domain.CapacityGrid{Periods: input.Body.Periods, Cells: input.Body.Cells}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CapacityGrid `json:"body"`
		}{Body: grid}, nil
	})
}

func registerProjections(api huma.API, e engine.Engine) {
	errs := []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusNotFound,
	}

	huma.Register(api, huma.Operation{
		OperationID: "project-full-schedule",
		Method:      http.MethodPost,
		Path:        "/portfolios/{portfolio_id}/projections/full",
		Summary:     "Project the full schedule from current state",
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		PortfolioID string `path:"portfolio_id"`
	}) (*struct {
		Body domain.ScenarioRecord `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bound, herr := bind(ctx, e, input.PortfolioID)
		if herr != nil {
			return nil, herr
		}
		rec, err := bound.ProjectFullSchedule(ctx, input.PortfolioID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScenarioRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-change",
		Method:      http.MethodPost,
		Path:        "/portfolios/{portfolio_id}/projections/change",
		Summary:     "Project a single proposed change",
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		PortfolioID string               `path:"portfolio_id"`
		Body        ProjectChangeRequest `json:"body"`
	}) (*struct {
		Body domain.ScenarioRecord `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bound, herr := bind(ctx, e, input.PortfolioID)
		if herr != nil {
			return nil, herr
		}
		rec, err := bound.ProjectChange(ctx, input.PortfolioID, input.Body.Change, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScenarioRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-what-if",
		Method:      http.MethodPost,
		Path:        "/portfolios/{portfolio_id}/projections/what-if",
		Summary:     "Project a sequence of hypothetical changes",
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		PortfolioID string        `path:"portfolio_id"`
		Body        WhatIfRequest `json:"body"`
	}) (*struct {
		Body domain.ScenarioRecord `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bound, herr := bind(ctx, e, input.PortfolioID)
		if herr != nil {
			return nil, herr
		}
		rec, err := bound.WhatIf(ctx, input.PortfolioID, input.Body.Changes, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScenarioRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerScenarios(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-scenarios",
		Method:      http.MethodGet,
		Path:        "/portfolios/{portfolio_id}/scenarios",
		Summary:     "List stored scenarios",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PortfolioID string `path:"portfolio_id"`
		Kind        string `query:"kind" enum:"full,change,what_if"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body ScenarioListResponse `json:"body"`
	}, error) {
		items, err := e.ListScenarios(ctx, input.PortfolioID, input.Kind, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScenarioListResponse `json:"body"`
		}{Body: ScenarioListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-scenario",
		Method:      http.MethodGet,
		Path:        "/scenarios/{scenario_id}",
		Summary:     "Get stored scenario",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ScenarioID string `path:"scenario_id"`
	}) (*struct {
		Body domain.ScenarioRecord `json:"body"`
	}, error) {
		rec, err := e.GetScenario(ctx, input.ScenarioID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScenarioRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/portfolios/{portfolio_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PortfolioID string `path:"portfolio_id"`
		Type        string `query:"type"`
		EntityKind  string `query:"entity_kind" enum:"portfolio,item,capacity,scenario"`
		EntityID    string `query:"entity_id"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetPortfolio(ctx, input.PortfolioID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.PortfolioID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	if !authCfg.EnableDevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, input.Body.Roles, authCfg.TokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
